package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"triviarena/internal/auth"
	"triviarena/internal/game"
	"triviarena/internal/metrics"
	"triviarena/internal/rooms"
	"triviarena/internal/scheduler"
	"triviarena/internal/trivia"
)

// Config tunes the per-question loop.
type Config struct {
	PollInterval time.Duration
	QuestionGap  time.Duration
}

// Gateway is the WebSocket-facing coordinator. It is the only component
// that talks to live connections; room state always flows through the
// manager's versioned update path underneath.
type Gateway struct {
	rooms  *rooms.Manager
	games  *game.Engine
	sched  *scheduler.Scheduler
	source trivia.Source
	hub    *Hub
	auth   auth.Authenticator
	met    *metrics.Metrics
	log    *zap.Logger
	cfg    Config

	mu     sync.Mutex
	ending map[string]struct{}

	sleep func(time.Duration)
}

func New(mgr *rooms.Manager, engine *game.Engine, sched *scheduler.Scheduler, source trivia.Source, authn auth.Authenticator, met *metrics.Metrics, cfg Config, log *zap.Logger) *Gateway {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 1 * time.Second
	}
	if cfg.QuestionGap <= 0 {
		cfg.QuestionGap = 3 * time.Second
	}
	return &Gateway{
		rooms:  mgr,
		games:  engine,
		sched:  sched,
		source: source,
		hub:    NewHub(),
		auth:   authn,
		met:    met,
		log:    log,
		cfg:    cfg,
		ending: make(map[string]struct{}),
		sleep:  time.Sleep,
	}
}

// Shutdown cancels all question timers.
func (g *Gateway) Shutdown() {
	g.sched.Shutdown()
}

// HandleWS upgrades the connection, replays any rooms the user already
// belongs to, and runs the read loop until the socket closes.
func (g *Gateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	identity, err := g.auth.Authenticate(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		g.log.Warn("websocket accept failed", zap.Error(err))
		return
	}

	client := NewClient(identity.UserID, identity.Name, conn)
	g.met.ActiveConns.Inc()
	defer g.met.ActiveConns.Dec()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go client.WritePump(ctx)

	g.log.Info("client connected", zap.String("user", client.UserID))
	g.recoverSessions(ctx, client)
	g.readLoop(ctx, client)

	conn.Close(websocket.StatusNormalClosure, "")
	cancel()
	g.handleDisconnect(client)
	g.log.Info("client disconnected", zap.String("user", client.UserID))
}

// recoverSessions rejoins the connection to every live room the user is
// seated in and replays current state to just this connection, including a
// synthetic question-started event when a question is mid-flight.
func (g *Gateway) recoverSessions(ctx context.Context, client *Client) {
	for _, found := range g.rooms.FindRoomsByUser(ctx, client.UserID) {
		room, err := g.rooms.JoinRoom(ctx, found.ID, client.UserID)
		if err != nil {
			g.log.Warn("session recovery failed",
				zap.String("room", found.ID),
				zap.String("user", client.UserID),
				zap.Error(err))
			continue
		}
		g.hub.Join(room.ID, client)
		client.trackRoom(room.ID)

		g.sendTo(client, RoomJoinedEvent{Room: NewRoomView(room), State: g.games.GameState(room)})
		if room.QuestionState == rooms.QuestionActive {
			if q := room.CurrentQuestion(); q != nil {
				g.sendTo(client, g.questionStartedEvent(room, *q))
			}
		}
		g.log.Info("session recovered",
			zap.String("room", room.ID),
			zap.String("user", client.UserID))
	}
}

func (g *Gateway) readLoop(ctx context.Context, client *Client) {
	for {
		_, data, err := client.Conn.Read(ctx)
		if err != nil {
			return
		}
		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			g.sendTo(client, ErrorEvent{Code: "bad-message", Message: "malformed message"})
			continue
		}
		g.dispatch(ctx, client, msg)
	}
}

// dispatch routes one client message. Handler failures never escape: each
// becomes an error event scoped to the originating connection.
func (g *Gateway) dispatch(ctx context.Context, client *Client, msg clientMessage) {
	var err error
	switch msg.Type {
	case msgCreateRoom:
		var p createRoomPayload
		if err = json.Unmarshal(msg.Data, &p); err == nil {
			err = g.handleCreateRoom(ctx, client, p)
		}
	case msgJoinRoom:
		var p joinRoomPayload
		if err = json.Unmarshal(msg.Data, &p); err == nil {
			err = g.handleJoinRoom(ctx, client, p.RoomID)
		}
	case msgLeaveRoom:
		var p leaveRoomPayload
		if err = json.Unmarshal(msg.Data, &p); err == nil {
			err = g.handleLeaveRoom(ctx, client, p.RoomID)
		}
	case msgStartGame:
		var p startGamePayload
		if err = json.Unmarshal(msg.Data, &p); err == nil {
			err = g.handleStartGame(ctx, client, p.RoomID)
		}
	case msgSubmitAnswer:
		var p submitAnswerPayload
		if err = json.Unmarshal(msg.Data, &p); err == nil {
			err = g.handleSubmitAnswer(ctx, client, p)
		}
	default:
		err = fmt.Errorf("unknown message type %q", msg.Type)
	}
	if err != nil {
		g.log.Warn("handler error",
			zap.String("user", client.UserID),
			zap.String("message", msg.Type),
			zap.Error(err))
		g.sendError(client, err)
	}
}

func (g *Gateway) handleCreateRoom(ctx context.Context, client *Client, p createRoomPayload) error {
	cfg := rooms.Config{
		Topic:           p.Topic,
		Difficulty:      p.Difficulty,
		MaxPlayers:      p.MaxPlayers,
		QuestionCount:   p.QuestionCount,
		TimePerQuestion: p.TimePerQuestion,
		Mode:            p.Mode,
	}
	room, err := g.rooms.CreateRoom(ctx, client.UserID, cfg)
	if err != nil {
		return err
	}
	g.hub.Join(room.ID, client)
	client.trackRoom(room.ID)
	g.sendTo(client, RoomCreatedEvent{Room: NewRoomView(room)})
	return nil
}

// handleJoinRoom is order-sensitive: the joining connection gets the room
// snapshot before anyone else hears about the join, so the new player never
// sees their own join event referencing state they don't have yet.
func (g *Gateway) handleJoinRoom(ctx context.Context, client *Client, roomID string) error {
	room, err := g.rooms.JoinRoom(ctx, roomID, client.UserID)
	if err != nil {
		return err
	}
	g.hub.Join(room.ID, client)
	client.trackRoom(room.ID)

	g.sendTo(client, RoomJoinedEvent{Room: NewRoomView(room), State: g.games.GameState(room)})
	if room.QuestionState == rooms.QuestionActive {
		if q := room.CurrentQuestion(); q != nil {
			g.sendTo(client, g.questionStartedEvent(room, *q))
		}
	}

	if p := room.Player(client.UserID); p != nil {
		g.broadcastExcept(room.ID, client.UserID, PlayerJoinedEvent{
			RoomID: room.ID,
			Player: PlayerView{
				UserID:         p.UserID,
				Name:           p.Name,
				IsHost:         p.IsHost,
				Status:         string(p.Status),
				Score:          p.Score,
				CorrectAnswers: p.CorrectAnswers,
			},
		})
	}
	return nil
}

func (g *Gateway) handleLeaveRoom(ctx context.Context, client *Client, roomID string) error {
	g.hub.Leave(roomID, client)
	client.untrackRoom(roomID)
	return g.departRoom(ctx, roomID, client.UserID)
}

func (g *Gateway) handleStartGame(ctx context.Context, client *Client, roomID string) error {
	room, err := g.rooms.GetRoom(ctx, roomID)
	if err != nil {
		return err
	}
	// Cheap guard so a non-host cannot trigger question fetches; the
	// authoritative host and player-count checks run inside InitializeGame.
	if room.HostID != client.UserID {
		return game.ErrNotHost
	}

	count := room.Config.QuestionCount
	if count == 0 {
		count = trivia.MaxBatch
	}
	questions, err := g.source.Questions(ctx, room.Config.Topic, room.Config.Difficulty, count, client.UserID)
	if err != nil {
		return fmt.Errorf("fetching questions: %w", err)
	}

	room, err = g.games.InitializeGame(ctx, roomID, client.UserID, questions)
	if err != nil {
		return err
	}
	g.broadcast(roomID, GameStartedEvent{Room: NewRoomView(room)})
	g.log.Info("game started",
		zap.String("room", roomID),
		zap.Int("players", len(room.Players)),
		zap.Int("questions", len(room.Questions)))

	go g.runQuestion(roomID)
	return nil
}

func (g *Gateway) handleSubmitAnswer(ctx context.Context, client *Client, p submitAnswerPayload) error {
	res, err := g.games.SubmitAnswer(ctx, p.RoomID, client.UserID, p.QuestionID, p.AnswerIndex, p.TimeSpent)
	if err != nil {
		return err
	}

	answered := 0
	active := 0
	for _, pl := range res.Room.Players {
		if pl.Status == rooms.PlayerDisconnected || pl.Status == rooms.PlayerFinished {
			continue
		}
		active++
		if pl.Status == rooms.PlayerAnswered {
			answered++
		}
	}
	g.broadcast(p.RoomID, AnswerReceivedEvent{
		RoomID:        p.RoomID,
		UserID:        client.UserID,
		AnsweredCount: answered,
		ActiveCount:   active,
	})
	g.broadcast(p.RoomID, LeaderboardUpdateEvent{
		RoomID:      p.RoomID,
		Leaderboard: game.Leaderboard(res.Room),
	})
	return nil
}

// handleDisconnect runs after the socket closes: every room this connection
// was in sees the player leave. A room whose hub entry has already been
// taken over by a newer connection for the same user is skipped entirely;
// the player is still there, only this socket is dead.
func (g *Gateway) handleDisconnect(client *Client) {
	ctx := context.Background()
	for _, roomID := range client.Rooms() {
		if !g.hub.Leave(roomID, client) {
			continue
		}
		if err := g.departRoom(ctx, roomID, client.UserID); err != nil {
			g.log.Warn("disconnect cleanup failed",
				zap.String("room", roomID),
				zap.String("user", client.UserID),
				zap.Error(err))
		}
	}
}

// departRoom applies one player's departure to a room and notifies the
// remaining group. When nobody active remains in a running game, the game
// is cancelled and its timers stopped.
func (g *Gateway) departRoom(ctx context.Context, roomID, userID string) error {
	room, err := g.rooms.LeaveRoom(ctx, roomID, userID)
	if err != nil {
		if errors.Is(err, rooms.ErrRoomNotFound) || errors.Is(err, rooms.ErrPlayerNotFound) {
			return nil
		}
		return err
	}

	if room == nil {
		// Room was deleted: host abandoned it before start, or it emptied.
		g.sched.Cancel(roomID)
		g.broadcast(roomID, ErrorEvent{Code: "room-closed", Message: "the room was closed"})
		g.hub.DropRoom(roomID)
		return nil
	}

	if room.Status == rooms.StatusPlaying && len(room.ActivePlayers()) == 0 {
		g.sched.Cancel(roomID)
		if _, err := g.rooms.UpdateRoomStatus(ctx, roomID, rooms.StatusCancelled); err != nil {
			g.log.Error("cancelling abandoned game failed",
				zap.String("room", roomID), zap.Error(err))
		}
		g.broadcast(roomID, ErrorEvent{Code: "game-cancelled", Message: "all players disconnected"})
		g.hub.DropRoom(roomID)
		g.log.Info("game cancelled, all players disconnected", zap.String("room", roomID))
		return nil
	}

	g.broadcast(roomID, PlayerLeftEvent{
		RoomID:    roomID,
		UserID:    userID,
		NewHostID: room.HostID,
	})
	return nil
}

// runQuestion drives one question from start to its scheduled end.
func (g *Gateway) runQuestion(roomID string) {
	ctx := context.Background()
	if _, err := g.games.StartQuestion(ctx, roomID); err != nil {
		g.log.Error("starting question failed", zap.String("room", roomID), zap.Error(err))
		return
	}
	room, err := g.games.ActivateQuestion(ctx, roomID)
	if err != nil {
		g.log.Error("activating question failed", zap.String("room", roomID), zap.Error(err))
		return
	}
	q := room.CurrentQuestion()
	if q == nil {
		g.log.Error("no question under cursor", zap.String("room", roomID))
		return
	}

	g.broadcast(roomID, g.questionStartedEvent(room, *q))

	duration := time.Duration(room.Config.TimePerQuestion) * time.Second
	g.sched.Schedule(roomID, duration, g.cfg.PollInterval,
		func() bool {
			current, err := g.rooms.GetRoom(context.Background(), roomID)
			if err != nil {
				return false
			}
			return game.AllPlayersAnswered(current)
		},
		func(reason scheduler.EndReason) {
			g.finishQuestion(roomID, reason)
		})
}

func (g *Gateway) questionStartedEvent(room *rooms.Room, q trivia.Question) QuestionStartedEvent {
	startedAt := room.CurrentQuestionStartTime
	return QuestionStartedEvent{
		RoomID:         room.ID,
		QuestionIndex:  room.CurrentQuestionIndex,
		TotalQuestions: len(room.Questions),
		Question:       q.Public(),
		StartedAt:      startedAt,
		EndsAt:         startedAt.Add(time.Duration(room.Config.TimePerQuestion) * time.Second),
	}
}

// finishQuestion closes out the current question exactly once, even when
// the hard deadline and the all-answered poll race.
func (g *Gateway) finishQuestion(roomID string, reason scheduler.EndReason) {
	g.mu.Lock()
	if _, busy := g.ending[roomID]; busy {
		g.mu.Unlock()
		return
	}
	g.ending[roomID] = struct{}{}
	g.mu.Unlock()
	defer func() {
		g.mu.Lock()
		delete(g.ending, roomID)
		g.mu.Unlock()
	}()

	ctx := context.Background()
	if _, err := g.games.EndQuestion(ctx, roomID); err != nil {
		// Already past active: a racing path closed it first.
		g.log.Debug("question end skipped",
			zap.String("room", roomID),
			zap.String("reason", string(reason)),
			zap.Error(err))
		return
	}

	results, err := g.games.EndQuestionWithResults(ctx, roomID)
	if err != nil {
		g.log.Error("computing question results failed", zap.String("room", roomID), zap.Error(err))
		return
	}
	g.broadcast(roomID, QuestionEndedEvent{
		RoomID:      roomID,
		Question:    results.Question,
		Results:     results.Results,
		Leaderboard: results.Leaderboard,
	})

	if _, err := g.games.CompleteQuestion(ctx, roomID); err != nil {
		g.log.Error("completing question failed", zap.String("room", roomID), zap.Error(err))
		return
	}

	room, err := g.games.NextQuestion(ctx, roomID)
	if err != nil {
		g.log.Error("advancing question failed", zap.String("room", roomID), zap.Error(err))
		return
	}

	if room.Status == rooms.StatusFinished {
		g.broadcast(roomID, GameEndedEvent{
			RoomID:      roomID,
			Room:        NewRoomView(room),
			Leaderboard: game.Leaderboard(room),
		})
		g.log.Info("game finished", zap.String("room", roomID))
		return
	}

	g.sleep(g.cfg.QuestionGap)
	current, err := g.rooms.GetRoom(ctx, roomID)
	if err != nil || current.Status != rooms.StatusPlaying {
		return
	}
	g.runQuestion(roomID)
}

func (g *Gateway) broadcast(roomID string, ev Event) {
	data, err := MarshalEvent(ev)
	if err != nil {
		g.log.Error("encoding event failed", zap.String("type", ev.EventType()), zap.Error(err))
		return
	}
	g.hub.Broadcast(roomID, data)
	g.met.EventsBroadcast.WithLabelValues(ev.EventType()).Inc()
}

func (g *Gateway) broadcastExcept(roomID, exceptUserID string, ev Event) {
	data, err := MarshalEvent(ev)
	if err != nil {
		g.log.Error("encoding event failed", zap.String("type", ev.EventType()), zap.Error(err))
		return
	}
	g.hub.BroadcastExcept(roomID, exceptUserID, data)
	g.met.EventsBroadcast.WithLabelValues(ev.EventType()).Inc()
}

func (g *Gateway) sendTo(client *Client, ev Event) {
	data, err := MarshalEvent(ev)
	if err != nil {
		g.log.Error("encoding event failed", zap.String("type", ev.EventType()), zap.Error(err))
		return
	}
	select {
	case client.Send <- data:
	default:
	}
}

func (g *Gateway) sendError(client *Client, err error) {
	g.sendTo(client, ErrorEvent{Code: errorCode(err), Message: err.Error()})
}

// errorCode maps an error to the machine-readable code carried by the wire
// error event.
func errorCode(err error) string {
	switch {
	case errors.Is(err, rooms.ErrInvalidConfig):
		return "invalid-config"
	case errors.Is(err, rooms.ErrRoomNotFound):
		return "room-not-found"
	case errors.Is(err, rooms.ErrPlayerNotFound):
		return "player-not-in-room"
	case errors.Is(err, rooms.ErrRoomFull):
		return "room-full"
	case errors.Is(err, rooms.ErrGameInProgress):
		return "game-in-progress"
	case errors.Is(err, rooms.ErrVersionConflict):
		return "version-conflict"
	case errors.Is(err, game.ErrNoActiveQuestion):
		return "no-active-question"
	case errors.Is(err, game.ErrQuestionMismatch):
		return "question-mismatch"
	case errors.Is(err, game.ErrDeadlinePassed):
		return "deadline-passed"
	case errors.Is(err, game.ErrGameNotActive):
		return "game-not-active"
	case errors.Is(err, game.ErrGameNotWaiting):
		return "game-in-progress"
	case errors.Is(err, game.ErrInvalidTransition):
		return "invalid-state"
	case errors.Is(err, game.ErrNotHost):
		return "not-host"
	case errors.Is(err, game.ErrNeedPlayers):
		return "need-players"
	default:
		return "internal"
	}
}
