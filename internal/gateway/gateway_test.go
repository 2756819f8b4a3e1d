package gateway

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"triviarena/internal/auth"
	"triviarena/internal/game"
	"triviarena/internal/metrics"
	"triviarena/internal/rooms"
	"triviarena/internal/scheduler"
	"triviarena/internal/store"
	"triviarena/internal/trivia"
	"triviarena/internal/users"
)

func newTestGateway(t *testing.T) (*Gateway, *rooms.Manager, *game.Engine) {
	t.Helper()
	log := zap.NewNop()
	mgr := rooms.NewManager(store.NewMemory(), users.NewStatic(), rooms.ManagerConfig{}, metrics.NewNop(), log)
	engine := game.NewEngine(mgr, log)
	sched := scheduler.New(log)
	g := New(mgr, engine, sched, trivia.NewStaticBank(), auth.Guest{}, metrics.NewNop(),
		Config{PollInterval: 10 * time.Millisecond, QuestionGap: time.Millisecond}, log)
	g.sleep = func(time.Duration) {}
	t.Cleanup(g.Shutdown)
	return g, mgr, engine
}

func gameConfig(questions int) rooms.Config {
	return rooms.Config{
		Topic:           "general",
		Difficulty:      "medium",
		MaxPlayers:      4,
		QuestionCount:   questions,
		TimePerQuestion: 5,
	}
}

func TestHandleStartGame_HostOnly(t *testing.T) {
	g, mgr, _ := newTestGateway(t)
	ctx := context.Background()

	room, err := mgr.CreateRoom(ctx, "u1", gameConfig(1))
	require.NoError(t, err)
	_, err = mgr.JoinRoom(ctx, room.ID, "u2")
	require.NoError(t, err)

	err = g.handleStartGame(ctx, NewClient("u2", "B", nil), room.ID)
	assert.ErrorIs(t, err, game.ErrNotHost)
}

func TestHandleStartGame_NeedsTwoPlayers(t *testing.T) {
	g, mgr, _ := newTestGateway(t)
	ctx := context.Background()

	room, err := mgr.CreateRoom(ctx, "u1", gameConfig(1))
	require.NoError(t, err)

	err = g.handleStartGame(ctx, NewClient("u1", "A", nil), room.ID)
	assert.ErrorIs(t, err, game.ErrNeedPlayers)
}

func TestHandleDisconnect_StaleSocketKeepsReconnectedPlayer(t *testing.T) {
	g, mgr, _ := newTestGateway(t)
	ctx := context.Background()

	room, err := mgr.CreateRoom(ctx, "u1", gameConfig(1))
	require.NoError(t, err)
	_, err = mgr.JoinRoom(ctx, room.ID, "u2")
	require.NoError(t, err)
	_, err = mgr.UpdateRoomStatus(ctx, room.ID, rooms.StatusPlaying)
	require.NoError(t, err)

	// u2's first connection goes half-open; the server hasn't noticed yet
	old := NewClient("u2", "B", nil)
	g.hub.Join(room.ID, old)
	old.trackRoom(room.ID)

	// u2 reconnects and recovers the session, replacing the hub entry
	fresh := NewClient("u2", "B", nil)
	g.recoverSessions(ctx, fresh)
	require.Equal(t, []string{room.ID}, fresh.Rooms())

	// the old socket's read loop finally errors out
	g.handleDisconnect(old)

	after, err := mgr.GetRoom(ctx, room.ID)
	require.NoError(t, err)
	p := after.Player("u2")
	require.NotNil(t, p)
	assert.NotEqual(t, rooms.PlayerDisconnected, p.Status,
		"teardown of a replaced connection must not mark the live player disconnected")

	// the replacement connection still receives room traffic
	for len(fresh.Send) > 0 {
		<-fresh.Send
	}
	g.broadcast(room.ID, ErrorEvent{Code: "ping", Message: "ping"})
	assert.NotEmpty(t, fresh.Send)
}

func TestQuestionLoop_AllAnsweredFinishesGame(t *testing.T) {
	g, mgr, engine := newTestGateway(t)
	ctx := context.Background()

	room, err := mgr.CreateRoom(ctx, "u1", gameConfig(1))
	require.NoError(t, err)
	_, err = mgr.JoinRoom(ctx, room.ID, "u2")
	require.NoError(t, err)

	require.NoError(t, g.handleStartGame(ctx, NewClient("u1", "A", nil), room.ID))

	// wait for the question to open
	require.Eventually(t, func() bool {
		current, err := mgr.GetRoom(ctx, room.ID)
		return err == nil && current.QuestionState == rooms.QuestionActive
	}, 2*time.Second, 5*time.Millisecond)

	current, err := mgr.GetRoom(ctx, room.ID)
	require.NoError(t, err)
	q := current.CurrentQuestion()
	require.NotNil(t, q)

	_, err = engine.SubmitAnswer(ctx, room.ID, "u1", q.ID, q.CorrectIndex, 1.0)
	require.NoError(t, err)
	_, err = engine.SubmitAnswer(ctx, room.ID, "u2", q.ID, (q.CorrectIndex+1)%len(q.Options), 1.5)
	require.NoError(t, err)

	// the poll notices all answered well before the 5s deadline
	require.Eventually(t, func() bool {
		final, err := mgr.GetRoom(ctx, room.ID)
		return err == nil && final.Status == rooms.StatusFinished
	}, 2*time.Second, 5*time.Millisecond)

	final, err := mgr.GetRoom(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, rooms.QuestionIdle, final.QuestionState)
	require.NotNil(t, final.EndTime)
	board := game.Leaderboard(final)
	assert.Equal(t, "u1", board[0].UserID, "only correct answerer leads")
}

func TestQuestionLoop_AdvancesThroughMultipleQuestions(t *testing.T) {
	g, mgr, engine := newTestGateway(t)
	ctx := context.Background()

	room, err := mgr.CreateRoom(ctx, "u1", gameConfig(2))
	require.NoError(t, err)
	_, err = mgr.JoinRoom(ctx, room.ID, "u2")
	require.NoError(t, err)

	require.NoError(t, g.handleStartGame(ctx, NewClient("u1", "A", nil), room.ID))

	answerQuestion := func(index int) {
		require.Eventually(t, func() bool {
			current, err := mgr.GetRoom(ctx, room.ID)
			if err != nil || current.QuestionState != rooms.QuestionActive || current.CurrentQuestionIndex != index {
				return false
			}
			q := current.CurrentQuestion()
			if q == nil {
				return false
			}
			if _, err := engine.SubmitAnswer(ctx, room.ID, "u1", q.ID, q.CorrectIndex, 1.0); err != nil {
				return false
			}
			_, err = engine.SubmitAnswer(ctx, room.ID, "u2", q.ID, q.CorrectIndex, 1.2)
			return err == nil
		}, 2*time.Second, 5*time.Millisecond)
	}

	answerQuestion(0)
	answerQuestion(1)

	require.Eventually(t, func() bool {
		final, err := mgr.GetRoom(ctx, room.ID)
		return err == nil && final.Status == rooms.StatusFinished
	}, 2*time.Second, 5*time.Millisecond)

	final, err := mgr.GetRoom(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, final.Player("u1").CorrectAnswers)
}

func TestFinishQuestion_SecondCloserIsNoop(t *testing.T) {
	g, mgr, engine := newTestGateway(t)
	ctx := context.Background()

	room, err := mgr.CreateRoom(ctx, "u1", gameConfig(1))
	require.NoError(t, err)
	_, err = mgr.JoinRoom(ctx, room.ID, "u2")
	require.NoError(t, err)
	_, err = engine.InitializeGame(ctx, room.ID, "u1", []trivia.Question{
		{ID: "q1", Prompt: "one", Options: []string{"a", "b"}, CorrectIndex: 0},
	})
	require.NoError(t, err)
	_, err = engine.StartQuestion(ctx, room.ID)
	require.NoError(t, err)
	_, err = engine.ActivateQuestion(ctx, room.ID)
	require.NoError(t, err)

	g.finishQuestion(room.ID, scheduler.ReasonTimeout)
	after, err := mgr.GetRoom(ctx, room.ID)
	require.NoError(t, err)
	require.Equal(t, rooms.StatusFinished, after.Status)
	versionAfterFirst := after.Version

	// a racing second closer finds the question already past active
	g.finishQuestion(room.ID, scheduler.ReasonAllAnswered)
	again, err := mgr.GetRoom(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, rooms.StatusFinished, again.Status)
	assert.Equal(t, versionAfterFirst, again.Version)
}

func TestDepartRoom_NotifiesAndPromotes(t *testing.T) {
	g, mgr, _ := newTestGateway(t)
	ctx := context.Background()

	room, err := mgr.CreateRoom(ctx, "u1", gameConfig(1))
	require.NoError(t, err)
	_, err = mgr.JoinRoom(ctx, room.ID, "u2")
	require.NoError(t, err)
	_, err = mgr.UpdateRoomStatus(ctx, room.ID, rooms.StatusPlaying)
	require.NoError(t, err)

	watcher := NewClient("u2", "B", nil)
	g.hub.Join(room.ID, watcher)

	require.NoError(t, g.departRoom(ctx, room.ID, "u1"))

	after, err := mgr.GetRoom(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, "u2", after.HostID)

	data := <-watcher.Send
	assert.Contains(t, string(data), "player-left")
	assert.Contains(t, string(data), "u2")
}

func TestDepartRoom_LastPlayerCancelsGame(t *testing.T) {
	g, mgr, _ := newTestGateway(t)
	ctx := context.Background()

	room, err := mgr.CreateRoom(ctx, "u1", gameConfig(1))
	require.NoError(t, err)
	_, err = mgr.JoinRoom(ctx, room.ID, "u2")
	require.NoError(t, err)
	_, err = mgr.UpdateRoomStatus(ctx, room.ID, rooms.StatusPlaying)
	require.NoError(t, err)

	require.NoError(t, g.departRoom(ctx, room.ID, "u1"))
	require.NoError(t, g.departRoom(ctx, room.ID, "u2"))

	after, err := mgr.GetRoom(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, rooms.StatusCancelled, after.Status)
	require.NotNil(t, after.EndTime)
}

func TestDepartRoom_HostAbandonsWaitingRoom(t *testing.T) {
	g, mgr, _ := newTestGateway(t)
	ctx := context.Background()

	room, err := mgr.CreateRoom(ctx, "u1", gameConfig(1))
	require.NoError(t, err)
	_, err = mgr.JoinRoom(ctx, room.ID, "u2")
	require.NoError(t, err)

	require.NoError(t, g.departRoom(ctx, room.ID, "u1"))

	_, err = mgr.GetRoom(ctx, room.ID)
	assert.ErrorIs(t, err, rooms.ErrRoomNotFound)
	assert.Zero(t, g.hub.Members(room.ID))
}

func TestDepartRoom_UnknownRoomIsQuiet(t *testing.T) {
	g, _, _ := newTestGateway(t)
	assert.NoError(t, g.departRoom(context.Background(), "NOPE22", "u1"))
}

func TestErrorCode(t *testing.T) {
	cases := []struct {
		err  error
		code string
	}{
		{rooms.ErrInvalidConfig, "invalid-config"},
		{rooms.ErrRoomNotFound, "room-not-found"},
		{rooms.ErrPlayerNotFound, "player-not-in-room"},
		{rooms.ErrRoomFull, "room-full"},
		{rooms.ErrGameInProgress, "game-in-progress"},
		{rooms.ErrVersionConflict, "version-conflict"},
		{game.ErrNoActiveQuestion, "no-active-question"},
		{game.ErrQuestionMismatch, "question-mismatch"},
		{game.ErrDeadlinePassed, "deadline-passed"},
		{game.ErrGameNotActive, "game-not-active"},
		{game.ErrGameNotWaiting, "game-in-progress"},
		{game.ErrInvalidTransition, "invalid-state"},
		{game.ErrNotHost, "not-host"},
		{game.ErrNeedPlayers, "need-players"},
		{errors.New("mystery"), "internal"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.code, errorCode(tc.err), tc.err.Error())
	}
}
