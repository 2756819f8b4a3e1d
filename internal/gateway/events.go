package gateway

import (
	"encoding/json"
	"time"

	"triviarena/internal/game"
	"triviarena/internal/rooms"
	"triviarena/internal/trivia"
)

// Event is the closed set of server-originated messages. Each kind carries
// its own payload type, so a handler switching on the concrete type covers
// the whole protocol.
type Event interface {
	EventType() string
}

// PlayerView is the wire form of a seated player.
type PlayerView struct {
	UserID         string `json:"userId"`
	Name           string `json:"name"`
	IsHost         bool   `json:"isHost"`
	Status         string `json:"status"`
	Score          int    `json:"score"`
	CorrectAnswers int    `json:"correctAnswers"`
}

// RoomView is the wire form of a room. Questions are deliberately absent:
// they carry correct-answer indexes and go out only through the question
// events, sanitized.
type RoomView struct {
	ID                   string       `json:"id"`
	HostID               string       `json:"hostId"`
	Status               string       `json:"status"`
	QuestionState        string       `json:"questionState"`
	Config               rooms.Config `json:"config"`
	Players              []PlayerView `json:"players"`
	CurrentQuestionIndex int          `json:"currentQuestionIndex"`
	TotalQuestions       int          `json:"totalQuestions"`
	CreatedAt            time.Time    `json:"createdAt"`
}

func NewRoomView(r *rooms.Room) RoomView {
	players := make([]PlayerView, len(r.Players))
	for i, p := range r.Players {
		players[i] = PlayerView{
			UserID:         p.UserID,
			Name:           p.Name,
			IsHost:         p.IsHost,
			Status:         string(p.Status),
			Score:          p.Score,
			CorrectAnswers: p.CorrectAnswers,
		}
	}
	return RoomView{
		ID:                   r.ID,
		HostID:               r.HostID,
		Status:               string(r.Status),
		QuestionState:        string(r.QuestionState),
		Config:               r.Config,
		Players:              players,
		CurrentQuestionIndex: r.CurrentQuestionIndex,
		TotalQuestions:       len(r.Questions),
		CreatedAt:            r.CreatedAt,
	}
}

type RoomCreatedEvent struct {
	Room RoomView `json:"room"`
}

func (RoomCreatedEvent) EventType() string { return "room-created" }

type RoomJoinedEvent struct {
	Room  RoomView   `json:"room"`
	State game.State `json:"state"`
}

func (RoomJoinedEvent) EventType() string { return "room-joined" }

type PlayerJoinedEvent struct {
	RoomID string     `json:"roomId"`
	Player PlayerView `json:"player"`
}

func (PlayerJoinedEvent) EventType() string { return "player-joined" }

type PlayerLeftEvent struct {
	RoomID    string `json:"roomId"`
	UserID    string `json:"userId"`
	NewHostID string `json:"newHostId,omitempty"`
}

func (PlayerLeftEvent) EventType() string { return "player-left" }

type GameStartedEvent struct {
	Room RoomView `json:"room"`
}

func (GameStartedEvent) EventType() string { return "game-started" }

// QuestionStartedEvent carries the server-authoritative start and end
// timestamps so clients can render a countdown without trusting their own
// clocks.
type QuestionStartedEvent struct {
	RoomID         string                `json:"roomId"`
	QuestionIndex  int                   `json:"questionIndex"`
	TotalQuestions int                   `json:"totalQuestions"`
	Question       trivia.PublicQuestion `json:"question"`
	StartedAt      time.Time             `json:"startedAt"`
	EndsAt         time.Time             `json:"endsAt"`
}

func (QuestionStartedEvent) EventType() string { return "question-started" }

type AnswerReceivedEvent struct {
	RoomID        string `json:"roomId"`
	UserID        string `json:"userId"`
	AnsweredCount int    `json:"answeredCount"`
	ActiveCount   int    `json:"activeCount"`
}

func (AnswerReceivedEvent) EventType() string { return "answer-received" }

type LeaderboardUpdateEvent struct {
	RoomID      string                  `json:"roomId"`
	Leaderboard []game.LeaderboardEntry `json:"leaderboard"`
}

func (LeaderboardUpdateEvent) EventType() string { return "leaderboard-update" }

type QuestionEndedEvent struct {
	RoomID      string                  `json:"roomId"`
	Question    trivia.Question         `json:"question"`
	Results     []game.PlayerResult     `json:"results"`
	Leaderboard []game.LeaderboardEntry `json:"leaderboard"`
}

func (QuestionEndedEvent) EventType() string { return "question-ended" }

type GameEndedEvent struct {
	RoomID      string                  `json:"roomId"`
	Room        RoomView                `json:"room"`
	Leaderboard []game.LeaderboardEntry `json:"leaderboard"`
}

func (GameEndedEvent) EventType() string { return "game-ended" }

type ErrorEvent struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (ErrorEvent) EventType() string { return "error" }

type envelope struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// MarshalEvent wraps the event in the {type, data} wire envelope.
func MarshalEvent(ev Event) ([]byte, error) {
	return json.Marshal(envelope{Type: ev.EventType(), Data: ev})
}
