package rooms

import (
	"time"

	"triviarena/internal/trivia"
)

type Status string

const (
	StatusWaiting   = Status("waiting")
	StatusPlaying   = Status("playing")
	StatusFinished  = Status("finished")
	StatusCancelled = Status("cancelled")
)

// QuestionState tracks progress within the current question, independent of
// the room-level Status. Transitions are owned by the game package.
type QuestionState string

const (
	QuestionIdle     = QuestionState("idle")
	QuestionStarting = QuestionState("starting")
	QuestionActive   = QuestionState("active")
	QuestionEnding   = QuestionState("ending")
	QuestionEnded    = QuestionState("ended")
)

type PlayerStatus string

const (
	PlayerWaiting      = PlayerStatus("waiting")
	PlayerPlaying      = PlayerStatus("playing")
	PlayerAnswered     = PlayerStatus("answered")
	PlayerDisconnected = PlayerStatus("disconnected")
	PlayerFinished     = PlayerStatus("finished")
)

// Config is fixed at room creation.
type Config struct {
	Topic            string `json:"topic"`
	Difficulty       string `json:"difficulty"`
	MappedDifficulty int    `json:"mappedDifficulty"`
	MaxPlayers       int    `json:"maxPlayers"`
	QuestionCount    int    `json:"questionCount"` // 0 means unlimited
	TimePerQuestion  int    `json:"timePerQuestion"`
	Mode             string `json:"mode"`
}

type Player struct {
	UserID           string       `json:"userId"`
	Name             string       `json:"name"`
	Email            string       `json:"email,omitempty"`
	IsHost           bool         `json:"isHost"`
	Status           PlayerStatus `json:"status"`
	Score            int          `json:"score"`
	CorrectAnswers   int          `json:"correctAnswers"`
	AnswersSubmitted int          `json:"answersSubmitted"`
	Streak           int          `json:"streak"`
	CurrentAnswer    *int         `json:"currentAnswer,omitempty"`
	TimeSpent        *float64     `json:"timeSpent,omitempty"`
}

// Room is the authoritative shared game state. Every committed mutation
// bumps Version; writers that observed an older version must re-read.
type Room struct {
	ID                       string            `json:"id"`
	HostID                   string            `json:"hostId"`
	Players                  []*Player         `json:"players"`
	Config                   Config            `json:"config"`
	Status                   Status            `json:"status"`
	QuestionState            QuestionState     `json:"questionState"`
	Questions                []trivia.Question `json:"questions"`
	CurrentQuestionIndex     int               `json:"currentQuestionIndex"`
	CurrentQuestionStartTime time.Time         `json:"currentQuestionStartTime"`
	Version                  int64             `json:"version"`
	CreatedAt                time.Time         `json:"createdAt"`
	UpdatedAt                time.Time         `json:"updatedAt"`
	StartTime                *time.Time        `json:"startTime,omitempty"`
	EndTime                  *time.Time        `json:"endTime,omitempty"`
}

// Player returns the seated player with the given user id, or nil.
func (r *Room) Player(userID string) *Player {
	for _, p := range r.Players {
		if p.UserID == userID {
			return p
		}
	}
	return nil
}

// ActivePlayers returns players that are still connected.
func (r *Room) ActivePlayers() []*Player {
	active := make([]*Player, 0, len(r.Players))
	for _, p := range r.Players {
		if p.Status != PlayerDisconnected {
			active = append(active, p)
		}
	}
	return active
}

// CurrentQuestion returns the question under the cursor, or nil when no
// game is in progress.
func (r *Room) CurrentQuestion() *trivia.Question {
	if r.Status != StatusPlaying {
		return nil
	}
	if r.CurrentQuestionIndex < 0 || r.CurrentQuestionIndex >= len(r.Questions) {
		return nil
	}
	q := r.Questions[r.CurrentQuestionIndex]
	return &q
}

// Clone deep-copies the room so a retried mutation never leaks partial
// writes into previously returned state.
func (r *Room) Clone() *Room {
	out := *r
	out.Players = make([]*Player, len(r.Players))
	for i, p := range r.Players {
		cp := *p
		if p.CurrentAnswer != nil {
			v := *p.CurrentAnswer
			cp.CurrentAnswer = &v
		}
		if p.TimeSpent != nil {
			v := *p.TimeSpent
			cp.TimeSpent = &v
		}
		out.Players[i] = &cp
	}
	out.Questions = make([]trivia.Question, len(r.Questions))
	copy(out.Questions, r.Questions)
	if r.StartTime != nil {
		v := *r.StartTime
		out.StartTime = &v
	}
	if r.EndTime != nil {
		v := *r.EndTime
		out.EndTime = &v
	}
	return &out
}
