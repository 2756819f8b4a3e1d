package game

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"triviarena/internal/rooms"
	"triviarena/internal/trivia"
)

var (
	ErrNoActiveQuestion = errors.New("no active question")
	ErrQuestionMismatch = errors.New("answer is not for the current question")
	ErrDeadlinePassed   = errors.New("answer deadline has passed")
	ErrGameNotActive    = errors.New("game is not active")
	ErrGameNotWaiting   = errors.New("game has already started")
	ErrNotHost          = errors.New("only the host can start the game")
	ErrNeedPlayers      = errors.New("need at least 2 players to start")

	errAlreadyAnswered = errors.New("player already answered")
)

// Engine owns the question lifecycle, answer scoring, and leaderboard
// derivation. All mutations run through the manager's versioned update path.
type Engine struct {
	rooms *rooms.Manager
	log   *zap.Logger
	now   func() time.Time
}

func NewEngine(mgr *rooms.Manager, log *zap.Logger) *Engine {
	return &Engine{
		rooms: mgr,
		log:   log,
		now:   time.Now,
	}
}

// InitializeGame moves the room into playing, loads the question batch, and
// zeroes every player's counters. The host and player-count preconditions
// are checked inside the mutation so they hold against the state actually
// committed, not a possibly stale read.
func (e *Engine) InitializeGame(ctx context.Context, roomID, hostID string, questions []trivia.Question) (*rooms.Room, error) {
	if len(questions) == 0 {
		return nil, fmt.Errorf("initializing game: empty question batch")
	}
	return e.rooms.UpdateRoom(ctx, roomID, func(room *rooms.Room) error {
		if room.Status != rooms.StatusWaiting {
			return ErrGameNotWaiting
		}
		if room.HostID != hostID {
			return ErrNotHost
		}
		if len(room.ActivePlayers()) < rooms.MinPlayers {
			return ErrNeedPlayers
		}
		now := e.now()
		room.Status = rooms.StatusPlaying
		room.QuestionState = rooms.QuestionIdle
		room.Questions = questions
		room.CurrentQuestionIndex = 0
		room.StartTime = &now
		for _, p := range room.Players {
			p.Score = 0
			p.CorrectAnswers = 0
			p.AnswersSubmitted = 0
			p.Streak = 0
			p.CurrentAnswer = nil
			p.TimeSpent = nil
			if p.Status != rooms.PlayerDisconnected {
				p.Status = rooms.PlayerPlaying
			}
		}
		return nil
	})
}

// LeaderboardEntry is one row of the projected standings.
type LeaderboardEntry struct {
	Rank           int    `json:"rank"`
	UserID         string `json:"userId"`
	Name           string `json:"name"`
	Score          int    `json:"score"`
	CorrectAnswers int    `json:"correctAnswers"`
}

// Leaderboard returns players sorted by score descending, ties broken by
// correct answers descending. The sort is stable over insertion order.
func Leaderboard(room *rooms.Room) []LeaderboardEntry {
	players := make([]*rooms.Player, len(room.Players))
	copy(players, room.Players)
	sort.SliceStable(players, func(i, j int) bool {
		if players[i].Score != players[j].Score {
			return players[i].Score > players[j].Score
		}
		return players[i].CorrectAnswers > players[j].CorrectAnswers
	})
	board := make([]LeaderboardEntry, len(players))
	for i, p := range players {
		board[i] = LeaderboardEntry{
			Rank:           i + 1,
			UserID:         p.UserID,
			Name:           p.Name,
			Score:          p.Score,
			CorrectAnswers: p.CorrectAnswers,
		}
	}
	return board
}

// State is the read-only projection replayed to clients.
type State struct {
	CurrentQuestion *trivia.PublicQuestion `json:"currentQuestion,omitempty"`
	QuestionIndex   int                    `json:"questionIndex"`
	TotalQuestions  int                    `json:"totalQuestions"`
	TimeRemaining   float64                `json:"timeRemaining"`
	Answers         map[string]int         `json:"answers"`
	Scores          map[string]int         `json:"scores"`
	Leaderboard     []LeaderboardEntry     `json:"leaderboard"`
}

// GameState projects the current room into client-facing state. Time
// remaining is computed from the server-side question start, floored at
// zero, and defaults to the full duration when no question is active.
func (e *Engine) GameState(room *rooms.Room) State {
	st := State{
		QuestionIndex:  room.CurrentQuestionIndex,
		TotalQuestions: len(room.Questions),
		TimeRemaining:  float64(room.Config.TimePerQuestion),
		Answers:        make(map[string]int),
		Scores:         make(map[string]int),
		Leaderboard:    Leaderboard(room),
	}
	if q := room.CurrentQuestion(); q != nil && room.QuestionState == rooms.QuestionActive {
		pub := q.Public()
		st.CurrentQuestion = &pub
		elapsed := e.now().Sub(room.CurrentQuestionStartTime).Seconds()
		remaining := float64(room.Config.TimePerQuestion) - elapsed
		if remaining < 0 {
			remaining = 0
		}
		st.TimeRemaining = remaining
	}
	for _, p := range room.Players {
		st.Scores[p.UserID] = p.Score
		if p.CurrentAnswer != nil {
			st.Answers[p.UserID] = *p.CurrentAnswer
		}
	}
	return st
}

// AnswerResult reports the outcome of one submission.
type AnswerResult struct {
	Room            *rooms.Room
	IsCorrect       bool
	ScoreEarned     int
	AlreadyAnswered bool
}

// SubmitAnswer scores one player's answer against the active question. The
// deadline check uses the server-side question start only; client timing is
// never trusted. A player who already answered gets their known correctness
// back with zero additional score.
func (e *Engine) SubmitAnswer(ctx context.Context, roomID, userID, questionID string, answerIndex int, timeSpent float64) (AnswerResult, error) {
	var res AnswerResult
	room, err := e.rooms.UpdateRoom(ctx, roomID, func(room *rooms.Room) error {
		p := room.Player(userID)
		if p == nil {
			return fmt.Errorf("%w: %s", rooms.ErrPlayerNotFound, userID)
		}
		q := room.CurrentQuestion()
		if q == nil || room.QuestionState != rooms.QuestionActive {
			return ErrNoActiveQuestion
		}
		if q.ID != questionID {
			return fmt.Errorf("%w: got %s, active is %s", ErrQuestionMismatch, questionID, q.ID)
		}
		deadline := room.CurrentQuestionStartTime.Add(time.Duration(room.Config.TimePerQuestion) * time.Second)
		if e.now().After(deadline) {
			return ErrDeadlinePassed
		}

		if p.Status == rooms.PlayerAnswered {
			res = AnswerResult{
				Room:            room,
				IsCorrect:       p.CurrentAnswer != nil && *p.CurrentAnswer == q.CorrectIndex,
				ScoreEarned:     0,
				AlreadyAnswered: true,
			}
			return errAlreadyAnswered
		}

		correct := answerIndex == q.CorrectIndex
		earned := scoreAnswer(room.Config, timeSpent, p.Streak, correct)

		answer := answerIndex
		spent := timeSpent
		p.CurrentAnswer = &answer
		p.TimeSpent = &spent
		p.AnswersSubmitted++
		p.Status = rooms.PlayerAnswered
		if correct {
			p.Score += earned
			p.CorrectAnswers++
			p.Streak++
		} else {
			p.Streak = 0
		}

		res = AnswerResult{IsCorrect: correct, ScoreEarned: earned}
		return nil
	})
	if errors.Is(err, errAlreadyAnswered) {
		return res, nil
	}
	if err != nil {
		return AnswerResult{}, err
	}
	res.Room = room
	return res, nil
}

// StartQuestion, ActivateQuestion, EndQuestion, and CompleteQuestion are the
// precondition-checked edges of the question state machine. An edge outside
// the table fails without mutating anything.

func (e *Engine) StartQuestion(ctx context.Context, roomID string) (*rooms.Room, error) {
	return e.transition(ctx, roomID, rooms.QuestionStarting, nil)
}

func (e *Engine) ActivateQuestion(ctx context.Context, roomID string) (*rooms.Room, error) {
	return e.transition(ctx, roomID, rooms.QuestionActive, func(room *rooms.Room) {
		room.CurrentQuestionStartTime = e.now()
	})
}

func (e *Engine) EndQuestion(ctx context.Context, roomID string) (*rooms.Room, error) {
	return e.transition(ctx, roomID, rooms.QuestionEnding, nil)
}

func (e *Engine) CompleteQuestion(ctx context.Context, roomID string) (*rooms.Room, error) {
	return e.transition(ctx, roomID, rooms.QuestionEnded, nil)
}

func (e *Engine) transition(ctx context.Context, roomID string, to rooms.QuestionState, then func(*rooms.Room)) (*rooms.Room, error) {
	room, err := e.rooms.UpdateRoom(ctx, roomID, func(room *rooms.Room) error {
		if err := transitionQuestion(room, to); err != nil {
			return err
		}
		if then != nil {
			then(room)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrInvalidTransition) {
			e.log.Error("rejected question state transition",
				zap.String("room", roomID),
				zap.String("to", string(to)),
				zap.Error(err))
		}
		return nil, err
	}
	return room, nil
}

// PlayerResult is one player's outcome for a just-closed question.
type PlayerResult struct {
	UserID      string `json:"userId"`
	Name        string `json:"name"`
	Answered    bool   `json:"answered"`
	AnswerIndex *int   `json:"answerIndex,omitempty"`
	IsCorrect   bool   `json:"isCorrect"`
	ScoreEarned int    `json:"scoreEarned"`
}

// QuestionResults is the per-question close-out report, including the full
// question so the correct answer is revealed only after the close.
type QuestionResults struct {
	Question    trivia.Question    `json:"question"`
	Results     []PlayerResult     `json:"results"`
	Leaderboard []LeaderboardEntry `json:"leaderboard"`
	Room        *rooms.Room        `json:"-"`
}

// EndQuestionWithResults recomputes every player's outcome against the
// just-closed question. The score shown matches what SubmitAnswer credited:
// for a correct answer the streak used is the pre-increment one.
func (e *Engine) EndQuestionWithResults(ctx context.Context, roomID string) (*QuestionResults, error) {
	room, err := e.rooms.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if room.Status != rooms.StatusPlaying {
		return nil, ErrGameNotActive
	}
	if room.CurrentQuestionIndex < 0 || room.CurrentQuestionIndex >= len(room.Questions) {
		return nil, ErrNoActiveQuestion
	}
	q := room.Questions[room.CurrentQuestionIndex]

	results := make([]PlayerResult, 0, len(room.Players))
	for _, p := range room.Players {
		r := PlayerResult{
			UserID:      p.UserID,
			Name:        p.Name,
			Answered:    p.CurrentAnswer != nil,
			AnswerIndex: p.CurrentAnswer,
		}
		if r.Answered {
			r.IsCorrect = *p.CurrentAnswer == q.CorrectIndex
		}
		if r.IsCorrect {
			preStreak := p.Streak - 1
			if preStreak < 0 {
				preStreak = 0
			}
			spent := 0.0
			if p.TimeSpent != nil {
				spent = *p.TimeSpent
			}
			r.ScoreEarned = scoreAnswer(room.Config, spent, preStreak, true)
		}
		results = append(results, r)
	}

	return &QuestionResults{
		Question:    q,
		Results:     results,
		Leaderboard: Leaderboard(room),
		Room:        room,
	}, nil
}

// AllPlayersAnswered reports whether every connected, unfinished player has
// answered the current question. An empty active set is vacuously false.
func AllPlayersAnswered(room *rooms.Room) bool {
	if room.Status != rooms.StatusPlaying {
		return false
	}
	counted := 0
	for _, p := range room.Players {
		if p.Status == rooms.PlayerDisconnected || p.Status == rooms.PlayerFinished {
			continue
		}
		if p.Status != rooms.PlayerAnswered {
			return false
		}
		counted++
	}
	return counted > 0
}

// NextQuestion advances the cursor or, on the last question, finalizes the
// game: status finished, end time stamped, connected players marked
// finished.
func (e *Engine) NextQuestion(ctx context.Context, roomID string) (*rooms.Room, error) {
	return e.rooms.UpdateRoom(ctx, roomID, func(room *rooms.Room) error {
		if room.Status != rooms.StatusPlaying {
			return ErrGameNotActive
		}
		if room.CurrentQuestionIndex >= len(room.Questions)-1 {
			if err := transitionQuestion(room, rooms.QuestionIdle); err != nil {
				return err
			}
			now := e.now()
			room.Status = rooms.StatusFinished
			room.EndTime = &now
			for _, p := range room.Players {
				if p.Status != rooms.PlayerDisconnected {
					p.Status = rooms.PlayerFinished
				}
			}
			return nil
		}

		room.CurrentQuestionIndex++
		room.CurrentQuestionStartTime = e.now()
		for _, p := range room.Players {
			p.CurrentAnswer = nil
			p.TimeSpent = nil
			if p.Status != rooms.PlayerDisconnected {
				p.Status = rooms.PlayerPlaying
			}
		}
		return nil
	})
}
