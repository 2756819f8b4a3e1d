package trivia

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/google/uuid"
)

// Question is a single multiple-choice trivia question. CorrectIndex is
// server-side only and must never be sent to clients before the question
// closes; use Public for anything that goes over the wire.
type Question struct {
	ID           string   `json:"id"`
	Prompt       string   `json:"prompt"`
	Options      []string `json:"options"`
	CorrectIndex int      `json:"correctIndex"`
	Topic        string   `json:"topic"`
	Difficulty   string   `json:"difficulty"`
}

// PublicQuestion is the client-safe form of a Question.
type PublicQuestion struct {
	ID         string   `json:"id"`
	Prompt     string   `json:"prompt"`
	Options    []string `json:"options"`
	Topic      string   `json:"topic"`
	Difficulty string   `json:"difficulty"`
}

func (q Question) Public() PublicQuestion {
	return PublicQuestion{
		ID:         q.ID,
		Prompt:     q.Prompt,
		Options:    q.Options,
		Topic:      q.Topic,
		Difficulty: q.Difficulty,
	}
}

// Source produces the question batch for one game. The platform's
// single-player question generator sits behind this interface.
type Source interface {
	Questions(ctx context.Context, topic, difficulty string, count int, requesterID string) ([]Question, error)
}

// MaxBatch is the largest batch a single game may request. A count of 0
// ("unlimited") resolves to this.
const MaxBatch = 50

// StaticBank is a Source backed by a fixed in-memory question set, used when
// no generator service is configured and in tests.
type StaticBank struct {
	questions []Question
}

func NewStaticBank() *StaticBank {
	return &StaticBank{questions: defaultQuestions()}
}

func (b *StaticBank) Questions(_ context.Context, topic, difficulty string, count int, _ string) ([]Question, error) {
	if count <= 0 || count > MaxBatch {
		count = MaxBatch
	}
	out := make([]Question, 0, count)
	perm := rand.Perm(len(b.questions))
	for _, i := range perm {
		if len(out) == count {
			break
		}
		q := b.questions[i]
		q.ID = uuid.New().String()
		if topic != "" {
			q.Topic = topic
		}
		if difficulty != "" {
			q.Difficulty = difficulty
		}
		out = append(out, q)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("static bank has no questions")
	}
	return out, nil
}

func defaultQuestions() []Question {
	return []Question{
		{Prompt: "Which planet has the most moons?", Options: []string{"Earth", "Mars", "Saturn", "Venus"}, CorrectIndex: 2},
		{Prompt: "What is the largest ocean on Earth?", Options: []string{"Atlantic", "Indian", "Arctic", "Pacific"}, CorrectIndex: 3},
		{Prompt: "Which element has the chemical symbol Fe?", Options: []string{"Iron", "Fluorine", "Francium", "Fermium"}, CorrectIndex: 0},
		{Prompt: "In which year did the first moon landing occur?", Options: []string{"1965", "1969", "1971", "1973"}, CorrectIndex: 1},
		{Prompt: "What is the capital of Australia?", Options: []string{"Sydney", "Melbourne", "Canberra", "Perth"}, CorrectIndex: 2},
		{Prompt: "How many bones are in the adult human body?", Options: []string{"186", "206", "226", "246"}, CorrectIndex: 1},
		{Prompt: "Which language has the most native speakers?", Options: []string{"English", "Hindi", "Mandarin Chinese", "Spanish"}, CorrectIndex: 2},
		{Prompt: "What is the smallest prime number?", Options: []string{"0", "1", "2", "3"}, CorrectIndex: 2},
		{Prompt: "Which artist painted the Starry Night?", Options: []string{"Claude Monet", "Vincent van Gogh", "Pablo Picasso", "Salvador Dali"}, CorrectIndex: 1},
		{Prompt: "What gas do plants primarily absorb for photosynthesis?", Options: []string{"Oxygen", "Nitrogen", "Carbon dioxide", "Hydrogen"}, CorrectIndex: 2},
	}
}
