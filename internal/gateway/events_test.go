package gateway

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"triviarena/internal/rooms"
	"triviarena/internal/trivia"
)

func TestMarshalEvent_Envelope(t *testing.T) {
	data, err := MarshalEvent(ErrorEvent{Code: "room-full", Message: "room is full"})
	require.NoError(t, err)

	var env struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(data, &env))
	assert.Equal(t, "error", env.Type)

	var payload ErrorEvent
	require.NoError(t, json.Unmarshal(env.Data, &payload))
	assert.Equal(t, "room-full", payload.Code)
}

func TestRoomView_NeverCarriesQuestions(t *testing.T) {
	room := &rooms.Room{
		ID:     "AAAA22",
		HostID: "u1",
		Status: rooms.StatusPlaying,
		Players: []*rooms.Player{
			{UserID: "u1", Name: "Alice", IsHost: true, Status: rooms.PlayerPlaying},
		},
		Questions: []trivia.Question{
			{ID: "q1", Prompt: "secret prompt", Options: []string{"a", "b"}, CorrectIndex: 1},
		},
		CreatedAt: time.Now(),
	}

	view := NewRoomView(room)
	assert.Equal(t, 1, view.TotalQuestions)

	data, err := MarshalEvent(GameStartedEvent{Room: view})
	require.NoError(t, err)
	assert.NotContains(t, string(data), "correctIndex")
	assert.NotContains(t, string(data), "secret prompt")
}

func TestQuestionStartedEvent_SanitizedQuestion(t *testing.T) {
	q := trivia.Question{
		ID:           "q1",
		Prompt:       "what?",
		Options:      []string{"a", "b", "c", "d"},
		CorrectIndex: 2,
	}
	started := time.Now()
	ev := QuestionStartedEvent{
		RoomID:         "AAAA22",
		QuestionIndex:  0,
		TotalQuestions: 3,
		Question:       q.Public(),
		StartedAt:      started,
		EndsAt:         started.Add(10 * time.Second),
	}

	data, err := MarshalEvent(ev)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "correctIndex")
	assert.Contains(t, string(data), "what?")
}

func TestQuestionEndedEvent_RevealsAnswer(t *testing.T) {
	ev := QuestionEndedEvent{
		RoomID:   "AAAA22",
		Question: trivia.Question{ID: "q1", Prompt: "what?", CorrectIndex: 2},
	}
	data, err := MarshalEvent(ev)
	require.NoError(t, err)
	assert.Contains(t, string(data), "correctIndex")
}
