package gateway

import "encoding/json"

// clientMessage is the envelope for client-originated messages.
type clientMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

const (
	msgCreateRoom   = "create-room"
	msgJoinRoom     = "join-room"
	msgLeaveRoom    = "leave-room"
	msgStartGame    = "start-game"
	msgSubmitAnswer = "submit-answer"
)

type createRoomPayload struct {
	Topic           string `json:"topic"`
	Difficulty      string `json:"difficulty"`
	MaxPlayers      int    `json:"maxPlayers"`
	QuestionCount   int    `json:"questionCount"`
	TimePerQuestion int    `json:"timePerQuestion"`
	Mode            string `json:"mode"`
}

type joinRoomPayload struct {
	RoomID string `json:"roomId"`
}

type leaveRoomPayload struct {
	RoomID string `json:"roomId"`
}

type startGamePayload struct {
	RoomID string `json:"roomId"`
}

type submitAnswerPayload struct {
	RoomID      string  `json:"roomId"`
	QuestionID  string  `json:"questionId"`
	AnswerIndex int     `json:"answerIndex"`
	TimeSpent   float64 `json:"timeSpent"`
}
