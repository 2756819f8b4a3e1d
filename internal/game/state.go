package game

import (
	"errors"
	"fmt"

	"triviarena/internal/rooms"
)

// ErrInvalidTransition reports a question-state change outside the table
// below. Rejecting these is what keeps "has this question been closed out"
// a property of data: a timer and an all-answered check racing each other
// cannot both move the state to ending.
var ErrInvalidTransition = errors.New("invalid question state transition")

var questionTransitions = map[rooms.QuestionState][]rooms.QuestionState{
	rooms.QuestionIdle:     {rooms.QuestionStarting},
	rooms.QuestionStarting: {rooms.QuestionActive},
	rooms.QuestionActive:   {rooms.QuestionEnding},
	rooms.QuestionEnding:   {rooms.QuestionEnded},
	rooms.QuestionEnded:    {rooms.QuestionStarting, rooms.QuestionIdle},
}

// CanTransition reports whether from -> to is in the transition table.
func CanTransition(from, to rooms.QuestionState) bool {
	for _, next := range questionTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func transitionQuestion(room *rooms.Room, to rooms.QuestionState) error {
	if !CanTransition(room.QuestionState, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, room.QuestionState, to)
	}
	room.QuestionState = to
	return nil
}
