package session

import (
	"errors"
	"fmt"
)

var (
	ErrAlreadyRecording  = errors.New("a recording session is already active")
	ErrNoActiveSession   = errors.New("no active recording session")
	ErrIllegalTransition = errors.New("illegal session state transition")
	ErrKindActive        = errors.New("media kind already attached")
	ErrKindNotActive     = errors.New("media kind not attached")
)

type State string

const (
	StateIdle      State = "idle"
	StateStarting  State = "starting"
	StateRecording State = "recording"
	StateStopping  State = "stopping"
	StateFailed    State = "failed"
)

// transitions lists every legal move. A completed stop returns straight to
// idle; there is no separate stopped state.
var transitions = map[State][]State{
	StateIdle:      {StateStarting},
	StateStarting:  {StateRecording, StateFailed},
	StateRecording: {StateStopping, StateFailed},
	StateStopping:  {StateIdle},
	StateFailed:    {StateIdle},
}

func canTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func checkTransition(from, to State) error {
	if !canTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
	}
	return nil
}
