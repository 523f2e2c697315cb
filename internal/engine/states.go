package engine

import (
	"fmt"

	"github.com/KevinKickass/OpenPanelCore/internal/types"
)

type State string

const (
	StateDisconnected State = "DISCONNECTED"
	StateConnecting   State = "CONNECTING"
	StateConnected    State = "CONNECTED"
	StateError        State = "ERROR"
)

func (s State) String() string { return string(s) }

// ValidateTransition checks a connection state change against the session
// lifecycle. ERROR→DISCONNECTED is an explicit disconnect that stops retrying.
func ValidateTransition(from, to State) error {
	validTransitions := map[State][]State{
		StateDisconnected: {StateConnecting},
		StateConnecting:   {StateConnected, StateError},
		StateConnected:    {StateDisconnected, StateError},
		StateError:        {StateConnecting, StateDisconnected},
	}

	allowed, exists := validTransitions[from]
	if !exists {
		return fmt.Errorf("invalid current state: %s", from)
	}

	for _, validTo := range allowed {
		if validTo == to {
			return nil
		}
	}

	return fmt.Errorf("%w: %s -> %s", types.ErrInvalidTransition, from, to)
}
