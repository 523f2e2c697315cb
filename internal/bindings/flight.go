package bindings

import (
	"context"
	"fmt"

	"github.com/KevinKickass/OpenPanelCore/internal/types"
)

// FlightInput is one frame of navigation panel input. Zero values stop the
// corresponding motion.
type FlightInput struct {
	OrbitX     float64 `json:"orbitX"`
	OrbitY     float64 `json:"orbitY"`
	PanX       float64 `json:"panX"`
	PanY       float64 `json:"panY"`
	ZoomIn     float64 `json:"zoomIn"`
	LocalRollX float64 `json:"localRollX"`
}

type flightMessage struct {
	Type       string `json:"type"`
	InputState struct {
		Values FlightInput `json:"values"`
	} `json:"inputState"`
}

// Friction names accepted by ToggleFriction.
const (
	FrictionRotation = "rotation"
	FrictionZoom     = "zoom"
	FrictionRoll     = "roll"
)

// SendFlightInput forwards input over the flight control channel held by
// the navigation panel id.
func (b *Binder) SendFlightInput(id string, in FlightInput) error {
	h := b.channel(id)
	if h == nil {
		return fmt.Errorf("navigation panel %s: %w", id, types.ErrComponentNotFound)
	}
	var msg flightMessage
	msg.Type = "inputState"
	msg.InputState.Values = in
	return h.Send(msg)
}

// ToggleFriction inverts one of the orbital navigator friction flags.
func (b *Binder) ToggleFriction(ctx context.Context, which string) error {
	var key string
	switch which {
	case FrictionRotation:
		key = RotationalFrictionKey
	case FrictionZoom:
		key = ZoomFrictionKey
	case FrictionRoll:
		key = RollFrictionKey
	default:
		return fmt.Errorf("unknown friction %q", which)
	}

	api, ok := b.api.API()
	if !ok {
		return types.ErrNotConnected
	}
	cur, _ := b.props.Get(key)
	on, _ := cur.Raw.(bool)
	return api.SetPropertyValue(ctx, key, !on, 0, "")
}
