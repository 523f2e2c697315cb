package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/KevinKickass/OpenPanelCore/internal/types"
)

// Easing functions accepted by property fades.
const (
	EasingLinear           = "Linear"
	EasingQuadraticEaseIn  = "QuadraticEaseIn"
	EasingQuadraticEaseOut = "QuadraticEaseOut"
)

// Caller runs Lua functions on the engine.
type Caller interface {
	Call(ctx context.Context, function string, args ...any) (json.RawMessage, error)
	Notify(ctx context.Context, function string, args ...any) error
}

// LuaAPI is the typed surface of the engine's scripting library.
type LuaAPI struct {
	c Caller
}

func NewLuaAPI(c Caller) *LuaAPI {
	return &LuaAPI{c: c}
}

// SetPropertyValueSingle sets one property, fading over duration seconds
// when duration is positive.
func (a *LuaAPI) SetPropertyValueSingle(ctx context.Context, uri string, value any, duration float64, easing string) error {
	return a.c.Notify(ctx, "openspace.setPropertyValueSingle", propertyArgs(uri, value, duration, easing)...)
}

// SetPropertyValue sets every property matching the uri pattern.
func (a *LuaAPI) SetPropertyValue(ctx context.Context, uri string, value any, duration float64, easing string) error {
	return a.c.Notify(ctx, "openspace.setPropertyValue", propertyArgs(uri, value, duration, easing)...)
}

func (a *LuaAPI) GetPropertyValue(ctx context.Context, uri string) (any, error) {
	raw, err := a.c.Call(ctx, "openspace.propertyValue", uri)
	if err != nil {
		return nil, err
	}
	return decodeReturn(raw)
}

func (a *LuaAPI) SetTime(ctx context.Context, t time.Time) error {
	return a.c.Notify(ctx, "openspace.time.setTime", types.FormatEngineTime(t))
}

// InterpolateTime moves simulation time to t over duration seconds.
func (a *LuaAPI) InterpolateTime(ctx context.Context, t time.Time, duration float64) error {
	args := []any{types.FormatEngineTime(t)}
	if duration > 0 {
		args = append(args, duration)
	}
	return a.c.Notify(ctx, "openspace.time.interpolateTime", args...)
}

func (a *LuaAPI) FlyTo(ctx context.Context, target string, duration float64) error {
	args := []any{target}
	if duration > 0 {
		args = append(args, duration)
	}
	return a.c.Notify(ctx, "openspace.pathnavigation.flyTo", args...)
}

func (a *LuaAPI) FlyToGeo(ctx context.Context, target string, lat, long, alt, duration float64) error {
	args := []any{target, lat, long, alt}
	if duration > 0 {
		args = append(args, duration)
	}
	return a.c.Notify(ctx, "openspace.globebrowsing.flyToGeo", args...)
}

func (a *LuaAPI) SetNavigationState(ctx context.Context, state map[string]any) error {
	if len(state) == 0 {
		return fmt.Errorf("empty navigation state")
	}
	return a.c.Notify(ctx, "openspace.navigation.setNavigationState", state)
}

// StartPlayback plays a session recording. forceTime replays the recorded
// simulation time instead of the current one.
func (a *LuaAPI) StartPlayback(ctx context.Context, file string, loop, forceTime bool) error {
	fn := "openspace.sessionRecording.startPlayback"
	if forceTime {
		fn = "openspace.sessionRecording.startPlaybackRecordedTime"
	}
	return a.c.Notify(ctx, fn, file, loop)
}

func (a *LuaAPI) StopPlayback(ctx context.Context) error {
	return a.c.Notify(ctx, "openspace.sessionRecording.stopPlayback")
}

func propertyArgs(uri string, value any, duration float64, easing string) []any {
	args := []any{uri, value}
	if duration > 0 {
		args = append(args, duration)
		if easing != "" {
			args = append(args, easing)
		}
	}
	return args
}

// decodeReturn unwraps the engine's return table, which keys results by
// their 1-based position.
func decodeReturn(raw json.RawMessage) (any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("malformed return value: %w", err)
	}
	if m, ok := v.(map[string]any); ok {
		if first, ok := m["1"]; ok {
			return first, nil
		}
	}
	return v, nil
}
