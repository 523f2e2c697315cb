package properties

import (
	"time"

	"github.com/KevinKickass/OpenPanelCore/internal/types"
)

// throttle limits a derived value to one update per window. The first value
// of a window applies at once; the latest value offered during the window
// applies when it ends. Callers serialize access.
type throttle struct {
	window  time.Duration
	derive  func(any) (any, bool)
	last    time.Time
	pending any
	waiting bool
	timer   *time.Timer
}

func newThrottle(window time.Duration, derive func(any) (any, bool)) *throttle {
	return &throttle{window: window, derive: derive}
}

// offer returns the derived value when it applies immediately. Otherwise it
// arms a timer that calls flush at the end of the window.
func (t *throttle) offer(raw any, now time.Time, flush func()) (any, bool) {
	derived, ok := t.derive(raw)
	if !ok {
		return nil, false
	}

	if elapsed := now.Sub(t.last); elapsed >= t.window && t.timer == nil {
		t.last = now
		return derived, true
	}

	t.pending = derived
	t.waiting = true
	if t.timer == nil {
		wait := t.window - now.Sub(t.last)
		if wait < 0 {
			wait = 0
		}
		t.timer = time.AfterFunc(wait, flush)
	}
	return nil, false
}

// fire applies the trailing value, if any.
func (t *throttle) fire(now time.Time) (any, bool) {
	t.timer = nil
	if !t.waiting {
		return nil, false
	}
	t.waiting = false
	t.last = now
	v := t.pending
	t.pending = nil
	return v, true
}

func (t *throttle) stop() {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.waiting = false
}

// deriveTime reduces a time topic payload to simulation time capped to
// whole seconds.
func deriveTime(raw any) (any, bool) {
	var s string
	switch v := raw.(type) {
	case string:
		s = v
	case map[string]any:
		s, _ = v["time"].(string)
	}
	if s == "" {
		return nil, false
	}
	t, err := types.ParseEngineTime(s)
	if err != nil {
		return nil, false
	}
	return t.Truncate(time.Second), true
}
