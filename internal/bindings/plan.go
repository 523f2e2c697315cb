package bindings

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/KevinKickass/OpenPanelCore/internal/actions"
	"github.com/KevinKickass/OpenPanelCore/internal/engine"
	"github.com/KevinKickass/OpenPanelCore/internal/properties"
	"github.com/KevinKickass/OpenPanelCore/internal/types"
	"go.uber.org/zap"
)

const (
	AnchorKey         = "NavigationHandler.OrbitalNavigator.Anchor"
	AimKey            = "NavigationHandler.OrbitalNavigator.Aim"
	RetargetAnchorKey = "NavigationHandler.OrbitalNavigator.RetargetAnchor"
	RetargetAimKey    = "NavigationHandler.OrbitalNavigator.RetargetAim"

	RotationalFrictionKey = "NavigationHandler.OrbitalNavigator.Friction.RotationalFriction"
	ZoomFrictionKey       = "NavigationHandler.OrbitalNavigator.Friction.ZoomFriction"
	RollFrictionKey       = "NavigationHandler.OrbitalNavigator.Friction.RollFriction"

	BlackoutKey = "RenderEngine.BlackoutFactor"
)

const (
	controlInterval = 500 * time.Millisecond
	anchorInterval  = 1000 * time.Millisecond
	day             = 24 * time.Hour
)

var frictionKeys = []string{RotationalFrictionKey, ZoomFrictionKey, RollFrictionKey}

// plan returns the interests and binding of c. A nil api means the engine
// is unreachable; only local bindings are produced then.
func (b *Binder) plan(c types.Component, api *engine.LuaAPI) ([]interest, *actions.Binding) {
	switch c := c.(type) {
	case *types.BooleanComponent:
		return propertyInterest(c.Property, controlInterval), remote(api, c.Property, func(api *engine.LuaAPI) actions.Binding {
			return actions.Binding{Kind: types.TypeBoolean, Trigger: b.booleanAction(api, *c)}
		})

	case *types.TriggerComponent:
		return propertyInterest(c.Property, controlInterval), remote(api, c.Property, func(api *engine.LuaAPI) actions.Binding {
			return actions.Binding{Kind: types.TypeTrigger, Trigger: func(ctx context.Context) error {
				return api.SetPropertyValueSingle(ctx, c.Property, nil, 0, "")
			}}
		})

	case *types.NumberComponent:
		return propertyInterest(c.Property, controlInterval), remote(api, c.Property, func(api *engine.LuaAPI) actions.Binding {
			n := *c
			return actions.Binding{Kind: types.TypeNumber, Set: func(ctx context.Context, v float64) error {
				return api.SetPropertyValueSingle(ctx, n.Property, clamp(v, n.Min, n.Max), 0, "")
			}}
		})

	case *types.FadeComponent:
		return propertyInterest(c.Property, controlInterval), remote(api, c.Property, func(api *engine.LuaAPI) actions.Binding {
			return actions.Binding{Kind: types.TypeFade, Trigger: b.fadeAction(api, *c)}
		})

	case *types.SetFocusComponent:
		ins := []interest{{kind: properties.KindProperty, key: AnchorKey, interval: anchorInterval}}
		return ins, remote(api, c.Property, func(api *engine.LuaAPI) actions.Binding {
			target := c.Property
			return actions.Binding{Kind: types.TypeSetFocus, Trigger: func(ctx context.Context) error {
				return focus(ctx, api, target)
			}}
		})

	case *types.FlyToComponent:
		return nil, remote(api, c.Target, func(api *engine.LuaAPI) actions.Binding {
			f := *c
			return actions.Binding{Kind: types.TypeFlyTo, Trigger: func(ctx context.Context) error {
				if f.Geo {
					return api.FlyToGeo(ctx, f.Target, f.Lat, f.Long, f.Alt, f.IntDuration)
				}
				return api.FlyTo(ctx, f.Target, f.IntDuration)
			}}
		})

	case *types.SetTimeComponent:
		ins := []interest{{kind: properties.KindTopic, key: engine.TopicTime}}
		return ins, remote(api, c.Time, func(api *engine.LuaAPI) actions.Binding {
			return actions.Binding{Kind: types.TypeSetTime, Trigger: b.setTimeAction(api, *c)}
		})

	case *types.SetNavComponent:
		ready := "navigation"
		if len(c.NavigationState) == 0 {
			ready = ""
		}
		return nil, remote(api, ready, func(api *engine.LuaAPI) actions.Binding {
			return actions.Binding{Kind: types.TypeSetNavState, Trigger: b.setNavAction(api, c.Clone().(*types.SetNavComponent))}
		})

	case *types.SessionPlaybackComponent:
		return nil, remote(api, c.File, func(api *engine.LuaAPI) actions.Binding {
			p := *c
			return actions.Binding{Kind: types.TypeSessionPlayback, Trigger: func(ctx context.Context) error {
				return api.StartPlayback(ctx, p.File, p.Loop, p.ForceTime)
			}}
		})

	case *types.PageComponent:
		index := c.Page - 1
		return nil, &actions.Binding{Kind: types.TypePage, Trigger: func(context.Context) error {
			return b.table.GoToPage(index)
		}}

	case *types.MultiComponent:
		id := c.ID
		return nil, &actions.Binding{Kind: types.TypeMulti, Trigger: func(ctx context.Context) error {
			_, err := b.multis.Run(ctx, id)
			return err
		}}

	case *types.NavPanelComponent:
		ins := []interest{{kind: properties.KindChannel, key: engine.TopicFlightControl}}
		for _, key := range frictionKeys {
			ins = append(ins, interest{kind: properties.KindProperty, key: key})
		}
		return ins, nil

	case *types.TimePanelComponent:
		return []interest{{kind: properties.KindTopic, key: engine.TopicTime}}, nil

	case *types.RecordPanelComponent:
		return []interest{{kind: properties.KindTopic, key: engine.TopicSessionRecord}}, nil
	}
	return nil, nil
}

func propertyInterest(uri string, interval time.Duration) []interest {
	if uri == "" {
		return nil
	}
	return []interest{{kind: properties.KindProperty, key: uri, interval: interval}}
}

// remote builds a binding only when the engine is reachable and the
// component is configured.
func remote(api *engine.LuaAPI, configured string, build func(*engine.LuaAPI) actions.Binding) *actions.Binding {
	if api == nil || configured == "" {
		return nil
	}
	binding := build(api)
	return &binding
}

func (b *Binder) booleanAction(api *engine.LuaAPI, c types.BooleanComponent) actions.Func {
	return func(ctx context.Context) error {
		var next bool
		switch c.Action {
		case types.ToggleOn:
			next = true
		case types.ToggleOff:
			next = false
		default:
			cur, _ := b.props.Get(c.Property)
			on, _ := cur.Raw.(bool)
			next = !on
		}
		return api.SetPropertyValueSingle(ctx, c.Property, next, 0, "")
	}
}

func (b *Binder) fadeAction(api *engine.LuaAPI, c types.FadeComponent) actions.Func {
	return func(ctx context.Context) error {
		var target float64
		switch c.Action {
		case types.ToggleOn:
			target = 1
		case types.ToggleOff:
			target = 0
		default:
			cur, _ := b.props.Get(c.Property)
			if v, ok := cur.Raw.(float64); !ok || v < 0.5 {
				target = 1
			}
		}
		return api.SetPropertyValueSingle(ctx, c.Property, target, c.IntDuration, "")
	}
}

func focus(ctx context.Context, api *engine.LuaAPI, target string) error {
	if err := api.SetPropertyValueSingle(ctx, RetargetAnchorKey, nil, 0, ""); err != nil {
		return err
	}
	if err := api.SetPropertyValueSingle(ctx, AnchorKey, target, 0, ""); err != nil {
		return err
	}
	return api.SetPropertyValueSingle(ctx, AimKey, "", 0, "")
}

func (b *Binder) setTimeAction(api *engine.LuaAPI, c types.SetTimeComponent) actions.Func {
	return func(ctx context.Context) error {
		target, err := types.ParseEngineTime(c.Time)
		if err != nil {
			return fmt.Errorf("set time %q: %w", c.Time, err)
		}
		return b.jumpToTime(ctx, api, target, c.Interpolate, c.FadeScene, c.IntDuration)
	}
}

// jumpToTime moves simulation time to target. Jumps of more than a day with
// fade enabled happen behind a blackout; otherwise the time is set or
// interpolated directly.
func (b *Binder) jumpToTime(ctx context.Context, api *engine.LuaAPI, target time.Time, interpolate, fade bool, seconds float64) error {
	if fade && interpolate && b.timeDistance(target) > day {
		return blackout(ctx, api, seconds, func() error {
			return api.SetTime(ctx, target)
		})
	}
	if !interpolate {
		return api.SetTime(ctx, target)
	}
	return api.InterpolateTime(ctx, target, seconds)
}

// timeDistance is the rounded distance between target and the current
// simulation time, or zero when simulation time is unknown.
func (b *Binder) timeDistance(target time.Time) time.Duration {
	cur, ok := b.props.Get(engine.TopicTime)
	if !ok {
		return 0
	}
	now, ok := cur.Derived.(time.Time)
	if !ok {
		return 0
	}
	d := target.Sub(now)
	if d < 0 {
		d = -d
	}
	return d.Round(time.Second)
}

func (b *Binder) setNavAction(api *engine.LuaAPI, c *types.SetNavComponent) actions.Func {
	return func(ctx context.Context) error {
		apply := func() error {
			if err := api.SetNavigationState(ctx, c.NavigationState); err != nil {
				return err
			}
			if !c.SetTime || c.Time == "" {
				return nil
			}
			t, err := types.ParseEngineTime(c.Time)
			if err != nil {
				b.logger.Warn("Ignoring navigation state time",
					zap.String("component_id", c.ID),
					zap.String("time", c.Time),
					zap.Error(err))
				return nil
			}
			return api.SetTime(ctx, t)
		}
		if c.FadeScene {
			return blackout(ctx, api, c.IntDuration, apply)
		}
		return apply()
	}
}

// blackout fades the scene out over seconds, runs fn, then fades back in.
func blackout(ctx context.Context, api *engine.LuaAPI, seconds float64, fn func() error) error {
	if err := api.SetPropertyValueSingle(ctx, BlackoutKey, 0, seconds, engine.EasingQuadraticEaseOut); err != nil {
		return err
	}
	if err := sleep(ctx, time.Duration(seconds*float64(time.Second))); err != nil {
		return err
	}
	if err := fn(); err != nil {
		return err
	}
	return api.SetPropertyValueSingle(ctx, BlackoutKey, 1, seconds, engine.EasingQuadraticEaseIn)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func clamp(v, lo, hi float64) float64 {
	if hi < lo {
		return v
	}
	return math.Max(lo, math.Min(hi, v))
}
