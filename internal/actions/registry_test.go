package actions

import (
	"context"
	"errors"
	"testing"

	"github.com/KevinKickass/OpenPanelCore/internal/types"
	"github.com/go-playground/assert/v2"
	"go.uber.org/zap"
)

func TestTriggerMissingIsNoop(t *testing.T) {
	r := NewRegistry(zap.NewNop())

	err := r.Trigger(context.Background(), "nope")
	assert.Equal(t, errors.Is(err, types.ErrMissingTriggerBinding), true)

	err = r.Set(context.Background(), "nope", 1)
	assert.Equal(t, errors.Is(err, types.ErrMissingTriggerBinding), true)
}

func TestRegisterReplaces(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	var calls []string

	r.Register("a", Binding{Kind: types.TypeTrigger, Trigger: func(ctx context.Context) error {
		calls = append(calls, "first")
		return nil
	}})
	r.Register("a", Binding{Kind: types.TypeTrigger, Trigger: func(ctx context.Context) error {
		calls = append(calls, "second")
		return nil
	}})

	assert.Equal(t, r.Trigger(context.Background(), "a"), nil)
	assert.Equal(t, calls, []string{"second"})
	assert.Equal(t, r.Has("a"), true)

	r.Unregister("a")
	assert.Equal(t, r.Has("a"), false)
}

func TestSetValue(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	var got float64
	r.Register("n", Binding{Kind: types.TypeNumber, Set: func(ctx context.Context, v float64) error {
		got = v
		return nil
	}})

	assert.Equal(t, r.Set(context.Background(), "n", 0.5), nil)
	assert.Equal(t, got, 0.5)

	// number components have no zero-argument trigger
	err := r.Trigger(context.Background(), "n")
	assert.Equal(t, errors.Is(err, types.ErrMissingTriggerBinding), true)
}

func TestTriggerPropagatesError(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	r.Register("a", Binding{Kind: types.TypeBoolean, Trigger: func(ctx context.Context) error {
		return types.ErrNotConnected
	}})

	err := r.Trigger(context.Background(), "a")
	assert.Equal(t, errors.Is(err, types.ErrNotConnected), true)
}
