package types

import (
	"errors"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
)

func TestUnmarshalComponentDispatch(t *testing.T) {
	tests := []struct {
		name string
		data string
		kind ComponentType
	}{
		{"boolean", `{"id":"b1","type":"boolean","property":"Scene.Earth.Renderable.Enabled","action":"on"}`, TypeBoolean},
		{"multi", `{"id":"m1","type":"multi","components":[{"component":"b1","buffer":1,"startTime":0,"endTime":2,"chained":true}]}`, TypeMulti},
		{"static", `{"id":"t1","type":"title","text":"Hello"}`, TypeTitle},
		{"panel", `{"id":"p1","type":"navpanel"}`, TypeNavPanel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := UnmarshalComponent([]byte(tt.data))
			assert.Equal(t, err, nil)
			assert.Equal(t, c.Kind(), tt.kind)
			assert.Equal(t, c.Common().Type, tt.kind)
			assert.Equal(t, c.Common().IsMulti, MultiFalse)
		})
	}
}

func TestUnmarshalComponentFields(t *testing.T) {
	c, err := UnmarshalComponent([]byte(`{"id":"m1","type":"multi","isMulti":"true","x":25,"width":300,
		"components":[{"component":"a","buffer":1.5,"startTime":0,"endTime":2,"chained":true}]}`))
	assert.Equal(t, err, nil)

	m, ok := c.(*MultiComponent)
	assert.Equal(t, ok, true)
	assert.Equal(t, m.X, 25.0)
	assert.Equal(t, m.Width, 300.0)
	assert.Equal(t, m.IsMulti, MultiTrue)
	assert.Equal(t, len(m.Components), 1)
	assert.Equal(t, m.Components[0].Buffer, 1.5)
	assert.Equal(t, m.Members(), []string{"a"})
}

func TestUnmarshalComponentErrors(t *testing.T) {
	_, err := UnmarshalComponent([]byte(`{"id":"x","type":"hologram"}`))
	var unknown *UnknownComponentTypeError
	assert.Equal(t, errors.As(err, &unknown), true)
	assert.Equal(t, unknown.Type, "hologram")

	_, err = UnmarshalComponent([]byte(`{"id":"x"}`))
	assert.NotEqual(t, err, nil)

	_, err = UnmarshalComponent([]byte(`{"id":"x","type":"trigger","isMulti":"maybe"}`))
	assert.NotEqual(t, err, nil)
}

func TestMultiStateBoolCompat(t *testing.T) {
	c, err := UnmarshalComponent([]byte(`{"id":"x","type":"trigger","isMulti":true}`))
	assert.Equal(t, err, nil)
	assert.Equal(t, c.Common().IsMulti, MultiTrue)
}

func TestMultiStateHidden(t *testing.T) {
	assert.Equal(t, MultiTrue.Hidden(), true)
	assert.Equal(t, MultiPendingSave.Hidden(), true)
	assert.Equal(t, MultiPendingDelete.Hidden(), false)
	assert.Equal(t, MultiFalse.Hidden(), false)
	assert.Equal(t, MultiPendingDelete.IsPending(), true)
	assert.Equal(t, MultiTrue.IsPending(), false)
}

func TestApplyPatch(t *testing.T) {
	c, err := NewComponent(TypeNumber)
	assert.Equal(t, err, nil)
	c.Common().ID = "n1"

	out, err := ApplyPatch(c, Patch{"min": 2.0, "max": 10.0, "gui_name": "Speed"})
	assert.Equal(t, err, nil)

	n := out.(*NumberComponent)
	assert.Equal(t, n.Min, 2.0)
	assert.Equal(t, n.Max, 10.0)
	assert.Equal(t, n.GuiName, "Speed")
	assert.Equal(t, n.ID, "n1")

	// original untouched
	assert.Equal(t, c.(*NumberComponent).Min, 0.0)

	_, err = ApplyPatch(c, Patch{"type": "boolean"})
	assert.Equal(t, errors.Is(err, ErrImmutableField), true)

	_, err = ApplyPatch(c, Patch{"id": "other"})
	assert.Equal(t, errors.Is(err, ErrImmutableField), true)

	_, err = ApplyPatch(c, Patch{"id": "n1"})
	assert.Equal(t, err, nil)
}

func TestApplyPatchKeepsMembership(t *testing.T) {
	trig := &TriggerComponent{Base: Base{ID: "t", Type: TypeTrigger, IsMulti: MultiFalse}}

	_, err := ApplyPatch(trig, Patch{"isMulti": "pendingSave"})
	assert.Equal(t, errors.Is(err, ErrMembershipOutsideEdit), true)

	_, err = ApplyPatch(trig, Patch{"isMulti": true})
	assert.Equal(t, errors.Is(err, ErrMembershipOutsideEdit), true)

	_, err = ApplyPatch(trig, Patch{"isMulti": "false", "gui_name": "Reset"})
	assert.Equal(t, err, nil)

	m := &MultiComponent{
		Base:       Base{ID: "m", Type: TypeMulti, IsMulti: MultiFalse},
		Components: []MultiStep{{Component: "t", Buffer: 1}},
	}

	_, err = ApplyPatch(m, Patch{"components": []any{map[string]any{"component": "x"}}})
	assert.Equal(t, errors.Is(err, ErrMembershipOutsideEdit), true)

	// echoing the stored steps back is allowed
	out, err := ApplyPatch(m, Patch{"components": []any{map[string]any{"component": "t", "buffer": 1}}, "gui_name": "Show"})
	assert.Equal(t, err, nil)
	assert.Equal(t, out.Common().GuiName, "Show")
}

func TestCloneIsDeep(t *testing.T) {
	m := &MultiComponent{Components: []MultiStep{{Component: "a"}}}
	cp := m.Clone().(*MultiComponent)
	cp.Components[0].Component = "b"
	assert.Equal(t, m.Components[0].Component, "a")
}

func TestIsMultiOption(t *testing.T) {
	for _, k := range []ComponentType{TypeTrigger, TypeBoolean, TypeFade, TypeSetFocus, TypeFlyTo,
		TypeSetTime, TypeSessionPlayback, TypeSetNavState, TypePage} {
		c, _ := NewComponent(k)
		assert.Equal(t, IsMultiOption(c), true)
	}
	for _, k := range []ComponentType{TypeMulti, TypeNumber, TypeTitle, TypeNavPanel} {
		c, _ := NewComponent(k)
		assert.Equal(t, IsMultiOption(c), false)
	}
}

func TestParseEngineTime(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
	}{
		{"2019-07-01T12:00:00.000Z", time.Date(2019, 7, 1, 12, 0, 0, 0, time.UTC)},
		{"2019-07-01T12:00:00.000", time.Date(2019, 7, 1, 12, 0, 0, 0, time.UTC)},
		{"2019-07-01", time.Date(2019, 7, 1, 0, 0, 0, 0, time.UTC)},
		{"800-01-02T00:00:00", time.Date(800, 1, 2, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseEngineTime(tt.in)
			assert.Equal(t, err, nil)
			assert.Equal(t, got.Equal(tt.want), true)
		})
	}

	_, err := ParseEngineTime("-400-01-01")
	assert.NotEqual(t, err, nil)
	_, err = ParseEngineTime("yesterday")
	assert.NotEqual(t, err, nil)

	assert.Equal(t, FormatEngineTime(time.Date(2020, 1, 2, 3, 4, 5, 6e6, time.UTC)), "2020-01-02T03:04:05.006")
}
