package layout

import (
	"testing"
	"time"

	"github.com/KevinKickass/OpenPanelCore/internal/components"
	"github.com/KevinKickass/OpenPanelCore/internal/geometry"
	"github.com/KevinKickass/OpenPanelCore/internal/types"
	"github.com/go-playground/assert/v2"
	"go.uber.org/zap"
)

func box(id string, x, y, w, h float64) types.Component {
	return &types.TriggerComponent{Base: types.Base{
		ID:       id,
		Type:     types.TypeTrigger,
		IsMulti:  types.MultiFalse,
		Geometry: types.Geometry{X: x, Y: y, Width: w, Height: h, MinWidth: 25, MinHeight: 25},
	}}
}

func TestOverlappingPairs(t *testing.T) {
	tests := []struct {
		name string
		b    types.Component
		want bool
	}{
		{"corner overlap", box("b", 50, 50, 100, 100), true},
		{"edge sharing", box("b", 100, 0, 100, 100), false},
		{"disjoint", box("b", 300, 300, 100, 100), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Overlapping([]types.Component{box("a", 0, 0, 100, 100), tt.b})
			_, aHit := got["a"]
			_, bHit := got["b"]
			assert.Equal(t, aHit, tt.want)
			assert.Equal(t, bHit, tt.want)
		})
	}
}

func TestOverlappingIgnoresHidden(t *testing.T) {
	hidden := box("h", 0, 0, 100, 100)
	hidden.Common().IsMulti = types.MultiTrue
	got := Overlapping([]types.Component{box("a", 0, 0, 100, 100), hidden})
	assert.Equal(t, len(got), 0)
}

func newTable(t *testing.T, comps ...types.Component) *components.Table {
	tbl := components.NewTable(zap.NewNop())
	for _, c := range comps {
		_, err := tbl.AddComponent(c)
		assert.Equal(t, err, nil)
	}
	return tbl
}

func TestCheckOverlapSymmetric(t *testing.T) {
	tbl := newTable(t, box("a", 0, 0, 100, 100), box("b", 400, 400, 100, 100))
	d := NewDetector(tbl, 25, zap.NewNop())

	got, err := d.CheckOverlap("b", geometry.Rect{X: 52, Y: 48, Width: 100, Height: 100})
	assert.Equal(t, err, nil)
	assert.Equal(t, got, []string{"a"})
	assert.Equal(t, tbl.Overlaps("a"), []string{"b"})

	b, _ := tbl.GetComponentByID("b")
	assert.Equal(t, b.Common().X, 50.0)
	assert.Equal(t, b.Common().Y, 50.0)

	// moving away clears both sides
	got, err = d.CheckOverlap("b", geometry.Rect{X: 100, Y: 0, Width: 100, Height: 100})
	assert.Equal(t, err, nil)
	assert.Equal(t, len(got), 0)
	assert.Equal(t, len(tbl.Overlaps("a")), 0)
}

func TestCheckOverlapRespectsMinimumSize(t *testing.T) {
	c := box("a", 0, 0, 100, 100)
	c.Common().MinWidth = 100
	tbl := newTable(t, c)
	d := NewDetector(tbl, 25, zap.NewNop())

	_, err := d.CheckOverlap("a", geometry.Rect{X: 0, Y: 0, Width: 10, Height: 10})
	assert.Equal(t, err, nil)

	a, _ := tbl.GetComponentByID("a")
	assert.Equal(t, a.Common().Width, 100.0)
	assert.Equal(t, a.Common().Height, 25.0)
}

func TestOverlapIsPerPage(t *testing.T) {
	tbl := newTable(t, box("a", 0, 0, 100, 100))
	other := tbl.AddPage(0, 0)
	b := box("b", 400, 400, 100, 100)
	b.Common().ParentPage = other.ID
	tbl.AddComponent(b)

	d := NewDetector(tbl, 25, zap.NewNop())
	got, err := d.CheckOverlap("b", geometry.Rect{X: 0, Y: 0, Width: 100, Height: 100})
	assert.Equal(t, err, nil)
	assert.Equal(t, len(got), 0)
}

func TestMoveSelection(t *testing.T) {
	tbl := newTable(t, box("a", 0, 0, 100, 100), box("b", 200, 0, 100, 100), box("c", 400, 0, 100, 100))
	d := NewDetector(tbl, 25, zap.NewNop())

	assert.Equal(t, d.MoveSelection([]string{"a", "b"}, 250, 0), nil)

	a, _ := tbl.GetComponentByID("a")
	b, _ := tbl.GetComponentByID("b")
	assert.Equal(t, a.Common().X, 250.0)
	assert.Equal(t, b.Common().X, 450.0)
	assert.Equal(t, tbl.Overlaps("c"), []string{"b"})
	assert.Equal(t, len(tbl.Overlaps("a")), 0)
}

func waitOverlaps(t *testing.T, tbl *components.Table, id string, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for len(tbl.Overlaps(id)) != want {
		if time.Now().After(deadline) {
			t.Fatalf("overlaps of %s = %v, want %d entries", id, tbl.Overlaps(id), want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestMembershipChangeRefreshesOverlaps(t *testing.T) {
	tbl := newTable(t, box("a", 0, 0, 100, 100), box("b", 50, 50, 100, 100))
	d := NewDetector(tbl, 25, zap.NewNop())
	assert.Equal(t, d.Recompute(), nil)
	assert.Equal(t, tbl.Overlaps("a"), []string{"b"})

	d.Start()
	t.Cleanup(d.Stop)

	setMulti := func(st types.MultiState) {
		_, err := tbl.Mutate("b", func(c types.Component) (types.Component, error) {
			c.Common().IsMulti = st
			return c, nil
		})
		assert.Equal(t, err, nil)
	}

	// committed into a multi: b is no longer laid out
	setMulti(types.MultiTrue)
	waitOverlaps(t, tbl, "a", 0)
	assert.Equal(t, len(tbl.Overlaps("b")), 0)

	// released again
	setMulti(types.MultiFalse)
	waitOverlaps(t, tbl, "a", 1)
	assert.Equal(t, tbl.Overlaps("b"), []string{"a"})
}
