package geometry

import (
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestSnap(t *testing.T) {
	tests := []struct {
		v, grid, want float64
	}{
		{0, 25, 0},
		{12, 25, 0},
		{12.5, 25, 25},
		{37, 25, 25},
		{38, 25, 50},
		{-12.5, 25, 0},
		{-13, 25, -25},
		{17, 0, 17},
	}
	for _, tt := range tests {
		assert.Equal(t, Snap(tt.v, tt.grid), tt.want)
	}
}

func TestIntersects(t *testing.T) {
	a := Rect{0, 0, 100, 100}

	tests := []struct {
		name string
		b    Rect
		want bool
	}{
		{"overlapping corner", Rect{50, 50, 100, 100}, true},
		{"shared vertical edge", Rect{100, 0, 100, 100}, false},
		{"shared horizontal edge", Rect{0, 100, 100, 100}, false},
		{"touching corner", Rect{100, 100, 10, 10}, false},
		{"contained", Rect{25, 25, 10, 10}, true},
		{"far away", Rect{500, 500, 10, 10}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, a.Intersects(tt.b), tt.want)
			assert.Equal(t, tt.b.Intersects(a), tt.want)
		})
	}
}

func TestSnapped(t *testing.T) {
	r := Rect{X: 13, Y: 36, Width: 5, Height: 140}.Snapped(25)
	assert.Equal(t, r, Rect{X: 25, Y: 25, Width: 25, Height: 150})
}
