// Package geometry holds the grid arithmetic used by the layout editor.
package geometry

import "math"

// DefaultGrid is the snapping step of the editor canvas.
const DefaultGrid = 25.0

// Snap rounds v to the nearest multiple of grid, halves rounding up.
func Snap(v, grid float64) float64 {
	if grid <= 0 {
		return v
	}
	return math.Floor(v/grid+0.5) * grid
}

// Rect is an axis-aligned box with its origin at the top-left corner.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

func (r Rect) Right() float64  { return r.X + r.Width }
func (r Rect) Bottom() float64 { return r.Y + r.Height }

// Intersects reports whether r and o share interior area. Boxes that only
// touch along an edge do not intersect.
func (r Rect) Intersects(o Rect) bool {
	return r.X < o.Right() && o.X < r.Right() &&
		r.Y < o.Bottom() && o.Y < r.Bottom()
}

// Snapped returns r with every coordinate snapped to grid. Width and height
// never snap below one grid step.
func (r Rect) Snapped(grid float64) Rect {
	out := Rect{
		X:      Snap(r.X, grid),
		Y:      Snap(r.Y, grid),
		Width:  Snap(r.Width, grid),
		Height: Snap(r.Height, grid),
	}
	if grid > 0 {
		out.Width = math.Max(out.Width, grid)
		out.Height = math.Max(out.Height, grid)
	}
	return out
}

// Translate moves r by (dx, dy).
func (r Rect) Translate(dx, dy float64) Rect {
	r.X += dx
	r.Y += dy
	return r
}

// AtLeast grows r to the given minimum size.
func (r Rect) AtLeast(minWidth, minHeight float64) Rect {
	r.Width = math.Max(r.Width, minWidth)
	r.Height = math.Max(r.Height, minHeight)
	return r
}
