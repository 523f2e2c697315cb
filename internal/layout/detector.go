package layout

import (
	"fmt"
	"sort"
	"sync"

	"github.com/KevinKickass/OpenPanelCore/internal/components"
	"github.com/KevinKickass/OpenPanelCore/internal/geometry"
	"github.com/KevinKickass/OpenPanelCore/internal/metrics"
	"github.com/KevinKickass/OpenPanelCore/internal/types"
	"go.uber.org/zap"
)

// Detector stores committed drag and resize geometry and keeps the
// advisory overlap results of the table current. Commits are serialized.
type Detector struct {
	table  *components.Table
	grid   float64
	logger *zap.Logger

	mu sync.Mutex

	pendingMu sync.Mutex
	pending   map[string]struct{}
	wake      chan struct{}
	stop      func()
	done      chan struct{}
}

func NewDetector(table *components.Table, grid float64, logger *zap.Logger) *Detector {
	if grid <= 0 {
		grid = geometry.DefaultGrid
	}
	return &Detector{
		table:   table,
		grid:    grid,
		logger:  logger,
		pending: make(map[string]struct{}),
		wake:    make(chan struct{}, 1),
	}
}

// Start follows the table and recomputes a page whenever one of its
// components is hidden by or released from a multi. Pages are refreshed
// on a separate goroutine because table events can be delivered while
// this detector is itself mutating the table.
func (d *Detector) Start() {
	quit := make(chan struct{})
	d.done = make(chan struct{})
	unsub := d.table.Subscribe(d.onTableEvent)
	d.stop = func() {
		unsub()
		close(quit)
	}
	go d.run(quit)
}

func (d *Detector) Stop() {
	if d.stop == nil {
		return
	}
	d.stop()
	<-d.done
	d.stop = nil
}

func (d *Detector) onTableEvent(ev components.Event) {
	if ev.Type != components.EventUpdated || ev.Component == nil || ev.Previous == nil {
		return
	}
	if ev.Previous.Common().IsMulti.Hidden() == ev.Component.Common().IsMulti.Hidden() {
		return
	}

	d.pendingMu.Lock()
	d.pending[ev.Component.Common().ParentPage] = struct{}{}
	d.pendingMu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *Detector) run(quit <-chan struct{}) {
	defer close(d.done)
	for {
		select {
		case <-quit:
			return
		case <-d.wake:
		}

		d.pendingMu.Lock()
		pages := d.pending
		d.pending = make(map[string]struct{})
		d.pendingMu.Unlock()

		for page := range pages {
			if err := d.RecomputePage(page); err != nil {
				d.logger.Warn("Failed to recompute overlaps",
					zap.String("page", page),
					zap.Error(err))
			}
		}
	}
}

func (d *Detector) Grid() float64 { return d.grid }

// CheckOverlap snaps the proposed geometry, stores it and recomputes the
// overlap set of the component and of every component it entered or left.
// It returns the ids the component now overlaps.
func (d *Detector) CheckOverlap(id string, proposed geometry.Rect) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	c, err := d.commitLocked(id, proposed)
	if err != nil {
		return nil, err
	}
	if err := d.refreshLocked(c.Common().ParentPage); err != nil {
		return nil, err
	}
	return d.table.Overlaps(id), nil
}

// MoveSelection moves every listed component by (dx, dy) and recomputes
// overlaps once for the affected pages.
func (d *Detector) MoveSelection(ids []string, dx, dy float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	pages := make(map[string]struct{})
	for _, id := range ids {
		c, ok := d.table.GetComponentByID(id)
		if !ok {
			return fmt.Errorf("component %s: %w", id, types.ErrComponentNotFound)
		}
		moved, err := d.commitLocked(id, rectOf(c).Translate(dx, dy))
		if err != nil {
			return err
		}
		pages[moved.Common().ParentPage] = struct{}{}
	}

	for page := range pages {
		if err := d.refreshLocked(page); err != nil {
			return err
		}
	}
	return nil
}

// Recompute rebuilds the overlap results of every page, as after a load.
func (d *Detector) Recompute() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, p := range d.table.Pages() {
		if err := d.refreshLocked(p.ID); err != nil {
			return err
		}
	}
	return nil
}

// RecomputePage rebuilds the overlap results of one page.
func (d *Detector) RecomputePage(pageID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.refreshLocked(pageID)
}

func (d *Detector) commitLocked(id string, proposed geometry.Rect) (types.Component, error) {
	return d.table.Mutate(id, func(c types.Component) (types.Component, error) {
		b := c.Common()
		r := proposed.AtLeast(b.MinWidth, b.MinHeight).Snapped(d.grid)
		b.X, b.Y, b.Width, b.Height = r.X, r.Y, r.Width, r.Height
		return c, nil
	})
}

func (d *Detector) refreshLocked(pageID string) error {
	comps, err := d.table.PageComponents(pageID)
	if err != nil {
		return err
	}

	result := Overlapping(comps)
	updates := make(map[string][]string, len(comps))
	for _, c := range comps {
		updates[c.Common().ID] = result[c.Common().ID]
	}
	d.table.SetOverlaps(updates)

	count := 0
	for _, others := range d.table.AllOverlaps() {
		if len(others) > 0 {
			count++
		}
	}
	metrics.SetOverlapping(count)

	if len(result) > 0 {
		d.logger.Debug("Overlapping components",
			zap.String("page", pageID),
			zap.Int("count", len(result)))
	}
	return nil
}

// Overlapping returns, for each component, the ids of the other components
// whose boxes strictly intersect it. Components hidden inside a multi are
// not laid out and never overlap. The result is symmetric.
func Overlapping(comps []types.Component) map[string][]string {
	out := make(map[string][]string)
	for i := 0; i < len(comps); i++ {
		a := comps[i].Common()
		if a.IsMulti.Hidden() {
			continue
		}
		for j := i + 1; j < len(comps); j++ {
			b := comps[j].Common()
			if b.IsMulti.Hidden() {
				continue
			}
			if rectOf(comps[i]).Intersects(rectOf(comps[j])) {
				out[a.ID] = append(out[a.ID], b.ID)
				out[b.ID] = append(out[b.ID], a.ID)
			}
		}
	}
	for id := range out {
		sort.Strings(out[id])
	}
	return out
}

func rectOf(c types.Component) geometry.Rect {
	b := c.Common()
	return geometry.Rect{X: b.X, Y: b.Y, Width: b.Width, Height: b.Height}
}
