package components

import (
	"fmt"
	"sync"

	"github.com/KevinKickass/OpenPanelCore/internal/types"
)

type EventType string

const (
	EventAdded        EventType = "component_added"
	EventUpdated      EventType = "component_updated"
	EventRemoved      EventType = "component_removed"
	EventReplaced     EventType = "table_replaced"
	EventPageChanged  EventType = "page_changed"
	EventPagesChanged EventType = "pages_changed"
	EventOverlaps     EventType = "overlaps_changed"
)

// Event describes one table change. Component is the new value and
// Previous the replaced one; either is nil when it does not apply.
type Event struct {
	Type      EventType
	ID        string
	Component types.Component
	Previous  types.Component
	Page      string
	PageIndex int

	// Removed holds the previous contents on EventReplaced.
	Removed map[string]types.Component
}

type subscriber struct {
	id int
	fn func(Event)
}

// dispatcher delivers events in publish order, one goroutine at a time.
// Events published by a subscriber are queued and delivered after the
// current event.
type dispatcher struct {
	mu     sync.Mutex
	queue  []Event
	subs   []subscriber
	nextID int

	deliverMu sync.Mutex
}

func newDispatcher() *dispatcher {
	return &dispatcher{}
}

func (d *dispatcher) subscribe(fn func(Event)) func() {
	d.mu.Lock()
	id := d.nextID
	d.nextID++
	d.subs = append(d.subs, subscriber{id: id, fn: fn})
	d.mu.Unlock()

	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		for i, s := range d.subs {
			if s.id == id {
				d.subs = append(d.subs[:i], d.subs[i+1:]...)
				return
			}
		}
	}
}

func (d *dispatcher) publish(events ...Event) {
	if len(events) == 0 {
		return
	}
	d.mu.Lock()
	d.queue = append(d.queue, events...)
	d.mu.Unlock()

	for {
		if !d.deliverMu.TryLock() {
			return
		}
		for {
			d.mu.Lock()
			if len(d.queue) == 0 {
				d.mu.Unlock()
				break
			}
			ev := d.queue[0]
			d.queue = d.queue[1:]
			subs := append([]subscriber(nil), d.subs...)
			d.mu.Unlock()

			for _, s := range subs {
				s.fn(ev)
			}
		}
		d.deliverMu.Unlock()

		d.mu.Lock()
		more := len(d.queue) > 0
		d.mu.Unlock()
		if !more {
			return
		}
	}
}

// Tx is a staged view of the component table inside Transaction.
type Tx struct {
	base   map[string]types.Component
	staged map[string]types.Component
}

// Get returns a copy of the staged or stored component.
func (tx *Tx) Get(id string) (types.Component, bool) {
	if c, ok := tx.staged[id]; ok {
		return c.Clone(), true
	}
	c, ok := tx.base[id]
	if !ok {
		return nil, false
	}
	return c.Clone(), true
}

// Put stages a replacement for an existing component.
func (tx *Tx) Put(c types.Component) error {
	id := c.Common().ID
	prev, ok := tx.Get(id)
	if !ok {
		return fmt.Errorf("component %s: %w", id, types.ErrComponentNotFound)
	}
	if prev.Kind() != c.Kind() {
		return fmt.Errorf("component %s: %w", id, types.ErrImmutableField)
	}
	if !c.Common().IsMulti.Valid() {
		return fmt.Errorf("component %s: invalid isMulti %q", id, c.Common().IsMulti)
	}
	next := c.Clone()
	next.Common().ParentPage = prev.Common().ParentPage
	tx.staged[id] = next
	return nil
}

// SetMultiState stages a membership change.
func (tx *Tx) SetMultiState(id string, st types.MultiState) error {
	c, ok := tx.Get(id)
	if !ok {
		return fmt.Errorf("component %s: %w", id, types.ErrComponentNotFound)
	}
	c.Common().IsMulti = st
	return tx.Put(c)
}

// Range calls fn for every component, seeing staged replacements.
func (tx *Tx) Range(fn func(types.Component)) {
	for id, c := range tx.base {
		if s, ok := tx.staged[id]; ok {
			fn(s.Clone())
			continue
		}
		fn(c.Clone())
	}
}
