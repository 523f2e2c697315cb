package components

import "sort"

// SetOverlaps replaces the overlap entries of the given components. An
// empty list clears the entry.
func (t *Table) SetOverlaps(updates map[string][]string) {
	t.mu.Lock()
	for id, others := range updates {
		if _, ok := t.components[id]; !ok {
			continue
		}
		if len(others) == 0 {
			delete(t.overlaps, id)
			continue
		}
		list := append([]string(nil), others...)
		sort.Strings(list)
		t.overlaps[id] = list
	}
	t.mu.Unlock()

	t.events.publish(Event{Type: EventOverlaps})
}

// Overlaps returns the ids the component was last found to overlap.
func (t *Table) Overlaps(id string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]string(nil), t.overlaps[id]...)
}

func (t *Table) AllOverlaps() map[string][]string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make(map[string][]string, len(t.overlaps))
	for id, others := range t.overlaps {
		out[id] = append([]string(nil), others...)
	}
	return out
}

func (t *Table) dropOverlapsLocked(id string) {
	delete(t.overlaps, id)
	for other, list := range t.overlaps {
		list = without(list, id)
		if len(list) == 0 {
			delete(t.overlaps, other)
			continue
		}
		t.overlaps[other] = list
	}
}
