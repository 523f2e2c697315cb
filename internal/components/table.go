package components

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/KevinKickass/OpenPanelCore/internal/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Defaults applied to components created without a size.
const (
	DefaultWidth     = 300
	DefaultHeight    = 175
	DefaultMinWidth  = 50
	DefaultMinHeight = 50
)

// PreSubmitFunc is deferred work that must finish before a component edit
// is committed, such as an upload started by the editor form.
type PreSubmitFunc func(ctx context.Context) error

// Snapshot is a complete copy of the table contents.
type Snapshot struct {
	Pages       []types.Page       `json:"pages"`
	Components  types.ComponentMap `json:"components"`
	CurrentPage int                `json:"currentPage"`
}

// Table is the flat id-keyed component store with its pages, the current
// page, the selection and the overlap results of the layout editor.
// Components are immutable once stored; every change replaces the value.
type Table struct {
	mu          sync.RWMutex
	components  map[string]types.Component
	pages       []types.Page
	currentPage int
	selected    map[string]struct{}
	overlaps    map[string][]string
	preSubmit   PreSubmitFunc

	events *dispatcher
	logger *zap.Logger
}

func NewTable(logger *zap.Logger) *Table {
	t := &Table{
		components: make(map[string]types.Component),
		selected:   make(map[string]struct{}),
		overlaps:   make(map[string][]string),
		events:     newDispatcher(),
		logger:     logger,
	}
	t.pages = []types.Page{{ID: uuid.NewString()}}
	return t
}

// Subscribe registers fn for table events. Events are delivered in
// mutation order after the table lock is released.
func (t *Table) Subscribe(fn func(Event)) (cancel func()) {
	return t.events.subscribe(fn)
}

// AddComponent stores c, assigning an id when it has none. The component
// lands on its parentPage, or on the current page.
func (t *Table) AddComponent(c types.Component) (types.Component, error) {
	c = c.Clone()
	b := c.Common()
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	if b.Type == "" {
		b.Type = c.Kind()
	}
	if b.Type != c.Kind() {
		return nil, fmt.Errorf("component %s: type %q does not match %q", b.ID, b.Type, c.Kind())
	}
	if b.IsMulti == "" {
		b.IsMulti = types.MultiFalse
	}
	if !b.IsMulti.Valid() {
		return nil, fmt.Errorf("component %s: invalid isMulti %q", b.ID, b.IsMulti)
	}
	if b.IsMulti.IsPending() {
		return nil, fmt.Errorf("component %s: isMulti %q: %w", b.ID, b.IsMulti, types.ErrMembershipOutsideEdit)
	}
	applyDefaults(b)

	t.mu.Lock()
	if _, exists := t.components[b.ID]; exists {
		t.mu.Unlock()
		return nil, fmt.Errorf("component %s: %w", b.ID, types.ErrComponentExists)
	}
	if err := t.checkMembersLocked(c); err != nil {
		t.mu.Unlock()
		return nil, err
	}

	pageIdx := t.currentPage
	if b.ParentPage != "" {
		idx, ok := t.pageIndexLocked(b.ParentPage)
		if !ok {
			t.mu.Unlock()
			return nil, fmt.Errorf("page %s: %w", b.ParentPage, types.ErrPageNotFound)
		}
		pageIdx = idx
	}
	b.ParentPage = t.pages[pageIdx].ID
	t.pages[pageIdx].Components = append(t.pages[pageIdx].Components, b.ID)
	t.components[b.ID] = c
	t.mu.Unlock()

	t.logger.Debug("Component added",
		zap.String("component_id", b.ID),
		zap.String("type", string(b.Type)))

	t.events.publish(Event{Type: EventAdded, ID: b.ID, Component: c.Clone()})
	return c.Clone(), nil
}

// checkMembersLocked accepts a multi only when it is committed: not itself
// a member, and every step naming an existing member marked true.
func (t *Table) checkMembersLocked(c types.Component) error {
	m, ok := c.(*types.MultiComponent)
	if !ok {
		return nil
	}
	if m.IsMulti != types.MultiFalse {
		return fmt.Errorf("multi %s: isMulti %q: %w", m.ID, m.IsMulti, types.ErrMembershipOutsideEdit)
	}
	for _, id := range m.Members() {
		member, ok := t.components[id]
		if !ok {
			return fmt.Errorf("multi %s: member %s: %w", m.ID, id, types.ErrUnknownMemberReference)
		}
		if !types.IsMultiOption(member) {
			return fmt.Errorf("multi %s: member %s (%s): %w", m.ID, id, member.Kind(), types.ErrNotMultiOption)
		}
		if member.Common().IsMulti != types.MultiTrue {
			return fmt.Errorf("multi %s: member %s is %q: %w", m.ID, id, member.Common().IsMulti, types.ErrMembershipOutsideEdit)
		}
	}
	return nil
}

// UpdateComponent merges patch into the component. Moving a component to
// another parentPage moves it between pages. Membership (isMulti and a
// multi's steps) only changes through a multi edit session.
func (t *Table) UpdateComponent(id string, patch types.Patch) (types.Component, error) {
	return t.Mutate(id, func(c types.Component) (types.Component, error) {
		return types.ApplyPatch(c, patch)
	})
}

// Mutate replaces the component with the result of fn, which receives a
// private copy.
func (t *Table) Mutate(id string, fn func(types.Component) (types.Component, error)) (types.Component, error) {
	t.mu.Lock()
	prev, ok := t.components[id]
	if !ok {
		t.mu.Unlock()
		return nil, fmt.Errorf("component %s: %w", id, types.ErrComponentNotFound)
	}

	next, err := fn(prev.Clone())
	if err != nil {
		t.mu.Unlock()
		return nil, err
	}
	nb := next.Common()
	if nb.ID != id || nb.Type != prev.Kind() {
		t.mu.Unlock()
		return nil, fmt.Errorf("component %s: %w", id, types.ErrImmutableField)
	}
	if !nb.IsMulti.Valid() {
		t.mu.Unlock()
		return nil, fmt.Errorf("component %s: invalid isMulti %q", id, nb.IsMulti)
	}

	if nb.ParentPage != prev.Common().ParentPage {
		if err := t.movePageLocked(id, prev.Common().ParentPage, nb.ParentPage); err != nil {
			t.mu.Unlock()
			return nil, err
		}
	}
	t.components[id] = next
	t.mu.Unlock()

	t.events.publish(Event{Type: EventUpdated, ID: id, Component: next.Clone(), Previous: prev})
	return next.Clone(), nil
}

// RemoveComponent deletes a component. Removing a multi releases members no
// other multi references; steps that referenced a removed member dangle.
func (t *Table) RemoveComponent(id string) error {
	t.mu.Lock()
	prev, ok := t.components[id]
	if !ok {
		t.mu.Unlock()
		return fmt.Errorf("component %s: %w", id, types.ErrComponentNotFound)
	}

	delete(t.components, id)
	if idx, ok := t.pageIndexLocked(prev.Common().ParentPage); ok {
		t.pages[idx].Components = without(t.pages[idx].Components, id)
	}
	delete(t.selected, id)
	t.dropOverlapsLocked(id)

	events := []Event{{Type: EventRemoved, ID: id, Previous: prev}}
	if multi, ok := prev.(*types.MultiComponent); ok {
		referenced := t.referencedLocked()
		for _, member := range multi.Members() {
			c, ok := t.components[member]
			if !ok || referenced[member] || c.Common().IsMulti == types.MultiFalse {
				continue
			}
			next := c.Clone()
			next.Common().IsMulti = types.MultiFalse
			t.components[member] = next
			events = append(events, Event{Type: EventUpdated, ID: member, Component: next.Clone(), Previous: c})
		}
	}
	t.mu.Unlock()

	t.logger.Debug("Component removed", zap.String("component_id", id))
	t.events.publish(events...)
	return nil
}

// GetComponentByID returns a copy of the component.
func (t *Table) GetComponentByID(id string) (types.Component, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	c, ok := t.components[id]
	if !ok {
		return nil, false
	}
	return c.Clone(), true
}

// List returns copies of all components ordered by id.
func (t *Table) List() []types.Component {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]types.Component, 0, len(t.components))
	for _, c := range t.components {
		out = append(out, c.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Common().ID < out[j].Common().ID })
	return out
}

// PageComponents returns copies of the components placed on a page, in page
// order.
func (t *Table) PageComponents(pageID string) ([]types.Component, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	idx, ok := t.pageIndexLocked(pageID)
	if !ok {
		return nil, fmt.Errorf("page %s: %w", pageID, types.ErrPageNotFound)
	}
	out := make([]types.Component, 0, len(t.pages[idx].Components))
	for _, id := range t.pages[idx].Components {
		if c, ok := t.components[id]; ok {
			out = append(out, c.Clone())
		}
	}
	return out, nil
}

func (t *Table) Pages() []types.Page {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]types.Page, len(t.pages))
	for i, p := range t.pages {
		out[i] = p.Clone()
	}
	return out
}

func (t *Table) AddPage(x, y float64) types.Page {
	t.mu.Lock()
	p := types.Page{ID: uuid.NewString(), X: x, Y: y}
	t.pages = append(t.pages, p)
	t.mu.Unlock()

	t.events.publish(Event{Type: EventPagesChanged, Page: p.ID})
	return p.Clone()
}

// RemovePage deletes an empty page. The last page cannot be removed.
func (t *Table) RemovePage(id string) error {
	t.mu.Lock()
	idx, ok := t.pageIndexLocked(id)
	if !ok {
		t.mu.Unlock()
		return fmt.Errorf("page %s: %w", id, types.ErrPageNotFound)
	}
	if len(t.pages[idx].Components) > 0 {
		t.mu.Unlock()
		return fmt.Errorf("page %s still has %d components", id, len(t.pages[idx].Components))
	}
	if len(t.pages) == 1 {
		t.mu.Unlock()
		return fmt.Errorf("cannot remove the last page")
	}
	t.pages = append(t.pages[:idx], t.pages[idx+1:]...)
	if t.currentPage >= len(t.pages) {
		t.currentPage = len(t.pages) - 1
	}
	t.mu.Unlock()

	t.events.publish(Event{Type: EventPagesChanged, Page: id})
	return nil
}

// CurrentPage returns the index and a copy of the page on display.
func (t *Table) CurrentPage() (int, types.Page) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.currentPage, t.pages[t.currentPage].Clone()
}

// GoToPage switches the page on display.
func (t *Table) GoToPage(index int) error {
	t.mu.Lock()
	if index < 0 || index >= len(t.pages) {
		t.mu.Unlock()
		return fmt.Errorf("page index %d: %w", index, types.ErrPageNotFound)
	}
	changed := t.currentPage != index
	t.currentPage = index
	id := t.pages[index].ID
	t.mu.Unlock()

	if changed {
		t.events.publish(Event{Type: EventPageChanged, Page: id, PageIndex: index})
	}
	return nil
}

// Select replaces the selection. Unknown ids are ignored.
func (t *Table) Select(ids ...string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.selected = make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := t.components[id]; ok {
			t.selected[id] = struct{}{}
		}
	}
}

func (t *Table) Selected() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]string, 0, len(t.selected))
	for id := range t.selected {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// SetPreSubmit installs the operation ExecutePreSubmit runs next.
func (t *Table) SetPreSubmit(fn PreSubmitFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.preSubmit = fn
}

// ExecutePreSubmit runs and clears the pending pre-submit operation.
func (t *Table) ExecutePreSubmit(ctx context.Context) error {
	t.mu.Lock()
	fn := t.preSubmit
	t.preSubmit = nil
	t.mu.Unlock()

	if fn == nil {
		return nil
	}
	if err := fn(ctx); err != nil {
		return fmt.Errorf("pre-submit operation: %w", err)
	}
	return nil
}

func (t *Table) ResetPreSubmit() {
	t.SetPreSubmit(nil)
}

func (t *Table) HasPreSubmit() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.preSubmit != nil
}

// Snapshot copies the whole table.
func (t *Table) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()

	s := Snapshot{
		Pages:       make([]types.Page, len(t.pages)),
		Components:  make(types.ComponentMap, len(t.components)),
		CurrentPage: t.currentPage,
	}
	for i, p := range t.pages {
		s.Pages[i] = p.Clone()
	}
	for id, c := range t.components {
		s.Components[id] = c.Clone()
	}
	return s
}

// Replace swaps in new contents, as when a project is loaded. Page
// membership is rebuilt from the pages list; components on no page are
// placed on the first page.
func (t *Table) Replace(s Snapshot) error {
	pages := make([]types.Page, 0, len(s.Pages))
	for _, p := range s.Pages {
		pages = append(pages, p.Clone())
	}
	if len(pages) == 0 {
		pages = append(pages, types.Page{ID: uuid.NewString()})
	}

	comps := make(map[string]types.Component, len(s.Components))
	for id, c := range s.Components {
		if c.Common().ID != id {
			return fmt.Errorf("component %s: id mismatch %q", id, c.Common().ID)
		}
		comps[id] = c.Clone()
	}

	placed := make(map[string]bool, len(comps))
	for i := range pages {
		kept := pages[i].Components[:0]
		for _, id := range pages[i].Components {
			c, ok := comps[id]
			if !ok || placed[id] {
				continue
			}
			placed[id] = true
			c.Common().ParentPage = pages[i].ID
			kept = append(kept, id)
		}
		pages[i].Components = kept
	}
	orphans := make([]string, 0)
	for id := range comps {
		if !placed[id] {
			orphans = append(orphans, id)
		}
	}
	sort.Strings(orphans)
	for _, id := range orphans {
		comps[id].Common().ParentPage = pages[0].ID
		pages[0].Components = append(pages[0].Components, id)
	}

	current := s.CurrentPage
	if current < 0 || current >= len(pages) {
		current = 0
	}

	t.mu.Lock()
	prev := t.components
	t.components = comps
	t.pages = pages
	t.currentPage = current
	t.selected = make(map[string]struct{})
	t.overlaps = make(map[string][]string)
	t.preSubmit = nil
	t.mu.Unlock()

	t.logger.Info("Component table replaced",
		zap.Int("components", len(comps)),
		zap.Int("pages", len(pages)))
	t.events.publish(Event{Type: EventReplaced, Removed: prev})
	return nil
}

// Transaction applies fn atomically. fn works on a staged copy through tx;
// nothing is visible until it returns nil. fn must not call Table methods.
func (t *Table) Transaction(fn func(tx *Tx) error) error {
	t.mu.Lock()
	tx := &Tx{
		base:   t.components,
		staged: make(map[string]types.Component),
	}
	if err := fn(tx); err != nil {
		t.mu.Unlock()
		return err
	}

	ids := make([]string, 0, len(tx.staged))
	for id := range tx.staged {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	events := make([]Event, 0, len(ids))
	for _, id := range ids {
		prev := t.components[id]
		next := tx.staged[id]
		t.components[id] = next
		events = append(events, Event{Type: EventUpdated, ID: id, Component: next.Clone(), Previous: prev})
	}
	t.mu.Unlock()

	t.events.publish(events...)
	return nil
}

func (t *Table) pageIndexLocked(id string) (int, bool) {
	for i, p := range t.pages {
		if p.ID == id {
			return i, true
		}
	}
	return 0, false
}

func (t *Table) movePageLocked(id, from, to string) error {
	toIdx, ok := t.pageIndexLocked(to)
	if !ok {
		return fmt.Errorf("page %s: %w", to, types.ErrPageNotFound)
	}
	if fromIdx, ok := t.pageIndexLocked(from); ok {
		t.pages[fromIdx].Components = without(t.pages[fromIdx].Components, id)
	}
	t.pages[toIdx].Components = append(t.pages[toIdx].Components, id)
	t.dropOverlapsLocked(id)
	return nil
}

// referencedLocked returns the ids referenced by any stored multi.
func (t *Table) referencedLocked() map[string]bool {
	refs := make(map[string]bool)
	for _, c := range t.components {
		if m, ok := c.(*types.MultiComponent); ok {
			for _, id := range m.Members() {
				refs[id] = true
			}
		}
	}
	return refs
}

func applyDefaults(b *types.Base) {
	if b.Width == 0 {
		b.Width = DefaultWidth
	}
	if b.Height == 0 {
		b.Height = DefaultHeight
	}
	if b.MinWidth == 0 {
		b.MinWidth = DefaultMinWidth
	}
	if b.MinHeight == 0 {
		b.MinHeight = DefaultMinHeight
	}
}

func without(ids []string, id string) []string {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
