package sequencer

import (
	"context"
	"fmt"
	"time"

	"github.com/KevinKickass/OpenPanelCore/internal/components"
	"github.com/KevinKickass/OpenPanelCore/internal/types"
	"go.uber.org/zap"
)

// editSession is the open Multi edit. steps is the working copy; the
// stored multi keeps its committed steps until Commit.
type editSession struct {
	multiID  string
	creating bool
	steps    []types.MultiStep
	started  time.Time
}

// Draft is a view of the open edit session.
type Draft struct {
	MultiID   string            `json:"multi_id"`
	Creating  bool              `json:"creating"`
	Steps     []types.MultiStep `json:"steps"`
	StartedAt time.Time         `json:"started_at"`
}

// BeginEdit opens an edit session on an existing multi. Only one session
// can be open at a time.
func (s *Sequencer) BeginEdit(multiID string) (Draft, error) {
	c, ok := s.table.GetComponentByID(multiID)
	if !ok {
		return Draft{}, fmt.Errorf("multi %s: %w", multiID, types.ErrComponentNotFound)
	}
	m, ok := c.(*types.MultiComponent)
	if !ok {
		return Draft{}, fmt.Errorf("component %s is a %s, not a multi", multiID, c.Kind())
	}
	return s.open(m, false)
}

// BeginCreate stores a new, empty multi and opens an edit session on it.
// Rolling the session back removes the multi again.
func (s *Sequencer) BeginCreate(draft *types.MultiComponent) (Draft, error) {
	s.mu.Lock()
	if s.edit != nil {
		s.mu.Unlock()
		return Draft{}, types.ErrEditSessionOpen
	}
	s.mu.Unlock()

	m := draft.Clone().(*types.MultiComponent)
	m.Type = types.TypeMulti
	m.IsMulti = types.MultiFalse
	m.Components = nil

	stored, err := s.table.AddComponent(m)
	if err != nil {
		return Draft{}, fmt.Errorf("failed to create multi: %w", err)
	}
	_, err = s.open(stored.(*types.MultiComponent), true)
	if err != nil {
		s.table.RemoveComponent(stored.Common().ID)
		return Draft{}, err
	}

	for _, step := range draft.Components {
		if err := s.AddMember(step); err != nil {
			s.Rollback()
			return Draft{}, err
		}
	}
	return s.Draft()
}

func (s *Sequencer) open(m *types.MultiComponent, creating bool) (Draft, error) {
	s.mu.Lock()
	if s.edit != nil {
		s.mu.Unlock()
		return Draft{}, types.ErrEditSessionOpen
	}
	s.edit = &editSession{
		multiID:  m.ID,
		creating: creating,
		steps:    append([]types.MultiStep(nil), m.Components...),
		started:  time.Now(),
	}
	d := s.draftLocked()
	s.mu.Unlock()

	s.logger.Info("Multi edit session opened", zap.String("multi_id", m.ID), zap.Bool("creating", creating))
	s.streamer.Broadcast(Event{Type: EventEditStarted, MultiID: m.ID, StepIndex: -1, Timestamp: time.Now()})
	return d, nil
}

func (s *Sequencer) Draft() (Draft, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.edit == nil {
		return Draft{}, types.ErrNoEditSession
	}
	return s.draftLocked(), nil
}

// EditOpen reports whether a multi edit session is open.
func (s *Sequencer) EditOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.edit != nil
}

func (s *Sequencer) draftLocked() Draft {
	return Draft{
		MultiID:   s.edit.multiID,
		Creating:  s.edit.creating,
		Steps:     append([]types.MultiStep(nil), s.edit.steps...),
		StartedAt: s.edit.started,
	}
}

// AddMember appends a step for a component and marks the component
// pendingSave. A member removed earlier in the session returns to true.
func (s *Sequencer) AddMember(step types.MultiStep) error {
	c, ok := s.table.GetComponentByID(step.Component)
	if !ok {
		return fmt.Errorf("member %s: %w", step.Component, types.ErrUnknownMemberReference)
	}
	if !types.IsMultiOption(c) {
		return fmt.Errorf("member %s (%s): %w", step.Component, c.Kind(), types.ErrNotMultiOption)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.edit == nil {
		return types.ErrNoEditSession
	}
	for _, existing := range s.edit.steps {
		if existing.Component == step.Component {
			return fmt.Errorf("member %s is already part of the multi", step.Component)
		}
	}

	next := c.Common().IsMulti
	switch next {
	case types.MultiFalse:
		next = types.MultiPendingSave
	case types.MultiPendingDelete:
		next = types.MultiTrue
	}
	if err := s.setStateLocked(step.Component, next); err != nil {
		return err
	}
	s.edit.steps = append(s.edit.steps, step)
	return nil
}

// RemoveMember drops the step of a component and marks the component
// pendingDelete. A member added in this session returns to false.
func (s *Sequencer) RemoveMember(componentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.edit == nil {
		return types.ErrNoEditSession
	}

	idx := -1
	for i, step := range s.edit.steps {
		if step.Component == componentID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("member %s: %w", componentID, types.ErrUnknownMemberReference)
	}
	s.edit.steps = append(s.edit.steps[:idx], s.edit.steps[idx+1:]...)

	c, ok := s.table.GetComponentByID(componentID)
	if !ok {
		// dangling step, nothing to mark
		return nil
	}
	next := c.Common().IsMulti
	switch next {
	case types.MultiPendingSave:
		next = types.MultiFalse
	case types.MultiTrue:
		next = types.MultiPendingDelete
	}
	return s.setStateLocked(componentID, next)
}

// UpdateStep changes the timing of the step at index. The member it refers
// to cannot change.
func (s *Sequencer) UpdateStep(index int, step types.MultiStep) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.edit == nil {
		return types.ErrNoEditSession
	}
	if index < 0 || index >= len(s.edit.steps) {
		return fmt.Errorf("step index %d out of range", index)
	}
	if step.Component != s.edit.steps[index].Component {
		return fmt.Errorf("step %d: %w", index, types.ErrImmutableField)
	}
	s.edit.steps[index] = step
	return nil
}

// MoveStep reorders the working step list.
func (s *Sequencer) MoveStep(from, to int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.edit == nil {
		return types.ErrNoEditSession
	}
	n := len(s.edit.steps)
	if from < 0 || from >= n || to < 0 || to >= n {
		return fmt.Errorf("step move %d -> %d out of range", from, to)
	}
	step := s.edit.steps[from]
	steps := append(s.edit.steps[:from:from], s.edit.steps[from+1:]...)
	steps = append(steps[:to], append([]types.MultiStep{step}, steps[to:]...)...)
	s.edit.steps = steps
	return nil
}

// SetSteps replaces the working step list, adding and removing members as
// needed.
func (s *Sequencer) SetSteps(steps []types.MultiStep) error {
	d, err := s.Draft()
	if err != nil {
		return err
	}

	want := make(map[string]bool, len(steps))
	for _, step := range steps {
		if want[step.Component] {
			return fmt.Errorf("member %s listed twice", step.Component)
		}
		want[step.Component] = true
	}

	have := make(map[string]bool, len(d.Steps))
	for _, step := range d.Steps {
		have[step.Component] = true
		if !want[step.Component] {
			if err := s.RemoveMember(step.Component); err != nil {
				return err
			}
		}
	}
	for _, step := range steps {
		if !have[step.Component] {
			if err := s.AddMember(step); err != nil {
				return err
			}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.edit == nil {
		return types.ErrNoEditSession
	}
	s.edit.steps = append([]types.MultiStep(nil), steps...)
	return nil
}

// Commit runs the pending pre-submit operation, then resolves every pending
// state and stores the working steps in one transaction. A failed
// pre-submit leaves the session open.
func (s *Sequencer) Commit(ctx context.Context) error {
	s.mu.Lock()
	edit := s.edit
	s.mu.Unlock()
	if edit == nil {
		return types.ErrNoEditSession
	}

	if err := s.table.ExecutePreSubmit(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.edit != edit {
		return types.ErrNoEditSession
	}

	var dropped []string
	err := s.table.Transaction(func(tx *components.Tx) error {
		c, ok := tx.Get(edit.multiID)
		if !ok {
			return fmt.Errorf("multi %s: %w", edit.multiID, types.ErrComponentNotFound)
		}
		m := c.(*types.MultiComponent)

		steps := make([]types.MultiStep, 0, len(edit.steps))
		for _, step := range edit.steps {
			if _, ok := tx.Get(step.Component); !ok {
				dropped = append(dropped, step.Component)
				continue
			}
			steps = append(steps, step)
		}
		m.Components = steps
		if err := tx.Put(m); err != nil {
			return err
		}

		referenced := referencedBy(tx)
		return resolvePending(tx, func(id string, st types.MultiState) types.MultiState {
			if st == types.MultiPendingSave {
				return types.MultiTrue
			}
			if referenced[id] {
				return types.MultiTrue
			}
			return types.MultiFalse
		})
	})
	if err != nil {
		return fmt.Errorf("failed to commit multi %s: %w", edit.multiID, err)
	}
	s.edit = nil

	for _, id := range dropped {
		s.logger.Warn("Dropped step for missing member",
			zap.String("multi_id", edit.multiID),
			zap.String("component_id", id))
	}
	s.logger.Info("Multi edit session committed", zap.String("multi_id", edit.multiID))
	s.streamer.Broadcast(Event{Type: EventEditCommitted, MultiID: edit.multiID, StepIndex: -1, Timestamp: time.Now()})
	return nil
}

// Rollback restores every member's pre-session state and discards the
// working steps and the pending pre-submit operation.
func (s *Sequencer) Rollback() error {
	s.mu.Lock()
	edit := s.edit
	if edit == nil {
		s.mu.Unlock()
		return types.ErrNoEditSession
	}

	err := s.table.Transaction(func(tx *components.Tx) error {
		return resolvePending(tx, func(id string, st types.MultiState) types.MultiState {
			if st == types.MultiPendingSave {
				return types.MultiFalse
			}
			return types.MultiTrue
		})
	})
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to roll back multi %s: %w", edit.multiID, err)
	}
	s.edit = nil
	s.mu.Unlock()

	s.table.ResetPreSubmit()
	if edit.creating {
		if err := s.table.RemoveComponent(edit.multiID); err != nil {
			s.logger.Warn("Failed to remove abandoned multi",
				zap.String("multi_id", edit.multiID),
				zap.Error(err))
		}
	}

	s.logger.Info("Multi edit session rolled back", zap.String("multi_id", edit.multiID))
	s.streamer.Broadcast(Event{Type: EventEditReverted, MultiID: edit.multiID, StepIndex: -1, Timestamp: time.Now()})
	return nil
}

func (s *Sequencer) setStateLocked(id string, st types.MultiState) error {
	_, err := s.table.Mutate(id, func(c types.Component) (types.Component, error) {
		c.Common().IsMulti = st
		return c, nil
	})
	return err
}

// resolvePending maps every pending state in the table through resolve.
func resolvePending(tx *components.Tx, resolve func(id string, st types.MultiState) types.MultiState) error {
	var pending []types.Component
	tx.Range(func(c types.Component) {
		if c.Common().IsMulti.IsPending() {
			pending = append(pending, c)
		}
	})
	for _, c := range pending {
		id := c.Common().ID
		if err := tx.SetMultiState(id, resolve(id, c.Common().IsMulti)); err != nil {
			return err
		}
	}
	return nil
}

// referencedBy returns the ids referenced by the staged multis.
func referencedBy(tx *components.Tx) map[string]bool {
	refs := make(map[string]bool)
	tx.Range(func(c types.Component) {
		if m, ok := c.(*types.MultiComponent); ok {
			for _, id := range m.Members() {
				refs[id] = true
			}
		}
	})
	return refs
}
