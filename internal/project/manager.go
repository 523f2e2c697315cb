package project

import (
	"context"
	"fmt"

	"github.com/KevinKickass/OpenPanelCore/internal/components"
	"github.com/KevinKickass/OpenPanelCore/internal/storage"
	"github.com/KevinKickass/OpenPanelCore/internal/types"
	"go.uber.org/zap"
)

// EditGuard reports an open multi edit session. *sequencer.Sequencer
// implements it.
type EditGuard interface {
	EditOpen() bool
}

// Manager moves projects between the component table, files and the store.
type Manager struct {
	codec  *Codec
	table  *components.Table
	store  storage.Store
	guard  EditGuard
	logger *zap.Logger
}

func NewManager(table *components.Table, store storage.Store, guard EditGuard, logger *zap.Logger) (*Manager, error) {
	codec, err := NewCodec()
	if err != nil {
		return nil, fmt.Errorf("failed to create project codec: %w", err)
	}
	return &Manager{
		codec:  codec,
		table:  table,
		store:  store,
		guard:  guard,
		logger: logger,
	}, nil
}

func (m *Manager) Codec() *Codec { return m.codec }

// Export encodes the current table contents.
func (m *Manager) Export(name string, format Format) ([]byte, error) {
	return m.codec.Encode(FromSnapshot(name, m.table.Snapshot()), format)
}

// Import decodes data and replaces the table contents with it.
func (m *Manager) Import(data []byte, format Format) (Report, error) {
	if m.guard != nil && m.guard.EditOpen() {
		return Report{}, types.ErrEditSessionOpen
	}

	doc, rep, err := m.codec.Decode(data, format)
	if err != nil {
		return rep, err
	}
	if err := m.table.Replace(doc.Snapshot()); err != nil {
		return rep, fmt.Errorf("%w: %v", types.ErrInvalidProject, err)
	}

	for _, w := range rep.Warnings {
		m.logger.Warn("Project repaired on load",
			zap.String("code", w.Code),
			zap.String("component_id", w.ComponentID),
			zap.String("message", w.Message))
	}
	m.logger.Info("Project imported",
		zap.String("name", doc.Name),
		zap.Int("components", len(doc.Components)),
		zap.Int("pages", len(doc.Pages)))
	return rep, nil
}

// Save stores the current table contents under name.
func (m *Manager) Save(ctx context.Context, name string) error {
	if m.store == nil {
		return fmt.Errorf("no project store configured")
	}
	data, err := m.Export(name, FormatJSON)
	if err != nil {
		return err
	}
	if err := m.store.SaveProject(ctx, name, data); err != nil {
		return err
	}
	m.logger.Info("Project saved", zap.String("name", name), zap.Int("bytes", len(data)))
	return nil
}

// Load replaces the table contents with the stored project name.
func (m *Manager) Load(ctx context.Context, name string) (Report, error) {
	if m.store == nil {
		return Report{}, fmt.Errorf("no project store configured")
	}
	p, err := m.store.LoadProject(ctx, name)
	if err != nil {
		return Report{}, err
	}
	return m.Import(p.Data, FormatJSON)
}

func (m *Manager) List(ctx context.Context) ([]storage.ProjectInfo, error) {
	if m.store == nil {
		return []storage.ProjectInfo{}, nil
	}
	return m.store.ListProjects(ctx)
}

func (m *Manager) Delete(ctx context.Context, name string) error {
	if m.store == nil {
		return fmt.Errorf("project %s: %w", name, types.ErrProjectNotFound)
	}
	return m.store.DeleteProject(ctx, name)
}
