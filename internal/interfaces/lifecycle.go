package interfaces

import (
	"context"

	"github.com/KevinKickass/OpenPanelCore/internal/actions"
	"github.com/KevinKickass/OpenPanelCore/internal/bindings"
	"github.com/KevinKickass/OpenPanelCore/internal/components"
	"github.com/KevinKickass/OpenPanelCore/internal/config"
	"github.com/KevinKickass/OpenPanelCore/internal/engine"
	"github.com/KevinKickass/OpenPanelCore/internal/layout"
	"github.com/KevinKickass/OpenPanelCore/internal/project"
	"github.com/KevinKickass/OpenPanelCore/internal/properties"
	"github.com/KevinKickass/OpenPanelCore/internal/sequencer"
)

// SystemStatus represents the current system state
type SystemStatus struct {
	State          string        `json:"state"`
	Engine         engine.Status `json:"engine"`
	ComponentCount int           `json:"component_count"`
	BoundCount     int           `json:"bound_count"`
	PageCount      int           `json:"page_count"`
	CurrentPage    int           `json:"current_page"`
	EditOpen       bool          `json:"edit_open"`
}

type LifecycleManager interface {
	Config() *config.Config
	Table() *components.Table
	Detector() *layout.Detector
	Sequencer() *sequencer.Sequencer
	Session() *engine.Session
	Properties() *properties.Manager
	Actions() *actions.Registry
	Binder() *bindings.Binder
	Projects() *project.Manager
	GetCurrentStatus() SystemStatus
	Shutdown(ctx context.Context) error
}
