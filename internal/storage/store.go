package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/KevinKickass/OpenPanelCore/internal/config"
)

// Project is a stored project document. Data holds the JSON encoding.
type Project struct {
	Name      string    `json:"name"`
	Data      []byte    `json:"data"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ProjectInfo lists a project without its document.
type ProjectInfo struct {
	Name      string    `json:"name"`
	Size      int       `json:"size"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store persists project documents by name.
type Store interface {
	SaveProject(ctx context.Context, name string, data []byte) error
	LoadProject(ctx context.Context, name string) (*Project, error)
	ListProjects(ctx context.Context) ([]ProjectInfo, error)
	DeleteProject(ctx context.Context, name string) error
	Close()
}

// Open returns the store selected by cfg.Driver.
func Open(ctx context.Context, cfg config.DatabaseConfig) (Store, error) {
	switch cfg.Driver {
	case "", "sqlite":
		return NewSQLiteStore(ctx, cfg.Path)
	case "postgres":
		return NewPostgresClient(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}
