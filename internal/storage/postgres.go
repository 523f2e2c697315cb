package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/KevinKickass/OpenPanelCore/internal/config"
	"github.com/KevinKickass/OpenPanelCore/internal/types"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS panel_projects (
    name TEXT PRIMARY KEY,
    document JSONB NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

type PostgresClient struct {
	pool *pgxpool.Pool
}

func NewPostgresClient(ctx context.Context, cfg config.DatabaseConfig) (*PostgresClient, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse pool config: %w", err)
	}

	if cfg.MaxConnections > 0 {
		poolConfig.MaxConns = int32(cfg.MaxConnections)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	// Connection testen
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &PostgresClient{pool: pool}, nil
}

func (p *PostgresClient) Close() {
	p.pool.Close()
}

func (p *PostgresClient) Pool() *pgxpool.Pool {
	return p.pool
}

func (p *PostgresClient) SaveProject(ctx context.Context, name string, data []byte) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO panel_projects (name, document)
		VALUES ($1, $2)
		ON CONFLICT (name) DO UPDATE SET document = EXCLUDED.document, updated_at = now()
	`, name, data)
	if err != nil {
		return fmt.Errorf("failed to save project %s: %w", name, err)
	}
	return nil
}

func (p *PostgresClient) LoadProject(ctx context.Context, name string) (*Project, error) {
	var proj Project
	err := p.pool.QueryRow(ctx, `
		SELECT name, document, created_at, updated_at
		FROM panel_projects
		WHERE name = $1
	`, name).Scan(&proj.Name, &proj.Data, &proj.CreatedAt, &proj.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("project %s: %w", name, types.ErrProjectNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load project %s: %w", name, err)
	}
	return &proj, nil
}

func (p *PostgresClient) ListProjects(ctx context.Context) ([]ProjectInfo, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT name, octet_length(document::text), updated_at
		FROM panel_projects
		ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer rows.Close()

	out := make([]ProjectInfo, 0)
	for rows.Next() {
		var info ProjectInfo
		if err := rows.Scan(&info.Name, &info.Size, &info.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}
		out = append(out, info)
	}
	return out, rows.Err()
}

func (p *PostgresClient) DeleteProject(ctx context.Context, name string) error {
	tag, err := p.pool.Exec(ctx, `DELETE FROM panel_projects WHERE name = $1`, name)
	if err != nil {
		return fmt.Errorf("failed to delete project %s: %w", name, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("project %s: %w", name, types.ErrProjectNotFound)
	}
	return nil
}
