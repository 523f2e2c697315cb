package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/KevinKickass/OpenPanelCore/internal/types"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS projects (
    name TEXT PRIMARY KEY,
    data BLOB NOT NULL,
    created_at INTEGER NOT NULL,   -- UnixNano
    updated_at INTEGER NOT NULL
);
`

// SQLiteStore keeps projects in a local database file.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite store needs a path")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	dsn := "file:" + path +
		"?_pragma=journal_mode(WAL)" +
		"&_pragma=synchronous(NORMAL)" +
		"&_pragma=busy_timeout(5000)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() {
	s.db.Close()
}

func (s *SQLiteStore) SaveProject(ctx context.Context, name string, data []byte) error {
	now := time.Now().UnixNano()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO projects (name, data, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at
	`, name, data, now, now)
	if err != nil {
		return fmt.Errorf("failed to save project %s: %w", name, err)
	}
	return nil
}

func (s *SQLiteStore) LoadProject(ctx context.Context, name string) (*Project, error) {
	var p Project
	var created, updated int64
	err := s.db.QueryRowContext(ctx, `
		SELECT name, data, created_at, updated_at FROM projects WHERE name = ?
	`, name).Scan(&p.Name, &p.Data, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("project %s: %w", name, types.ErrProjectNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load project %s: %w", name, err)
	}
	p.CreatedAt = time.Unix(0, created)
	p.UpdatedAt = time.Unix(0, updated)
	return &p, nil
}

func (s *SQLiteStore) ListProjects(ctx context.Context) ([]ProjectInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, length(data), updated_at FROM projects ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer rows.Close()

	out := make([]ProjectInfo, 0)
	for rows.Next() {
		var info ProjectInfo
		var updated int64
		if err := rows.Scan(&info.Name, &info.Size, &updated); err != nil {
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}
		info.UpdatedAt = time.Unix(0, updated)
		out = append(out, info)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) DeleteProject(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM projects WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("failed to delete project %s: %w", name, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("project %s: %w", name, types.ErrProjectNotFound)
	}
	return nil
}
