// Package postgres provides the Postgres-backed project store.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/site-thumbnailer/internal/thumbnail"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*(\.[a-zA-Z_][a-zA-Z0-9_]*)?$`)

// invalidTextRepresentation is raised when an ID is not a valid uuid literal.
const invalidTextRepresentation = "22P02"

// Config controls the Postgres connection pool used for project rows.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type querier interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Ping(context.Context) error
	Close()
}

// ProjectStore reads project ownership and writes thumbnail URLs.
type ProjectStore struct {
	pool  querier
	table string
}

// New creates a Postgres-backed ProjectStore using the provided config.
func New(ctx context.Context, cfg Config) (*ProjectStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &ProjectStore{pool: pool, table: table}, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(pool querier, table string) (*ProjectStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &ProjectStore{pool: pool, table: name}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		table = "projects"
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Close releases the underlying pool resources.
func (s *ProjectStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Ping checks database connectivity.
func (s *ProjectStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// GetProject loads a project by ID. Unknown or malformed IDs return thumbnail.ErrNotFound.
func (s *ProjectStore) GetProject(ctx context.Context, id string) (thumbnail.Project, error) {
	query := fmt.Sprintf(`
SELECT id::text, user_id::text, name, thumbnail_url, updated_at
FROM %s
WHERE id = $1`, s.table)

	var (
		project   thumbnail.Project
		name      *string
		thumbURL  *string
		updatedAt *time.Time
	)
	err := s.pool.QueryRow(ctx, query, id).Scan(&project.ID, &project.OwnerID, &name, &thumbURL, &updatedAt)
	if err != nil {
		if isNotFound(err) {
			return thumbnail.Project{}, thumbnail.ErrNotFound
		}
		return thumbnail.Project{}, fmt.Errorf("select project: %w", err)
	}
	if name != nil {
		project.Name = *name
	}
	if thumbURL != nil {
		project.ThumbnailURL = *thumbURL
	}
	if updatedAt != nil {
		project.UpdatedAt = updatedAt.UTC()
	}
	return project, nil
}

// SetThumbnailURL overwrites the project's thumbnail reference.
func (s *ProjectStore) SetThumbnailURL(ctx context.Context, id string, url string) error {
	query := fmt.Sprintf(`
UPDATE %s
SET thumbnail_url = $1, updated_at = now()
WHERE id = $2`, s.table)

	tag, err := s.pool.Exec(ctx, query, url, id)
	if err != nil {
		if isNotFound(err) {
			return thumbnail.ErrNotFound
		}
		return fmt.Errorf("update thumbnail url: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return thumbnail.ErrNotFound
	}
	return nil
}

func isNotFound(err error) bool {
	if errors.Is(err, pgx.ErrNoRows) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == invalidTextRepresentation
}
