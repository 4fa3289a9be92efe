// Package store holds the pattern memory backends. Every backend makes the
// reinforcement upsert atomic, so concurrent observations of the same pattern
// never produce duplicate rows or lose increments.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/xkilldash9x/locus/api/schemas"
)

// DBPool abstracts pgxpool.Pool so tests can substitute pgxmock.
type DBPool interface {
	Ping(ctx context.Context) error
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Postgres is the PostgreSQL implementation of schemas.PatternStore.
type Postgres struct {
	pool DBPool
	log  *zap.Logger
}

var _ schemas.PatternStore = (*Postgres)(nil)

// NewPostgres wraps pool and verifies the connection.
func NewPostgres(ctx context.Context, pool DBPool, logger *zap.Logger) (*Postgres, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Postgres{pool: pool, log: logger.Named("store")}, nil
}

// Connect opens a pool for url. The caller closes the returned pool.
func Connect(ctx context.Context, url string, logger *zap.Logger) (*Postgres, *pgxpool.Pool, error) {
	if url == "" {
		return nil, nil, errors.New("database url is empty")
	}
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	pg, err := NewPostgres(ctx, pool, logger)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	return pg, pool, nil
}

const sqlSchema = `
CREATE TABLE IF NOT EXISTS memory_patterns (
    id TEXT PRIMARY KEY,
    project_id TEXT NOT NULL,
    action_text TEXT NOT NULL,
    action_type TEXT NOT NULL,
    element_descriptor JSONB NOT NULL DEFAULT '{}',
    selector TEXT NOT NULL,
    locator_kind TEXT NOT NULL,
    url_pattern TEXT NOT NULL,
    confidence INTEGER NOT NULL,
    is_in_modal BOOLEAN NOT NULL DEFAULT FALSE,
    container_role TEXT,
    success_count INTEGER NOT NULL DEFAULT 1,
    last_used_at TIMESTAMPTZ NOT NULL,
    created_at TIMESTAMPTZ NOT NULL,
    UNIQUE (project_id, action_text, url_pattern, is_in_modal, selector)
);
CREATE INDEX IF NOT EXISTS memory_patterns_scope_idx ON memory_patterns (project_id, is_in_modal);
`

// EnsureSchema creates the patterns table and its indexes when missing.
func (s *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, sqlSchema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

const patternColumns = `id, project_id, action_text, action_type, element_descriptor, selector, locator_kind,
    url_pattern, confidence, is_in_modal, COALESCE(container_role, ''), success_count, last_used_at, created_at`

const patternOrder = `ORDER BY success_count DESC, confidence DESC, last_used_at DESC`

const sqlUpsert = `
INSERT INTO memory_patterns (id, project_id, action_text, action_type, element_descriptor, selector, locator_kind,
    url_pattern, confidence, is_in_modal, container_role, success_count, last_used_at, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NULLIF($11, ''), 1, $12, $12)
ON CONFLICT (project_id, action_text, url_pattern, is_in_modal, selector) DO UPDATE SET
    success_count = memory_patterns.success_count + 1,
    confidence = GREATEST(memory_patterns.confidence, EXCLUDED.confidence),
    last_used_at = EXCLUDED.last_used_at,
    action_type = EXCLUDED.action_type,
    element_descriptor = EXCLUDED.element_descriptor,
    locator_kind = EXCLUDED.locator_kind,
    container_role = EXCLUDED.container_role
RETURNING ` + patternColumns

// Upsert inserts p or reinforces the row sharing its key.
func (s *Postgres) Upsert(ctx context.Context, p schemas.MemoryPattern) (schemas.MemoryPattern, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	descriptor, err := json.Marshal(p.ElementDescriptor)
	if err != nil {
		return schemas.MemoryPattern{}, fmt.Errorf("failed to encode element descriptor: %w", err)
	}
	row := s.pool.QueryRow(ctx, sqlUpsert,
		p.ID, p.ProjectID, p.ActionText, string(p.ActionType), descriptor, p.Selector, string(p.LocatorKind),
		p.URLPattern, p.Confidence, p.IsInModal, p.ContainerRole, p.LastUsedAt.UTC(),
	)
	out, err := scanPattern(row)
	if err != nil {
		return schemas.MemoryPattern{}, fmt.Errorf("failed to upsert pattern: %w", err)
	}
	return out, nil
}

// FindExact returns the patterns matching the full lookup key, best first.
func (s *Postgres) FindExact(ctx context.Context, projectID, actionText, urlPattern string, inModal bool) ([]schemas.MemoryPattern, error) {
	query := `SELECT ` + patternColumns + ` FROM memory_patterns
        WHERE project_id = $1 AND action_text = $2 AND url_pattern = $3 AND is_in_modal = $4 ` + patternOrder
	return s.query(ctx, query, projectID, actionText, urlPattern, inModal)
}

// FindPartial returns the patterns in scope whose action text contains token.
func (s *Postgres) FindPartial(ctx context.Context, projectID, token string, inModal bool) ([]schemas.MemoryPattern, error) {
	query := `SELECT ` + patternColumns + ` FROM memory_patterns
        WHERE project_id = $1 AND is_in_modal = $2 AND strpos(action_text, $3) > 0 ` + patternOrder
	return s.query(ctx, query, projectID, inModal, token)
}

// ListScope returns every pattern of a project with the given modal flag.
func (s *Postgres) ListScope(ctx context.Context, projectID string, inModal bool) ([]schemas.MemoryPattern, error) {
	query := `SELECT ` + patternColumns + ` FROM memory_patterns
        WHERE project_id = $1 AND is_in_modal = $2 ` + patternOrder
	return s.query(ctx, query, projectID, inModal)
}

// Top returns the limit most reinforced patterns of a project.
func (s *Postgres) Top(ctx context.Context, projectID string, limit int) ([]schemas.MemoryPattern, error) {
	query := `SELECT ` + patternColumns + ` FROM memory_patterns
        WHERE project_id = $1 ` + patternOrder + ` LIMIT $2`
	return s.query(ctx, query, projectID, limit)
}

// Cleanup deletes weak, stale patterns: those with fewer than minSuccess
// successes that were also last used before cutoff.
func (s *Postgres) Cleanup(ctx context.Context, projectID string, minSuccess int, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM memory_patterns WHERE project_id = $1 AND success_count < $2 AND last_used_at < $3`,
		projectID, minSuccess, cutoff.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to clean up patterns: %w", err)
	}
	n := tag.RowsAffected()
	s.log.Debug("Cleaned up patterns", zap.String("project", projectID), zap.Int64("deleted", n))
	return n, nil
}

func (s *Postgres) query(ctx context.Context, query string, args ...any) ([]schemas.MemoryPattern, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query patterns: %w", err)
	}
	defer rows.Close()

	var out []schemas.MemoryPattern
	for rows.Next() {
		p, err := scanPattern(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan pattern row: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return out, nil
}

func scanPattern(row pgx.Row) (schemas.MemoryPattern, error) {
	var (
		p                schemas.MemoryPattern
		actionType, kind string
		descriptor       []byte
	)
	err := row.Scan(
		&p.ID, &p.ProjectID, &p.ActionText, &actionType, &descriptor, &p.Selector, &kind,
		&p.URLPattern, &p.Confidence, &p.IsInModal, &p.ContainerRole, &p.SuccessCount, &p.LastUsedAt, &p.CreatedAt,
	)
	if err != nil {
		return schemas.MemoryPattern{}, err
	}
	p.ActionType = schemas.ActionType(actionType)
	p.LocatorKind = schemas.LocatorKind(kind)
	if len(descriptor) > 0 {
		if err := json.Unmarshal(descriptor, &p.ElementDescriptor); err != nil {
			return schemas.MemoryPattern{}, fmt.Errorf("failed to decode element descriptor: %w", err)
		}
	}
	return p, nil
}
