// Package postgres provides Postgres-backed persistence implementations.
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

	"github.com/visibly-ai/statuswatch/internal/entity"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used by the backend.
type Config struct {
	DSN             string
	StatusTable     string
	HistoryTable    string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pgPool interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Close()
}

// Backend reads entity status rows and writes transition history. The status
// table is owned by the analysis pipeline; this service only reads it.
type Backend struct {
	pool         pgPool
	statusTable  string
	historyTable string
}

// NewBackend creates a Postgres-backed Backend using the provided config.
func NewBackend(ctx context.Context, cfg Config) (*Backend, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("backend.dsn is required")
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
	return NewBackendWithPool(pool, cfg.StatusTable, cfg.HistoryTable)
}

// NewBackendWithPool constructs a Backend from an existing pool (primarily
// for testing).
func NewBackendWithPool(pool pgPool, statusTable, historyTable string) (*Backend, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if statusTable == "" {
		statusTable = "entity_status"
	}
	if historyTable == "" {
		historyTable = "entity_transitions"
	}
	for _, table := range []string{statusTable, historyTable} {
		if !validTableName.MatchString(table) {
			return nil, fmt.Errorf("invalid table name %q", table)
		}
	}
	return &Backend{
		pool:         pool,
		statusTable:  statusTable,
		historyTable: historyTable,
	}, nil
}

// Close releases the underlying connection pool.
func (b *Backend) Close() {
	b.pool.Close()
}

// GetStatus returns the current snapshot for one entity.
func (b *Backend) GetStatus(ctx context.Context, entityID string) (entity.Snapshot, error) {
	query := fmt.Sprintf(
		`SELECT entity_id, group_id, status, last_transition_at FROM %s WHERE entity_id = $1`,
		b.statusTable,
	)
	var snap entity.Snapshot
	var status string
	err := b.pool.QueryRow(ctx, query, entityID).Scan(
		&snap.EntityID,
		&snap.GroupID,
		&status,
		&snap.LastTransitionAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return entity.Snapshot{}, fmt.Errorf("entity %q: %w", entityID, entity.ErrNotFound)
	}
	if err != nil {
		return entity.Snapshot{}, fmt.Errorf("query entity status: %w: %w", entity.ErrUnavailable, err)
	}
	snap.Status = entity.Status(status)
	return snap, nil
}

// GetStatuses returns snapshots for the given entities in one round trip.
// Unknown entities are absent from the result.
func (b *Backend) GetStatuses(ctx context.Context, entityIDs []string) (map[string]entity.Snapshot, error) {
	if len(entityIDs) == 0 {
		return map[string]entity.Snapshot{}, nil
	}
	query := fmt.Sprintf(
		`SELECT entity_id, group_id, status, last_transition_at FROM %s WHERE entity_id = ANY($1)`,
		b.statusTable,
	)
	rows, err := b.pool.Query(ctx, query, entityIDs)
	if err != nil {
		return nil, fmt.Errorf("query entity statuses: %w: %w", entity.ErrUnavailable, err)
	}
	defer rows.Close()

	out := make(map[string]entity.Snapshot, len(entityIDs))
	for rows.Next() {
		var snap entity.Snapshot
		var status string
		if err := rows.Scan(&snap.EntityID, &snap.GroupID, &status, &snap.LastTransitionAt); err != nil {
			return nil, fmt.Errorf("scan entity status: %w", err)
		}
		snap.Status = entity.Status(status)
		out[snap.EntityID] = snap
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entity statuses: %w: %w", entity.ErrUnavailable, err)
	}
	return out, nil
}

// RecordTransition appends an accepted status observation to the history
// table. It backs the dashboard's transition timeline.
func (b *Backend) RecordTransition(ctx context.Context, evt entity.StatusEvent) error {
	query := fmt.Sprintf(
		`INSERT INTO %s (entity_id, group_id, status, source, observed_at) VALUES ($1, $2, $3, $4, $5)`,
		b.historyTable,
	)
	_, err := b.pool.Exec(ctx, query,
		evt.EntityID,
		evt.GroupID,
		string(evt.Status),
		string(evt.Source),
		evt.ObservedAt,
	)
	if err != nil {
		return fmt.Errorf("insert transition: %w", err)
	}
	return nil
}
