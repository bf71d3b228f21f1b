// Package postgres implements [transcript.Store] on PostgreSQL with pgx.
// The schema is managed by embedded goose migrations applied in [New].
package postgres

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/MrWong99/rtbridge/internal/transcript"
)

var _ transcript.Store = (*Store)(nil)

//go:embed migrations/*.sql
var migrations embed.FS

// Store is a PostgreSQL transcript store. All methods are safe for
// concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// New connects to dsn, pings the server and migrates the schema to the
// latest version.
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("transcript store: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("transcript store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("transcript store: ping: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &Store{pool: pool}, nil
}

// Migrate applies all pending migrations through a database/sql handle
// sharing pool's connections.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	fsys, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("transcript store: migrations: %w", err)
	}
	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	provider, err := goose.NewProvider(goose.DialectPostgres, db, fsys)
	if err != nil {
		return fmt.Errorf("transcript store: migrations: %w", err)
	}
	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("transcript store: migrate: %w", err)
	}
	for _, r := range results {
		slog.Info("transcript store: applied migration", "version", r.Source.Version, "duration", r.Duration)
	}
	return nil
}

// Write implements [transcript.Store].
func (s *Store) Write(ctx context.Context, e transcript.Entry) error {
	const q = `
		INSERT INTO transcript_entries
		    (session_id, item_id, response_id, speaker, text, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := s.pool.Exec(ctx, q,
		e.SessionID,
		e.ItemID,
		e.ResponseID,
		string(e.Speaker),
		e.Text,
		e.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("transcript store: write: %w", err)
	}
	return nil
}

// Recent implements [transcript.Store].
func (s *Store) Recent(ctx context.Context, sessionID string, limit int) ([]transcript.Entry, error) {
	const q = `
		SELECT session_id, item_id, response_id, speaker, text, created_at
		FROM (
		    SELECT *
		    FROM   transcript_entries
		    WHERE  session_id = $1
		    ORDER  BY created_at DESC, id DESC
		    LIMIT  $2
		) newest
		ORDER BY created_at, id`

	var lim any
	if limit > 0 {
		lim = limit
	}
	rows, err := s.pool.Query(ctx, q, sessionID, lim)
	if err != nil {
		return nil, fmt.Errorf("transcript store: recent: %w", err)
	}
	return collectEntries(rows)
}

// Search returns entries of sessionID whose text matches query in a
// full-text search, oldest first. An empty sessionID searches all sessions.
func (s *Store) Search(ctx context.Context, sessionID, query string, limit int) ([]transcript.Entry, error) {
	const q = `
		SELECT session_id, item_id, response_id, speaker, text, created_at
		FROM   transcript_entries
		WHERE  to_tsvector('english', text) @@ plainto_tsquery('english', $1)
		  AND  ($2 = '' OR session_id = $2)
		ORDER  BY created_at, id
		LIMIT  $3`

	var lim any
	if limit > 0 {
		lim = limit
	}
	rows, err := s.pool.Query(ctx, q, query, sessionID, lim)
	if err != nil {
		return nil, fmt.Errorf("transcript store: search: %w", err)
	}
	return collectEntries(rows)
}

// Close implements [transcript.Store].
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func collectEntries(rows pgx.Rows) ([]transcript.Entry, error) {
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (transcript.Entry, error) {
		var (
			e       transcript.Entry
			speaker string
		)
		err := row.Scan(&e.SessionID, &e.ItemID, &e.ResponseID, &speaker, &e.Text, &e.Timestamp)
		e.Speaker = transcript.Speaker(speaker)
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("transcript store: scan: %w", err)
	}
	return entries, nil
}
