package stores

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"

	"github.com/rekindle/rekindle/pkg/supervisor"
	"github.com/rekindle/rekindle/pkg/system"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore is the SQLite-backed transition history store.
type SQLiteStore struct {
	db   *sql.DB
	path string
	keep int
}

// Config holds SQLite store configuration.
type Config struct {
	// Path is the database file path.
	Path string

	// Keep bounds the number of retained transition records; older
	// rows are pruned after each write. Zero keeps everything.
	Keep int
}

// NewSQLiteStore creates a new SQLite store instance.
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	return &SQLiteStore{
		path: cfg.Path,
		keep: cfg.Keep,
	}, nil
}

// Init opens the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate", s.path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations from the embedded sources.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// RecordTransition implements supervisor.Recorder. Each terminal
// outcome becomes one history row; retention pruning runs after the
// insert.
func (s *SQLiteStore) RecordTransition(ctx context.Context, rec supervisor.Record) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	components, err := json.Marshal(rec.Outcome.System.Names())
	if err != nil {
		return fmt.Errorf("failed to encode component names: %w", err)
	}

	var failedComponent, cause *string
	if rec.Outcome.FailedComponent != "" {
		failedComponent = &rec.Outcome.FailedComponent
	}
	if rec.Outcome.Err != nil {
		msg := rec.Outcome.Err.Error()
		cause = &msg
	}

	query := `
		INSERT INTO transitions (id, op, state, components, failed_component, error, started_at, finished_at, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.ExecContext(ctx, query,
		rec.ID,
		string(rec.Op),
		string(rec.Outcome.State),
		string(components),
		failedComponent,
		cause,
		rec.StartedAt,
		rec.FinishedAt,
		rec.FinishedAt.Sub(rec.StartedAt).Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("failed to record transition: %w", err)
	}

	return s.prune(ctx)
}

// GetTransition retrieves a transition record by ID.
func (s *SQLiteStore) GetTransition(ctx context.Context, id string) (*Transition, error) {
	query := `
		SELECT id, op, state, components, failed_component, error, started_at, finished_at, duration_ms
		FROM transitions
		WHERE id = ?
	`

	t := &Transition{}
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&t.ID,
		&t.Op,
		&t.State,
		&t.Components,
		&t.FailedComponent,
		&t.Error,
		&t.StartedAt,
		&t.FinishedAt,
		&t.DurationMS,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("transition not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transition: %w", err)
	}

	return t, nil
}

// ListTransitions returns up to limit transition records, newest
// first. A non-positive limit returns everything.
func (s *SQLiteStore) ListTransitions(ctx context.Context, limit int) ([]*Transition, error) {
	query := `
		SELECT id, op, state, components, failed_component, error, started_at, finished_at, duration_ms
		FROM transitions
		ORDER BY finished_at DESC, id DESC
	`
	args := []interface{}{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list transitions: %w", err)
	}
	defer rows.Close()

	var transitions []*Transition
	for rows.Next() {
		t := &Transition{}
		if err := rows.Scan(
			&t.ID,
			&t.Op,
			&t.State,
			&t.Components,
			&t.FailedComponent,
			&t.Error,
			&t.StartedAt,
			&t.FinishedAt,
			&t.DurationMS,
		); err != nil {
			return nil, fmt.Errorf("failed to scan transition: %w", err)
		}
		transitions = append(transitions, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate transitions: %w", err)
	}

	return transitions, nil
}

// LatestTransition returns the most recent transition record, or nil
// when the history is empty.
func (s *SQLiteStore) LatestTransition(ctx context.Context) (*Transition, error) {
	transitions, err := s.ListTransitions(ctx, 1)
	if err != nil {
		return nil, err
	}
	if len(transitions) == 0 {
		return nil, nil
	}
	return transitions[0], nil
}

// Component wraps the store as a supervisable system component: Init
// and Migrate on start, Close on stop.
func (s *SQLiteStore) Component() system.Component {
	return system.Funcs{
		StartFunc: func(ctx context.Context) error {
			if err := s.Init(ctx); err != nil {
				return err
			}
			return s.Migrate(ctx)
		},
		StopFunc: func(ctx context.Context) error {
			return s.Close()
		},
	}
}

// prune enforces the retention bound.
func (s *SQLiteStore) prune(ctx context.Context) error {
	if s.keep <= 0 {
		return nil
	}

	query := `
		DELETE FROM transitions
		WHERE id NOT IN (
			SELECT id FROM transitions ORDER BY finished_at DESC, id DESC LIMIT ?
		)
	`
	if _, err := s.db.ExecContext(ctx, query, s.keep); err != nil {
		return fmt.Errorf("failed to prune transitions: %w", err)
	}
	return nil
}
