// Package sqlite provides SQLite-based persistent storage for secfleet.
// Uses WAL mode for concurrent reads and crash-safe writes.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver (no CGO required)

	"github.com/secfleet/secfleet/internal/domain"
)

// DB wraps a SQLite connection with WAL mode and migrations. It implements
// domain.Transactor, domain.ApplianceStore, domain.JobRecordStore and
// domain.Alerter.
type DB struct {
	db *sql.DB
}

// Open creates or opens the SQLite database at dir/state.db.
// Enables WAL mode, foreign keys, and 5-second busy timeout.
func Open(dir string) (*DB, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	dbPath := filepath.Join(dir, "state.db")
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	// Connection pool settings for SQLite
	db.SetMaxOpenConns(1) // SQLite is single-writer
	db.SetMaxIdleConns(1)

	d := &DB{db: db}
	if err := d.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return d, nil
}

// Close cleanly shuts down the database.
func (d *DB) Close() error {
	return d.db.Close()
}

// Ping checks database connectivity.
func (d *DB) Ping() error {
	return d.db.Ping()
}

// migrate runs idempotent schema migrations.
func (d *DB) migrate() error {
	migrations := []string{
		// Desired state
		`CREATE TABLE IF NOT EXISTS virtual_systems (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			name        TEXT NOT NULL UNIQUE,
			manager_url TEXT NOT NULL,
			last_job_id INTEGER
		)`,
		`CREATE TABLE IF NOT EXISTS security_group_interfaces (
			id                  INTEGER PRIMARY KEY AUTOINCREMENT,
			virtual_system_id   INTEGER NOT NULL REFERENCES virtual_systems(id) ON DELETE CASCADE,
			name                TEXT NOT NULL,
			tag                 TEXT NOT NULL DEFAULT '',
			policy              TEXT NOT NULL DEFAULT '',
			remote_id           TEXT,
			marked_for_deletion BOOLEAN DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sgi_vs ON security_group_interfaces(virtual_system_id)`,

		// Job outcomes
		`CREATE TABLE IF NOT EXISTS job_records (
			id            INTEGER PRIMARY KEY,
			name          TEXT NOT NULL,
			state         TEXT NOT NULL,
			status        TEXT NOT NULL DEFAULT '',
			queued_at     INTEGER NOT NULL,
			started_at    INTEGER,
			completed_at  INTEGER,
			failure_count INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS task_records (
			job_id       INTEGER NOT NULL REFERENCES job_records(id) ON DELETE CASCADE,
			node_id      INTEGER NOT NULL,
			name         TEXT NOT NULL,
			state        TEXT NOT NULL,
			error        TEXT,
			started_at   INTEGER,
			completed_at INTEGER,
			PRIMARY KEY (job_id, node_id)
		)`,

		// Operator alerts
		`CREATE TABLE IF NOT EXISTS alerts (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			kind         TEXT NOT NULL,
			message      TEXT NOT NULL,
			job_id       INTEGER,
			created_at   INTEGER NOT NULL,
			acknowledged BOOLEAN DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_created ON alerts(created_at)`,
	}

	for _, m := range migrations {
		if _, err := d.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}
	return nil
}

// ─── Transactions ───────────────────────────────────────────────────────────

// Tx is a database transaction with commit hooks. It implements domain.Tx.
type Tx struct {
	tx *sql.Tx

	mu    sync.Mutex
	hooks []func()
}

// Begin starts a transaction. Store calls made with a context carrying it
// (domain.WithTx) run inside it.
func (d *DB) Begin(ctx context.Context) (domain.Tx, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &Tx{tx: tx}, nil
}

// Commit commits and then runs the commit hooks in registration order.
func (t *Tx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return err
	}
	t.mu.Lock()
	hooks := t.hooks
	t.hooks = nil
	t.mu.Unlock()
	for _, h := range hooks {
		h()
	}
	return nil
}

// Rollback aborts the transaction and discards the commit hooks.
func (t *Tx) Rollback() error {
	t.mu.Lock()
	t.hooks = nil
	t.mu.Unlock()
	return t.tx.Rollback()
}

func (t *Tx) OnCommit(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.hooks = append(t.hooks, fn)
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// q returns the transaction carried by ctx, or the database.
func (d *DB) q(ctx context.Context) querier {
	if tx, ok := domain.TxFrom(ctx); ok {
		if t, ok := tx.(*Tx); ok {
			return t.tx
		}
	}
	return d.db
}

// ─── Helpers ────────────────────────────────────────────────────────────────

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func nullableMillis(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func fromMillis(v sql.NullInt64) time.Time {
	if !v.Valid {
		return time.Time{}
	}
	return time.UnixMilli(v.Int64)
}

func nullableString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullableID(id int64) sql.NullInt64 {
	return sql.NullInt64{Int64: id, Valid: id != 0}
}
