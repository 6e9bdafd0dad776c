package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver registration.

	"github.com/jonathan/job-pilot/internal/ledger/migrations"
	"github.com/jonathan/job-pilot/internal/types"
)

const timeLayout = time.RFC3339Nano

// SQLiteStore keeps the ledger in a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the database at dsn and runs pending migrations.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single connection keeps ":memory:" databases coherent and serializes writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if err := migrations.Run(db, migrations.SQLite); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Load reads submissions and the blacklist in insertion order.
func (s *SQLiteStore) Load(ctx context.Context) (Snapshot, error) {
	var snap Snapshot

	rows, err := s.db.QueryContext(ctx,
		`SELECT company, title, submitted_at FROM submissions ORDER BY seq`)
	if err != nil {
		return snap, fmt.Errorf("query submissions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var r types.SubmissionRecord
		var ts string
		if err := rows.Scan(&r.Company, &r.Title, &ts); err != nil {
			return snap, fmt.Errorf("scan submission: %w", err)
		}
		r.SubmittedAt, err = time.Parse(timeLayout, ts)
		if err != nil {
			return snap, fmt.Errorf("parse submitted_at %q: %w", ts, err)
		}
		snap.Records = append(snap.Records, r)
	}
	if err := rows.Err(); err != nil {
		return snap, fmt.Errorf("iterate submissions: %w", err)
	}

	blRows, err := s.db.QueryContext(ctx, `SELECT company FROM blacklist ORDER BY seq`)
	if err != nil {
		return snap, fmt.Errorf("query blacklist: %w", err)
	}
	defer func() { _ = blRows.Close() }()

	for blRows.Next() {
		var c string
		if err := blRows.Scan(&c); err != nil {
			return snap, fmt.Errorf("scan blacklist: %w", err)
		}
		snap.Blacklist = append(snap.Blacklist, c)
	}
	if err := blRows.Err(); err != nil {
		return snap, fmt.Errorf("iterate blacklist: %w", err)
	}

	return snap, nil
}

// Save replaces both tables in one transaction.
func (s *SQLiteStore) Save(ctx context.Context, snap Snapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM submissions`); err != nil {
		return fmt.Errorf("clear submissions: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM blacklist`); err != nil {
		return fmt.Errorf("clear blacklist: %w", err)
	}

	for i, r := range snap.Records {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO submissions (seq, company, title, submitted_at) VALUES (?, ?, ?, ?)`,
			i+1, r.Company, r.Title, r.SubmittedAt.UTC().Format(timeLayout),
		)
		if err != nil {
			return fmt.Errorf("insert submission: %w", err)
		}
	}
	for i, c := range snap.Blacklist {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO blacklist (seq, company) VALUES (?, ?)`, i+1, c); err != nil {
			return fmt.Errorf("insert blacklist entry: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
