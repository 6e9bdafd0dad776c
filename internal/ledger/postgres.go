package ledger

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/jonathan/job-pilot/internal/ledger/migrations"
	"github.com/jonathan/job-pilot/internal/types"
)

// PostgresStore keeps the ledger in PostgreSQL so several hosts can share it.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects, verifies the connection and applies pending migrations.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// goose needs a database/sql handle; it shares the pool's connections.
	db := stdlib.OpenDBFromPool(pool)
	err = migrations.Run(db, migrations.Postgres)
	_ = db.Close()
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to migrate ledger tables: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

// Load reads submissions and the blacklist in insertion order.
func (s *PostgresStore) Load(ctx context.Context) (Snapshot, error) {
	var snap Snapshot

	rows, err := s.pool.Query(ctx,
		`SELECT company, title, submitted_at FROM ledger_submissions ORDER BY seq`)
	if err != nil {
		return snap, fmt.Errorf("failed to query submissions: %w", err)
	}
	records, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (types.SubmissionRecord, error) {
		var r types.SubmissionRecord
		err := row.Scan(&r.Company, &r.Title, &r.SubmittedAt)
		return r, err
	})
	if err != nil {
		return snap, fmt.Errorf("failed to scan submissions: %w", err)
	}

	rows, err = s.pool.Query(ctx, `SELECT company FROM ledger_blacklist ORDER BY seq`)
	if err != nil {
		return snap, fmt.Errorf("failed to query blacklist: %w", err)
	}
	companies, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return snap, fmt.Errorf("failed to scan blacklist: %w", err)
	}

	snap.Records = records
	snap.Blacklist = companies
	return snap, nil
}

// Save replaces both tables in one transaction using COPY.
func (s *PostgresStore) Save(ctx context.Context, snap Snapshot) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, "DELETE FROM ledger_submissions"); err != nil {
		return fmt.Errorf("failed to clear submissions: %w", err)
	}
	if _, err := tx.Exec(ctx, "DELETE FROM ledger_blacklist"); err != nil {
		return fmt.Errorf("failed to clear blacklist: %w", err)
	}

	_, err = tx.CopyFrom(ctx,
		pgx.Identifier{"ledger_submissions"},
		[]string{"seq", "company", "title", "submitted_at"},
		pgx.CopyFromSlice(len(snap.Records), func(i int) ([]any, error) {
			r := snap.Records[i]
			return []any{int32(i + 1), r.Company, r.Title, r.SubmittedAt}, nil
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to copy submissions: %w", err)
	}

	_, err = tx.CopyFrom(ctx,
		pgx.Identifier{"ledger_blacklist"},
		[]string{"seq", "company"},
		pgx.CopyFromSlice(len(snap.Blacklist), func(i int) ([]any, error) {
			return []any{int32(i + 1), snap.Blacklist[i]}, nil
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to copy blacklist: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit ledger: %w", err)
	}
	return nil
}

// Close closes the connection pool.
func (s *PostgresStore) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}
