package ledger

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jonathan/job-pilot/internal/types"
)

// Snapshot is the full persisted ledger: submissions in insertion order and the blacklist.
type Snapshot struct {
	Records   []types.SubmissionRecord
	Blacklist []string
}

// Store persists ledger snapshots.
type Store interface {
	Load(ctx context.Context) (Snapshot, error)
	Save(ctx context.Context, snap Snapshot) error
	Close() error
}

// Backend names a Store implementation.
type Backend string

const (
	BackendFile     Backend = "file"
	BackendSQLite   Backend = "sqlite"
	BackendPostgres Backend = "postgres"
)

// Config selects and configures the ledger store.
type Config struct {
	Backend      Backend `json:"backend" yaml:"backend" validate:"omitempty,oneof=file sqlite postgres"`
	Dir          string  `json:"dir,omitempty" yaml:"dir,omitempty"`
	DSN          string  `json:"dsn,omitempty" yaml:"dsn,omitempty"`
	CooldownDays int     `json:"cooldown_days" yaml:"cooldown_days" validate:"gte=0"`
}

// DefaultDir returns the per-user application directory, e.g. ~/.config/JobPilot.
func DefaultDir() string {
	base, err := os.UserConfigDir()
	if err != nil {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".jobpilot")
	}
	return filepath.Join(base, "JobPilot")
}

// Open creates the Store selected by cfg.Backend.
func Open(ctx context.Context, cfg Config) (Store, error) {
	dir := cfg.Dir
	if dir == "" {
		dir = DefaultDir()
	}

	switch cfg.Backend {
	case BackendFile, "":
		return NewFileStore(dir)
	case BackendSQLite:
		dsn := cfg.DSN
		if dsn == "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create ledger dir: %w", err)
			}
			dsn = filepath.Join(dir, "ledger.db")
		}
		return NewSQLiteStore(dsn)
	case BackendPostgres:
		if cfg.DSN == "" {
			return nil, fmt.Errorf("postgres ledger requires a DSN")
		}
		return NewPostgresStore(ctx, cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown ledger backend %q", cfg.Backend)
	}
}
