package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jonathan/job-pilot/internal/types"
)

const (
	submissionsFile = "submissions.json"
	blacklistFile   = "blacklist.json"
)

// blacklistDocument is the on-disk shape of blacklist.json.
type blacklistDocument struct {
	Companies []string `json:"companies"`
}

// FileStore keeps the ledger as two JSON documents in a directory.
type FileStore struct {
	dir string
}

// NewFileStore creates the directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create ledger dir %s: %w", dir, err)
	}
	return &FileStore{dir: dir}, nil
}

// Dir returns the directory holding the ledger files.
func (s *FileStore) Dir() string {
	return s.dir
}

// Load reads both documents. Missing or empty files load as empty.
func (s *FileStore) Load(_ context.Context) (Snapshot, error) {
	var snap Snapshot

	var records []types.SubmissionRecord
	if err := readJSON(filepath.Join(s.dir, submissionsFile), &records); err != nil {
		return snap, err
	}

	var bl blacklistDocument
	if err := readJSON(filepath.Join(s.dir, blacklistFile), &bl); err != nil {
		return snap, err
	}

	snap.Records = records
	snap.Blacklist = bl.Companies
	return snap, nil
}

// Save rewrites both documents.
func (s *FileStore) Save(_ context.Context, snap Snapshot) error {
	records := snap.Records
	if records == nil {
		records = []types.SubmissionRecord{}
	}
	if err := writeJSON(filepath.Join(s.dir, submissionsFile), records); err != nil {
		return err
	}

	companies := snap.Blacklist
	if companies == nil {
		companies = []string{}
	}
	return writeJSON(filepath.Join(s.dir, blacklistFile), blacklistDocument{Companies: companies})
}

// Close is a no-op.
func (s *FileStore) Close() error {
	return nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) || (err == nil && len(data) == 0) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

// writeJSON writes through a temp file and rename so a crash never leaves a torn file.
func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file for %s: %w", path, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}
