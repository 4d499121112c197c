// internal/ledger/store.go
// Durable ledger files, one per node: <dir>/<address>.json
package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
)

// ErrStorageCorrupt is returned by Load alongside an empty ledger when the
// file exists but cannot be decoded.
var ErrStorageCorrupt = errors.New("ledger file is corrupt")

// ErrInvalidAddress is returned for addresses that cannot name a file.
var ErrInvalidAddress = errors.New("invalid node address")

var addressPattern = regexp.MustCompile(`^[a-zA-Z0-9._-]{1,128}$`)

// Store reads and writes ledger files. It is the only writer of those files.
type Store struct {
	dir string
}

// NewStore creates a store rooted at dir.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Path returns the ledger file for address.
func (s *Store) Path(address string) (string, error) {
	if !addressPattern.MatchString(address) || address == "." || address == ".." {
		return "", fmt.Errorf("%w: %q", ErrInvalidAddress, address)
	}
	return filepath.Join(s.dir, address+".json"), nil
}

// Load reads the ledger of address. A missing file yields an empty ledger.
// A corrupt file also yields an empty ledger, with ErrStorageCorrupt so the
// caller can report it; the ledger is still usable.
func (s *Store) Load(address string) (*Ledger, error) {
	path, err := s.Path(address)
	if err != nil {
		return New(address), err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return New(address), nil
		}
		return New(address), fmt.Errorf("failed to read ledger: %w", err)
	}

	var l Ledger
	if err := json.Unmarshal(data, &l); err != nil {
		return New(address), fmt.Errorf("%w: %s: %v", ErrStorageCorrupt, path, err)
	}
	if l.Version > FormatVersion {
		return New(address), fmt.Errorf("%w: %s: unsupported version %d", ErrStorageCorrupt, path, l.Version)
	}

	l.Version = FormatVersion
	l.Address = address
	if l.Jobs == nil {
		l.Jobs = make(map[string]*JobRecord)
	}
	for id, rec := range l.Jobs {
		if rec == nil {
			delete(l.Jobs, id)
			continue
		}
		rec.JobID = id
	}
	return &l, nil
}

// Save writes l atomically: a temp file in the same directory is written,
// synced and renamed over the previous file.
func (s *Store) Save(l *Ledger) error {
	path, err := s.Path(l.Address)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("failed to create ledger directory: %w", err)
	}

	data, err := json.MarshalIndent(l, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal ledger: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, "."+l.Address+".json.tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write ledger: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync ledger: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close ledger: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to replace ledger: %w", err)
	}
	committed = true
	return nil
}
