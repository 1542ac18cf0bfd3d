// Package localstore persists the agent's small pieces of local state:
// the session credential issued at login, and a best-effort copy of the
// last displayed presence status for continuity across restarts. The
// cached status is never authoritative; the first reconciliation after
// startup supersedes it.
package localstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const (
	credentialFileName = "credential.json"
	statusFileName     = "status.json"
	appDirName         = "presenced"
)

// ErrNoCredential is returned when no session credential is stored,
// i.e. no user is logged in on this workstation.
var ErrNoCredential = errors.New("localstore: no credential")

// Credential is the session identity and bearer token written by the
// desk platform's login flow. The token may be rotated in place, so
// consumers must read it at use time rather than caching it.
type Credential struct {
	UserID string `json:"userId"`
	Role   string `json:"role"`
	Token  string `json:"token"`
}

// CachedStatus is the persisted display-status record.
type CachedStatus struct {
	Status    string    `json:"status"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Store reads and writes agent state files in a single directory.
type Store struct {
	mu  sync.Mutex
	dir string
}

// Open creates a Store rooted at dir. Pass an empty string to use the
// default XDG state path. The directory is created on first write.
func Open(dir string) *Store {
	if dir == "" {
		dir = defaultStateDir()
	}
	return &Store{dir: dir}
}

// Dir returns the state directory.
func (s *Store) Dir() string {
	return s.dir
}

// Credential returns the stored session credential, or ErrNoCredential
// if none exists.
func (s *Store) Credential() (Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var c Credential
	if err := s.readJSON(credentialFileName, &c); err != nil {
		if os.IsNotExist(err) {
			return Credential{}, ErrNoCredential
		}
		return Credential{}, err
	}
	if c.UserID == "" {
		return Credential{}, ErrNoCredential
	}
	return c, nil
}

// SaveCredential writes the session credential.
func (s *Store) SaveCredential(c Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeJSON(credentialFileName, c)
}

// ClearCredential removes the stored credential. Idempotent.
func (s *Store) ClearCredential() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := os.Remove(filepath.Join(s.dir, credentialFileName))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing credential: %w", err)
	}
	return nil
}

// Token returns the current bearer token, read from disk at call time.
func (s *Store) Token() (string, error) {
	c, err := s.Credential()
	if err != nil {
		return "", err
	}
	return c.Token, nil
}

// CachedStatus returns the persisted display status, if any.
func (s *Store) CachedStatus() (CachedStatus, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var c CachedStatus
	if err := s.readJSON(statusFileName, &c); err != nil || c.Status == "" {
		return CachedStatus{}, false
	}
	return c, true
}

// PutCachedStatus persists the display status.
func (s *Store) PutCachedStatus(status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeJSON(statusFileName, CachedStatus{Status: status, UpdatedAt: time.Now().UTC()})
}

func (s *Store) readJSON(name string, v any) error {
	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parsing %s: %w", name, err)
	}
	return nil
}

// writeJSON uses an atomic temp-file-then-rename so a crash mid-write
// never leaves a truncated state file.
func (s *Store) writeJSON(name string, v any) error {
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("creating state dir: %w", err)
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", name, err)
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(s.dir, "."+name+"-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
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
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, filepath.Join(s.dir, name)); err != nil {
		return fmt.Errorf("renaming %s: %w", name, err)
	}
	committed = true
	return nil
}

// defaultStateDir returns $XDG_STATE_HOME/presenced, falling back to
// ~/.local/state/presenced.
func defaultStateDir() string {
	if dir := os.Getenv("XDG_STATE_HOME"); dir != "" {
		return filepath.Join(dir, appDirName)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return appDirName
	}
	return filepath.Join(home, ".local", "state", appDirName)
}
