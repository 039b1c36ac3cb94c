// Package sessionstore persists the orchestrator's exclusively-owned
// RunState and latest CheckpointRecord to a session-scoped JSON file, per
// spec §6's "sessions/{sessionId}.json" layout. Writes are atomic
// (temp file + os.Rename), following the teacher's
// internal/infra/config.SaveAppConfig convention.
package sessionstore

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	json "github.com/goccy/go-json"

	"github.com/shopping-copilot/core/internal/errs"
	"github.com/shopping-copilot/core/internal/schema"
)

// Record is the full on-disk payload for a session, per spec §3/§6.
type Record struct {
	RunState   schema.RunState
	Checkpoint schema.CheckpointRecord
}

// Store is a file-backed, mutex-serialized session store rooted at dir.
// One Store instance is expected to own a given dir; callers needing
// cross-process safety should additionally use filesystem-level locking,
// which is out of scope here (single-process orchestrator, per spec §5).
type Store struct {
	mu  sync.Mutex
	dir string
}

// New constructs a Store rooted at dir, creating it if necessary.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, errs.New(errs.CategoryState, errs.TypeValidation,
			errs.WithMessage("create session store directory"), errs.WithCause(err))
	}
	return &Store{dir: dir}, nil
}

func (s *Store) path(sessionID string) string {
	return filepath.Join(s.dir, sessionID+".json")
}

// Save atomically writes the session record for sessionID, overwriting any
// prior record.
func (s *Store) Save(sessionID string, rec Record) error {
	if sessionID == "" {
		return errs.New(errs.CategoryState, errs.TypeValidation, errs.WithMessage("session id required"))
	}
	encoded, err := json.Marshal(rec)
	if err != nil {
		return errs.New(errs.CategoryState, errs.TypeValidation,
			errs.WithMessage("encode session record"), errs.WithCause(err))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	target := s.path(sessionID)
	tmp, err := os.CreateTemp(s.dir, "session-*.tmp")
	if err != nil {
		return errs.New(errs.CategoryState, errs.TypeValidation,
			errs.WithMessage("create temp session file"), errs.WithCause(err))
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(encoded); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return errs.New(errs.CategoryState, errs.TypeValidation,
			errs.WithMessage("write session file"), errs.WithCause(err))
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return errs.New(errs.CategoryState, errs.TypeValidation,
			errs.WithMessage("sync session file"), errs.WithCause(err))
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return errs.New(errs.CategoryState, errs.TypeValidation,
			errs.WithMessage("close session file"), errs.WithCause(err))
	}
	if err := os.Rename(tmpPath, target); err != nil {
		_ = os.Remove(tmpPath)
		return errs.New(errs.CategoryState, errs.TypeValidation,
			errs.WithMessage("replace session file"), errs.WithCause(err))
	}
	return nil
}

// Load reads the persisted record for sessionID. It returns ok=false
// (no error) when no record exists yet, matching the "process wake with no
// prior session" case in spec §4.6's recovery flow.
func (s *Store) Load(sessionID string) (Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path(sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return Record{}, false, nil
		}
		return Record{}, false, errs.New(errs.CategoryState, errs.TypeValidation,
			errs.WithMessage("read session file"), errs.WithCause(err))
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, false, errs.New(errs.CategoryState, errs.TypeCorruption,
			errs.WithMessage("decode session file"), errs.WithCause(err))
	}
	return rec, true, nil
}

// Delete removes a session's persisted record. Deleting an absent session
// is not an error.
func (s *Store) Delete(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path(sessionID)); err != nil && !os.IsNotExist(err) {
		return errs.New(errs.CategoryState, errs.TypeValidation,
			errs.WithMessage(fmt.Sprintf("delete session %s", sessionID)), errs.WithCause(err))
	}
	return nil
}
