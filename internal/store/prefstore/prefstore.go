// Package prefstore implements the synchronized user preference store of
// spec §6: slot preferences and learning config, file-backed like
// sessionstore (atomic temp-file-plus-rename writes).
package prefstore

import (
	"os"
	"path/filepath"
	"sync"

	json "github.com/goccy/go-json"

	"github.com/shopping-copilot/core/internal/errs"
)

// SlotPreference ranks a delivery-slot label, mirroring the ordered-
// preference shape a learning pass over schema.SlotOption history would
// accumulate (spec §4.4's slot ranking, supplemented with persistence).
type SlotPreference struct {
	Label  string
	Weight float64
}

// LearningConfig holds knobs the orchestrator's value-based ranking and
// prune heuristics (internal/llm/heuristic) can be tuned by over time,
// without touching the fixed composite weights spec §4.7 pins.
type LearningConfig struct {
	PreferStoreBrand    bool
	MaxAcceptablePriceHikePct float64
}

// Preferences is the full on-disk payload for one household/user.
type Preferences struct {
	SlotPreferences []SlotPreference
	Learning        LearningConfig
}

// Store is a file-backed, mutex-serialized preference store rooted at dir,
// one JSON file per household ID, matching sessionstore's layout
// convention.
type Store struct {
	mu  sync.Mutex
	dir string
}

// New constructs a Store rooted at dir, creating it if necessary.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, errs.New(errs.CategoryState, errs.TypeValidation,
			errs.WithMessage("create preference store directory"), errs.WithCause(err))
	}
	return &Store{dir: dir}, nil
}

func (s *Store) path(householdID string) string {
	return filepath.Join(s.dir, householdID+".json")
}

// Save atomically writes prefs for householdID.
func (s *Store) Save(householdID string, prefs Preferences) error {
	if householdID == "" {
		return errs.New(errs.CategoryState, errs.TypeValidation, errs.WithMessage("household id required"))
	}
	encoded, err := json.Marshal(prefs)
	if err != nil {
		return errs.New(errs.CategoryState, errs.TypeValidation,
			errs.WithMessage("encode preferences"), errs.WithCause(err))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	target := s.path(householdID)
	tmp, err := os.CreateTemp(s.dir, "prefs-*.tmp")
	if err != nil {
		return errs.New(errs.CategoryState, errs.TypeValidation,
			errs.WithMessage("create temp preference file"), errs.WithCause(err))
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(encoded); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return errs.New(errs.CategoryState, errs.TypeValidation,
			errs.WithMessage("write preference file"), errs.WithCause(err))
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return errs.New(errs.CategoryState, errs.TypeValidation,
			errs.WithMessage("sync preference file"), errs.WithCause(err))
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return errs.New(errs.CategoryState, errs.TypeValidation,
			errs.WithMessage("close preference file"), errs.WithCause(err))
	}
	if err := os.Rename(tmpPath, target); err != nil {
		_ = os.Remove(tmpPath)
		return errs.New(errs.CategoryState, errs.TypeValidation,
			errs.WithMessage("replace preference file"), errs.WithCause(err))
	}
	return nil
}

// Load reads householdID's preferences, returning ok=false (no error) and
// zero-value defaults when none have been saved yet.
func (s *Store) Load(householdID string) (Preferences, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path(householdID))
	if err != nil {
		if os.IsNotExist(err) {
			return Preferences{}, false, nil
		}
		return Preferences{}, false, errs.New(errs.CategoryState, errs.TypeValidation,
			errs.WithMessage("read preference file"), errs.WithCause(err))
	}
	var prefs Preferences
	if err := json.Unmarshal(data, &prefs); err != nil {
		return Preferences{}, false, errs.New(errs.CategoryState, errs.TypeCorruption,
			errs.WithMessage("decode preference file"), errs.WithCause(err))
	}
	return prefs, true, nil
}
