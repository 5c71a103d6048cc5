package service

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// PersistedState is the durable state surviving host restarts: the
// learned consumption history, the pending EV energy demand and the
// savings ledger.
type PersistedState struct {
	History     map[string][]float64 `json:"history"`
	EVEnergyKWh float64              `json:"ev_energy_kwh"`
	Savings     SavingsSnapshot      `json:"savings"`
}

// StateStore persists the service state to a JSON file with an atomic
// tmp-write-then-rename, so a crash mid-save never corrupts the file.
type StateStore struct {
	dataDir string
}

// NewStateStore creates a store rooted at dataDir. An empty dataDir
// disables persistence (every operation becomes a no-op).
func NewStateStore(dataDir string) *StateStore {
	return &StateStore{dataDir: dataDir}
}

// Save persists the state atomically.
func (s *StateStore) Save(state PersistedState) error {
	if s.dataDir == "" {
		return nil // No persistence configured
	}

	if err := os.MkdirAll(s.dataDir, 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	path := filepath.Join(s.dataDir, "state.json")
	tmpPath := path + ".tmp"

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath) // Clean up on failure
		return fmt.Errorf("rename state file: %w", err)
	}

	return nil
}

// Load reads the persisted state. A missing file yields an empty state,
// not an error.
func (s *StateStore) Load() (PersistedState, error) {
	state := PersistedState{History: map[string][]float64{}}
	if s.dataDir == "" {
		return state, nil
	}

	path := filepath.Join(s.dataDir, "state.json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return state, nil
		}
		return state, fmt.Errorf("read state file: %w", err)
	}

	if err := json.Unmarshal(data, &state); err != nil {
		return state, fmt.Errorf("unmarshal state: %w", err)
	}
	if state.History == nil {
		state.History = map[string][]float64{}
	}

	return state, nil
}
