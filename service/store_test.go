package service

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestStateStoreRoundtrip(t *testing.T) {
	dir := t.TempDir()
	store := NewStateStore(dir)

	h := NewHistoryStore()
	h.Commit(time.Monday, 12.0)
	h.Commit(time.Tuesday, 9.5)

	ledger := NewSavingsLedger(NewTariff(0.25, 0.12))
	ledger.RecordSession(time.Date(2026, 8, 24, 7, 0, 0, 0, time.UTC), 5.0)

	saved := PersistedState{
		History:     h.Dump(),
		EVEnergyKWh: 40.0,
		Savings:     ledger.Snapshot(),
	}
	if err := store.Save(saved); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := store.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if !floatEqual(loaded.EVEnergyKWh, 40.0) {
		t.Errorf("expected EV energy 40.0, got %f", loaded.EVEnergyKWh)
	}

	restored := NewHistoryStore()
	restored.Load(loaded.History)
	if avg := restored.Average(time.Monday); !floatEqual(avg, 12.0) {
		t.Errorf("expected Monday average 12.0, got %f", avg)
	}

	restoredLedger := NewSavingsLedger(NewTariff(0.25, 0.12))
	restoredLedger.Restore(loaded.Savings)
	if got, want := restoredLedger.TotalSavings().StringFixed(2), "0.65"; got != want {
		t.Errorf("expected restored savings %s, got %s", want, got)
	}
}

func TestStateStoreLoadMissingFile(t *testing.T) {
	store := NewStateStore(t.TempDir())

	state, err := store.Load()
	if err != nil {
		t.Fatalf("missing file must not be an error: %v", err)
	}
	if state.History == nil {
		t.Error("history must be initialized")
	}
	if !floatEqual(state.EVEnergyKWh, 0.0) {
		t.Errorf("expected zero EV energy, got %f", state.EVEnergyKWh)
	}
}

func TestStateStoreDisabled(t *testing.T) {
	store := NewStateStore("")

	if err := store.Save(PersistedState{EVEnergyKWh: 10}); err != nil {
		t.Fatalf("disabled store must no-op on save: %v", err)
	}
	state, err := store.Load()
	if err != nil {
		t.Fatalf("disabled store must no-op on load: %v", err)
	}
	if !floatEqual(state.EVEnergyKWh, 0.0) {
		t.Errorf("disabled store must load empty state, got %f", state.EVEnergyKWh)
	}
}

func TestStateStoreLeavesNoTempFile(t *testing.T) {
	dir := t.TempDir()
	store := NewStateStore(dir)

	if err := store.Save(PersistedState{History: map[string][]float64{}}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "state.json.tmp")); !os.IsNotExist(err) {
		t.Error("temp file must not survive a successful save")
	}
	if _, err := os.Stat(filepath.Join(dir, "state.json")); err != nil {
		t.Errorf("state file must exist: %v", err)
	}
}
