package service

import (
	"testing"
	"time"
)

func TestSavingsLedgerRecordSession(t *testing.T) {
	l := NewSavingsLedger(NewTariff(0.25, 0.12))

	date := time.Date(2026, 8, 24, 7, 0, 0, 0, time.UTC)
	rec := l.RecordSession(date, 10.0)

	// 10 kWh at 0.12 vs 0.25: 1.30 EUR saved.
	if got := rec.Savings.StringFixed(2); got != "1.30" {
		t.Errorf("expected savings 1.30, got %s", got)
	}
	if got := rec.OffPeakCost.StringFixed(2); got != "1.20" {
		t.Errorf("expected off-peak cost 1.20, got %s", got)
	}
	if got := l.TotalSavings().StringFixed(2); got != "1.30" {
		t.Errorf("expected total savings 1.30, got %s", got)
	}
}

func TestSavingsLedgerAccumulates(t *testing.T) {
	l := NewSavingsLedger(NewTariff(0.25, 0.12))

	day := time.Date(2026, 8, 1, 7, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		l.RecordSession(day.AddDate(0, 0, i), 4.0)
	}

	// 5 sessions x 4 kWh x 0.13 EUR/kWh.
	if got := l.TotalSavings().StringFixed(2); got != "2.60" {
		t.Errorf("expected total savings 2.60, got %s", got)
	}

	snap := l.Snapshot()
	if got := snap.TotalChargedKWh.StringFixed(1); got != "20.0" {
		t.Errorf("expected 20.0 kWh charged, got %s", got)
	}
	if len(snap.History) != 5 {
		t.Errorf("expected 5 history records, got %d", len(snap.History))
	}
}

func TestSavingsLedgerMonthRollover(t *testing.T) {
	l := NewSavingsLedger(NewTariff(0.25, 0.12))

	l.RecordSession(time.Date(2026, 7, 31, 7, 0, 0, 0, time.UTC), 10.0)
	l.RecordSession(time.Date(2026, 8, 1, 7, 0, 0, 0, time.UTC), 4.0)

	snap := l.Snapshot()
	if snap.CurrentMonth != "2026-08" {
		t.Errorf("expected current month 2026-08, got %s", snap.CurrentMonth)
	}
	if got := snap.MonthlyChargedKWh.StringFixed(1); got != "4.0" {
		t.Errorf("monthly bucket must reset at rollover, got %s kWh", got)
	}
	// Totals keep accumulating across months.
	if got := snap.TotalChargedKWh.StringFixed(1); got != "14.0" {
		t.Errorf("expected 14.0 kWh total, got %s", got)
	}
}

func TestSavingsLedgerHistoryBounded(t *testing.T) {
	l := NewSavingsLedger(NewTariff(0.25, 0.12))

	day := time.Date(2026, 6, 1, 7, 0, 0, 0, time.UTC)
	for i := 0; i < savingsHistoryDepth+10; i++ {
		l.RecordSession(day.AddDate(0, 0, i), 1.0)
	}

	snap := l.Snapshot()
	if len(snap.History) != savingsHistoryDepth {
		t.Errorf("expected history bounded to %d, got %d", savingsHistoryDepth, len(snap.History))
	}
}

func TestSavingsLedgerNegativeEnergyClamped(t *testing.T) {
	l := NewSavingsLedger(NewTariff(0.25, 0.12))

	rec := l.RecordSession(time.Date(2026, 8, 24, 7, 0, 0, 0, time.UTC), -3.0)
	if !rec.Savings.IsZero() {
		t.Errorf("negative session energy must value to zero, got %s", rec.Savings)
	}
}

func TestSavingsLedgerRestore(t *testing.T) {
	l := NewSavingsLedger(NewTariff(0.25, 0.12))
	l.RecordSession(time.Date(2026, 8, 24, 7, 0, 0, 0, time.UTC), 10.0)
	snap := l.Snapshot()

	restored := NewSavingsLedger(NewTariff(0.25, 0.12))
	restored.Restore(snap)

	if got, want := restored.TotalSavings().StringFixed(2), l.TotalSavings().StringFixed(2); got != want {
		t.Errorf("restored total %s, want %s", got, want)
	}
}
