package service

import (
	"math"
	"testing"
	"time"
)

func mustTime(t *testing.T, value string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, value)
	if err != nil {
		t.Fatalf("parse time %q: %v", value, err)
	}
	return ts
}

func TestIntegratorConstantLoad(t *testing.T) {
	start := mustTime(t, "2026-08-24T10:00:00Z")
	g := NewIntegrator(NewHistoryStore(), start)

	// A constant 1000 W over 2 hours integrates to exactly 2.0 kWh.
	g.OnPowerReading(1000, start)
	g.OnPowerReading(1000, start.Add(time.Hour))
	g.OnPowerReading(1000, start.Add(2*time.Hour))

	if acc := g.Accumulated(); !floatEqual(acc, 2.0) {
		t.Errorf("expected 2.0 kWh accumulated, got %f", acc)
	}
}

func TestIntegratorTrapezoid(t *testing.T) {
	start := mustTime(t, "2026-08-24T10:00:00Z")
	g := NewIntegrator(NewHistoryStore(), start)

	// Ramp from 0 W to 2000 W over one hour: trapezoid gives 1.0 kWh.
	g.OnPowerReading(0, start)
	g.OnPowerReading(2000, start.Add(time.Hour))

	if acc := g.Accumulated(); !floatEqual(acc, 1.0) {
		t.Errorf("expected 1.0 kWh accumulated, got %f", acc)
	}
}

func TestIntegratorFirstReadingSeedsOnly(t *testing.T) {
	start := mustTime(t, "2026-08-24T10:00:00Z")
	g := NewIntegrator(NewHistoryStore(), start)

	g.OnPowerReading(5000, start)

	if acc := g.Accumulated(); !floatEqual(acc, 0.0) {
		t.Errorf("first reading must not accumulate, got %f", acc)
	}
}

func TestIntegratorDiscardsOutOfOrder(t *testing.T) {
	start := mustTime(t, "2026-08-24T10:00:00Z")
	g := NewIntegrator(NewHistoryStore(), start)

	g.OnPowerReading(1000, start)
	g.OnPowerReading(1000, start.Add(-time.Minute))

	if acc := g.Accumulated(); !floatEqual(acc, 0.0) {
		t.Errorf("out-of-order reading must be discarded, got %f", acc)
	}

	// The integrator keeps its previous anchor and continues normally.
	g.OnPowerReading(1000, start.Add(time.Hour))
	if acc := g.Accumulated(); !floatEqual(acc, 1.0) {
		t.Errorf("expected 1.0 kWh after recovery, got %f", acc)
	}
}

func TestIntegratorSkipsExcessiveGap(t *testing.T) {
	start := mustTime(t, "2026-08-24T10:00:00Z")
	g := NewIntegrator(NewHistoryStore(), start)

	g.OnPowerReading(1000, start)
	g.OnPowerReading(1000, start.Add(25*time.Hour))

	if acc := g.Accumulated(); !floatEqual(acc, 0.0) {
		t.Errorf("gap beyond ceiling must not integrate, got %f", acc)
	}

	// The reading re-seeds the anchor, so the next interval counts.
	g.OnPowerReading(1000, start.Add(26*time.Hour))
	if acc := g.Accumulated(); !floatEqual(acc, 1.0) {
		t.Errorf("expected 1.0 kWh after re-seed, got %f", acc)
	}
}

func TestIntegratorDiscardsNonFinite(t *testing.T) {
	start := mustTime(t, "2026-08-24T10:00:00Z")
	g := NewIntegrator(NewHistoryStore(), start)

	g.OnPowerReading(math.NaN(), start)
	g.OnPowerReading(math.Inf(1), start)

	g.OnPowerReading(1000, start)
	g.OnPowerReading(1000, start.Add(time.Hour))
	if acc := g.Accumulated(); !floatEqual(acc, 1.0) {
		t.Errorf("expected 1.0 kWh, got %f", acc)
	}
}

func TestIntegratorClampsImplausiblePower(t *testing.T) {
	start := mustTime(t, "2026-08-24T10:00:00Z")
	g := NewIntegrator(NewHistoryStore(), start)

	g.OnPowerReading(500_000, start)
	g.OnPowerReading(500_000, start.Add(time.Hour))

	// Clamped to 100 kW on both ends: 100 kWh.
	if acc := g.Accumulated(); !floatEqual(acc, 100.0) {
		t.Errorf("expected clamped accumulation 100.0 kWh, got %f", acc)
	}

	g2 := NewIntegrator(NewHistoryStore(), start)
	g2.OnPowerReading(-500, start)
	g2.OnPowerReading(-500, start.Add(time.Hour))
	if acc := g2.Accumulated(); !floatEqual(acc, 0.0) {
		t.Errorf("negative power must clamp to zero, got %f", acc)
	}
}

func TestIntegratorDayRollover(t *testing.T) {
	store := NewHistoryStore()
	// Monday 2026-08-24.
	start := mustTime(t, "2026-08-24T22:00:00Z")
	g := NewIntegrator(store, start)

	g.OnPowerReading(1000, start)
	g.OnPowerReading(1000, start.Add(time.Hour))

	// Rollover into Tuesday commits Monday's accumulated energy under
	// Monday's weekday.
	next := mustTime(t, "2026-08-25T00:00:05Z")
	committed, rolled := g.OnDayRollover(next)
	if !rolled {
		t.Fatal("expected rollover to happen")
	}
	if !floatEqual(committed, 1.0) {
		t.Errorf("expected 1.0 kWh committed, got %f", committed)
	}
	if avg := store.Average(time.Monday); !floatEqual(avg, 1.0) {
		t.Errorf("expected Monday average 1.0, got %f", avg)
	}
	if acc := g.Accumulated(); !floatEqual(acc, 0.0) {
		t.Errorf("accumulator must reset after rollover, got %f", acc)
	}
}

func TestIntegratorDayRolloverIdempotent(t *testing.T) {
	store := NewHistoryStore()
	start := mustTime(t, "2026-08-24T22:00:00Z")
	g := NewIntegrator(store, start)

	g.OnPowerReading(1000, start)
	g.OnPowerReading(1000, start.Add(time.Hour))

	next := mustTime(t, "2026-08-25T00:00:05Z")
	if _, rolled := g.OnDayRollover(next); !rolled {
		t.Fatal("expected first rollover to happen")
	}
	if _, rolled := g.OnDayRollover(next.Add(time.Minute)); rolled {
		t.Error("second rollover for the same boundary must be a no-op")
	}
	if count := store.Count(time.Monday); count != 1 {
		t.Errorf("expected exactly one committed sample, got %d", count)
	}
}

func TestIntegratorZeroDayCommitsZero(t *testing.T) {
	store := NewHistoryStore()
	start := mustTime(t, "2026-08-24T22:00:00Z")
	g := NewIntegrator(store, start)

	// No readings at all: the rollover still commits a 0.0 sample.
	next := mustTime(t, "2026-08-25T00:00:05Z")
	committed, rolled := g.OnDayRollover(next)
	if !rolled {
		t.Fatal("expected rollover to happen")
	}
	if !floatEqual(committed, 0.0) {
		t.Errorf("expected 0.0 kWh committed, got %f", committed)
	}
	if count := store.Count(time.Monday); count != 1 {
		t.Errorf("expected one sample, got %d", count)
	}
}
