package service

import (
	"log/slog"
	"math"
	"time"
)

const (
	// maxReadingGap is the sanity ceiling for the elapsed time between
	// two power readings. Larger gaps indicate a restart or a stuck
	// sensor and are skipped rather than integrated.
	maxReadingGap = 24 * time.Hour

	// maxPowerWatts clamps implausible power readings.
	maxPowerWatts = 100_000.0
)

// Integrator converts a stream of instantaneous house power readings
// into an accumulated daily energy value using trapezoidal integration,
// and commits the accumulated value into the HistoryStore at day
// boundaries.
//
// Not safe for concurrent use; owned by the Service event loop.
type Integrator struct {
	store *HistoryStore

	accumulatedKWh float64
	lastWatts      float64
	lastReading    time.Time
	hasReading     bool
	currentDay     time.Time // local midnight of the day being accumulated
}

// NewIntegrator creates an integrator accumulating into the given store,
// starting at the day containing now.
func NewIntegrator(store *HistoryStore, now time.Time) *Integrator {
	return &Integrator{
		store:      store,
		currentDay: localMidnight(now),
	}
}

// OnPowerReading folds a new power reading into the daily accumulator
// using the trapezoidal rule between the previous and new wattage.
// Readings with a negative or excessive elapsed time are discarded so a
// single bad timestamp cannot corrupt the day's learned value.
func (g *Integrator) OnPowerReading(watts float64, ts time.Time) {
	if math.IsNaN(watts) || math.IsInf(watts, 0) {
		slog.Warn("non-finite power reading discarded", "watts", watts)
		return
	}
	if watts < 0 {
		watts = 0
	} else if watts > maxPowerWatts {
		watts = maxPowerWatts
	}

	if !g.hasReading {
		g.lastWatts = watts
		g.lastReading = ts
		g.hasReading = true
		return
	}

	elapsed := ts.Sub(g.lastReading)
	if elapsed < 0 {
		slog.Warn("out-of-order power reading discarded",
			"timestamp", ts, "last_timestamp", g.lastReading)
		return
	}
	if elapsed > maxReadingGap {
		slog.Warn("power reading gap exceeds sanity ceiling, skipping update",
			"elapsed", elapsed)
		g.lastWatts = watts
		g.lastReading = ts
		return
	}

	avgWatts := (g.lastWatts + watts) / 2.0
	g.accumulatedKWh += avgWatts * elapsed.Hours() / 1000.0

	g.lastWatts = watts
	g.lastReading = ts

	slog.Debug("power reading integrated",
		"watts", watts, "today_kwh", g.accumulatedKWh)
}

// OnDayRollover commits the accumulated energy for the completed day's
// weekday and resets the accumulator. Invoking it twice for the same
// boundary is a no-op; the committed energy and true are returned only
// when a rollover actually happened.
func (g *Integrator) OnDayRollover(now time.Time) (float64, bool) {
	newDay := localMidnight(now)
	if !newDay.After(g.currentDay) {
		slog.Debug("day rollover already handled", "day", g.currentDay.Format("2006-01-02"))
		return 0, false
	}

	completed := g.currentDay
	committed := g.accumulatedKWh
	g.store.Commit(completed.Weekday(), committed)

	slog.Info("day closed",
		"date", completed.Format("2006-01-02"),
		"weekday", completed.Weekday().String(),
		"consumption_kwh", committed)

	g.accumulatedKWh = 0
	g.hasReading = false
	g.currentDay = newDay
	return committed, true
}

// Accumulated returns the energy accumulated so far today, in kWh.
func (g *Integrator) Accumulated() float64 {
	return g.accumulatedKWh
}

// CurrentDay returns the local midnight of the day being accumulated.
func (g *Integrator) CurrentDay() time.Time {
	return g.currentDay
}

// localMidnight returns midnight in the time's local timezone.
// Unlike Truncate(24h) which truncates to UTC midnight, this preserves the local date.
func localMidnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
