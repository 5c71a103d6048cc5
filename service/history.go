package service

import (
	"log/slog"
	"time"
)

// historyDepth is the number of most recent samples kept per weekday.
const historyDepth = 3

// HistoryStore keeps a bounded rolling history of daily consumption
// samples, one sequence per weekday. The oldest sample is evicted first
// once a weekday holds more than historyDepth entries.
//
// The store is not safe for concurrent use; the owning Service
// serializes all access through its event loop.
type HistoryStore struct {
	samples map[time.Weekday][]float64
}

// NewHistoryStore creates an empty history store.
func NewHistoryStore() *HistoryStore {
	return &HistoryStore{
		samples: make(map[time.Weekday][]float64),
	}
}

// Commit appends a daily consumption sample for the given weekday.
// Negative input is clamped to zero. Always succeeds.
func (h *HistoryStore) Commit(day time.Weekday, energyKWh float64) {
	if energyKWh < 0 {
		slog.Warn("negative consumption sample clamped to zero",
			"weekday", day.String(), "energy_kwh", energyKWh)
		energyKWh = 0
	}

	h.samples[day] = append(h.samples[day], energyKWh)
	if len(h.samples[day]) > historyDepth {
		h.samples[day] = h.samples[day][len(h.samples[day])-historyDepth:]
	}

	slog.Debug("consumption sample committed",
		"weekday", day.String(), "energy_kwh", energyKWh, "samples", len(h.samples[day]))
}

// Average returns the arithmetic mean of the stored samples for the
// weekday, or 0.0 when no samples exist. The no-history case is a
// legitimate state, not an error; callers apply their own fallback.
func (h *HistoryStore) Average(day time.Weekday) float64 {
	values := h.samples[day]
	if len(values) == 0 {
		return 0.0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// Count returns the number of samples stored for the weekday.
func (h *HistoryStore) Count(day time.Weekday) int {
	return len(h.samples[day])
}

// Averages returns the average for every weekday keyed by name,
// for diagnostics and the status API.
func (h *HistoryStore) Averages() map[string]float64 {
	out := make(map[string]float64, 7)
	for d := time.Sunday; d <= time.Saturday; d++ {
		out[d.String()] = h.Average(d)
	}
	return out
}

// Dump exports the history as a plain snapshot for persistence.
func (h *HistoryStore) Dump() map[string][]float64 {
	out := make(map[string][]float64, len(h.samples))
	for day, values := range h.samples {
		cp := make([]float64, len(values))
		copy(cp, values)
		out[day.String()] = cp
	}
	return out
}

// Load bulk-restores a snapshot previously produced by Dump, replacing
// any existing samples. Unknown weekday names are skipped, per-weekday
// sequences are re-bounded and negatives clamped.
func (h *HistoryStore) Load(snapshot map[string][]float64) {
	h.samples = make(map[time.Weekday][]float64)
	for name, values := range snapshot {
		day, ok := weekdayByName(name)
		if !ok {
			slog.Warn("unknown weekday in history snapshot, skipping", "weekday", name)
			continue
		}
		for _, v := range values {
			h.Commit(day, v)
		}
	}
}

func weekdayByName(name string) (time.Weekday, bool) {
	for d := time.Sunday; d <= time.Saturday; d++ {
		if d.String() == name {
			return d, true
		}
	}
	return time.Sunday, false
}
