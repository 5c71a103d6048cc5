package service

import (
	"context"
	"log/slog"
	"time"
)

// ForecastMode selects what a forecast is for: realtime forecasts drive
// actual charging decisions, preview forecasts drive manual "what would
// happen" recalculations and never reach hardware.
type ForecastMode int

const (
	ModeRealtime ForecastMode = iota
	ModePreview
)

func (m ForecastMode) String() string {
	if m == ModePreview {
		return "preview"
	}
	return "realtime"
}

// Forecast is the pair of numbers the planner needs for one target day.
type Forecast struct {
	ConsumptionKWh  float64
	SolarKWh        float64
	FallbackApplied bool
	Weekday         time.Weekday
}

// Forecaster derives the consumption forecast from learned weekday
// history and reads the external solar forecast. Both realtime and
// preview forecasts are anchored to the current day: the charging
// window opens at the local-day boundary, so the day being served is
// always the day the clock is in.
type Forecaster struct {
	history *HistoryStore
	solar   SolarForecaster
}

// NewForecaster creates a forecaster over the given history and solar source.
func NewForecaster(history *HistoryStore, solar SolarForecaster) *Forecaster {
	return &Forecaster{history: history, solar: solar}
}

// Forecast produces the consumption and solar forecast for the day
// containing now, applying the minimum-consumption fallback.
func (f *Forecaster) Forecast(ctx context.Context, now time.Time, fallbackKWh float64, mode ForecastMode) Forecast {
	weekday := now.Weekday()
	consumption, fellBack := f.ConsumptionForecast(weekday, fallbackKWh)
	solar := f.SolarForecast(ctx, mode)

	slog.Info("forecast computed",
		"mode", mode.String(),
		"weekday", weekday.String(),
		"consumption_kwh", consumption,
		"solar_kwh", solar,
		"fallback_applied", fellBack)

	return Forecast{
		ConsumptionKWh:  consumption,
		SolarKWh:        solar,
		FallbackApplied: fellBack,
		Weekday:         weekday,
	}
}

// ConsumptionForecast returns the weekday average, or the fallback when
// the average (including the zero-history case) is below it. The second
// return value reports whether the fallback was applied.
func (f *Forecaster) ConsumptionForecast(weekday time.Weekday, fallbackKWh float64) (float64, bool) {
	avg := f.history.Average(weekday)
	if avg < fallbackKWh {
		slog.Warn("consumption forecast below minimum, using fallback",
			"weekday", weekday.String(),
			"average_kwh", avg,
			"fallback_kwh", fallbackKWh,
			"samples", f.history.Count(weekday))
		return fallbackKWh, true
	}
	return avg, false
}

// SolarForecast reads the external solar forecast for the current day.
// An unknown or unavailable reading is treated as 0.0 with a warning.
func (f *Forecaster) SolarForecast(ctx context.Context, mode ForecastMode) float64 {
	value, err := f.solar.SolarToday(ctx)
	if err != nil {
		slog.Warn("solar forecast unavailable, assuming zero",
			"mode", mode.String(), "error", err)
		return 0.0
	}
	if value < 0 {
		slog.Warn("negative solar forecast clamped to zero", "solar_kwh", value)
		return 0.0
	}
	return value
}

// SolarTomorrowForecast reads tomorrow's solar forecast for diagnostics.
func (f *Forecaster) SolarTomorrowForecast(ctx context.Context) float64 {
	value, err := f.solar.SolarTomorrow(ctx)
	if err != nil {
		slog.Debug("tomorrow solar forecast unavailable", "error", err)
		return 0.0
	}
	return value
}

// WeekdayAverage exposes the learned average for a weekday so other
// components and diagnostics do not reach into the history directly.
func (f *Forecaster) WeekdayAverage(weekday time.Weekday) float64 {
	return f.history.Average(weekday)
}
