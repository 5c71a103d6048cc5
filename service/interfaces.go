package service

import (
	"context"
)

// SOCReader reads the battery state of charge.
type SOCReader interface {
	// ReadSOC returns the current state of charge as a percentage in
	// [0,100]. An unavailable sensor is returned as an error; the
	// caller decides whether the cycle can proceed without it.
	ReadSOC(ctx context.Context) (float64, error)
}

// PowerReader reads the instantaneous house load.
type PowerReader interface {
	// ReadHousePower returns the current house load in watts.
	ReadHousePower(ctx context.Context) (float64, error)
}

// SolarForecaster provides the externally supplied solar production
// forecasts for today and tomorrow, in kWh.
type SolarForecaster interface {
	SolarToday(ctx context.Context) (float64, error)
	SolarTomorrow(ctx context.Context) (float64, error)
}

// SwitchController drives the inverter charge-enable switch and the
// optional battery bypass switch. Implementations retry transient
// failures with a bounded backoff before returning an error.
type SwitchController interface {
	SetCharging(ctx context.Context, on bool) error
	SetBypass(ctx context.Context, on bool) error
	BypassConfigured() bool
}

// Notifier sends best-effort notifications. Failures are logged by the
// caller and never affect charging behavior.
type Notifier interface {
	Enabled() bool
	SendStartup(ctx context.Context, serviceName string) error
	SendPlan(ctx context.Context, reasoning string, targetSOCPct, gridKWh, socPct float64) error
	SendSessionEnd(ctx context.Context, summary string, early bool, savingsEUR float64) error
	SendEVUpdate(ctx context.Context, evKWh, oldTargetPct, newTargetPct float64, bypass bool) error
	SendError(ctx context.Context, msg string) error
	PollCommands(ctx context.Context) ([]string, error)
	SendMessage(ctx context.Context, text string) error
}
