package service

import (
	"fmt"
	"strings"
)

// Override is a user-requested deviation from the normal plan.
// Disabled wins over ForceFull when both are requested.
type Override int

const (
	OverrideNone Override = iota
	OverrideForceFull
	OverrideDisabled
)

func (o Override) String() string {
	switch o {
	case OverrideForceFull:
		return "force_full"
	case OverrideDisabled:
		return "disabled"
	default:
		return "none"
	}
}

// PlanningConfig is the immutable set of parameters for one planning
// run. It is fetched fresh at the start of each invocation so a config
// change mid-cycle cannot produce a torn plan.
type PlanningConfig struct {
	BatteryCapacityKWh float64
	MinSOCReservePct   float64
	SafetySpreadPct    float64
	MinConsumptionKWh  float64
	EVMarginPct        float64
}

// Validate reports configuration errors that make planning impossible.
// A cycle with an invalid config produces no actionable plan.
func (c PlanningConfig) Validate() error {
	if c.BatteryCapacityKWh <= 0 {
		return fmt.Errorf("battery capacity must be positive, got %.2f kWh", c.BatteryCapacityKWh)
	}
	if c.MinSOCReservePct < 0 || c.MinSOCReservePct > 100 {
		return fmt.Errorf("min SOC reserve must be within [0,100], got %.1f%%", c.MinSOCReservePct)
	}
	if c.SafetySpreadPct < 0 {
		return fmt.Errorf("safety spread must not be negative, got %.1f%%", c.SafetySpreadPct)
	}
	if c.MinConsumptionKWh < 0 {
		return fmt.Errorf("minimum consumption fallback must not be negative, got %.2f kWh", c.MinConsumptionKWh)
	}
	if c.EVMarginPct < 0 {
		return fmt.Errorf("EV margin must not be negative, got %.1f%%", c.EVMarginPct)
	}
	return nil
}

// PlanInput is everything ComputePlan needs. The planner is a pure
// function of this input; identical inputs produce identical plans.
type PlanInput struct {
	CurrentSOCPct    float64
	ConsumptionKWh   float64
	SolarKWh         float64
	EVEnergyKWh      float64
	FallbackApplied  bool
	BypassConfigured bool
	Override         Override
	Config           PlanningConfig
}

// ChargePlan is the outcome of one planning run. It is a value object:
// every recalculation produces a new plan that supersedes the previous
// one, never a mutation in place.
type ChargePlan struct {
	TargetSOCPct      float64  `json:"target_soc_pct"`
	GridEnergyKWh     float64  `json:"grid_energy_kwh"`
	ConsumptionKWh    float64  `json:"consumption_forecast_kwh"`
	SolarKWh          float64  `json:"solar_forecast_kwh"`
	EVEnergyKWh       float64  `json:"ev_energy_kwh"`
	BypassActive      bool     `json:"bypass_active"`
	ChargingScheduled bool     `json:"charging_scheduled"`
	FallbackApplied   bool     `json:"fallback_applied"`
	Override          Override `json:"-"`
	Reasoning         string   `json:"reasoning"`
}

// ComputePlan calculates the target state of charge and the grid energy
// to draw for the night.
//
// Normal path:
//
//	net_load      = consumption + ev - solar
//	required      = reserve + max(0, net_load)
//	target_energy = required * (1 + spread/100)
//	target_soc    = clamp(target_energy/capacity*100, reserve_pct, 100)
//	grid_energy   = max(0, target_energy - current_energy)
//
// Override precedence: disabled beats force_full beats the normal path.
func ComputePlan(in PlanInput) (*ChargePlan, error) {
	cfg := in.Config
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("planning config: %w", err)
	}

	currentEnergy := in.CurrentSOCPct / 100.0 * cfg.BatteryCapacityKWh
	reserveEnergy := cfg.MinSOCReservePct / 100.0 * cfg.BatteryCapacityKWh

	netLoad := in.ConsumptionKWh + in.EVEnergyKWh - in.SolarKWh
	requiredEnergy := reserveEnergy + max(0, netLoad)
	targetEnergy := requiredEnergy * (1.0 + cfg.SafetySpreadPct/100.0)

	targetSOC := clamp(targetEnergy/cfg.BatteryCapacityKWh*100.0, cfg.MinSOCReservePct, 100.0)
	gridEnergy := max(0, targetEnergy-currentEnergy)

	switch in.Override {
	case OverrideDisabled:
		targetSOC = in.CurrentSOCPct
		gridEnergy = 0
	case OverrideForceFull:
		targetSOC = 100.0
		gridEnergy = max(0, cfg.BatteryCapacityKWh*(1.0-in.CurrentSOCPct/100.0))
	}

	bypass := computeBypass(in)

	plan := &ChargePlan{
		TargetSOCPct:      targetSOC,
		GridEnergyKWh:     gridEnergy,
		ConsumptionKWh:    in.ConsumptionKWh,
		SolarKWh:          in.SolarKWh,
		EVEnergyKWh:       in.EVEnergyKWh,
		BypassActive:      bypass,
		ChargingScheduled: gridEnergy > 0 || bypass,
		FallbackApplied:   in.FallbackApplied,
		Override:          in.Override,
	}
	plan.Reasoning = buildReasoning(plan)
	return plan, nil
}

// computeBypass decides whether EV charging must be routed directly
// from the grid instead of through the battery. Only relevant when EV
// energy is requested and a bypass switch is configured. A battery
// already below its reserve forces the bypass active.
func computeBypass(in PlanInput) bool {
	if in.EVEnergyKWh <= 0 || !in.BypassConfigured {
		return false
	}
	cfg := in.Config

	availableEnergy := cfg.BatteryCapacityKWh * (in.CurrentSOCPct - cfg.MinSOCReservePct) / 100.0
	if availableEnergy < 0 {
		return true
	}

	netLoadWithoutEV := in.ConsumptionKWh - in.SolarKWh
	remainingAfterLoad := availableEnergy - max(0, netLoadWithoutEV)

	return remainingAfterLoad < in.EVEnergyKWh*(1.0+cfg.EVMarginPct/100.0)
}

// buildReasoning renders the human-readable explanation of a plan.
// The text is a primary user-facing artifact: it must deterministically
// reflect the plan's inputs, so energies are rounded to 2 decimals and
// percentages to 1.
func buildReasoning(p *ChargePlan) string {
	var b strings.Builder

	switch p.Override {
	case OverrideDisabled:
		b.WriteString("[DISABLED BY USER] ")
	case OverrideForceFull:
		b.WriteString("[FORCED BY USER] ")
	}

	fmt.Fprintf(&b, "Planned %.2f kWh grid charge. Today's estimated load is %.2f kWh", p.GridEnergyKWh, p.ConsumptionKWh)
	if p.EVEnergyKWh > 0 {
		fmt.Fprintf(&b, " + %.2f kWh EV", p.EVEnergyKWh)
	}
	fmt.Fprintf(&b, ", with %.2f kWh solar forecast. Target SOC: %.1f%%.", p.SolarKWh, p.TargetSOCPct)

	if p.Override == OverrideDisabled {
		b.WriteString(" Charging disabled by user for tonight.")
	}
	if p.FallbackApplied {
		b.WriteString(" Minimum consumption fallback applied.")
	}
	if p.BypassActive {
		b.WriteString(" Grid bypass active for EV charging.")
	}
	return b.String()
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
