package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/foae/night-battery-charger/internal/config"
)

// ControllerState is the per-night state of the charging window.
type ControllerState string

const (
	StateIdle     ControllerState = "idle"
	StateCharging ControllerState = "charging"
	StateDone     ControllerState = "done"
)

// maxEVEnergyKWh clamps the EV energy demand input.
const maxEVEnergyKWh = 200.0

// errorNotifyInterval rate-limits error notifications.
const errorNotifyInterval = 15 * time.Minute

// eventType enumerates the inbound events the service reacts to.
// Everything - sensor readings, wall-clock triggers and operator
// requests - is serialized through one ordered queue.
type eventType int

const (
	eventPowerReading eventType = iota
	eventDayRollover
	eventWindowOpen
	eventPeriodicPoll
	eventWindowClose
	eventEVEnergyChanged
	eventManualRecalculate
	eventForceOverride
	eventDisableOverride
	eventActuatorResult
)

func (t eventType) String() string {
	switch t {
	case eventPowerReading:
		return "power_reading"
	case eventDayRollover:
		return "day_rollover"
	case eventWindowOpen:
		return "window_open"
	case eventPeriodicPoll:
		return "periodic_poll"
	case eventWindowClose:
		return "window_close"
	case eventEVEnergyChanged:
		return "ev_energy_changed"
	case eventManualRecalculate:
		return "manual_recalculate"
	case eventForceOverride:
		return "force_override"
	case eventDisableOverride:
		return "disable_override"
	case eventActuatorResult:
		return "actuator_result"
	default:
		return "unknown"
	}
}

type event struct {
	typ   eventType
	ts    time.Time
	watts float64
	evKWh float64

	// actuator result fields
	actuator string
	on       bool
	err      error
}

// ChargeSession tracks one nightly charging window from open to close.
type ChargeSession struct {
	StartTime        time.Time `json:"start_time"`
	EndTime          time.Time `json:"end_time"`
	StartSOCPct      float64   `json:"start_soc_pct"`
	EndSOCPct        float64   `json:"end_soc_pct"`
	EnergyChargedKWh float64   `json:"energy_charged_kwh"`
	EarlyCompletion  bool      `json:"early_completion"`
	Failed           bool      `json:"failed"`
}

// Service is the night charging engine. It owns the history store, the
// integrator and the current plan, and drives the nightly
// IDLE -> CHARGING -> DONE -> IDLE cycle from a single event loop.
type Service struct {
	cfg      *config.Config
	soc      SOCReader
	power    PowerReader
	switches SwitchController
	notifier Notifier
	store    *StateStore

	history    *HistoryStore
	integrator *Integrator
	forecaster *Forecaster
	savings    *SavingsLedger

	window    config.Window
	evTimeout time.Duration
	loc       *time.Location
	nowFunc   func() time.Time // clock function for testing

	events    chan event
	execAsync func(func()) // goroutine launcher, synchronous in tests
	baseCtx   context.Context

	mu              sync.RWMutex
	planCfg         PlanningConfig
	state           ControllerState
	windowPending   bool // window open deferred because SOC was unreadable
	currentPlan     *ChargePlan
	session         *ChargeSession
	lastSession     *ChargeSession
	override        Override
	evEnergyKWh     float64
	evTimerStart    time.Time
	bypassActive    bool
	chargeSwitchOn  bool
	lastSOC         float64
	lastRunSummary  string
	lastErrorNotify time.Time
}

// New creates the service. The charging window is taken from the
// configuration and validated up front.
func New(
	cfg *config.Config,
	soc SOCReader,
	power PowerReader,
	solar SolarForecaster,
	switches SwitchController,
	notifier Notifier,
	store *StateStore,
) (*Service, error) {
	window, err := cfg.WindowMinutes()
	if err != nil {
		return nil, err
	}

	s := &Service{
		cfg:      cfg,
		soc:      soc,
		power:    power,
		switches: switches,
		notifier: notifier,
		store:    store,
		history:  NewHistoryStore(),
		window:   window,
		loc:      cfg.Location(),
		nowFunc:  time.Now,
		events:   make(chan event, 64),
		execAsync: func(fn func()) {
			go fn()
		},
		baseCtx: context.Background(),
		state:   StateIdle,
		planCfg: PlanningConfig{
			BatteryCapacityKWh: cfg.BatteryCapacityKWh,
			MinSOCReservePct:   cfg.MinSOCReservePct,
			SafetySpreadPct:    cfg.SafetySpreadPct,
			MinConsumptionKWh:  cfg.MinConsumptionKWh,
			EVMarginPct:        cfg.EVMarginPct,
		},
		evTimeout:      time.Duration(cfg.EVTimeoutHours * float64(time.Hour)),
		lastRunSummary: "Not run yet",
	}
	s.integrator = NewIntegrator(s.history, s.now())
	s.forecaster = NewForecaster(s.history, solar)
	s.savings = NewSavingsLedger(NewTariff(cfg.PeakPriceEUR, cfg.OffPeakPriceEUR))
	return s, nil
}

// now returns the current time using the configured clock and timezone.
func (s *Service) now() time.Time {
	if s.nowFunc == nil {
		return time.Now().In(s.loc)
	}
	return s.nowFunc().In(s.loc)
}

// SetClock sets the clock function and re-anchors the integrator to the
// day the new clock is in. Not thread-safe, call before Start().
func (s *Service) SetClock(fn func() time.Time) {
	s.nowFunc = fn
	s.integrator = NewIntegrator(s.history, s.now())
}

// SetPlanningConfig replaces the planning parameters. The new value
// takes effect at the next planning invocation; a run already in flight
// keeps the copy it fetched.
func (s *Service) SetPlanningConfig(cfg PlanningConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.planCfg = cfg
	slog.Info("planning config updated",
		"capacity_kwh", cfg.BatteryCapacityKWh,
		"reserve_pct", cfg.MinSOCReservePct,
		"spread_pct", cfg.SafetySpreadPct,
		"fallback_kwh", cfg.MinConsumptionKWh)
}

// Start runs the event loop until the context is canceled.
func (s *Service) Start(ctx context.Context) error {
	slog.Info("starting night charging service")
	s.baseCtx = ctx

	s.loadPersisted()

	if s.notifierEnabled() {
		if err := s.notifier.SendStartup(ctx, s.cfg.ServiceName); err != nil {
			slog.Warn("failed to send startup notification", "error", err)
		}
	}

	go s.pollPower(ctx)
	go s.runScheduler(ctx)
	go s.pollCommands(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("stopping night charging service")
			s.mu.Lock()
			switchOn := s.chargeSwitchOn
			s.mu.Unlock()
			if switchOn {
				if err := s.switches.SetCharging(context.Background(), false); err != nil {
					slog.Warn("failed to disengage charge switch on shutdown", "error", err)
				}
			}
			return ctx.Err()

		case ev := <-s.events:
			s.handleEvent(ctx, ev)
		}
	}
}

// loadPersisted restores the durable state: learned history, pending EV
// demand and the savings ledger.
func (s *Service) loadPersisted() {
	persisted, err := s.store.Load()
	if err != nil {
		slog.Warn("failed to load persisted state", "error", err)
		return
	}
	s.mu.Lock()
	s.history.Load(persisted.History)
	s.evEnergyKWh = persisted.EVEnergyKWh
	s.savings.Restore(persisted.Savings)
	s.mu.Unlock()
	if persisted.EVEnergyKWh > 0 {
		slog.Info("restored pending EV energy demand", "ev_kwh", persisted.EVEnergyKWh)
	}
}

// enqueue adds an event to the queue without ever blocking the caller.
func (s *Service) enqueue(ev event) {
	select {
	case s.events <- ev:
	default:
		slog.Warn("event queue full, dropping event", "type", ev.typ.String())
	}
}

// SetEVEnergy submits a new EV energy demand in kWh.
func (s *Service) SetEVEnergy(kwh float64) {
	s.enqueue(event{typ: eventEVEnergyChanged, evKWh: kwh, ts: s.now()})
}

// RequestRecalculate submits a manual recalculation request.
func (s *Service) RequestRecalculate() {
	s.enqueue(event{typ: eventManualRecalculate, ts: s.now()})
}

// ForceChargeTonight submits the force-full override.
func (s *Service) ForceChargeTonight() {
	s.enqueue(event{typ: eventForceOverride, ts: s.now()})
}

// DisableTonight submits the disable override.
func (s *Service) DisableTonight() {
	s.enqueue(event{typ: eventDisableOverride, ts: s.now()})
}

// pollPower periodically reads the house load and feeds the integrator
// through the event queue. An unavailable sensor skips the reading.
func (s *Service) pollPower(ctx context.Context) {
	interval := time.Duration(s.cfg.PowerPollIntervalSecs) * time.Second
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			watts, err := s.power.ReadHousePower(ctx)
			if err != nil {
				slog.Warn("house power unavailable, skipping reading", "error", err)
				continue
			}
			s.enqueue(event{typ: eventPowerReading, watts: watts, ts: s.now()})
		}
	}
}

// runScheduler translates wall-clock positions into queue events:
// day rollover at midnight, window open/close at the configured local
// times, and a periodic poll every minute.
func (s *Service) runScheduler(ctx context.Context) {
	ticker := time.NewTicker(20 * time.Second)
	defer ticker.Stop()

	lastDay := localMidnight(s.now())
	var lastOpenDay, lastCloseDay, lastPollMinute time.Time

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := s.now()
			today := localMidnight(now)
			minuteOfDay := now.Hour()*60 + now.Minute()

			if today.After(lastDay) {
				s.enqueue(event{typ: eventDayRollover, ts: now})
				lastDay = today
			}
			if s.window.Contains(minuteOfDay) && !lastOpenDay.Equal(today) {
				s.enqueue(event{typ: eventWindowOpen, ts: now})
				lastOpenDay = today
			}
			if minuteOfDay >= s.window.CloseMin && !lastCloseDay.Equal(today) {
				s.enqueue(event{typ: eventWindowClose, ts: now})
				lastCloseDay = today
			}

			minute := now.Truncate(time.Minute)
			if !minute.Equal(lastPollMinute) {
				s.enqueue(event{typ: eventPeriodicPoll, ts: now})
				lastPollMinute = minute
			}
		}
	}
}

// pollCommands polls for operator commands from the notification channel.
func (s *Service) pollCommands(ctx context.Context) {
	if !s.notifierEnabled() {
		return
	}
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			commands, err := s.notifier.PollCommands(ctx)
			if err != nil {
				slog.Debug("failed to poll commands", "error", err)
				continue
			}
			for _, cmd := range commands {
				switch cmd {
				case "/status":
					s.sendStatusMessage(ctx)
				case "/recalculate":
					s.RequestRecalculate()
				}
			}
		}
	}
}

// handleEvent dispatches one event. Handlers run to completion; the
// loop processes events strictly in arrival order.
func (s *Service) handleEvent(ctx context.Context, ev event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch ev.typ {
	case eventPowerReading:
		s.integrator.OnPowerReading(ev.watts, ev.ts)
	case eventDayRollover:
		if _, rolled := s.integrator.OnDayRollover(ev.ts); rolled {
			s.persistLocked()
		}
	case eventWindowOpen:
		s.openWindowLocked(ctx, ev.ts)
	case eventPeriodicPoll:
		s.pollLocked(ctx, ev.ts)
	case eventWindowClose:
		s.closeWindowLocked(ctx, ev.ts)
	case eventEVEnergyChanged:
		s.handleEVChangeLocked(ctx, ev.evKWh, ev.ts)
	case eventManualRecalculate:
		s.recalculateLocked(ctx, ev.ts)
	case eventForceOverride:
		s.setOverrideLocked(ctx, OverrideForceFull, ev.ts)
	case eventDisableOverride:
		s.setOverrideLocked(ctx, OverrideDisabled, ev.ts)
	case eventActuatorResult:
		s.handleActuatorResultLocked(ctx, ev)
	}
}

// inWindow reports whether now falls inside the nightly charging window.
func (s *Service) inWindow(now time.Time) bool {
	return s.window.Contains(now.Hour()*60 + now.Minute())
}

// planLocked fetches a fresh config copy and forecasts, then computes a
// plan. Caller must hold s.mu.
func (s *Service) planLocked(ctx context.Context, now time.Time, socPct, evKWh float64, mode ForecastMode) (*ChargePlan, error) {
	cfg := s.planCfg
	fc := s.forecaster.Forecast(ctx, now, cfg.MinConsumptionKWh, mode)

	return ComputePlan(PlanInput{
		CurrentSOCPct:    socPct,
		ConsumptionKWh:   fc.ConsumptionKWh,
		SolarKWh:         fc.SolarKWh,
		EVEnergyKWh:      evKWh,
		FallbackApplied:  fc.FallbackApplied,
		BypassConfigured: s.switches.BypassConfigured(),
		Override:         s.override,
		Config:           cfg,
	})
}

// openWindowLocked handles the IDLE -> CHARGING transition at the
// scheduled window-open instant. Caller must hold s.mu.
func (s *Service) openWindowLocked(ctx context.Context, now time.Time) {
	if s.state != StateIdle {
		return
	}

	soc, err := s.soc.ReadSOC(ctx)
	if err != nil {
		// Unknown SOC fails the planning call for this cycle; the
		// periodic poll retries while the window is still open.
		slog.Error("cannot read SOC at window open, deferring", "error", err)
		s.windowPending = true
		s.notifyErrorLocked(ctx, "Cannot read battery SOC at window open: "+err.Error())
		return
	}
	s.lastSOC = soc
	s.windowPending = false

	// The EV demand may have been set before the window opened; the
	// persisted value is read here rather than assumed zero.
	plan, err := s.planLocked(ctx, now, soc, s.evEnergyKWh, ModeRealtime)
	if err != nil {
		slog.Error("planning failed, no charge tonight", "error", err)
		s.lastRunSummary = "Planning failed: " + err.Error()
		s.notifyErrorLocked(ctx, "Planning failed: "+err.Error())
		return
	}

	s.currentPlan = plan
	s.state = StateCharging
	s.session = &ChargeSession{StartTime: now, StartSOCPct: soc}
	if s.evEnergyKWh > 0 {
		s.evTimerStart = now
	}

	slog.Info("charging window opened",
		"soc", soc,
		"target_soc", plan.TargetSOCPct,
		"grid_kwh", plan.GridEnergyKWh,
		"bypass", plan.BypassActive,
		"reasoning", plan.Reasoning)

	if plan.GridEnergyKWh > 0 {
		s.setChargingLocked(true)
	}
	if plan.BypassActive != s.bypassActive {
		s.setBypassLocked(plan.BypassActive)
	}

	s.notifyAsync("plan", func(nctx context.Context) error {
		return s.notifier.SendPlan(nctx, plan.Reasoning, plan.TargetSOCPct, plan.GridEnergyKWh, soc)
	})
}

// pollLocked handles the periodic tick: retries a deferred window open,
// releases the bypass on EV timeout and stops charging early once the
// target SOC is reached. Caller must hold s.mu.
func (s *Service) pollLocked(ctx context.Context, now time.Time) {
	if s.windowPending && s.inWindow(now) {
		s.windowPending = false
		s.openWindowLocked(ctx, now)
		return
	}
	if s.state != StateCharging {
		return
	}

	if s.bypassActive && !s.evTimerStart.IsZero() && now.Sub(s.evTimerStart) >= s.evTimeout {
		slog.Info("EV charge timeout reached, releasing bypass",
			"elapsed", now.Sub(s.evTimerStart), "timeout", s.evTimeout)
		s.setBypassLocked(false)
		s.evTimerStart = time.Time{}
		s.notifyErrorLocked(ctx, "EV charge timeout reached, bypass released")
	}

	if !s.chargeSwitchOn || s.currentPlan == nil {
		return
	}

	soc, err := s.soc.ReadSOC(ctx)
	if err != nil {
		slog.Warn("cannot read SOC during charge monitoring, skipping tick", "error", err)
		return
	}
	s.lastSOC = soc

	target := s.currentPlan.TargetSOCPct
	if soc >= target || soc >= 99.0 {
		slog.Info("target SOC reached before window close, stopping charge",
			"soc", soc, "target", target)
		s.setChargingLocked(false)
		s.state = StateDone

		cfg := s.planCfg
		s.session.EndTime = now
		s.session.EndSOCPct = soc
		s.session.EnergyChargedKWh = max(0, soc-s.session.StartSOCPct) / 100.0 * cfg.BatteryCapacityKWh
		s.session.EarlyCompletion = true
	}
}

// closeWindowLocked handles the window-close instant: disengages the
// switch, finalizes the session, records savings and resets the
// per-night state. Caller must hold s.mu.
func (s *Service) closeWindowLocked(ctx context.Context, now time.Time) {
	s.windowPending = false
	if s.state == StateIdle {
		return
	}

	slog.Info("charging window closed", "state", string(s.state))

	if s.chargeSwitchOn {
		s.setChargingLocked(false)
	}

	sess := s.session
	if sess != nil && sess.EndTime.IsZero() {
		soc, err := s.soc.ReadSOC(ctx)
		if err != nil {
			slog.Warn("cannot read SOC at window close, assuming start SOC", "error", err)
			soc = sess.StartSOCPct
		}
		s.lastSOC = soc
		cfg := s.planCfg
		sess.EndTime = now
		sess.EndSOCPct = soc
		sess.EnergyChargedKWh = max(0, soc-sess.StartSOCPct) / 100.0 * cfg.BatteryCapacityKWh
	}

	var savingsEUR float64
	if sess != nil {
		rec := s.savings.RecordSession(now, sess.EnergyChargedKWh)
		savingsEUR, _ = rec.Savings.Float64()
	}

	targetSOC := 0.0
	if s.currentPlan != nil {
		targetSOC = s.currentPlan.TargetSOCPct
	}
	summary := sessionSummary(sess, targetSOC)
	s.lastRunSummary = summary
	s.lastSession = sess
	slog.Info("charge session finalized", "summary", summary)

	// Per-night reset: EV demand back to zero, bypass released,
	// overrides cleared.
	if s.bypassActive {
		s.setBypassLocked(false)
	}
	s.evEnergyKWh = 0
	s.evTimerStart = time.Time{}
	s.override = OverrideNone
	s.session = nil
	s.state = StateIdle
	s.persistLocked()

	early := sess != nil && sess.EarlyCompletion
	s.notifyAsync("session_end", func(nctx context.Context) error {
		return s.notifier.SendSessionEnd(nctx, summary, early, savingsEUR)
	})
}

// handleEVChangeLocked persists a new EV demand and, when inside the
// charging window, recalculates the live plan and bypass. Caller must
// hold s.mu.
func (s *Service) handleEVChangeLocked(ctx context.Context, kwh float64, now time.Time) {
	kwh = clamp(kwh, 0, maxEVEnergyKWh)
	old := s.evEnergyKWh
	s.evEnergyKWh = kwh
	s.persistLocked()

	if !s.inWindow(now) || s.state == StateDone || s.state == StateIdle {
		slog.Info("EV energy change saved for the next charging window",
			"ev_kwh", kwh, "state", string(s.state))
		return
	}

	slog.Info("EV energy changed during charging window, recalculating",
		"old_kwh", old, "new_kwh", kwh)

	if kwh == 0 {
		if s.bypassActive {
			s.setBypassLocked(false)
		}
		s.evTimerStart = time.Time{}
	} else if old == 0 || s.evTimerStart.IsZero() {
		s.evTimerStart = now
	}

	soc, err := s.soc.ReadSOC(ctx)
	if err != nil {
		slog.Warn("cannot read SOC for EV recalculation, keeping previous plan", "error", err)
		return
	}
	s.lastSOC = soc

	oldTarget := 0.0
	if s.currentPlan != nil {
		oldTarget = s.currentPlan.TargetSOCPct
	}

	plan, err := s.planLocked(ctx, now, soc, kwh, ModeRealtime)
	if err != nil {
		slog.Error("EV recalculation failed", "error", err)
		return
	}
	s.currentPlan = plan

	if plan.BypassActive != s.bypassActive {
		s.setBypassLocked(plan.BypassActive)
	}
	if plan.GridEnergyKWh > 0 && !s.chargeSwitchOn && s.override != OverrideDisabled {
		s.setChargingLocked(true)
	}

	newTarget := plan.TargetSOCPct
	bypass := plan.BypassActive
	s.notifyAsync("ev_update", func(nctx context.Context) error {
		return s.notifier.SendEVUpdate(nctx, kwh, oldTarget, newTarget, bypass)
	})
}

// recalculateLocked handles a manual recalculation request. While
// CHARGING it re-plans in realtime mode and updates the live target;
// otherwise it runs in preview mode and only refreshes the reported
// plan, never hardware. Caller must hold s.mu.
func (s *Service) recalculateLocked(ctx context.Context, now time.Time) {
	soc, err := s.soc.ReadSOC(ctx)
	if err != nil {
		slog.Warn("cannot read SOC for recalculation, skipping", "error", err)
		return
	}
	s.lastSOC = soc

	if s.state == StateCharging {
		plan, err := s.planLocked(ctx, now, soc, s.evEnergyKWh, ModeRealtime)
		if err != nil {
			slog.Error("recalculation failed", "error", err)
			return
		}
		s.currentPlan = plan
		if plan.BypassActive != s.bypassActive {
			s.setBypassLocked(plan.BypassActive)
		}
		if plan.GridEnergyKWh > 0 && !s.chargeSwitchOn && s.override != OverrideDisabled {
			s.setChargingLocked(true)
		}
		slog.Info("live plan recalculated", "reasoning", plan.Reasoning)
		return
	}

	plan, err := s.planLocked(ctx, now, soc, s.evEnergyKWh, ModePreview)
	if err != nil {
		slog.Error("preview recalculation failed", "error", err)
		return
	}
	s.currentPlan = plan
	slog.Info("preview plan recalculated", "reasoning", plan.Reasoning)
}

// setOverrideLocked applies a user override. The two overrides are
// mutually exclusive; setting one clears the other. Caller must hold s.mu.
func (s *Service) setOverrideLocked(ctx context.Context, o Override, now time.Time) {
	s.override = o
	slog.Info("override set", "override", o.String())

	soc, err := s.soc.ReadSOC(ctx)
	if err != nil {
		slog.Warn("cannot read SOC after override, plan not refreshed", "error", err)
		return
	}
	s.lastSOC = soc

	if s.state == StateCharging {
		plan, err := s.planLocked(ctx, now, soc, s.evEnergyKWh, ModeRealtime)
		if err != nil {
			slog.Error("override recalculation failed", "error", err)
			return
		}
		s.currentPlan = plan
		switch {
		case o == OverrideDisabled && s.chargeSwitchOn:
			s.setChargingLocked(false)
		case o == OverrideForceFull && !s.chargeSwitchOn && plan.GridEnergyKWh > 0:
			s.setChargingLocked(true)
		}
		return
	}

	plan, err := s.planLocked(ctx, now, soc, s.evEnergyKWh, ModePreview)
	if err != nil {
		slog.Error("override preview failed", "error", err)
		return
	}
	s.currentPlan = plan
}

// setChargingLocked drives the charge-enable switch without holding up
// the event loop; the outcome comes back as an actuator result event.
// Caller must hold s.mu.
func (s *Service) setChargingLocked(on bool) {
	s.chargeSwitchOn = on
	ctx := s.baseCtx
	s.execAsync(func() {
		err := s.switches.SetCharging(ctx, on)
		s.enqueue(event{typ: eventActuatorResult, actuator: "charge", on: on, err: err, ts: s.now()})
	})
}

// setBypassLocked drives the bypass switch. Caller must hold s.mu.
func (s *Service) setBypassLocked(on bool) {
	if !s.switches.BypassConfigured() {
		return
	}
	s.bypassActive = on
	ctx := s.baseCtx
	s.execAsync(func() {
		err := s.switches.SetBypass(ctx, on)
		s.enqueue(event{typ: eventActuatorResult, actuator: "bypass", on: on, err: err, ts: s.now()})
	})
}

// handleActuatorResultLocked records the outcome of a switch command.
// A persistent failure marks the session failed for this cycle but does
// not crash the process; the next scheduled cycle proceeds normally.
// Caller must hold s.mu.
func (s *Service) handleActuatorResultLocked(ctx context.Context, ev event) {
	if ev.err == nil {
		slog.Debug("actuator command applied", "actuator", ev.actuator, "on", ev.on)
		return
	}

	slog.Error("actuator command failed after retries",
		"actuator", ev.actuator, "on", ev.on, "error", ev.err)
	s.notifyErrorLocked(ctx, fmt.Sprintf("Failed to switch %s %s: %v", ev.actuator, onOff(ev.on), ev.err))

	switch ev.actuator {
	case "charge":
		if ev.on {
			s.chargeSwitchOn = false
		}
		if s.session != nil {
			s.session.Failed = true
		}
	case "bypass":
		if ev.on {
			s.bypassActive = false
		}
	}
}

// persistLocked saves the durable state. Caller must hold s.mu.
func (s *Service) persistLocked() {
	state := PersistedState{
		History:     s.history.Dump(),
		EVEnergyKWh: s.evEnergyKWh,
		Savings:     s.savings.Snapshot(),
	}
	if err := s.store.Save(state); err != nil {
		slog.Error("failed to persist state", "error", err)
	}
}

func (s *Service) notifierEnabled() bool {
	return s.notifier != nil && s.notifier.Enabled()
}

// notifyAsync sends a notification off the event loop, best-effort.
func (s *Service) notifyAsync(kind string, fn func(ctx context.Context) error) {
	if !s.notifierEnabled() {
		return
	}
	ctx := s.baseCtx
	s.execAsync(func() {
		if err := fn(ctx); err != nil {
			slog.Warn("failed to send notification", "kind", kind, "error", err)
		}
	})
}

// notifyErrorLocked sends an error notification with rate limiting
// (max one per 15 minutes). Caller must hold s.mu.
func (s *Service) notifyErrorLocked(ctx context.Context, msg string) {
	if !s.notifierEnabled() {
		return
	}
	if s.now().Sub(s.lastErrorNotify) < errorNotifyInterval {
		slog.Debug("error notification rate limited", "msg", msg)
		return
	}
	s.lastErrorNotify = s.now()
	s.notifyAsync("error", func(nctx context.Context) error {
		return s.notifier.SendError(nctx, msg)
	})
}

// sendStatusMessage replies to the /status operator command.
func (s *Service) sendStatusMessage(ctx context.Context) {
	st := s.Status()
	reasoning := "No plan calculated yet."
	if st.Plan != nil {
		reasoning = st.Plan.Reasoning
	}
	text := fmt.Sprintf(
		"State: %s\nPlan: %s\nToday so far: %.2f kWh\nEV demand: %.2f kWh\nLast run: %s\nTotal savings: %.2f EUR",
		st.State, reasoning, st.TodayConsumptionKWh, st.EVEnergyKWh, st.LastRunSummary, st.TotalSavingsEUR,
	)
	if err := s.notifier.SendMessage(ctx, text); err != nil {
		slog.Warn("failed to send status message", "error", err)
	}
}

// sessionSummary renders the human-readable outcome of a session.
func sessionSummary(sess *ChargeSession, targetSOC float64) string {
	if sess == nil {
		return "Charge window ended (no active session)"
	}
	summary := fmt.Sprintf(
		"Charged %.2f kWh. Start SOC: %.0f%%, End SOC: %.0f%%. Target was %.1f%%.",
		sess.EnergyChargedKWh, sess.StartSOCPct, sess.EndSOCPct, targetSOC,
	)
	if sess.EarlyCompletion {
		summary += " Target reached early."
	}
	if sess.Failed {
		summary += " Session failed (actuator error)."
	}
	return summary
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}

// Status is the externally visible state snapshot for the HTTP API and
// the /status command.
type Status struct {
	State               ControllerState    `json:"state"`
	Plan                *ChargePlan        `json:"plan,omitempty"`
	LastSOCPct          float64            `json:"last_soc_pct"`
	TodayConsumptionKWh float64            `json:"today_consumption_kwh"`
	WeekdayAverages     map[string]float64 `json:"weekday_averages"`
	EVEnergyKWh         float64            `json:"ev_energy_kwh"`
	BypassActive        bool               `json:"bypass_active"`
	Override            string             `json:"override"`
	LastRunSummary      string             `json:"last_run_summary"`
	LastSession         *ChargeSession     `json:"last_session,omitempty"`
	TotalSavingsEUR     float64            `json:"total_savings_eur"`
}

// Status returns a snapshot of the current service state.
func (s *Service) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var plan *ChargePlan
	if s.currentPlan != nil {
		cp := *s.currentPlan
		plan = &cp
	}
	var lastSession *ChargeSession
	if s.lastSession != nil {
		cp := *s.lastSession
		lastSession = &cp
	}
	savings, _ := s.savings.TotalSavings().Float64()

	return Status{
		State:               s.state,
		Plan:                plan,
		LastSOCPct:          s.lastSOC,
		TodayConsumptionKWh: s.integrator.Accumulated(),
		WeekdayAverages:     s.history.Averages(),
		EVEnergyKWh:         s.evEnergyKWh,
		BypassActive:        s.bypassActive,
		Override:            s.override.String(),
		LastRunSummary:      s.lastRunSummary,
		LastSession:         lastSession,
		TotalSavingsEUR:     savings,
	}
}

// State returns the current controller state.
func (s *Service) State() ControllerState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}
