package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/foae/night-battery-charger/service"
)

// Handler holds HTTP handler dependencies.
type Handler struct {
	svc *service.Service
}

// New creates a new HTTP handler.
func New(svc *service.Service) *Handler {
	return &Handler{svc: svc}
}

// NewRouter creates and configures the HTTP router.
func (h *Handler) NewRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)

	r.Get("/health", h.healthHandler)
	r.Get("/metrics", h.metricsHandler())
	r.Get("/status", h.statusHandler)

	r.Post("/recalculate", h.recalculateHandler)
	r.Post("/override/force", h.forceOverrideHandler)
	r.Post("/override/disable", h.disableOverrideHandler)
	r.Post("/ev", h.evEnergyHandler)
	r.Post("/config", h.planningConfigHandler)

	return r
}

// healthHandler returns a simple health check response.
func (h *Handler) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// statusHandler returns the full service state snapshot.
func (h *Handler) statusHandler(w http.ResponseWriter, r *http.Request) {
	if h.svc == nil {
		h.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "service not ready"})
		return
	}
	h.writeJSON(w, http.StatusOK, h.svc.Status())
}

// recalculateHandler requests a manual plan recalculation.
func (h *Handler) recalculateHandler(w http.ResponseWriter, r *http.Request) {
	h.svc.RequestRecalculate()
	h.writeJSON(w, http.StatusAccepted, map[string]string{"status": "recalculation requested"})
}

// forceOverrideHandler sets the force-full override for tonight.
func (h *Handler) forceOverrideHandler(w http.ResponseWriter, r *http.Request) {
	h.svc.ForceChargeTonight()
	h.writeJSON(w, http.StatusAccepted, map[string]string{"status": "force charge override set"})
}

// disableOverrideHandler disables charging for tonight.
func (h *Handler) disableOverrideHandler(w http.ResponseWriter, r *http.Request) {
	h.svc.DisableTonight()
	h.writeJSON(w, http.StatusAccepted, map[string]string{"status": "charging disabled for tonight"})
}

// evEnergyRequest is the body for POST /ev.
type evEnergyRequest struct {
	EnergyKWh float64 `json:"energy_kwh"`
}

// evEnergyHandler submits a new EV energy demand.
func (h *Handler) evEnergyHandler(w http.ResponseWriter, r *http.Request) {
	var req evEnergyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	h.svc.SetEVEnergy(req.EnergyKWh)
	h.writeJSON(w, http.StatusAccepted, map[string]string{"status": "ev energy demand submitted"})
}

// planningConfigRequest is the body for POST /config.
type planningConfigRequest struct {
	BatteryCapacityKWh float64 `json:"battery_capacity_kwh"`
	MinSOCReservePct   float64 `json:"min_soc_reserve_pct"`
	SafetySpreadPct    float64 `json:"safety_spread_pct"`
	MinConsumptionKWh  float64 `json:"min_consumption_kwh"`
	EVMarginPct        float64 `json:"ev_margin_pct"`
}

// planningConfigHandler replaces the planning parameters. The new
// values take effect at the next planning invocation.
func (h *Handler) planningConfigHandler(w http.ResponseWriter, r *http.Request) {
	var req planningConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	cfg := service.PlanningConfig{
		BatteryCapacityKWh: req.BatteryCapacityKWh,
		MinSOCReservePct:   req.MinSOCReservePct,
		SafetySpreadPct:    req.SafetySpreadPct,
		MinConsumptionKWh:  req.MinConsumptionKWh,
		EVMarginPct:        req.EVMarginPct,
	}
	if err := cfg.Validate(); err != nil {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	h.svc.SetPlanningConfig(cfg)
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "planning config updated"})
}

// writeJSON writes a JSON response.
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Prometheus metrics
var (
	batterySOC = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "night_charger_battery_soc",
		Help: "Last known battery state of charge (percentage)",
	})

	chargerState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "night_charger_state",
		Help: "Current charger state (1 = active)",
	}, []string{"state"})

	todayConsumption = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "night_charger_today_consumption_kwh",
		Help: "Accumulated house consumption for the current day in kWh",
	})

	plannedGridEnergy = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "night_charger_planned_grid_kwh",
		Help: "Grid energy planned for the current charging window in kWh",
	})

	targetSOC = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "night_charger_target_soc",
		Help: "Target state of charge of the current plan (percentage)",
	})

	evEnergy = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "night_charger_ev_energy_kwh",
		Help: "Pending EV energy demand in kWh",
	})

	bypassActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "night_charger_bypass_active",
		Help: "Whether the EV bypass is active (1 = active)",
	})

	totalSavings = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "night_charger_savings_eur_total",
		Help: "Cumulative savings from off-peak charging in EUR",
	})
)

func init() {
	prometheus.MustRegister(batterySOC)
	prometheus.MustRegister(chargerState)
	prometheus.MustRegister(todayConsumption)
	prometheus.MustRegister(plannedGridEnergy)
	prometheus.MustRegister(targetSOC)
	prometheus.MustRegister(evEnergy)
	prometheus.MustRegister(bypassActive)
	prometheus.MustRegister(totalSavings)
}

// metricsHandler returns the Prometheus metrics handler.
func (h *Handler) metricsHandler() http.HandlerFunc {
	promHandler := promhttp.Handler()

	return func(w http.ResponseWriter, r *http.Request) {
		h.updateMetrics()
		promHandler.ServeHTTP(w, r)
	}
}

// updateMetrics updates the Prometheus metrics from current state.
func (h *Handler) updateMetrics() {
	if h.svc == nil {
		return
	}

	status := h.svc.Status()

	chargerState.Reset()
	chargerState.WithLabelValues(string(status.State)).Set(1)

	batterySOC.Set(status.LastSOCPct)
	todayConsumption.Set(status.TodayConsumptionKWh)
	evEnergy.Set(status.EVEnergyKWh)
	totalSavings.Set(status.TotalSavingsEUR)

	if status.BypassActive {
		bypassActive.Set(1)
	} else {
		bypassActive.Set(0)
	}

	if status.Plan != nil {
		plannedGridEnergy.Set(status.Plan.GridEnergyKWh)
		targetSOC.Set(status.Plan.TargetSOCPct)
	}
}
