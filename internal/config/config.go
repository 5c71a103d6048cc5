package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds all configuration for the night battery charger service.
type Config struct {
	// Service
	ServiceName    string `env:"SERVICE_NAME" envDefault:"night-battery-charger"`
	LogLevel       string `env:"LOG_LEVEL" envDefault:"info"`
	HTTPListenAddr string `env:"HTTP_LISTEN_ADDR" envDefault:":8080"`
	DataDir        string `env:"DATA_DIR" envDefault:"./data"`
	TZ             string `env:"TZ" envDefault:"Europe/Rome"`

	// ESPHome node exposing the inverter and house sensors.
	// When ESPHOME_URL is empty the node is discovered via mDNS.
	ESPHomeURL          string `env:"ESPHOME_URL"`
	SOCSensor           string `env:"SOC_SENSOR" envDefault:"Battery State Of Charge"`
	HousePowerSensor    string `env:"HOUSE_POWER_SENSOR" envDefault:"House Load Power"`
	SolarTodaySensor    string `env:"SOLAR_TODAY_SENSOR" envDefault:"Solar Forecast Today"`
	SolarTomorrowSensor string `env:"SOLAR_TOMORROW_SENSOR" envDefault:"Solar Forecast Tomorrow"`
	ChargeSwitch        string `env:"CHARGE_SWITCH" envDefault:"Inverter Grid Charge"`
	BypassSwitch        string `env:"BYPASS_SWITCH"` // optional

	// Planning
	BatteryCapacityKWh    float64 `env:"BATTERY_CAPACITY_KWH" envDefault:"10.0"`
	MinSOCReservePct      float64 `env:"MIN_SOC_RESERVE_PCT" envDefault:"15.0"`
	SafetySpreadPct       float64 `env:"SAFETY_SPREAD_PCT" envDefault:"10.0"`
	MinConsumptionKWh     float64 `env:"MIN_CONSUMPTION_KWH" envDefault:"10.0"`
	EVMarginPct           float64 `env:"EV_MARGIN_PCT" envDefault:"15.0"`
	EVTimeoutHours        float64 `env:"EV_TIMEOUT_HOURS" envDefault:"6.0"`
	WindowOpen            string  `env:"WINDOW_OPEN" envDefault:"00:01"`
	WindowClose           string  `env:"WINDOW_CLOSE" envDefault:"07:00"`
	PowerPollIntervalSecs int     `env:"POWER_POLL_INTERVAL_S" envDefault:"60"`

	// Tariff (for the savings ledger)
	PeakPriceEUR    float64 `env:"PEAK_PRICE_EUR_KWH" envDefault:"0.25"`
	OffPeakPriceEUR float64 `env:"OFFPEAK_PRICE_EUR_KWH" envDefault:"0.12"`

	// Telegram (optional)
	TelegramBotToken string `env:"TELEGRAM_BOT_TOKEN"`
	TelegramChatID   string `env:"TELEGRAM_CHAT_ID"`
}

// Load parses environment variables into Config.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	if _, err := cfg.WindowMinutes(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// TelegramEnabled returns true if Telegram notifications are configured.
func (c *Config) TelegramEnabled() bool {
	return c.TelegramBotToken != "" && c.TelegramChatID != ""
}

// Location returns the configured timezone location.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.TZ)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Window describes the nightly charging window as minutes after local midnight.
type Window struct {
	OpenMin  int
	CloseMin int
}

// Contains reports whether the given minute of day falls inside the window.
func (w Window) Contains(minuteOfDay int) bool {
	return minuteOfDay >= w.OpenMin && minuteOfDay < w.CloseMin
}

// WindowMinutes parses WINDOW_OPEN/WINDOW_CLOSE ("HH:MM") and validates
// that the window is not inverted.
func (c *Config) WindowMinutes() (Window, error) {
	open, err := parseClock(c.WindowOpen)
	if err != nil {
		return Window{}, fmt.Errorf("parse WINDOW_OPEN: %w", err)
	}
	closeMin, err := parseClock(c.WindowClose)
	if err != nil {
		return Window{}, fmt.Errorf("parse WINDOW_CLOSE: %w", err)
	}
	if open >= closeMin {
		return Window{}, fmt.Errorf("charging window is inverted: %s >= %s", c.WindowOpen, c.WindowClose)
	}
	return Window{OpenMin: open, CloseMin: closeMin}, nil
}

func parseClock(s string) (int, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid time %q, want HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("time %q out of range", s)
	}
	return h*60 + m, nil
}
