// Package esphome talks to an ESPHome node over its native HTTP web
// server API. Sensors are read via GET /sensor/<id> and switches are
// driven via POST /switch/<id>/turn_on|turn_off.
package esphome

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
)

const (
	defaultTimeout = 10 * time.Second
	maxRetries     = 3
)

// Config holds the entity IDs of the sensors and switches this client
// reads and drives.
type Config struct {
	BaseURL string

	SOCSensor           string
	HousePowerSensor    string
	SolarTodaySensor    string
	SolarTomorrowSensor string

	ChargeSwitch string
	BypassSwitch string // optional, empty means no bypass hardware
}

// Client is an HTTP client for one ESPHome node.
type Client struct {
	httpClient *http.Client
	baseURL    string
	cfg        Config
}

// New creates a client for the ESPHome node at cfg.BaseURL.
func New(cfg Config) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: defaultTimeout},
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		cfg:        cfg,
	}
}

// sensorState is the JSON body ESPHome returns for a sensor read.
type sensorState struct {
	ID    string  `json:"id"`
	State string  `json:"state"`
	Value float64 `json:"value"`
}

// ReadSOC returns the battery state of charge in percent.
func (c *Client) ReadSOC(ctx context.Context) (float64, error) {
	v, err := c.readSensor(ctx, c.cfg.SOCSensor)
	if err != nil {
		return 0, fmt.Errorf("reading SOC: %w", err)
	}
	if v < 0 || v > 100 {
		return 0, fmt.Errorf("SOC reading out of range: %.2f", v)
	}
	return v, nil
}

// ReadHousePower returns the momentary house load in watts.
func (c *Client) ReadHousePower(ctx context.Context) (float64, error) {
	v, err := c.readSensor(ctx, c.cfg.HousePowerSensor)
	if err != nil {
		return 0, fmt.Errorf("reading house power: %w", err)
	}
	return v, nil
}

// SolarToday returns the forecast solar production for today in kWh.
func (c *Client) SolarToday(ctx context.Context) (float64, error) {
	v, err := c.readSensor(ctx, c.cfg.SolarTodaySensor)
	if err != nil {
		return 0, fmt.Errorf("reading solar forecast (today): %w", err)
	}
	return v, nil
}

// SolarTomorrow returns the forecast solar production for tomorrow in kWh.
func (c *Client) SolarTomorrow(ctx context.Context) (float64, error) {
	v, err := c.readSensor(ctx, c.cfg.SolarTomorrowSensor)
	if err != nil {
		return 0, fmt.Errorf("reading solar forecast (tomorrow): %w", err)
	}
	return v, nil
}

// SetCharging turns the grid charge switch on or off.
func (c *Client) SetCharging(ctx context.Context, on bool) error {
	return c.setSwitch(ctx, c.cfg.ChargeSwitch, on)
}

// SetBypass turns the EV bypass switch on or off.
func (c *Client) SetBypass(ctx context.Context, on bool) error {
	if c.cfg.BypassSwitch == "" {
		return fmt.Errorf("bypass switch not configured")
	}
	return c.setSwitch(ctx, c.cfg.BypassSwitch, on)
}

// BypassConfigured reports whether the node has a bypass switch.
func (c *Client) BypassConfigured() bool {
	return c.cfg.BypassSwitch != ""
}

func (c *Client) readSensor(ctx context.Context, entity string) (float64, error) {
	if entity == "" {
		return 0, fmt.Errorf("sensor entity not configured")
	}
	endpoint := fmt.Sprintf("%s/sensor/%s", c.baseURL, url.PathEscape(entity))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("fetching %s: %w", entity, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return 0, fmt.Errorf("fetching %s: status %d: %s", entity, resp.StatusCode, string(body))
	}

	var st sensorState
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return 0, fmt.Errorf("decoding %s: %w", entity, err)
	}
	return st.Value, nil
}

// setSwitch posts a turn_on/turn_off command, retrying transient
// failures with exponential backoff.
func (c *Client) setSwitch(ctx context.Context, entity string, on bool) error {
	if entity == "" {
		return fmt.Errorf("switch entity not configured")
	}
	action := "turn_off"
	if on {
		action = "turn_on"
	}
	endpoint := fmt.Sprintf("%s/switch/%s/%s", c.baseURL, url.PathEscape(entity), action)

	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("posting %s: %w", action, err)
		}
		defer resp.Body.Close()
		io.Copy(io.Discard, resp.Body)

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("posting %s: status %d", action, resp.StatusCode)
		}
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxRetries),
		ctx,
	)
	notify := func(err error, wait time.Duration) {
		slog.Warn("switch command failed, retrying",
			"entity", entity, "action", action, "wait", wait, "error", err)
	}
	if err := backoff.RetryNotify(operation, policy, notify); err != nil {
		return fmt.Errorf("switch %s %s: %w", entity, action, err)
	}
	return nil
}
