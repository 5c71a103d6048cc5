package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const (
	sendMessageAPI = "https://api.telegram.org/bot%s/sendMessage"
	getUpdatesAPI  = "https://api.telegram.org/bot%s/getUpdates"
)

// Client is a Telegram bot client.
type Client struct {
	botToken     string
	chatID       string
	httpClient   *http.Client
	enabled      bool
	lastUpdateID int64
}

// New creates a new Telegram client.
// If botToken or chatID is empty, the client will be disabled (no-op).
func New(botToken, chatID string) *Client {
	return &Client{
		botToken: botToken,
		chatID:   chatID,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		enabled: botToken != "" && chatID != "",
	}
}

// sendMessageRequest is the Telegram API request body.
type sendMessageRequest struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode,omitempty"`
}

// SendMessage sends a message to the configured chat.
// Returns nil if the client is disabled.
func (c *Client) SendMessage(ctx context.Context, text string) error {
	if !c.enabled {
		return nil
	}

	reqBody := sendMessageRequest{
		ChatID:    c.chatID,
		Text:      text,
		ParseMode: "HTML",
	}

	data, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf(sendMessageAPI, c.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	return nil
}

// Enabled returns true if the client is configured and enabled.
func (c *Client) Enabled() bool {
	return c.enabled
}

// SendStartup sends a startup notification.
func (c *Client) SendStartup(ctx context.Context, serviceName string) error {
	text := fmt.Sprintf("🚀 <b>%s started</b>", serviceName)
	return c.SendMessage(ctx, text)
}

// SendPlan sends the nightly charge plan when the window opens.
func (c *Client) SendPlan(ctx context.Context, reasoning string, targetSOCPct, gridKWh, socPct float64) error {
	text := fmt.Sprintf(
		"🌙 <b>Charge window opened</b>\n\n"+
			"<b>Current SOC:</b> %.1f%%\n"+
			"<b>Target SOC:</b> %.1f%%\n"+
			"<b>Grid charge:</b> %.2f kWh\n\n"+
			"%s",
		socPct, targetSOCPct, gridKWh, reasoning,
	)
	return c.SendMessage(ctx, text)
}

// SendSessionEnd sends the session outcome when the window closes.
func (c *Client) SendSessionEnd(ctx context.Context, summary string, early bool, savingsEUR float64) error {
	emoji := "🔋"
	if early {
		emoji = "✅"
	}
	text := fmt.Sprintf(
		"%s <b>Charge session completed</b>\n\n%s\n\n💰 <b>Savings:</b> %.2f EUR",
		emoji, summary, savingsEUR,
	)
	return c.SendMessage(ctx, text)
}

// SendEVUpdate sends a notification when an EV demand change
// recalculated the live plan.
func (c *Client) SendEVUpdate(ctx context.Context, evKWh, oldTargetPct, newTargetPct float64, bypass bool) error {
	bypassLine := ""
	if bypass {
		bypassLine = "\n⚡ <b>Bypass active:</b> EV charges directly from grid"
	}
	text := fmt.Sprintf(
		"🚗 <b>EV demand updated</b>\n\n"+
			"<b>EV energy:</b> %.2f kWh\n"+
			"<b>Target SOC:</b> %.1f%% → %.1f%%%s",
		evKWh, oldTargetPct, newTargetPct, bypassLine,
	)
	return c.SendMessage(ctx, text)
}

// SendError sends an error notification.
func (c *Client) SendError(ctx context.Context, errMsg string) error {
	text := fmt.Sprintf("⚠️ <b>Error</b>\n%s", errMsg)
	return c.SendMessage(ctx, text)
}

// Update represents a Telegram update.
type Update struct {
	UpdateID int64   `json:"update_id"`
	Message  Message `json:"message"`
}

// Message represents a Telegram message.
type Message struct {
	Chat Chat   `json:"chat"`
	Text string `json:"text"`
}

// Chat represents a Telegram chat.
type Chat struct {
	ID int64 `json:"id"`
}

// getUpdatesResponse is the Telegram API response for getUpdates.
type getUpdatesResponse struct {
	OK     bool     `json:"ok"`
	Result []Update `json:"result"`
}

// PollCommands checks for new commands and returns them.
// Returns command strings (e.g., "/status") from the configured chat.
func (c *Client) PollCommands(ctx context.Context) ([]string, error) {
	if !c.enabled {
		return nil, nil
	}

	url := fmt.Sprintf(getUpdatesAPI+"?offset=%d&timeout=1", c.botToken, c.lastUpdateID+1)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var result getUpdatesResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}

	var commands []string
	for _, update := range result.Result {
		c.lastUpdateID = update.UpdateID
		// Only process messages from configured chat
		if fmt.Sprintf("%d", update.Message.Chat.ID) == c.chatID {
			if len(update.Message.Text) > 0 && update.Message.Text[0] == '/' {
				commands = append(commands, update.Message.Text)
			}
		}
	}

	return commands, nil
}
