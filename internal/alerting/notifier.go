package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	DirectionAbove = "above"
	DirectionBelow = "below"
)

// Notification carries the alert context.
type Notification struct {
	Contract      string
	EndBlock      uint64
	EndBlockHash  string
	ComputedAt    time.Time
	BaseYield     float64
	MinYield      float64
	MaxYield      float64
	Direction     string
	Channels      []string
	AdditionalMsg string
}

// Notifier delivers alerts.
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// Classify reports whether baseYield left the [min, max] band and on which side.
func Classify(baseYield, min, max float64) (string, bool) {
	switch {
	case baseYield > max:
		return DirectionAbove, true
	case baseYield < min:
		return DirectionBelow, true
	default:
		return "", false
	}
}

// TelegramNotifier pushes messages through the Telegram Bot API.
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier constructs a Telegram notifier.
func NewTelegramNotifier(botToken, chatID, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// Notify calls the sendMessage API.
func (n *TelegramNotifier) Notify(ctx context.Context, note Notification) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    renderMessage(note),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram unexpected status: %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram returned ok=false")
		}
	}

	n.logger.Info().Uint64("end_block", note.EndBlock).
		Str("direction", note.Direction).
		Str("channels", strings.Join(note.Channels, ",")).
		Msg("alert sent (telegram)")
	return nil
}

func percent(ratio float64) string {
	return decimal.NewFromFloat(ratio).Shift(2).StringFixed(2)
}

func renderMessage(note Notification) string {
	builder := strings.Builder{}
	builder.WriteString("[LST Base Yield Alert]\n")
	if note.Contract != "" {
		builder.WriteString(fmt.Sprintf("Token: %s\n", note.Contract))
	}
	builder.WriteString(fmt.Sprintf("Block: %d (%s)\n", note.EndBlock, note.EndBlockHash))
	if !note.ComputedAt.IsZero() {
		builder.WriteString(fmt.Sprintf("Computed: %s UTC\n", note.ComputedAt.UTC().Format(time.RFC3339)))
	}
	builder.WriteString(fmt.Sprintf("Base yield: %s%% (%s band %s%%..%s%%)\n",
		percent(note.BaseYield), note.Direction, percent(note.MinYield), percent(note.MaxYield)))
	if len(note.Channels) > 0 {
		builder.WriteString(fmt.Sprintf("Channels: %s\n", strings.Join(note.Channels, ",")))
	}
	if note.AdditionalMsg != "" {
		builder.WriteString(note.AdditionalMsg)
	}
	return builder.String()
}

var _ Notifier = (*TelegramNotifier)(nil)
