package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const telegramAPIBase = "https://api.telegram.org"

// TelegramService sends operator notifications to a Telegram chat.
type TelegramService struct {
	botToken    string
	adminChatID string
	apiBase     string
	client      *http.Client
	log         *zap.Logger
}

// NewTelegramService creates a new TelegramService. An empty bot token disables it.
func NewTelegramService(botToken, adminChatID string, log *zap.Logger) *TelegramService {
	return &TelegramService{
		botToken:    botToken,
		adminChatID: adminChatID,
		apiBase:     telegramAPIBase,
		client:      &http.Client{Timeout: 10 * time.Second},
		log:         log.Named("telegram"),
	}
}

// WithAPIBase points the service at another Bot API host.
func (s *TelegramService) WithAPIBase(base string) *TelegramService {
	s.apiBase = strings.TrimRight(base, "/")
	return s
}

// Enabled reports whether both the bot token and the admin chat are configured.
func (s *TelegramService) Enabled() bool {
	return s.botToken != "" && s.adminChatID != ""
}

type telegramMessage struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

// SendMessage sends a message to specified chat.
func (s *TelegramService) SendMessage(ctx context.Context, chatID, text string) error {
	if s.botToken == "" {
		s.log.Debug("bot token not configured")
		return nil
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", s.apiBase, s.botToken)

	body, err := json.Marshal(telegramMessage{
		ChatID:    chatID,
		Text:      text,
		ParseMode: "HTML",
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		s.log.Warn("failed to send message", zap.Error(err))
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		s.log.Warn("unexpected status", zap.Int("status", resp.StatusCode))
		return fmt.Errorf("telegram returned status %d", resp.StatusCode)
	}

	return nil
}

// SendToAdmin sends a message to the admin chat.
func (s *TelegramService) SendToAdmin(ctx context.Context, text string) error {
	if s.adminChatID == "" {
		s.log.Debug("admin chat id not configured")
		return nil
	}
	return s.SendMessage(ctx, s.adminChatID, text)
}

// FormatAmount formats amount with thousand separators, two decimals and the currency.
func FormatAmount(amount decimal.Decimal, currency string) string {
	if currency == "" {
		currency = "MT"
	}

	fixed := amount.Abs().StringFixed(2)
	whole, frac, _ := strings.Cut(fixed, ".")

	var result strings.Builder
	if amount.IsNegative() {
		result.WriteString("-")
	}
	length := len(whole)
	for i, digit := range whole {
		if i > 0 && (length-i)%3 == 0 {
			result.WriteString(",")
		}
		result.WriteRune(digit)
	}

	return result.String() + "." + frac + " " + currency
}

// PaymentSuccessNotification contains the data shown for an accepted payment.
type PaymentSuccessNotification struct {
	Provider  string
	Kind      string
	Status    string
	Reference string
	MSISDN    string
	Amount    decimal.Decimal
	FromApp   string
}

// NotifyPaymentSuccess sends notification about an accepted payment.
func (s *TelegramService) NotifyPaymentSuccess(ctx context.Context, payment PaymentSuccessNotification) error {
	if s.adminChatID == "" {
		return nil
	}

	fromApp := payment.FromApp
	if fromApp == "" {
		fromApp = "-"
	}

	message := fmt.Sprintf(`<b>✅ PAYMENT ACCEPTED</b>
<b>Provider:</b> %s (%s)
<b>Reference:</b> %s
<b>Customer:</b> %s
<b>Amount:</b> %s
<b>Status:</b> %s
<b>App:</b> %s`,
		html.EscapeString(payment.Provider),
		html.EscapeString(payment.Kind),
		html.EscapeString(payment.Reference),
		html.EscapeString(payment.MSISDN),
		FormatAmount(payment.Amount, ""),
		html.EscapeString(payment.Status),
		html.EscapeString(fromApp),
	)

	return s.SendToAdmin(ctx, strings.TrimSpace(message))
}
