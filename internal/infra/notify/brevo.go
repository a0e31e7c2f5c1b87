package notify

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/vietddude/perpkeeper/internal/indexing/metrics"
)

const (
	DefaultBrevoURL = "https://api.brevo.com/v3"
	DefaultSubject  = "Backend Notification"
)

// Config holds the Brevo transactional email settings.
type Config struct {
	BrevoAPIKey string        `yaml:"brevo_api_key"`
	BrevoURL    string        `yaml:"brevo_url"`
	Sender      string        `yaml:"sender"`
	Receiver    string        `yaml:"receiver"`
	Subject     string        `yaml:"subject"`
	Timeout     time.Duration `yaml:"timeout"`
}

// Enabled reports whether mail delivery is configured.
func (c Config) Enabled() bool {
	return c.BrevoAPIKey != "" && c.Sender != "" && c.Receiver != ""
}

type brevoAddress struct {
	Email string `json:"email"`
}

type brevoEmail struct {
	Sender      brevoAddress   `json:"sender"`
	To          []brevoAddress `json:"to"`
	Subject     string         `json:"subject"`
	HTMLContent string         `json:"htmlContent"`
}

// Brevo sends notifications as transactional email through the Brevo API.
type Brevo struct {
	cfg        Config
	httpClient *resty.Client
	log        *slog.Logger
}

func NewBrevo(cfg Config, log *slog.Logger) *Brevo {
	if cfg.BrevoURL == "" {
		cfg.BrevoURL = DefaultBrevoURL
	}
	if cfg.Subject == "" {
		cfg.Subject = DefaultSubject
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}

	return &Brevo{
		cfg: cfg,
		httpClient: resty.New().
			SetBaseURL(cfg.BrevoURL).
			SetTimeout(cfg.Timeout),
		log: log.With("component", "notify"),
	}
}

// Send delivers one email and reports the delivery error.
func (b *Brevo) Send(ctx context.Context, message string) error {
	body := brevoEmail{
		Sender:      brevoAddress{Email: b.cfg.Sender},
		To:          []brevoAddress{{Email: b.cfg.Receiver}},
		Subject:     b.cfg.Subject,
		HTMLContent: fmt.Sprintf("<html><body><h1>%s</h1></body></html>", html.EscapeString(message)),
	}

	resp, err := b.httpClient.R().
		SetContext(ctx).
		SetHeader("api-key", b.cfg.BrevoAPIKey).
		SetHeader("Accept", "application/json").
		SetBody(body).
		Post("/smtp/email")
	if err != nil {
		return fmt.Errorf("brevo request failed: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("brevo returned %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}

// Notify sends the message and swallows delivery errors.
func (b *Brevo) Notify(ctx context.Context, message string) {
	if err := b.Send(ctx, message); err != nil {
		metrics.Notifications.WithLabelValues("failed").Inc()
		b.log.Error("Failed to send notification", "error", err, "message", message)
		return
	}
	metrics.Notifications.WithLabelValues("sent").Inc()
	b.log.Debug("Notification sent", "message", message)
}
