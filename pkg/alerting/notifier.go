package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/smtp"
	"strings"
	"sync"
	"time"

	goslack "github.com/slack-go/slack"
	"github.com/sony/gobreaker"

	"github.com/stratushq/stratus/pkg/crypto"
	"github.com/stratushq/stratus/pkg/events"
	"github.com/stratushq/stratus/pkg/models"
	"github.com/stratushq/stratus/pkg/store"
)

const defaultPagerDutyURL = "https://events.pagerduty.com/v2/enqueue"

var severityColor = map[models.Severity]string{
	models.SeverityCritical: "#E01E5A",
	models.SeverityHigh:     "#E8912D",
	models.SeverityMedium:   "#ECB22E",
	models.SeverityLow:      "#2EB67D",
}

// PagerDuty Events v2 only accepts its own severity vocabulary.
var pagerdutySeverity = map[models.Severity]string{
	models.SeverityCritical: "critical",
	models.SeverityHigh:     "error",
	models.SeverityMedium:   "warning",
	models.SeverityLow:      "info",
}

var statusEmoji = map[models.AlertStatus]string{
	models.AlertFiring:   ":rotating_light:",
	models.AlertResolved: ":white_check_mark:",
}

// ChannelConfig is the decrypted per-channel settings object. Which
// fields matter depends on the channel type: webhook_url for Slack,
// Teams, and generic webhooks; routing_key for PagerDuty; the SMTP
// fields and recipients for email.
type ChannelConfig struct {
	WebhookURL   string   `json:"webhook_url,omitempty"`
	RoutingKey   string   `json:"routing_key,omitempty"`
	Recipients   []string `json:"recipients,omitempty"`
	From         string   `json:"from,omitempty"`
	SMTPHost     string   `json:"smtp_host,omitempty"`
	SMTPPort     int      `json:"smtp_port,omitempty"`
	SMTPUsername string   `json:"smtp_username,omitempty"`
	SMTPPassword string   `json:"smtp_password,omitempty"`
}

// Notifier delivers alert notifications to the channels bound via a
// condition's policy. Each channel gets its own circuit breaker so a
// dead endpoint stops consuming delivery attempts without affecting
// the others. There are no in-core retries; external receivers
// deduplicate by the alert id.
type Notifier struct {
	store     *store.Store
	publisher *events.EventPublisher
	cipher    *crypto.Cipher
	client    *http.Client

	// pagerdutyURL is the Events v2 enqueue endpoint, overridable in
	// tests.
	pagerdutyURL string

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// NewNotifier creates a notifier. A nil cipher means channel configs
// are stored unencrypted and parsed as-is.
func NewNotifier(st *store.Store, publisher *events.EventPublisher, cipher *crypto.Cipher) *Notifier {
	return &Notifier{
		store:        st,
		publisher:    publisher,
		cipher:       cipher,
		client:       &http.Client{Timeout: 10 * time.Second},
		pagerdutyURL: defaultPagerDutyURL,
		breakers:     make(map[string]*gobreaker.CircuitBreaker),
	}
}

// Notify fans an alert out to every enabled channel bound to the
// condition's policy. A nil receiver or a condition without a policy
// delivers nothing. Active muting rules suppress delivery entirely.
// Per-channel failures are isolated, logged, and recorded as
// notification.sent events alongside successes.
func (n *Notifier) Notify(ctx context.Context, cond *models.AlertCondition, alert *models.ActiveAlert) {
	if n == nil || cond.PolicyID == nil {
		return
	}

	if rule := n.mutedBy(ctx, cond, alert); rule != nil {
		slog.Info("Alert notifications muted",
			"alert_id", alert.ID,
			"condition", cond.Name,
			"rule", rule.Name)
		return
	}

	channels, err := n.store.Alerts.PolicyChannels(ctx, *cond.PolicyID)
	if err != nil {
		slog.Error("Resolving notification channels failed",
			"policy_id", *cond.PolicyID, "error", err)
		return
	}

	for _, channel := range channels {
		err := n.deliver(ctx, channel, cond, alert)

		payload := events.NotificationPayload{
			AlertID:     alert.ID,
			ChannelID:   channel.ID,
			ChannelType: channel.Type,
			Delivered:   err == nil,
		}
		if err != nil {
			payload.Error = err.Error()
			slog.Error("Notification delivery failed",
				"channel", channel.Name,
				"type", channel.Type,
				"alert_id", alert.ID,
				"error", err)
		} else {
			slog.Info("Notification delivered",
				"channel", channel.Name,
				"type", channel.Type,
				"alert_id", alert.ID)
		}

		if pubErr := n.publisher.PublishNotificationSent(ctx, alert.TenantID, payload); pubErr != nil {
			slog.Error("Publishing notification.sent failed", "alert_id", alert.ID, "error", pubErr)
		}
	}
}

// mutedBy returns the first active muting rule whose matchers are a
// subset of the alert's labels, or nil. Lookup failures fail open so a
// store hiccup never swallows a page.
func (n *Notifier) mutedBy(ctx context.Context, cond *models.AlertCondition, alert *models.ActiveAlert) *models.MutingRule {
	rules, err := n.store.Alerts.ListMutingRules(ctx, cond.TenantID, cond.ProjectID)
	if err != nil {
		slog.Error("Muting rule lookup failed", "condition", cond.Name, "error", err)
		return nil
	}

	labels := alert.Labels(cond)
	now := time.Now().UTC()
	for _, rule := range rules {
		if rule.ActiveWithin(now) && rule.Matches(labels) {
			return rule
		}
	}
	return nil
}

func (n *Notifier) deliver(ctx context.Context, channel *models.NotificationChannel, cond *models.AlertCondition, alert *models.ActiveAlert) error {
	_, err := n.breaker(channel).Execute(func() (any, error) {
		return nil, n.send(ctx, channel, cond, alert)
	})
	return err
}

func (n *Notifier) breaker(channel *models.NotificationChannel) *gobreaker.CircuitBreaker {
	n.mu.Lock()
	defer n.mu.Unlock()

	if cb, ok := n.breakers[channel.ID]; ok {
		return cb
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    channel.Name,
		Timeout: 2 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("Notification channel breaker state changed",
				"channel", name, "from", from.String(), "to", to.String())
		},
	})
	n.breakers[channel.ID] = cb
	return cb
}

func (n *Notifier) send(ctx context.Context, channel *models.NotificationChannel, cond *models.AlertCondition, alert *models.ActiveAlert) error {
	cfg, err := n.channelConfig(channel)
	if err != nil {
		return err
	}

	switch channel.Type {
	case models.ChannelSlack:
		return n.sendSlack(ctx, cfg, cond, alert)
	case models.ChannelEmail:
		return n.sendEmail(cfg, cond, alert)
	case models.ChannelPagerDuty:
		return n.sendPagerDuty(ctx, cfg, cond, alert)
	case models.ChannelTeams:
		return n.sendTeams(ctx, cfg, cond, alert)
	case models.ChannelWebhook:
		return n.sendWebhook(ctx, cfg, cond, alert)
	}
	return fmt.Errorf("unknown channel type %q", channel.Type)
}

func (n *Notifier) channelConfig(channel *models.NotificationChannel) (*ChannelConfig, error) {
	raw := channel.Config
	if n.cipher != nil {
		decrypted, err := n.cipher.Decrypt(raw)
		if err != nil {
			return nil, fmt.Errorf("decrypting channel config: %w", err)
		}
		raw = decrypted
	}

	var cfg ChannelConfig
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		return nil, fmt.Errorf("parsing channel config: %w", err)
	}
	return &cfg, nil
}

func (n *Notifier) sendSlack(ctx context.Context, cfg *ChannelConfig, cond *models.AlertCondition, alert *models.ActiveAlert) error {
	if cfg.WebhookURL == "" {
		return fmt.Errorf("slack channel has no webhook_url")
	}

	emoji := statusEmoji[alert.Status]
	if emoji == "" {
		emoji = ":bell:"
	}

	msg := &goslack.WebhookMessage{
		Text: fmt.Sprintf("%s *%s*", emoji, alert.Title),
		Attachments: []goslack.Attachment{{
			Color: severityColor[alert.Severity],
			Text:  alert.Description,
			Fields: []goslack.AttachmentField{
				{Title: "Severity", Value: string(alert.Severity), Short: true},
				{Title: "Metric", Value: cond.MetricName, Short: true},
				{Title: "Observed", Value: fmt.Sprintf("%.2f", alert.MetricValue), Short: true},
				{Title: "Threshold", Value: fmt.Sprintf("%s %g", cond.Operator, cond.Threshold), Short: true},
			},
		}},
	}
	return goslack.PostWebhookContext(ctx, cfg.WebhookURL, msg)
}

func (n *Notifier) sendEmail(cfg *ChannelConfig, cond *models.AlertCondition, alert *models.ActiveAlert) error {
	if cfg.SMTPHost == "" || len(cfg.Recipients) == 0 {
		return fmt.Errorf("email channel needs smtp_host and recipients")
	}
	port := cfg.SMTPPort
	if port == 0 {
		port = 587
	}
	from := cfg.From
	if from == "" {
		from = "alerts@stratus.local"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(cfg.Recipients, ", "))
	fmt.Fprintf(&b, "Subject: [%s] %s\r\n", strings.ToUpper(string(alert.Severity)), alert.Title)
	b.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=UTF-8\r\n\r\n")
	fmt.Fprintf(&b, "%s\r\n\r\nMetric: %s\r\nObserved: %.2f\r\nThreshold: %s %g\r\nFired: %s\r\n",
		alert.Description, cond.MetricName, alert.MetricValue,
		cond.Operator, cond.Threshold, alert.FiredAt.UTC().Format(time.RFC3339))

	var auth smtp.Auth
	if cfg.SMTPUsername != "" {
		auth = smtp.PlainAuth("", cfg.SMTPUsername, cfg.SMTPPassword, cfg.SMTPHost)
	}
	addr := fmt.Sprintf("%s:%d", cfg.SMTPHost, port)
	return smtp.SendMail(addr, auth, from, cfg.Recipients, []byte(b.String()))
}

func (n *Notifier) sendPagerDuty(ctx context.Context, cfg *ChannelConfig, cond *models.AlertCondition, alert *models.ActiveAlert) error {
	if cfg.RoutingKey == "" {
		return fmt.Errorf("pagerduty channel has no routing_key")
	}

	action := "trigger"
	if alert.Status == models.AlertResolved {
		action = "resolve"
	}
	source := cond.Service
	if source == "" {
		source = cond.ProjectID
	}

	event := map[string]any{
		"routing_key":  cfg.RoutingKey,
		"event_action": action,
		"dedup_key":    alert.ID,
		"payload": map[string]any{
			"summary":   alert.Title,
			"source":    source,
			"severity":  pagerdutySeverity[alert.Severity],
			"timestamp": alert.FiredAt.UTC().Format(time.RFC3339),
			"custom_details": map[string]any{
				"description":  alert.Description,
				"metric_name":  cond.MetricName,
				"metric_value": alert.MetricValue,
				"threshold":    cond.Threshold,
			},
		},
	}
	return n.postJSON(ctx, n.pagerdutyURL, event)
}

func (n *Notifier) sendTeams(ctx context.Context, cfg *ChannelConfig, cond *models.AlertCondition, alert *models.ActiveAlert) error {
	if cfg.WebhookURL == "" {
		return fmt.Errorf("teams channel has no webhook_url")
	}

	card := map[string]any{
		"@type":      "MessageCard",
		"@context":   "http://schema.org/extensions",
		"summary":    alert.Title,
		"themeColor": strings.TrimPrefix(severityColor[alert.Severity], "#"),
		"title":      fmt.Sprintf("[%s] %s", strings.ToUpper(string(alert.Severity)), alert.Title),
		"text":       alert.Description,
		"sections": []map[string]any{{
			"facts": []map[string]string{
				{"name": "Metric", "value": cond.MetricName},
				{"name": "Observed", "value": fmt.Sprintf("%.2f", alert.MetricValue)},
				{"name": "Threshold", "value": fmt.Sprintf("%s %g", cond.Operator, cond.Threshold)},
				{"name": "Fired", "value": alert.FiredAt.UTC().Format(time.RFC3339)},
			},
		}},
	}
	return n.postJSON(ctx, cfg.WebhookURL, card)
}

func (n *Notifier) sendWebhook(ctx context.Context, cfg *ChannelConfig, cond *models.AlertCondition, alert *models.ActiveAlert) error {
	if cfg.WebhookURL == "" {
		return fmt.Errorf("webhook channel has no webhook_url")
	}

	body := map[string]any{
		"alert":       alert,
		"condition":   cond.Name,
		"metric_name": cond.MetricName,
		"threshold":   cond.Threshold,
		"operator":    cond.Operator,
	}
	return n.postJSON(ctx, cfg.WebhookURL, body)
}

func (n *Notifier) postJSON(ctx context.Context, url string, body any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	return nil
}
