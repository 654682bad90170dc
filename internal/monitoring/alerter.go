package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/evidence-cli/internal/config"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertAuditDropped  AlertType = "audit_dropped"
	AlertAuditFailures AlertType = "audit_failures"
	AlertBreakerOpen   AlertType = "breaker_open"
)

// Alert is a single alert to be delivered.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates snapshots against the configured thresholds and posts
// alerts to a webhook.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
}

// NewAlerter creates an Alerter.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Evaluate returns the alerts triggered by snap.
func (a *Alerter) Evaluate(snap *Snapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	// Lost audit entries can never be recovered.
	if snap.DroppedDelta > 0 {
		alerts = append(alerts, Alert{
			Type:     AlertAuditDropped,
			Severity: "high",
			Message:  fmt.Sprintf("%d audit entries dropped since last check", snap.DroppedDelta),
			Details: map[string]any{
				"dropped":       snap.DroppedDelta,
				"dropped_total": snap.AuditDropped,
			},
			Timestamp: now,
		})
	}

	threshold := int64(a.cfg.AuditFailureThreshold)
	if threshold <= 0 {
		threshold = 1
	}
	if snap.FailedDelta >= threshold {
		alerts = append(alerts, Alert{
			Type:     AlertAuditFailures,
			Severity: "high",
			Message: fmt.Sprintf("%d audit writes failed since last check (threshold %d)",
				snap.FailedDelta, threshold),
			Details: map[string]any{
				"failed":       snap.FailedDelta,
				"failed_total": snap.AuditFailed,
				"threshold":    threshold,
			},
			Timestamp: now,
		})
	}

	if snap.BreakerState == "open" {
		alerts = append(alerts, Alert{
			Type:      AlertBreakerOpen,
			Severity:  "medium",
			Message:   fmt.Sprintf("circuit %s is open; evidence reads are degraded to empty results", snap.BreakerName),
			Details:   map[string]any{"breaker": snap.BreakerName},
			Timestamp: now,
		})
	}

	return alerts
}

// SendAlerts delivers alerts to the webhook and returns how many were sent.
// Without a webhook URL alerts are only logged.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if len(alerts) == 0 {
		return 0
	}
	if a.cfg.WebhookURL == "" {
		for _, alert := range alerts {
			zap.L().Warn("monitoring: alert",
				zap.String("type", string(alert.Type)),
				zap.String("severity", alert.Severity),
				zap.String("message", alert.Message),
			)
		}
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		if err := a.sendWebhook(ctx, alert); err != nil {
			zap.L().Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}

func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
