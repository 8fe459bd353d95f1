package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/bureau-cli/internal/config"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertFailureRate  AlertType = "pipeline_failure_rate"
	AlertReviewRate   AlertType = "human_review_rate"
	AlertStuckReports AlertType = "stuck_reports"
	AlertBreakerOpen  AlertType = "ocr_breaker_open"
)

const (
	// minFinished is the sample size below which rate alerts stay quiet.
	minFinished = 5
	alertSource = "bureau-cli"
)

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a MetricsSnapshot against configured thresholds
// and sends alerts via webhook when thresholds are breached.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	finished := snap.ReportsCompleted + snap.ReportsFailed
	if finished >= minFinished && a.cfg.FailureRateThreshold > 0 && snap.FailureRate > a.cfg.FailureRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertFailureRate,
			Severity: "high",
			Message: fmt.Sprintf(
				"Report failure rate %.1f%% exceeds threshold %.1f%% (%d failed / %d finished in last %dh)",
				snap.FailureRate*100, a.cfg.FailureRateThreshold*100,
				snap.ReportsFailed, finished, snap.LookbackHours,
			),
			Details: map[string]any{
				"failure_rate": snap.FailureRate,
				"threshold":    a.cfg.FailureRateThreshold,
				"failed":       snap.ReportsFailed,
				"finished":     finished,
			},
			Timestamp: now,
		})
	}

	if snap.ReportsCompleted >= minFinished && a.cfg.ReviewRateThreshold > 0 && snap.ReviewRate > a.cfg.ReviewRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertReviewRate,
			Severity: "medium",
			Message: fmt.Sprintf(
				"%.1f%% of completed reports need human review (threshold %.1f%%, avg confidence %.2f)",
				snap.ReviewRate*100, a.cfg.ReviewRateThreshold*100, snap.AvgConfidence,
			),
			Details: map[string]any{
				"review_rate":     snap.ReviewRate,
				"review_required": snap.ReviewRequired,
				"avg_confidence":  snap.AvgConfidence,
			},
			Timestamp: now,
		})
	}

	if len(snap.Stuck) > 0 {
		alerts = append(alerts, Alert{
			Type:      AlertStuckReports,
			Severity:  "high",
			Message:   fmt.Sprintf("%d report(s) stuck in processing", len(snap.Stuck)),
			Details:   map[string]any{"report_ids": snap.Stuck},
			Timestamp: now,
		})
	}

	if open := snap.OpenBreakers(); len(open) > 0 {
		sort.Strings(open)
		alerts = append(alerts, Alert{
			Type:      AlertBreakerOpen,
			Severity:  "high",
			Message:   fmt.Sprintf("OCR breaker not closed for %v; reports are using the fallback engine", open),
			Details:   map[string]any{"engines": open},
			Timestamp: now,
		})
	}

	return alerts
}

// SendAlerts delivers alerts to the configured webhook URL.
// Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
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

// webhookPayload is the delivered body: the alert fields plus its origin.
type webhookPayload struct {
	ID     string `json:"id"`
	Source string `json:"source"`
	Alert
}

// sendWebhook posts one alert. X-Alert-ID matches the body id so receivers
// can drop redeliveries.
func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	id := uuid.NewString()
	payload, err := json.Marshal(webhookPayload{ID: id, Source: alertSource, Alert: alert})
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Alert-ID", id)

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return eris.Errorf("monitoring: webhook returned status %d for %s alert", resp.StatusCode, alert.Type)
	}
	return nil
}
