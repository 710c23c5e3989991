package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/corpaction-cli/internal/config"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertConflicts     AlertType = "conflicts_detected"
	AlertSyncFailure   AlertType = "sync_failure"
	AlertFailedLookups AlertType = "failed_lookups"
)

// Alert severities, lowest first.
const (
	SeverityLow    = "low"
	SeverityMedium = "medium"
	SeverityHigh   = "high"
)

// SeverityRank orders severities; unknown values rank 0.
func SeverityRank(s string) int {
	switch strings.ToLower(s) {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	}
	return 0
}

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// AlertPolicy selects which alerts fire. Admin settings override the
// configured defaults at runtime.
type AlertPolicy struct {
	OnConflicts           bool
	OnSyncFailures        bool
	MinSeverity           string
	FailedLookupThreshold int
}

// PolicyFromConfig returns the alert policy the configuration describes.
func PolicyFromConfig(cfg config.MonitoringConfig) AlertPolicy {
	return AlertPolicy{
		OnConflicts:           cfg.AlertOnConflicts,
		OnSyncFailures:        cfg.AlertOnSyncFailures,
		MinSeverity:           cfg.AlertSeverity,
		FailedLookupThreshold: cfg.FailedLookupThreshold,
	}
}

// Alerter evaluates metrics against an AlertPolicy and sends alerts via
// webhook.
type Alerter struct {
	webhookURL string
	client     *http.Client
}

// NewAlerter creates a new Alerter posting to the configured webhook.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		webhookURL: cfg.WebhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

// Evaluate returns the alerts m triggers under p, dropping those below the
// policy's minimum severity.
func (a *Alerter) Evaluate(m *Metrics, p AlertPolicy, window time.Duration) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	if p.OnSyncFailures && m.SyncsFailed > 0 {
		alerts = append(alerts, Alert{
			Type:     AlertSyncFailure,
			Severity: SeverityHigh,
			Message:  fmt.Sprintf("%d source sync(s) failed in last %s", m.SyncsFailed, window),
			Details: map[string]any{
				"failed": m.SyncsFailed,
				"total":  m.SyncsTotal,
			},
			Timestamp: now,
		})
	}

	if p.OnConflicts && m.NewConflicts > 0 {
		alerts = append(alerts, Alert{
			Type:     AlertConflicts,
			Severity: SeverityMedium,
			Message:  fmt.Sprintf("%d reconciliation conflict(s) detected in last %s", m.NewConflicts, window),
			Details: map[string]any{
				"new":        m.NewConflicts,
				"unresolved": m.UnresolvedConflicts,
			},
			Timestamp: now,
		})
	}

	if p.FailedLookupThreshold > 0 && m.FailedLookups >= p.FailedLookupThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertFailedLookups,
			Severity: SeverityMedium,
			Message: fmt.Sprintf("%d failed lookups in last %s (threshold %d)",
				m.FailedLookups, window, p.FailedLookupThreshold),
			Details: map[string]any{
				"failed_lookups": m.FailedLookups,
				"threshold":      p.FailedLookupThreshold,
			},
			Timestamp: now,
		})
	}

	floor := SeverityRank(p.MinSeverity)
	kept := alerts[:0]
	for _, al := range alerts {
		if SeverityRank(al.Severity) >= floor {
			kept = append(kept, al)
		}
	}
	return kept
}

// SendAlerts delivers alerts to the configured webhook URL.
// Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.webhookURL == "" || len(alerts) == 0 {
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

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.webhookURL, bytes.NewReader(payload))
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
