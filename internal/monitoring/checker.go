package monitoring

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/corpaction-cli/internal/config"
)

// PolicyFunc returns the alert policy in force. It is consulted on every
// check so settings changes apply without a restart.
type PolicyFunc func(ctx context.Context) AlertPolicy

// Checker runs periodic alert checks in the background.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	policy    PolicyFunc
	interval  time.Duration
	last      time.Time
}

// NewChecker creates a background alert checker. A nil policy uses the
// configured defaults.
func NewChecker(collector *Collector, alerter *Alerter, cfg config.MonitoringConfig, policy PolicyFunc) *Checker {
	if policy == nil {
		p := PolicyFromConfig(cfg)
		policy = func(context.Context) AlertPolicy { return p }
	}
	interval := time.Duration(cfg.CheckIntervalSecs) * time.Second
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Checker{
		collector: collector,
		alerter:   alerter,
		policy:    policy,
		interval:  interval,
	}
}

// Run starts the periodic check loop. It blocks until ctx is cancelled.
// Each check only considers activity since the previous one.
func (c *Checker) Run(ctx context.Context) {
	log := zap.L().With(zap.String("component", "monitoring.checker"))
	log.Info("starting alert checker", zap.Duration("interval", c.interval))

	c.last = c.collector.now().UTC()
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("alert checker stopped")
			return
		case <-ticker.C:
			c.Check(ctx)
		}
	}
}

// Check evaluates activity since the previous check and sends any alerts.
// It returns the alerts triggered.
func (c *Checker) Check(ctx context.Context) []Alert {
	log := zap.L().With(zap.String("component", "monitoring.checker"))
	now := c.collector.now().UTC()
	since := c.last
	if since.IsZero() {
		since = now.Add(-c.interval)
	}

	m, err := c.collector.collectSince(ctx, since)
	if err != nil {
		log.Error("monitoring: failed to collect metrics", zap.Error(err))
		return nil
	}
	c.last = now

	alerts := c.alerter.Evaluate(m, c.policy(ctx), now.Sub(since).Round(time.Second))
	if len(alerts) == 0 {
		log.Debug("monitoring: no alerts triggered")
		return nil
	}

	sent := c.alerter.SendAlerts(ctx, alerts)
	log.Info("monitoring: alert check complete",
		zap.Int("alerts_triggered", len(alerts)),
		zap.Int("alerts_sent", sent),
	)
	return alerts
}
