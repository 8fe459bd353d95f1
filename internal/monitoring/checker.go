// Package monitoring watches report outcomes and OCR breaker state and
// posts alerts to a webhook.
package monitoring

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/bureau-cli/internal/config"
)

const (
	defaultCheckInterval = 5 * time.Minute
	defaultLookbackHours = 24
)

// Checker re-evaluates pipeline health on an interval. An alert is delivered
// when it starts firing; while the same alert type keeps firing on later
// passes it is not sent again.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	interval  time.Duration
	hours     int

	mu     sync.Mutex
	firing map[AlertType]bool
}

// NewChecker creates a background alert checker.
func NewChecker(collector *Collector, alerter *Alerter, cfg config.MonitoringConfig) *Checker {
	c := &Checker{
		collector: collector,
		alerter:   alerter,
		interval:  time.Duration(cfg.CheckIntervalSecs) * time.Second,
		hours:     cfg.LookbackWindowHours,
		firing:    make(map[AlertType]bool),
	}
	if c.interval <= 0 {
		c.interval = defaultCheckInterval
	}
	if c.hours <= 0 {
		c.hours = defaultLookbackHours
	}
	return c
}

// Run checks once per interval until ctx is canceled.
func (c *Checker) Run(ctx context.Context) {
	log := zap.L().With(zap.String("component", "monitoring.checker"))
	log.Info("monitoring: checker started",
		zap.Duration("interval", c.interval),
		zap.Int("lookback_hours", c.hours),
	)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("monitoring: checker stopped")
			return
		case <-ticker.C:
			c.Check(ctx)
		}
	}
}

// Check collects a snapshot, evaluates it and delivers alerts that were not
// already firing. It returns every alert that fired on this pass.
func (c *Checker) Check(ctx context.Context) []Alert {
	log := zap.L().With(zap.String("component", "monitoring.checker"))

	snap, err := c.collector.Collect(ctx, c.hours)
	if err != nil {
		log.Error("monitoring: collect failed", zap.Error(err))
		return nil
	}

	alerts := c.alerter.Evaluate(snap)
	fresh := c.transition(alerts)
	if len(fresh) == 0 {
		log.Debug("monitoring: nothing new to send", zap.Int("firing", len(alerts)))
		return alerts
	}

	sent := c.alerter.SendAlerts(ctx, fresh)
	log.Info("monitoring: alerts delivered",
		zap.Int("firing", len(alerts)),
		zap.Int("new", len(fresh)),
		zap.Int("sent", sent),
	)
	return alerts
}

// transition records which alert types fire now and returns the alerts whose
// type was quiet on the previous pass.
func (c *Checker) transition(alerts []Alert) []Alert {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := make(map[AlertType]bool, len(alerts))
	var fresh []Alert
	for _, a := range alerts {
		now[a.Type] = true
		if !c.firing[a.Type] {
			fresh = append(fresh, a)
		}
	}
	c.firing = now
	return fresh
}
