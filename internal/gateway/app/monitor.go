package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/cascadetel/smppgw/internal/gateway/domain"
	"github.com/cascadetel/smppgw/internal/platform/config"
)

const delayScanBatchSize = 500

// DelayMonitor watches for messages stuck in QUEUED past the configured
// threshold, escalates them to HIGH priority and raises a delayed event.
type DelayMonitor struct {
	store    domain.OutboundMessageRepository
	notifier *Notifier
	cfg      config.DelayConfig
	logger   *slog.Logger
}

func NewDelayMonitor(store domain.OutboundMessageRepository, notifier *Notifier,
	cfg config.DelayConfig, logger *slog.Logger) *DelayMonitor {
	return &DelayMonitor{
		store:    store,
		notifier: notifier,
		cfg:      cfg,
		logger:   logger.With("component", "delay_monitor"),
	}
}

func (m *DelayMonitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	m.logger.Info("delay monitor started",
		"threshold", m.cfg.Threshold, "interval", m.cfg.Interval)

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("delay monitor stopping")
			return
		case <-ticker.C:
			m.scan(ctx)
		}
	}
}

func (m *DelayMonitor) scan(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-m.cfg.Threshold)
	delayed, err := m.store.DelayedQueued(ctx, cutoff, delayScanBatchSize)
	if err != nil {
		m.logger.Error("failed to scan for delayed messages", "error", err)
		return
	}
	for _, msg := range delayed {
		if err := m.store.EscalatePriority(ctx, msg.ID); err != nil {
			m.logger.Error("failed to escalate delayed message",
				"message_id", msg.ID, "error", err)
			continue
		}
		m.logger.Warn("message delayed, escalated to high priority",
			"message_id", msg.ID,
			"msisdn", msg.Msisdn,
			"session", msg.SessionID,
			"queued_for", msg.Age(time.Now().UTC()))
		m.notifier.MessageDelayed(ctx, msg)
	}
}
