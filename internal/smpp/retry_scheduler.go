package smpp

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cascadetel/smppgw/internal/gateway/domain"
	"github.com/cascadetel/smppgw/internal/platform/config"
)

// RetryScheduler moves due RETRY messages back to QUEUED and evicts the
// hopeless ones. It runs independently of the senders so a stalled session
// never blocks retry processing for other operators.
type RetryScheduler struct {
	store  domain.OutboundMessageRepository
	cfg    config.RetryConfig
	events EventSink
	logger *slog.Logger
}

func NewRetryScheduler(store domain.OutboundMessageRepository, cfg config.RetryConfig,
	events EventSink, logger *slog.Logger) *RetryScheduler {
	return &RetryScheduler{
		store:  store,
		cfg:    cfg,
		events: events,
		logger: logger.With("component", "retry_scheduler"),
	}
}

func (s *RetryScheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.logger.Info("retry scheduler started",
		"interval", s.cfg.Interval,
		"max_attempts", s.cfg.MaxAttempts,
		"eviction_horizon", s.cfg.EvictionHorizon)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("retry scheduler stopping")
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *RetryScheduler) tick(ctx context.Context) {
	operators, err := s.store.OperatorsWithRetry(ctx)
	if err != nil {
		s.logger.Error("failed to list operators with pending retries", "error", err)
		return
	}
	for _, op := range operators {
		s.processOperator(ctx, op)
	}
	s.updateDepthGauges(ctx)
}

// processOperator drains one operator's due retries, fairly and batch-bounded.
func (s *RetryScheduler) processOperator(ctx context.Context, operator string) {
	now := time.Now()
	due, err := s.store.RetryDue(ctx, operator, now, s.cfg.BatchSize)
	if err != nil {
		s.logger.Error("failed to fetch due retries", "operator", operator, "error", err)
		return
	}
	for _, msg := range due {
		switch {
		case msg.Age(now) > s.cfg.EvictionHorizon:
			// Age eviction wins over attempt eviction when both apply.
			s.evict(ctx, msg, operator, "evicted_age",
				fmt.Sprintf("evicted: age exceeded %s", s.cfg.EvictionHorizon))
		case msg.RetryCount >= s.cfg.MaxAttempts:
			s.evict(ctx, msg, operator, "evicted_attempts",
				fmt.Sprintf("evicted: exhausted %d attempts", s.cfg.MaxAttempts))
		default:
			if err := s.store.Requeue(ctx, msg.ID); err != nil {
				s.logger.Error("failed to requeue message", "message_id", msg.ID, "error", err)
				continue
			}
			retryProcessedCounter.WithLabelValues(operator, "requeued").Inc()
			s.logger.Debug("message requeued",
				"message_id", msg.ID, "attempt", msg.RetryCount, "operator", operator)
		}
	}
}

func (s *RetryScheduler) evict(ctx context.Context, msg *domain.OutboundMessage, operator, outcome, reason string) {
	if err := s.store.MarkFailed(ctx, msg.ID, msg.SubmitStatus, reason); err != nil {
		s.logger.Error("failed to evict message", "message_id", msg.ID, "error", err)
		return
	}
	retryProcessedCounter.WithLabelValues(operator, outcome).Inc()
	s.logger.Warn("message evicted from retry queue",
		"message_id", msg.ID, "msisdn", msg.Msisdn, "reason", reason)
	if s.events != nil {
		s.events.MessageFailed(ctx, msg, reason)
	}
}

func (s *RetryScheduler) updateDepthGauges(ctx context.Context) {
	depths, err := s.store.RetryDepths(ctx)
	if err != nil {
		s.logger.Error("failed to read retry queue depths", "error", err)
		return
	}
	for operator, depth := range depths {
		retryQueueGauge.WithLabelValues(operator).Set(float64(depth))
	}
}

// QueueDepths exposes the per-operator retry backlog for the admin API.
func (s *RetryScheduler) QueueDepths(ctx context.Context) (map[string]int64, error) {
	return s.store.RetryDepths(ctx)
}
