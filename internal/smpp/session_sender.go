package smpp

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/cascadetel/smppgw/internal/gateway/domain"
)

// EventSink receives pipeline lifecycle notifications. The sender only emits;
// it never blocks on a consumer.
type EventSink interface {
	// MessageSent fires after a message was accepted by the SMSC.
	MessageSent(ctx context.Context, msg *domain.OutboundMessage)

	// MessageFailed fires when a message leaves the pipeline as FAILED.
	MessageFailed(ctx context.Context, msg *domain.OutboundMessage, reason string)
}

// SessionSender drains one session's queue under its TPS cap, giving HIGH
// priority traffic a bounded head start each tick.
//
// Two token buckets refill once per second: the overall bucket to the
// session's TPS and the high-priority bucket to ceil(tps*hpPct/100). HIGH
// messages drain both buckets, NORMAL drains only the overall one, so HIGH
// can never squeeze NORMAL below the residual capacity and NORMAL can never
// starve HIGH below its quota.
type SessionSender struct {
	desc   SessionDescriptor
	conn   Conn
	store  domain.OutboundMessageRepository
	pool   *SubmitPool
	events EventSink
	logger *slog.Logger

	mu       sync.Mutex
	tokens   float64
	hpTokens float64
	hpCap    float64
}

// NewSessionSender creates a sender for one bound session. Buckets start full.
func NewSessionSender(desc SessionDescriptor, conn Conn, store domain.OutboundMessageRepository,
	pool *SubmitPool, events EventSink, logger *slog.Logger) *SessionSender {

	hpCap := math.Ceil(float64(desc.TPS) * float64(desc.HighPriorityPct) / 100.0)
	s := &SessionSender{
		desc:     desc,
		conn:     conn,
		store:    store,
		pool:     pool,
		events:   events,
		logger:   logger.With("component", "session_sender", "session", desc.Key),
		tokens:   float64(desc.TPS),
		hpTokens: hpCap,
		hpCap:    hpCap,
	}
	s.logger.Info("session sender initialized", "tps", desc.TPS, "hp_cap", int(hpCap))
	return s
}

// Run ticks once per second until ctx is canceled.
func (s *SessionSender) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *SessionSender) tick(ctx context.Context) {
	if !s.conn.Bound() {
		return
	}

	s.refill()

	hpBudget := s.budget(true)
	if hpBudget > 0 {
		s.dispatchBatch(ctx, domain.PriorityHigh, hpBudget)
	}

	npBudget := s.budget(false)
	if npBudget > 0 {
		s.dispatchBatch(ctx, domain.PriorityNormal, npBudget)
	}
}

func (s *SessionSender) dispatchBatch(ctx context.Context, priority domain.Priority, budget int) {
	msgs, err := s.store.ClaimQueued(ctx, s.desc.Key, priority, budget)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to fetch queued messages", "priority", priority, "error", err)
		return
	}

	sent := 0
	for _, msg := range msgs {
		if !s.take(priority == domain.PriorityHigh) {
			break
		}
		msg := msg
		if !s.pool.TryGo(func() { s.submitOne(ctx, msg) }) {
			// Pool saturated: give the token back, try again next tick.
			s.refund(priority == domain.PriorityHigh)
			break
		}
		sent++
	}
	if sent > 0 {
		s.logger.DebugContext(ctx, "dispatched batch", "priority", priority, "count", sent)
	}
}

func (s *SessionSender) submitOne(ctx context.Context, msg *domain.OutboundMessage) {
	res, err := s.conn.Submit(ctx, msg)
	if err == nil {
		if err := s.store.MarkSent(ctx, msg.ID, res.SMSCMsgID, res.Latency); err != nil {
			s.logger.ErrorContext(ctx, "failed to persist SENT", "message_id", msg.ID, "error", err)
			return
		}
		now := time.Now().UTC()
		msg.Status = domain.StatusSent
		msg.SMSCMsgID = &res.SMSCMsgID
		msg.SentAt = &now

		submittedCounter.WithLabelValues(s.desc.Key, string(msg.Priority)).Inc()
		submitLatencyHist.WithLabelValues(s.desc.Key).Observe(res.Latency.Seconds())
		s.logger.InfoContext(ctx, "message sent",
			"message_id", msg.ID, "smsc_msg_id", res.SMSCMsgID, "latency_ms", res.Latency.Milliseconds())
		if s.events != nil {
			s.events.MessageSent(ctx, msg)
		}
		return
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) && statusErr.Permanent() {
		code := statusErr.Status
		if err := s.store.MarkFailed(ctx, msg.ID, &code, statusErr.Error()); err != nil {
			s.logger.ErrorContext(ctx, "failed to persist FAILED", "message_id", msg.ID, "error", err)
			return
		}
		submitFailedCounter.WithLabelValues(s.desc.Key, string(msg.Priority), "permanent").Inc()
		s.logger.WarnContext(ctx, "permanent rejection",
			"message_id", msg.ID, "status", statusErr.Status)
		if s.events != nil {
			s.events.MessageFailed(ctx, msg, statusErr.Error())
		}
		return
	}

	// Everything else is worth retrying: retryable rejections, transport
	// failures, timeouts.
	attempt := msg.RetryCount + 1
	nextRetryAt := time.Now().UTC().Add(RetryBackoff(attempt))
	var codePtr *uint32
	if statusErr != nil {
		codePtr = &statusErr.Status
	}
	if err := s.store.MarkRetry(ctx, msg.ID, attempt, nextRetryAt, codePtr, err.Error()); err != nil {
		s.logger.ErrorContext(ctx, "failed to persist RETRY", "message_id", msg.ID, "error", err)
		return
	}
	submitFailedCounter.WithLabelValues(s.desc.Key, string(msg.Priority), "retryable").Inc()
	s.logger.InfoContext(ctx, "marked for retry",
		"message_id", msg.ID, "attempt", attempt, "next_retry_at", nextRetryAt, "error", err)
}

func (s *SessionSender) refill() {
	s.mu.Lock()
	s.tokens = math.Min(s.tokens+float64(s.desc.TPS), float64(s.desc.TPS))
	s.hpTokens = math.Min(s.hpTokens+s.hpCap, s.hpCap)
	s.mu.Unlock()
}

// budget reports how many whole tokens are available for the given class.
func (s *SessionSender) budget(high bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if high {
		return int(math.Floor(math.Min(s.hpTokens, s.tokens)))
	}
	return int(math.Floor(s.tokens))
}

// take consumes one token (both buckets for HIGH). Never lets a bucket go negative.
func (s *SessionSender) take(high bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tokens < 1 {
		return false
	}
	if high {
		if s.hpTokens < 1 {
			return false
		}
		s.hpTokens--
	}
	s.tokens--
	return true
}

func (s *SessionSender) refund(high bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens = math.Min(s.tokens+1, float64(s.desc.TPS))
	if high {
		s.hpTokens = math.Min(s.hpTokens+1, s.hpCap)
	}
}

// RetryBackoff computes min(1s * 2^(attempt-1), 60s) with ±10% jitter.
func RetryBackoff(attempt int) time.Duration {
	const (
		base    = time.Second
		ceiling = time.Minute
	)
	shift := attempt - 1
	if shift < 0 {
		shift = 0
	}
	if shift > 20 {
		shift = 20
	}
	delay := base << uint(shift)
	if delay > ceiling || delay <= 0 {
		delay = ceiling
	}
	jitter := 0.1 * float64(delay)
	return time.Duration(float64(delay) - jitter + rand.Float64()*2*jitter)
}
