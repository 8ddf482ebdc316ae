package app

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/cascadetel/smppgw/internal/gateway/domain"
)

// NATS subjects for message lifecycle events.
const (
	SubjectMessageSent    = "smppgw.message.sent"
	SubjectMessageDelayed = "smppgw.message.delayed"
	SubjectMessageFailed  = "smppgw.message.failed"
)

// Broker is the publish side of the message bus.
type Broker interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// MessageEvent is the wire payload for lifecycle notifications.
type MessageEvent struct {
	MessageID    int64     `json:"message_id"`
	RequestID    string    `json:"request_id"`
	Msisdn       string    `json:"msisdn"`
	Operator     string    `json:"operator,omitempty"`
	Session      string    `json:"session,omitempty"`
	Status       string    `json:"status"`
	Reason       string    `json:"reason,omitempty"`
	SMSCMsgID    string    `json:"smsc_msg_id,omitempty"`
	QueueSeconds int64     `json:"queue_seconds"`
	Timestamp    time.Time `json:"timestamp"`
}

// Notifier publishes lifecycle events and keeps track of messages flagged
// delayed so their exit is logged with entry and exit timestamps. It is the
// pipeline's event sink; senders and schedulers call it, never the bus
// directly.
type Notifier struct {
	broker    Broker
	delayLog  domain.DelayLogRepository
	threshold time.Duration
	logger    *slog.Logger

	mu           sync.Mutex
	delayedSince map[int64]time.Time
}

func NewNotifier(broker Broker, delayLog domain.DelayLogRepository,
	threshold time.Duration, logger *slog.Logger) *Notifier {
	return &Notifier{
		broker:       broker,
		delayLog:     delayLog,
		threshold:    threshold,
		logger:       logger.With("component", "notifier"),
		delayedSince: make(map[int64]time.Time),
	}
}

// MessageDelayed flags a message as delayed and publishes the alert event.
// Repeat calls for the same message keep the original entry time and do not
// re-publish.
func (n *Notifier) MessageDelayed(ctx context.Context, msg *domain.OutboundMessage) {
	n.mu.Lock()
	if _, ok := n.delayedSince[msg.ID]; ok {
		n.mu.Unlock()
		return
	}
	n.delayedSince[msg.ID] = time.Now().UTC()
	n.mu.Unlock()

	n.publish(ctx, SubjectMessageDelayed, msg, "queued past delay threshold")
}

// MessageSent publishes the sent event and closes any open delay window.
func (n *Notifier) MessageSent(ctx context.Context, msg *domain.OutboundMessage) {
	n.closeDelayWindow(ctx, msg, "sent")
	n.publish(ctx, SubjectMessageSent, msg, "")
}

// MessageFailed publishes the failure event and closes any open delay window.
func (n *Notifier) MessageFailed(ctx context.Context, msg *domain.OutboundMessage, reason string) {
	n.closeDelayWindow(ctx, msg, "failed")
	n.publish(ctx, SubjectMessageFailed, msg, reason)
}

// closeDelayWindow writes the exit record for a message that ever crossed the
// delay threshold, whether or not the monitor had flagged it yet.
func (n *Notifier) closeDelayWindow(ctx context.Context, msg *domain.OutboundMessage, outcome string) {
	now := time.Now().UTC()

	n.mu.Lock()
	entry, flagged := n.delayedSince[msg.ID]
	delete(n.delayedSince, msg.ID)
	n.mu.Unlock()

	if !flagged {
		if msg.Age(now) <= n.threshold {
			return
		}
		// The monitor never saw this one; the window opened when the
		// threshold elapsed.
		entry = msg.CreatedAt.Add(n.threshold)
	}

	log := &domain.DelayedMessageLog{
		MessageID:       msg.ID,
		Msisdn:          msg.Msisdn,
		EntryTime:       entry,
		ExitTime:        now,
		DurationSeconds: int64(now.Sub(entry).Seconds()),
		Status:          string(msg.Status),
		Reason:          outcome,
	}
	if _, err := n.delayLog.Create(ctx, log); err != nil {
		n.logger.ErrorContext(ctx, "failed to write delayed-message exit record",
			"message_id", msg.ID, "error", err)
		return
	}
	n.logger.InfoContext(ctx, "delayed message exited pipeline",
		"message_id", msg.ID, "duration_seconds", log.DurationSeconds, "outcome", outcome)
}

func (n *Notifier) publish(ctx context.Context, subject string, msg *domain.OutboundMessage, reason string) {
	now := time.Now().UTC()
	ev := MessageEvent{
		MessageID:    msg.ID,
		RequestID:    msg.RequestID,
		Msisdn:       msg.Msisdn,
		Operator:     msg.Operator,
		Session:      msg.SessionID,
		Status:       string(msg.Status),
		Reason:       reason,
		QueueSeconds: int64(msg.Age(now).Seconds()),
		Timestamp:    now,
	}
	if msg.SMSCMsgID != nil {
		ev.SMSCMsgID = *msg.SMSCMsgID
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		n.logger.ErrorContext(ctx, "failed to encode event", "subject", subject, "error", err)
		return
	}
	if err := n.broker.Publish(ctx, subject, payload); err != nil {
		n.logger.WarnContext(ctx, "failed to publish event",
			"subject", subject, "message_id", msg.ID, "error", err)
	}
}
