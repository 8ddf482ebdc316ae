package domain

import (
	"context"
	"errors"
	"time"
)

// ErrMessageNotFound is returned when a lookup or guarded update matches no row.
var ErrMessageNotFound = errors.New("outbound message not found")

// ErrDuplicateClientMsgID is returned by Create when another message already
// carries the same client msg id.
var ErrDuplicateClientMsgID = errors.New("client msg id already exists")

// ClaimLease is how long a message claimed by ClaimQueued stays invisible to
// subsequent claims. It outlives any submit timeout, so an in-flight
// submission cannot be claimed again by the next tick; a crashed claimer's
// messages become claimable once the lease expires.
const ClaimLease = 30 * time.Second

// OutboundMessageRepository is the persistence contract for outbound messages.
// Implementations must guarantee atomic single-record updates; callers never
// hold in-process locks across these calls.
type OutboundMessageRepository interface {
	// Create inserts the message. A non-nil client msg id that already exists
	// returns ErrDuplicateClientMsgID without inserting.
	Create(ctx context.Context, msg *OutboundMessage) (*OutboundMessage, error)

	GetByID(ctx context.Context, id int64) (*OutboundMessage, error)
	GetByRequestID(ctx context.Context, requestID string) (*OutboundMessage, error)
	GetByClientMsgID(ctx context.Context, clientMsgID string) (*OutboundMessage, error)
	GetBySMSCMsgID(ctx context.Context, smscMsgID string) (*OutboundMessage, error)
	ListByMsisdn(ctx context.Context, msisdn string) ([]*OutboundMessage, error)

	// ClaimQueued returns up to limit QUEUED messages for the session and
	// priority, oldest first, stamping last_attempt_at so the same rows are
	// not handed out again within ClaimLease.
	ClaimQueued(ctx context.Context, sessionID string, priority Priority, limit int) ([]*OutboundMessage, error)

	// MarkSent records the SMSC message id and transitions QUEUED -> SENT.
	// The SMSC id is assigned exactly once: a message that already carries one
	// is left untouched and ErrMessageNotFound is returned.
	MarkSent(ctx context.Context, id int64, smscMsgID string, latency time.Duration) error

	// MarkRetry transitions to RETRY with the given attempt count and next-retry
	// time. Messages already SENT are never moved to RETRY.
	MarkRetry(ctx context.Context, id int64, attempt int, nextRetryAt time.Time, statusCode *uint32, errText string) error

	// MarkFailed transitions to FAILED (terminal).
	MarkFailed(ctx context.Context, id int64, statusCode *uint32, reason string) error

	// Requeue transitions RETRY -> QUEUED and clears next_retry_at and
	// last_attempt_at, making the message immediately claimable again.
	Requeue(ctx context.Context, id int64) error

	// RetryDue returns up to limit RETRY messages of the operator whose
	// next_retry_at has passed, oldest first.
	RetryDue(ctx context.Context, operator string, before time.Time, limit int) ([]*OutboundMessage, error)

	// OperatorsWithRetry lists distinct operators that currently have RETRY messages.
	OperatorsWithRetry(ctx context.Context) ([]string, error)

	// RetryDepths reports the RETRY backlog per operator.
	RetryDepths(ctx context.Context) (map[string]int64, error)

	// QueuedBySession returns up to limit QUEUED messages assigned to the session.
	QueuedBySession(ctx context.Context, sessionID string, limit int) ([]*OutboundMessage, error)

	// ReassignSessions bulk-moves still-QUEUED messages to new sessions.
	ReassignSessions(ctx context.Context, assignments map[int64]string) error

	// DelayedQueued returns QUEUED messages created before the cutoff whose
	// priority is not yet HIGH.
	DelayedQueued(ctx context.Context, before time.Time, limit int) ([]*OutboundMessage, error)

	// EscalatePriority promotes a message to HIGH priority.
	EscalatePriority(ctx context.Context, id int64) error

	// UpdateDeliveryStatus applies a DLR-derived status to a SENT (or later) message.
	UpdateDeliveryStatus(ctx context.Context, id int64, status MessageStatus) error

	// CountsByStatus reports message counts grouped by status.
	CountsByStatus(ctx context.Context) (map[MessageStatus]int64, error)
}

// DeliveryReceiptRepository stores DLR records.
type DeliveryReceiptRepository interface {
	Create(ctx context.Context, receipt *DeliveryReceipt) (*DeliveryReceipt, error)
	ListByMessageID(ctx context.Context, messageID int64) ([]*DeliveryReceipt, error)
}

// DelayLogRepository stores delayed-message exit records.
type DelayLogRepository interface {
	Create(ctx context.Context, entry *DelayedMessageLog) (*DelayedMessageLog, error)
}
