package domain

import (
	"time"
)

// MessageStatus is the lifecycle state of an outbound message.
//
// QUEUED -> SENT -> {DELIVERED | EXPIRED | UNDELIVERABLE | DLR_*}
// QUEUED -> RETRY -> QUEUED ... -> FAILED
//
// SENT never transitions back to RETRY: once the SMSC accepted the submission
// the message is owned by the SMSC transaction, not the sender.
type MessageStatus string

const (
	StatusQueued        MessageStatus = "QUEUED"
	StatusSent          MessageStatus = "SENT"
	StatusRetry         MessageStatus = "RETRY"
	StatusFailed        MessageStatus = "FAILED"
	StatusDelivered     MessageStatus = "DELIVERED"
	StatusExpired       MessageStatus = "EXPIRED"
	StatusUndeliverable MessageStatus = "UNDELIVERABLE"
)

// Priority is the submission priority class.
type Priority string

const (
	PriorityHigh   Priority = "HIGH"
	PriorityNormal Priority = "NORMAL"
)

// OutboundMessage is the unit of work flowing through the gateway.
type OutboundMessage struct {
	ID          int64
	RequestID   string
	ClientMsgID *string
	SMSCMsgID   *string

	Msisdn     string
	SourceAddr string
	Body       string
	Encoding   string
	Priority   Priority

	// Operator/SessionID are empty when no healthy route existed at submission
	// time; such messages stay QUEUED and visible via tracking.
	Operator  string
	SessionID string

	Status        MessageStatus
	RetryCount    int
	NextRetryAt   *time.Time
	LastAttemptAt *time.Time

	SubmitStatus    *uint32
	SubmitError     *string
	SubmitLatencyMs *int64

	CreatedAt time.Time
	UpdatedAt time.Time
	SentAt    *time.Time
}

// Age reports how long the message has been in the system.
func (m *OutboundMessage) Age(now time.Time) time.Duration {
	return now.Sub(m.CreatedAt)
}

// DeliveryReceipt is an immutable append-only record of a received DLR.
// A message may accumulate several receipts; duplicates are kept, not deduplicated.
type DeliveryReceipt struct {
	ID         int64
	MessageID  int64
	SMSCMsgID  string
	RawStatus  string
	ReceivedAt time.Time
}

// DelayedMessageLog records a message that left the pipeline after spending
// longer than the configured delay threshold in the system.
type DelayedMessageLog struct {
	ID              int64
	MessageID       int64
	Msisdn          string
	EntryTime       time.Time
	ExitTime        time.Time
	DurationSeconds int64
	Status          string
	Reason          string
}
