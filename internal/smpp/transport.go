package smpp

import (
	"context"
	"fmt"
	"time"

	"github.com/cascadetel/smppgw/internal/gateway/domain"
)

// Transport dials and binds one wire session. There is a single production
// implementation on gosmpp; tests use a fake.
type Transport interface {
	Connect(ctx context.Context, desc SessionDescriptor, receipts ReceiptHandler) (Conn, error)
}

// Conn is one live, bound wire session. At most one Conn exists per session
// key at a time; the bind loop owns that exclusivity.
type Conn interface {
	// Bound reports whether the session is currently usable.
	Bound() bool

	// Submit performs one submit_sm round trip for the message. A nil error
	// means the SMSC accepted the message; a *StatusError carries the SMSC
	// rejection status; any other error is a transport failure.
	Submit(ctx context.Context, msg *domain.OutboundMessage) (SubmitResult, error)

	// Close unbinds gracefully when bound, otherwise force-closes.
	Close() error
}

// SubmitResult is the outcome of an accepted submission.
type SubmitResult struct {
	SMSCMsgID string
	Latency   time.Duration
}

// DeliverEvent is a decoded deliver_sm receipt notification. The protocol
// layer does not attribute receipts to a specific session, so SessionKey is
// whichever bound session happened to carry it.
type DeliverEvent struct {
	SessionKey string

	// Text is the decoded short_message field.
	Text string

	// ReceiptedMsgID is the receipted_message_id TLV value, when present.
	ReceiptedMsgID string

	// MessageState is the message_state TLV value, when present.
	MessageState *byte

	// Payload is the message_payload TLV decoded as text, when present.
	Payload string
}

// ReceiptHandler consumes inbound delivery receipts.
type ReceiptHandler interface {
	HandleReceipt(ctx context.Context, ev DeliverEvent)
}

// StatusError is a protocol-level submit_sm rejection.
type StatusError struct {
	Status uint32
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("submit_sm rejected with status 0x%08X", e.Status)
}

// SMPP command status values the gateway classifies explicitly.
const (
	statusInvalidMsgLength uint32 = 0x00000001
	statusInvalidBindState uint32 = 0x00000004
	statusSystemError      uint32 = 0x00000008
	statusInvalidSrcAddr   uint32 = 0x0000000A
	statusInvalidDstAddr   uint32 = 0x0000000B
	statusMessageQueueFull uint32 = 0x00000014
	statusSubmitFailed     uint32 = 0x00000045
	statusThrottled        uint32 = 0x00000058
)

// Permanent reports whether the rejection is a request-shape error that no
// amount of retrying will fix. Unrecognized codes default to retryable.
func (e *StatusError) Permanent() bool {
	switch e.Status {
	case statusInvalidMsgLength, statusInvalidBindState, statusInvalidSrcAddr, statusInvalidDstAddr:
		return true
	case statusThrottled, statusMessageQueueFull, statusSystemError, statusSubmitFailed:
		return false
	default:
		return false
	}
}
