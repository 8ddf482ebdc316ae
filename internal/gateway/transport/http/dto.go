package http

import (
	"time"

	"github.com/cascadetel/smppgw/internal/gateway/domain"
)

// SubmitSmsRequest is the payload for POST /api/v1/sms/submit.
type SubmitSmsRequest struct {
	Msisdn      string `json:"msisdn" validate:"required,min=3,max=20"`
	Body        string `json:"body" validate:"required,min=1,max=1600"`
	SourceAddr  string `json:"source_addr,omitempty" validate:"omitempty,max=20"`
	Priority    string `json:"priority,omitempty" validate:"omitempty,oneof=HIGH NORMAL"`
	ClientMsgID string `json:"client_msg_id,omitempty" validate:"omitempty,max=64"`
}

// SubmitSmsResponse acknowledges an accepted submission.
type SubmitSmsResponse struct {
	RequestID string `json:"request_id"`
	MessageID int64  `json:"message_id"`
	Status    string `json:"status"`
	Msisdn    string `json:"msisdn"`
	Operator  string `json:"operator,omitempty"`
	Session   string `json:"session,omitempty"`
}

// MessageStatusResponse is the tracking view of one outbound message.
type MessageStatusResponse struct {
	ID              int64      `json:"id"`
	RequestID       string     `json:"request_id"`
	ClientMsgID     *string    `json:"client_msg_id,omitempty"`
	SMSCMsgID       *string    `json:"smsc_msg_id,omitempty"`
	Msisdn          string     `json:"msisdn"`
	SourceAddr      string     `json:"source_addr,omitempty"`
	Priority        string     `json:"priority"`
	Operator        string     `json:"operator,omitempty"`
	Session         string     `json:"session,omitempty"`
	Status          string     `json:"status"`
	RetryCount      int        `json:"retry_count"`
	SubmitError     *string    `json:"submit_error,omitempty"`
	SubmitLatencyMs *int64     `json:"submit_latency_ms,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	SentAt          *time.Time `json:"sent_at,omitempty"`
}

// DeliveryReceiptView is one stored DLR on the tracking response.
type DeliveryReceiptView struct {
	SMSCMsgID  string    `json:"smsc_msg_id"`
	RawStatus  string    `json:"raw_status"`
	ReceivedAt time.Time `json:"received_at"`
}

// MessageDetailResponse bundles a message with its receipts.
type MessageDetailResponse struct {
	MessageStatusResponse
	Receipts []DeliveryReceiptView `json:"receipts,omitempty"`
}

// GenericErrorResponse for API errors.
type GenericErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func toMessageStatusResponse(msg *domain.OutboundMessage) MessageStatusResponse {
	return MessageStatusResponse{
		ID:              msg.ID,
		RequestID:       msg.RequestID,
		ClientMsgID:     msg.ClientMsgID,
		SMSCMsgID:       msg.SMSCMsgID,
		Msisdn:          msg.Msisdn,
		SourceAddr:      msg.SourceAddr,
		Priority:        string(msg.Priority),
		Operator:        msg.Operator,
		Session:         msg.SessionID,
		Status:          string(msg.Status),
		RetryCount:      msg.RetryCount,
		SubmitError:     msg.SubmitError,
		SubmitLatencyMs: msg.SubmitLatencyMs,
		CreatedAt:       msg.CreatedAt,
		UpdatedAt:       msg.UpdatedAt,
		SentAt:          msg.SentAt,
	}
}

func toReceiptViews(receipts []*domain.DeliveryReceipt) []DeliveryReceiptView {
	if len(receipts) == 0 {
		return nil
	}
	views := make([]DeliveryReceiptView, 0, len(receipts))
	for _, r := range receipts {
		views = append(views, DeliveryReceiptView{
			SMSCMsgID:  r.SMSCMsgID,
			RawStatus:  r.RawStatus,
			ReceivedAt: r.ReceivedAt,
		})
	}
	return views
}
