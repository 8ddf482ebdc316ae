package app

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/cascadetel/smppgw/internal/gateway/domain"
	"github.com/cascadetel/smppgw/internal/smpp"
)

var dlrProcessedCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "smppgw",
	Name:      "dlr_processed_total",
	Help:      "Delivery receipts processed, by outcome.",
}, []string{"outcome"})

// receiptIDPattern matches the id field of the conventional short-message
// receipt text ("id:XXX sub:001 ... stat:DELIVRD ...").
var receiptIDPattern = regexp.MustCompile(`id:([A-Za-z0-9-]+)`)

// DlrProcessor turns incoming deliver_sm receipts into delivery state on the
// original outbound message. A malformed or uncorrelatable receipt is logged
// and dropped; it never disturbs the session that carried it.
type DlrProcessor struct {
	messages domain.OutboundMessageRepository
	receipts domain.DeliveryReceiptRepository
	logger   *slog.Logger
}

func NewDlrProcessor(messages domain.OutboundMessageRepository,
	receipts domain.DeliveryReceiptRepository, logger *slog.Logger) *DlrProcessor {
	return &DlrProcessor{
		messages: messages,
		receipts: receipts,
		logger:   logger.With("component", "dlr_processor"),
	}
}

// HandleReceipt implements smpp.ReceiptHandler.
func (p *DlrProcessor) HandleReceipt(ctx context.Context, ev smpp.DeliverEvent) {
	smscMsgID := extractSMSCMsgID(ev)
	if smscMsgID == "" {
		p.logger.WarnContext(ctx, "receipt carries no message id, dropping",
			"session", ev.SessionKey, "text", ev.Text)
		dlrProcessedCounter.WithLabelValues("no_id").Inc()
		return
	}

	rawStatus := extractRawStatus(ev)

	msg, err := p.messages.GetBySMSCMsgID(ctx, smscMsgID)
	if err != nil {
		p.logger.WarnContext(ctx, "receipt for unknown message, dropping",
			"session", ev.SessionKey, "smsc_msg_id", smscMsgID, "error", err)
		dlrProcessedCounter.WithLabelValues("unmatched").Inc()
		return
	}

	receipt := &domain.DeliveryReceipt{
		MessageID:  msg.ID,
		SMSCMsgID:  smscMsgID,
		RawStatus:  rawStatus,
		ReceivedAt: time.Now().UTC(),
	}
	if _, err := p.receipts.Create(ctx, receipt); err != nil {
		p.logger.ErrorContext(ctx, "failed to store receipt",
			"message_id", msg.ID, "error", err)
	}

	if msg.Status != domain.StatusSent {
		p.logger.WarnContext(ctx, "receipt for message not in SENT state",
			"message_id", msg.ID, "current_status", msg.Status, "raw_status", rawStatus)
	}

	status := MapDlrStatus(rawStatus)
	if err := p.messages.UpdateDeliveryStatus(ctx, msg.ID, status); err != nil {
		p.logger.ErrorContext(ctx, "failed to apply delivery status",
			"message_id", msg.ID, "status", status, "error", err)
		dlrProcessedCounter.WithLabelValues("error").Inc()
		return
	}

	dlrProcessedCounter.WithLabelValues("applied").Inc()
	p.logger.InfoContext(ctx, "delivery receipt applied",
		"message_id", msg.ID,
		"smsc_msg_id", smscMsgID,
		"status", status,
		"session", ev.SessionKey)
}

// extractSMSCMsgID prefers the receipted_message_id TLV and falls back to
// parsing the receipt text, then the message_payload TLV.
func extractSMSCMsgID(ev smpp.DeliverEvent) string {
	if id := strings.TrimSpace(ev.ReceiptedMsgID); id != "" {
		return id
	}
	if m := receiptIDPattern.FindStringSubmatch(ev.Text); m != nil {
		return m[1]
	}
	if m := receiptIDPattern.FindStringSubmatch(ev.Payload); m != nil {
		return m[1]
	}
	return ""
}

func extractRawStatus(ev smpp.DeliverEvent) string {
	if s := strings.TrimSpace(ev.Text); s != "" {
		return s
	}
	if ev.MessageState != nil {
		return fmt.Sprintf("STATE_%d", *ev.MessageState)
	}
	return "DLR_UNKNOWN"
}

// MapDlrStatus classifies the receipt text by its stat field conventions.
// Anything unrecognized keeps a truncated echo of the raw status so nothing
// is silently collapsed into one bucket.
func MapDlrStatus(rawStatus string) domain.MessageStatus {
	upper := strings.ToUpper(rawStatus)
	switch {
	case strings.Contains(upper, "DELIVRD"):
		return domain.StatusDelivered
	case strings.Contains(upper, "EXPIRED"):
		return domain.StatusExpired
	case strings.Contains(upper, "UNDELIV"):
		return domain.StatusUndeliverable
	default:
		echo := rawStatus
		if len(echo) > 20 {
			echo = echo[:20]
		}
		return domain.MessageStatus("DLR_" + echo)
	}
}
