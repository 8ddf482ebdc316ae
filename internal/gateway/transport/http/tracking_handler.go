package http

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/cascadetel/smppgw/internal/gateway/domain"
	"github.com/cascadetel/smppgw/internal/gateway/msisdn"
)

// TrackingHandler serves message status lookups by every identifier a caller
// might hold: internal id, request id, SMSC id, destination number.
type TrackingHandler struct {
	messages    domain.OutboundMessageRepository
	receipts    domain.DeliveryReceiptRepository
	countryCode string
	logger      *slog.Logger
}

func NewTrackingHandler(messages domain.OutboundMessageRepository,
	receipts domain.DeliveryReceiptRepository, countryCode string, logger *slog.Logger) *TrackingHandler {
	return &TrackingHandler{
		messages:    messages,
		receipts:    receipts,
		countryCode: countryCode,
		logger:      logger.With("handler", "tracking"),
	}
}

func (h *TrackingHandler) RegisterRoutes(r chi.Router) {
	r.Get("/track/message/{messageID}", h.handleByID)
	r.Get("/track/request/{requestID}", h.handleByRequestID)
	r.Get("/track/smsc/{smscMsgID}", h.handleBySMSCMsgID)
	r.Get("/track/phone/{msisdn}", h.handleByMsisdn)
}

func (h *TrackingHandler) handleByID(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "messageID"), 10, 64)
	if err != nil {
		jsonError(w, "invalid message id", "", http.StatusBadRequest)
		return
	}
	h.respondWithMessage(w, r, func() (*domain.OutboundMessage, error) {
		return h.messages.GetByID(r.Context(), id)
	})
}

func (h *TrackingHandler) handleByRequestID(w http.ResponseWriter, r *http.Request) {
	requestID := chi.URLParam(r, "requestID")
	h.respondWithMessage(w, r, func() (*domain.OutboundMessage, error) {
		return h.messages.GetByRequestID(r.Context(), requestID)
	})
}

func (h *TrackingHandler) handleBySMSCMsgID(w http.ResponseWriter, r *http.Request) {
	smscMsgID := chi.URLParam(r, "smscMsgID")
	h.respondWithMessage(w, r, func() (*domain.OutboundMessage, error) {
		return h.messages.GetBySMSCMsgID(r.Context(), smscMsgID)
	})
}

func (h *TrackingHandler) handleByMsisdn(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	normalized, err := msisdn.NormalizeE164(chi.URLParam(r, "msisdn"), h.countryCode)
	if err != nil {
		jsonError(w, "invalid phone number", "", http.StatusBadRequest)
		return
	}
	msgs, err := h.messages.ListByMsisdn(ctx, normalized)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to list messages by msisdn", "error", err)
		jsonError(w, "failed to retrieve messages", "", http.StatusInternalServerError)
		return
	}
	views := make([]MessageStatusResponse, 0, len(msgs))
	for _, m := range msgs {
		views = append(views, toMessageStatusResponse(m))
	}
	respondJSON(w, http.StatusOK, views)
}

func (h *TrackingHandler) respondWithMessage(w http.ResponseWriter, r *http.Request,
	lookup func() (*domain.OutboundMessage, error)) {

	ctx := r.Context()
	msg, err := lookup()
	if err != nil {
		if errors.Is(err, domain.ErrMessageNotFound) {
			jsonError(w, "message not found", "", http.StatusNotFound)
			return
		}
		h.logger.ErrorContext(ctx, "failed to retrieve message", "error", err)
		jsonError(w, "failed to retrieve message", "", http.StatusInternalServerError)
		return
	}

	detail := MessageDetailResponse{MessageStatusResponse: toMessageStatusResponse(msg)}
	receipts, err := h.receipts.ListByMessageID(ctx, msg.ID)
	if err != nil {
		h.logger.WarnContext(ctx, "failed to load receipts", "message_id", msg.ID, "error", err)
	} else {
		detail.Receipts = toReceiptViews(receipts)
	}
	respondJSON(w, http.StatusOK, detail)
}
