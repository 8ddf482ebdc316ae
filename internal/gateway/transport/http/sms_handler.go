package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	"github.com/cascadetel/smppgw/internal/gateway/app"
	"github.com/cascadetel/smppgw/internal/gateway/domain"
)

// SmsHandler serves message submission.
type SmsHandler struct {
	submission *app.SubmissionService
	validate   *validator.Validate
	logger     *slog.Logger
}

func NewSmsHandler(submission *app.SubmissionService, validate *validator.Validate, logger *slog.Logger) *SmsHandler {
	return &SmsHandler{
		submission: submission,
		validate:   validate,
		logger:     logger.With("handler", "sms"),
	}
}

// RegisterRoutes mounts the submission endpoints. The legacy /sms/send alias
// accepts the same payload as /sms/submit.
func (h *SmsHandler) RegisterRoutes(r chi.Router) {
	r.Post("/sms/submit", h.handleSubmit)
	r.Post("/sms/send", h.handleSubmit)
}

func (h *SmsHandler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.logger.With("request_id", chimiddleware.GetReqID(ctx))

	var req SubmitSmsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.WarnContext(ctx, "failed to decode submit request", "error", err)
		jsonError(w, "invalid request payload", err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		logger.WarnContext(ctx, "submit request failed validation", "error", err)
		jsonError(w, "validation failed", err.Error(), http.StatusBadRequest)
		return
	}

	msg, err := h.submission.Submit(ctx, app.SubmitRequest{
		Msisdn:      req.Msisdn,
		Body:        req.Body,
		SourceAddr:  req.SourceAddr,
		Priority:    domain.Priority(req.Priority),
		ClientMsgID: req.ClientMsgID,
	})
	if err != nil {
		if errors.Is(err, app.ErrInvalidDestination) {
			jsonError(w, "invalid destination number", err.Error(), http.StatusBadRequest)
			return
		}
		logger.ErrorContext(ctx, "failed to queue message", "error", err)
		jsonError(w, "failed to queue message", "", http.StatusInternalServerError)
		return
	}

	respondJSON(w, http.StatusAccepted, SubmitSmsResponse{
		RequestID: msg.RequestID,
		MessageID: msg.ID,
		Status:    string(msg.Status),
		Msisdn:    msg.Msisdn,
		Operator:  msg.Operator,
		Session:   msg.SessionID,
	})
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func jsonError(w http.ResponseWriter, msg, details string, status int) {
	respondJSON(w, status, GenericErrorResponse{Error: msg, Details: details})
}
