package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/cascadetel/smppgw/internal/gateway/domain"
	"github.com/cascadetel/smppgw/internal/gateway/msisdn"
)

// ErrInvalidDestination wraps msisdn normalization failures for the transport layer.
var ErrInvalidDestination = errors.New("invalid destination number")

// SubmitRequest is the transport-agnostic submission input.
type SubmitRequest struct {
	Msisdn      string
	Body        string
	SourceAddr  string
	Priority    domain.Priority
	ClientMsgID string
}

// SubmissionService accepts outbound messages: normalize, route, persist.
// Acceptance never depends on session health; an unroutable message is
// queued anyway and picked up once routing recovers.
type SubmissionService struct {
	store       domain.OutboundMessageRepository
	router      *OperatorRouter
	countryCode string
	logger      *slog.Logger
}

func NewSubmissionService(store domain.OutboundMessageRepository, router *OperatorRouter,
	countryCode string, logger *slog.Logger) *SubmissionService {
	return &SubmissionService{
		store:       store,
		router:      router,
		countryCode: countryCode,
		logger:      logger.With("component", "submission"),
	}
}

// Submit queues one message. When a client message id is supplied,
// resubmission with the same id returns the original record untouched.
func (s *SubmissionService) Submit(ctx context.Context, req SubmitRequest) (*domain.OutboundMessage, error) {
	normalized, err := msisdn.NormalizeE164(req.Msisdn, s.countryCode)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDestination, req.Msisdn)
	}

	if req.ClientMsgID != "" {
		existing, err := s.store.GetByClientMsgID(ctx, req.ClientMsgID)
		if err == nil {
			s.logger.InfoContext(ctx, "duplicate submission, returning existing message",
				"client_msg_id", req.ClientMsgID, "message_id", existing.ID)
			return existing, nil
		}
		if !errors.Is(err, domain.ErrMessageNotFound) {
			return nil, fmt.Errorf("idempotency lookup: %w", err)
		}
	}

	priority := req.Priority
	if priority != domain.PriorityHigh {
		priority = domain.PriorityNormal
	}

	route := s.router.Resolve(normalized)
	msg := &domain.OutboundMessage{
		RequestID:  uuid.NewString(),
		Msisdn:     normalized,
		SourceAddr: req.SourceAddr,
		Body:       req.Body,
		Encoding:   "GSM7",
		Priority:   priority,
		Operator:   route.Operator,
		SessionID:  route.SessionKey,
		Status:     domain.StatusQueued,
	}
	if req.ClientMsgID != "" {
		clientID := req.ClientMsgID
		msg.ClientMsgID = &clientID
	}

	created, err := s.store.Create(ctx, msg)
	if errors.Is(err, domain.ErrDuplicateClientMsgID) {
		// Lost the insert race to a concurrent submission with the same id.
		existing, lookupErr := s.store.GetByClientMsgID(ctx, req.ClientMsgID)
		if lookupErr != nil {
			return nil, fmt.Errorf("idempotency lookup after conflict: %w", lookupErr)
		}
		s.logger.InfoContext(ctx, "duplicate submission, returning existing message",
			"client_msg_id", req.ClientMsgID, "message_id", existing.ID)
		return existing, nil
	}
	if err != nil {
		return nil, fmt.Errorf("persist submission: %w", err)
	}
	s.logger.InfoContext(ctx, "message queued",
		"message_id", created.ID,
		"request_id", created.RequestID,
		"msisdn", created.Msisdn,
		"operator", created.Operator,
		"session", created.SessionID,
		"priority", created.Priority)
	return created, nil
}
