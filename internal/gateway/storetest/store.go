// Package storetest provides in-memory repository implementations for tests.
package storetest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cascadetel/smppgw/internal/gateway/domain"
)

// Store is an in-memory OutboundMessageRepository plus the receipt and delay
// log repositories, safe for concurrent use.
type Store struct {
	mu       sync.Mutex
	nextID   int64
	messages map[int64]*domain.OutboundMessage
	receipts []*domain.DeliveryReceipt
	delayLog []*domain.DelayedMessageLog
}

func New() *Store {
	return &Store{
		nextID:   1,
		messages: make(map[int64]*domain.OutboundMessage),
	}
}

// Seed inserts a message as-is, assigning an id when absent.
func (s *Store) Seed(msg *domain.OutboundMessage) *domain.OutboundMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	if msg.ID == 0 {
		msg.ID = s.nextID
		s.nextID++
	} else if msg.ID >= s.nextID {
		s.nextID = msg.ID + 1
	}
	cp := *msg
	s.messages[cp.ID] = &cp
	return msg
}

// Get returns a copy of the stored message.
func (s *Store) Get(id int64) *domain.OutboundMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.messages[id]; ok {
		cp := *m
		return &cp
	}
	return nil
}

// Receipts returns the stored delivery receipts.
func (s *Store) Receipts() []*domain.DeliveryReceipt {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*domain.DeliveryReceipt(nil), s.receipts...)
}

// DelayLogs returns the stored delayed-message exit records.
func (s *Store) DelayLogs() []*domain.DelayedMessageLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*domain.DelayedMessageLog(nil), s.delayLog...)
}

func (s *Store) Create(ctx context.Context, msg *domain.OutboundMessage) (*domain.OutboundMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if msg.ClientMsgID != nil {
		for _, m := range s.messages {
			if m.ClientMsgID != nil && *m.ClientMsgID == *msg.ClientMsgID {
				return nil, domain.ErrDuplicateClientMsgID
			}
		}
	}
	cp := *msg
	cp.ID = s.nextID
	s.nextID++
	now := time.Now().UTC()
	cp.CreatedAt = now
	cp.UpdatedAt = now
	s.messages[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (s *Store) GetByID(ctx context.Context, id int64) (*domain.OutboundMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.messages[id]; ok {
		cp := *m
		return &cp, nil
	}
	return nil, domain.ErrMessageNotFound
}

func (s *Store) GetByRequestID(ctx context.Context, requestID string) (*domain.OutboundMessage, error) {
	return s.findOne(func(m *domain.OutboundMessage) bool { return m.RequestID == requestID })
}

func (s *Store) GetByClientMsgID(ctx context.Context, clientMsgID string) (*domain.OutboundMessage, error) {
	return s.findOne(func(m *domain.OutboundMessage) bool {
		return m.ClientMsgID != nil && *m.ClientMsgID == clientMsgID
	})
}

func (s *Store) GetBySMSCMsgID(ctx context.Context, smscMsgID string) (*domain.OutboundMessage, error) {
	return s.findOne(func(m *domain.OutboundMessage) bool {
		return m.SMSCMsgID != nil && *m.SMSCMsgID == smscMsgID
	})
}

func (s *Store) ListByMsisdn(ctx context.Context, msisdn string) ([]*domain.OutboundMessage, error) {
	return s.findAll(func(m *domain.OutboundMessage) bool { return m.Msisdn == msisdn }), nil
}

func (s *Store) ClaimQueued(ctx context.Context, sessionID string, priority domain.Priority, limit int) ([]*domain.OutboundMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	leaseCutoff := now.Add(-domain.ClaimLease)
	var candidates []*domain.OutboundMessage
	for _, m := range s.messages {
		if m.Status == domain.StatusQueued && m.SessionID == sessionID && m.Priority == priority &&
			(m.LastAttemptAt == nil || m.LastAttemptAt.Before(leaseCutoff)) {
			candidates = append(candidates, m)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		if !candidates[i].CreatedAt.Equal(candidates[j].CreatedAt) {
			return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
		}
		return candidates[i].ID < candidates[j].ID
	})
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	out := make([]*domain.OutboundMessage, 0, len(candidates))
	for _, m := range candidates {
		attempt := now
		m.LastAttemptAt = &attempt
		cp := *m
		out = append(out, &cp)
	}
	return out, nil
}

func (s *Store) MarkSent(ctx context.Context, id int64, smscMsgID string, latency time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok || m.SMSCMsgID != nil {
		return domain.ErrMessageNotFound
	}
	now := time.Now().UTC()
	latencyMs := latency.Milliseconds()
	m.Status = domain.StatusSent
	m.SMSCMsgID = &smscMsgID
	m.SubmitLatencyMs = &latencyMs
	m.SentAt = &now
	m.LastAttemptAt = &now
	m.UpdatedAt = now
	return nil
}

func (s *Store) MarkRetry(ctx context.Context, id int64, attempt int, nextRetryAt time.Time, statusCode *uint32, errText string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok || m.Status == domain.StatusSent {
		return domain.ErrMessageNotFound
	}
	now := time.Now().UTC()
	m.Status = domain.StatusRetry
	m.RetryCount = attempt
	m.NextRetryAt = &nextRetryAt
	m.SubmitStatus = statusCode
	m.SubmitError = &errText
	m.LastAttemptAt = &now
	m.UpdatedAt = now
	return nil
}

func (s *Store) MarkFailed(ctx context.Context, id int64, statusCode *uint32, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return domain.ErrMessageNotFound
	}
	m.Status = domain.StatusFailed
	m.SubmitStatus = statusCode
	m.SubmitError = &reason
	m.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) Requeue(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok || m.Status != domain.StatusRetry {
		return domain.ErrMessageNotFound
	}
	m.Status = domain.StatusQueued
	m.NextRetryAt = nil
	m.LastAttemptAt = nil
	m.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) RetryDue(ctx context.Context, operator string, before time.Time, limit int) ([]*domain.OutboundMessage, error) {
	msgs := s.findAll(func(m *domain.OutboundMessage) bool {
		return m.Status == domain.StatusRetry && m.Operator == operator &&
			m.NextRetryAt != nil && m.NextRetryAt.Before(before)
	})
	if len(msgs) > limit {
		msgs = msgs[:limit]
	}
	return msgs, nil
}

func (s *Store) OperatorsWithRetry(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := map[string]bool{}
	for _, m := range s.messages {
		if m.Status == domain.StatusRetry {
			seen[m.Operator] = true
		}
	}
	ops := make([]string, 0, len(seen))
	for op := range seen {
		ops = append(ops, op)
	}
	sort.Strings(ops)
	return ops, nil
}

func (s *Store) RetryDepths(ctx context.Context) (map[string]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	depths := map[string]int64{}
	for _, m := range s.messages {
		if m.Status == domain.StatusRetry {
			depths[m.Operator]++
		}
	}
	return depths, nil
}

func (s *Store) QueuedBySession(ctx context.Context, sessionID string, limit int) ([]*domain.OutboundMessage, error) {
	msgs := s.findAll(func(m *domain.OutboundMessage) bool {
		return m.Status == domain.StatusQueued && m.SessionID == sessionID
	})
	if len(msgs) > limit {
		msgs = msgs[:limit]
	}
	return msgs, nil
}

func (s *Store) ReassignSessions(ctx context.Context, assignments map[int64]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, session := range assignments {
		if m, ok := s.messages[id]; ok && m.Status == domain.StatusQueued {
			m.SessionID = session
			m.UpdatedAt = time.Now().UTC()
		}
	}
	return nil
}

func (s *Store) DelayedQueued(ctx context.Context, before time.Time, limit int) ([]*domain.OutboundMessage, error) {
	msgs := s.findAll(func(m *domain.OutboundMessage) bool {
		return m.Status == domain.StatusQueued && m.Priority != domain.PriorityHigh &&
			m.CreatedAt.Before(before)
	})
	if len(msgs) > limit {
		msgs = msgs[:limit]
	}
	return msgs, nil
}

func (s *Store) EscalatePriority(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return domain.ErrMessageNotFound
	}
	m.Priority = domain.PriorityHigh
	m.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) UpdateDeliveryStatus(ctx context.Context, id int64, status domain.MessageStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return domain.ErrMessageNotFound
	}
	m.Status = status
	m.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) CountsByStatus(ctx context.Context) (map[domain.MessageStatus]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := map[domain.MessageStatus]int64{}
	for _, m := range s.messages {
		counts[m.Status]++
	}
	return counts, nil
}

// DeliveryReceiptRepository implementation.

func (s *Store) CreateReceipt(ctx context.Context, receipt *domain.DeliveryReceipt) (*domain.DeliveryReceipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *receipt
	cp.ID = int64(len(s.receipts) + 1)
	if cp.ReceivedAt.IsZero() {
		cp.ReceivedAt = time.Now().UTC()
	}
	s.receipts = append(s.receipts, &cp)
	out := cp
	return &out, nil
}

func (s *Store) ListByMessageID(ctx context.Context, messageID int64) ([]*domain.DeliveryReceipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.DeliveryReceipt
	for _, r := range s.receipts {
		if r.MessageID == messageID {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

// helpers

func (s *Store) findOne(match func(*domain.OutboundMessage) bool) (*domain.OutboundMessage, error) {
	if msgs := s.findAll(match); len(msgs) > 0 {
		return msgs[0], nil
	}
	return nil, domain.ErrMessageNotFound
}

// findAll returns copies ordered by creation time, then id.
func (s *Store) findAll(match func(*domain.OutboundMessage) bool) []*domain.OutboundMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.OutboundMessage
	for _, m := range s.messages {
		if match(m) {
			cp := *m
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// ReceiptStore adapts Store to domain.DeliveryReceiptRepository.
type ReceiptStore struct{ *Store }

func (r ReceiptStore) Create(ctx context.Context, receipt *domain.DeliveryReceipt) (*domain.DeliveryReceipt, error) {
	return r.CreateReceipt(ctx, receipt)
}

// DelayLogStore adapts Store to domain.DelayLogRepository.
type DelayLogStore struct{ *Store }

func (d DelayLogStore) Create(ctx context.Context, entry *domain.DelayedMessageLog) (*domain.DelayedMessageLog, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	cp := *entry
	cp.ID = int64(len(d.delayLog) + 1)
	d.delayLog = append(d.delayLog, &cp)
	out := cp
	return &out, nil
}
