package app

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/cascadetel/smppgw/internal/platform/messagebroker"
)

// Alert is one active delayed-message alert.
type Alert struct {
	MessageID int64     `json:"message_id"`
	RequestID string    `json:"request_id"`
	Msisdn    string    `json:"msisdn"`
	Operator  string    `json:"operator,omitempty"`
	Session   string    `json:"session,omitempty"`
	RaisedAt  time.Time `json:"raised_at"`
}

// AlertService consumes lifecycle events off the bus and keeps the set of
// currently delayed messages. A delayed event raises an alert; the matching
// sent or failed event clears it.
type AlertService struct {
	logger *slog.Logger

	mu     sync.Mutex
	active map[int64]Alert
	subs   []*nats.Subscription
}

func NewAlertService(logger *slog.Logger) *AlertService {
	return &AlertService{
		logger: logger.With("component", "alerts"),
		active: make(map[int64]Alert),
	}
}

// Start subscribes to the lifecycle subjects.
func (s *AlertService) Start(broker *messagebroker.NatsClient) error {
	for subject, handler := range map[string]nats.MsgHandler{
		SubjectMessageDelayed: s.onDelayed,
		SubjectMessageSent:    s.onResolved,
		SubjectMessageFailed:  s.onResolved,
	} {
		sub, err := broker.Subscribe(subject, handler)
		if err != nil {
			return fmt.Errorf("alert subscription: %w", err)
		}
		s.subs = append(s.subs, sub)
	}
	return nil
}

// Stop unsubscribes from the bus.
func (s *AlertService) Stop() {
	for _, sub := range s.subs {
		if err := sub.Unsubscribe(); err != nil {
			s.logger.Warn("failed to unsubscribe", "error", err)
		}
	}
	s.subs = nil
}

func (s *AlertService) onDelayed(m *nats.Msg) {
	ev, ok := s.decode(m)
	if !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.active[ev.MessageID]; exists {
		return
	}
	s.active[ev.MessageID] = Alert{
		MessageID: ev.MessageID,
		RequestID: ev.RequestID,
		Msisdn:    ev.Msisdn,
		Operator:  ev.Operator,
		Session:   ev.Session,
		RaisedAt:  ev.Timestamp,
	}
	s.logger.Warn("delay alert raised",
		"message_id", ev.MessageID, "msisdn", ev.Msisdn, "session", ev.Session)
}

func (s *AlertService) onResolved(m *nats.Msg) {
	ev, ok := s.decode(m)
	if !ok {
		return
	}
	s.mu.Lock()
	_, existed := s.active[ev.MessageID]
	delete(s.active, ev.MessageID)
	s.mu.Unlock()
	if existed {
		s.logger.Info("delay alert cleared",
			"message_id", ev.MessageID, "status", ev.Status)
	}
}

func (s *AlertService) decode(m *nats.Msg) (MessageEvent, bool) {
	var ev MessageEvent
	if err := json.Unmarshal(m.Data, &ev); err != nil {
		s.logger.Warn("dropping malformed event", "subject", m.Subject, "error", err)
		return ev, false
	}
	return ev, true
}

// ActiveAlerts snapshots the open alerts, oldest first.
func (s *AlertService) ActiveAlerts() []Alert {
	s.mu.Lock()
	alerts := make([]Alert, 0, len(s.active))
	for _, a := range s.active {
		alerts = append(alerts, a)
	}
	s.mu.Unlock()
	sort.Slice(alerts, func(i, j int) bool {
		return alerts[i].RaisedAt.Before(alerts[j].RaisedAt)
	})
	return alerts
}
