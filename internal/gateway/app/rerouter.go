package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/cascadetel/smppgw/internal/gateway/domain"
	"github.com/cascadetel/smppgw/internal/smpp"
)

const rerouteBatchSize = 1000

// MessageRerouter periodically sweeps QUEUED messages stranded on unbound
// sessions, and messages that were accepted without any session at all, and
// spreads them over the operator's healthy sessions. Messages stay where
// they are when no healthy alternative exists.
type MessageRerouter struct {
	store       domain.OutboundMessageRepository
	router      *OperatorRouter
	health      HealthSource
	sessionKeys []string
	interval    time.Duration
	logger      *slog.Logger
}

func NewMessageRerouter(store domain.OutboundMessageRepository, router *OperatorRouter,
	health HealthSource, descriptors []smpp.SessionDescriptor,
	interval time.Duration, logger *slog.Logger) *MessageRerouter {

	keys := make([]string, 0, len(descriptors))
	for _, d := range descriptors {
		keys = append(keys, d.Key)
	}
	return &MessageRerouter{
		store:       store,
		router:      router,
		health:      health,
		sessionKeys: keys,
		interval:    interval,
		logger:      logger.With("component", "rerouter"),
	}
}

func (r *MessageRerouter) Run(ctx context.Context) {
	// Let the bind loops settle before the first sweep so a slow startup
	// does not look like an outage.
	if !sleepCtx(ctx, r.interval) {
		return
	}
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

func (r *MessageRerouter) sweep(ctx context.Context) {
	health := r.health.Health()

	// The empty key covers messages queued while their operator had no
	// healthy session at submit time.
	stranded := []string{""}
	for _, key := range r.sessionKeys {
		if !health[key] {
			stranded = append(stranded, key)
		}
	}

	for _, deadKey := range stranded {
		r.reassignFrom(ctx, deadKey)
	}
}

func (r *MessageRerouter) reassignFrom(ctx context.Context, deadKey string) {
	msgs, err := r.store.QueuedBySession(ctx, deadKey, rerouteBatchSize)
	if err != nil {
		r.logger.Error("failed to fetch stranded messages", "session", deadKey, "error", err)
		return
	}
	if len(msgs) == 0 {
		return
	}

	assignments := make(map[int64]string, len(msgs))
	rrIndex := make(map[string]int)
	for _, msg := range msgs {
		operator := msg.Operator
		if operator == "" {
			// Accepted before any prefix matched; try routing again.
			route := r.router.Resolve(msg.Msisdn)
			if route.Operator == "" {
				continue
			}
			operator = route.Operator
		}
		healthy := r.healthyExcluding(operator, deadKey)
		if len(healthy) == 0 {
			continue
		}
		target := healthy[rrIndex[operator]%len(healthy)]
		rrIndex[operator]++
		assignments[msg.ID] = target
	}
	if len(assignments) == 0 {
		return
	}
	if err := r.store.ReassignSessions(ctx, assignments); err != nil {
		r.logger.Error("failed to reassign messages", "session", deadKey, "error", err)
		return
	}
	r.logger.Info("rerouted stranded messages",
		"from_session", deadKey, "count", len(assignments))
}

// sleepCtx sleeps for d; false means ctx was canceled first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (r *MessageRerouter) healthyExcluding(operator, exclude string) []string {
	healthy := r.router.HealthySessions(operator)
	out := healthy[:0]
	for _, key := range healthy {
		if key != exclude {
			out = append(out, key)
		}
	}
	return out
}
