package app

import (
	"log/slog"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/cascadetel/smppgw/internal/platform/config"
	"github.com/cascadetel/smppgw/internal/smpp"
)

// HealthSource answers whether each session is currently bound.
type HealthSource interface {
	Health() map[string]bool
}

// Route is the result of resolving a destination number. Operator is empty
// when no prefix matched; SessionKey is empty when the operator is known but
// no session of it is currently healthy. Either way the message is accepted
// and queued, never rejected for routing reasons.
type Route struct {
	Operator   string
	SessionKey string
}

type prefixRoute struct {
	prefix   string
	operator string
}

// OperatorRouter maps destination numbers to operators by longest prefix
// match and spreads load over the operator's healthy sessions round-robin.
type OperatorRouter struct {
	routes   []prefixRoute
	sessions map[string][]string
	counters map[string]*atomic.Uint64
	health   HealthSource
	logger   *slog.Logger
}

func NewOperatorRouter(cfg config.SMPPConfig, descriptors []smpp.SessionDescriptor,
	health HealthSource, logger *slog.Logger) *OperatorRouter {

	r := &OperatorRouter{
		sessions: make(map[string][]string),
		counters: make(map[string]*atomic.Uint64),
		health:   health,
		logger:   logger.With("component", "router"),
	}
	for name, op := range cfg.Operators {
		for _, p := range op.Prefixes {
			p = strings.TrimPrefix(strings.TrimSpace(p), "+")
			if p == "" {
				continue
			}
			r.routes = append(r.routes, prefixRoute{prefix: p, operator: name})
		}
		r.counters[name] = &atomic.Uint64{}
	}
	// Longest prefix first so "9379" beats "93". Equal lengths stay
	// deterministic by lexical order.
	sort.Slice(r.routes, func(i, j int) bool {
		if len(r.routes[i].prefix) != len(r.routes[j].prefix) {
			return len(r.routes[i].prefix) > len(r.routes[j].prefix)
		}
		return r.routes[i].prefix < r.routes[j].prefix
	})
	for _, d := range descriptors {
		r.sessions[d.Operator] = append(r.sessions[d.Operator], d.Key)
	}
	for op := range r.sessions {
		sort.Strings(r.sessions[op])
	}
	return r
}

// Resolve maps a normalized E.164 number to an operator and a healthy session.
func (r *OperatorRouter) Resolve(msisdn string) Route {
	digits := strings.TrimPrefix(msisdn, "+")
	operator := ""
	for _, rt := range r.routes {
		if strings.HasPrefix(digits, rt.prefix) {
			operator = rt.operator
			break
		}
	}
	if operator == "" {
		r.logger.Warn("no operator route for destination", "msisdn", msisdn)
		return Route{}
	}
	return Route{Operator: operator, SessionKey: r.pickSession(operator)}
}

// pickSession selects a healthy session of the operator round-robin, or ""
// when none is bound right now.
func (r *OperatorRouter) pickSession(operator string) string {
	healthy := r.HealthySessions(operator)
	if len(healthy) == 0 {
		return ""
	}
	counter, ok := r.counters[operator]
	if !ok {
		return healthy[0]
	}
	n := counter.Add(1) - 1
	return healthy[int(n%uint64(len(healthy)))]
}

// HealthySessions lists the operator's currently bound sessions in stable order.
func (r *OperatorRouter) HealthySessions(operator string) []string {
	keys := r.sessions[operator]
	if len(keys) == 0 {
		return nil
	}
	health := r.health.Health()
	healthy := make([]string, 0, len(keys))
	for _, key := range keys {
		if health[key] {
			healthy = append(healthy, key)
		}
	}
	return healthy
}

// RoutingStats is the admin view of the routing table.
type RoutingStats struct {
	Prefixes map[string]string   `json:"prefixes"`
	Sessions map[string][]string `json:"sessions"`
	Routed   map[string]uint64   `json:"routed_total"`
}

func (r *OperatorRouter) Stats() RoutingStats {
	stats := RoutingStats{
		Prefixes: make(map[string]string, len(r.routes)),
		Sessions: make(map[string][]string, len(r.sessions)),
		Routed:   make(map[string]uint64, len(r.counters)),
	}
	for _, rt := range r.routes {
		stats.Prefixes[rt.prefix] = rt.operator
	}
	for op, keys := range r.sessions {
		stats.Sessions[op] = append([]string(nil), keys...)
	}
	for op, c := range r.counters {
		stats.Routed[op] = c.Load()
	}
	return stats
}
