package smpp

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cascadetel/smppgw/internal/gateway/domain"
)

// SessionState is the lifecycle state of one managed session.
type SessionState string

const (
	StateStopped   SessionState = "STOPPED"
	StateStarting  SessionState = "STARTING"
	StateConnected SessionState = "CONNECTED"
	StateRetrying  SessionState = "RETRYING"
	StateStopping  SessionState = "STOPPING"
)

const maxReconnectBackoff = time.Minute

// BindManager owns the lifecycle of every configured session: connect, bind,
// monitor, reconnect with exponential backoff, clean unbind. All session
// state lives behind this registry; nothing else mutates it.
type BindManager struct {
	transport Transport
	store     domain.OutboundMessageRepository
	pool      *SubmitPool
	events    EventSink
	receipts  ReceiptHandler
	logger    *slog.Logger

	descriptors map[string]SessionDescriptor

	mu       sync.Mutex
	sessions map[string]*sessionRuntime
}

type sessionRuntime struct {
	desc         SessionDescriptor
	state        SessionState
	retryEnabled bool
	conn         Conn
	cancel       context.CancelFunc
	done         chan struct{}
}

// NewBindManager creates the registry for the given session plan.
func NewBindManager(descriptors []SessionDescriptor, transport Transport,
	store domain.OutboundMessageRepository, pool *SubmitPool,
	events EventSink, receipts ReceiptHandler, logger *slog.Logger) *BindManager {

	m := &BindManager{
		transport:   transport,
		store:       store,
		pool:        pool,
		events:      events,
		receipts:    receipts,
		logger:      logger.With("component", "bind_manager"),
		descriptors: make(map[string]SessionDescriptor, len(descriptors)),
		sessions:    make(map[string]*sessionRuntime),
	}
	for _, d := range descriptors {
		m.descriptors[d.Key] = d
	}
	return m
}

// Start launches an independent bind loop per configured session. One
// session's reconnect never delays another's.
func (m *BindManager) Start() {
	if len(m.descriptors) == 0 {
		m.logger.Warn("no SMPP sessions configured")
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for key := range m.descriptors {
		m.launchLocked(key)
	}
}

// launchLocked registers runtime state and spawns the bind loop. Caller holds m.mu.
func (m *BindManager) launchLocked(key string) {
	desc := m.descriptors[key]
	ctx, cancel := context.WithCancel(context.Background())
	rt := &sessionRuntime{
		desc:         desc,
		state:        StateStarting,
		retryEnabled: true,
		cancel:       cancel,
		done:         make(chan struct{}),
	}
	m.sessions[key] = rt
	go m.bindLoop(ctx, rt)
}

func (m *BindManager) bindLoop(ctx context.Context, rt *sessionRuntime) {
	key := rt.desc.Key
	logger := m.logger.With("session", key, "operator", rt.desc.Operator)

	backoff := rt.desc.ReconnectDelay
	if backoff < time.Second {
		backoff = time.Second
	}
	baseBackoff := backoff

	defer func() {
		m.setState(key, StateStopped)
		close(rt.done)
		logger.Info("bind loop exiting")
	}()

	for m.retryEnabled(key) && ctx.Err() == nil {
		logger.Info("attempting bind", "addr", rt.desc.Addr())
		conn, err := m.transport.Connect(ctx, rt.desc, m.receipts)
		if err != nil {
			logger.Warn("bind failed", "error", err, "next_attempt_in", backoff)
			m.setState(key, StateRetrying)
			if !sleepCtx(ctx, backoff) {
				return
			}
			backoff = minDuration(backoff*2, maxReconnectBackoff)
			continue
		}

		logger.Info("bound successfully")
		m.setConn(key, conn)
		m.setState(key, StateConnected)
		sessionBoundGauge.WithLabelValues(key).Set(1)
		backoff = baseBackoff // reset after any successful bind

		sender := NewSessionSender(rt.desc, conn, m.store, m.pool, m.events, m.logger)
		senderCtx, senderCancel := context.WithCancel(ctx)
		senderDone := make(chan struct{})
		go func() {
			sender.Run(senderCtx)
			close(senderDone)
		}()

		// Monitor the bound state at a short fixed interval.
		for conn.Bound() {
			if !sleepCtx(ctx, time.Second) {
				break
			}
		}

		senderCancel()
		<-senderDone
		sessionBoundGauge.WithLabelValues(key).Set(0)
		m.setConn(key, nil)
		if err := conn.Close(); err != nil {
			logger.Warn("error during session teardown", "error", err)
		}

		if ctx.Err() != nil || !m.retryEnabled(key) {
			return
		}
		logger.Warn("session disconnected", "reconnect_in", backoff)
		m.setState(key, StateRetrying)
		if !sleepCtx(ctx, backoff) {
			return
		}
		backoff = minDuration(backoff*2, maxReconnectBackoff)
	}
}

// StopSession disables retry, cancels the sender and unbinds. Idempotent.
func (m *BindManager) StopSession(key string) error {
	m.mu.Lock()
	rt, ok := m.sessions[key]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("session %q has not been started", key)
	}
	if rt.state == StateStopped {
		m.mu.Unlock()
		return nil
	}
	rt.retryEnabled = false
	rt.state = StateStopping
	cancel := rt.cancel
	done := rt.done
	m.mu.Unlock()

	cancel()
	select {
	case <-done:
	case <-time.After(15 * time.Second):
		m.logger.Warn("timed out waiting for bind loop to stop", "session", key)
	}
	return nil
}

// StartSession relaunches a session previously stopped. Only valid from STOPPED.
func (m *BindManager) StartSession(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.descriptors[key]; !ok {
		return fmt.Errorf("unknown session %q", key)
	}
	if rt, ok := m.sessions[key]; ok && rt.state != StateStopped {
		return fmt.Errorf("session %q is %s, not STOPPED", key, rt.state)
	}
	m.launchLocked(key)
	return nil
}

// Stop stops every session. It completes even if individual unbinds fail;
// ctx bounds the total wait.
func (m *BindManager) Stop(ctx context.Context) error {
	m.mu.Lock()
	keys := make([]string, 0, len(m.sessions))
	for key := range m.sessions {
		keys = append(keys, key)
	}
	m.mu.Unlock()

	g, _ := errgroup.WithContext(ctx)
	for _, key := range keys {
		key := key
		g.Go(func() error {
			return m.StopSession(key)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return m.pool.Drain(ctx)
}

// Health snapshots bound-now per session. Sessions never started are absent,
// not false.
func (m *BindManager) Health() map[string]bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	health := make(map[string]bool, len(m.sessions))
	for key, rt := range m.sessions {
		health[key] = rt.conn != nil && rt.conn.Bound()
	}
	return health
}

// States snapshots the lifecycle state per started session.
func (m *BindManager) States() map[string]SessionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	states := make(map[string]SessionState, len(m.sessions))
	for key, rt := range m.sessions {
		states[key] = rt.state
	}
	return states
}

func (m *BindManager) setState(key string, state SessionState) {
	m.mu.Lock()
	if rt, ok := m.sessions[key]; ok {
		// STOPPING is sticky until the loop actually exits.
		if !(rt.state == StateStopping && state != StateStopped) {
			rt.state = state
		}
	}
	m.mu.Unlock()
}

func (m *BindManager) setConn(key string, conn Conn) {
	m.mu.Lock()
	if rt, ok := m.sessions[key]; ok {
		rt.conn = conn
	}
	m.mu.Unlock()
}

func (m *BindManager) retryEnabled(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	rt, ok := m.sessions[key]
	return ok && rt.retryEnabled
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

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
