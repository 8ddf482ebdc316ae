package smpp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cascadetel/smppgw/internal/gateway/domain"
	"github.com/cascadetel/smppgw/internal/gateway/storetest"
)

type fakeConn struct {
	bound     atomic.Bool
	submitErr func(msg *domain.OutboundMessage) error

	mu        sync.Mutex
	submitted []*domain.OutboundMessage
}

func newFakeConn() *fakeConn {
	c := &fakeConn{}
	c.bound.Store(true)
	return c
}

func (c *fakeConn) Bound() bool { return c.bound.Load() }

func (c *fakeConn) Submit(ctx context.Context, msg *domain.OutboundMessage) (SubmitResult, error) {
	c.mu.Lock()
	c.submitted = append(c.submitted, msg)
	c.mu.Unlock()
	if c.submitErr != nil {
		if err := c.submitErr(msg); err != nil {
			return SubmitResult{}, err
		}
	}
	return SubmitResult{SMSCMsgID: fmt.Sprintf("smsc-%d", msg.ID), Latency: 5 * time.Millisecond}, nil
}

func (c *fakeConn) Close() error {
	c.bound.Store(false)
	return nil
}

func (c *fakeConn) submittedByPriority() (high, normal int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, m := range c.submitted {
		if m.Priority == domain.PriorityHigh {
			high++
		} else {
			normal++
		}
	}
	return high, normal
}

type nopSink struct{}

func (nopSink) MessageSent(context.Context, *domain.OutboundMessage)            {}
func (nopSink) MessageFailed(context.Context, *domain.OutboundMessage, string) {}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func senderDescriptor(tps, hpPct int) SessionDescriptor {
	return SessionDescriptor{
		Key:             "awcc-main-1",
		Operator:        "awcc",
		TPS:             tps,
		HighPriorityPct: hpPct,
		SubmitTimeout:   time.Second,
	}
}

func seedQueued(store *storetest.Store, session string, priority domain.Priority, n int) {
	for i := 0; i < n; i++ {
		store.Seed(&domain.OutboundMessage{
			Msisdn:    fmt.Sprintf("+9379123%04d", i),
			Body:      "hello",
			Priority:  priority,
			Operator:  "awcc",
			SessionID: session,
			Status:    domain.StatusQueued,
			CreatedAt: time.Now().UTC().Add(-time.Duration(n-i) * time.Millisecond),
		})
	}
}

func drain(t *testing.T, pool *SubmitPool) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, pool.Drain(ctx))
}

func TestTickRespectsTPSAndPriorityQuota(t *testing.T) {
	store := storetest.New()
	conn := newFakeConn()
	pool := NewSubmitPool(32)
	sender := NewSessionSender(senderDescriptor(10, 20), conn, store, pool, nopSink{}, testLogger())

	seedQueued(store, "awcc-main-1", domain.PriorityHigh, 5)
	seedQueued(store, "awcc-main-1", domain.PriorityNormal, 20)

	sender.tick(context.Background())
	drain(t, pool)

	high, normal := conn.submittedByPriority()
	assert.Equal(t, 2, high, "high quota is ceil(10*20%)=2")
	assert.Equal(t, 8, normal, "normal fills the rest of the 10 TPS")
}

func TestTickHighTrafficCannotStarveNormal(t *testing.T) {
	store := storetest.New()
	conn := newFakeConn()
	pool := NewSubmitPool(64)
	sender := NewSessionSender(senderDescriptor(10, 20), conn, store, pool, nopSink{}, testLogger())

	// Only HIGH queued: it still may not exceed its quota.
	seedQueued(store, "awcc-main-1", domain.PriorityHigh, 50)

	sender.tick(context.Background())
	drain(t, pool)

	high, normal := conn.submittedByPriority()
	assert.Equal(t, 2, high)
	assert.Zero(t, normal)
}

func TestTickSkipsUnboundSession(t *testing.T) {
	store := storetest.New()
	conn := newFakeConn()
	conn.bound.Store(false)
	pool := NewSubmitPool(8)
	sender := NewSessionSender(senderDescriptor(10, 20), conn, store, pool, nopSink{}, testLogger())

	seedQueued(store, "awcc-main-1", domain.PriorityNormal, 5)

	sender.tick(context.Background())
	drain(t, pool)

	assert.Empty(t, conn.submitted)
}

func TestSubmitOutcomeClassification(t *testing.T) {
	store := storetest.New()
	conn := newFakeConn()
	pool := NewSubmitPool(8)
	sender := NewSessionSender(senderDescriptor(100, 20), conn, store, pool, nopSink{}, testLogger())

	ok := store.Seed(&domain.OutboundMessage{
		Msisdn: "+93791230001", Priority: domain.PriorityNormal,
		Operator: "awcc", SessionID: "awcc-main-1", Status: domain.StatusQueued,
	})
	rejected := store.Seed(&domain.OutboundMessage{
		Msisdn: "+93791230002", Priority: domain.PriorityNormal,
		Operator: "awcc", SessionID: "awcc-main-1", Status: domain.StatusQueued,
	})
	throttled := store.Seed(&domain.OutboundMessage{
		Msisdn: "+93791230003", Priority: domain.PriorityNormal,
		Operator: "awcc", SessionID: "awcc-main-1", Status: domain.StatusQueued,
	})
	flaky := store.Seed(&domain.OutboundMessage{
		Msisdn: "+93791230004", Priority: domain.PriorityNormal,
		Operator: "awcc", SessionID: "awcc-main-1", Status: domain.StatusQueued,
	})

	conn.submitErr = func(msg *domain.OutboundMessage) error {
		switch msg.ID {
		case rejected.ID:
			return &StatusError{Status: 0x0A} // invalid source address
		case throttled.ID:
			return &StatusError{Status: 0x58} // throttled
		case flaky.ID:
			return errors.New("write: broken pipe")
		}
		return nil
	}

	sender.tick(context.Background())
	drain(t, pool)

	sent := store.Get(ok.ID)
	assert.Equal(t, domain.StatusSent, sent.Status)
	require.NotNil(t, sent.SMSCMsgID)
	assert.Equal(t, fmt.Sprintf("smsc-%d", ok.ID), *sent.SMSCMsgID)

	failed := store.Get(rejected.ID)
	assert.Equal(t, domain.StatusFailed, failed.Status)

	retry := store.Get(throttled.ID)
	assert.Equal(t, domain.StatusRetry, retry.Status)
	assert.Equal(t, 1, retry.RetryCount)
	require.NotNil(t, retry.NextRetryAt)
	assert.True(t, retry.NextRetryAt.After(time.Now()))

	transport := store.Get(flaky.ID)
	assert.Equal(t, domain.StatusRetry, transport.Status)
	assert.Equal(t, 1, transport.RetryCount)
}

func TestRetryBackoff(t *testing.T) {
	tests := []struct {
		attempt int
		base    time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{5, 16 * time.Second},
		{7, time.Minute},  // 64s capped
		{30, time.Minute}, // large shifts stay capped
	}
	for _, tt := range tests {
		for i := 0; i < 20; i++ {
			got := RetryBackoff(tt.attempt)
			lo := time.Duration(float64(tt.base) * 0.9)
			hi := time.Duration(float64(tt.base) * 1.1)
			assert.GreaterOrEqual(t, got, lo, "attempt %d", tt.attempt)
			assert.LessOrEqual(t, got, hi, "attempt %d", tt.attempt)
		}
	}
}
