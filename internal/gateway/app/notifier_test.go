package app

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cascadetel/smppgw/internal/gateway/domain"
	"github.com/cascadetel/smppgw/internal/gateway/storetest"
)

type fakeBroker struct {
	mu        sync.Mutex
	published map[string][]MessageEvent
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{published: make(map[string][]MessageEvent)}
}

func (b *fakeBroker) Publish(ctx context.Context, subject string, data []byte) error {
	var ev MessageEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return err
	}
	b.mu.Lock()
	b.published[subject] = append(b.published[subject], ev)
	b.mu.Unlock()
	return nil
}

func (b *fakeBroker) events(subject string) []MessageEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]MessageEvent(nil), b.published[subject]...)
}

func notifierFixture(threshold time.Duration) (*Notifier, *fakeBroker, *storetest.Store) {
	broker := newFakeBroker()
	store := storetest.New()
	n := NewNotifier(broker, storetest.DelayLogStore{Store: store}, threshold, testLogger())
	return n, broker, store
}

func queuedMessage(id int64, age time.Duration) *domain.OutboundMessage {
	return &domain.OutboundMessage{
		ID:        id,
		RequestID: "req-1",
		Msisdn:    "+93791234567",
		Operator:  "awcc",
		SessionID: "awcc-1",
		Status:    domain.StatusQueued,
		CreatedAt: time.Now().UTC().Add(-age),
	}
}

func TestNotifierPublishesSentEvent(t *testing.T) {
	n, broker, _ := notifierFixture(time.Minute)

	msg := queuedMessage(1, time.Second)
	msg.Status = domain.StatusSent
	n.MessageSent(context.Background(), msg)

	events := broker.events(SubjectMessageSent)
	require.Len(t, events, 1)
	assert.Equal(t, int64(1), events[0].MessageID)
	assert.Equal(t, "SENT", events[0].Status)
}

func TestNotifierDelayedEventPublishedOnce(t *testing.T) {
	n, broker, _ := notifierFixture(time.Minute)

	msg := queuedMessage(1, 2*time.Minute)
	n.MessageDelayed(context.Background(), msg)
	n.MessageDelayed(context.Background(), msg)

	assert.Len(t, broker.events(SubjectMessageDelayed), 1)
}

func TestNotifierWritesExitRecordForDelayedMessage(t *testing.T) {
	n, _, store := notifierFixture(time.Minute)

	msg := queuedMessage(1, 2*time.Minute)
	n.MessageDelayed(context.Background(), msg)

	msg.Status = domain.StatusSent
	n.MessageSent(context.Background(), msg)

	logs := store.DelayLogs()
	require.Len(t, logs, 1)
	assert.Equal(t, int64(1), logs[0].MessageID)
	assert.Equal(t, "sent", logs[0].Reason)
	assert.False(t, logs[0].ExitTime.Before(logs[0].EntryTime))
}

func TestNotifierExitRecordWithoutPriorFlag(t *testing.T) {
	n, _, store := notifierFixture(time.Minute)

	// Crossed the threshold but the monitor never flagged it.
	msg := queuedMessage(1, 5*time.Minute)
	msg.Status = domain.StatusFailed
	n.MessageFailed(context.Background(), msg, "evicted")

	logs := store.DelayLogs()
	require.Len(t, logs, 1)
	assert.Equal(t, "failed", logs[0].Reason)
}

func TestNotifierNoExitRecordForFastMessage(t *testing.T) {
	n, _, store := notifierFixture(time.Minute)

	msg := queuedMessage(1, time.Second)
	msg.Status = domain.StatusSent
	n.MessageSent(context.Background(), msg)

	assert.Empty(t, store.DelayLogs())
}
