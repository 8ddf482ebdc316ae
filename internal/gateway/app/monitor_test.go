package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/cascadetel/smppgw/internal/gateway/domain"
	"github.com/cascadetel/smppgw/internal/gateway/storetest"
	"github.com/cascadetel/smppgw/internal/platform/config"
)

func TestDelayMonitorEscalatesStuckMessages(t *testing.T) {
	broker := newFakeBroker()
	store := storetest.New()
	notifier := NewNotifier(broker, storetest.DelayLogStore{Store: store}, time.Minute, testLogger())
	monitor := NewDelayMonitor(store, notifier,
		config.DelayConfig{Threshold: time.Minute, Interval: 10 * time.Second}, testLogger())

	stuck := store.Seed(&domain.OutboundMessage{
		Msisdn: "+93791234567", Operator: "awcc", SessionID: "awcc-1",
		Status: domain.StatusQueued, Priority: domain.PriorityNormal,
		CreatedAt: time.Now().UTC().Add(-2 * time.Minute),
	})
	fresh := store.Seed(&domain.OutboundMessage{
		Msisdn: "+93791234568", Operator: "awcc", SessionID: "awcc-1",
		Status: domain.StatusQueued, Priority: domain.PriorityNormal,
		CreatedAt: time.Now().UTC(),
	})

	monitor.scan(context.Background())

	assert.Equal(t, domain.PriorityHigh, store.Get(stuck.ID).Priority)
	assert.Equal(t, domain.PriorityNormal, store.Get(fresh.ID).Priority)
	assert.Len(t, broker.events(SubjectMessageDelayed), 1)
}

func TestDelayMonitorSkipsAlreadyHigh(t *testing.T) {
	broker := newFakeBroker()
	store := storetest.New()
	notifier := NewNotifier(broker, storetest.DelayLogStore{Store: store}, time.Minute, testLogger())
	monitor := NewDelayMonitor(store, notifier,
		config.DelayConfig{Threshold: time.Minute, Interval: 10 * time.Second}, testLogger())

	store.Seed(&domain.OutboundMessage{
		Msisdn: "+93791234567", Operator: "awcc", SessionID: "awcc-1",
		Status: domain.StatusQueued, Priority: domain.PriorityHigh,
		CreatedAt: time.Now().UTC().Add(-2 * time.Minute),
	})

	monitor.scan(context.Background())

	assert.Empty(t, broker.events(SubjectMessageDelayed))
}
