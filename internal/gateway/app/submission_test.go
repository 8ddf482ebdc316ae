package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cascadetel/smppgw/internal/gateway/domain"
	"github.com/cascadetel/smppgw/internal/gateway/storetest"
)

func submissionFixture(health staticHealth) (*SubmissionService, *storetest.Store) {
	store := storetest.New()
	router := testRouter(health)
	svc := NewSubmissionService(store, router, "93", testLogger())
	return svc, store
}

func TestSubmitQueuesNormalizedMessage(t *testing.T) {
	svc, store := submissionFixture(staticHealth{"awcc-1": true})

	msg, err := svc.Submit(context.Background(), SubmitRequest{
		Msisdn:     "0701234567",
		Body:       "hello",
		SourceAddr: "5050",
	})
	require.NoError(t, err)

	assert.Equal(t, "+93701234567", msg.Msisdn)
	assert.Equal(t, domain.StatusQueued, msg.Status)
	assert.Equal(t, domain.PriorityNormal, msg.Priority)
	assert.Equal(t, "awcc", msg.Operator)
	assert.Equal(t, "awcc-1", msg.SessionID)
	assert.NotEmpty(t, msg.RequestID)
	assert.NotNil(t, store.Get(msg.ID))
}

func TestSubmitHighPriority(t *testing.T) {
	svc, _ := submissionFixture(staticHealth{"awcc-1": true})

	msg, err := svc.Submit(context.Background(), SubmitRequest{
		Msisdn:   "0701234567",
		Body:     "hello",
		Priority: domain.PriorityHigh,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.PriorityHigh, msg.Priority)
}

func TestSubmitUnknownPriorityFallsBackToNormal(t *testing.T) {
	svc, _ := submissionFixture(staticHealth{"awcc-1": true})

	msg, err := svc.Submit(context.Background(), SubmitRequest{
		Msisdn:   "0701234567",
		Body:     "hello",
		Priority: domain.Priority("URGENT"),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.PriorityNormal, msg.Priority)
}

func TestSubmitInvalidMsisdn(t *testing.T) {
	svc, _ := submissionFixture(staticHealth{"awcc-1": true})

	_, err := svc.Submit(context.Background(), SubmitRequest{Msisdn: "garbage", Body: "x"})
	assert.ErrorIs(t, err, ErrInvalidDestination)
}

func TestSubmitAcceptsUnroutableDestination(t *testing.T) {
	svc, store := submissionFixture(staticHealth{"awcc-1": true})

	msg, err := svc.Submit(context.Background(), SubmitRequest{
		Msisdn: "+447911123456",
		Body:   "hello",
	})
	require.NoError(t, err)

	// No route yet: queued without operator or session, picked up later.
	assert.Equal(t, domain.StatusQueued, msg.Status)
	assert.Empty(t, msg.Operator)
	assert.Empty(t, msg.SessionID)
	assert.NotNil(t, store.Get(msg.ID))
}

func TestSubmitAcceptsWhenAllSessionsDown(t *testing.T) {
	svc, _ := submissionFixture(staticHealth{})

	msg, err := svc.Submit(context.Background(), SubmitRequest{
		Msisdn: "0701234567",
		Body:   "hello",
	})
	require.NoError(t, err)
	assert.Equal(t, "awcc", msg.Operator)
	assert.Empty(t, msg.SessionID)
}

func TestSubmitIdempotentOnClientMsgID(t *testing.T) {
	svc, store := submissionFixture(staticHealth{"awcc-1": true})

	first, err := svc.Submit(context.Background(), SubmitRequest{
		Msisdn:      "0701234567",
		Body:        "hello",
		ClientMsgID: "client-42",
	})
	require.NoError(t, err)

	second, err := svc.Submit(context.Background(), SubmitRequest{
		Msisdn:      "0701234567",
		Body:        "different body, same id",
		ClientMsgID: "client-42",
	})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.RequestID, second.RequestID)
	counts, _ := store.CountsByStatus(context.Background())
	assert.Equal(t, int64(1), counts[domain.StatusQueued])
}

// racingLookupStore misses the idempotency pre-check a set number of times,
// the way concurrent submissions do before either insert lands, so Create's
// conflict handling decides the winner.
type racingLookupStore struct {
	*storetest.Store
	misses int
}

func (s *racingLookupStore) GetByClientMsgID(ctx context.Context, clientMsgID string) (*domain.OutboundMessage, error) {
	if s.misses > 0 {
		s.misses--
		return nil, domain.ErrMessageNotFound
	}
	return s.Store.GetByClientMsgID(ctx, clientMsgID)
}

func TestSubmitIdempotentUnderInsertRace(t *testing.T) {
	store := storetest.New()
	// Both submissions miss the pre-check, as two concurrent requests would.
	racing := &racingLookupStore{Store: store, misses: 2}
	svc := NewSubmissionService(racing, testRouter(staticHealth{"awcc-1": true}), "93", testLogger())

	first, err := svc.Submit(context.Background(), SubmitRequest{
		Msisdn:      "0701234567",
		Body:        "hello",
		ClientMsgID: "client-77",
	})
	require.NoError(t, err)

	second, err := svc.Submit(context.Background(), SubmitRequest{
		Msisdn:      "0701234567",
		Body:        "hello again",
		ClientMsgID: "client-77",
	})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.RequestID, second.RequestID)
	counts, _ := store.CountsByStatus(context.Background())
	assert.Equal(t, int64(1), counts[domain.StatusQueued])
}
