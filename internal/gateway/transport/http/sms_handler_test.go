package http

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cascadetel/smppgw/internal/gateway/app"
	"github.com/cascadetel/smppgw/internal/gateway/storetest"
	"github.com/cascadetel/smppgw/internal/platform/config"
	"github.com/cascadetel/smppgw/internal/smpp"
)

type allHealthy struct{}

func (allHealthy) Health() map[string]bool {
	return map[string]bool{"awcc-1": true}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func smsTestServer() (*chi.Mux, *storetest.Store) {
	store := storetest.New()
	router := app.NewOperatorRouter(config.SMPPConfig{
		Operators: map[string]config.Operator{
			"awcc": {Prefixes: []string{"937"}},
		},
	}, []smpp.SessionDescriptor{{Key: "awcc-1", Operator: "awcc"}}, allHealthy{}, testLogger())
	submission := app.NewSubmissionService(store, router, "93", testLogger())
	handler := NewSmsHandler(submission, validator.New(), testLogger())

	r := chi.NewRouter()
	handler.RegisterRoutes(r)
	return r, store
}

func postJSON(t *testing.T, r http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestHandleSubmitAccepted(t *testing.T) {
	r, store := smsTestServer()

	rec := postJSON(t, r, "/sms/submit", SubmitSmsRequest{
		Msisdn: "0791234567",
		Body:   "hello world",
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp SubmitSmsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "QUEUED", resp.Status)
	assert.Equal(t, "+93791234567", resp.Msisdn)
	assert.Equal(t, "awcc", resp.Operator)
	assert.Equal(t, "awcc-1", resp.Session)
	assert.NotEmpty(t, resp.RequestID)
	assert.NotNil(t, store.Get(resp.MessageID))
}

func TestHandleSubmitLegacyAlias(t *testing.T) {
	r, _ := smsTestServer()

	rec := postJSON(t, r, "/sms/send", SubmitSmsRequest{
		Msisdn: "0791234567",
		Body:   "hello",
	})
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestHandleSubmitValidation(t *testing.T) {
	r, _ := smsTestServer()

	tests := []struct {
		name string
		req  SubmitSmsRequest
	}{
		{"missing msisdn", SubmitSmsRequest{Body: "hello"}},
		{"missing body", SubmitSmsRequest{Msisdn: "0791234567"}},
		{"bad priority", SubmitSmsRequest{Msisdn: "0791234567", Body: "x", Priority: "URGENT"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postJSON(t, r, "/sms/submit", tt.req)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestHandleSubmitMalformedJSON(t *testing.T) {
	r, _ := smsTestServer()

	req := httptest.NewRequest(http.MethodPost, "/sms/submit", bytes.NewReader([]byte("{not json")))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleSubmitInvalidDestination(t *testing.T) {
	r, _ := smsTestServer()

	rec := postJSON(t, r, "/sms/submit", SubmitSmsRequest{
		Msisdn: "+++",
		Body:   "hello",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var resp GenericErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "invalid destination number", resp.Error)
}
