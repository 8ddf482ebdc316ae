package http

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func authTestServer(t *testing.T, keys ...string) http.Handler {
	t.Helper()
	hashes := make([]string, 0, len(keys))
	for _, key := range keys {
		hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.MinCost)
		require.NoError(t, err)
		hashes = append(hashes, string(hash))
	}
	mw := APIKeyAuth(hashes, testLogger())
	return mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
}

func authGet(h http.Handler, key string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	if key != "" {
		req.Header.Set("X-API-Key", key)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestAPIKeyAuthAcceptsValidKey(t *testing.T) {
	h := authTestServer(t, "secret-key")
	assert.Equal(t, http.StatusOK, authGet(h, "secret-key").Code)
}

func TestAPIKeyAuthAcceptsAnyConfiguredKey(t *testing.T) {
	h := authTestServer(t, "first", "second")
	assert.Equal(t, http.StatusOK, authGet(h, "second").Code)
}

func TestAPIKeyAuthRejectsWrongKey(t *testing.T) {
	h := authTestServer(t, "secret-key")
	assert.Equal(t, http.StatusUnauthorized, authGet(h, "wrong").Code)
}

func TestAPIKeyAuthRejectsMissingKey(t *testing.T) {
	h := authTestServer(t, "secret-key")
	assert.Equal(t, http.StatusUnauthorized, authGet(h, "").Code)
}

func TestAPIKeyAuthRejectsEverythingWithoutConfiguredKeys(t *testing.T) {
	h := authTestServer(t)
	assert.Equal(t, http.StatusUnauthorized, authGet(h, "anything").Code)
}
