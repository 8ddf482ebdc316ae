package http

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"golang.org/x/crypto/bcrypt"
)

// APIKeyAuth authenticates requests by the X-API-Key header against the
// configured bcrypt hashes. With no hashes configured the middleware rejects
// everything; an open gateway has to be an explicit choice made in routing,
// not a config accident.
func APIKeyAuth(keyHashes []string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				unauthorized(w, "missing API key")
				return
			}
			for _, hash := range keyHashes {
				if bcrypt.CompareHashAndPassword([]byte(hash), []byte(key)) == nil {
					next.ServeHTTP(w, r)
					return
				}
			}
			logger.WarnContext(r.Context(), "rejected request with invalid API key",
				"path", r.URL.Path, "remote", r.RemoteAddr)
			unauthorized(w, "invalid API key")
		})
	}
}

func unauthorized(w http.ResponseWriter, details string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(GenericErrorResponse{Error: "unauthorized", Details: details})
}
