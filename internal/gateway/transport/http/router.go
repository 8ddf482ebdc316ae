package http

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterDeps bundles the handlers mounted on the gateway API.
type RouterDeps struct {
	Sms      *SmsHandler
	Tracking *TrackingHandler
	Admin    *AdminHandler
}

// NewRouter assembles the HTTP surface. Everything under /api requires an
// API key; /health and /metrics stay open for probes and scrapers.
func NewRouter(deps RouterDeps, apiKeyHashes []string, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(60 * time.Second))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	authMW := APIKeyAuth(apiKeyHashes, logger)

	r.Route("/api", func(api chi.Router) {
		api.Use(authMW)

		api.Route("/v1", func(v1 chi.Router) {
			deps.Sms.RegisterRoutes(v1)
		})
		// Legacy path kept for clients predating the /v1 prefix.
		deps.Sms.RegisterRoutes(api)

		deps.Tracking.RegisterRoutes(api)
		deps.Admin.RegisterRoutes(api)
	})

	return r
}
