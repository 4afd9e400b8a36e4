package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/shehryarbajwa/autoaccept/internal/ratelimit"
)

// SetupRoutes configures all HTTP routes
func (h *Handler) SetupRoutes(events http.Handler, rateLimiter *ratelimit.Limiter, requestsPerHour int) *mux.Router {
	r := mux.NewRouter()

	api := r.PathPrefix("/v1").Subrouter()

	// Mutating endpoints are rate limited
	limited := api.PathPrefix("").Subrouter()
	limited.Use(RateLimitMiddleware(rateLimiter, requestsPerHour))

	limited.HandleFunc("/stats/collect", h.CollectStats).Methods("POST")
	limited.HandleFunc("/focus", h.SetFocus).Methods("POST")
	limited.HandleFunc("/banned", h.UpdateBanned).Methods("PUT")
	limited.HandleFunc("/config", h.UpdateConfig).Methods("PUT")
	limited.HandleFunc("/pages/{id}/prompt", h.SendPrompt).Methods("POST")
	limited.HandleFunc("/relaunch", h.Relaunch).Methods("POST")

	// Read endpoints (not rate limited - dashboard polling)
	api.HandleFunc("/status", h.GetStatus).Methods("GET")
	api.HandleFunc("/pages", h.ListPages).Methods("GET")
	api.HandleFunc("/stats", h.GetStats).Methods("GET")
	api.HandleFunc("/away", h.GetAwayActions).Methods("GET")
	api.HandleFunc("/available", h.GetAvailable).Methods("GET")
	api.HandleFunc("/history", h.GetHistory).Methods("GET")
	if events != nil {
		api.Handle("/events", events).Methods("GET")
	}

	r.Use(corsMiddleware)

	return r
}

// corsMiddleware adds CORS headers
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Client-ID")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
