package api

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mtlprog/fundcore/internal/export"
	"github.com/mtlprog/fundcore/internal/metrics"
	"github.com/mtlprog/fundcore/internal/settlement"
)

// NewRouter configures all routes. Submissions require adminAPIKey as a
// bearer token when it is set.
func NewRouter(fund *settlement.Service, reports *export.Service, adminAPIKey string) http.Handler {
	handler := NewHandler(fund, reports)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(metrics.Middleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/supply", handler.GetSupply)
		r.Get("/price", handler.GetPrice)
		r.Get("/portfolio", handler.GetPortfolio)
		r.Get("/groups", handler.ListGroups)
		r.Get("/groups/{id}", handler.GetGroup)
		r.Get("/reimbursements/{period}", handler.GetReimbursement)
		r.Get("/schedule", handler.GetSchedule)
		r.Get("/transitions", handler.ListTransitions)
		if reports != nil {
			r.Get("/export.xlsx", handler.GetWorkbook)
		}

		r.Group(func(r chi.Router) {
			if adminAPIKey != "" {
				r.Use(func(next http.Handler) http.Handler { return requireAuth(adminAPIKey, next) })
			}
			r.Post("/transitions", handler.SubmitTransition)
			r.Post("/transitions/validate", handler.ValidateTransition)
		})
	})
	return r
}

// NewServer creates an HTTP server with all routes configured.
func NewServer(port string, fund *settlement.Service, reports *export.Service, adminAPIKey string) *http.Server {
	return &http.Server{
		Addr:         ":" + port,
		Handler:      NewRouter(fund, reports, adminAPIKey),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

func requireAuth(apiKey string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		token := strings.TrimPrefix(auth, "Bearer ")
		if !strings.HasPrefix(auth, "Bearer ") || subtle.ConstantTimeCompare([]byte(token), []byte(apiKey)) != 1 {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}
