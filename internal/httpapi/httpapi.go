// Package httpapi exposes the auction and search services over HTTP.
package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/jensholdgaard/auctionsync/internal/health"
)

// Routes is implemented by handlers that mount themselves on a router.
type Routes interface {
	Register(r *mux.Router)
}

// NewRouter builds the service router: health probes plus the given API
// handlers, wrapped in request logging.
func NewRouter(logger *slog.Logger, hh *health.Handler, handlers ...Routes) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", hh.LivenessHandler()).Methods(http.MethodGet)
	r.HandleFunc("/readyz", hh.ReadinessHandler()).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	for _, h := range handlers {
		h.Register(api)
	}

	r.Use(loggingMiddleware(logger))
	return r
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func loggingMiddleware(logger *slog.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			logger.DebugContext(r.Context(), "http request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", rec.status),
				slog.Duration("duration", time.Since(start)),
			)
		})
	}
}

type errorResponse struct {
	Error    string   `json:"error"`
	Problems []string `json:"problems,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, errorResponse{Error: message})
}
