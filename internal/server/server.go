// Package server exposes the booking engine over a JSON API: visitor slot
// queries and bookings, plus the admin preview, connection-test and
// conflict-test endpoints.
package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/time/rate"

	"github.com/example/appointment-booking/internal/booking"
	"github.com/example/appointment-booking/internal/caldav"
	"github.com/example/appointment-booking/internal/config"
	"github.com/example/appointment-booking/internal/schedule"
)

// Server wires the engine components behind a gorilla/mux router.
type Server struct {
	cfg       *config.Config
	resolver  *schedule.Resolver
	writer    *booking.Writer
	caldav    *caldav.Client
	pluginLoc *time.Location
	logger    *slog.Logger
	limiter   *rate.Limiter
	router    *mux.Router
}

// New builds the server and its routes.
func New(cfg *config.Config, resolver *schedule.Resolver, writer *booking.Writer, caldavClient *caldav.Client, pluginLoc *time.Location, logger *slog.Logger) *Server {
	s := &Server{
		cfg:       cfg,
		resolver:  resolver,
		writer:    writer,
		caldav:    caldavClient,
		pluginLoc: pluginLoc,
		logger:    logger,
		limiter:   rate.NewLimiter(rate.Every(time.Minute), 100), // 100 requests per minute
		router:    mux.NewRouter(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.Use(s.rateLimit)

	s.router.HandleFunc("/api/csrf-token", s.handleCSRFToken).Methods("GET")
	s.router.HandleFunc("/api/slots", s.handleSlots).Methods("GET", "OPTIONS")
	s.router.HandleFunc("/api/bookings", s.handleBook).Methods("POST", "OPTIONS")
	s.router.HandleFunc("/api/admin/caldav/test", s.handleTestConnection).Methods("POST", "OPTIONS")
	s.router.HandleFunc("/api/admin/caldav/conflicts", s.handleConflictTest).Methods("POST", "OPTIONS")
}

// Handler returns the root handler for the HTTP server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			http.Error(w, "Too many requests", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// cors sets the response headers shared by the API handlers and reports
// whether the request was a preflight that needs no further handling.
func cors(w http.ResponseWriter, r *http.Request, methods string) bool {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Methods", methods)
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-CSRF-Token")
	w.Header().Set("Access-Control-Allow-Credentials", "true")
	return r.Method == "OPTIONS"
}

// decodeChecked decodes a JSON request body and then verifies its CSRF
// token; token is read after decoding so it sees the decoded value.
func (s *Server) decodeChecked(w http.ResponseWriter, r *http.Request, dst any, token func() string) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		s.writeJSON(w, http.StatusOK, map[string]any{"success": false, "error": "Invalid data format"})
		return false
	}
	if ok, message := checkCSRF(r, token()); !ok {
		s.writeJSON(w, http.StatusOK, map[string]any{"success": false, "error": message})
		return false
	}
	return true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("response encoding failed", "error", err)
	}
}
