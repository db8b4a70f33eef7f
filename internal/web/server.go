// Package web serves the quirk host's JSON API and live event stream.
package web

import (
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"zigbee-quirks/internal/host"
	"zigbee-quirks/internal/zcl"
)

// ServerOption configures the web server.
type ServerOption func(*Server)

// WithAPIKey enables API key authentication.
func WithAPIKey(key string) ServerOption {
	return func(s *Server) {
		s.apiKey = key
	}
}

// WithAllowedOrigins sets allowed CORS and WebSocket origin patterns.
func WithAllowedOrigins(origins []string) ServerOption {
	return func(s *Server) {
		s.allowedOrigins = origins
	}
}

// WithVersion sets the version reported by /api/version.
func WithVersion(v string) ServerOption {
	return func(s *Server) {
		s.version = v
	}
}

// Server is the HTTP server for the quirk host.
type Server struct {
	host           *host.Host
	clusters       *zcl.Registry
	wsHub          *WSHub
	logger         *slog.Logger
	router         chi.Router
	apiKey         string
	allowedOrigins []string
	version        string
	wg             sync.WaitGroup
	unsubEvents    func()
}

// NewServer creates a new web server and starts its WebSocket hub.
func NewServer(h *host.Host, clusters *zcl.Registry, logger *slog.Logger, opts ...ServerOption) *Server {
	s := &Server{
		host:     h,
		clusters: clusters,
		logger:   logger.With("component", "web"),
		version:  "dev",
	}
	for _, opt := range opts {
		opt(s)
	}

	s.wsHub = NewWSHub(s.logger)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.wsHub.Run()
	}()

	// Forward every host event to WebSocket clients.
	s.unsubEvents = h.Events().OnAll(func(event host.Event) {
		s.wsHub.Broadcast(event)
	})

	s.routes()
	return s
}

// Stop gracefully shuts down the WebSocket hub and waits for goroutines.
func (s *Server) Stop() {
	if s.unsubEvents != nil {
		s.unsubEvents()
	}
	s.wsHub.Stop()
	s.wg.Wait()
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.cors)

	r.Get("/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		// Browsers cannot set headers on a WebSocket upgrade.
		r.Get("/ws", s.handleWS)

		r.Group(func(r chi.Router) {
			r.Use(s.requireAPIKey)

			r.Get("/version", s.handleAPIVersion)
			r.Get("/quirks", s.handleAPIListQuirks)
			r.Get("/clusters", s.handleAPIListClusters)

			r.Get("/devices", s.handleAPIListDevices)
			r.Post("/devices", s.handleAPIPairDevice)
			r.Get("/devices/{ieee}", s.handleAPIGetDevice)
			r.Patch("/devices/{ieee}", s.handleAPIRenameDevice)
			r.Delete("/devices/{ieee}", s.handleAPIDeleteDevice)
			r.Post("/devices/{ieee}/attributes", s.handleAPIWriteAttribute)
			r.Post("/devices/{ieee}/frames", s.handleAPIInjectFrame)
		})
	})
	s.router = r
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// cors checks Origin on mutating requests to prevent CSRF.
func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if len(s.allowedOrigins) == 0 || origin == "" {
			next.ServeHTTP(w, r)
			return
		}
		if r.Method == http.MethodOptions {
			if !s.isOriginAllowed(origin) {
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-API-Key")
			w.Header().Set("Access-Control-Max-Age", "3600")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		if r.Method != http.MethodGet {
			if !s.isOriginAllowed(origin) {
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}
			w.Header().Set("Access-Control-Allow-Origin", origin)
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey != "" {
			key := r.Header.Get("X-API-Key")
			if subtle.ConstantTimeCompare([]byte(key), []byte(s.apiKey)) != 1 {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// isOriginAllowed checks if the origin matches any allowed origin pattern.
func (s *Server) isOriginAllowed(origin string) bool {
	for _, allowed := range s.allowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

type healthResponse struct {
	Status  string `json:"status"`
	Devices int    `json:"devices"`
	Quirked int    `json:"quirked"`
	Quirks  int    `json:"quirks"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	states, err := s.host.States()
	if err != nil {
		s.logger.Error("health: list devices", "err", err)
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
		return
	}
	resp := healthResponse{Status: "ok", Devices: len(states), Quirks: len(s.host.Registry().All())}
	for _, st := range states {
		if st.Matched {
			resp.Quirked++
		}
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAPIVersion(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"version": s.version})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("writeJSON encode failed", "err", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
