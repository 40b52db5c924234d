package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/lazypower/fade/internal/engine"
)

// Server is the fade HTTP API server.
type Server struct {
	svc     *engine.Service
	trimmer *engine.Trimmer
	limiter *RateLimiter
	router  chi.Router
	version string
	started time.Time
}

// Option configures a Server.
type Option func(*Server)

// WithTrimmer enables the manual trim endpoint.
func WithTrimmer(t *engine.Trimmer) Option {
	return func(s *Server) { s.trimmer = t }
}

// WithRateLimit caps the API at rps requests per second with the given burst.
// A non-positive rps leaves the API unlimited.
func WithRateLimit(rps float64, burst int) Option {
	return func(s *Server) {
		if rps > 0 {
			s.limiter = NewRateLimiter(rps, burst)
		}
	}
}

// New creates a new Server around svc.
func New(svc *engine.Service, version string, opts ...Option) *Server {
	s := &Server{
		svc:     svc,
		version: version,
		started: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)

	r.Get("/", s.handleRoot)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Group(func(r chi.Router) {
			if s.limiter != nil {
				r.Use(s.limiter.Middleware)
			}
			r.Post("/memory", s.handleAddMemory)
			r.Post("/memory/search", s.handleSearch)
			r.Post("/trim", s.handleTrim)
		})
	})

	s.router = r
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte("fade memory API is running\n"))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	storeOK := s.svc.Store.Ping(r.Context()) == nil

	status := "ok"
	code := http.StatusOK
	if !storeOK {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	body := map[string]any{
		"status":          status,
		"version":         s.version,
		"uptime":          time.Since(s.started).Seconds(),
		"store":           storeOK,
		"retrieval_count": s.svc.State.Get(),
	}
	if s.svc.Embedder != nil {
		body["embedder"] = s.svc.Embedder.Model()
	}
	if s.trimmer != nil {
		body["trim_running"] = s.trimmer.Running()
	}
	writeJSON(w, code, body)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
