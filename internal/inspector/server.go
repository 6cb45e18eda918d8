// Package inspector bridges a *router.Router to an HTTP/WebSocket API for
// driving and observing it from outside a Go program: a debugging/demo
// surface, not a UI rendering layer. It exposes a chi-mountable
// http.Handler plus a gorilla/websocket upgrade path scaled to the
// router's narrow external surface.
package inspector

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/ryihan/dataroute/pkg/router"
)

// Config configures a Server.
type Config struct {
	// Logger receives request and connection diagnostics. Defaults to
	// slog.Default().
	Logger *slog.Logger

	// CheckOrigin overrides the WebSocket upgrader's origin check. Defaults
	// to allowing any origin, matching a local debugging tool's needs.
	CheckOrigin func(r *http.Request) bool
}

// Option configures a single New call.
type Option func(*Config)

// WithLogger sets the server's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) { c.Logger = logger }
}

// WithCheckOrigin overrides the WebSocket upgrader's origin check.
func WithCheckOrigin(fn func(r *http.Request) bool) Option {
	return func(c *Config) { c.CheckOrigin = fn }
}

// Server exposes a *router.Router over HTTP: GET /state for the current
// Snapshot, POST /navigate and POST /fetch to drive it, and GET /ws to
// stream every committed Snapshot as JSON for as long as the connection is
// open.
type Server struct {
	r        *router.Router
	logger   *slog.Logger
	upgrader websocket.Upgrader
	handler  http.Handler
}

// New builds a Server around r.
func New(r *router.Router, opts ...Option) *Server {
	cfg := Config{Logger: slog.Default()}
	for _, opt := range opts {
		opt(&cfg)
	}
	checkOrigin := cfg.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(r *http.Request) bool { return true }
	}

	s := &Server{
		r:      r,
		logger: cfg.Logger.With("component", "inspector"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     checkOrigin,
		},
	}
	s.handler = s.routes()
	return s
}

// Handler returns an http.Handler suitable for mounting directly or under a
// parent chi router (e.g. `parent.Mount("/_router", s.Handler())`).
func (s *Server) Handler() http.Handler { return s.handler }

func (s *Server) routes() http.Handler {
	mux := chi.NewRouter()
	mux.Use(chimiddleware.Logger)
	mux.Use(chimiddleware.Recoverer)

	mux.Get("/state", s.handleState)
	mux.Post("/navigate", s.handleNavigate)
	mux.Post("/fetch", s.handleFetch)
	mux.Get("/ws", s.handleWebSocket)

	return mux
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.r.State())
}

type navigateRequest struct {
	Href        string            `json:"href"`
	Replace     bool              `json:"replace"`
	FormMethod  string            `json:"formMethod"`
	FormEncType string            `json:"formEncType"`
	FormData    map[string]string `json:"formData"`
}

func (s *Server) handleNavigate(w http.ResponseWriter, r *http.Request) {
	var req navigateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Href == "" {
		http.Error(w, "href is required", http.StatusBadRequest)
		return
	}

	opts := []router.NavigateOption{}
	if req.Replace {
		opts = append(opts, router.WithReplace())
	}
	if req.FormMethod != "" {
		opts = append(opts, router.WithSubmission(req.FormMethod, formDataFrom(req.FormData)))
		if req.FormEncType != "" {
			opts = append(opts, router.WithFormEncType(req.FormEncType))
		}
	}

	if err := s.r.Navigate(r.Context(), router.NavigateToHref(req.Href), opts...); err != nil {
		s.logger.Error("navigate failed", "href", req.Href, "error", err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, s.r.State())
}

type fetchRequest struct {
	Key         string            `json:"key"`
	Href        string            `json:"href"`
	FormMethod  string            `json:"formMethod"`
	FormEncType string            `json:"formEncType"`
	FormData    map[string]string `json:"formData"`
}

func (s *Server) handleFetch(w http.ResponseWriter, r *http.Request) {
	var req fetchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Key == "" || req.Href == "" {
		http.Error(w, "key and href are required", http.StatusBadRequest)
		return
	}

	opts := []router.FetchOption{}
	if req.FormMethod != "" {
		opts = append(opts, router.WithFetchSubmission(req.FormMethod, formDataFrom(req.FormData)))
	}
	s.r.Fetch(req.Key, req.Href, opts...)
	writeJSON(w, http.StatusAccepted, s.r.GetFetcher(req.Key))
}

// handleWebSocket upgrades the connection and streams every committed
// Snapshot as a JSON text message: one goroutine drains the connection for
// close notifications, the Subscribe callback pushes writes.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	writes := make(chan router.Snapshot, 8)
	unsubscribe := s.r.Subscribe(func(snap router.Snapshot) {
		select {
		case writes <- snap:
		default:
			s.logger.Warn("dropped snapshot, slow websocket client")
		}
	})
	defer unsubscribe()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	initial := s.r.State()
	if err := s.writeSnapshot(conn, initial); err != nil {
		return
	}

	for {
		select {
		case snap := <-writes:
			if err := s.writeSnapshot(conn, snap); err != nil {
				return
			}
		case <-closed:
			return
		}
	}
}

func (s *Server) writeSnapshot(conn *websocket.Conn, snap router.Snapshot) error {
	conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteJSON(snap)
}

func formDataFrom(fields map[string]string) *router.FormData {
	fd := router.NewFormData()
	for k, v := range fields {
		fd.Set(k, v)
	}
	return fd
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
