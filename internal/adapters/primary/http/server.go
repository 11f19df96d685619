package http

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/fredcamaral/devsync/internal/domain/entities"
	"github.com/fredcamaral/devsync/internal/domain/ports"
)

// ServerOption configures a Server
type ServerOption func(*Server)

// WithLogger sets the server logger
func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithRoute mounts an extra handler, such as /metrics
func WithRoute(path string, handler http.Handler) ServerOption {
	return func(s *Server) {
		s.extra = append(s.extra, route{path: path, handler: handler})
	}
}

type route struct {
	path    string
	handler http.Handler
}

// Server hosts the transport endpoint next to the static directories
type Server struct {
	config    *entities.Config
	transport *TransportHandler
	logger    *slog.Logger
	extra     []route

	mu       sync.RWMutex
	server   *http.Server
	listener net.Listener
	running  bool
	done     chan struct{}
}

// NewServer creates a new HTTP server. cfg must be valid.
func NewServer(cfg *entities.Config, acceptor ports.ChannelAcceptor, opts ...ServerOption) *Server {
	s := &Server{
		config: cfg,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "http")
	s.transport = NewTransportHandler(acceptor, cfg, s.logger)
	return s
}

// Handler returns the complete handler chain
func (s *Server) Handler() http.Handler {
	router := s.setupRoutes()

	c := cors.New(cors.Options{
		AllowedOrigins:   s.config.Server.GetCORSOrigins(),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Accept"},
		AllowCredentials: false,
		MaxAge:           300,
	})
	return c.Handler(router)
}

// Start listens on the configured address and serves in the background
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return errors.New("server already running")
	}

	listener, err := (&net.ListenConfig{}).Listen(ctx, "tcp", s.config.Server.Address())
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.config.Server.Address(), err)
	}

	// No write timeout: long polls are held open for poll_wait
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	s.listener = listener
	s.running = true
	s.done = make(chan struct{})

	go func(srv *http.Server, done chan struct{}) {
		defer close(done)
		s.logger.Info("HTTP server listening",
			slog.String("addr", listener.Addr().String()),
			slog.String("transport", s.transport.Transport()),
			slog.String("path", s.config.Transport.GetPath()),
		)
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}(s.server, s.done)

	return nil
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return errors.New("server not running")
	}
	s.running = false

	_ = s.transport.Close()

	shutdownCtx, cancel := context.WithTimeout(ctx, s.config.Server.GetShutdownTimeout())
	defer cancel()

	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	<-s.done
	return nil
}

// Addr returns the bound address, useful when port 0 was requested
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return s.config.Server.Address()
	}
	return s.listener.Addr().String()
}

// IsRunning returns whether the server is currently running
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() http.Handler {
	router := mux.NewRouter()
	router.Use(recoveryMiddleware(s.logger), loggingMiddleware(s.logger))

	router.PathPrefix(s.config.Transport.GetPath()).Handler(s.transport)

	for _, r := range s.extra {
		router.Handle(r.path, r.handler)
	}

	static := router.PathPrefix(s.config.Static.GetPublicPath()).Subrouter()
	static.Use(noCacheMiddleware)
	static.PathPrefix("/").Handler(
		http.StripPrefix(strings.TrimSuffix(s.config.Static.GetPublicPath(), "/"), s.staticServer(s.config.Static.Paths)),
	)

	return router
}

// staticServer serves the first static root that has the requested file
func (s *Server) staticServer(roots []string) http.Handler {
	servers := make([]http.Handler, len(roots))
	for i, root := range roots {
		servers[i] = secureFileServer(root)
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for i, root := range roots {
			if _, ok := resolveStatic(root, r.URL.Path); ok {
				servers[i].ServeHTTP(w, r)
				return
			}
		}
		http.NotFound(w, r)
	})
}

// secureFileServer creates a file server that prevents path traversal
func secureFileServer(root string) http.Handler {
	fs := http.FileServer(http.Dir(root))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := resolveStatic(root, r.URL.Path); !ok {
			http.NotFound(w, r)
			return
		}
		fs.ServeHTTP(w, r)
	})
}

// resolveStatic maps a URL path into root, refusing anything outside it
func resolveStatic(root, urlPath string) (string, bool) {
	cleanPath := filepath.Clean("/" + urlPath)
	if strings.Contains(cleanPath, "..") {
		return "", false
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", false
	}

	absPath, err := filepath.Abs(filepath.Join(absRoot, cleanPath))
	if err != nil {
		return "", false
	}

	if absPath != absRoot && !strings.HasPrefix(absPath, absRoot+string(filepath.Separator)) {
		return "", false
	}

	if _, err := os.Stat(absPath); err != nil {
		return "", false
	}

	return absPath, true
}
