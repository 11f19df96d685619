package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/fredcamaral/devsync/internal/domain/entities"
	"github.com/fredcamaral/devsync/internal/domain/ports"
)

// DevServerOption configures a DevServer
type DevServerOption func(*DevServer)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) DevServerOption {
	return func(s *DevServer) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics sets the metrics recorder
func WithMetrics(metrics ports.Metrics) DevServerOption {
	return func(s *DevServer) {
		if metrics != nil {
			s.metrics = metrics
		}
	}
}

// DevServer owns the client registry and the build-event bridge. It never
// opens a listening socket; transports hand it accepted channels.
type DevServer struct {
	config   entities.Config
	pipeline ports.BuildPipeline
	watcher  ports.FileWatcher
	logger   *slog.Logger
	metrics  ports.Metrics

	registry *Registry
	bridge   *Bridge

	mu          sync.Mutex
	running     bool
	stopped     bool
	unsubscribe func()
	watchCancel context.CancelFunc
	watchDone   chan struct{}
}

// NewDevServer validates the configuration and wires the server together.
// Configuration problems are reported as *entities.ConfigurationError before
// any transport exists. watcher may be nil when static watching is off.
func NewDevServer(cfg *entities.Config, pipeline ports.BuildPipeline, watcher ports.FileWatcher, opts ...DevServerOption) (*DevServer, error) {
	if err := entities.ValidateConfig(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if pipeline == nil {
		return nil, errors.New("build pipeline is required")
	}
	if cfg.Static.Watch && len(cfg.Static.Paths) > 0 && watcher == nil {
		return nil, &entities.ConfigurationError{
			Field:  "static.watch",
			Value:  true,
			Reason: "no file watcher available for static paths",
		}
	}

	s := &DevServer{
		config:   *cfg,
		pipeline: pipeline,
		watcher:  watcher,
		logger:   slog.Default(),
		metrics:  ports.NopMetrics{},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("service", "dev_server")

	s.registry = NewRegistry(RegistryOptions{
		Handshake:   cfg.Handshake(),
		SendTimeout: cfg.Transport.GetSendTimeout(),
		Metrics:     s.metrics,
		Logger:      s.logger,
	})
	s.bridge = NewBridge(s.registry, cfg.Transport.GetBufferSize(), s.metrics, s.logger)

	return s, nil
}

// Start subscribes to the build pipeline and the static watcher
func (s *DevServer) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return entities.ErrServerStopped
	}
	if s.running {
		return errors.New("dev server already running")
	}

	s.bridge.Start()

	unsubscribe, err := s.pipeline.Subscribe(ctx, s.bridge)
	if err != nil {
		s.bridge.Stop()
		return fmt.Errorf("subscribing to build pipeline: %w", err)
	}
	s.unsubscribe = unsubscribe

	if s.config.Static.Watch && len(s.config.Static.Paths) > 0 {
		watchCtx, cancel := context.WithCancel(context.Background())
		events, err := s.watcher.Watch(watchCtx, s.config.Static.Paths...)
		if err != nil {
			cancel()
			s.unsubscribe()
			s.bridge.Stop()
			return fmt.Errorf("watching static paths: %w", err)
		}
		s.watchCancel = cancel
		s.watchDone = make(chan struct{})
		go s.forwardStatic(watchCtx, events)
	}

	s.running = true
	s.logger.Info("Dev server started",
		slog.Bool("hot", s.config.Hot),
		slog.Bool("live_reload", s.config.LiveReload),
		slog.String("transport", s.config.GetWebSocketServer()),
		slog.Any("static", s.config.Static.Paths),
	)
	return nil
}

// Stop unsubscribes from every event source, stops the bridge and closes all
// client channels. No message is emitted after Stop returns.
func (s *DevServer) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return nil
	}
	s.stopped = true

	if s.unsubscribe != nil {
		s.unsubscribe()
	}

	var watchErr error
	if s.watchCancel != nil {
		s.watchCancel()
		watchErr = s.watcher.Stop()
		select {
		case <-s.watchDone:
		case <-ctx.Done():
			s.logger.Warn("Static watcher did not stop in time")
		}
	}

	s.bridge.Stop()
	s.registry.Close()
	s.running = false

	s.logger.Info("Dev server stopped")
	if watchErr != nil {
		return fmt.Errorf("stopping static watcher: %w", watchErr)
	}
	return nil
}

// Accept takes ownership of a freshly accepted transport channel. Inbound
// payloads are decoded; a malformed one closes that connection only.
func (s *DevServer) Accept(ch ports.Channel) (*entities.ClientConnection, error) {
	connID := ch.ID()
	ch.OnMessage(func(raw []byte) {
		msg, err := entities.DecodeMessage(raw)
		if err != nil {
			s.logger.Warn("Closing client after malformed message",
				slog.String("conn_id", connID),
				slog.String("error", err.Error()),
			)
			_ = ch.Close()
			return
		}
		s.logger.Debug("Client message",
			slog.String("conn_id", connID),
			slog.String("type", string(msg.Type)),
		)
	})

	return s.registry.Register(ch)
}

// ForceReload tells every client to reload
func (s *DevServer) ForceReload() int {
	return s.registry.Broadcast(entities.NewLiveReloadMessage())
}

// ContentChanged sends the generic full reload signal
func (s *DevServer) ContentChanged() int {
	return s.registry.Broadcast(entities.NewContentChangedMessage())
}

// Clients returns the number of registered connections
func (s *DevServer) Clients() int {
	return s.registry.Size()
}

// Cycle returns a snapshot of the latest build cycle
func (s *DevServer) Cycle() entities.BuildCycle {
	return s.bridge.Current()
}

// Config returns the configuration the server was built with
func (s *DevServer) Config() entities.Config {
	return s.config
}

// IsRunning returns whether the server is currently running
func (s *DevServer) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *DevServer) forwardStatic(ctx context.Context, events <-chan ports.FileChangeEvent) {
	defer close(s.watchDone)

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			s.logger.Debug("Static file changed",
				slog.String("path", event.Path),
				slog.String("type", event.Type.String()),
			)
			s.bridge.OnStaticChanged(event.Path)
		}
	}
}

var _ ports.ChannelAcceptor = (*DevServer)(nil)
