package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/fredcamaral/devsync/internal/domain/entities"
	"github.com/fredcamaral/devsync/internal/domain/ports"
)

// TransportHandler serves the transport selected by web_socket_server at
// transport.path. Exactly one transport is mounted per server.
type TransportHandler struct {
	router  chi.Router
	name    string
	polling *PollingHandler
}

// NewTransportHandler builds the router for the configured transport
func NewTransportHandler(acceptor ports.ChannelAcceptor, cfg *entities.Config, logger *slog.Logger) *TransportHandler {
	if logger == nil {
		logger = slog.Default()
	}

	path := cfg.Transport.GetPath()
	h := &TransportHandler{
		router: chi.NewRouter(),
		name:   cfg.GetWebSocketServer(),
	}

	switch h.name {
	case entities.TransportFallback:
		h.polling = NewPollingHandler(acceptor, cfg, logger)
		h.router.Mount(path, h.polling)
	default:
		h.router.Get(path, NewWebSocketHandler(acceptor, cfg, logger).ServeHTTP)
	}

	logger.Debug("Transport mounted",
		slog.String("transport", h.name),
		slog.String("path", path),
	)
	return h
}

// ServeHTTP dispatches to the mounted transport
func (h *TransportHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

// Transport returns the name of the mounted transport
func (h *TransportHandler) Transport() string {
	return h.name
}

// Close releases transport resources such as the fallback session reaper
func (h *TransportHandler) Close() error {
	if h.polling != nil {
		return h.polling.Close()
	}
	return nil
}
