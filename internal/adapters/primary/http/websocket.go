package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/fredcamaral/devsync/internal/domain/entities"
	"github.com/fredcamaral/devsync/internal/domain/ports"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 4096
)

// WebSocketChannel is the native transport channel. Writes go through a
// single pump goroutine, so Send may be called concurrently and messages
// leave in the order Send accepted them.
type WebSocketChannel struct {
	id     string
	conn   *websocket.Conn
	send   chan []byte
	logger *slog.Logger

	mu        sync.Mutex
	onMessage func([]byte)
	onClose   func(error)
	closeErr  error

	closed    chan struct{}
	closeOnce sync.Once
}

// NewWebSocketChannel wraps an upgraded connection and starts its write pump.
// Call Listen once the message handler is installed.
func NewWebSocketChannel(conn *websocket.Conn, bufferSize int, logger *slog.Logger) *WebSocketChannel {
	if logger == nil {
		logger = slog.Default()
	}
	if bufferSize <= 0 {
		bufferSize = 64
	}

	c := &WebSocketChannel{
		id:     uuid.New().String(),
		conn:   conn,
		send:   make(chan []byte, bufferSize),
		closed: make(chan struct{}),
	}
	c.logger = logger.With("conn_id", c.id)

	go c.writePump()
	return c
}

// ID returns the connection id
func (c *WebSocketChannel) ID() string {
	return c.id
}

// Transport returns the transport name
func (c *WebSocketChannel) Transport() string {
	return entities.TransportNative
}

// Send queues a message for the write pump. It blocks while the queue is
// full, until ctx is done.
func (c *WebSocketChannel) Send(ctx context.Context, msg entities.Message) error {
	data, err := msg.Encode()
	if err != nil {
		return c.transportErr("encode", err)
	}

	select {
	case <-c.closed:
		return c.transportErr("send", entities.ErrChannelClosed)
	default:
	}

	select {
	case c.send <- data:
		return nil
	case <-c.closed:
		return c.transportErr("send", entities.ErrChannelClosed)
	case <-ctx.Done():
		return c.transportErr("send", errors.Join(entities.ErrBufferFull, ctx.Err()))
	}
}

// OnMessage sets the inbound payload handler
func (c *WebSocketChannel) OnMessage(fn func([]byte)) {
	c.mu.Lock()
	c.onMessage = fn
	c.mu.Unlock()
}

// OnClose sets the close handler. It runs at most once; when the channel is
// already closed it runs immediately.
func (c *WebSocketChannel) OnClose(fn func(error)) {
	c.mu.Lock()
	select {
	case <-c.closed:
		err := c.closeErr
		c.mu.Unlock()
		if fn != nil {
			fn(err)
		}
		return
	default:
	}
	c.onClose = fn
	c.mu.Unlock()
}

// Close closes the channel
func (c *WebSocketChannel) Close() error {
	c.shutdown(entities.ErrChannelClosed)
	return nil
}

// Listen runs the read pump until the peer goes away
func (c *WebSocketChannel) Listen() {
	defer c.shutdown(entities.ErrChannelClosed)

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.logger.Warn("WebSocket connection error", slog.String("error", err.Error()))
				c.shutdown(c.transportErr("read", err))
			}
			return
		}

		c.mu.Lock()
		handler := c.onMessage
		c.mu.Unlock()
		if handler != nil {
			handler(message)
		}
	}
}

// writePump pumps queued messages to the WebSocket connection
func (c *WebSocketChannel) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case data := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.shutdown(c.transportErr("write", err))
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.shutdown(c.transportErr("ping", err))
				return
			}

		case <-c.closed:
			c.flush()
			_ = c.conn.SetWriteDeadline(time.Now().Add(time.Second))
			_ = c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// flush writes whatever was queued before the channel closed, so a farewell
// message is not lost
func (c *WebSocketChannel) flush() {
	for {
		select {
		case data := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(time.Second))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		default:
			return
		}
	}
}

// shutdown closes the channel once. The close handler runs outside the
// once so it may call Close again.
func (c *WebSocketChannel) shutdown(cause error) {
	var handler func(error)
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closeErr = cause
		close(c.closed)
		handler = c.onClose
		c.onClose = nil
		c.mu.Unlock()
	})
	if handler != nil {
		handler(cause)
	}
}

func (c *WebSocketChannel) transportErr(op string, err error) error {
	return &entities.TransportError{
		ConnID:    c.id,
		Transport: entities.TransportNative,
		Op:        op,
		Err:       err,
	}
}

// WebSocketHandler upgrades requests and hands the channels to an acceptor
type WebSocketHandler struct {
	acceptor   ports.ChannelAcceptor
	origins    []string
	bufferSize int
	logger     *slog.Logger
	upgrader   websocket.Upgrader
}

// NewWebSocketHandler creates the native transport endpoint
func NewWebSocketHandler(acceptor ports.ChannelAcceptor, cfg *entities.Config, logger *slog.Logger) *WebSocketHandler {
	if logger == nil {
		logger = slog.Default()
	}

	h := &WebSocketHandler{
		acceptor:   acceptor,
		origins:    cfg.Server.GetCORSOrigins(),
		bufferSize: cfg.Transport.GetBufferSize(),
		logger:     logger.With("component", "websocket"),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.isValidOrigin,
	}
	return h
}

// ServeHTTP handles the upgrade request
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("WebSocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	ch := NewWebSocketChannel(conn, h.bufferSize, h.logger)
	if _, err := h.acceptor.Accept(ch); err != nil {
		h.logger.Warn("Connection rejected",
			slog.String("conn_id", ch.ID()),
			slog.String("error", err.Error()),
		)
		_ = ch.Close()
		return
	}

	go ch.Listen()
}

// isValidOrigin accepts same-origin requests, local and private network
// addresses, and the configured CORS origins
func (h *WebSocketHandler) isValidOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	originURL, err := url.Parse(origin)
	if err != nil {
		h.logger.Warn("WebSocket connection rejected: invalid origin URL",
			slog.String("origin", origin),
			slog.String("error", err.Error()),
		)
		return false
	}

	if isDevelopmentOrigin(originURL) {
		return true
	}

	for _, allowed := range h.origins {
		if allowed == "*" || originURL.String() == allowed {
			return true
		}
		if strings.HasPrefix(allowed, "*.") && strings.HasSuffix(originURL.Hostname(), strings.TrimPrefix(allowed, "*")) {
			return true
		}
	}

	h.logger.Warn("WebSocket connection rejected: origin not allowed",
		slog.String("origin", originURL.String()),
		slog.Any("allowed_origins", h.origins),
	)
	return false
}

// isDevelopmentOrigin matches localhost and private network addresses
func isDevelopmentOrigin(originURL *url.URL) bool {
	hostname := originURL.Hostname()

	switch hostname {
	case "localhost", "127.0.0.1", "0.0.0.0", "::1":
		return true
	}

	if strings.HasPrefix(hostname, "192.168.") || strings.HasPrefix(hostname, "10.") {
		return true
	}

	return isPrivateClassB(hostname)
}

// isPrivateClassB checks for 172.16.0.0 to 172.31.255.255 range
func isPrivateClassB(hostname string) bool {
	if !strings.HasPrefix(hostname, "172.") {
		return false
	}

	parts := strings.Split(hostname, ".")
	if len(parts) < 2 {
		return false
	}

	switch parts[1] {
	case "16", "17", "18", "19", "20", "21", "22", "23", "24", "25", "26", "27", "28", "29", "30", "31":
		return true
	default:
		return false
	}
}

var _ ports.Channel = (*WebSocketChannel)(nil)
