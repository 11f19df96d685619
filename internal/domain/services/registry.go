package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/fredcamaral/devsync/internal/domain/entities"
	"github.com/fredcamaral/devsync/internal/domain/ports"
)

// closeSendTimeout bounds the farewell message sent on shutdown
const closeSendTimeout = 500 * time.Millisecond

// RegistryOptions configures a Registry
type RegistryOptions struct {
	Handshake   entities.HandshakeData
	SendTimeout time.Duration
	Metrics     ports.Metrics
	Logger      *slog.Logger
}

// Registry tracks connected clients and fans messages out to them.
//
// Deliveries (broadcasts and handshakes) are serialized by sendMu, so every
// connection observes messages in the order they were handed over. The
// connection set itself is guarded by mu and only changed through
// Register, Unregister and Close.
type Registry struct {
	handshake   entities.HandshakeData
	sendTimeout time.Duration
	metrics     ports.Metrics
	logger      *slog.Logger

	mu     sync.RWMutex
	conns  map[string]*registration
	closed bool

	sendMu sync.Mutex
	replay []entities.Message
}

type registration struct {
	conn *entities.ClientConnection
	ch   ports.Channel
}

// NewRegistry creates an empty registry
func NewRegistry(opts RegistryOptions) *Registry {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = ports.NopMetrics{}
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = 5 * time.Second
	}

	return &Registry{
		handshake:   opts.Handshake,
		sendTimeout: opts.SendTimeout,
		metrics:     opts.Metrics,
		logger:      opts.Logger.With("service", "registry"),
		conns:       make(map[string]*registration),
	}
}

// Register wraps an accepted channel. The connection is ready once the
// handshake and the retained build status have been sent.
func (r *Registry) Register(ch ports.Channel) (*entities.ClientConnection, error) {
	r.sendMu.Lock()
	defer r.sendMu.Unlock()

	conn := entities.NewClientConnection(ch.ID(), ch.Transport(), time.Now())

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		conn.MarkClosed()
		_ = ch.Close()
		return nil, entities.ErrServerStopped
	}
	if _, exists := r.conns[conn.ID]; exists {
		r.mu.Unlock()
		conn.MarkClosed()
		_ = ch.Close()
		return nil, fmt.Errorf("registering %s: duplicate connection id", conn.ID)
	}
	r.conns[conn.ID] = &registration{conn: conn, ch: ch}
	r.mu.Unlock()

	ch.OnClose(func(err error) {
		if err != nil && !errors.Is(err, entities.ErrChannelClosed) {
			r.logger.Debug("Channel closed",
				slog.String("conn_id", conn.ID),
				slog.String("error", err.Error()),
			)
		}
		r.Unregister(conn)
	})
	r.metrics.ConnectionOpened(conn.Transport)

	initial := make([]entities.Message, 0, 1+len(r.replay))
	initial = append(initial, entities.NewHandshakeMessage(r.handshake))
	initial = append(initial, r.replay...)

	if err := r.deliver(conn, ch, initial); err != nil {
		r.Unregister(conn)
		return nil, fmt.Errorf("handshake with %s: %w", conn.ID, err)
	}

	if !conn.MarkReady() {
		return nil, &entities.TransportError{
			ConnID:    conn.ID,
			Transport: conn.Transport,
			Op:        "handshake",
			Err:       entities.ErrChannelClosed,
		}
	}

	r.logger.Info("Client connected",
		slog.String("conn_id", conn.ID),
		slog.String("transport", conn.Transport),
		slog.Int("replayed", len(initial)-1),
	)

	return conn, nil
}

// Unregister removes a connection and closes its channel. Calling it again
// for the same connection is a no-op.
func (r *Registry) Unregister(conn *entities.ClientConnection) {
	if conn == nil {
		return
	}

	r.mu.Lock()
	reg, ok := r.conns[conn.ID]
	if ok && reg.conn == conn {
		delete(r.conns, conn.ID)
	} else {
		ok = false
	}
	r.mu.Unlock()

	if !conn.MarkClosed() || !ok {
		return
	}

	_ = reg.ch.Close()
	r.metrics.ConnectionClosed(conn.Transport)
	r.logger.Info("Client disconnected",
		slog.String("conn_id", conn.ID),
		slog.Uint64("delivered", conn.Delivered()),
	)
}

// Broadcast delivers messages to every ready connection
func (r *Registry) Broadcast(msgs ...entities.Message) int {
	return r.Publish(false, msgs...)
}

// Publish delivers messages to every ready connection and returns how many
// connections received all of them. With retain set, the messages replace
// the status replayed to connections that register later.
//
// Connections are served in parallel, each bounded by the send timeout. A
// connection that fails or times out is closed and removed; the others are
// unaffected.
func (r *Registry) Publish(retain bool, msgs ...entities.Message) int {
	r.sendMu.Lock()
	defer r.sendMu.Unlock()

	if retain {
		r.replay = append([]entities.Message(nil), msgs...)
	}
	if len(msgs) == 0 {
		return 0
	}

	targets := r.readyTargets()
	if len(targets) == 0 {
		return 0
	}

	start := time.Now()
	var (
		wg       conc.WaitGroup
		failedMu sync.Mutex
		failed   []*entities.ClientConnection
	)
	for _, target := range targets {
		target := target
		wg.Go(func() {
			if err := r.deliver(target.conn, target.ch, msgs); err != nil {
				r.logger.Warn("Dropping client after failed delivery",
					slog.String("conn_id", target.conn.ID),
					slog.String("transport", target.conn.Transport),
					slog.String("error", err.Error()),
				)
				failedMu.Lock()
				failed = append(failed, target.conn)
				failedMu.Unlock()
			}
		})
	}
	wg.Wait()

	for _, conn := range failed {
		r.Unregister(conn)
	}
	r.metrics.BroadcastDuration(time.Since(start))

	return len(targets) - len(failed)
}

// Close says goodbye to every client, closes all channels and rejects any
// later registration
func (r *Registry) Close() {
	r.sendMu.Lock()
	defer r.sendMu.Unlock()

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	regs := make([]*registration, 0, len(r.conns))
	for _, reg := range r.conns {
		regs = append(regs, reg)
	}
	r.mu.Unlock()

	farewell := entities.NewCloseMessage()
	var wg conc.WaitGroup
	for _, reg := range regs {
		reg := reg
		wg.Go(func() {
			if reg.conn.Ready() {
				ctx, cancel := context.WithTimeout(context.Background(), closeSendTimeout)
				_ = reg.ch.Send(ctx, farewell)
				cancel()
			}
			r.Unregister(reg.conn)
		})
	}
	wg.Wait()
	r.replay = nil
}

// Size returns the number of registered connections
func (r *Registry) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Lookup returns the connection registered under id
func (r *Registry) Lookup(id string) (*entities.ClientConnection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.conns[id]
	if !ok {
		return nil, false
	}
	return reg.conn, true
}

func (r *Registry) readyTargets() []*registration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	targets := make([]*registration, 0, len(r.conns))
	for _, reg := range r.conns {
		if reg.conn.Ready() {
			targets = append(targets, reg)
		}
	}
	return targets
}

// deliver sends msgs in order, each bounded by the send timeout
func (r *Registry) deliver(conn *entities.ClientConnection, ch ports.Channel, msgs []entities.Message) error {
	for _, msg := range msgs {
		ctx, cancel := context.WithTimeout(context.Background(), r.sendTimeout)
		err := ch.Send(ctx, msg)
		cancel()
		if err != nil {
			r.metrics.DeliveryFailed(conn.Transport)
			return err
		}
		conn.Advance()
		r.metrics.MessageDelivered(conn.Transport, msg.Type)
	}
	return nil
}
