package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/fredcamaral/devsync/internal/domain/entities"
	"github.com/fredcamaral/devsync/internal/domain/ports"
)

// maxPollBatch caps the messages returned by one poll
const maxPollBatch = 256

// ackReturned acknowledges every message a previous poll handed out
const ackReturned = math.MaxUint64

// outbound is a queued message and its sequence number
type outbound struct {
	seq  uint64
	data []byte
}

// PollSession is the fallback transport channel. Outbound messages are
// numbered and stay queued until a poll acknowledges them, so a response
// lost on the way to the client is handed out again by the next poll.
type PollSession struct {
	id    string
	limit int

	mu        sync.Mutex
	pending   []outbound
	nextSeq   uint64
	returned  uint64
	staging   bool
	wake      chan struct{}
	onMessage func([]byte)
	onClose   func(error)
	closeErr  error
	release   func()
	lastSeen  time.Time
	polling   int

	pollMu    sync.Mutex
	closed    chan struct{}
	closeOnce sync.Once
}

// NewPollSession creates a session holding at most bufferSize
// unacknowledged messages
func NewPollSession(bufferSize int) *PollSession {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	return &PollSession{
		id:       uuid.New().String(),
		limit:    bufferSize,
		wake:     make(chan struct{}),
		lastSeen: time.Now(),
		closed:   make(chan struct{}),
	}
}

// ID returns the session id
func (s *PollSession) ID() string {
	return s.id
}

// Transport returns the transport name
func (s *PollSession) Transport() string {
	return entities.TransportFallback
}

// Send queues a message. While the session holds its limit of
// unacknowledged messages it blocks until ctx is done, then fails with
// ErrBufferFull. Until the session id reaches the client the limit does not
// apply, since nothing can be acknowledged before the first poll.
func (s *PollSession) Send(ctx context.Context, msg entities.Message) error {
	data, err := msg.Encode()
	if err != nil {
		return s.transportErr("encode", err)
	}

	for {
		s.mu.Lock()
		if s.isClosed() {
			s.mu.Unlock()
			return s.transportErr("send", entities.ErrChannelClosed)
		}
		if s.staging || len(s.pending) < s.limit {
			s.nextSeq++
			s.pending = append(s.pending, outbound{seq: s.nextSeq, data: data})
			s.notifyLocked()
			s.mu.Unlock()
			return nil
		}
		wake := s.wake
		s.mu.Unlock()

		select {
		case <-wake:
		case <-s.closed:
			return s.transportErr("send", entities.ErrChannelClosed)
		case <-ctx.Done():
			return s.transportErr("send", errors.Join(entities.ErrBufferFull, ctx.Err()))
		}
	}
}

// OnMessage sets the inbound payload handler
func (s *PollSession) OnMessage(fn func([]byte)) {
	s.mu.Lock()
	s.onMessage = fn
	s.mu.Unlock()
}

// OnClose sets the close handler. It runs at most once; when the session is
// already closed it runs immediately.
func (s *PollSession) OnClose(fn func(error)) {
	s.mu.Lock()
	select {
	case <-s.closed:
		err := s.closeErr
		s.mu.Unlock()
		if fn != nil {
			fn(err)
		}
		return
	default:
	}
	s.onClose = fn
	s.mu.Unlock()
}

// Close closes the session
func (s *PollSession) Close() error {
	s.shutdown(entities.ErrChannelClosed)
	return nil
}

// Poll drops the messages numbered up to ack, then waits up to wait for
// queued messages and returns them along with the number of the last one.
// Messages past ack that an earlier poll already returned are returned
// again. Polls on one session are served one at a time.
func (s *PollSession) Poll(ctx context.Context, ack uint64, wait time.Duration) ([][]byte, uint64, error) {
	s.pollMu.Lock()
	defer s.pollMu.Unlock()

	s.touch(1)
	defer s.touch(-1)

	s.mu.Lock()
	ack = s.acknowledgeLocked(ack)
	s.mu.Unlock()

	timer := time.NewTimer(wait)
	defer timer.Stop()

	for {
		s.mu.Lock()
		if len(s.pending) > 0 {
			batch, cursor := s.batchLocked()
			s.mu.Unlock()
			return batch, cursor, nil
		}
		if s.isClosed() {
			s.mu.Unlock()
			return nil, ack, s.transportErr("poll", entities.ErrChannelClosed)
		}
		wake := s.wake
		s.mu.Unlock()

		select {
		case <-wake:
		case <-s.closed:
		case <-timer.C:
			return nil, ack, nil
		case <-ctx.Done():
			return nil, ack, ctx.Err()
		}
	}
}

// acknowledgeLocked drops pending messages up to ack. Only numbers already
// handed out can be acknowledged. It returns the effective ack.
func (s *PollSession) acknowledgeLocked(ack uint64) uint64 {
	if ack > s.returned {
		ack = s.returned
	}
	n := 0
	for n < len(s.pending) && s.pending[n].seq <= ack {
		n++
	}
	if n > 0 {
		s.pending = append(s.pending[:0], s.pending[n:]...)
		s.notifyLocked()
	}
	return ack
}

// batchLocked returns the oldest pending messages and marks them handed out
func (s *PollSession) batchLocked() ([][]byte, uint64) {
	n := len(s.pending)
	if n > maxPollBatch {
		n = maxPollBatch
	}
	batch := make([][]byte, 0, n)
	for _, out := range s.pending[:n] {
		batch = append(batch, out.data)
	}
	cursor := s.pending[n-1].seq
	if cursor > s.returned {
		s.returned = cursor
	}
	return batch, cursor
}

// notifyLocked wakes every Send and Poll waiting for the queue to change
func (s *PollSession) notifyLocked() {
	close(s.wake)
	s.wake = make(chan struct{})
}

// open enforces the buffer limit from now on
func (s *PollSession) open() {
	s.mu.Lock()
	s.staging = false
	s.mu.Unlock()
}

// deliver hands an inbound payload to the message handler
func (s *PollSession) deliver(payload []byte) {
	s.touch(0)

	s.mu.Lock()
	handler := s.onMessage
	s.mu.Unlock()
	if handler != nil {
		handler(payload)
	}
}

// expired reports whether the client has not polled within timeout
func (s *PollSession) expired(now time.Time, timeout time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.polling == 0 && now.Sub(s.lastSeen) > timeout
}

func (s *PollSession) touch(delta int) {
	s.mu.Lock()
	s.polling += delta
	s.lastSeen = time.Now()
	s.mu.Unlock()
}

// shutdown closes the session once. The close handler runs outside the
// once so it may call Close again. A session with messages the client has
// not collected yet stays reachable.
func (s *PollSession) shutdown(cause error) {
	var handler func(error)
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closeErr = cause
		close(s.closed)
		handler = s.onClose
		s.onClose = nil
		s.mu.Unlock()
	})
	if handler != nil {
		handler(cause)
	}
	s.releaseIfDrained()
}

// releaseIfDrained hands a closed session to the release hook once every
// queued message has been returned by a poll
func (s *PollSession) releaseIfDrained() {
	if !s.isClosed() {
		return
	}
	s.mu.Lock()
	if n := len(s.pending); n > 0 && s.pending[n-1].seq > s.returned {
		s.mu.Unlock()
		return
	}
	release := s.release
	s.release = nil
	s.mu.Unlock()
	if release != nil {
		release()
	}
}

func (s *PollSession) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

func (s *PollSession) transportErr(op string, err error) error {
	return &entities.TransportError{
		ConnID:    s.id,
		Transport: entities.TransportFallback,
		Op:        op,
		Err:       err,
	}
}

// PollingHandler serves the fallback transport:
//
//	POST   /       open a session, responds {"id": "..."}
//	GET    /{id}   long-poll for queued messages, responds a JSON array;
//	               ?ack=N acknowledges messages up to N, the response
//	               header X-Devsync-Cursor numbers the last message
//	POST   /{id}   send one message to the server
//	DELETE /{id}   close the session
type PollingHandler struct {
	acceptor    ports.ChannelAcceptor
	bufferSize  int
	pollWait    time.Duration
	pollTimeout time.Duration
	logger      *slog.Logger
	router      chi.Router

	mu       sync.Mutex
	sessions map[string]*PollSession

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// openResponse is returned when a session is opened
type openResponse struct {
	ID string `json:"id"`
}

// NewPollingHandler creates the fallback transport endpoint and starts the
// reaper that closes sessions whose client stopped polling
func NewPollingHandler(acceptor ports.ChannelAcceptor, cfg *entities.Config, logger *slog.Logger) *PollingHandler {
	if logger == nil {
		logger = slog.Default()
	}

	h := &PollingHandler{
		acceptor:    acceptor,
		bufferSize:  cfg.Transport.GetBufferSize(),
		pollWait:    cfg.Transport.GetPollWait(),
		pollTimeout: cfg.Transport.GetPollTimeout(),
		logger:      logger.With("component", "longpoll"),
		sessions:    make(map[string]*PollSession),
		stop:        make(chan struct{}),
	}

	r := chi.NewRouter()
	r.Post("/", h.handleOpen)
	r.Get("/{id}", h.handlePoll)
	r.Post("/{id}", h.handleSend)
	r.Delete("/{id}", h.handleClose)
	h.router = r

	h.wg.Add(1)
	go h.reap()

	return h
}

// ServeHTTP dispatches to the session routes
func (h *PollingHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

// Sessions returns the number of open sessions
func (h *PollingHandler) Sessions() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

// Close stops the reaper and closes every session
func (h *PollingHandler) Close() error {
	h.stopOnce.Do(func() {
		close(h.stop)
	})
	h.wg.Wait()

	h.mu.Lock()
	sessions := make([]*PollSession, 0, len(h.sessions))
	for _, s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.mu.Unlock()

	for _, s := range sessions {
		_ = s.Close()
		h.forget(s.id)
	}
	return nil
}

func (h *PollingHandler) handleOpen(w http.ResponseWriter, r *http.Request) {
	session := NewPollSession(h.bufferSize)
	session.staging = true
	session.release = func() { h.forget(session.id) }

	h.mu.Lock()
	h.sessions[session.id] = session
	h.mu.Unlock()

	if _, err := h.acceptor.Accept(session); err != nil {
		h.logger.Warn("Session rejected",
			slog.String("conn_id", session.id),
			slog.String("error", err.Error()),
		)
		_ = session.Close()
		h.forget(session.id)
		writeError(w, http.StatusServiceUnavailable, "session rejected")
		return
	}

	session.open()
	_ = writeJSON(w, http.StatusCreated, openResponse{ID: session.id})
}

func (h *PollingHandler) handlePoll(w http.ResponseWriter, r *http.Request) {
	session, ok := h.lookup(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "unknown session")
		return
	}

	ack := uint64(ackReturned)
	if v := r.URL.Query().Get("ack"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid ack")
			return
		}
		ack = n
	}

	batch, cursor, err := session.Poll(r.Context(), ack, h.pollWait)
	session.releaseIfDrained()
	if err != nil && len(batch) == 0 {
		if errors.Is(err, entities.ErrChannelClosed) {
			writeError(w, http.StatusGone, "session closed")
		}
		return
	}

	messages := make([]json.RawMessage, 0, len(batch))
	for _, data := range batch {
		messages = append(messages, data)
	}
	w.Header().Set(entities.PollCursorHeader, strconv.FormatUint(cursor, 10))
	if err := writeJSON(w, http.StatusOK, messages); err != nil {
		h.logger.Debug("Poll response not delivered, messages stay queued",
			slog.String("conn_id", session.id),
			slog.Int("messages", len(messages)),
			slog.String("error", err.Error()),
		)
	}
}

func (h *PollingHandler) handleSend(w http.ResponseWriter, r *http.Request) {
	session, ok := h.lookup(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "unknown session")
		return
	}

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxMessageSize))
	if err != nil {
		writeError(w, http.StatusBadRequest, "reading body")
		return
	}

	session.deliver(payload)
	w.WriteHeader(http.StatusNoContent)
}

func (h *PollingHandler) handleClose(w http.ResponseWriter, r *http.Request) {
	session, ok := h.lookup(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "unknown session")
		return
	}

	_ = session.Close()
	h.forget(session.id)
	w.WriteHeader(http.StatusNoContent)
}

func (h *PollingHandler) lookup(id string) (*PollSession, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.sessions[id]
	return s, ok
}

func (h *PollingHandler) forget(id string) {
	h.mu.Lock()
	delete(h.sessions, id)
	h.mu.Unlock()
}

// reap closes sessions whose client has not polled within the poll timeout
func (h *PollingHandler) reap() {
	defer h.wg.Done()

	interval := h.pollTimeout / 4
	if interval < 10*time.Millisecond {
		interval = 10 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-h.stop:
			return
		case now := <-ticker.C:
			h.mu.Lock()
			var expired []*PollSession
			for _, s := range h.sessions {
				if s.expired(now, h.pollTimeout) {
					expired = append(expired, s)
				}
			}
			h.mu.Unlock()

			for _, s := range expired {
				if s.isClosed() {
					// Closed with messages nobody came back for
					h.forget(s.id)
					continue
				}
				h.logger.Info("Closing idle session", slog.String("conn_id", s.id))
				s.shutdown(s.transportErr("poll", entities.ErrPollTimeout))
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	_ = writeJSON(w, status, map[string]string{"error": message})
}

var _ ports.Channel = (*PollSession)(nil)
