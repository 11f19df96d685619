package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fredcamaral/devsync/internal/domain/entities"
	"github.com/fredcamaral/devsync/internal/domain/ports"
)

// PollingDialer connects to the fallback transport
type PollingDialer struct {
	baseURL string
	client  *http.Client
}

// NewPollingDialer creates a dialer for the http(s) URL the fallback
// transport is mounted at
func NewPollingDialer(baseURL string, client *http.Client) *PollingDialer {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &PollingDialer{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
	}
}

// Dial opens a session
func (d *PollingDialer) Dial(ctx context.Context) (ports.ClientStream, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+"/", nil)
	if err != nil {
		return nil, err
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("opening session at %s: %w", d.baseURL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("opening session at %s: unexpected status %d", d.baseURL, resp.StatusCode)
	}

	var opened struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&opened); err != nil {
		return nil, fmt.Errorf("decoding session: %w", err)
	}
	if opened.ID == "" {
		return nil, errors.New("server returned an empty session id")
	}

	return &pollingStream{
		url:    d.baseURL + "/" + opened.ID,
		client: d.client,
	}, nil
}

type pollingStream struct {
	url    string
	client *http.Client

	mu      sync.Mutex
	pending []entities.Message
	closed  bool
	// cursor numbers the last message received; the next poll
	// acknowledges it
	cursor uint64
}

// Receive returns the next queued message, polling the server when none is
// buffered locally
func (s *pollingStream) Receive(ctx context.Context) (entities.Message, error) {
	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return entities.Message{}, s.transportErr("receive", entities.ErrChannelClosed)
		}
		if len(s.pending) > 0 {
			msg := s.pending[0]
			s.pending = s.pending[1:]
			s.mu.Unlock()
			return msg, nil
		}
		s.mu.Unlock()

		batch, err := s.poll(ctx)
		if err != nil {
			return entities.Message{}, err
		}

		s.mu.Lock()
		s.pending = append(s.pending, batch...)
		s.mu.Unlock()
	}
}

func (s *pollingStream) poll(ctx context.Context) ([]entities.Message, error) {
	s.mu.Lock()
	target := s.url + "?ack=" + strconv.FormatUint(s.cursor, 10)
	s.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, s.transportErr("poll", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound, http.StatusGone:
		return nil, s.transportErr("poll", entities.ErrChannelClosed)
	default:
		return nil, s.transportErr("poll", fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, s.transportErr("poll", err)
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, nil
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, &entities.ProtocolDecodeError{Raw: body, Err: err}
	}

	msgs := make([]entities.Message, 0, len(raw))
	for _, r := range raw {
		msg, err := entities.DecodeMessage(r)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}

	if cursor, err := strconv.ParseUint(resp.Header.Get(entities.PollCursorHeader), 10, 64); err == nil {
		s.mu.Lock()
		s.cursor = cursor
		s.mu.Unlock()
	}
	return msgs, nil
}

// Close ends the session on the server
func (s *pollingStream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, s.url, nil)
	if err != nil {
		return err
	}
	// Best effort: the server reaps sessions that stop polling anyway
	if resp, err := s.client.Do(req); err == nil {
		_ = resp.Body.Close()
	}
	return nil
}

func (s *pollingStream) transportErr(op string, err error) error {
	return &entities.TransportError{
		Transport: entities.TransportFallback,
		Op:        op,
		Err:       err,
	}
}

var _ ports.ClientDialer = (*PollingDialer)(nil)
