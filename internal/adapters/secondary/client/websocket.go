package client

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/fredcamaral/devsync/internal/domain/entities"
	"github.com/fredcamaral/devsync/internal/domain/ports"
)

// WebSocketDialer connects to the native transport
type WebSocketDialer struct {
	url    string
	header http.Header
	dialer *websocket.Dialer
}

// NewWebSocketDialer creates a dialer for a ws:// or wss:// URL
func NewWebSocketDialer(url string) *WebSocketDialer {
	return &WebSocketDialer{
		url:    url,
		header: http.Header{},
		dialer: websocket.DefaultDialer,
	}
}

// Dial opens a stream
func (d *WebSocketDialer) Dial(ctx context.Context) (ports.ClientStream, error) {
	conn, resp, err := d.dialer.DialContext(ctx, d.url, d.header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", d.url, err)
	}
	conn.SetReadLimit(1 << 20)
	return &webSocketStream{conn: conn}, nil
}

type webSocketStream struct {
	conn      *websocket.Conn
	closeOnce sync.Once
}

// Receive reads and decodes the next message. The read is abandoned when
// ctx is done by closing the connection.
func (s *webSocketStream) Receive(ctx context.Context) (entities.Message, error) {
	stop := context.AfterFunc(ctx, func() { _ = s.Close() })
	defer stop()

	_, data, err := s.conn.ReadMessage()
	if err != nil {
		if ctx.Err() != nil {
			return entities.Message{}, ctx.Err()
		}
		return entities.Message{}, &entities.TransportError{
			Transport: entities.TransportNative,
			Op:        "receive",
			Err:       err,
		}
	}
	return entities.DecodeMessage(data)
}

// Close closes the connection
func (s *webSocketStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		_ = s.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		err = s.conn.Close()
	})
	return err
}

var _ ports.ClientDialer = (*WebSocketDialer)(nil)
