package ports

import (
	"context"

	"github.com/fredcamaral/devsync/internal/domain/entities"
)

// Channel is an ordered bidirectional message pipe to one client. Messages
// passed to Send in order N, N+1 reach the peer in that order. Once the
// channel dies every Send fails with an *entities.TransportError.
type Channel interface {
	// ID identifies the channel for logging and registry bookkeeping
	ID() string
	// Transport names the wire transport ("native" or "fallback")
	Transport() string
	// Send delivers one message, blocking at most until ctx is done
	Send(ctx context.Context, msg entities.Message) error
	// OnMessage sets the handler for raw inbound payloads
	OnMessage(handler func(raw []byte))
	// OnClose sets the handler invoked once when the channel dies
	OnClose(handler func(err error))
	// Close terminates the channel; it is safe to call more than once
	Close() error
}

// ChannelAcceptor takes ownership of freshly accepted channels
type ChannelAcceptor interface {
	Accept(ch Channel) (*entities.ClientConnection, error)
}
