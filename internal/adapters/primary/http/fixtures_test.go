package http

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fredcamaral/devsync/internal/domain/entities"
	"github.com/fredcamaral/devsync/internal/domain/ports"
	"github.com/fredcamaral/devsync/internal/domain/services"
	"github.com/fredcamaral/devsync/internal/test/builders"
)

const eventually = 2 * time.Second

func testConfig(t *testing.T) *entities.Config {
	t.Helper()
	cfg := builders.NewConfigBuilder().
		WithCORSOrigins("https://app.example.com", "*.example.dev").
		WithStatic(false, t.TempDir()).
		Build()
	require.NoError(t, cfg.Validate())
	return cfg
}

// recordingAcceptor accepts every channel unless err is set
type recordingAcceptor struct {
	mu       sync.Mutex
	channels []ports.Channel
	err      error
	onAccept func(ports.Channel)
}

func (a *recordingAcceptor) Accept(ch ports.Channel) (*entities.ClientConnection, error) {
	if a.onAccept != nil {
		a.onAccept(ch)
	}
	if a.err != nil {
		return nil, a.err
	}
	a.mu.Lock()
	a.channels = append(a.channels, ch)
	a.mu.Unlock()

	conn := entities.NewClientConnection(ch.ID(), ch.Transport(), time.Now())
	conn.MarkReady()
	return conn, nil
}

func (a *recordingAcceptor) accepted() []ports.Channel {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]ports.Channel(nil), a.channels...)
}

// waitFor blocks until n channels were accepted and returns the last one
func (a *recordingAcceptor) waitFor(t *testing.T, n int) ports.Channel {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(a.accepted()) >= n
	}, eventually, 5*time.Millisecond)
	channels := a.accepted()
	return channels[n-1]
}

// registryAcceptor hands channels straight to a registry
type registryAcceptor struct {
	*services.Registry
}

func (a registryAcceptor) Accept(ch ports.Channel) (*entities.ClientConnection, error) {
	return a.Register(ch)
}
