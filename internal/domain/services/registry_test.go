package services

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/fredcamaral/devsync/internal/domain/entities"
)

// MockMetrics is a mock implementation of ports.Metrics
type MockMetrics struct {
	mock.Mock
}

func (m *MockMetrics) ConnectionOpened(transport string) { m.Called(transport) }
func (m *MockMetrics) ConnectionClosed(transport string) { m.Called(transport) }
func (m *MockMetrics) MessageDelivered(transport string, msgType entities.MessageType) {
	m.Called(transport, msgType)
}
func (m *MockMetrics) DeliveryFailed(transport string)   { m.Called(transport) }
func (m *MockMetrics) BroadcastDuration(d time.Duration) { m.Called(d) }
func (m *MockMetrics) CycleStarted()                     { m.Called() }
func (m *MockMetrics) CycleSuperseded()                  { m.Called() }
func (m *MockMetrics) CycleResolved(terminal entities.MessageType) {
	m.Called(terminal)
}

func newTestRegistry() *Registry {
	return NewRegistry(RegistryOptions{
		Handshake:   entities.HandshakeData{Logging: entities.VerbosityInfo, Hot: true, LiveReload: true, Reconnect: 10},
		SendTimeout: 50 * time.Millisecond,
	})
}

func TestRegistry_Register(t *testing.T) {
	t.Run("handshake is the first message", func(t *testing.T) {
		r := newTestRegistry()
		ch := newFakeChannel()

		conn, err := r.Register(ch)
		require.NoError(t, err)
		assert.True(t, conn.Ready())
		assert.Equal(t, 1, r.Size())

		msgs := ch.messages()
		require.Len(t, msgs, 1)
		h, err := msgs[0].Handshake()
		require.NoError(t, err)
		assert.Equal(t, entities.HandshakeData{Logging: entities.VerbosityInfo, Hot: true, LiveReload: true, Reconnect: 10}, h)
	})

	t.Run("late joiner gets the retained status", func(t *testing.T) {
		r := newTestRegistry()
		r.Publish(true, entities.NewHashMessage("h1"), entities.NewOKMessage())
		r.Publish(false, entities.NewInvalidMessage())

		ch := newFakeChannel()
		_, err := r.Register(ch)
		require.NoError(t, err)
		assert.Equal(t, []entities.MessageType{entities.MessageHandshake, entities.MessageHash, entities.MessageOK}, ch.types())
	})

	t.Run("failed handshake leaves nothing registered", func(t *testing.T) {
		r := newTestRegistry()
		ch := newFakeChannel()
		ch.failAfter = 0

		_, err := r.Register(ch)
		require.Error(t, err)
		var transportErr *entities.TransportError
		assert.True(t, errors.As(err, &transportErr))
		assert.Equal(t, 0, r.Size())
		assert.True(t, ch.isClosed())
	})

	t.Run("duplicate id", func(t *testing.T) {
		r := newTestRegistry()
		first := newFakeChannel()
		_, err := r.Register(first)
		require.NoError(t, err)

		dup := newFakeChannel()
		dup.id = first.id
		_, err = r.Register(dup)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "duplicate connection id")
		assert.Equal(t, 1, r.Size())
		assert.False(t, first.isClosed())
	})

	t.Run("after close", func(t *testing.T) {
		r := newTestRegistry()
		r.Close()

		ch := newFakeChannel()
		_, err := r.Register(ch)
		assert.ErrorIs(t, err, entities.ErrServerStopped)
		assert.True(t, ch.isClosed())
	})
}

func TestRegistry_Broadcast(t *testing.T) {
	t.Run("preserves order on every connection", func(t *testing.T) {
		r := newTestRegistry()
		channels := []*fakeChannel{newFakeChannel(), newFakeChannel(), newFakeChannel()}
		for _, ch := range channels {
			_, err := r.Register(ch)
			require.NoError(t, err)
		}

		n := r.Broadcast(entities.NewInvalidMessage())
		assert.Equal(t, 3, n)
		r.Broadcast(entities.NewHashMessage("h"), entities.NewOKMessage())

		want := []entities.MessageType{
			entities.MessageHandshake,
			entities.MessageInvalid,
			entities.MessageHash,
			entities.MessageOK,
		}
		for _, ch := range channels {
			assert.Equal(t, want, ch.types())
		}
	})

	t.Run("no connections", func(t *testing.T) {
		r := newTestRegistry()
		assert.Equal(t, 0, r.Broadcast(entities.NewOKMessage()))
	})

	t.Run("failed connection is isolated", func(t *testing.T) {
		r := newTestRegistry()
		good := newFakeChannel()
		bad := newFakeChannel()
		bad.failAfter = 1

		_, err := r.Register(good)
		require.NoError(t, err)
		badConn, err := r.Register(bad)
		require.NoError(t, err)

		n := r.Broadcast(entities.NewInvalidMessage())
		assert.Equal(t, 1, n)
		assert.Equal(t, 1, r.Size())
		assert.True(t, bad.isClosed())
		assert.Equal(t, entities.ConnectionClosed, badConn.State())

		r.Broadcast(entities.NewStillOKMessage())
		assert.Equal(t, []entities.MessageType{
			entities.MessageHandshake,
			entities.MessageInvalid,
			entities.MessageStillOK,
		}, good.types())
	})

	t.Run("slow connection times out without stalling others", func(t *testing.T) {
		r := newTestRegistry()
		fast := newFakeChannel()
		slow := newFakeChannel()
		_, err := r.Register(fast)
		require.NoError(t, err)
		_, err = r.Register(slow)
		require.NoError(t, err)

		slow.mu.Lock()
		slow.block = make(chan struct{})
		slow.mu.Unlock()

		start := time.Now()
		n := r.Broadcast(entities.NewInvalidMessage())
		assert.Equal(t, 1, n)
		assert.Less(t, time.Since(start), time.Second)
		assert.Equal(t, 1, r.Size())
		assert.True(t, slow.isClosed())
		assert.Equal(t, []entities.MessageType{entities.MessageHandshake, entities.MessageInvalid}, fast.types())
	})

	t.Run("concurrent broadcasts keep per-connection order consistent", func(t *testing.T) {
		r := newTestRegistry()
		a, b := newFakeChannel(), newFakeChannel()
		_, err := r.Register(a)
		require.NoError(t, err)
		_, err = r.Register(b)
		require.NoError(t, err)

		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				r.Broadcast(entities.NewHashMessage(string(rune('a' + i))))
			}(i)
		}
		wg.Wait()

		assert.Equal(t, a.messages(), b.messages())
		assert.Len(t, a.messages(), 21)
	})
}

func TestRegistry_Unregister(t *testing.T) {
	t.Run("idempotent", func(t *testing.T) {
		r := newTestRegistry()
		ch := newFakeChannel()
		conn, err := r.Register(ch)
		require.NoError(t, err)

		r.Unregister(conn)
		r.Unregister(conn)
		r.Unregister(nil)

		assert.Equal(t, 0, r.Size())
		assert.True(t, ch.isClosed())
		_, ok := r.Lookup(conn.ID)
		assert.False(t, ok)
	})

	t.Run("peer disconnect removes the connection", func(t *testing.T) {
		r := newTestRegistry()
		ch := newFakeChannel()
		conn, err := r.Register(ch)
		require.NoError(t, err)

		ch.drop()
		assert.Equal(t, 0, r.Size())
		assert.Equal(t, entities.ConnectionClosed, conn.State())
		assert.Equal(t, 0, r.Broadcast(entities.NewOKMessage()))
	})
}

func TestRegistry_Close(t *testing.T) {
	r := newTestRegistry()
	a, b := newFakeChannel(), newFakeChannel()
	_, err := r.Register(a)
	require.NoError(t, err)
	_, err = r.Register(b)
	require.NoError(t, err)

	r.Close()
	r.Close()

	assert.Equal(t, 0, r.Size())
	for _, ch := range []*fakeChannel{a, b} {
		assert.True(t, ch.isClosed())
		assert.Equal(t, []entities.MessageType{entities.MessageHandshake, entities.MessageClose}, ch.types())
	}
	assert.Equal(t, 0, r.Broadcast(entities.NewOKMessage()))
}

func TestRegistry_Metrics(t *testing.T) {
	metrics := new(MockMetrics)
	metrics.On("ConnectionOpened", entities.TransportNative).Once()
	metrics.On("MessageDelivered", entities.TransportNative, entities.MessageHandshake).Once()
	metrics.On("MessageDelivered", entities.TransportNative, entities.MessageOK).Once()
	metrics.On("BroadcastDuration", mock.AnythingOfType("time.Duration")).Once()
	metrics.On("ConnectionClosed", entities.TransportNative).Once()

	r := NewRegistry(RegistryOptions{Metrics: metrics})
	ch := newFakeChannel()
	conn, err := r.Register(ch)
	require.NoError(t, err)

	r.Broadcast(entities.NewOKMessage())
	r.Unregister(conn)

	metrics.AssertExpectations(t)
}
