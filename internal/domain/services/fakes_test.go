package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/fredcamaral/devsync/internal/domain/entities"
	"github.com/fredcamaral/devsync/internal/domain/ports"
)

var channelSeq atomic.Uint64

// fakeChannel records sent messages. It can fail or block on Send.
type fakeChannel struct {
	id        string
	transport string

	mu        sync.Mutex
	sent      []entities.Message
	failAfter int // fail once this many messages were sent; <0 never
	block     chan struct{}
	closed    bool
	onMessage func([]byte)
	onClose   func(error)
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{
		id:        fmt.Sprintf("fake-%d", channelSeq.Add(1)),
		transport: entities.TransportNative,
		failAfter: -1,
	}
}

func (c *fakeChannel) ID() string        { return c.id }
func (c *fakeChannel) Transport() string { return c.transport }

func (c *fakeChannel) Send(ctx context.Context, msg entities.Message) error {
	c.mu.Lock()
	block := c.block
	c.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return &entities.TransportError{ConnID: c.id, Transport: c.transport, Op: "send", Err: errors.Join(entities.ErrBufferFull, ctx.Err())}
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return &entities.TransportError{ConnID: c.id, Transport: c.transport, Op: "send", Err: entities.ErrChannelClosed}
	}
	if c.failAfter >= 0 && len(c.sent) >= c.failAfter {
		return &entities.TransportError{ConnID: c.id, Transport: c.transport, Op: "send", Err: errors.New("broken pipe")}
	}
	c.sent = append(c.sent, msg)
	return nil
}

func (c *fakeChannel) OnMessage(handler func([]byte)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onMessage = handler
}

func (c *fakeChannel) OnClose(handler func(error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onClose = handler
}

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	handler := c.onClose
	c.mu.Unlock()

	if handler != nil {
		handler(entities.ErrChannelClosed)
	}
	return nil
}

// receive simulates an inbound payload from the peer
func (c *fakeChannel) receive(raw string) {
	c.mu.Lock()
	handler := c.onMessage
	c.mu.Unlock()
	if handler != nil {
		handler([]byte(raw))
	}
}

// drop simulates the peer going away
func (c *fakeChannel) drop() {
	_ = c.Close()
}

func (c *fakeChannel) types() []entities.MessageType {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]entities.MessageType, len(c.sent))
	for i, msg := range c.sent {
		out[i] = msg.Type
	}
	return out
}

func (c *fakeChannel) messages() []entities.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]entities.Message(nil), c.sent...)
}

func (c *fakeChannel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

var _ ports.Channel = (*fakeChannel)(nil)

// recordingPublisher captures what the bridge publishes
type recordingPublisher struct {
	mu       sync.Mutex
	batches  [][]entities.Message
	retained []entities.Message
	// gate, when set, holds every Publish until it is closed; entered is
	// signalled as a Publish starts waiting
	gate    chan struct{}
	entered chan struct{}
}

func newGatedPublisher() *recordingPublisher {
	return &recordingPublisher{
		gate:    make(chan struct{}),
		entered: make(chan struct{}, 1),
	}
}

func (p *recordingPublisher) Publish(retain bool, msgs ...entities.Message) int {
	if p.gate != nil {
		select {
		case p.entered <- struct{}{}:
		default:
		}
		<-p.gate
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.batches = append(p.batches, append([]entities.Message(nil), msgs...))
	if retain {
		p.retained = append([]entities.Message(nil), msgs...)
	}
	return 1
}

func (p *recordingPublisher) types() []entities.MessageType {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []entities.MessageType
	for _, batch := range p.batches {
		for _, msg := range batch {
			out = append(out, msg.Type)
		}
	}
	return out
}

// fakePipeline hands the test the listener the server subscribed
type fakePipeline struct {
	mu           sync.Mutex
	listener     ports.BuildListener
	err          error
	unsubscribed bool
}

func (p *fakePipeline) Subscribe(ctx context.Context, listener ports.BuildListener) (func(), error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	p.listener = listener
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		p.unsubscribed = true
	}, nil
}

func (p *fakePipeline) Listener() ports.BuildListener {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.listener
}

// fakeWatcher emits whatever the test pushes
type fakeWatcher struct {
	events  chan ports.FileChangeEvent
	mu      sync.Mutex
	paths   []string
	stopped bool
}

func newFakeWatcher() *fakeWatcher {
	return &fakeWatcher{events: make(chan ports.FileChangeEvent, 16)}
}

func (w *fakeWatcher) Watch(ctx context.Context, paths ...string) (<-chan ports.FileChangeEvent, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.paths = paths
	return w.events, nil
}

func (w *fakeWatcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopped = true
	return nil
}

// recordingConsole keeps every printed line
type recordingConsole struct {
	mu    sync.Mutex
	lines []consoleLine
}

type consoleLine struct {
	category entities.Category
	text     string
}

func (c *recordingConsole) Print(category entities.Category, line string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines = append(c.lines, consoleLine{category: category, text: line})
}

func (c *recordingConsole) texts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.lines))
	for i, l := range c.lines {
		out[i] = l.text
	}
	return out
}

func (c *recordingConsole) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines = nil
}

// recordingPage counts reloads and hot updates
type recordingPage struct {
	mu        sync.Mutex
	reloads   int
	hot       []string
	rejectHot bool
}

func (p *recordingPage) HotUpdate(ctx context.Context, hash string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.hot = append(p.hot, hash)
	if p.rejectHot {
		return entities.ErrHotUpdateRejected
	}
	return nil
}

func (p *recordingPage) Reload() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reloads++
}

func (p *recordingPage) Reloads() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reloads
}

// scriptedDialer serves one scripted stream per Dial
type scriptedDialer struct {
	mu      sync.Mutex
	streams []*scriptedStream
	dials   int
}

func (d *scriptedDialer) Dial(ctx context.Context) (ports.ClientStream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if len(d.streams) == 0 {
		return nil, errors.New("connection refused")
	}
	s := d.streams[0]
	d.streams = d.streams[1:]
	return s, nil
}

func (d *scriptedDialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

// scriptedStream yields msgs and then err
type scriptedStream struct {
	msgs []entities.Message
	err  error
}

func (s *scriptedStream) Receive(ctx context.Context) (entities.Message, error) {
	if len(s.msgs) == 0 {
		if s.err != nil {
			return entities.Message{}, s.err
		}
		<-ctx.Done()
		return entities.Message{}, ctx.Err()
	}
	msg := s.msgs[0]
	s.msgs = s.msgs[1:]
	return msg, nil
}

func (s *scriptedStream) Close() error { return nil }
