package services

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fredcamaral/devsync/internal/domain/entities"
	"github.com/fredcamaral/devsync/internal/domain/ports"
)

// Publisher is the part of the registry the bridge needs
type Publisher interface {
	Publish(retain bool, msgs ...entities.Message) int
}

type bridgeEventKind int

const (
	eventInvalidated bridgeEventKind = iota
	eventDone
	eventStatic
)

type bridgeEvent struct {
	kind  bridgeEventKind
	seq   uint64
	stats entities.BuildStats
	path  string
}

// Bridge turns build pipeline and static watch events into protocol messages.
//
// A single goroutine owns the build cycle state. Events are drained in
// batches: a done that is followed by an invalidated in the same batch is
// superseded before anything is published for it. Only the terminal status of
// the latest cycle ever reaches clients, and at most once.
type Bridge struct {
	publisher Publisher
	metrics   ports.Metrics
	logger    *slog.Logger

	seq    atomic.Uint64
	events chan bridgeEvent
	done   chan struct{}

	startOnce sync.Once
	stopOnce  sync.Once
	wg        sync.WaitGroup

	// owned by the loop goroutine
	current entities.BuildCycle

	snapMu   sync.RWMutex
	snapshot entities.BuildCycle
}

// NewBridge creates a bridge publishing to p. queueSize bounds how many
// events may wait while a broadcast is blocked; producers block beyond it.
func NewBridge(p Publisher, queueSize int, metrics ports.Metrics, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	if queueSize <= 0 {
		queueSize = 64
	}

	return &Bridge{
		publisher: p,
		metrics:   metrics,
		logger:    logger.With("service", "bridge"),
		events:    make(chan bridgeEvent, queueSize),
		done:      make(chan struct{}),
	}
}

// Start launches the event loop
func (b *Bridge) Start() {
	b.startOnce.Do(func() {
		b.wg.Add(1)
		go b.run()
	})
}

// Stop halts the loop and waits for it. Nothing is published after Stop
// returns, and pending producers are released.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		close(b.done)
	})
	b.wg.Wait()
}

// OnInvalidated starts a new build cycle and returns its number
func (b *Bridge) OnInvalidated() uint64 {
	seq := b.seq.Add(1)
	b.enqueue(bridgeEvent{kind: eventInvalidated, seq: seq})
	return seq
}

// OnDone reports the result of the cycle named in stats.Cycle
func (b *Bridge) OnDone(stats entities.BuildStats) {
	b.enqueue(bridgeEvent{kind: eventDone, seq: stats.Cycle, stats: stats})
}

// OnStaticChanged reports a changed file under a static root
func (b *Bridge) OnStaticChanged(path string) {
	b.enqueue(bridgeEvent{kind: eventStatic, path: path})
}

// Current returns a snapshot of the latest build cycle
func (b *Bridge) Current() entities.BuildCycle {
	b.snapMu.RLock()
	defer b.snapMu.RUnlock()
	return b.snapshot
}

// enqueue blocks while the queue is full, which is how a slow broadcast
// pushes back on the build pipeline
func (b *Bridge) enqueue(ev bridgeEvent) {
	select {
	case b.events <- ev:
	case <-b.done:
	}
}

func (b *Bridge) run() {
	defer b.wg.Done()

	for {
		select {
		case <-b.done:
			return
		case ev := <-b.events:
			batch := []bridgeEvent{ev}
		drain:
			for {
				select {
				case next := <-b.events:
					batch = append(batch, next)
				default:
					break drain
				}
			}
			b.process(batch)
		}
	}
}

func (b *Bridge) stopped() bool {
	select {
	case <-b.done:
		return true
	default:
		return false
	}
}

func (b *Bridge) process(batch []bridgeEvent) {
	var latest uint64
	for _, ev := range batch {
		if ev.kind == eventInvalidated && ev.seq > latest {
			latest = ev.seq
		}
	}
	seenStatic := make(map[string]struct{})

	for _, ev := range batch {
		if b.stopped() {
			return
		}

		switch ev.kind {
		case eventInvalidated:
			b.invalidate(ev.seq)
		case eventDone:
			if latest > ev.seq {
				b.logger.Debug("Dropping superseded build result",
					slog.Uint64("cycle", ev.seq),
					slog.Uint64("latest", latest),
				)
				continue
			}
			b.resolve(ev.stats)
		case eventStatic:
			if _, dup := seenStatic[ev.path]; dup {
				continue
			}
			seenStatic[ev.path] = struct{}{}
			b.publisher.Publish(false, entities.NewStaticChangedMessage(ev.path))
		}
	}

	b.snapMu.Lock()
	b.snapshot = b.current
	b.snapMu.Unlock()
}

func (b *Bridge) invalidate(seq uint64) {
	// Producers number cycles before enqueueing, so a slower caller can
	// arrive after a newer cycle has started. Its cycle is already over.
	if seq <= b.current.Seq {
		b.metrics.CycleSuperseded()
		b.logger.Debug("Dropping out-of-order invalidation",
			slog.Uint64("cycle", seq),
			slog.Uint64("current", b.current.Seq),
		)
		return
	}

	if b.current.Seq != 0 && !b.current.Resolved {
		b.current.Superseded = true
		b.metrics.CycleSuperseded()
		b.logger.Debug("Build cycle superseded", slog.Uint64("cycle", b.current.Seq))
	}

	b.current = entities.BuildCycle{Seq: seq, StartedAt: time.Now()}
	b.metrics.CycleStarted()
	b.publisher.Publish(false, entities.NewInvalidMessage())
}

func (b *Bridge) resolve(stats entities.BuildStats) {
	if stats.Cycle != b.current.Seq {
		b.logger.Debug("Dropping result of stale cycle",
			slog.Uint64("cycle", stats.Cycle),
			slog.Uint64("current", b.current.Seq),
		)
		return
	}
	if b.current.Resolved {
		b.logger.Debug("Dropping duplicate build result", slog.Uint64("cycle", stats.Cycle))
		return
	}

	msgs := stats.Messages()
	terminal := msgs[len(msgs)-1].Type

	b.current.Resolved = true
	b.current.Terminal = terminal
	b.metrics.CycleResolved(terminal)

	if stats.Failure != nil {
		b.logger.Error("Build pipeline failed",
			slog.Uint64("cycle", stats.Cycle),
			slog.String("error", stats.Failure.Error()),
		)
	} else {
		b.logger.Info("Build finished",
			slog.Uint64("cycle", stats.Cycle),
			slog.String("hash", stats.Hash),
			slog.String("status", string(terminal)),
			slog.Int("errors", len(stats.Errors)),
			slog.Int("warnings", len(stats.Warnings)),
			slog.Int("changed", len(stats.ChangedModules)),
		)
	}

	b.publisher.Publish(true, msgs...)
}
