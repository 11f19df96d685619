package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/fredcamaral/devsync/internal/domain/entities"
	"github.com/fredcamaral/devsync/internal/domain/ports"
)

// ClientState is the state of a client runtime
type ClientState int

const (
	ClientIdle ClientState = iota
	ClientAwaitingHash
	ClientBuilding
	ClientReconnecting
)

// String returns the string representation of ClientState
func (s ClientState) String() string {
	switch s {
	case ClientIdle:
		return "idle"
	case ClientAwaitingHash:
		return "awaiting-hash"
	case ClientBuilding:
		return "building"
	case ClientReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

const (
	logPrefix = "[devsync] "
	hmrPrefix = "[HMR] "
)

var errServerClosed = errors.New("server closed the connection")

// ClientOptions configures a ClientRuntime
type ClientOptions struct {
	// Logging overrides the level announced by the server when set
	Logging entities.Verbosity
	// Reconnect is the attempt limit used until a handshake announces one:
	// 0 never, -1 unlimited, nil for the default
	Reconnect      *int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Logger         *slog.Logger
}

// ClientRuntime reacts to server messages: it filters console output by
// verbosity and turns build results into hot updates, reloads or log lines.
// It holds no server state beyond the last handshake.
type ClientRuntime struct {
	dialer  ports.ClientDialer
	console ports.Console
	page    ports.Page
	opts    ClientOptions
	logger  *slog.Logger

	mu          sync.Mutex
	state       ClientState
	level       entities.Verbosity
	strategy    entities.UpdateStrategy
	reconnect   int
	handshaken  bool
	pendingHash string
	currentHash string
	lastAction  entities.Action
}

// NewClientRuntime creates a runtime. dialer may be nil when messages are fed
// through Handle directly.
func NewClientRuntime(dialer ports.ClientDialer, console ports.Console, page ports.Page, opts ClientOptions) *ClientRuntime {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = time.Second
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = 30 * time.Second
	}
	reconnect := entities.ClientConfig{Reconnect: opts.Reconnect}.GetReconnect()

	level := entities.DefaultVerbosity
	if opts.Logging.Valid() {
		level = opts.Logging
	}

	return &ClientRuntime{
		dialer:     dialer,
		console:    console,
		page:       page,
		opts:       opts,
		logger:     opts.Logger.With("service", "client_runtime"),
		state:      ClientIdle,
		level:      level,
		strategy:   entities.UpdateStrategy{LiveReload: true},
		reconnect:  reconnect,
		lastAction: entities.ActionNone,
	}
}

// State returns the current state
func (r *ClientRuntime) State() ClientState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Level returns the effective console verbosity
func (r *ClientRuntime) Level() entities.Verbosity {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.level
}

// Strategy returns the update strategy announced by the server
func (r *ClientRuntime) Strategy() entities.UpdateStrategy {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.strategy
}

// LastAction returns the action taken for the last handled message
func (r *ClientRuntime) LastAction() entities.Action {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastAction
}

// Run connects and handles messages until ctx is done or the reconnect
// limit is exhausted
func (r *ClientRuntime) Run(ctx context.Context) error {
	if r.dialer == nil {
		return errors.New("client runtime has no dialer")
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = r.opts.InitialBackoff
	bo.MaxInterval = r.opts.MaxBackoff
	bo.MaxElapsedTime = 0
	bo.Reset()

	attempts := 0
	for {
		stream, err := r.dialer.Dial(ctx)
		if err == nil {
			r.logger.Debug("Connected to dev server")
			err = r.consume(ctx, stream)
			_ = stream.Close()
			if r.State() != ClientReconnecting {
				bo.Reset()
				attempts = 0
			}
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		r.Disconnected(err)

		limit := r.reconnectLimit()
		if limit >= 0 && attempts >= limit {
			return fmt.Errorf("giving up after %d reconnect attempts: %w", attempts, err)
		}
		attempts++

		wait := bo.NextBackOff()
		r.print(entities.CategoryVerbose, logPrefix+"Trying to reconnect...")
		r.logger.Debug("Reconnecting",
			slog.Int("attempt", attempts),
			slog.Duration("wait", wait),
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

func (r *ClientRuntime) consume(ctx context.Context, stream ports.ClientStream) error {
	for {
		msg, err := stream.Receive(ctx)
		if err != nil {
			return err
		}
		r.Handle(ctx, msg)
		if msg.Type == entities.MessageClose {
			return errServerClosed
		}
	}
}

// Disconnected moves the runtime into Reconnecting. Full reloads are
// suppressed until the next handshake.
func (r *ClientRuntime) Disconnected(cause error) {
	r.mu.Lock()
	wasReconnecting := r.state == ClientReconnecting
	r.state = ClientReconnecting
	r.mu.Unlock()

	if !wasReconnecting {
		r.print(entities.CategoryVerbose, logPrefix+"Disconnected!")
		if cause != nil {
			r.logger.Debug("Disconnected", slog.String("error", cause.Error()))
		}
	}
}

// Handle processes one message and returns the action taken
func (r *ClientRuntime) Handle(ctx context.Context, msg entities.Message) entities.Action {
	action := r.handle(ctx, msg)

	r.mu.Lock()
	r.lastAction = action
	r.mu.Unlock()

	return action
}

func (r *ClientRuntime) handle(ctx context.Context, msg entities.Message) entities.Action {
	switch msg.Type {
	case entities.MessageHandshake:
		r.onHandshake(msg)
		return entities.ActionNone

	case entities.MessageInvalid:
		r.setCycle(ClientAwaitingHash, "")
		r.print(entities.CategoryInfo, logPrefix+"App updated. Recompiling...")
		return entities.ActionNone

	case entities.MessageHash:
		hash, err := msg.Text()
		if err != nil {
			r.logger.Warn("Ignoring malformed hash message", slog.String("error", err.Error()))
			return entities.ActionNone
		}
		r.setCycle(ClientBuilding, hash)
		r.print(entities.CategoryVerbose, logPrefix+"Hash: "+hash)
		return entities.ActionNone

	case entities.MessageStillOK:
		r.finishCycle()
		r.print(entities.CategoryInfo, logPrefix+"Nothing changed.")
		return entities.Decide(r.Strategy(), entities.TriggerBuildNoChanges)

	case entities.MessageOK:
		hash := r.finishCycle()
		return r.apply(ctx, entities.TriggerBuildWithChanges, hash)

	case entities.MessageWarnings:
		hash := r.finishCycle()
		data, err := msg.Warnings()
		if err != nil {
			r.logger.Warn("Ignoring malformed warnings message", slog.String("error", err.Error()))
			return entities.ActionNone
		}
		r.printIssues(entities.CategoryWarning, "Warnings while compiling.", data.Warnings)
		if !data.OK {
			return entities.Decide(r.Strategy(), entities.TriggerBuildNoChanges)
		}
		return r.apply(ctx, entities.TriggerBuildWithChanges, hash)

	case entities.MessageErrors:
		r.finishCycle()
		data, err := msg.Errors()
		if err != nil {
			r.logger.Warn("Ignoring malformed errors message", slog.String("error", err.Error()))
			return entities.ActionNone
		}
		r.printIssues(entities.CategoryError, "Errors while compiling. Reload prevented.", data.Errors)
		r.printIssues(entities.CategoryWarning, "Warnings while compiling.", data.Warnings)
		return entities.ActionNone

	case entities.MessageStaticChanged:
		path, err := msg.Text()
		if err != nil {
			r.logger.Warn("Ignoring malformed static-changed message", slog.String("error", err.Error()))
			return entities.ActionNone
		}
		action := entities.Decide(r.Strategy(), entities.TriggerStaticChanged)
		if action == entities.ActionFullReload {
			r.print(entities.CategoryInfo, fmt.Sprintf("%s%q from static directory was changed. Reloading...", logPrefix, path))
			return r.reload()
		}
		r.print(entities.CategoryInfo, fmt.Sprintf("%s%q from static directory was changed.", logPrefix, path))
		return action

	case entities.MessageContentChanged, entities.MessageLiveReload:
		action := entities.Decide(r.Strategy(), entities.TriggerStaticChanged)
		if action == entities.ActionFullReload {
			r.print(entities.CategoryInfo, logPrefix+"App updated. Reloading...")
			return r.reload()
		}
		r.print(entities.CategoryInfo, logPrefix+"App updated. Reload to apply changes.")
		return action

	case entities.MessageClose:
		r.print(entities.CategoryVerbose, logPrefix+"Disconnected!")
		return entities.ActionNone

	default:
		r.logger.Debug("Ignoring unknown message", slog.String("type", string(msg.Type)))
		return entities.ActionNone
	}
}

func (r *ClientRuntime) onHandshake(msg entities.Message) {
	data, err := msg.Handshake()
	if err != nil {
		r.logger.Warn("Ignoring malformed handshake", slog.String("error", err.Error()))
		return
	}

	r.mu.Lock()
	first := !r.handshaken
	r.handshaken = true
	if !r.opts.Logging.Valid() && data.Logging.Valid() {
		r.level = data.Logging
	}
	r.strategy = data.Strategy()
	r.reconnect = data.Reconnect
	r.state = ClientIdle
	r.pendingHash = ""
	r.mu.Unlock()

	if !first {
		return
	}

	r.print(entities.CategoryInfo, fmt.Sprintf("%sServer started: Hot Module Replacement %s, Live Reloading %s.",
		logPrefix, enabled(data.Hot), enabled(data.LiveReload)))
	if data.Hot {
		r.print(entities.CategoryInfo, hmrPrefix+"Waiting for update signal from dev server")
	}
}

// apply runs the update strategy for a successful build
func (r *ClientRuntime) apply(ctx context.Context, trigger entities.Trigger, hash string) entities.Action {
	strategy := r.Strategy()
	action := entities.Decide(strategy, trigger)

	switch action {
	case entities.ActionHotUpdate:
		r.print(entities.CategoryInfo, hmrPrefix+"Checking for updates on the server...")
		err := r.page.HotUpdate(ctx, hash)
		if err == nil {
			r.print(entities.CategoryInfo, hmrPrefix+"App is up to date.")
			return entities.ActionHotUpdate
		}
		r.logger.Debug("Hot update failed", slog.String("hash", hash), slog.String("error", err.Error()))
		r.print(entities.CategoryWarning, hmrPrefix+"Cannot apply update. Need to do a full reload!")
		if strategy.FallbackToReload() {
			r.print(entities.CategoryInfo, logPrefix+"App updated. Reloading...")
			return r.reload()
		}
		return entities.ActionHotUpdate

	case entities.ActionFullReload:
		r.print(entities.CategoryInfo, logPrefix+"App updated. Reloading...")
		return r.reload()

	case entities.ActionLogOnly:
		r.print(entities.CategoryInfo, logPrefix+"App updated. Reload to apply changes.")
		return entities.ActionLogOnly

	default:
		return action
	}
}

func (r *ClientRuntime) reload() entities.Action {
	if r.State() == ClientReconnecting {
		r.print(entities.CategoryVerbose, logPrefix+"Reload suppressed while reconnecting.")
		return entities.ActionNone
	}
	r.page.Reload()
	return entities.ActionFullReload
}

func (r *ClientRuntime) setCycle(state ClientState, hash string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != ClientReconnecting {
		r.state = state
	}
	r.pendingHash = hash
}

// finishCycle resolves the current cycle and returns its hash
func (r *ClientRuntime) finishCycle() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	hash := r.pendingHash
	if hash != "" {
		r.currentHash = hash
	}
	r.pendingHash = ""
	if r.state != ClientReconnecting {
		r.state = ClientIdle
	}
	return r.currentHash
}

func (r *ClientRuntime) printIssues(category entities.Category, header string, issues []string) {
	if len(issues) == 0 {
		return
	}
	r.print(category, logPrefix+header)
	for _, issue := range issues {
		r.print(category, strings.TrimRight(issue, "\n"))
	}
}

func (r *ClientRuntime) print(category entities.Category, line string) {
	if !entities.ShouldShow(r.Level(), category) {
		return
	}
	r.console.Print(category, line)
}

func (r *ClientRuntime) reconnectLimit() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reconnect
}

func enabled(on bool) string {
	if on {
		return "enabled"
	}
	return "disabled"
}
