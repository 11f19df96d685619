package pipeline

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fredcamaral/devsync/internal/domain/entities"
	"github.com/fredcamaral/devsync/internal/domain/ports"
)

// hashLength is the number of hex characters kept from the build digest
const hashLength = 20

// Result is the outcome of running the build command
type Result struct {
	Stdout []byte
	Stderr []byte
	// ExitErr is set when the command ran and exited non-zero
	ExitErr error
}

// Runner runs a build command. An error means the command could not be run
// at all; a failing build is reported through Result.ExitErr.
type Runner func(ctx context.Context, command, dir string) (Result, error)

// ShellRunner runs the command through sh -c
func ShellRunner(ctx context.Context, command, dir string) (Result, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", command) // #nosec G204 - command comes from the project config
	cmd.Dir = dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := Result{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		result.ExitErr = exitErr
		return result, nil
	}
	return result, err
}

// Options configures an ExecPipeline
type Options struct {
	// Command is run on every change; empty means watch-only mode
	Command  string
	Dir      string
	Paths    []string
	Debounce time.Duration
	// InitialBuild runs the command once on subscribe as cycle zero
	InitialBuild bool
	Runner       Runner
	Logger       *slog.Logger
}

// ExecPipeline is a BuildPipeline that runs a shell command whenever a
// watched source file changes. A change during a running build cancels it;
// a cancelled build reports nothing.
type ExecPipeline struct {
	watcher ports.FileWatcher
	opts    Options
	logger  *slog.Logger

	mu         sync.Mutex
	subscribed bool
}

// NewExecPipeline creates a pipeline that watches opts.Paths through watcher
func NewExecPipeline(watcher ports.FileWatcher, opts Options) *ExecPipeline {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Runner == nil {
		opts.Runner = ShellRunner
	}
	if opts.Debounce <= 0 {
		opts.Debounce = 100 * time.Millisecond
	}

	return &ExecPipeline{
		watcher: watcher,
		opts:    opts,
		logger:  opts.Logger.With("component", "exec_pipeline"),
	}
}

// Subscribe starts watching and reports every build to listener. Only one
// listener is supported.
func (p *ExecPipeline) Subscribe(ctx context.Context, listener ports.BuildListener) (func(), error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.subscribed {
		return nil, errors.New("pipeline already has a listener")
	}
	if len(p.opts.Paths) == 0 {
		return nil, errors.New("no source paths to watch")
	}

	loopCtx, cancel := context.WithCancel(ctx)
	events, err := p.watcher.Watch(loopCtx, p.opts.Paths...)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("watching sources: %w", err)
	}
	p.subscribed = true

	done := make(chan struct{})
	go func() {
		defer close(done)
		p.loop(loopCtx, listener, events)
	}()

	p.logger.Info("Watching sources",
		slog.Any("paths", p.opts.Paths),
		slog.String("command", p.opts.Command),
	)

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			cancel()
			if err := p.watcher.Stop(); err != nil {
				p.logger.Warn("Stopping source watcher", slog.String("error", err.Error()))
			}
			<-done
		})
	}
	return unsubscribe, nil
}

type buildResult struct {
	cycle uint64
	stats entities.BuildStats
}

// loop owns the build state: the pending burst, the running build and its
// cancel function
func (p *ExecPipeline) loop(ctx context.Context, listener ports.BuildListener, events <-chan ports.FileChangeEvent) {
	var (
		results     = make(chan buildResult)
		running     sync.WaitGroup
		cancelBuild context.CancelFunc
		current     uint64
		changed     = make(map[string]struct{})
		timer       *time.Timer
		timerC      <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
		if cancelBuild != nil {
			cancelBuild()
		}
		go func() {
			for range results {
			}
		}()
		running.Wait()
		close(results)
	}()

	start := func(cycle uint64, paths []string) {
		buildCtx, cancel := context.WithCancel(ctx)
		cancelBuild = cancel
		running.Add(1)
		go func() {
			defer running.Done()
			stats, ok := p.build(buildCtx, cycle, paths)
			if !ok {
				return
			}
			select {
			case results <- buildResult{cycle: cycle, stats: stats}:
			case <-ctx.Done():
			}
		}()
	}

	if p.opts.InitialBuild && p.opts.Command != "" {
		start(0, append([]string(nil), p.opts.Paths...))
	}

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-events:
			if !ok {
				return
			}
			if timer == nil {
				if cancelBuild != nil {
					cancelBuild()
					cancelBuild = nil
				}
				current = listener.OnInvalidated()
				changed = make(map[string]struct{})
				timer = time.NewTimer(p.opts.Debounce)
				timerC = timer.C
				p.logger.Debug("Sources changed",
					slog.Uint64("cycle", current),
					slog.String("path", event.Path),
				)
			} else {
				timer.Reset(p.opts.Debounce)
			}
			changed[event.Path] = struct{}{}

		case <-timerC:
			timer, timerC = nil, nil
			start(current, sortedKeys(changed))

		case res := <-results:
			if res.cycle != current {
				continue
			}
			listener.OnDone(res.stats)
		}
	}
}

// build runs the command for one cycle. ok is false when the build was
// cancelled by a newer change.
func (p *ExecPipeline) build(ctx context.Context, cycle uint64, changed []string) (entities.BuildStats, bool) {
	started := time.Now()
	stats := entities.BuildStats{
		Cycle:          cycle,
		ChangedModules: changed,
	}

	if p.opts.Command == "" {
		stats.Hash = digest(cycle, nil, changed)
		stats.Duration = time.Since(started)
		return stats, true
	}

	result, err := p.opts.Runner(ctx, p.opts.Command, p.opts.Dir)
	if ctx.Err() != nil {
		p.logger.Debug("Build cancelled", slog.Uint64("cycle", cycle))
		return stats, false
	}

	stats.Duration = time.Since(started)
	output := append(append([]byte(nil), result.Stdout...), result.Stderr...)
	stats.Hash = digest(cycle, output, changed)

	if err != nil {
		stats.Failure = fmt.Errorf("running %q: %w", p.opts.Command, err)
		return stats, true
	}

	stats.Warnings = warningLines(result.Stdout)
	if result.ExitErr != nil {
		stats.Errors = nonEmptyLines(result.Stderr)
		if len(stats.Errors) == 0 {
			stats.Errors = []string{fmt.Sprintf("build command failed: %v", result.ExitErr)}
		}
	} else {
		stats.Warnings = append(stats.Warnings, warningLines(result.Stderr)...)
	}

	return stats, true
}

// digest identifies a build by its cycle, output and changed paths
func digest(cycle uint64, output []byte, changed []string) string {
	h := sha256.New()
	h.Write([]byte(strconv.FormatUint(cycle, 10)))
	h.Write(output)
	for _, path := range changed {
		h.Write([]byte(path))
	}
	return hex.EncodeToString(h.Sum(nil))[:hashLength]
}

func nonEmptyLines(data []byte) []string {
	var lines []string
	for _, line := range strings.Split(string(data), "\n") {
		if line = strings.TrimRight(line, "\r "); strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

func warningLines(data []byte) []string {
	var warnings []string
	for _, line := range nonEmptyLines(data) {
		if strings.Contains(strings.ToLower(line), "warning") {
			warnings = append(warnings, line)
		}
	}
	return warnings
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

var _ ports.BuildPipeline = (*ExecPipeline)(nil)
