package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	httpadapter "github.com/fredcamaral/devsync/internal/adapters/primary/http"
	"github.com/fredcamaral/devsync/internal/adapters/secondary/browser"
	"github.com/fredcamaral/devsync/internal/adapters/secondary/config"
	"github.com/fredcamaral/devsync/internal/adapters/secondary/monitoring"
	"github.com/fredcamaral/devsync/internal/adapters/secondary/pipeline"
	"github.com/fredcamaral/devsync/internal/adapters/secondary/watcher"
	"github.com/fredcamaral/devsync/internal/domain/entities"
	"github.com/fredcamaral/devsync/internal/domain/ports"
	"github.com/fredcamaral/devsync/internal/domain/services"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve [dir]",
	Short: "Start the development server",
	Long: `Start the development server in dir (default: current directory).

The server serves the static directories, runs the build command whenever a
watched source changes and pushes the result to every connected client.

Example:
  devsync serve
  devsync serve ./web --port 3000 --build "npm run build" --watch src
  devsync serve --transport fallback --no-hot`,
	Args: validateServeArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	// Defaults come from config; only flags the user changed are applied
	serveCmd.Flags().IntP("port", "p", 0, "Port to serve on (overrides config)")
	serveCmd.Flags().String("host", "", "Host to bind to (overrides config)")
	serveCmd.Flags().Bool("hot", true, "Enable hot module replacement")
	serveCmd.Flags().Bool("no-hot", false, "Disable hot module replacement")
	serveCmd.Flags().Bool("live-reload", true, "Enable live reloading")
	serveCmd.Flags().Bool("no-live-reload", false, "Disable live reloading")
	serveCmd.Flags().String("transport", "", "Client transport: native or fallback")
	serveCmd.Flags().String("client-logging", "", "Client console level: none, error, warn, info, log, verbose")
	serveCmd.Flags().StringSlice("static", nil, "Static directories to serve and watch")
	serveCmd.Flags().StringP("build", "b", "", "Build command run on every source change")
	serveCmd.Flags().StringSliceP("watch", "w", nil, "Source paths that trigger a build")
	serveCmd.Flags().Bool("polling", false, "Poll the filesystem instead of using OS notifications")
	serveCmd.Flags().BoolP("open", "o", false, "Open the browser once the server is up")
	serveCmd.Flags().String("log-level", "", "Server log level: debug, info, warn, error")
	serveCmd.Flags().Bool("log-json", false, "Log in JSON format")
}

// validateServeArgs validates serve command arguments without starting server
func validateServeArgs(cmd *cobra.Command, args []string) error {
	if len(args) > 1 {
		return fmt.Errorf("accepts at most 1 arg(s), received %d", len(args))
	}
	if len(args) == 1 {
		info, err := os.Stat(args[0])
		if err != nil {
			return fmt.Errorf("accessing project directory: %w", err)
		}
		if !info.IsDir() {
			return fmt.Errorf("not a directory: %s", args[0])
		}
	}
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	dir := "."
	if len(args) == 1 {
		dir = args[0]
	}
	dir, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("resolving project directory: %w", err)
	}

	cfg, err := loadServeConfig(ctx, cmd, dir)
	if err != nil {
		return err
	}

	verbose, _ := cmd.Flags().GetBool("verbose")
	logger := newLogger(cmd.ErrOrStderr(), cfg.Logging, verbose)
	slog.SetDefault(logger)

	app, err := newServeApp(cfg, dir, logger)
	if err != nil {
		return err
	}
	return app.run(ctx)
}

// loadServeConfig loads configuration with flags > env > local file > defaults
func loadServeConfig(ctx context.Context, cmd *cobra.Command, dir string) (*entities.Config, error) {
	configService := services.NewConfigService(config.NewFileLoader(), config.NewConfigMerger())

	explicit, _ := cmd.Flags().GetString("config")
	cfg, err := configService.LoadConfig(ctx, dir, explicit, collectServeFlags(cmd))
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}
	return cfg, nil
}

// collectServeFlags returns only the flags the user set, keyed the way the
// config merger expects them
func collectServeFlags(cmd *cobra.Command) map[string]interface{} {
	flags := make(map[string]interface{})
	fs := cmd.Flags()

	if fs.Changed("port") {
		v, _ := fs.GetInt("port")
		flags["port"] = v
	}
	for _, name := range []string{"host", "transport", "client-logging", "build", "log-level"} {
		if fs.Changed(name) {
			v, _ := fs.GetString(name)
			flags[name] = v
		}
	}
	for _, name := range []string{"static", "watch"} {
		if fs.Changed(name) {
			v, _ := fs.GetStringSlice(name)
			flags[name] = v
		}
	}
	for _, name := range []string{"hot", "live-reload", "polling", "open", "log-json"} {
		if fs.Changed(name) {
			v, _ := fs.GetBool(name)
			flags[name] = v
		}
	}
	if fs.Changed("no-hot") {
		v, _ := fs.GetBool("no-hot")
		flags["hot"] = !v
	}
	if fs.Changed("no-live-reload") {
		v, _ := fs.GetBool("no-live-reload")
		flags["live-reload"] = !v
	}
	return flags
}

// newLogger builds the process logger from the [logging] section
func newLogger(w io.Writer, cfg entities.LoggingConfig, verbose bool) *slog.Logger {
	var level slog.Level
	switch cfg.GetLevel() {
	case entities.LogLevelDebug:
		level = slog.LevelDebug
	case entities.LogLevelWarn:
		level = slog.LevelWarn
	case entities.LogLevelError:
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	if verbose {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.JSONFormat {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// serveApp holds the wired server components
type serveApp struct {
	config   *entities.Config
	logger   *slog.Logger
	dev      *services.DevServer
	http     *httpadapter.Server
	launcher ports.BrowserLauncher
}

// newServeApp wires watchers, the build pipeline, the dev server and the
// HTTP server. Relative paths are resolved against dir.
func newServeApp(cfg *entities.Config, dir string, logger *slog.Logger) (*serveApp, error) {
	cfg.Static.Paths = existingPaths(dir, cfg.Static.Paths, logger)
	if len(cfg.Static.Paths) == 0 {
		cfg.Static.Watch = false
	}

	buildPaths := existingPaths(dir, cfg.Build.Watch, logger)
	if len(buildPaths) == 0 {
		return nil, fmt.Errorf("none of the build watch paths exist in %s: %v", dir, cfg.Build.Watch)
	}

	metrics := monitoring.NewPrometheusMetrics()

	buildPipeline := pipeline.NewExecPipeline(newWatcher(cfg.Watcher, logger), pipeline.Options{
		Command:      cfg.Build.Command,
		Dir:          dir,
		Paths:        buildPaths,
		Debounce:     cfg.Build.GetDebounce(),
		InitialBuild: cfg.Build.Command != "",
		Logger:       logger,
	})

	var staticWatcher ports.FileWatcher
	if cfg.Static.Watch {
		staticWatcher = newWatcher(cfg.Watcher, logger)
	}

	dev, err := services.NewDevServer(cfg, buildPipeline, staticWatcher,
		services.WithLogger(logger),
		services.WithMetrics(metrics),
	)
	if err != nil {
		return nil, err
	}

	server := httpadapter.NewServer(cfg, dev,
		httpadapter.WithLogger(logger),
		httpadapter.WithRoute("/metrics", metrics.Handler()),
		httpadapter.WithRoute("/__devsync/reload", reloadHandler(dev)),
	)

	return &serveApp{
		config:   cfg,
		logger:   logger,
		dev:      dev,
		http:     server,
		launcher: browser.NewLauncher(logger),
	}, nil
}

// run starts everything and blocks until ctx is cancelled
func (a *serveApp) run(ctx context.Context) error {
	if err := a.dev.Start(ctx); err != nil {
		return fmt.Errorf("starting dev server: %w", err)
	}

	if err := a.http.Start(ctx); err != nil {
		_ = a.dev.Stop(context.Background())
		return fmt.Errorf("starting HTTP server: %w", err)
	}

	url := serverURL(a.http.Addr())
	a.logger.Info("Server running", slog.String("url", url))

	if err := a.launcher.Launch(url, !a.config.Browser.AutoOpen); err != nil {
		a.logger.Warn("Failed to open browser", slog.String("error", err.Error()))
	}

	<-ctx.Done()
	a.logger.Info("Shutting down server...")
	return a.shutdown()
}

// shutdown stops the dev server first so no message is sent on a closing
// transport, then the HTTP server
func (a *serveApp) shutdown() error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.config.Server.GetShutdownTimeout())
	defer cancel()

	var errs []error
	if err := a.dev.Stop(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	if err := a.http.Stop(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// reloadHandler lets editors and scripts force a reload of every client
func reloadHandler(dev *services.DevServer) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		n := dev.ForceReload()
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = io.WriteString(w, strconv.Itoa(n)+"\n")
	})
}

// newWatcher picks the watcher implementation; each consumer needs its own
func newWatcher(cfg entities.WatcherConfig, logger *slog.Logger) ports.FileWatcher {
	if cfg.Polling {
		return watcher.NewPollingWatcher(cfg.GetInterval(), cfg.GetDebounce(), logger)
	}
	return watcher.NewNotifyWatcher(cfg.GetDebounce(), logger)
}

// existingPaths resolves paths against dir and drops the ones that are missing
func existingPaths(dir string, paths []string, logger *slog.Logger) []string {
	var out []string
	for _, p := range paths {
		if !filepath.IsAbs(p) {
			p = filepath.Join(dir, p)
		}
		if _, err := os.Stat(p); err != nil {
			logger.Debug("Skipping missing path", slog.String("path", p))
			continue
		}
		out = append(out, p)
	}
	return out
}

// serverURL turns a listen address into a URL a browser can open
func serverURL(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "http://" + addr
	}
	if ip := net.ParseIP(host); host == "" || (ip != nil && ip.IsUnspecified()) {
		host = "localhost"
	}
	return "http://" + net.JoinHostPort(host, port)
}

