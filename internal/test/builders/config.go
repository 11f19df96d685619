package builders

import (
	"github.com/fredcamaral/devsync/internal/domain/entities"
)

// ConfigBuilder helps build valid Config values for testing. Timeouts are
// short so transport tests finish quickly.
type ConfigBuilder struct {
	config entities.Config
}

// NewConfigBuilder creates a config builder with sensible defaults
func NewConfigBuilder() *ConfigBuilder {
	reconnect := 10
	return &ConfigBuilder{
		config: entities.Config{
			Server: entities.ServerConfig{
				Host:            "127.0.0.1",
				Port:            0,
				ShutdownTimeout: 1,
				CORSOrigins:     []string{"http://localhost:8080"},
			},
			Client: entities.ClientConfig{
				Logging:   string(entities.DefaultVerbosity),
				Reconnect: &reconnect,
			},
			Hot:             true,
			LiveReload:      true,
			WebSocketServer: entities.TransportNative,
			Static: entities.StaticConfig{
				PublicPath: "/",
			},
			Transport: entities.TransportConfig{
				Path:          "/ws",
				SendTimeoutMs: 200,
				PollTimeoutMs: 300,
				PollWaitMs:    100,
				BufferSize:    8,
			},
			Watcher: entities.WatcherConfig{
				IntervalMs: 50,
				DebounceMs: 10,
			},
			Build: entities.BuildConfig{
				Watch:      []string{"src"},
				DebounceMs: 10,
			},
			Logging: entities.LoggingConfig{
				Level: string(entities.LogLevelInfo),
			},
		},
	}
}

// WithTransport selects the transport
func (b *ConfigBuilder) WithTransport(name string) *ConfigBuilder {
	b.config.WebSocketServer = name
	return b
}

// WithHot sets hot module replacement
func (b *ConfigBuilder) WithHot(hot bool) *ConfigBuilder {
	b.config.Hot = hot
	return b
}

// WithLiveReload sets live reloading
func (b *ConfigBuilder) WithLiveReload(liveReload bool) *ConfigBuilder {
	b.config.LiveReload = liveReload
	return b
}

// WithClientLogging sets the client verbosity
func (b *ConfigBuilder) WithClientLogging(level entities.Verbosity) *ConfigBuilder {
	b.config.Client.Logging = string(level)
	return b
}

// WithReconnect sets the client reconnect limit
func (b *ConfigBuilder) WithReconnect(limit int) *ConfigBuilder {
	b.config.Client.Reconnect = &limit
	return b
}

// WithStatic sets the static directories and whether they are watched
func (b *ConfigBuilder) WithStatic(watch bool, paths ...string) *ConfigBuilder {
	b.config.Static.Paths = paths
	b.config.Static.Watch = watch
	return b
}

// WithPublicPath sets the URL prefix of static files
func (b *ConfigBuilder) WithPublicPath(prefix string) *ConfigBuilder {
	b.config.Static.PublicPath = prefix
	return b
}

// WithCORSOrigins sets the allowed origins
func (b *ConfigBuilder) WithCORSOrigins(origins ...string) *ConfigBuilder {
	b.config.Server.CORSOrigins = origins
	return b
}

// WithPolling sets the fallback poll wait and idle timeout in milliseconds
func (b *ConfigBuilder) WithPolling(waitMs, timeoutMs int) *ConfigBuilder {
	b.config.Transport.PollWaitMs = waitMs
	b.config.Transport.PollTimeoutMs = timeoutMs
	return b
}

// WithBuild sets the build command and the paths that trigger it
func (b *ConfigBuilder) WithBuild(command string, watch ...string) *ConfigBuilder {
	b.config.Build.Command = command
	b.config.Build.Watch = watch
	return b
}

// Build returns a copy of the config
func (b *ConfigBuilder) Build() *entities.Config {
	cfg := b.config
	reconnect := b.config.Client.GetReconnect()
	cfg.Client.Reconnect = &reconnect
	cfg.Server.CORSOrigins = append([]string(nil), b.config.Server.CORSOrigins...)
	cfg.Static.Paths = append([]string(nil), b.config.Static.Paths...)
	cfg.Build.Watch = append([]string(nil), b.config.Build.Watch...)
	return &cfg
}
