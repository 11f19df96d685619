package entities

import (
	"fmt"
	"net"
	"strings"
	"time"
)

// Transport names accepted by web_socket_server
const (
	TransportNative   = "native"
	TransportFallback = "fallback"
)

// PollCursorHeader carries the sequence number of the last message in a
// fallback poll response. Clients send it back as the ack query parameter.
const PollCursorHeader = "X-Devsync-Cursor"

// Config represents the complete application configuration
type Config struct {
	Server          ServerConfig    `toml:"server" yaml:"server"`
	Client          ClientConfig    `toml:"client" yaml:"client"`
	Hot             bool            `toml:"hot" yaml:"hot"`
	LiveReload      bool            `toml:"live_reload" yaml:"live_reload"`
	WebSocketServer string          `toml:"web_socket_server" yaml:"web_socket_server"`
	Static          StaticConfig    `toml:"static" yaml:"static"`
	Transport       TransportConfig `toml:"transport" yaml:"transport"`
	Watcher         WatcherConfig   `toml:"watcher" yaml:"watcher"`
	Build           BuildConfig     `toml:"build" yaml:"build"`
	Browser         BrowserConfig   `toml:"browser" yaml:"browser"`
	Logging         LoggingConfig   `toml:"logging" yaml:"logging"`
}

// Validate validates the entire configuration. Every failure is a
// ConfigurationError so callers can tell it apart from I/O problems.
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return err
	}

	if err := c.Client.Validate(); err != nil {
		return err
	}

	switch c.WebSocketServer {
	case "", TransportNative, TransportFallback:
	default:
		return &ConfigurationError{
			Field:  "web_socket_server",
			Value:  c.WebSocketServer,
			Reason: "must be native or fallback",
		}
	}

	if err := c.Static.Validate(); err != nil {
		return err
	}

	if err := c.Transport.Validate(); err != nil {
		return err
	}

	if err := c.Watcher.Validate(); err != nil {
		return err
	}

	if err := c.Build.Validate(); err != nil {
		return err
	}

	if err := c.Logging.Validate(); err != nil {
		return err
	}

	return nil
}

// Strategy returns the update strategy of this configuration
func (c *Config) Strategy() UpdateStrategy {
	return UpdateStrategy{Hot: c.Hot, LiveReload: c.LiveReload}
}

// GetWebSocketServer returns the transport name with default
func (c *Config) GetWebSocketServer() string {
	if c.WebSocketServer == "" {
		return TransportNative
	}
	return c.WebSocketServer
}

// Handshake returns the data announced to every new connection
func (c *Config) Handshake() HandshakeData {
	level, err := ParseVerbosity(c.Client.Logging)
	if err != nil {
		level = DefaultVerbosity
	}
	return HandshakeData{
		Logging:    level,
		Hot:        c.Hot,
		LiveReload: c.LiveReload,
		Reconnect:  c.Client.GetReconnect(),
	}
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host            string   `toml:"host" yaml:"host"`
	Port            int      `toml:"port" yaml:"port"`
	ShutdownTimeout int      `toml:"shutdown_timeout" yaml:"shutdown_timeout"`
	CORSOrigins     []string `toml:"cors_origins" yaml:"cors_origins"`
}

// Validate validates server configuration
func (s ServerConfig) Validate() error {
	if s.Port < 0 || s.Port > 65535 {
		return &ConfigurationError{Field: "server.port", Value: s.Port, Reason: "must be between 0 and 65535"}
	}

	if s.Host != "" && strings.ContainsAny(s.Host, " !/") {
		return &ConfigurationError{Field: "server.host", Value: s.Host, Reason: "not a valid host name"}
	}

	if s.ShutdownTimeout < 0 {
		return &ConfigurationError{Field: "server.shutdown_timeout", Value: s.ShutdownTimeout, Reason: "must be non-negative"}
	}

	for _, origin := range s.CORSOrigins {
		if origin == "*" {
			continue
		}
		// *.example.com allows every subdomain on any scheme
		if domain, ok := strings.CutPrefix(origin, "*."); ok {
			if domain == "" || strings.ContainsAny(domain, "*/: ") {
				return &ConfigurationError{
					Field:  "server.cors_origins",
					Value:  origin,
					Reason: "wildcard must be followed by a domain",
				}
			}
			continue
		}
		if !strings.HasPrefix(origin, "http://") && !strings.HasPrefix(origin, "https://") {
			return &ConfigurationError{
				Field:  "server.cors_origins",
				Value:  origin,
				Reason: "must start with http://, https:// or *.",
			}
		}
	}

	return nil
}

// Address returns host:port
func (s ServerConfig) Address() string {
	return net.JoinHostPort(s.Host, fmt.Sprint(s.Port))
}

// GetShutdownTimeout returns the shutdown timeout as a duration
func (s ServerConfig) GetShutdownTimeout() time.Duration {
	if s.ShutdownTimeout <= 0 {
		return 5 * time.Second
	}
	return time.Duration(s.ShutdownTimeout) * time.Second
}

// GetCORSOrigins returns CORS origins with defaults if empty
func (s ServerConfig) GetCORSOrigins() []string {
	if len(s.CORSOrigins) == 0 {
		return []string{
			"http://localhost:8080",
			"http://127.0.0.1:8080",
		}
	}
	return s.CORSOrigins
}

// ClientConfig is announced to clients in the handshake
type ClientConfig struct {
	Logging string `toml:"logging" yaml:"logging"`
	// Reconnect bounds reconnect attempts: 0 never, -1 unlimited.
	Reconnect *int `toml:"reconnect" yaml:"reconnect"`
}

// Validate validates client configuration
func (c ClientConfig) Validate() error {
	if _, err := ParseVerbosity(c.Logging); err != nil {
		return err
	}
	if c.Reconnect != nil && *c.Reconnect < -1 {
		return &ConfigurationError{Field: "client.reconnect", Value: *c.Reconnect, Reason: "must be -1 or greater"}
	}
	return nil
}

// GetReconnect returns the reconnect limit with default (10)
func (c ClientConfig) GetReconnect() int {
	if c.Reconnect == nil {
		return 10
	}
	return *c.Reconnect
}

// StaticConfig contains static directory configuration
type StaticConfig struct {
	Paths      []string `toml:"paths" yaml:"paths"`
	Watch      bool     `toml:"watch" yaml:"watch"`
	PublicPath string   `toml:"public_path" yaml:"public_path"`
}

// Validate validates static configuration
func (s StaticConfig) Validate() error {
	for _, p := range s.Paths {
		if strings.TrimSpace(p) == "" {
			return &ConfigurationError{Field: "static.paths", Reason: "path cannot be empty"}
		}
	}
	if s.PublicPath != "" && !strings.HasPrefix(s.PublicPath, "/") {
		return &ConfigurationError{Field: "static.public_path", Value: s.PublicPath, Reason: "must start with /"}
	}
	return nil
}

// GetPublicPath returns the URL prefix static files are served under
func (s StaticConfig) GetPublicPath() string {
	if s.PublicPath == "" {
		return "/"
	}
	return s.PublicPath
}

// TransportConfig tunes both transports
type TransportConfig struct {
	Path          string `toml:"path" yaml:"path"`
	SendTimeoutMs int    `toml:"send_timeout_ms" yaml:"send_timeout_ms"`
	PollTimeoutMs int    `toml:"poll_timeout_ms" yaml:"poll_timeout_ms"`
	PollWaitMs    int    `toml:"poll_wait_ms" yaml:"poll_wait_ms"`
	BufferSize    int    `toml:"buffer_size" yaml:"buffer_size"`
}

// Validate validates transport configuration
func (t TransportConfig) Validate() error {
	if t.Path != "" && !strings.HasPrefix(t.Path, "/") {
		return &ConfigurationError{Field: "transport.path", Value: t.Path, Reason: "must start with /"}
	}
	if t.SendTimeoutMs < 0 || t.PollTimeoutMs < 0 || t.PollWaitMs < 0 || t.BufferSize < 0 {
		return &ConfigurationError{Field: "transport", Reason: "timeouts and buffer size must be non-negative"}
	}
	if t.GetPollWait() >= t.GetPollTimeout() {
		return &ConfigurationError{
			Field:  "transport.poll_wait_ms",
			Value:  t.PollWaitMs,
			Reason: "must be shorter than poll_timeout_ms",
		}
	}
	return nil
}

// GetPath returns the endpoint clients connect to
func (t TransportConfig) GetPath() string {
	if t.Path == "" {
		return "/ws"
	}
	return t.Path
}

// GetSendTimeout returns the per-connection send timeout
func (t TransportConfig) GetSendTimeout() time.Duration {
	if t.SendTimeoutMs <= 0 {
		return 5 * time.Second
	}
	return time.Duration(t.SendTimeoutMs) * time.Millisecond
}

// GetPollTimeout returns how long a fallback session may go without polling
func (t TransportConfig) GetPollTimeout() time.Duration {
	if t.PollTimeoutMs <= 0 {
		return 30 * time.Second
	}
	return time.Duration(t.PollTimeoutMs) * time.Millisecond
}

// GetPollWait returns how long a poll is held open waiting for messages
func (t TransportConfig) GetPollWait() time.Duration {
	if t.PollWaitMs <= 0 {
		return 20 * time.Second
	}
	return time.Duration(t.PollWaitMs) * time.Millisecond
}

// GetBufferSize returns the fallback outbound buffer bound
func (t TransportConfig) GetBufferSize() int {
	if t.BufferSize <= 0 {
		return 64
	}
	return t.BufferSize
}

// WatcherConfig contains file watcher configuration
type WatcherConfig struct {
	IntervalMs int  `toml:"interval_ms" yaml:"interval_ms"`
	DebounceMs int  `toml:"debounce_ms" yaml:"debounce_ms"`
	Polling    bool `toml:"polling" yaml:"polling"`
}

// Validate validates watcher configuration
func (w WatcherConfig) Validate() error {
	if w.IntervalMs != 0 && w.IntervalMs < 50 {
		return &ConfigurationError{Field: "watcher.interval_ms", Value: w.IntervalMs, Reason: "must be at least 50ms"}
	}

	if w.DebounceMs < 0 {
		return &ConfigurationError{Field: "watcher.debounce_ms", Value: w.DebounceMs, Reason: "must be non-negative"}
	}

	return nil
}

// GetInterval returns the polling interval as a duration
func (w WatcherConfig) GetInterval() time.Duration {
	if w.IntervalMs <= 0 {
		return 200 * time.Millisecond
	}
	return time.Duration(w.IntervalMs) * time.Millisecond
}

// GetDebounce returns the debounce time as a duration
func (w WatcherConfig) GetDebounce() time.Duration {
	if w.DebounceMs <= 0 {
		return 50 * time.Millisecond
	}
	return time.Duration(w.DebounceMs) * time.Millisecond
}

// BuildConfig configures the exec build pipeline used by the CLI
type BuildConfig struct {
	Command    string   `toml:"command" yaml:"command"`
	Watch      []string `toml:"watch" yaml:"watch"`
	DebounceMs int      `toml:"debounce_ms" yaml:"debounce_ms"`
}

// Validate validates build configuration
func (b BuildConfig) Validate() error {
	if b.DebounceMs < 0 {
		return &ConfigurationError{Field: "build.debounce_ms", Value: b.DebounceMs, Reason: "must be non-negative"}
	}
	return nil
}

// GetDebounce returns how long a burst of source changes is collected
func (b BuildConfig) GetDebounce() time.Duration {
	if b.DebounceMs <= 0 {
		return 100 * time.Millisecond
	}
	return time.Duration(b.DebounceMs) * time.Millisecond
}

// BrowserConfig contains browser launch configuration
type BrowserConfig struct {
	AutoOpen bool `toml:"auto_open" yaml:"auto_open"`
}

// LogLevel represents the server-side logging level
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// LoggingConfig contains server-side logging configuration
type LoggingConfig struct {
	Level      string `toml:"level" yaml:"level"`             // debug, info, warn, error
	JSONFormat bool   `toml:"json_format" yaml:"json_format"` // Output logs in JSON format
}

// Validate validates logging configuration
func (l LoggingConfig) Validate() error {
	switch LogLevel(l.Level) {
	case LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError, "":
		return nil
	default:
		return &ConfigurationError{
			Field:  "logging.level",
			Value:  l.Level,
			Reason: "must be debug, info, warn, or error",
		}
	}
}

// GetLevel returns the log level with default
func (l LoggingConfig) GetLevel() LogLevel {
	if l.Level == "" {
		return LogLevelInfo
	}
	return LogLevel(l.Level)
}

// ValidateConfig validates a possibly nil configuration
func ValidateConfig(c *Config) error {
	if c == nil {
		return &ConfigurationError{Field: "config", Reason: "config cannot be nil"}
	}
	return c.Validate()
}
