package config

import (
	"os"
	"strconv"

	"github.com/fredcamaral/devsync/internal/domain/entities"
	"github.com/fredcamaral/devsync/internal/domain/ports"
)

// ConfigMerger implements the ConfigMerger interface
type ConfigMerger struct{}

// NewConfigMerger creates a new configuration merger
func NewConfigMerger() *ConfigMerger {
	return &ConfigMerger{}
}

// Merge merges multiple configurations with later configs taking precedence
func (m *ConfigMerger) Merge(configs ...*entities.Config) *entities.Config {
	if len(configs) == 0 {
		return GetDefaultConfig()
	}

	result := deepCopy(configs[0])
	if result == nil {
		result = GetDefaultConfig()
	}

	for i := 1; i < len(configs); i++ {
		if configs[i] != nil {
			m.mergeInto(result, configs[i])
		}
	}

	return result
}

// ApplyFlags applies CLI flag overrides to a configuration. Only flags
// present in the map are applied.
func (m *ConfigMerger) ApplyFlags(config *entities.Config, flags map[string]interface{}) *entities.Config {
	result := deepCopy(config)

	if port, ok := flags["port"].(int); ok && port > 0 {
		result.Server.Port = port
	}

	if host, ok := flags["host"].(string); ok && host != "" {
		result.Server.Host = host
	}

	if hot, ok := flags["hot"].(bool); ok {
		result.Hot = hot
	}

	if liveReload, ok := flags["live-reload"].(bool); ok {
		result.LiveReload = liveReload
	}

	if transport, ok := flags["transport"].(string); ok && transport != "" {
		result.WebSocketServer = transport
	}

	if logging, ok := flags["client-logging"].(string); ok && logging != "" {
		result.Client.Logging = logging
	}

	if static, ok := flags["static"].([]string); ok && len(static) > 0 {
		result.Static.Paths = append([]string(nil), static...)
	}

	if command, ok := flags["build"].(string); ok && command != "" {
		result.Build.Command = command
	}

	if watch, ok := flags["watch"].([]string); ok && len(watch) > 0 {
		result.Build.Watch = append([]string(nil), watch...)
	}

	if polling, ok := flags["polling"].(bool); ok {
		result.Watcher.Polling = polling
	}

	if open, ok := flags["open"].(bool); ok {
		result.Browser.AutoOpen = open
	}

	if level, ok := flags["log-level"].(string); ok && level != "" {
		result.Logging.Level = level
	}

	if jsonFormat, ok := flags["log-json"].(bool); ok {
		result.Logging.JSONFormat = jsonFormat
	}

	return result
}

// ApplyEnvVars applies environment variable overrides to a configuration
func (m *ConfigMerger) ApplyEnvVars(config *entities.Config) *entities.Config {
	result := deepCopy(config)

	// Server configuration from environment
	if host := os.Getenv("DEVSYNC_HOST"); host != "" {
		result.Server.Host = host
	}

	if portStr := os.Getenv("DEVSYNC_PORT"); portStr != "" {
		if port, err := strconv.Atoi(portStr); err == nil && port > 0 {
			result.Server.Port = port
		}
	}

	if origins := os.Getenv("DEVSYNC_CORS_ORIGINS"); origins != "" {
		if list := splitList(origins); len(list) > 0 {
			result.Server.CORSOrigins = list
		}
	}

	// Update strategy and transport
	if hotStr := os.Getenv("DEVSYNC_HOT"); hotStr != "" {
		if hot, err := strconv.ParseBool(hotStr); err == nil {
			result.Hot = hot
		}
	}

	if liveStr := os.Getenv("DEVSYNC_LIVE_RELOAD"); liveStr != "" {
		if live, err := strconv.ParseBool(liveStr); err == nil {
			result.LiveReload = live
		}
	}

	if transport := os.Getenv("DEVSYNC_WEB_SOCKET_SERVER"); transport != "" {
		result.WebSocketServer = transport
	}

	// Client configuration
	if logging := os.Getenv("DEVSYNC_CLIENT_LOGGING"); logging != "" {
		result.Client.Logging = logging
	}

	if reconnectStr := os.Getenv("DEVSYNC_CLIENT_RECONNECT"); reconnectStr != "" {
		if reconnect, err := strconv.Atoi(reconnectStr); err == nil {
			result.Client.Reconnect = &reconnect
		}
	}

	// Watcher configuration
	if intervalStr := os.Getenv("DEVSYNC_WATCH_INTERVAL"); intervalStr != "" {
		if interval, err := strconv.Atoi(intervalStr); err == nil && interval > 0 {
			result.Watcher.IntervalMs = interval
		}
	}

	if debounceStr := os.Getenv("DEVSYNC_WATCH_DEBOUNCE"); debounceStr != "" {
		if debounce, err := strconv.Atoi(debounceStr); err == nil && debounce >= 0 {
			result.Watcher.DebounceMs = debounce
		}
	}

	if pollingStr := os.Getenv("DEVSYNC_WATCH_POLLING"); pollingStr != "" {
		if polling, err := strconv.ParseBool(pollingStr); err == nil {
			result.Watcher.Polling = polling
		}
	}

	// Build and logging
	if command := os.Getenv("DEVSYNC_BUILD_COMMAND"); command != "" {
		result.Build.Command = command
	}

	if level := os.Getenv("DEVSYNC_LOG_LEVEL"); level != "" {
		result.Logging.Level = level
	}

	if jsonStr := os.Getenv("DEVSYNC_LOG_JSON"); jsonStr != "" {
		if jsonFormat, err := strconv.ParseBool(jsonStr); err == nil {
			result.Logging.JSONFormat = jsonFormat
		}
	}

	if noBrowserStr := os.Getenv("DEVSYNC_NO_BROWSER"); noBrowserStr != "" {
		if noBrowser, err := strconv.ParseBool(noBrowserStr); err == nil {
			result.Browser.AutoOpen = !noBrowser
		}
	}

	return result
}

// mergeInto merges source configuration into target configuration. Sources
// come from the loader, which decodes on top of the defaults, so boolean
// fields are always taken from the source.
func (m *ConfigMerger) mergeInto(target, source *entities.Config) {
	// Server config
	if source.Server.Port != 0 {
		target.Server.Port = source.Server.Port
	}
	if source.Server.Host != "" {
		target.Server.Host = source.Server.Host
	}
	if source.Server.ShutdownTimeout != 0 {
		target.Server.ShutdownTimeout = source.Server.ShutdownTimeout
	}
	if len(source.Server.CORSOrigins) > 0 {
		target.Server.CORSOrigins = copyStrings(source.Server.CORSOrigins)
	}

	// Client config
	if source.Client.Logging != "" {
		target.Client.Logging = source.Client.Logging
	}
	if source.Client.Reconnect != nil {
		reconnect := *source.Client.Reconnect
		target.Client.Reconnect = &reconnect
	}

	target.Hot = source.Hot
	target.LiveReload = source.LiveReload
	if source.WebSocketServer != "" {
		target.WebSocketServer = source.WebSocketServer
	}

	// Static config
	if source.Static.Paths != nil {
		target.Static.Paths = copyStrings(source.Static.Paths)
	}
	target.Static.Watch = source.Static.Watch
	if source.Static.PublicPath != "" {
		target.Static.PublicPath = source.Static.PublicPath
	}

	// Transport config
	if source.Transport.Path != "" {
		target.Transport.Path = source.Transport.Path
	}
	if source.Transport.SendTimeoutMs != 0 {
		target.Transport.SendTimeoutMs = source.Transport.SendTimeoutMs
	}
	if source.Transport.PollTimeoutMs != 0 {
		target.Transport.PollTimeoutMs = source.Transport.PollTimeoutMs
	}
	if source.Transport.PollWaitMs != 0 {
		target.Transport.PollWaitMs = source.Transport.PollWaitMs
	}
	if source.Transport.BufferSize != 0 {
		target.Transport.BufferSize = source.Transport.BufferSize
	}

	// Watcher config
	if source.Watcher.IntervalMs != 0 {
		target.Watcher.IntervalMs = source.Watcher.IntervalMs
	}
	if source.Watcher.DebounceMs != 0 {
		target.Watcher.DebounceMs = source.Watcher.DebounceMs
	}
	target.Watcher.Polling = source.Watcher.Polling

	// Build config
	if source.Build.Command != "" {
		target.Build.Command = source.Build.Command
	}
	if source.Build.Watch != nil {
		target.Build.Watch = copyStrings(source.Build.Watch)
	}
	if source.Build.DebounceMs != 0 {
		target.Build.DebounceMs = source.Build.DebounceMs
	}

	target.Browser.AutoOpen = source.Browser.AutoOpen

	// Logging config
	if source.Logging.Level != "" {
		target.Logging.Level = source.Logging.Level
	}
	target.Logging.JSONFormat = source.Logging.JSONFormat
}

// deepCopy creates a deep copy of a configuration
func deepCopy(src *entities.Config) *entities.Config {
	if src == nil {
		return nil
	}

	dst := *src
	dst.Server.CORSOrigins = copyStrings(src.Server.CORSOrigins)
	dst.Static.Paths = copyStrings(src.Static.Paths)
	dst.Build.Watch = copyStrings(src.Build.Watch)
	if src.Client.Reconnect != nil {
		reconnect := *src.Client.Reconnect
		dst.Client.Reconnect = &reconnect
	}

	return &dst
}

func copyStrings(src []string) []string {
	if src == nil {
		return nil
	}
	dst := make([]string, len(src))
	copy(dst, src)
	return dst
}

// Ensure ConfigMerger implements ports.ConfigMerger
var _ ports.ConfigMerger = (*ConfigMerger)(nil)
