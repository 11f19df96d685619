package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/fredcamaral/devsync/internal/domain/entities"
)

// GetDefaultConfig returns the default configuration with environment overrides
func GetDefaultConfig() *entities.Config {
	reconnect := getEnvIntOrDefault("DEVSYNC_CLIENT_RECONNECT", 10)

	config := &entities.Config{
		Server: entities.ServerConfig{
			Host:            getEnvOrDefault("DEVSYNC_HOST", "localhost"),
			Port:            getEnvIntOrDefault("DEVSYNC_PORT", 8080),
			ShutdownTimeout: getEnvIntOrDefault("DEVSYNC_SHUTDOWN_TIMEOUT", 5),
			CORSOrigins: getEnvSliceOrDefault("DEVSYNC_CORS_ORIGINS", []string{
				"http://localhost:8080",
				"http://127.0.0.1:8080",
			}),
		},
		Client: entities.ClientConfig{
			Logging:   getEnvOrDefault("DEVSYNC_CLIENT_LOGGING", string(entities.DefaultVerbosity)),
			Reconnect: &reconnect,
		},
		Hot:             getEnvBoolOrDefault("DEVSYNC_HOT", true),
		LiveReload:      getEnvBoolOrDefault("DEVSYNC_LIVE_RELOAD", true),
		WebSocketServer: getEnvOrDefault("DEVSYNC_WEB_SOCKET_SERVER", entities.TransportNative),
		Static: entities.StaticConfig{
			Paths:      []string{"public"},
			Watch:      true,
			PublicPath: "/",
		},
		Transport: entities.TransportConfig{
			Path:          "/ws",
			SendTimeoutMs: 5000,
			PollTimeoutMs: 30000,
			PollWaitMs:    20000,
			BufferSize:    64,
		},
		Watcher: entities.WatcherConfig{
			IntervalMs: 200,
			DebounceMs: 50,
			Polling:    getEnvBoolOrDefault("DEVSYNC_WATCH_POLLING", false),
		},
		Build: entities.BuildConfig{
			Command:    getEnvOrDefault("DEVSYNC_BUILD_COMMAND", ""),
			Watch:      []string{"src"},
			DebounceMs: 100,
		},
		Browser: entities.BrowserConfig{
			AutoOpen: false,
		},
		Logging: entities.LoggingConfig{
			Level:      getEnvOrDefault("DEVSYNC_LOG_LEVEL", "info"),
			JSONFormat: getEnvBoolOrDefault("DEVSYNC_LOG_JSON", false),
		},
	}

	return config
}

// getEnvOrDefault returns environment variable value or default
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvIntOrDefault returns environment variable as int or default
func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvBoolOrDefault returns environment variable as bool or default
func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getEnvSliceOrDefault returns a comma separated environment variable as a
// slice or default
func getEnvSliceOrDefault(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		if result := splitList(value); len(result) > 0 {
			return result
		}
	}
	return defaultValue
}

func splitList(value string) []string {
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
