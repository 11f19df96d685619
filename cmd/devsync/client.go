package main

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fredcamaral/devsync/internal/adapters/secondary/client"
	"github.com/fredcamaral/devsync/internal/adapters/secondary/console"
	"github.com/fredcamaral/devsync/internal/domain/entities"
	"github.com/fredcamaral/devsync/internal/domain/ports"
	"github.com/fredcamaral/devsync/internal/domain/services"
)

// clientCmd connects a headless client to a running server
var clientCmd = &cobra.Command{
	Use:   "client <url>",
	Short: "Connect a terminal client to a running dev server",
	Long: `Connect to a dev server and print what a browser page would log.

Hot updates and reloads are recorded instead of applied, which makes the
command useful for checking a build setup without a browser.

Example:
  devsync client http://localhost:8080
  devsync client http://localhost:8080 --transport fallback --logging verbose`,
	Args: cobra.ExactArgs(1),
	RunE: runClient,
}

func init() {
	rootCmd.AddCommand(clientCmd)

	clientCmd.Flags().String("transport", entities.TransportNative, "Transport: native or fallback")
	clientCmd.Flags().String("path", "/ws", "Path the transport is mounted at")
	clientCmd.Flags().String("logging", "", "Console level, overrides the server's: none, error, warn, info, log, verbose")
	clientCmd.Flags().Int("reconnect", 10, "Reconnect attempts before a handshake announces the limit (0 never, -1 unlimited)")
	clientCmd.Flags().Bool("reject-hot", false, "Fail every hot update as if the module graph rejected it")
	clientCmd.Flags().Bool("no-color", false, "Disable colored output")
}

func runClient(cmd *cobra.Command, args []string) error {
	transport, _ := cmd.Flags().GetString("transport")
	path, _ := cmd.Flags().GetString("path")

	dialer, err := newDialer(args[0], transport, path)
	if err != nil {
		return err
	}

	opts := services.ClientOptions{}
	if name, _ := cmd.Flags().GetString("logging"); name != "" {
		level, err := entities.ParseVerbosity(name)
		if err != nil {
			return err
		}
		opts.Logging = level
	}
	if cmd.Flags().Changed("reconnect") {
		n, _ := cmd.Flags().GetInt("reconnect")
		opts.Reconnect = &n
	}

	verbose, _ := cmd.Flags().GetBool("verbose")
	logger := newLogger(cmd.ErrOrStderr(), entities.LoggingConfig{Level: string(entities.LogLevelWarn)}, verbose)

	noColor, _ := cmd.Flags().GetBool("no-color")
	rejectHot, _ := cmd.Flags().GetBool("reject-hot")
	opts.Logger = logger

	runtime := services.NewClientRuntime(
		dialer,
		console.NewPrinter(cmd.OutOrStdout(), noColor),
		console.NewHeadlessPage(rejectHot, logger),
		opts,
	)

	err = runtime.Run(cmd.Context())
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// newDialer derives the transport endpoint from the server URL
func newDialer(raw, transport, path string) (ports.ClientDialer, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parsing server URL: %w", err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("server URL %q has no host", raw)
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + path

	switch transport {
	case entities.TransportNative, "":
		switch u.Scheme {
		case "http", "ws":
			u.Scheme = "ws"
		case "https", "wss":
			u.Scheme = "wss"
		default:
			return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
		}
		return client.NewWebSocketDialer(u.String()), nil
	case entities.TransportFallback:
		switch u.Scheme {
		case "http", "ws":
			u.Scheme = "http"
		case "https", "wss":
			u.Scheme = "https"
		default:
			return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
		}
		return client.NewPollingDialer(u.String(), nil), nil
	default:
		return nil, fmt.Errorf("unknown transport %q: must be %s or %s", transport, entities.TransportNative, entities.TransportFallback)
	}
}
