package browser

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os/exec"
	"runtime"

	"github.com/fredcamaral/devsync/internal/domain/ports"
)

// Launcher implements the BrowserLauncher interface
type Launcher struct {
	browsers []Browser
	logger   *slog.Logger
	lookPath func(string) (string, error)
	start    func(name string, args ...string) error
}

// Browser represents a browser configuration
type Browser struct {
	Name    string
	Command string
	Args    func(url string) []string
}

// NewLauncher creates a new browser launcher
func NewLauncher(logger *slog.Logger) *Launcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Launcher{
		browsers: detectBrowsers(),
		logger:   logger.With("component", "browser"),
		lookPath: exec.LookPath,
		start:    startDetached,
	}
}

// Launch opens the dev server URL in a browser
func (l *Launcher) Launch(target string, noOpen bool) error {
	if noOpen {
		return nil
	}

	u, err := url.Parse(target)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("refusing to open %q: not an http(s) URL", target)
	}

	browser, err := l.selectBrowser()
	if err != nil {
		return fmt.Errorf("browser selection: %w", err)
	}

	if err := l.start(browser.Command, browser.Args(u.String())...); err != nil {
		return fmt.Errorf("launching browser: %w", err)
	}

	l.logger.Info("Opened browser",
		slog.String("browser", browser.Name),
		slog.String("url", u.String()),
	)
	return nil
}

// Detect detects available browsers
func (l *Launcher) Detect() (string, error) {
	browser, err := l.selectBrowser()
	if err != nil {
		return "", err
	}
	return browser.Name, nil
}

// selectBrowser returns the first browser whose executable is in PATH
func (l *Launcher) selectBrowser() (*Browser, error) {
	if len(l.browsers) == 0 {
		return nil, errors.New("no browsers available")
	}

	for _, candidate := range l.browsers {
		if _, err := l.lookPath(candidate.Command); err == nil {
			candidate := candidate
			return &candidate, nil
		}
	}

	return nil, errors.New("no supported browsers found on this system")
}

// startDetached starts a command without waiting for it
func startDetached(name string, args ...string) error {
	cmd := exec.Command(name, args...) // #nosec G204 - command comes from the fixed browser table
	if err := cmd.Start(); err != nil {
		return err
	}
	go func() {
		_ = cmd.Wait()
	}()
	return nil
}

func urlArg(url string) []string {
	return []string{url}
}

// detectBrowsers lists the browser commands for the platform
func detectBrowsers() []Browser {
	switch runtime.GOOS {
	case "darwin":
		return []Browser{
			{Name: "Default", Command: "open", Args: urlArg},
		}
	case "linux", "freebsd", "openbsd":
		return []Browser{
			{Name: "xdg-open", Command: "xdg-open", Args: urlArg},
			{Name: "Chrome", Command: "google-chrome", Args: urlArg},
			{Name: "Chromium", Command: "chromium", Args: urlArg},
			{Name: "Firefox", Command: "firefox", Args: urlArg},
		}
	case "windows":
		return []Browser{
			{
				Name:    "Default",
				Command: "rundll32",
				Args: func(url string) []string {
					return []string{"url.dll,FileProtocolHandler", url}
				},
			},
		}
	default:
		return []Browser{}
	}
}

// Ensure Launcher implements ports.BrowserLauncher
var _ ports.BrowserLauncher = (*Launcher)(nil)
