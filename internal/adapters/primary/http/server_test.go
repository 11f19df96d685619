package http

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fredcamaral/devsync/internal/domain/entities"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func get(t *testing.T, url string) (int, string, http.Header) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body), resp.Header
}

func TestServerStatic(t *testing.T) {
	cfg := testConfig(t)
	first, second := t.TempDir(), t.TempDir()
	cfg.Static.Paths = []string{first, second}

	writeFile(t, first, "index.html", "<h1>first</h1>")
	writeFile(t, second, "index.html", "<h1>second</h1>")
	writeFile(t, second, "js/app.js", "console.log(1)")

	ts := httptest.NewServer(NewServer(cfg, &recordingAcceptor{}).Handler())
	t.Cleanup(ts.Close)

	t.Run("first root wins", func(t *testing.T) {
		status, body, header := get(t, ts.URL+"/index.html")
		assert.Equal(t, http.StatusOK, status)
		assert.Contains(t, body, "first")
		assert.Equal(t, "no-cache, no-store, must-revalidate", header.Get("Cache-Control"))
	})

	t.Run("falls through to later roots", func(t *testing.T) {
		status, body, _ := get(t, ts.URL+"/js/app.js")
		assert.Equal(t, http.StatusOK, status)
		assert.Equal(t, "console.log(1)", body)
	})

	t.Run("missing file", func(t *testing.T) {
		status, _, _ := get(t, ts.URL+"/nope.css")
		assert.Equal(t, http.StatusNotFound, status)
	})
}

func TestServerPublicPath(t *testing.T) {
	cfg := testConfig(t)
	cfg.Static.PublicPath = "/assets/"
	writeFile(t, cfg.Static.Paths[0], "style.css", "body{}")

	ts := httptest.NewServer(NewServer(cfg, &recordingAcceptor{}).Handler())
	t.Cleanup(ts.Close)

	status, body, _ := get(t, ts.URL+"/assets/style.css")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "body{}", body)

	status, _, _ = get(t, ts.URL+"/style.css")
	assert.Equal(t, http.StatusNotFound, status)
}

func TestResolveStatic(t *testing.T) {
	parent := t.TempDir()
	root := filepath.Join(parent, "public")
	writeFile(t, root, "index.html", "ok")
	writeFile(t, parent, "secret.txt", "nope")

	tests := []struct {
		name string
		path string
		want bool
	}{
		{"file in root", "/index.html", true},
		{"root itself", "/", true},
		{"missing file", "/missing.html", false},
		{"parent traversal", "/../secret.txt", false},
		{"relative traversal", "../../secret.txt", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resolved, ok := resolveStatic(root, tt.path)
			assert.Equal(t, tt.want, ok)
			if ok {
				assert.True(t, strings.HasPrefix(resolved, root))
			}
		})
	}
}

func TestServerRoutes(t *testing.T) {
	t.Run("extra routes", func(t *testing.T) {
		cfg := testConfig(t)
		s := NewServer(cfg, &recordingAcceptor{},
			WithRoute("/metrics", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = io.WriteString(w, "devsync_connections 0\n")
			})),
		)
		ts := httptest.NewServer(s.Handler())
		t.Cleanup(ts.Close)

		status, body, _ := get(t, ts.URL+"/metrics")
		assert.Equal(t, http.StatusOK, status)
		assert.Contains(t, body, "devsync_connections")
	})

	t.Run("native transport is mounted", func(t *testing.T) {
		acceptor := &recordingAcceptor{}
		ts := httptest.NewServer(NewServer(testConfig(t), acceptor).Handler())
		t.Cleanup(ts.Close)

		ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
		require.NoError(t, err)
		t.Cleanup(func() { _ = ws.Close() })

		ch := acceptor.waitFor(t, 1)
		assert.Equal(t, entities.TransportNative, ch.Transport())
	})

	t.Run("fallback transport is mounted", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.WebSocketServer = entities.TransportFallback
		acceptor := &recordingAcceptor{}
		s := NewServer(cfg, acceptor)
		ts := httptest.NewServer(s.Handler())
		t.Cleanup(func() {
			ts.Close()
			_ = s.transport.Close()
		})

		id := openSession(t, ts.URL+"/ws")
		ch := acceptor.waitFor(t, 1)
		assert.Equal(t, id, ch.ID())
		assert.Equal(t, entities.TransportFallback, ch.Transport())
	})

	t.Run("cors preflight", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.WebSocketServer = entities.TransportFallback
		s := NewServer(cfg, &recordingAcceptor{})
		ts := httptest.NewServer(s.Handler())
		t.Cleanup(func() {
			ts.Close()
			_ = s.transport.Close()
		})

		for _, origin := range []string{"https://app.example.com", "https://preview.example.dev"} {
			req, err := http.NewRequest(http.MethodOptions, ts.URL+"/ws/", nil)
			require.NoError(t, err)
			req.Header.Set("Origin", origin)
			req.Header.Set("Access-Control-Request-Method", http.MethodPost)

			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			_ = resp.Body.Close()

			assert.Equal(t, origin, resp.Header.Get("Access-Control-Allow-Origin"))
		}
	})
}

func TestServerLifecycle(t *testing.T) {
	cfg := testConfig(t)
	writeFile(t, cfg.Static.Paths[0], "index.html", "hello")
	s := NewServer(cfg, &recordingAcceptor{})

	ctx := context.Background()
	require.NoError(t, s.Start(ctx))
	assert.True(t, s.IsRunning())
	assert.NotEqual(t, "127.0.0.1:0", s.Addr())

	assert.Error(t, s.Start(ctx), "second start should fail")

	status, body, _ := get(t, "http://"+s.Addr()+"/index.html")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "hello", body)

	require.NoError(t, s.Stop(ctx))
	assert.False(t, s.IsRunning())
	assert.Error(t, s.Stop(ctx), "second stop should fail")
}
