package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kalambet/kvs/internal/config"
	"github.com/kalambet/kvs/internal/kvs"
	"github.com/kalambet/kvs/internal/theme"
)

// execute runs the CLI against a file store rooted at baseDir and returns
// what it wrote to stdout. Saved settings live in a per-test directory.
func execute(t *testing.T, baseDir string, args ...string) (string, error) {
	t.Helper()
	if os.Getenv("KVS_CONFIG_HOME") == "" {
		t.Setenv("KVS_CONFIG_HOME", t.TempDir())
	}
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(append([]string{"--backend", "file", "--base-dir", baseDir}, args...))
	err := root.Execute()
	return out.String(), err
}

func TestSetGet(t *testing.T) {
	dir := t.TempDir()

	_, err := execute(t, dir, "set", "window", `{"w":800,"h":600}`)
	require.NoError(t, err)

	out, err := execute(t, dir, "get", "window")
	require.NoError(t, err)
	assert.Equal(t, "{\n  \"w\": 800,\n  \"h\": 600\n}\n", out)
}

func TestSet_RejectsInvalidJSON(t *testing.T) {
	dir := t.TempDir()

	_, err := execute(t, dir, "set", "theme-name", "dark")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--string")

	_, err = execute(t, dir, "set", "theme-name", "dark", "--string")
	require.NoError(t, err)

	got, ok := kvs.GetAs[string](kvs.NewFileStore(dir), "theme-name")
	require.True(t, ok)
	assert.Equal(t, "dark", got)
}

func TestGet_Missing(t *testing.T) {
	_, err := execute(t, t.TempDir(), "get", "nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"nope" not found`)
}

func TestListAndDel(t *testing.T) {
	dir := t.TempDir()
	for _, k := range []string{"b", "a", "c"} {
		_, err := execute(t, dir, "set", k, "1")
		require.NoError(t, err)
	}

	out, err := execute(t, dir, "list")
	require.NoError(t, err)
	assert.Equal(t, "a\nb\nc\n", out)

	_, err = execute(t, dir, "del", "b")
	require.NoError(t, err)

	out, err = execute(t, dir, "list")
	require.NoError(t, err)
	assert.Equal(t, "a\nc\n", out)
}

func TestPath(t *testing.T) {
	dir := t.TempDir()

	out, err := execute(t, dir, "path")
	require.NoError(t, err)

	want := filepath.Join(dir, ".local", kvs.DefaultNamespace, "kvs.json")
	assert.Equal(t, want+"\n", out)

	data, err := os.ReadFile(want)
	require.NoError(t, err)
	assert.Equal(t, "{}", string(data))
}

func TestPath_NonFileBackend(t *testing.T) {
	root := newRootCmd()
	root.SetOut(io.Discard)
	root.SetErr(io.Discard)
	root.SetArgs([]string{"--backend", "memory", "path"})

	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "file backend")
}

func TestUnknownBackend(t *testing.T) {
	root := newRootCmd()
	root.SetOut(io.Discard)
	root.SetErr(io.Discard)
	root.SetArgs([]string{"--backend", "floppy", "list"})

	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.backend")
}

func TestExport(t *testing.T) {
	dir := t.TempDir()
	_, err := execute(t, dir, "set", "theme-name", `"dark"`)
	require.NoError(t, err)
	_, err = execute(t, dir, "set", "size", `{"w":800}`)
	require.NoError(t, err)

	out, err := execute(t, dir, "export")
	require.NoError(t, err)
	assert.JSONEq(t, `{"theme-name":"dark","size":{"w":800}}`, out)

	out, err = execute(t, dir, "export", "--format", "yaml")
	require.NoError(t, err)
	assert.Equal(t, "size:\n    w: 800\ntheme-name: dark\n", out)

	file := filepath.Join(t.TempDir(), "dump.json")
	_, err = execute(t, dir, "export", "--output", file)
	require.NoError(t, err)
	data, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.JSONEq(t, `{"theme-name":"dark","size":{"w":800}}`, string(data))

	_, err = execute(t, dir, "export", "--format", "xml")
	assert.Error(t, err)
}

func TestThemeCommands(t *testing.T) {
	dir := t.TempDir()

	out, err := execute(t, dir, "theme", "show")
	require.NoError(t, err)
	assert.Equal(t, "dark\n", out)

	_, err = execute(t, dir, "theme", "set", "LIGHT")
	require.NoError(t, err)

	out, err = execute(t, dir, "theme", "show")
	require.NoError(t, err)
	assert.Equal(t, "light\n", out)

	out, err = execute(t, dir, "theme", "toggle")
	require.NoError(t, err)
	assert.Equal(t, "dark\n", out)

	_, err = execute(t, dir, "theme", "set", "sepia")
	assert.Error(t, err)
}

func TestConfigShow(t *testing.T) {
	old := noColor
	noColor = true
	t.Cleanup(func() { noColor = old })

	out, err := execute(t, t.TempDir(), "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "store.backend = file")
	assert.Contains(t, out, "KVS_SERVER_PORT")

	out, err = execute(t, t.TempDir(), "config", "get", "store.backend")
	require.NoError(t, err)
	assert.Equal(t, "file\n", out)
}

func TestConfigSet(t *testing.T) {
	t.Setenv("KVS_SERVER_PORT", "")
	dir := t.TempDir()

	_, err := execute(t, dir, "config", "set", "server.port", "4200")
	require.NoError(t, err)

	out, err := execute(t, dir, "config", "get", "server.port")
	require.NoError(t, err)
	assert.Equal(t, "4200\n", out)

	_, err = execute(t, dir, "config", "set", "server.token", "tok")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "KVS_SERVER_TOKEN")

	// Saved settings are separate from the value store.
	out, err = execute(t, dir, "list")
	require.NoError(t, err)
	assert.Empty(t, out)
}

// syncBuffer is a bytes.Buffer safe for one writer and one reader goroutine.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestWatchTheme(t *testing.T) {
	dir := t.TempDir()
	store, err := kvs.OpenFileStore(dir)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	var out syncBuffer
	done := make(chan error, 1)
	go func() { done <- watchTheme(ctx, store, &out) }()

	require.Eventually(t, func() bool { return out.String() == "dark\n" }, 2*time.Second, 10*time.Millisecond)

	other := kvs.NewFileStore(dir)
	require.NoError(t, theme.Load(other).Set(theme.Light))

	assert.Eventually(t, func() bool { return out.String() == "dark\nlight\n" }, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watchTheme did not return after cancel")
	}
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func TestRunServer(t *testing.T) {
	port := freePort(t)
	cfg := config.Config{
		Store:  config.StoreConfig{Backend: kvs.BackendMemory},
		Server: config.ServerConfig{Port: port, MaxConns: 4, Token: "test-token"},
	}
	store := kvs.NewMemoryStore()
	require.NoError(t, kvs.Set(store, "k", "v"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runServer(ctx, cfg, store, false) }()

	base := fmt.Sprintf("http://127.0.0.1:%d", port)
	require.Eventually(t, func() bool {
		resp, err := http.Get(base + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	remote := kvs.NewRemoteStore(base, "test-token")
	got, ok := kvs.GetAs[string](remote, "k")
	require.True(t, ok)
	assert.Equal(t, "v", got)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * shutdownTimeout):
		t.Fatal("server did not shut down")
	}
}

func TestNoColorFlag(t *testing.T) {
	old := noColor
	defer func() { noColor = old }()

	noColor = true
	result := colorize(colorGreen, "test message")
	assert.NotContains(t, result, "\033[")
	assert.Equal(t, "test message", result)

	noColor = false
	result = colorize(colorGreen, "test message")
	assert.True(t, strings.HasPrefix(result, "\033["))
}

func TestWriteJSONValue_FallsBackToRaw(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeJSONValue(&buf, []byte("not json")))
	assert.Equal(t, "not json\n", buf.String())
}
