package kvs

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStore_NewDoesNotTouchFilesystem(t *testing.T) {
	base := filepath.Join(t.TempDir(), "home")
	s := NewFileStore(base)

	_, err := os.Stat(base)
	assert.True(t, os.IsNotExist(err), "NewFileStore must not create %s", base)
	assert.Equal(t, filepath.Join(base, ".local", DefaultNamespace), s.Dir())
}

func TestFileStore_ResolvePathCreatesEmptyObject(t *testing.T) {
	base := t.TempDir()
	s := NewFileStore(base)

	path, err := s.ResolvePath()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(base, ".local", DefaultNamespace, "kvs.json"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "{}", string(data))

	// A second call keeps existing content.
	require.NoError(t, os.WriteFile(path, []byte(`{"a":1}`), 0o600))
	_, err = s.ResolvePath()
	require.NoError(t, err)
	data, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(data))
}

func TestFileStore_Namespace(t *testing.T) {
	base := t.TempDir()
	s := NewFileStore(base, WithNamespace("other-app"))

	path, err := s.ResolvePath()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(base, ".local", "other-app", "kvs.json"), path)

	// Empty namespace keeps the default.
	s = NewFileStore(base, WithNamespace(""))
	assert.Equal(t, filepath.Join(base, ".local", DefaultNamespace), s.Dir())
}

func TestFileStore_WritesPrettyPrintedJSON(t *testing.T) {
	s := NewFileStore(t.TempDir())
	require.NoError(t, Set(s, "theme-name", "dark"))
	require.NoError(t, Set(s, "size", map[string]int{"w": 800}))

	path, err := s.ResolvePath()
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	assert.True(t, json.Valid(data))
	want := "{\n  \"size\": {\n    \"w\": 800\n  },\n  \"theme-name\": \"dark\"\n}"
	assert.Equal(t, want, string(data))
}

func TestFileStore_RestartSeesPreviousWrites(t *testing.T) {
	base := t.TempDir()

	first, err := OpenFileStore(base)
	require.NoError(t, err)
	require.NoError(t, Set(first, "theme-name", "dark"))

	second, err := OpenFileStore(base)
	require.NoError(t, err)
	theme, ok := GetAs[string](second, "theme-name")
	require.True(t, ok)
	assert.Equal(t, "dark", theme)
}

func TestFileStore_FreshStoreIsEmpty(t *testing.T) {
	s, err := OpenFileStore(t.TempDir())
	require.NoError(t, err)

	_, ok := GetAs[string](s, "theme-name")
	assert.False(t, ok)
}

func TestFileStore_RecreatesDeletedFile(t *testing.T) {
	s := NewFileStore(t.TempDir())
	require.NoError(t, Set(s, "theme-name", "dark"))

	path, err := s.ResolvePath()
	require.NoError(t, err)
	require.NoError(t, os.Remove(path))

	_, ok := GetAs[string](s, "theme-name")
	assert.False(t, ok)
	_, err = os.Stat(path)
	require.NoError(t, err, "Get should recreate the store file")

	require.NoError(t, os.Remove(path))
	require.NoError(t, Set(s, "lang", "fa"))
	keys, err := s.Keys()
	require.NoError(t, err)
	assert.Equal(t, []string{"lang"}, keys)
}

func TestFileStore_RecreatesDeletedDirectory(t *testing.T) {
	base := t.TempDir()
	s := NewFileStore(base)
	require.NoError(t, Set(s, "a", 1))

	require.NoError(t, os.RemoveAll(filepath.Join(base, ".local")))
	require.NoError(t, Set(s, "b", 2))

	keys, err := s.Keys()
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, keys)
}

func TestFileStore_UncreatableDirectoryIsAnError(t *testing.T) {
	base := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(base, []byte("x"), 0o600))

	_, err := OpenFileStore(base)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "creating store dir")

	s := NewFileStore(base)
	assert.Error(t, Set(s, "theme-name", "dark"))
	_, ok := GetAs[string](s, "theme-name")
	assert.False(t, ok)
}

func TestFileStore_CorruptFileIsNotOverwritten(t *testing.T) {
	for name, content := range map[string]string{
		"truncated object": "{broken",
		"null root":        "null",
		"array root":       "[1, 2]",
		"string root":      `"dark"`,
	} {
		t.Run(name, func(t *testing.T) {
			s := NewFileStore(t.TempDir())
			path, err := s.ResolvePath()
			require.NoError(t, err)
			require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

			err = Set(s, "theme-name", "dark")
			require.Error(t, err)
			assert.Contains(t, err.Error(), "parsing store file")

			assert.Error(t, s.Delete("theme-name"))

			_, err = Lookup[string](s, "theme-name")
			assert.Error(t, err)

			_, err = s.Keys()
			assert.Error(t, err)

			data, err := os.ReadFile(path)
			require.NoError(t, err)
			assert.Equal(t, content, string(data))
		})
	}
}

func TestFileStore_PathDoesNotCreate(t *testing.T) {
	base := t.TempDir()
	s := NewFileStore(base)

	assert.Equal(t, filepath.Join(base, ".local", DefaultNamespace, "kvs.json"), s.Path())
	_, err := os.Stat(s.Dir())
	assert.True(t, os.IsNotExist(err))
}

func TestFileStore_NoTempFilesLeftBehind(t *testing.T) {
	s := NewFileStore(t.TempDir())
	for i := 0; i < 5; i++ {
		require.NoError(t, Set(s, "n", i))
	}

	entries, err := os.ReadDir(s.Dir())
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasSuffix(e.Name(), ".tmp"), "leftover temp file %s", e.Name())
	}
}

func TestFileStore_WatchSeesExternalWrite(t *testing.T) {
	base := t.TempDir()
	s := NewFileStore(base)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changed := make(chan struct{}, 1)
	require.NoError(t, s.Watch(ctx, func() {
		select {
		case changed <- struct{}{}:
		default:
		}
	}))

	// A second handle stands in for another process.
	other := NewFileStore(base)
	require.NoError(t, Set(other, "theme-name", "light"))

	select {
	case <-changed:
	case <-time.After(5 * time.Second):
		t.Fatal("no change notification after external write")
	}

	theme, ok := GetAs[string](s, "theme-name")
	require.True(t, ok)
	assert.Equal(t, "light", theme)
}

func TestFileStore_WatchCoalescesWhileCallbackBlocks(t *testing.T) {
	base := t.TempDir()
	s := NewFileStore(base)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	release := make(chan struct{})
	require.NoError(t, s.Watch(ctx, func() {
		if calls.Add(1) == 1 {
			<-release
		}
	}))

	other := NewFileStore(base)
	require.NoError(t, Set(other, "n", 0))
	require.Eventually(t, func() bool { return calls.Load() == 1 }, 5*time.Second, 10*time.Millisecond)

	const writes = 5
	for i := 1; i <= writes; i++ {
		require.NoError(t, Set(other, "n", i))
	}
	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load(), "callback runs one at a time")

	close(release)
	require.Eventually(t, func() bool { return calls.Load() >= 2 }, 5*time.Second, 10*time.Millisecond)
	time.Sleep(300 * time.Millisecond)
	assert.LessOrEqual(t, calls.Load(), int32(3), "changes during a running callback are coalesced")

	// The watcher is still delivering.
	before := calls.Load()
	require.NoError(t, Set(other, "n", "after"))
	assert.Eventually(t, func() bool { return calls.Load() > before }, 5*time.Second, 10*time.Millisecond)
}

func TestFileStore_WatchRequiresCallback(t *testing.T) {
	s := NewFileStore(t.TempDir())
	assert.Error(t, s.Watch(context.Background(), nil))
}
