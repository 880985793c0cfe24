package theme

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kalambet/kvs/internal/kvs"
)

// failingStore reads from an inner store but refuses every write.
type failingStore struct {
	kvs.Store
}

func (failingStore) Set(string, json.RawMessage) error {
	return errors.New("disk full")
}

func TestLoad_DefaultsWhenAbsent(t *testing.T) {
	p := Load(kvs.NewMemoryStore())
	assert.Equal(t, Dark, p.Mode())
}

func TestLoad_ReadsStoredTheme(t *testing.T) {
	s := kvs.NewMemoryStore()
	require.NoError(t, kvs.Set(s, Key, "light"))

	assert.Equal(t, Light, Load(s).Mode())
}

func TestLoad_FallsBackOnBadValues(t *testing.T) {
	s := kvs.NewMemoryStore()

	require.NoError(t, kvs.Set(s, Key, 7))
	assert.Equal(t, Default, Load(s).Mode())

	require.NoError(t, kvs.Set(s, Key, "sepia"))
	assert.Equal(t, Default, Load(s).Mode())
}

func TestSet_PersistsAcrossRestart(t *testing.T) {
	base := t.TempDir()
	s, err := kvs.OpenFileStore(base)
	require.NoError(t, err)

	p := Load(s)
	require.NoError(t, p.Set(Light))

	restarted, err := kvs.OpenFileStore(base)
	require.NoError(t, err)
	assert.Equal(t, Light, Load(restarted).Mode())
}

func TestSet_KeepsModeWhenSaveFails(t *testing.T) {
	p := Load(failingStore{kvs.NewMemoryStore()})

	err := p.Set(Light)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Equal(t, Light, p.Mode())
}

func TestSet_RejectsUnknownMode(t *testing.T) {
	s := kvs.NewMemoryStore()
	p := Load(s)

	assert.Error(t, p.Set(Mode("blue")))
	assert.Equal(t, Dark, p.Mode())
	_, ok := kvs.GetAs[string](s, Key)
	assert.False(t, ok)
}

func TestToggle(t *testing.T) {
	s := kvs.NewMemoryStore()
	p := Load(s)

	m, err := p.Toggle()
	require.NoError(t, err)
	assert.Equal(t, Light, m)

	m, err = p.Toggle()
	require.NoError(t, err)
	assert.Equal(t, Dark, m)

	stored, ok := kvs.GetAs[string](s, Key)
	require.True(t, ok)
	assert.Equal(t, "dark", stored)
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode(" Dark ")
	require.NoError(t, err)
	assert.Equal(t, Dark, m)

	m, err = ParseMode("LIGHT")
	require.NoError(t, err)
	assert.Equal(t, Light, m)

	_, err = ParseMode("")
	assert.Error(t, err)
}
