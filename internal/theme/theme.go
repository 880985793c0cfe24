// Package theme holds the UI theme preference and persists it in a kvs.Store
// under the "theme-name" key.
package theme

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/kalambet/kvs/internal/kvs"
)

// Key is the store key holding the theme name.
const Key = "theme-name"

type Mode string

const (
	Dark  Mode = "dark"
	Light Mode = "light"

	// Default is used when nothing usable is stored.
	Default = Dark
)

// ParseMode accepts "dark" or "light", case-insensitively.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case Dark:
		return Dark, nil
	case Light:
		return Light, nil
	}
	return "", fmt.Errorf("unknown theme %q (want %q or %q)", s, Dark, Light)
}

// Preference is the session's theme. The in-memory mode always reflects the
// user's last choice, even when persisting it failed.
type Preference struct {
	store kvs.Store

	mu   sync.Mutex
	mode Mode
}

// Load reads the stored theme once. Missing, undecodable or unknown values
// fall back to Default.
func Load(store kvs.Store) *Preference {
	p := &Preference{store: store, mode: Default}
	name, ok := kvs.GetAs[string](store, Key)
	if !ok {
		return p
	}
	m, err := ParseMode(name)
	if err != nil {
		slog.Warn("theme: ignoring stored value", "value", name, "error", err)
		return p
	}
	p.mode = m
	return p
}

func (p *Preference) Mode() Mode {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.mode
}

// Set switches to m and persists it. On a persistence error the new mode is
// still in effect for this session.
func (p *Preference) Set(m Mode) error {
	m, err := ParseMode(string(m))
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.mode = m
	if err := kvs.Set(p.store, Key, string(m)); err != nil {
		slog.Warn("theme: preference not saved, keeping it for this session", "theme", m, "error", err)
		return fmt.Errorf("saving theme: %w", err)
	}
	return nil
}

// Toggle flips between dark and light and returns the new mode.
func (p *Preference) Toggle() (Mode, error) {
	next := Dark
	if p.Mode() == Dark {
		next = Light
	}
	return next, p.Set(next)
}
