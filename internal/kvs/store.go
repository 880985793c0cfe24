package kvs

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
)

var (
	// ErrNotFound is returned by Store.Get when the key has no entry.
	ErrNotFound = errors.New("key not found")

	// ErrEmptyKey is returned when an operation is called with "".
	ErrEmptyKey = errors.New("empty key")

	// ErrUnavailable is returned when a backend cannot run on this build target
	// or host (for example localStorage outside a browser).
	ErrUnavailable = errors.New("backend unavailable")
)

// Store is a string-keyed store of JSON values. Every backend in this package
// implements it; callers normally go through the typed helpers Set, GetAs and
// Lookup instead of handling raw JSON.
type Store interface {
	// Get returns the raw JSON stored under key, or ErrNotFound.
	Get(key string) (json.RawMessage, error)
	// Set stores value under key, replacing any previous value.
	// value must be valid JSON.
	Set(key string, value json.RawMessage) error
	// Delete removes key. Deleting a missing key is not an error.
	Delete(key string) error
	// Keys returns all keys in ascending order.
	Keys() ([]string, error)
}

// State describes the outcome of a typed lookup.
type State int

const (
	Absent State = iota
	Present
	Undecodable
)

func (s State) String() string {
	switch s {
	case Absent:
		return "absent"
	case Present:
		return "present"
	case Undecodable:
		return "undecodable"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Result is what Lookup found for a key. Value is only meaningful when State
// is Present; Raw and DecodeErr are set when State is Undecodable.
type Result[T any] struct {
	State     State
	Value     T
	Raw       json.RawMessage
	DecodeErr error
}

// Set encodes value as JSON and stores it under key.
func Set[T any](s Store, key string, value T) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encoding value for %q: %w", key, err)
	}
	return s.Set(key, raw)
}

// Lookup reads key and decodes it as T. A missing key and a value that does
// not decode as T are reported through Result; the error is reserved for
// backend failures. A stored null only decodes into pointer, interface, map
// and slice types; for any other T it is Undecodable.
func Lookup[T any](s Store, key string) (Result[T], error) {
	raw, err := s.Get(key)
	if errors.Is(err, ErrNotFound) {
		return Result[T]{State: Absent}, nil
	}
	if err != nil {
		return Result[T]{}, err
	}

	var v T
	if bytes.Equal(bytes.TrimSpace(raw), []byte("null")) && !nullable[T]() {
		return Result[T]{State: Undecodable, Raw: raw, DecodeErr: fmt.Errorf("null is not a valid %T", v)}, nil
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return Result[T]{State: Undecodable, Raw: raw, DecodeErr: err}, nil
	}
	return Result[T]{State: Present, Value: v, Raw: raw}, nil
}

// nullable reports whether null has a representation in T.
func nullable[T any]() bool {
	switch reflect.TypeFor[T]().Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice:
		return true
	}
	return false
}

// GetAs is the best-effort form of Lookup: it reports ok only when key exists
// and decodes as T. Backend errors and decode failures are logged at debug
// level and otherwise treated as absence.
func GetAs[T any](s Store, key string) (T, bool) {
	var zero T
	res, err := Lookup[T](s, key)
	if err != nil {
		slog.Debug("kvs: lookup failed", "key", key, "error", err)
		return zero, false
	}
	if res.State == Undecodable {
		slog.Debug("kvs: stored value does not decode", "key", key, "type", fmt.Sprintf("%T", zero), "error", res.DecodeErr)
		return zero, false
	}
	if res.State != Present {
		return zero, false
	}
	return res.Value, true
}

// Snapshot reads every key into a single map.
func Snapshot(s Store) (map[string]json.RawMessage, error) {
	keys, err := s.Keys()
	if err != nil {
		return nil, fmt.Errorf("listing keys: %w", err)
	}
	out := make(map[string]json.RawMessage, len(keys))
	for _, k := range keys {
		raw, err := s.Get(k)
		if errors.Is(err, ErrNotFound) {
			// Deleted between Keys and Get.
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("reading %q: %w", k, err)
		}
		out[k] = raw
	}
	return out, nil
}

func checkWrite(key string, value json.RawMessage) error {
	if key == "" {
		return ErrEmptyKey
	}
	if !json.Valid(value) {
		return fmt.Errorf("value for %q is not valid JSON", key)
	}
	return nil
}

func cloneRaw(raw json.RawMessage) json.RawMessage {
	if raw == nil {
		return nil
	}
	out := make(json.RawMessage, len(raw))
	copy(out, raw)
	return out
}
