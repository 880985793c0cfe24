//go:build js && wasm

package kvs

import (
	"encoding/json"
	"fmt"
	"sort"
	"syscall/js"
)

// BrowserStore is a Store backed by window.localStorage. Each key is its own
// entry holding the JSON text of the value; there is no key prefixing.
type BrowserStore struct {
	storage js.Value
}

// NewBrowserStore binds to window.localStorage, returning ErrUnavailable when
// the page has none (for example inside a worker).
func NewBrowserStore() (s *BrowserStore, err error) {
	defer func() {
		if r := recover(); r != nil {
			s, err = nil, fmt.Errorf("%w: localStorage: %v", ErrUnavailable, r)
		}
	}()
	ls := js.Global().Get("localStorage")
	if ls.IsUndefined() || ls.IsNull() {
		return nil, fmt.Errorf("%w: localStorage not found", ErrUnavailable)
	}
	return &BrowserStore{storage: ls}, nil
}

// call invokes a Storage method, turning a thrown JS exception (such as
// QuotaExceededError) into an error.
func (s *BrowserStore) call(method string, args ...any) (v js.Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			if jsErr, ok := r.(js.Error); ok {
				err = fmt.Errorf("localStorage.%s: %s", method, jsErr.Error())
				return
			}
			err = fmt.Errorf("localStorage.%s: %v", method, r)
		}
	}()
	return s.storage.Call(method, args...), nil
}

func (s *BrowserStore) Get(key string) (json.RawMessage, error) {
	if key == "" {
		return nil, ErrEmptyKey
	}
	v, err := s.call("getItem", key)
	if err != nil {
		return nil, err
	}
	if v.IsNull() || v.IsUndefined() {
		return nil, ErrNotFound
	}
	return json.RawMessage(v.String()), nil
}

func (s *BrowserStore) Set(key string, value json.RawMessage) error {
	if err := checkWrite(key, value); err != nil {
		return err
	}
	if _, err := s.call("setItem", key, string(value)); err != nil {
		return fmt.Errorf("web local storage set value error: %w", err)
	}
	return nil
}

func (s *BrowserStore) Delete(key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	_, err := s.call("removeItem", key)
	return err
}

func (s *BrowserStore) Keys() ([]string, error) {
	n := s.storage.Get("length").Int()
	keys := make([]string, 0, n)
	for i := 0; i < n; i++ {
		v, err := s.call("key", i)
		if err != nil {
			return nil, err
		}
		if v.IsNull() {
			continue
		}
		keys = append(keys, v.String())
	}
	sort.Strings(keys)
	return keys, nil
}
