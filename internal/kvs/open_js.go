//go:build js && wasm

package kvs

import "fmt"

const defaultBackend = BackendBrowser

func openBrowser() (Store, error) {
	s, err := NewBrowserStore()
	if err != nil {
		return nil, err
	}
	return s, nil
}

func openSQLite(string) (Store, error) {
	return nil, fmt.Errorf("%w: sqlite is not supported in js builds", ErrUnavailable)
}
