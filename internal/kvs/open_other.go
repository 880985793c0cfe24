//go:build !js

package kvs

import "fmt"

const defaultBackend = BackendFile

func openBrowser() (Store, error) {
	return nil, fmt.Errorf("%w: browser storage requires a js/wasm build", ErrUnavailable)
}

func openSQLite(dataDir string) (Store, error) {
	s, err := OpenSQLiteStore(dataDir)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite store: %w", err)
	}
	return s, nil
}
