package kvs

import (
	"fmt"
)

// Backend names accepted by Open.
const (
	BackendFile    = "file"
	BackendBrowser = "browser"
	BackendMemory  = "memory"
	BackendSQLite  = "sqlite"
	BackendRemote  = "remote"
)

// Backends lists every backend name Open understands.
var Backends = []string{BackendFile, BackendBrowser, BackendMemory, BackendSQLite, BackendRemote}

// Options selects and configures a backend for Open.
type Options struct {
	// Backend is one of the Backend* names. Empty picks DefaultBackend.
	Backend string

	// BaseDir and Namespace configure the file backend.
	BaseDir   string
	Namespace string

	// DataDir is the sqlite database directory.
	DataDir string

	// RemoteURL and RemoteToken configure the remote backend.
	RemoteURL   string
	RemoteToken string
}

// DefaultBackend is the backend for this build target: localStorage in
// js/wasm builds, the JSON file everywhere else.
func DefaultBackend() string {
	return defaultBackend
}

// Open constructs the selected backend and checks that it is usable.
// Callers owning the returned Store should Close it when it implements
// io.Closer.
func Open(opts Options) (Store, error) {
	backend := opts.Backend
	if backend == "" {
		backend = defaultBackend
	}

	switch backend {
	case BackendFile:
		s, err := OpenFileStore(opts.BaseDir, WithNamespace(opts.Namespace))
		if err != nil {
			return nil, fmt.Errorf("opening file store: %w", err)
		}
		return s, nil
	case BackendBrowser:
		return openBrowser()
	case BackendMemory:
		return NewMemoryStore(), nil
	case BackendSQLite:
		return openSQLite(opts.DataDir)
	case BackendRemote:
		if opts.RemoteURL == "" {
			return nil, fmt.Errorf("remote backend requires a URL")
		}
		return NewRemoteStore(opts.RemoteURL, opts.RemoteToken), nil
	default:
		return nil, fmt.Errorf("unknown backend %q", backend)
	}
}
