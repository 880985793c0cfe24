package kvs

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

const (
	// DefaultNamespace is the application directory under <base_dir>/.local.
	DefaultNamespace = "saraf-currency-exchange-systems-front"

	storeFileName = "kvs.json"
)

// FileStore keeps the whole store as one JSON object in a file under
// <base_dir>/.local/<namespace>/kvs.json. Every operation re-reads the file,
// so writes made by other processes are seen on the next call.
type FileStore struct {
	baseDir   string
	namespace string

	// mu serializes the read-modify-write in Set and Delete.
	mu sync.Mutex
}

// FileOption customizes a FileStore.
type FileOption func(*FileStore)

// WithNamespace overrides DefaultNamespace.
func WithNamespace(ns string) FileOption {
	return func(s *FileStore) {
		if ns != "" {
			s.namespace = ns
		}
	}
}

// NewFileStore returns a FileStore rooted at baseDir. It does not touch the
// filesystem; use OpenFileStore to fail early when the store is unusable.
func NewFileStore(baseDir string, opts ...FileOption) *FileStore {
	s := &FileStore{baseDir: baseDir, namespace: DefaultNamespace}
	for _, o := range opts {
		o(s)
	}
	return s
}

// OpenFileStore is NewFileStore followed by ResolvePath. It returns an error
// when the directory or the initial file cannot be created.
func OpenFileStore(baseDir string, opts ...FileOption) (*FileStore, error) {
	s := NewFileStore(baseDir, opts...)
	if _, err := s.ResolvePath(); err != nil {
		return nil, err
	}
	return s, nil
}

// Dir returns the directory holding the store file without creating it.
func (s *FileStore) Dir() string {
	return filepath.Join(s.baseDir, ".local", s.namespace)
}

// Path returns where the store file lives without creating anything.
func (s *FileStore) Path() string {
	return filepath.Join(s.Dir(), storeFileName)
}

// ResolvePath returns the path of the store file, creating its directory and
// an empty JSON object file when they are missing. It runs on every call.
func (s *FileStore) ResolvePath() (string, error) {
	if s.baseDir == "" {
		return "", errors.New("store base directory is not set")
	}
	dir := s.Dir()
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("creating store dir: %w", err)
	}

	path := s.Path()
	_, err := os.Stat(path)
	if err == nil {
		return path, nil
	}
	if !os.IsNotExist(err) {
		return "", fmt.Errorf("checking store file: %w", err)
	}
	// O_EXCL so a concurrent creator's content is never truncated.
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		if os.IsExist(err) {
			return path, nil
		}
		return "", fmt.Errorf("creating store file: %w", err)
	}
	if _, err := f.WriteString("{}"); err != nil {
		f.Close()
		return "", fmt.Errorf("initializing store file: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("initializing store file: %w", err)
	}
	return path, nil
}

func (s *FileStore) load() (string, map[string]json.RawMessage, error) {
	path, err := s.ResolvePath()
	if err != nil {
		return "", nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", nil, fmt.Errorf("reading store file: %w", err)
	}
	m := make(map[string]json.RawMessage)
	if err := json.Unmarshal(data, &m); err != nil {
		return "", nil, fmt.Errorf("parsing store file %s: %w", path, err)
	}
	// A literal null decodes without error and leaves the map nil.
	if m == nil {
		return "", nil, fmt.Errorf("parsing store file %s: root is not a JSON object", path)
	}
	return path, m, nil
}

func (s *FileStore) save(path string, m map[string]json.RawMessage) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding store: %w", err)
	}

	// Write to a temp file in the same directory, then rename over the store.
	tmp, err := os.CreateTemp(filepath.Dir(path), storeFileName+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("replacing store file: %w", err)
	}
	return nil
}

func (s *FileStore) Get(key string) (json.RawMessage, error) {
	if key == "" {
		return nil, ErrEmptyKey
	}
	_, m, err := s.load()
	if err != nil {
		return nil, err
	}
	raw, ok := m[key]
	if !ok {
		return nil, ErrNotFound
	}
	return raw, nil
}

func (s *FileStore) Set(key string, value json.RawMessage) error {
	if err := checkWrite(key, value); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path, m, err := s.load()
	if err != nil {
		return err
	}
	m[key] = cloneRaw(value)
	return s.save(path, m)
}

func (s *FileStore) Delete(key string) error {
	if key == "" {
		return ErrEmptyKey
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path, m, err := s.load()
	if err != nil {
		return err
	}
	if _, ok := m[key]; !ok {
		return nil
	}
	delete(m, key)
	return s.save(path, m)
}

func (s *FileStore) Keys() ([]string, error) {
	_, m, err := s.load()
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}
