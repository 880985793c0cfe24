package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"github.com/kalambet/kvs/internal/kvs"
)

type Config struct {
	Store  StoreConfig
	Server ServerConfig
	Log    LogConfig
}

type StoreConfig struct {
	Backend     string `validate:"oneof=file browser memory sqlite remote"`
	BaseDir     string `validate:"required_if=Backend file"`
	Namespace   string `validate:"required"`
	DataDir     string `validate:"required_if=Backend sqlite"`
	RemoteURL   string `validate:"required_if=Backend remote,omitempty,url"`
	RemoteToken string
}

type ServerConfig struct {
	Port     int `validate:"min=1,max=65535"`
	MaxConns int `validate:"min=1"`
	Token    string
}

type LogConfig struct {
	Level string `validate:"oneof=debug info warn error"`
}

var validate = validator.New()

func defaults() Config {
	return Config{
		Store: StoreConfig{
			Backend:   kvs.DefaultBackend(),
			BaseDir:   defaultBaseDir(),
			Namespace: kvs.DefaultNamespace,
		},
		Server: ServerConfig{
			Port:     4100,
			MaxConns: 64,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// defaultBaseDir is the user's home directory, or "" on platforms without
// one; the base directory must then be supplied explicitly.
func defaultBaseDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return home
}

// SettingsNamespace is the file store namespace holding values saved with
// SetKey.
const SettingsNamespace = "kvs-settings"

// Load builds the configuration from defaults, values saved with SetKey, a
// .env file in the working directory (if any), and KVS_* environment
// variables, in increasing order of precedence. overrides run last (the CLI
// uses them for flags), then the result is validated.
func Load(overrides ...func(*Config)) (Config, error) {
	fileEnv, err := readDotEnv(".env")
	if err != nil {
		return Config{}, err
	}
	getenv := envChain(os.LookupEnv, fileEnv)

	// Nothing is created under the settings directory until SetKey runs.
	var settings kvs.Store
	if st, err := settingsStoreFor(getenv); err == nil {
		if _, err := os.Stat(st.Path()); err == nil {
			settings = st
		}
	}
	return loadWith(settings, getenv, overrides...)
}

// SettingsStore returns the file store SetKey writes to. It lives under
// $KVS_CONFIG_HOME, or the home directory when that is unset.
func SettingsStore() (*kvs.FileStore, error) {
	return settingsStoreFor(os.Getenv)
}

func settingsStoreFor(getenv func(string) string) (*kvs.FileStore, error) {
	base := getenv("KVS_CONFIG_HOME")
	if base == "" {
		base = defaultBaseDir()
	}
	if base == "" {
		return nil, errors.New("no directory for saved settings (set KVS_CONFIG_HOME)")
	}
	return kvs.NewFileStore(base, kvs.WithNamespace(SettingsNamespace)), nil
}

// loadWith layers settings (may be nil), then getenv, then overrides over
// the defaults.
func loadWith(settings kvs.Store, getenv func(string) string, overrides ...func(*Config)) (Config, error) {
	cfg := defaults()
	if settings != nil {
		if err := applySettings(&cfg, settings); err != nil {
			return Config{}, err
		}
	}
	applyEnvOverrides(&cfg, getenv)
	for _, o := range overrides {
		o(&cfg)
	}
	if cfg.Store.DataDir == "" && cfg.Store.BaseDir != "" {
		cfg.Store.DataDir = filepath.Join(cfg.Store.BaseDir, ".local", cfg.Store.Namespace)
	}
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applySettings(cfg *Config, settings kvs.Store) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		var (
			v   any
			ok  bool
			err error
		)
		switch s.typ {
		case kString:
			v, ok, err = savedSetting[string](settings, s.key)
		case kInt:
			v, ok, err = savedSetting[int](settings, s.key)
		}
		if err != nil {
			return err
		}
		if ok {
			s.apply(cfg, v)
		}
	}
	return nil
}

func savedSetting[T any](settings kvs.Store, key string) (T, bool, error) {
	res, err := kvs.Lookup[T](settings, key)
	if err != nil {
		var zero T
		return zero, false, fmt.Errorf("reading saved setting %s: %w", key, err)
	}
	if res.State == kvs.Undecodable {
		slog.Warn("ignoring saved setting of the wrong type", "key", key, "value", string(res.Raw), "error", res.DecodeErr)
	}
	return res.Value, res.State == kvs.Present, nil
}

// Validate checks cfg against its struct constraints.
func Validate(cfg Config) error {
	return validationError(validate.Struct(cfg))
}

func validationError(err error) error {
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("invalid config: %w", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msg := fmt.Sprintf("%s failed %q", keyForField(fe.StructNamespace()), fe.Tag())
		if fe.Param() != "" {
			msg += fmt.Sprintf(" (%s)", fe.Param())
		}
		msgs = append(msgs, msg)
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

// StoreOptions converts the store section into kvs.Open options.
func (c Config) StoreOptions() kvs.Options {
	return kvs.Options{
		Backend:     c.Store.Backend,
		BaseDir:     c.Store.BaseDir,
		Namespace:   c.Store.Namespace,
		DataDir:     c.Store.DataDir,
		RemoteURL:   c.Store.RemoteURL,
		RemoteToken: c.Store.RemoteToken,
	}
}

// readDotEnv returns the variables in path, or nil when it does not exist.
func readDotEnv(path string) (map[string]string, error) {
	m, err := godotenv.Read(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return m, nil
}

// envChain prefers the process environment and falls back to file values.
// The process environment is never modified.
func envChain(lookup func(string) (string, bool), file map[string]string) func(string) string {
	return func(key string) string {
		if v, ok := lookup(key); ok && v != "" {
			return v
		}
		return file[key]
	}
}
