package config

import (
	"log/slog"
	"strconv"
	"strings"
)

type keyType int

const (
	kString keyType = iota
	kInt
)

type keySpec struct {
	key     string
	field   string // struct namespace, for validation messages
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "store.backend", field: "Config.Store.Backend", typ: kString, env: "KVS_STORE_BACKEND",
		apply:   func(cfg *Config, v any) { cfg.Store.Backend = v.(string) },
		extract: func(cfg Config) any { return cfg.Store.Backend },
	},
	{
		key: "store.base_dir", field: "Config.Store.BaseDir", typ: kString, env: "KVS_STORE_BASE_DIR",
		apply:   func(cfg *Config, v any) { cfg.Store.BaseDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Store.BaseDir },
	},
	{
		key: "store.namespace", field: "Config.Store.Namespace", typ: kString, env: "KVS_STORE_NAMESPACE",
		apply:   func(cfg *Config, v any) { cfg.Store.Namespace = v.(string) },
		extract: func(cfg Config) any { return cfg.Store.Namespace },
	},
	{
		key: "store.data_dir", field: "Config.Store.DataDir", typ: kString, env: "KVS_STORE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Store.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Store.DataDir },
	},
	{
		key: "remote.url", field: "Config.Store.RemoteURL", typ: kString, env: "KVS_REMOTE_URL",
		apply:   func(cfg *Config, v any) { cfg.Store.RemoteURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Store.RemoteURL },
	},
	{
		key: "remote.token", field: "Config.Store.RemoteToken", typ: kString, env: "KVS_REMOTE_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Store.RemoteToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Store.RemoteToken },
	},
	{
		key: "server.port", field: "Config.Server.Port", typ: kInt, env: "KVS_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.max_conns", field: "Config.Server.MaxConns", typ: kInt, env: "KVS_SERVER_MAX_CONNS",
		apply:   func(cfg *Config, v any) { cfg.Server.MaxConns = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.MaxConns },
	},
	{
		key: "server.token", field: "Config.Server.Token", typ: kString, env: "KVS_SERVER_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Server.Token = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.Token },
	},
	{
		key: "log.level", field: "Config.Log.Level", typ: kString, env: "KVS_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = strings.ToLower(v.(string)) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func applyEnvOverrides(cfg *Config, getenv func(string) string) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				slog.Warn("could not parse integer from env var, using default value", "env", s.env, "value", raw, "error", err)
			}
		}
	}
}

// keyForField maps a validator struct namespace back to its config key.
func keyForField(ns string) string {
	for _, s := range specs {
		if s.field == ns {
			return s.key
		}
	}
	return ns
}
