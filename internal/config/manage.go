package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/kalambet/kvs/internal/kvs"
)

// KeyInfo describes a config key for display purposes.
type KeyInfo struct {
	Key    string
	EnvVar string
	Value  string
}

// ShowAll returns all config key/value pairs from the current config.
// Secrets are listed with their value masked.
func ShowAll(cfg Config) []KeyInfo {
	var result []KeyInfo
	for _, s := range specs {
		val := fmt.Sprintf("%v", s.extract(cfg))
		if s.secret && val != "" {
			val = "********"
		}
		result = append(result, KeyInfo{
			Key:    s.key,
			EnvVar: s.env,
			Value:  val,
		})
	}
	return result
}

// ValidKeys returns the list of valid config key names.
func ValidKeys() []string {
	var keys []string
	for _, s := range specs {
		keys = append(keys, s.key)
	}
	return keys
}

// Get returns the display value of one key, masked when secret.
func Get(cfg Config, key string) (KeyInfo, error) {
	for _, k := range ShowAll(cfg) {
		if k.Key == key {
			return k, nil
		}
	}
	return KeyInfo{}, fmt.Errorf("unknown config key %q (valid: %s)", key, strings.Join(ValidKeys(), ", "))
}

// SetKey validates value for key and saves it to the settings store, where
// Load picks it up on the next run. Secrets are never written to disk; they
// come from the environment only.
func SetKey(key, value string) error {
	st, err := SettingsStore()
	if err != nil {
		return err
	}
	return setKey(st, key, value)
}

func setKey(settings kvs.Store, key, value string) error {
	var spec *keySpec
	for i := range specs {
		if specs[i].key == key {
			spec = &specs[i]
			break
		}
	}
	if spec == nil {
		return fmt.Errorf("unknown config key %q (valid: %s)", key, strings.Join(ValidKeys(), ", "))
	}
	if spec.secret {
		return fmt.Errorf("%s is a secret and is not saved; set %s instead", key, spec.env)
	}

	var v any = value
	if spec.typ == kInt {
		i, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("%s must be an integer, got %q", key, value)
		}
		v = i
	}

	cfg := defaults()
	spec.apply(&cfg, v)
	if err := validationError(validate.StructPartial(cfg, strings.TrimPrefix(spec.field, "Config."))); err != nil {
		return err
	}
	return kvs.Set(settings, key, v)
}
