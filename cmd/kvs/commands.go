package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/kalambet/kvs/internal/config"
	"github.com/kalambet/kvs/internal/kvs"
	"github.com/kalambet/kvs/internal/theme"
)

// --- values ---

func newGetCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Print the JSON value stored under a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(flags, func(_ config.Config, store kvs.Store) error {
				raw, err := store.Get(args[0])
				if errors.Is(err, kvs.ErrNotFound) {
					return fmt.Errorf("key %q not found", args[0])
				}
				if err != nil {
					return err
				}
				return writeJSONValue(cmd.OutOrStdout(), raw)
			})
		},
	}
}

func newSetCmd(flags *rootFlags) *cobra.Command {
	var asString bool
	cmd := &cobra.Command{
		Use:   "set <key> <json>",
		Short: "Store a JSON value under a key",
		Long: `Store a JSON value under a key.

Examples:
  kvs set theme-name '"light"'
  kvs set theme-name light --string
  kvs set window '{"w":800,"h":600}'`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, value := args[0], args[1]

			raw := json.RawMessage(value)
			if asString {
				b, err := json.Marshal(value)
				if err != nil {
					return fmt.Errorf("encoding value: %w", err)
				}
				raw = b
			} else if !json.Valid(raw) {
				return fmt.Errorf("value is not valid JSON (use --string to store it as text)")
			}

			return withStore(flags, func(_ config.Config, store kvs.Store) error {
				if err := store.Set(key, raw); err != nil {
					return err
				}
				printSuccess("Set %s = %s", key, raw)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asString, "string", false, "store the argument as a JSON string")
	return cmd
}

func newDelCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:     "del <key>",
		Aliases: []string{"delete", "rm"},
		Short:   "Remove a key",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(flags, func(_ config.Config, store kvs.Store) error {
				if err := store.Delete(args[0]); err != nil {
					return err
				}
				printSuccess("Deleted %s", args[0])
				return nil
			})
		},
	}
}

func newListCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List all keys",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(flags, func(_ config.Config, store kvs.Store) error {
				keys, err := store.Keys()
				if err != nil {
					return err
				}
				for _, k := range keys {
					fmt.Fprintln(cmd.OutOrStdout(), k)
				}
				return nil
			})
		},
	}
}

func newPathCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the store file path, creating it if missing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			if cfg.Store.Backend != kvs.BackendFile {
				return fmt.Errorf("path is only defined for the %s backend (using %s)", kvs.BackendFile, cfg.Store.Backend)
			}
			path, err := kvs.NewFileStore(cfg.Store.BaseDir, kvs.WithNamespace(cfg.Store.Namespace)).ResolvePath()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}
}

func newExportCmd(flags *rootFlags) *cobra.Command {
	var format, output string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Dump the whole store as JSON or YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if format != "json" && format != "yaml" {
				return fmt.Errorf("unknown format %q (want json or yaml)", format)
			}

			return withStore(flags, func(_ config.Config, store kvs.Store) error {
				snap, err := kvs.Snapshot(store)
				if err != nil {
					return err
				}

				data, err := encodeSnapshot(snap, format)
				if err != nil {
					return err
				}

				if output == "" {
					_, err := cmd.OutOrStdout().Write(data)
					return err
				}
				if err := os.WriteFile(output, data, 0o600); err != nil {
					return fmt.Errorf("writing %s: %w", output, err)
				}
				printSuccess("Exported %d keys to %s", len(snap), output)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&format, "format", "json", "output format: json or yaml")
	cmd.Flags().StringVarP(&output, "output", "o", "", "write to file instead of stdout")
	return cmd
}

func encodeSnapshot(snap map[string]json.RawMessage, format string) ([]byte, error) {
	if format == "json" {
		data, err := json.MarshalIndent(snap, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("encoding json: %w", err)
		}
		return append(data, '\n'), nil
	}

	// yaml would emit json.RawMessage as a list of bytes; decode to plain values.
	plain := make(map[string]any, len(snap))
	for k, raw := range snap {
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("decoding %q: %w", k, err)
		}
		plain[k] = v
	}
	data, err := yaml.Marshal(plain)
	if err != nil {
		return nil, fmt.Errorf("encoding yaml: %w", err)
	}
	return data, nil
}

// --- theme ---

func newThemeCmd(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "theme",
		Short: "Show or change the UI theme",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Print the theme the application starts with",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withStore(flags, func(_ config.Config, store kvs.Store) error {
					fmt.Fprintln(cmd.OutOrStdout(), theme.Load(store).Mode())
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "set <dark|light>",
			Short: "Persist a theme",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				mode, err := theme.ParseMode(args[0])
				if err != nil {
					return err
				}
				return withStore(flags, func(_ config.Config, store kvs.Store) error {
					if err := theme.Load(store).Set(mode); err != nil {
						return err
					}
					printSuccess("Theme set to %s", mode)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "toggle",
			Short: "Switch between dark and light",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withStore(flags, func(_ config.Config, store kvs.Store) error {
					mode, err := theme.Load(store).Toggle()
					if err != nil {
						return err
					}
					fmt.Fprintln(cmd.OutOrStdout(), mode)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "watch",
			Short: "Print the theme every time another process changes it",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := loadConfig(flags)
				if err != nil {
					return err
				}
				if cfg.Store.Backend != kvs.BackendFile {
					return fmt.Errorf("watch needs the %s backend (using %s)", kvs.BackendFile, cfg.Store.Backend)
				}
				store, err := kvs.OpenFileStore(cfg.Store.BaseDir, kvs.WithNamespace(cfg.Store.Namespace))
				if err != nil {
					return err
				}

				ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
				defer stop()
				return watchTheme(ctx, store, cmd.OutOrStdout())
			},
		},
	)
	return cmd
}

// watchTheme prints the current theme, then each change, until ctx ends.
func watchTheme(ctx context.Context, store *kvs.FileStore, w io.Writer) error {
	last := theme.Load(store).Mode()
	fmt.Fprintln(w, last)

	changed := make(chan struct{}, 1)
	err := store.Watch(ctx, func() {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-changed:
			if mode := theme.Load(store).Mode(); mode != last {
				last = mode
				fmt.Fprintln(w, mode)
			}
		}
	}
}

// --- config ---

func newConfigCmd(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or save configuration values",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			for _, k := range config.ShowAll(cfg) {
				fmt.Fprintf(cmd.OutOrStdout(), "  %s = %s  (%s)\n", colorize(colorBold, k.Key), k.Value, k.EnvVar)
			}
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "get <key>",
		Short: "Print one configuration value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			k, err := config.Get(cfg, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), k.Value)
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "set <key> <value>",
		Short: "Save a configuration value for future runs",
		Long: `Save a configuration value for future runs.

Saved values override the defaults; .env, KVS_* environment variables and
flags still take precedence. Secrets (server.token, remote.token) are only
read from the environment.

Examples:
  kvs config set server.port 4200
  kvs config set store.backend sqlite`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.SetKey(args[0], args[1]); err != nil {
				return err
			}
			printSuccess("Saved %s = %s", args[0], args[1])
			return nil
		},
	})
	return cmd
}
