package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/kalambet/kvs/internal/config"
	"github.com/kalambet/kvs/internal/kvs"
)

var version = "dev"

func main() {
	if err := run(); err != nil {
		printError("%v", err)
		os.Exit(1)
	}
}

func run() error {
	return newRootCmd().Execute()
}

// rootFlags are the persistent flags shared by every subcommand. They win
// over .env and KVS_* environment values.
type rootFlags struct {
	backend string
	baseDir string
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	root := &cobra.Command{
		Use:           "kvs",
		Short:         "Inspect and edit the application's persistent key-value store",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flags.backend, "backend", "", fmt.Sprintf("store backend %v", kvs.Backends))
	root.PersistentFlags().StringVar(&flags.baseDir, "base-dir", "", "base directory of the file store (default: home directory)")
	root.PersistentFlags().BoolVar(&noColor, "no-color", noColor, "disable coloured output")

	root.AddCommand(
		newGetCmd(flags),
		newSetCmd(flags),
		newDelCmd(flags),
		newListCmd(flags),
		newPathCmd(flags),
		newExportCmd(flags),
		newThemeCmd(flags),
		newConfigCmd(flags),
		newServeCmd(flags),
		newMCPCmd(flags),
		newStatusCmd(flags),
	)
	return root
}

// loadConfig loads the configuration with flag overrides applied and
// installs the slog handler for the configured level.
func loadConfig(flags *rootFlags) (config.Config, error) {
	cfg, err := config.Load(func(c *config.Config) {
		if flags.backend != "" {
			c.Store.Backend = flags.backend
		}
		if flags.baseDir != "" {
			c.Store.BaseDir = flags.baseDir
			c.Store.DataDir = ""
		}
	})
	if err != nil {
		return config.Config{}, err
	}
	setupLogging(cfg.Log.Level)
	return cfg, nil
}

func setupLogging(level string) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
}

// openStore opens the configured backend. The returned close func is never nil.
func openStore(cfg config.Config) (kvs.Store, func(), error) {
	store, err := kvs.Open(cfg.StoreOptions())
	if err != nil {
		return nil, func() {}, err
	}
	slog.Debug("store opened", "backend", cfg.Store.Backend)

	closeFn := func() {}
	if c, ok := store.(io.Closer); ok {
		closeFn = func() {
			if err := c.Close(); err != nil {
				printWarning("closing store: %v", err)
			}
		}
	}
	return store, closeFn, nil
}

// withStore loads config, opens the store and runs fn against it.
func withStore(flags *rootFlags, fn func(cfg config.Config, store kvs.Store) error) error {
	cfg, err := loadConfig(flags)
	if err != nil {
		return err
	}
	store, closeStore, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer closeStore()
	return fn(cfg, store)
}
