package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"golang.org/x/net/netutil"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/kvs/internal/api"
	"github.com/kalambet/kvs/internal/config"
	"github.com/kalambet/kvs/internal/kvs"
)

const shutdownTimeout = 5 * time.Second

func newServeCmd(flags *rootFlags) *cobra.Command {
	var (
		port    int
		withMCP bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the store over HTTP on 127.0.0.1 (foreground)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(flags, func(cfg config.Config, store kvs.Store) error {
				if port != 0 {
					cfg.Server.Port = port
				}
				ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
				defer stop()
				return runServer(ctx, cfg, store, withMCP)
			})
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "listen port (overrides server.port)")
	cmd.Flags().BoolVar(&withMCP, "mcp", false, "also serve MCP over stdio")
	return cmd
}

func newMCPCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the store as MCP tools over stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(flags, func(_ config.Config, store kvs.Store) error {
				ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
				defer stop()
				return serveMCP(ctx, api.Deps{Store: store})
			})
		},
	}
}

func newStatusCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show store and server status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			showStatus(cfg)
			return nil
		},
	}
}

// runServer serves the HTTP API (and optionally MCP over stdio) until ctx
// is cancelled or a server fails.
func runServer(ctx context.Context, cfg config.Config, store kvs.Store, withMCP bool) error {
	token := cfg.Server.Token
	if token == "" {
		token = uuid.NewString()
		printWarning("server.token not set, generated one for this run")
		printStatus("Token", "%s", token)
	}
	deps := api.Deps{Store: store, Token: token}

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	ln = netutil.LimitListener(ln, cfg.Server.MaxConns)

	srv := &http.Server{
		Handler:           api.NewHandler(deps),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		printStep("kvs %s listening on %s (backend %s)", version, addr, cfg.Store.Backend)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if withMCP {
		g.Go(func() error {
			slog.Info("MCP server started (stdio transport)")
			return serveMCP(gctx, deps)
		})
	}

	return g.Wait()
}

func serveMCP(ctx context.Context, deps api.Deps) error {
	stdio := server.NewStdioServer(api.NewMCPServer(deps, version))
	if err := stdio.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("MCP stdio server: %w", err)
	}
	return nil
}

func showStatus(cfg config.Config) {
	printStatus("Backend", "%s", cfg.Store.Backend)
	switch cfg.Store.Backend {
	case kvs.BackendFile:
		printStatus("Store dir", "%s", kvs.NewFileStore(cfg.Store.BaseDir, kvs.WithNamespace(cfg.Store.Namespace)).Dir())
	case kvs.BackendSQLite:
		printStatus("Data dir", "%s", cfg.Store.DataDir)
	case kvs.BackendRemote:
		printStatus("Remote", "%s", cfg.Store.RemoteURL)
	}

	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port))
	if err != nil {
		printStatus("Server", "stopped")
		return
	}
	resp.Body.Close()
	if resp.StatusCode == http.StatusOK {
		printStatus("Server", "running on port %d", cfg.Server.Port)
	} else {
		printStatus("Server", "error (HTTP %d)", resp.StatusCode)
	}
}
