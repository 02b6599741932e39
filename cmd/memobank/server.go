package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/memobank/memobank/internal/analyzer"
	"github.com/memobank/memobank/internal/api"
	"github.com/memobank/memobank/internal/config"
	"github.com/memobank/memobank/internal/oracle"
	"github.com/memobank/memobank/internal/search"
	"github.com/memobank/memobank/internal/storage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the memobank server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		inMemory, _ := cmd.Flags().GetBool("memory")
		withMCP, _ := cmd.Flags().GetBool("mcp")
		return runServer(inMemory, withMCP)
	},
}

func init() {
	serveCmd.Flags().Bool("memory", false, "use the volatile in-memory store instead of SQLite")
	serveCmd.Flags().Bool("mcp", false, "also serve MCP tools on stdio")
}

func runServer(inMemory, withMCP bool) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logLevel := slog.LevelInfo
	if strings.EqualFold(cfg.Log.Level, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Open storage.
	var store storage.Store
	if inMemory {
		slog.Info("using in-memory store; records live only as long as this process")
		store = storage.NewMemStore()
	} else {
		s, err := storage.Open(cfg.Storage.DataDir)
		if err != nil {
			return fmt.Errorf("opening storage: %w", err)
		}
		store = s
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	// Oracle client. Without an API key every analysis and search runs the
	// deterministic fallback.
	var oracleClient oracle.Client
	if cfg.Oracle.APIKey == "" {
		slog.Warn("no oracle API key configured; analysis and search will use local fallbacks only")
		oracleClient = oracle.Disabled{}
	} else {
		oracleClient = oracle.NewOpenAI(cfg.Oracle.APIKey, cfg.Oracle.BaseURL, cfg.Oracle.Model, cfg.Oracle.Timeout)
	}

	contentAnalyzer := analyzer.New(oracleClient, store)
	ranker := search.New(oracleClient)

	handler := api.NewHandler(api.Deps{
		Store:    store,
		Analyzer: contentAnalyzer,
		Ranker:   ranker,
		Token:    cfg.Server.Token,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	// MCP tools over stdio, alongside HTTP.
	if withMCP {
		mcpSrv := api.NewMCPServer(api.MCPDeps{
			Store:    store,
			Analyzer: contentAnalyzer,
			Ranker:   ranker,
		})
		stdioSrv := server.NewStdioServer(mcpSrv)
		go func() {
			if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("MCP stdio server error", "error", err)
			}
		}()
		slog.Info("MCP server started (stdio transport)")
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("memobank listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
