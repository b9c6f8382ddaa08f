package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/pagelift/pagelift/internal/analyzer"
	"github.com/pagelift/pagelift/internal/api"
	"github.com/pagelift/pagelift/internal/audit"
	"github.com/pagelift/pagelift/internal/competitor"
	"github.com/pagelift/pagelift/internal/config"
	"github.com/pagelift/pagelift/internal/fetch"
	"github.com/pagelift/pagelift/internal/llm"
	"github.com/pagelift/pagelift/internal/render"
	"github.com/pagelift/pagelift/internal/rewrite"
	"github.com/pagelift/pagelift/internal/scorecache"
	"github.com/pagelift/pagelift/internal/storage"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the pagelift server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running pagelift server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show pagelift system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "pagelift.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "pagelift version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Initialize structured logging.
	logLevel := slog.LevelInfo
	if strings.EqualFold(cfg.Log.Level, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	if len(cfg.Auth.Tokens) == 0 {
		return fmt.Errorf("no API tokens configured: set auth.tokens in the config file " +
			"or the PAGELIFT_AUTH_TOKENS environment variable (user:token,...)")
	}

	// Write PID file. Check if a server is already running via the health endpoint.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("pagelift is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("pagelift is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Open storage.
	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	// Collaborators: page fetcher, LLM client, score cache, artifact store.
	fetcher := fetch.New(cfg.Fetch.TimeoutDuration(), cfg.Fetch.UserAgent)
	llmClient := llm.New(cfg.LLM.BaseURL, cfg.LLM.APIKey, cfg.LLM.Model)
	cache := scorecache.New(store, cfg.Cache.TTLDuration(), cfg.Cache.MaxEntries)
	artifacts := render.NewFileStore(filepath.Join(cfg.Storage.DataDir, "reports"))

	// Pipeline services.
	engine := analyzer.New(fetcher, cache)
	audits := audit.NewService(store, cfg.Audit.MaxAttempts)
	rewrites := rewrite.New(store, llmClient)
	competitors := competitor.New(store, fetcher, llmClient)
	renderer := render.New(store, artifacts)

	tokens := make(map[string]string, len(cfg.Auth.Tokens))
	for _, t := range cfg.Auth.Tokens {
		tokens[t.User] = t.Token
	}
	verifier := api.NewStaticVerifier(tokens)

	handler := api.NewHandler(api.Deps{
		Store:       store,
		Audits:      audits,
		Analyzer:    engine,
		Rewrites:    rewrites,
		Competitors: competitors,
		Renderer:    renderer,
		Verifier:    verifier,
	})

	// Start the audit worker pool.
	worker := audit.NewWorker(store, engine, cfg.Audit.PollIntervalDuration(), 0)
	go worker.RunPool(ctx, cfg.Audit.Workers)

	// Build and start MCP server (stdio transport in a goroutine). Tools act
	// as the first configured user.
	mcpSrv := api.NewMCPServer(api.MCPDeps{
		Store:       store,
		Audits:      audits,
		Analyzer:    engine,
		Rewrites:    rewrites,
		DefaultUser: cfg.Auth.Tokens[0].User,
	})
	stdioSrv := server.NewStdioServer(mcpSrv)
	go func() {
		if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("MCP stdio server error", "error", err)
		}
	}()

	// The same tools are also reachable over SSE for clients that cannot
	// attach to stdio.
	sseSrv := server.NewSSEServer(mcpSrv)
	go func() {
		sseAddr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.MCPPort)
		if err := sseSrv.Start(sseAddr); err != nil && err != http.ErrServerClosed {
			slog.Error("MCP SSE server error", "error", err)
		}
	}()
	slog.Info("MCP server started", "transports", "stdio, sse", "sse_port", cfg.Server.MCPPort)

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	// Start server in a goroutine.
	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "pagelift listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for signal or server error.
	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	// Graceful shutdown with timeout.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sseSrv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("MCP SSE shutdown", "error", err)
	}
	return srv.Shutdown(shutdownCtx)
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("pagelift is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop pagelift (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to pagelift (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		// Still show partial status even if config fails.
		printError("config error: %v", err)
		return nil
	}

	// Check server health.
	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	resp, err := client.Get(serverURL + "/health")
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == 200 {
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	printStatus("LLM", "%s (%s)", cfg.LLM.Model, cfg.LLM.BaseURL)
	printStatus("Audit workers", "%d (poll %s)", cfg.Audit.Workers, cfg.Audit.PollInterval)
	printStatus("Cache TTL", "%s", cfg.Cache.TTL)
	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}
