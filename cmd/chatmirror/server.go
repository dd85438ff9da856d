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

	"github.com/go-chi/chi/v5"
	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/kalambet/chatmirror/internal/api"
	"github.com/kalambet/chatmirror/internal/config"
	"github.com/kalambet/chatmirror/internal/notify"
	"github.com/kalambet/chatmirror/internal/remote"
	"github.com/kalambet/chatmirror/internal/scheduler"
	"github.com/kalambet/chatmirror/internal/storage"
	"github.com/kalambet/chatmirror/internal/syncer"
	"github.com/kalambet/chatmirror/internal/trigger"
	"github.com/kalambet/chatmirror/internal/watermark"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the chatmirror daemon (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		mcpStdio, _ := cmd.Flags().GetBool("mcp-stdio")
		return runServer(mcpStdio)
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running chatmirror daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show chatmirror status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

func init() {
	startCmd.Flags().Bool("mcp-stdio", false, "also serve MCP over stdin/stdout")
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "chatmirror.pid")
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

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// watermarkBackend is what both the engine and the API need from a
// watermark store.
type watermarkBackend interface {
	syncer.WatermarkStore
	api.Watermarks
}

func openWatermarks(ctx context.Context, cfg config.Config, store *storage.Store) (watermarkBackend, func(), error) {
	if cfg.Watermark.Backend != "redis" {
		return store, func() {}, nil
	}
	client, err := watermark.Dial(ctx, cfg.Redis.Addr)
	if err != nil {
		return nil, nil, err
	}
	slog.Info("watermarks stored in redis", "addr", cfg.Redis.Addr, "key", cfg.Redis.Key)
	return watermark.NewRedis(client, cfg.Redis.Key), func() { client.Close() }, nil
}

func runServer(mcpStdio bool) error {
	fmt.Fprintf(os.Stderr, "chatmirror version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLogLevel(cfg.Log.Level)})))

	apiToken, err := config.APIToken()
	if err != nil {
		return fmt.Errorf("initializing API token: %w", err)
	}
	slog.Info("API bearer token available")
	if cfg.Remote.IdentityToken == "" {
		slog.Warn("no identity token configured; syncs will fail until one is set", "env", "CHATMIRROR_IDENTITY_TOKEN")
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("chatmirror is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("chatmirror is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	marks, closeMarks, err := openWatermarks(ctx, cfg, store)
	if err != nil {
		return fmt.Errorf("opening watermark store: %w", err)
	}
	defer closeMarks()

	// Page events go to WebSocket clients and, when configured, JetStream.
	hub := notify.NewHub()
	defer hub.Close()
	publishers := []notify.Publisher{hub}
	if cfg.NATS.URL != "" {
		js, err := notify.NewNATS(cfg.NATS.URL, cfg.NATS.Subject)
		if err != nil {
			return err
		}
		defer js.Close()
		if err := js.EnsureStream(ctx); err != nil {
			return err
		}
		publishers = append(publishers, js)
		slog.Info("publishing sync events to NATS", "url", cfg.NATS.URL, "subject", cfg.NATS.Subject)
	}
	fanout := notify.NewFanout(publishers...)

	client := remote.NewClient(cfg.Remote.BaseURL, remote.StaticIdentity(cfg.Remote.IdentityToken), cfg.Remote.Timeout)
	eng := syncer.NewEngine(client, store, marks, cfg.Sync.MaxPages)
	eng.SetResultRecorder(store)
	shared := syncer.NewShared(eng, fanout.OnPage, store)

	if cfg.Sync.Scheduled {
		go scheduler.New(shared, cfg.Sync.Interval).Run(ctx)
	}

	nav := trigger.NewChanSource(0)
	machine := trigger.NewMachine(cfg.Sync.Debounce, func(ctx context.Context) error {
		_, err := shared.SyncAll(ctx)
		return err
	})
	if err := machine.Start(ctx, nav); err != nil {
		return err
	}
	defer machine.Stop()

	mcpSrv := api.NewMCPServer(api.MCPDeps{Store: store, Syncer: shared})

	topRouter := chi.NewRouter()
	topRouter.With(api.BearerAuth(apiToken)).Handle("/mcp", server.NewStreamableHTTPServer(mcpSrv))
	topRouter.Mount("/", api.NewHandler(api.Deps{
		Store:      store,
		Syncer:     shared,
		Watermarks: marks,
		Events:     hub,
		Navigator:  nav,
		Token:      apiToken,
	}))

	if mcpStdio {
		stdioSrv := server.NewStdioServer(mcpSrv)
		go func() {
			if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("MCP stdio server error", "error", err)
			}
		}()
		slog.Info("MCP server started (stdio transport)")
	}

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: topRouter,
	}

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "chatmirror listening on %s\n", addr)
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

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("chatmirror is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop chatmirror (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to chatmirror (PID %d)", pid)
	return nil
}

func showStatus(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	client, err := newAPIClient()
	if err != nil {
		printError("%v", err)
		return nil
	}
	client.httpClient = &http.Client{Timeout: 2 * time.Second}

	running := false
	resp, err := client.get(ctx, "/health")
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			running = true
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	identity := "missing"
	if cfg.Remote.IdentityToken != "" {
		identity = "configured"
	}
	printStatus("Remote", "%s", cfg.Remote.BaseURL)
	printStatus("Identity", "%s", identity)
	printStatus("Watermarks", "%s", cfg.Watermark.Backend)

	if running {
		if states, err := fetchSyncStates(ctx, client); err == nil {
			for _, st := range states {
				printStatus("Source "+st.Source, "%s", describeState(st))
			}
		}
		var list struct {
			Total int `json:"total"`
		}
		if err := client.call(ctx, http.MethodGet, "/chats?limit=1", nil, &list); err == nil {
			printStatus("Chats", "%d", list.Total)
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}
