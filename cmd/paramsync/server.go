package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"golang.org/x/net/netutil"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/paramsync/internal/api"
	"github.com/kalambet/paramsync/internal/config"
	"github.com/kalambet/paramsync/internal/param"
	"github.com/kalambet/paramsync/internal/storage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the shared parameter registry (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")

		cfg, err := getConfig()
		if err != nil {
			return err
		}
		if addr == "" {
			addr = fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
		}
		return runServe(cmd.Context(), cfg, addr)
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running registry server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show paramsync status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve local preferences and sync passes over MCP (stdio)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := getConfig()
		if err != nil {
			return err
		}
		return runMCP(cmd.Context(), cfg)
	},
}

func init() {
	serveCmd.Flags().String("addr", "", "listen address (default: 127.0.0.1:<server.port>)")
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "paramsync.pid")
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

func runServe(ctx context.Context, cfg config.Config, addr string) error {
	fmt.Fprintf(os.Stderr, "paramsync version %s\n", version)
	defer setupLogging(cfg).Close()

	if cfg.Remote.Token == "" {
		slog.Warn("no registry token configured; clients are not authenticated")
	}

	// Refuse to start twice on the same data dir.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get("http://" + addr + "/health"); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("paramsync is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("something is already serving on %s", addr)
		return fmt.Errorf("address %s already in use", addr)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	store, err := openRegistryStore(cfg)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	handler := api.NewRegistryHandler(api.RegistryDeps{
		Params:  store,
		Token:   cfg.Remote.Token,
		Metrics: api.NewMetrics(),
		Logger:  slog.Default(),
	})

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	ln = netutil.LimitListener(ln, cfg.Server.MaxConns)

	return serveListener(ctx, ln, handler)
}

// openRegistryStore opens the registry's parameter table. It lives in its
// own file next to the local preference database, which watch observes.
func openRegistryStore(cfg config.Config) (*storage.Store, error) {
	return storage.OpenRegistry(cfg.Storage.DataDir)
}

// serveListener serves h on ln until ctx is done, then shuts down
// gracefully.
func serveListener(ctx context.Context, ln net.Listener, h http.Handler) error {
	srv := &http.Server{
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("registry listening", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gCtx.Done()
		slog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func stopServer() error {
	cfg, err := getConfig()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("paramsync is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop paramsync (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to paramsync (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := getConfig()
	if err != nil {
		// Still show partial status even if config fails.
		printError("config error: %v", err)
		return nil
	}

	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(strings.TrimRight(cfg.Remote.URL, "/") + "/health")
	if err != nil {
		printStatus("Registry", "unreachable at %s", cfg.Remote.URL)
	} else {
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			printStatus("Registry", "running at %s", cfg.Remote.URL)
		} else {
			printStatus("Registry", "error (HTTP %d)", resp.StatusCode)
		}
	}
	printStatus("Namespace", "%s", param.Qualify("", cfg.Remote.Namespace))

	if schema, err := param.LoadSchema(cfg.Schema.Path); err != nil {
		printStatus("Schema", "%s (%v)", cfg.Schema.Path, err)
	} else {
		printStatus("Schema", "%s, %d parameters", cfg.Schema.Path, schema.Len())
	}

	if local, err := openLocal(cfg); err != nil {
		printStatus("Local store", "%v", err)
	} else {
		entries, err := local.All()
		if err != nil {
			printStatus("Local store", "%s (%v)", local.Path(), err)
		} else {
			printStatus("Local store", "%s, %d entries", local.Path(), len(entries))
		}
		local.Close()
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

func runMCP(ctx context.Context, cfg config.Config) error {
	// stdout carries the MCP stream; logs go to stderr or log.file.
	defer setupLogging(cfg).Close()

	schema, err := param.LoadSchema(cfg.Schema.Path)
	if err != nil {
		return err
	}

	deps := api.MCPDeps{Schema: schema}
	env, err := openSyncEnv(ctx, cfg)
	if err != nil {
		slog.Warn("registry unavailable; pull/push tools disabled", "error", err)
		local, err := openLocal(cfg)
		if err != nil {
			return err
		}
		defer local.Close()
		deps.Local = local
	} else {
		defer env.Close()
		deps.Local = env.local
		deps.Sync = env.syncer
	}

	stdioSrv := server.NewStdioServer(api.NewMCPServer(deps, version))
	slog.Info("MCP server started (stdio transport)")
	if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("MCP stdio server: %w", err)
	}
	return nil
}
