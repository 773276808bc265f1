// ABOUTME: Serve command running the gateway HTTP server
// ABOUTME: Loads configuration, prints the banner and shuts down gracefully on SIGINT/SIGTERM

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/markalston/admin-gateway/config"
	"github.com/markalston/admin-gateway/handlers"
	"github.com/markalston/admin-gateway/logger"
)

const appName = "admin-gateway"

var (
	shutdownTimeout time.Duration
	quiet           bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the gateway",
	Long: `Run the gateway HTTP server.

Configuration is read from the environment and an optional .env file:
  UPSTREAM_BASE_URL, PORT, BASE_PATH, PROTECTED_PREFIX, APP_ENV,
  COOKIE_SECURE, CORS_ALLOWED_ORIGINS, RATE_LIMIT_ENABLED, RATE_LIMIT_LOGIN,
  UPSTREAM_TIMEOUT, UPSTREAM_ALL_PROXY, LOG_LEVEL, LOG_FORMAT`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		if exitCode := runServe(ctx, os.Stdout); exitCode != 0 {
			os.Exit(exitCode)
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().DurationVar(&shutdownTimeout, "shutdown-timeout", 10*time.Second, "Time allowed for in-flight requests on shutdown")
	serveCmd.Flags().BoolVar(&quiet, "quiet", false, "Do not print the startup banner")
}

// runServe starts the server and blocks until ctx is done
func runServe(ctx context.Context, w io.Writer) int {
	initLogging()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		return 1
	}

	srv, err := newServer(cfg)
	if err != nil {
		slog.Error("Failed to initialize gateway", "error", err)
		return 1
	}

	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		slog.Error("Failed to listen", "addr", srv.Addr, "error", err)
		return 1
	}

	if !quiet {
		printBanner(w)
	}
	slog.Info("Starting admin gateway",
		"upstream", cfg.UpstreamBaseURL,
		"base_path", cfg.BasePath,
		"protected_prefix", cfg.ProtectedPrefix,
		"env", cfg.AppEnv,
	)
	if cfg.UpstreamAllProxy != "" {
		slog.Info("Upstream proxy configured")
	}

	if err := serve(ctx, srv, ln, shutdownTimeout); err != nil {
		slog.Error("Server failed", "error", err)
		return 1
	}
	slog.Info("Server stopped")
	return 0
}

// initLogging applies .env before configuring the logger so LOG_LEVEL and
// LOG_FORMAT from the file take effect
func initLogging() {
	envErr := config.LoadEnvFile()
	logger.Init()
	if envErr != nil {
		slog.Warn("Ignoring unreadable .env file", "error", envErr)
	}
}

// newServer wires the handlers into an http.Server for cfg
func newServer(cfg *config.Config) (*http.Server, error) {
	h, err := handlers.NewHandler(cfg)
	if err != nil {
		return nil, err
	}

	return &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           h.NewRouter(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}, nil
}

// serve runs srv on ln until ctx is canceled, then drains in-flight requests
func serve(ctx context.Context, srv *http.Server, ln net.Listener, timeout time.Duration) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("Server listening", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serving: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down: %w", err)
		}
		return nil
	})

	return g.Wait()
}

func printBanner(w io.Writer) {
	fmt.Fprintln(w, figure.NewFigure(appName, "cybermedium", true).String())
}
