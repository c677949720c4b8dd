package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/ideamans/bsnlink/pkg/gate/config"
	"github.com/ideamans/bsnlink/pkg/gate/factory"
	"github.com/ideamans/bsnlink/pkg/shared/filewatcher"
	"github.com/ideamans/bsnlink/pkg/shared/logging"
)

// Config represents the configuration for running the server
type Config struct {
	ConfigPath string
	Host       string // From command-line flag
	Port       int    // From command-line flag
	HostSet    bool   // Whether host was explicitly set via flag
	PortSet    bool   // Whether port was explicitly set via flag
	Logger     logging.Logger
	Version    string

	// Factory replaces the default component factory.
	Factory factory.Factory

	// OnListen is called with the bound address once the server accepts
	// connections.
	OnListen func(addr net.Addr)
}

// Run starts the server and blocks until ctx is cancelled, SIGINT/SIGTERM is
// received or the server fails.
func Run(ctx context.Context, cfg Config) error {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewLogger("main", logging.LevelInfo, true)
	}

	logger.Info("Starting bsnlink", "version", cfg.Version)

	f := cfg.Factory
	if f == nil {
		f = factory.NewDefaultFactory(logger)
	}

	manager, err := NewGateManager(ctx, cfg.ConfigPath, f, logger)
	if err != nil {
		return formatConfigError(err)
	}
	defer func() {
		if err := manager.Close(); err != nil {
			logger.Error("Failed to close gate manager", "error", err)
		}
	}()

	appCfg := manager.Config()
	addr := resolveAddr(cfg, appCfg.Server, logger)

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Hot reload with a 100ms debounce
	watcher, err := filewatcher.NewWatcher(cfg.ConfigPath, 100*time.Millisecond)
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()
	watcher.AddListener(manager)
	go func() {
		if err := watcher.Start(sigCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("File watcher error", "error", err)
		}
	}()
	logger.Info("File watcher initialized for hot reload", "config_file", cfg.ConfigPath)

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	server := &http.Server{
		Handler:           manager.Handler(),
		ReadHeaderTimeout: appCfg.Server.ReadTimeout,
		ReadTimeout:       appCfg.Server.ReadTimeout,
		WriteTimeout:      appCfg.Server.WriteTimeout,
	}

	logger.Info("Starting server", "addr", ln.Addr().String())

	errChan := make(chan error, 1)
	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("server error: %w", err)
			return
		}
		errChan <- nil
	}()

	if cfg.OnListen != nil {
		cfg.OnListen(ln.Addr())
	}

	select {
	case <-sigCtx.Done():
		logger.Info("Shutdown signal received, stopping server...")

		// Health checks return 503 from here on
		manager.SetDraining()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), appCfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", "error", err)
		}
		if err := <-errChan; err != nil {
			logger.Error("Server stopped with error", "error", err)
			return err
		}
	case err := <-errChan:
		if err != nil {
			logger.Error("Server stopped with error", "error", err)
			return err
		}
	}

	logger.Info("Server stopped successfully")
	return nil
}

// resolveAddr resolves the listen address.
// Priority: Command-line flags > Config file > Flag defaults
func resolveAddr(cfg Config, serverCfg config.ServerConfig, logger logging.Logger) string {
	host, port := cfg.Host, cfg.Port

	if !cfg.HostSet && serverCfg.Host != "" {
		host = serverCfg.Host
	} else if cfg.HostSet {
		logger.Info("Using host from command-line flag", "host", host)
	}

	if !cfg.PortSet && serverCfg.Port != 0 {
		port = serverCfg.Port
	} else if cfg.PortSet {
		logger.Info("Using port from command-line flag", "port", port)
	}

	return net.JoinHostPort(host, strconv.Itoa(port))
}
