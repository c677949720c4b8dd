package server

import (
	"context"
	"fmt"
	"net/http"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ideamans/bsnlink/pkg/gate/config"
	"github.com/ideamans/bsnlink/pkg/gate/core"
	"github.com/ideamans/bsnlink/pkg/gate/factory"
	"github.com/ideamans/bsnlink/pkg/shared/filewatcher"
	"github.com/ideamans/bsnlink/pkg/shared/kvs"
	"github.com/ideamans/bsnlink/pkg/shared/logging"
)

// reloadTimeout bounds building a gate on reload (secret lookup, discovery).
const reloadTimeout = 30 * time.Second

// GateManager serves the current Gate and replaces it when the
// configuration file changes. The session store is opened once and shared
// by every gate, so reloads keep sessions.
type GateManager struct {
	gate   atomic.Pointer[core.Gate]
	config atomic.Pointer[config.Config]

	loader     *config.FileLoader
	factory    factory.Factory
	sessionKVS kvs.Store
	logger     logging.Logger

	reloadMu sync.Mutex
	draining atomic.Bool
}

// NewGateManager loads the configuration and builds the initial gate.
func NewGateManager(ctx context.Context, configPath string, f factory.Factory, logger logging.Logger) (*GateManager, error) {
	loader := config.NewFileLoader(configPath)
	cfg, err := loader.Load()
	if err != nil {
		return nil, err
	}

	sessionKVS, err := f.CreateKVSStore(cfg.Session)
	if err != nil {
		return nil, err
	}

	gate, err := f.CreateGate(ctx, cfg, sessionKVS)
	if err != nil {
		_ = sessionKVS.Close()
		return nil, err
	}

	m := &GateManager{
		loader:     loader,
		factory:    f,
		sessionKVS: sessionKVS,
		logger:     logger.WithModule("manager"),
	}
	m.gate.Store(gate)
	m.config.Store(cfg)

	m.logger.Info("Gate initialized", "config_path", configPath)
	return m, nil
}

// Config returns the configuration of the current gate.
func (m *GateManager) Config() *config.Config {
	return m.config.Load()
}

// OnFileChange implements filewatcher.ChangeListener.
func (m *GateManager) OnFileChange(event filewatcher.ChangeEvent) {
	if event.Error != nil {
		m.logger.Error("File change event error", "error", event.Error)
		return
	}

	m.logger.Info("Config change detected, starting reload", "path", event.Path)
	m.reload()
}

// reload builds a gate from the changed file and swaps it in. On any error
// the current gate stays in place.
func (m *GateManager) reload() {
	m.reloadMu.Lock()
	defer m.reloadMu.Unlock()

	cfg, err := m.loader.Load()
	if err != nil {
		m.logger.Error("Failed to reload configuration, keeping current gate", "error", err)
		return
	}

	current := m.config.Load()
	if !reflect.DeepEqual(cfg.Session.Store, current.Session.Store) {
		m.logger.Warn("Session store settings changed; they take effect after a restart")
	}
	if cfg.Server.Host != current.Server.Host || cfg.Server.Port != current.Server.Port {
		m.logger.Warn("Listen address changed; it takes effect after a restart")
	}

	ctx, cancel := context.WithTimeout(context.Background(), reloadTimeout)
	defer cancel()

	gate, err := m.factory.CreateGate(ctx, cfg, m.sessionKVS)
	if err != nil {
		m.logger.Error("Failed to rebuild gate, keeping current gate", "error", err)
		return
	}
	if m.draining.Load() {
		gate.StartDraining()
	}

	m.gate.Store(gate)
	m.config.Store(cfg)
	m.logger.Info("Configuration reloaded successfully")
}

// SetDraining makes health checks fail from now on, including on gates
// built by later reloads.
func (m *GateManager) SetDraining() {
	m.draining.Store(true)
	m.gate.Load().StartDraining()
}

// Handler returns the HTTP handler
// The handler always uses the latest gate stored atomically
func (m *GateManager) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.gate.Load().ServeHTTP(w, r)
	})
}

// Close closes the session store.
func (m *GateManager) Close() error {
	if err := m.sessionKVS.Close(); err != nil {
		return fmt.Errorf("failed to close session store: %w", err)
	}
	return nil
}
