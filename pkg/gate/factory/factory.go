// Package factory wires the components of the gate from configuration.
package factory

import (
	"context"

	"github.com/ideamans/bsnlink/pkg/gate/brp"
	"github.com/ideamans/bsnlink/pkg/gate/config"
	"github.com/ideamans/bsnlink/pkg/gate/core"
	"github.com/ideamans/bsnlink/pkg/gate/metrics"
	"github.com/ideamans/bsnlink/pkg/gate/oidc"
	"github.com/ideamans/bsnlink/pkg/gate/session"
	"github.com/ideamans/bsnlink/pkg/shared/i18n"
	"github.com/ideamans/bsnlink/pkg/shared/kvs"
)

// Factory creates the gate and its components. It serves as a simple DI
// container: embed DefaultFactory and override single methods to replace
// one component, e.g. the registry client in an acceptance environment.
type Factory interface {
	// CreateGate builds a complete Gate on top of sessionKVS, which should
	// come from CreateKVSStore and outlive configuration reloads.
	CreateGate(ctx context.Context, cfg *config.Config, sessionKVS kvs.Store) (*core.Gate, error)

	// CreateKVSStore opens the session backend.
	CreateKVSStore(cfg config.SessionConfig) (kvs.Store, error)

	CreateMetrics() *metrics.Metrics
	CreateTranslator() *i18n.Translator

	// CreateOIDCClient resolves the client secret reference and, with
	// discovery enabled, the provider endpoints.
	CreateOIDCClient(ctx context.Context, cfg *config.Config, m *metrics.Metrics) (*oidc.Client, error)

	CreateSessionManager(cfg config.SessionConfig, sessionKVS kvs.Store, refresher session.TokenRefresher, m *metrics.Metrics) *session.Manager

	// CreateRegistry returns a fixture-backed client when a fixtures
	// directory is configured, the HTTP client otherwise.
	CreateRegistry(cfg config.BRPConfig, m *metrics.Metrics) (brp.Client, error)

	CreateLinker(cfg config.TribeConfig, m *metrics.Metrics) core.Linker
}
