package factory

import (
	"context"
	"fmt"
	"net/http"

	"github.com/ideamans/bsnlink/pkg/gate/brp"
	"github.com/ideamans/bsnlink/pkg/gate/config"
	"github.com/ideamans/bsnlink/pkg/gate/core"
	"github.com/ideamans/bsnlink/pkg/gate/metrics"
	"github.com/ideamans/bsnlink/pkg/gate/oidc"
	"github.com/ideamans/bsnlink/pkg/gate/session"
	"github.com/ideamans/bsnlink/pkg/gate/tribe"
	"github.com/ideamans/bsnlink/pkg/shared/i18n"
	"github.com/ideamans/bsnlink/pkg/shared/kvs"
	"github.com/ideamans/bsnlink/pkg/shared/logging"
)

// sessionPrefix separates session records from other keys of the backend.
const sessionPrefix = "session:"

// DefaultFactory is the default implementation of Factory.
// It can be embedded in custom factories to override specific methods.
type DefaultFactory struct {
	logger  logging.Logger
	metrics *metrics.Metrics
}

// NewDefaultFactory creates a new DefaultFactory. The metrics registry is
// created once so counters survive configuration reloads.
func NewDefaultFactory(logger logging.Logger) *DefaultFactory {
	return &DefaultFactory{
		logger:  logger,
		metrics: metrics.New(),
	}
}

// CreateGate creates a complete Gate with all components
func (f *DefaultFactory) CreateGate(ctx context.Context, cfg *config.Config, sessionKVS kvs.Store) (*core.Gate, error) {
	m := f.CreateMetrics()
	translator := f.CreateTranslator()

	oidcClient, err := f.CreateOIDCClient(ctx, cfg, m)
	if err != nil {
		return nil, fmt.Errorf("failed to create OIDC client: %w", err)
	}

	registry, err := f.CreateRegistry(cfg.BRP, m)
	if err != nil {
		return nil, fmt.Errorf("failed to create registry client: %w", err)
	}

	gate, err := core.New(core.Deps{
		Config:     cfg,
		Sessions:   f.CreateSessionManager(cfg.Session, sessionKVS, oidcClient, m),
		OIDC:       oidcClient,
		Registry:   registry,
		Linker:     f.CreateLinker(cfg.Tribe, m),
		Metrics:    m,
		Translator: translator,
		Logger:     f.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gate: %w", err)
	}
	return gate, nil
}

// CreateKVSStore opens the configured backend and scopes it to sessions.
func (f *DefaultFactory) CreateKVSStore(cfg config.SessionConfig) (kvs.Store, error) {
	base, err := kvs.New(cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("failed to create session store: %w", err)
	}
	f.logger.Info("Session store opened", "type", storeType(cfg.Store), "namespace", cfg.Store.Namespace)
	return kvs.NewNamespacedStore(base, sessionPrefix), nil
}

func storeType(cfg kvs.Config) string {
	if cfg.Type == "" {
		return "memory"
	}
	return cfg.Type
}

// CreateMetrics returns the factory's registry.
func (f *DefaultFactory) CreateMetrics() *metrics.Metrics {
	return f.metrics
}

// CreateTranslator creates an i18n translator
func (f *DefaultFactory) CreateTranslator() *i18n.Translator {
	return i18n.NewTranslator()
}

// CreateOIDCClient creates the confidential OIDC client
func (f *DefaultFactory) CreateOIDCClient(ctx context.Context, cfg *config.Config, m *metrics.Metrics) (*oidc.Client, error) {
	secrets, err := oidc.NewSecretSource(ctx, cfg.OIDC.ClientSecret)
	if err != nil {
		return nil, err
	}

	httpClient := &http.Client{Timeout: cfg.OIDC.Timeout}
	opts := oidc.Options{
		AuthURLBase: cfg.OIDC.AuthURLBase,
		RedirectURL: cfg.Server.RedirectURL(),
		ClientID:    cfg.OIDC.ClientID,
		Scope:       cfg.OIDC.Scope,
		Timeout:     cfg.OIDC.Timeout,
		HTTPClient:  httpClient,
		Metrics:     m,
	}

	if cfg.OIDC.Discovery {
		endpoint, err := oidc.Discover(ctx, cfg.OIDC.AuthURLBase, httpClient)
		if err != nil {
			return nil, err
		}
		opts.Endpoint = endpoint
		f.logger.Info("OIDC endpoints discovered", "token_url", endpoint.TokenURL)
	}

	return oidc.NewClient(opts, secrets, f.logger), nil
}

// CreateSessionManager creates a session manager using the provided KVS
func (f *DefaultFactory) CreateSessionManager(cfg config.SessionConfig, sessionKVS kvs.Store, refresher session.TokenRefresher, m *metrics.Metrics) *session.Manager {
	return session.NewManager(
		session.NewStore(sessionKVS, cfg.TTL),
		refresher,
		session.Options{
			CookieName: cfg.CookieName,
			Secure:     cfg.Secure(),
			Metrics:    m,
		},
		f.logger,
	)
}

// CreateRegistry creates the population registry client
func (f *DefaultFactory) CreateRegistry(cfg config.BRPConfig, m *metrics.Metrics) (brp.Client, error) {
	if cfg.FixturesDir != "" {
		f.logger.Warn("Registry served from fixtures", "dir", cfg.FixturesDir)
		return brp.NewFileClient(cfg.FixturesDir), nil
	}
	return brp.NewHTTPClient(brp.HTTPOptions{
		Endpoint: cfg.Endpoint,
		Timeout:  cfg.Timeout,
		CertFile: cfg.CertFile,
		KeyFile:  cfg.KeyFile,
		CAFile:   cfg.CAFile,
		Metrics:  m,
	})
}

// CreateLinker creates the CRM linker
func (f *DefaultFactory) CreateLinker(cfg config.TribeConfig, m *metrics.Metrics) core.Linker {
	client := tribe.NewClient(tribe.Options{
		BaseURL:           cfg.BaseURL,
		BSNField:          cfg.BSNField,
		InwonerType:       cfg.InwonerType,
		ContactMomentType: cfg.ContactMomentType,
		Timeout:           cfg.Timeout,
		Metrics:           m,
	}, f.logger)
	return tribe.NewLinker(client, cfg.EntityURLBase, f.logger)
}
