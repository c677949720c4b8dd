// Package core serves the HTTP surface of the gate: login, the OIDC
// callback, the BSN check page, linking and logout.
package core

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/ideamans/bsnlink/pkg/gate/brp"
	"github.com/ideamans/bsnlink/pkg/gate/config"
	"github.com/ideamans/bsnlink/pkg/gate/metrics"
	"github.com/ideamans/bsnlink/pkg/gate/oidc"
	"github.com/ideamans/bsnlink/pkg/gate/session"
	"github.com/ideamans/bsnlink/pkg/shared/i18n"
	"github.com/ideamans/bsnlink/pkg/shared/logging"
)

// OIDCClient is the part of the OIDC client used by the login flow.
type OIDCClient interface {
	AuthorizationURL(state string) (string, error)
	Exchange(ctx context.Context, code, expectedState, returnedState string) (*oidc.TokenSet, error)
	GenerateState() (string, error)
}

// Linker stores a person in the CRM and links it to a contact moment.
type Linker interface {
	Link(ctx context.Context, accessToken string, bsn brp.BSN, person *brp.Person, contactID string) error
	EntityURL(contactID string) string
}

// Deps are the collaborators of a Gate.
type Deps struct {
	Config     *config.Config
	Sessions   *session.Manager
	OIDC       OIDCClient
	Registry   brp.Client
	Linker     Linker
	Metrics    *metrics.Metrics
	Translator *i18n.Translator
	Logger     logging.Logger

	// Now replaces the clock in tests.
	Now func() time.Time
}

// Gate is the HTTP handler of the application.
type Gate struct {
	config     *config.Config
	sessions   *session.Manager
	oidc       OIDCClient
	registry   brp.Client
	linker     Linker
	metrics    *metrics.Metrics
	translator *i18n.Translator
	templates  *Templates
	logger     logging.Logger
	now        func() time.Time

	router   chi.Router
	draining atomic.Bool
}

// New creates a Gate and its router.
func New(d Deps) (*Gate, error) {
	translator := d.Translator
	if translator == nil {
		translator = i18n.NewTranslator()
	}
	templates, err := newTemplates(translator)
	if err != nil {
		return nil, err
	}

	now := d.Now
	if now == nil {
		now = time.Now
	}

	g := &Gate{
		config:     d.Config,
		sessions:   d.Sessions,
		oidc:       d.OIDC,
		registry:   d.Registry,
		linker:     d.Linker,
		metrics:    d.Metrics,
		translator: translator,
		templates:  templates,
		logger:     d.Logger.WithModule("gate"),
		now:        now,
	}
	g.setupRouter()
	return g, nil
}

func (g *Gate) setupRouter() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(g.accessLog)
	r.Use(middleware.Recoverer)

	r.Get("/health", g.handleHealth)
	r.Get("/ready", g.handleReady)
	if g.config.Server.Metrics && g.metrics != nil {
		r.Get("/metrics", g.handleMetrics(g.metrics.Handler()))
	}
	r.Get("/static/styles.css", g.handleCSS)
	r.Get("/static/home.js", g.handleJS)

	r.Get("/login", g.handleLogin)
	r.Get("/auth", g.handleAuth)
	r.Get("/", g.handleHome)
	r.Post("/", g.handleHome)
	r.Post("/linkuser", g.handleLinkUser)
	r.Get("/logout", g.handleLogout)

	g.router = r
}

// ServeHTTP implements http.Handler.
func (g *Gate) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.router.ServeHTTP(w, r)
}

// StartDraining makes /health report 503 so load balancers stop sending
// traffic before shutdown.
func (g *Gate) StartDraining() {
	g.draining.Store(true)
}

// accessLog logs one line per request at debug level.
func (g *Gate) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		g.logger.Debug("Request handled",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
