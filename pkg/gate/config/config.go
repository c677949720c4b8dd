// Package config defines the configuration of the bsnlink gate.
package config

import (
	"strings"
	"time"

	"github.com/ideamans/bsnlink/pkg/shared/kvs"
	"github.com/ideamans/bsnlink/pkg/shared/logging"
)

// Config represents the application configuration
type Config struct {
	Server  ServerConfig  `yaml:"server" json:"server"`
	Session SessionConfig `yaml:"session" json:"session"`
	OIDC    OIDCConfig    `yaml:"oidc" json:"oidc"`
	BRP     BRPConfig     `yaml:"brp" json:"brp"`
	Tribe   TribeConfig   `yaml:"tribe" json:"tribe"`
	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Host string `yaml:"host" json:"host"`
	Port int    `yaml:"port" json:"port" validate:"min=0,max=65535"`

	// BaseURL is the public URL of this application (APPLICATION_URL_BASE).
	// The OIDC redirect URI is BaseURL + "/auth".
	BaseURL string `yaml:"base_url" json:"base_url" validate:"required,url"`

	// Metrics exposes Prometheus metrics on /metrics.
	Metrics bool `yaml:"metrics" json:"metrics"`

	ReadTimeout     time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout" json:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`
}

// RedirectURL returns the OIDC callback URL.
func (s ServerConfig) RedirectURL() string {
	return strings.TrimRight(s.BaseURL, "/") + "/auth"
}

// SessionConfig contains session management settings
type SessionConfig struct {
	// Store selects the session backend. Store.Namespace names the session
	// table (SESSION_TABLE) and is required.
	Store kvs.Config `yaml:"store" json:"store"`

	TTL        time.Duration `yaml:"ttl" json:"ttl"`
	CookieName string        `yaml:"cookie_name" json:"cookie_name"`

	// CookieSecure defaults to true. Disable only for plain-HTTP development.
	CookieSecure *bool `yaml:"cookie_secure" json:"cookie_secure"`
}

// Secure reports whether the session cookie carries the Secure attribute.
func (s SessionConfig) Secure() bool {
	return s.CookieSecure == nil || *s.CookieSecure
}

// OIDCConfig contains the settings of the OpenID Connect provider
type OIDCConfig struct {
	// AuthURLBase is the provider base URL (AUTH_URL_BASE). Without discovery
	// the endpoints are AuthURLBase + "/auth" and AuthURLBase + "/token".
	AuthURLBase string `yaml:"auth_url_base" json:"auth_url_base" validate:"required,url"`
	ClientID    string `yaml:"client_id" json:"client_id" validate:"required"`
	Scope       string `yaml:"scope" json:"scope" validate:"required"`

	// ClientSecret is a reference to the client secret: an AWS Secrets
	// Manager ARN, "env:NAME" or "file:/path".
	ClientSecret string `yaml:"client_secret" json:"client_secret" validate:"required,secretref"`

	// Discovery resolves the endpoints from the issuer's
	// .well-known/openid-configuration instead.
	Discovery bool `yaml:"discovery" json:"discovery"`

	Timeout time.Duration `yaml:"timeout" json:"timeout"`
}

// BRPConfig contains the population registry settings
type BRPConfig struct {
	// Endpoint is the registry API URL (BRP_API_URL).
	Endpoint string `yaml:"endpoint" json:"endpoint" validate:"required_without=FixturesDir"`

	// FixturesDir serves brp-<bsn>.json files instead of calling the API.
	FixturesDir string `yaml:"fixtures_dir" json:"fixtures_dir"`

	// Mutual TLS towards the registry.
	CertFile string `yaml:"cert_file" json:"cert_file" validate:"required_with=KeyFile"`
	KeyFile  string `yaml:"key_file" json:"key_file" validate:"required_with=CertFile"`
	CAFile   string `yaml:"ca_file" json:"ca_file"`

	Timeout time.Duration `yaml:"timeout" json:"timeout"`

	// Municipality is compared with the person's Gemeente on the check page.
	Municipality string `yaml:"municipality" json:"municipality"`
}

// TribeConfig contains the CRM settings
type TribeConfig struct {
	BaseURL       string `yaml:"base_url" json:"base_url" validate:"required,url"`
	EntityURLBase string `yaml:"entity_url_base" json:"entity_url_base" validate:"required,url"`

	// Entity and field identifiers of the CRM data model.
	BSNField          string `yaml:"bsn_field" json:"bsn_field" validate:"required"`
	InwonerType       string `yaml:"inwoner_type" json:"inwoner_type" validate:"required"`
	ContactMomentType string `yaml:"contact_moment_type" json:"contact_moment_type" validate:"required"`

	Timeout time.Duration `yaml:"timeout" json:"timeout"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level string        `yaml:"level" json:"level" validate:"omitempty,oneof=debug info warn warning error"`
	Color bool          `yaml:"color" json:"color"`
	File  LogFileConfig `yaml:"file" json:"file"`
}

// LogFileConfig enables a rotated log file next to stdout.
type LogFileConfig struct {
	Path       string `yaml:"path" json:"path"`
	MaxSizeMB  int    `yaml:"max_size_mb" json:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups" json:"max_backups"`
	MaxAge     int    `yaml:"max_age" json:"max_age"`
	Compress   bool   `yaml:"compress" json:"compress"`
}

// Rotation converts the file settings for the logging package. It returns
// nil when no path is configured.
func (f LogFileConfig) Rotation() *logging.FileRotationConfig {
	if f.Path == "" {
		return nil
	}
	return &logging.FileRotationConfig{
		Path:       f.Path,
		MaxSizeMB:  f.MaxSizeMB,
		MaxBackups: f.MaxBackups,
		MaxAge:     f.MaxAge,
		Compress:   f.Compress,
	}
}

// Defaults of the CRM data model.
const (
	DefaultTribeBaseURL       = "https://api.tribecrm.nl/v1/odata"
	DefaultTribeEntityURLBase = "https://app.tribecrm.nl/entity/"
	DefaultBSNField           = "_9ecc8d21__f69a__4f4c__a239__5db7a5f21ddd"
	DefaultInwonerType        = "e0d6534a__cc84__4cf7__bdc5__d32f9311c09e"
	DefaultContactMomentType  = "ec99e518__c6e2__4e5c__81b5__7f20ab721737"
)

// ApplyDefaults sets default values for optional fields.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 15 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 30 * time.Second
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}

	if cfg.Session.TTL == 0 {
		cfg.Session.TTL = 240 * time.Minute
	}
	if cfg.Session.CookieName == "" {
		cfg.Session.CookieName = "session"
	}

	if cfg.OIDC.Timeout == 0 {
		cfg.OIDC.Timeout = 10 * time.Second
	}

	if cfg.BRP.Timeout == 0 {
		cfg.BRP.Timeout = 10 * time.Second
	}
	if cfg.BRP.Municipality == "" {
		cfg.BRP.Municipality = "Nijmegen"
	}

	if cfg.Tribe.BaseURL == "" {
		cfg.Tribe.BaseURL = DefaultTribeBaseURL
	}
	if cfg.Tribe.EntityURLBase == "" {
		cfg.Tribe.EntityURLBase = DefaultTribeEntityURLBase
	}
	if cfg.Tribe.BSNField == "" {
		cfg.Tribe.BSNField = DefaultBSNField
	}
	if cfg.Tribe.InwonerType == "" {
		cfg.Tribe.InwonerType = DefaultInwonerType
	}
	if cfg.Tribe.ContactMomentType == "" {
		cfg.Tribe.ContactMomentType = DefaultContactMomentType
	}
	if cfg.Tribe.Timeout == 0 {
		cfg.Tribe.Timeout = 10 * time.Second
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}
