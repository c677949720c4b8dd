// Package oidc talks to the OpenID Connect provider: it builds the
// authorization URL, exchanges authorization codes and refreshes tokens.
package oidc

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	gooidc "github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/ideamans/bsnlink/pkg/gate/metrics"
	"github.com/ideamans/bsnlink/pkg/shared/logging"
)

// TokenSet is the result of a code exchange or a refresh.
type TokenSet struct {
	AccessToken  string
	RefreshToken string
	IDToken      string

	// ExpiresIn is the access token lifetime in seconds, 0 when the provider
	// did not report one.
	ExpiresIn int64
}

// Validate checks that the set can back a logged-in session: both the
// access token and the refresh token must be present.
func (ts *TokenSet) Validate() error {
	if ts == nil || ts.AccessToken == "" || ts.RefreshToken == "" {
		return &AuthenticationError{Code: "incomplete_token_response", Description: "provider returned no access or refresh token"}
	}
	return nil
}

// Options configures a Client.
type Options struct {
	// AuthURLBase is the provider base URL. It is also sent as the
	// "resource" parameter of the authorization request.
	AuthURLBase string

	// RedirectURL is the application's callback, APPLICATION_URL_BASE + "/auth".
	RedirectURL string

	ClientID string
	Scope    string

	// Endpoint overrides the endpoints derived from AuthURLBase, e.g. with
	// the result of Discover.
	Endpoint oauth2.Endpoint

	// Timeout bounds every call to the token endpoint (default 10s).
	Timeout time.Duration

	// HTTPClient replaces the default client built from Timeout.
	HTTPClient *http.Client

	Metrics *metrics.Metrics
}

// Client is the confidential OIDC client of the gate. One instance is
// shared by all requests; it memoizes the client secret on first use.
type Client struct {
	opts       Options
	endpoint   oauth2.Endpoint
	httpClient *http.Client
	secret     *secretCache
	logger     logging.Logger
	metrics    *metrics.Metrics
}

// NewClient creates a client. Missing settings are reported when an
// operation needs them, as ErrConfiguration.
func NewClient(opts Options, secrets SecretSource, logger logging.Logger) *Client {
	endpoint := opts.Endpoint
	if endpoint.AuthURL == "" && endpoint.TokenURL == "" && opts.AuthURLBase != "" {
		endpoint = StaticEndpoint(opts.AuthURLBase)
	}
	endpoint.AuthStyle = oauth2.AuthStyleInParams

	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Client{
		opts:       opts,
		endpoint:   endpoint,
		httpClient: httpClient,
		secret:     &secretCache{source: secrets},
		logger:     logger.WithModule("oidc"),
		metrics:    opts.Metrics,
	}
}

// StaticEndpoint derives the endpoints from the provider base URL.
func StaticEndpoint(authURLBase string) oauth2.Endpoint {
	base := strings.TrimRight(authURLBase, "/")
	return oauth2.Endpoint{
		AuthURL:   base + "/auth",
		TokenURL:  base + "/token",
		AuthStyle: oauth2.AuthStyleInParams,
	}
}

// Discover resolves the provider endpoints from the issuer's discovery
// document.
func Discover(ctx context.Context, issuer string, httpClient *http.Client) (oauth2.Endpoint, error) {
	if httpClient != nil {
		ctx = gooidc.ClientContext(ctx, httpClient)
	}
	provider, err := gooidc.NewProvider(ctx, strings.TrimRight(issuer, "/"))
	if err != nil {
		return oauth2.Endpoint{}, fmt.Errorf("oidc: discovery failed for %s: %w", issuer, err)
	}
	endpoint := provider.Endpoint()
	endpoint.AuthStyle = oauth2.AuthStyleInParams
	return endpoint, nil
}

// oauth2Config builds the client configuration without a secret.
func (c *Client) oauth2Config() (*oauth2.Config, error) {
	switch {
	case c.opts.RedirectURL == "":
		return nil, fmt.Errorf("%w: application base URL is not set", ErrConfiguration)
	case c.opts.ClientID == "":
		return nil, fmt.Errorf("%w: client id is not set", ErrConfiguration)
	case c.endpoint.AuthURL == "" || c.endpoint.TokenURL == "":
		return nil, fmt.Errorf("%w: provider endpoints are not set", ErrConfiguration)
	}

	return &oauth2.Config{
		ClientID:    c.opts.ClientID,
		RedirectURL: c.opts.RedirectURL,
		Scopes:      strings.Fields(c.opts.Scope),
		Endpoint:    c.endpoint,
	}, nil
}

// confidentialConfig adds the (memoized) client secret.
func (c *Client) confidentialConfig(ctx context.Context) (*oauth2.Config, error) {
	cfg, err := c.oauth2Config()
	if err != nil {
		return nil, err
	}
	secret, err := c.secret.get(ctx)
	if err != nil {
		return nil, err
	}
	cfg.ClientSecret = secret
	return cfg, nil
}

// AuthorizationURL returns the provider URL the browser is redirected to.
// It has no side effects.
func (c *Client) AuthorizationURL(state string) (string, error) {
	cfg, err := c.oauth2Config()
	if err != nil {
		return "", err
	}
	return cfg.AuthCodeURL(state, oauth2.SetAuthURLParam("resource", c.opts.AuthURLBase)), nil
}

// Exchange redeems an authorization code. The state stored in the session
// must equal the state returned on the callback; otherwise the call fails
// with *AuthenticationError before the secret or the provider is touched.
func (c *Client) Exchange(ctx context.Context, code, expectedState, returnedState string) (*TokenSet, error) {
	if expectedState == "" || subtle.ConstantTimeCompare([]byte(expectedState), []byte(returnedState)) != 1 {
		return nil, &AuthenticationError{Code: "state_mismatch", Description: "returned state does not match the session"}
	}
	if code == "" {
		return nil, &AuthenticationError{Code: "missing_code", Description: "callback carries no authorization code"}
	}

	cfg, err := c.confidentialConfig(ctx)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	token, err := cfg.Exchange(c.httpContext(ctx), code)
	c.metrics.ObserveUpstream("oidc", start)
	if err != nil {
		return nil, c.tokenError("code exchange", err)
	}

	tokens := newTokenSet(token)
	if err := tokens.Validate(); err != nil {
		c.logger.Warn("Token response incomplete", "op", "code exchange", "has_refresh_token", tokens.RefreshToken != "")
		return nil, err
	}

	c.logger.Debug("Authorization code exchanged")
	return tokens, nil
}

// Refresh performs the refresh-token grant. When the provider does not
// rotate the refresh token, the old one is kept.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*TokenSet, error) {
	if refreshToken == "" {
		return nil, &AuthenticationError{Code: "missing_refresh_token", Description: "session has no refresh token"}
	}

	cfg, err := c.confidentialConfig(ctx)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	token, err := cfg.TokenSource(c.httpContext(ctx), &oauth2.Token{RefreshToken: refreshToken}).Token()
	c.metrics.ObserveUpstream("oidc", start)
	if err != nil {
		return nil, c.tokenError("refresh", err)
	}

	c.logger.Debug("Tokens refreshed")
	return newTokenSet(token), nil
}

// GenerateState returns 256 random bits, base64url encoded without padding.
// It is used for the OIDC state and for XSRF tokens.
func (c *Client) GenerateState() (string, error) {
	return GenerateState()
}

// GenerateState returns 256 random bits, base64url encoded without padding.
func GenerateState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("oidc: failed to generate state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func (c *Client) httpContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
}

// tokenError maps token endpoint failures to *AuthenticationError.
func (c *Client) tokenError(op string, err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		status := 0
		if re.Response != nil {
			status = re.Response.StatusCode
		}
		c.logger.Warn("Token endpoint rejected request", "op", op, "status", status, "error_code", re.ErrorCode, "error_description", re.ErrorDescription)
		code := re.ErrorCode
		if code == "" {
			code = fmt.Sprintf("http_%d", status)
		}
		return &AuthenticationError{Code: code, Description: re.ErrorDescription, Err: err}
	}

	c.logger.Warn("Token endpoint unreachable", "op", op, "error", err)
	return &AuthenticationError{Code: "token_endpoint_unavailable", Err: err}
}

func newTokenSet(token *oauth2.Token) *TokenSet {
	ts := &TokenSet{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
	}
	if id, ok := token.Extra("id_token").(string); ok {
		ts.IDToken = id
	}
	if !token.Expiry.IsZero() {
		ts.ExpiresIn = int64(time.Until(token.Expiry).Round(time.Second) / time.Second)
	}
	return ts
}
