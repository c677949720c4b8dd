package brp

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/ideamans/bsnlink/pkg/gate/metrics"
)

// ErrPersonNotFound is returned when the registry has no person data for
// the BSN.
var ErrPersonNotFound = errors.New("brp: no person data")

// Client looks up a person by BSN.
type Client interface {
	Lookup(ctx context.Context, bsn BSN) (*Person, error)
}

// HTTPOptions configures an HTTPClient.
type HTTPOptions struct {
	Endpoint string
	Timeout  time.Duration

	// Mutual TLS (all optional).
	CertFile string
	KeyFile  string
	CAFile   string

	Metrics *metrics.Metrics
}

// HTTPClient posts {"bsn": "..."} to the registry endpoint.
type HTTPClient struct {
	endpoint   string
	httpClient *http.Client
	metrics    *metrics.Metrics
}

// NewHTTPClient creates a registry client, loading the TLS material when
// configured.
func NewHTTPClient(opts HTTPOptions) (*HTTPClient, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if opts.CertFile != "" || opts.CAFile != "" {
		tlsConfig, err := loadTLSConfig(opts.CertFile, opts.KeyFile, opts.CAFile)
		if err != nil {
			return nil, err
		}
		transport.TLSClientConfig = tlsConfig
	}

	return &HTTPClient{
		endpoint:   opts.Endpoint,
		httpClient: &http.Client{Timeout: timeout, Transport: transport},
		metrics:    opts.Metrics,
	}, nil
}

// NewHTTPClientWithHTTPClient uses a custom http.Client (for tests).
func NewHTTPClientWithHTTPClient(endpoint string, httpClient *http.Client) *HTTPClient {
	return &HTTPClient{endpoint: endpoint, httpClient: httpClient}
}

func loadTLSConfig(certFile, keyFile, caFile string) (*tls.Config, error) {
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}

	if certFile != "" {
		cert, err := tls.LoadX509KeyPair(certFile, keyFile)
		if err != nil {
			return nil, fmt.Errorf("brp: failed to load client certificate: %w", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}

	if caFile != "" {
		pem, err := os.ReadFile(caFile)
		if err != nil {
			return nil, fmt.Errorf("brp: failed to read root CA: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("brp: no certificates found in %s", caFile)
		}
		cfg.RootCAs = pool
	}

	return cfg, nil
}

// Lookup fetches the person registered under bsn.
func (c *HTTPClient) Lookup(ctx context.Context, bsn BSN) (*Person, error) {
	body, err := json.Marshal(map[string]string{"bsn": bsn.String()})
	if err != nil {
		return nil, fmt.Errorf("brp: failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("brp: failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	c.metrics.ObserveUpstream("brp", start)
	if err != nil {
		return nil, fmt.Errorf("brp: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("brp: unexpected status %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}

	return decodePerson(resp.Body)
}

func decodePerson(r io.Reader) (*Person, error) {
	var p Person
	if err := json.NewDecoder(r).Decode(&p); err != nil {
		return nil, fmt.Errorf("brp: failed to decode response: %w", err)
	}
	if p.Persoon == nil {
		return nil, ErrPersonNotFound
	}
	return &p, nil
}

// FileClient serves registry responses from <dir>/brp-<bsn>.json, for
// local development without access to the registry.
type FileClient struct {
	dir string
}

// NewFileClient creates a client reading from dir.
func NewFileClient(dir string) *FileClient {
	return &FileClient{dir: dir}
}

// Lookup reads the fixture for bsn. A missing fixture is ErrPersonNotFound.
func (c *FileClient) Lookup(ctx context.Context, bsn BSN) (*Person, error) {
	f, err := os.Open(filepath.Join(c.dir, "brp-"+bsn.String()+".json"))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrPersonNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("brp: failed to open fixture: %w", err)
	}
	defer f.Close()

	return decodePerson(f)
}
