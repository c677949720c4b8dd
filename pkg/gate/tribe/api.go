// Package tribe talks to the Tribe CRM OData API on behalf of the logged in
// employee.
package tribe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ideamans/bsnlink/pkg/gate/brp"
	"github.com/ideamans/bsnlink/pkg/gate/metrics"
	"github.com/ideamans/bsnlink/pkg/shared/logging"
)

// APIError is a non-2xx response from the CRM.
type APIError struct {
	Op     string
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("tribe: %s failed with status %d: %s", e.Op, e.Status, e.Body)
}

// ErrMissingID is returned when a create or update response carries no ID.
var ErrMissingID = errors.New("tribe: response has no ID")

// Options configures the CRM client.
type Options struct {
	BaseURL           string
	BSNField          string
	InwonerType       string
	ContactMomentType string
	Timeout           time.Duration
	HTTPClient        *http.Client
	Metrics           *metrics.Metrics
}

// Client creates per-token API handles.
type Client struct {
	opts       Options
	httpClient *http.Client
	logger     logging.Logger
}

// NewClient creates a CRM client.
func NewClient(opts Options, logger logging.Logger) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")

	return &Client{opts: opts, httpClient: httpClient, logger: logger.WithModule("tribe")}
}

// API returns a handle that authenticates with accessToken.
func (c *Client) API(accessToken string) *API {
	return &API{c: c, token: accessToken}
}

// API performs CRM calls with one access token.
type API struct {
	c     *Client
	token string
}

// Inwoner identifies an inwoner record and the person and address it refers to.
type Inwoner struct {
	ID         string
	RelationID string
	AddressID  string
}

// PersonRelation is a Relation_Person entity. ID is set for updates; BSN
// only when creating.
type PersonRelation struct {
	ID         string
	BSN        string
	FirstName  string
	LastName   string
	MiddleName string
}

// Address is an Address entity linked to a person.
type Address struct {
	ID                string `json:"ID,omitempty"`
	City              string `json:"City"`
	HouseNumber       int    `json:"HouseNumber"`
	HouseNumberSuffix string `json:"HouseNumberSuffix"`
	Postalcode        string `json:"Postalcode"`
	Street            string `json:"Street"`
}

type ref struct {
	ID string `json:"ID"`
}

type inwonerList struct {
	Context string `json:"@odata.context"`
	Value   []struct {
		ID     string `json:"ID"`
		Person *struct {
			ID      string `json:"ID"`
			Address *ref   `json:"Address"`
		} `json:"Person"`
	} `json:"value"`
}

// FindInwoner looks up the inwoner whose person carries bsn. The second
// result is false when there is none.
func (a *API) FindInwoner(ctx context.Context, bsn brp.BSN) (Inwoner, bool, error) {
	o := a.c.opts
	// The filter is written into the URL by hand: the CRM rejects '+' for spaces.
	filter := strings.ReplaceAll(fmt.Sprintf("Person/%s eq '%s'", o.BSNField, bsn), " ", "%20")
	path := "/" + o.InwonerType + "?$expand=Person($expand=Address)&$filter=" + filter

	var list inwonerList
	if err := a.do(ctx, "find inwoner", http.MethodGet, path, nil, &list); err != nil {
		return Inwoner{}, false, err
	}

	if list.Context != "$metadata#OData."+o.InwonerType {
		return Inwoner{}, false, fmt.Errorf("tribe: unexpected OData context %q", list.Context)
	}
	if len(list.Value) == 0 {
		return Inwoner{}, false, nil
	}
	if len(list.Value) > 1 {
		a.c.logger.Warn("More than one inwoner with the same BSN", "bsn", logging.Mask(bsn.String()), "count", len(list.Value))
	}

	first := list.Value[0]
	if first.ID == "" || first.Person == nil || first.Person.ID == "" {
		return Inwoner{}, false, errors.New("tribe: inwoner record without IDs")
	}
	inw := Inwoner{ID: first.ID, RelationID: first.Person.ID}
	if first.Person.Address != nil {
		inw.AddressID = first.Person.Address.ID
	}
	return inw, true, nil
}

// PostRelation creates or (with ID set) updates a person relation and
// returns its ID.
func (a *API) PostRelation(ctx context.Context, rel PersonRelation) (string, error) {
	body := map[string]string{
		"FirstName":  rel.FirstName,
		"LastName":   rel.LastName,
		"MiddleName": rel.MiddleName,
	}
	if rel.ID != "" {
		body["ID"] = rel.ID
	}
	if rel.BSN != "" {
		body[a.c.opts.BSNField] = rel.BSN
	}
	return a.post(ctx, "post relation", "/Relation_Person", body)
}

// PostInwoner creates an inwoner for the person relation.
func (a *API) PostInwoner(ctx context.Context, name, relationID string) (string, error) {
	return a.post(ctx, "post inwoner", "/"+a.c.opts.InwonerType, struct {
		Name   string `json:"Name"`
		Person ref    `json:"Person"`
	}{name, ref{relationID}})
}

// PostAddress creates or (with ID set) updates the address of a person.
func (a *API) PostAddress(ctx context.Context, addr Address, relationID string) (string, error) {
	return a.post(ctx, "post address", "/Address", struct {
		Address
		Person ref `json:"Person"`
	}{addr, ref{relationID}})
}

// PostContactMomentRelationship links an inwoner to a contact moment.
func (a *API) PostContactMomentRelationship(ctx context.Context, contactID, inwonerID string) (string, error) {
	return a.post(ctx, "link contact moment", "/"+a.c.opts.ContactMomentType, struct {
		ID           string `json:"ID"`
		Relationship ref    `json:"Relationship"`
	}{contactID, ref{inwonerID}})
}

func (a *API) post(ctx context.Context, op, path string, body any) (string, error) {
	var out ref
	if err := a.do(ctx, op, http.MethodPost, path, body, &out); err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", fmt.Errorf("%s: %w", op, ErrMissingID)
	}
	return out.ID, nil
}

func (a *API) do(ctx context.Context, op, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("tribe: failed to marshal %s request: %w", op, err)
		}
		reader = bytes.NewReader(data)
	}

	target := a.c.opts.BaseURL + path
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	target += sep + "access_token=" + strings.ReplaceAll(url.QueryEscape(a.token), "+", "%20")

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("tribe: failed to create %s request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := a.c.httpClient.Do(req)
	a.c.opts.Metrics.ObserveUpstream("tribe", start)
	if err != nil {
		return fmt.Errorf("tribe: %s request failed: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &APIError{Op: op, Status: resp.StatusCode, Body: string(bytes.TrimSpace(data))}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("tribe: failed to decode %s response: %w", op, err)
	}
	return nil
}
