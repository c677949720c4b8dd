// Package upstream fakes the systems bsnlink talks to: the OpenID Connect
// provider, the population registry (BRP) and the Tribe CRM OData API. It
// keeps all state in memory and is used by the end-to-end tests and by the
// local test server.
package upstream

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ideamans/bsnlink/pkg/gate/brp"
	"github.com/ideamans/bsnlink/pkg/gate/config"
)

// Options configures the fake.
type Options struct {
	ClientID     string
	ClientSecret string

	// TokenLifetime is reported as expires_in (default one hour).
	TokenLifetime time.Duration

	// Persons are the registry records, keyed by BSN.
	Persons map[string]*brp.Person

	// CRM data model identifiers; the Tribe defaults when empty.
	BSNField          string
	InwonerType       string
	ContactMomentType string
}

// Relation is a Relation_Person record.
type Relation struct {
	ID        string
	Fields    map[string]string
	AddressID string
}

// Inwoner is an inwoner record.
type Inwoner struct {
	ID         string
	Name       string
	RelationID string
}

// Link is a contact moment relationship.
type Link struct {
	ContactID string
	InwonerID string
}

// Upstream is an http.Handler serving the fake systems under /oidc, /brp and
// /tribe.
type Upstream struct {
	opts   Options
	router chi.Router

	mu        sync.Mutex
	seq       int
	codes     map[string]string // code -> redirect_uri
	access    map[string]bool
	refresh   map[string]bool
	relations map[string]*Relation
	inwoners  map[string]*Inwoner
	addresses map[string]map[string]any
	links     []Link
	tokens    []string
}

// New creates the fake.
func New(opts Options) *Upstream {
	if opts.TokenLifetime == 0 {
		opts.TokenLifetime = time.Hour
	}
	if opts.BSNField == "" {
		opts.BSNField = config.DefaultBSNField
	}
	if opts.InwonerType == "" {
		opts.InwonerType = config.DefaultInwonerType
	}
	if opts.ContactMomentType == "" {
		opts.ContactMomentType = config.DefaultContactMomentType
	}

	u := &Upstream{
		opts:      opts,
		codes:     make(map[string]string),
		access:    make(map[string]bool),
		refresh:   make(map[string]bool),
		relations: make(map[string]*Relation),
		inwoners:  make(map[string]*Inwoner),
		addresses: make(map[string]map[string]any),
	}

	r := chi.NewRouter()
	r.Get("/oidc/auth", u.handleAuthorize)
	r.Post("/oidc/token", u.handleToken)
	r.Post("/brp", u.handleBRP)
	r.Route("/tribe", func(r chi.Router) {
		r.Use(u.requireToken)
		r.Get("/"+opts.InwonerType, u.handleFindInwoner)
		r.Post("/Relation_Person", u.handleRelation)
		r.Post("/"+opts.InwonerType, u.handleInwoner)
		r.Post("/Address", u.handleAddress)
		r.Post("/"+opts.ContactMomentType, u.handleLink)
	})
	u.router = r
	return u
}

// ServeHTTP implements http.Handler.
func (u *Upstream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	u.router.ServeHTTP(w, r)
}

func (u *Upstream) nextID(prefix string) string {
	u.seq++
	return fmt.Sprintf("%s-%d", prefix, u.seq)
}

func randomToken(prefix string) string {
	b := make([]byte, 12)
	_, _ = rand.Read(b)
	return prefix + hex.EncodeToString(b)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// handleAuthorize approves every request and sends the browser back with a
// fresh code.
func (u *Upstream) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("client_id") != u.opts.ClientID || q.Get("response_type") != "code" {
		http.Error(w, "invalid client", http.StatusBadRequest)
		return
	}
	redirect, err := url.Parse(q.Get("redirect_uri"))
	if err != nil || !redirect.IsAbs() {
		http.Error(w, "invalid redirect_uri", http.StatusBadRequest)
		return
	}

	code := randomToken("code-")
	u.mu.Lock()
	u.codes[code] = redirect.String()
	u.mu.Unlock()

	back := redirect.Query()
	back.Set("code", code)
	back.Set("state", q.Get("state"))
	redirect.RawQuery = back.Encode()
	http.Redirect(w, r, redirect.String(), http.StatusFound)
}

func (u *Upstream) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_request"})
		return
	}
	if r.PostForm.Get("client_id") != u.opts.ClientID || r.PostForm.Get("client_secret") != u.opts.ClientSecret {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid_client"})
		return
	}

	u.mu.Lock()
	defer u.mu.Unlock()

	switch r.PostForm.Get("grant_type") {
	case "authorization_code":
		code := r.PostForm.Get("code")
		redirectURI, ok := u.codes[code]
		delete(u.codes, code)
		if !ok || redirectURI != r.PostForm.Get("redirect_uri") {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant"})
			return
		}
	case "refresh_token":
		token := r.PostForm.Get("refresh_token")
		if !u.refresh[token] {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant"})
			return
		}
		delete(u.refresh, token)
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unsupported_grant_type"})
		return
	}

	access, refresh := randomToken("at-"), randomToken("rt-")
	u.access[access] = true
	u.refresh[refresh] = true
	u.tokens = append(u.tokens, access)

	writeJSON(w, http.StatusOK, map[string]any{
		"access_token":  access,
		"refresh_token": refresh,
		"token_type":    "Bearer",
		"expires_in":    int64(u.opts.TokenLifetime / time.Second),
	})
}

// handleBRP answers a registry query. Unknown numbers get an empty answer,
// like the real registry.
func (u *Upstream) handleBRP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		BSN string `json:"bsn"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if person, ok := u.opts.Persons[req.BSN]; ok {
		writeJSON(w, http.StatusOK, person)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{})
}

func (u *Upstream) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u.mu.Lock()
		ok := u.access[r.URL.Query().Get("access_token")]
		u.mu.Unlock()
		if !ok {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid access token"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

type odataRef struct {
	ID string `json:"ID"`
}

func (u *Upstream) handleFindInwoner(w http.ResponseWriter, r *http.Request) {
	filter := r.URL.Query().Get("$filter")
	prefix := "Person/" + u.opts.BSNField + " eq '"
	if !strings.HasPrefix(filter, prefix) || !strings.HasSuffix(filter, "'") {
		http.Error(w, "unsupported filter", http.StatusBadRequest)
		return
	}
	bsn := strings.TrimSuffix(strings.TrimPrefix(filter, prefix), "'")

	type person struct {
		ID      string    `json:"ID"`
		Address *odataRef `json:"Address"`
	}
	type item struct {
		ID     string  `json:"ID"`
		Person *person `json:"Person"`
	}

	u.mu.Lock()
	values := []item{}
	for _, inw := range u.inwoners {
		rel := u.relations[inw.RelationID]
		if rel == nil || rel.Fields[u.opts.BSNField] != bsn {
			continue
		}
		p := &person{ID: rel.ID}
		if rel.AddressID != "" {
			p.Address = &odataRef{ID: rel.AddressID}
		}
		values = append(values, item{ID: inw.ID, Person: p})
	}
	u.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{
		"@odata.context": "$metadata#OData." + u.opts.InwonerType,
		"value":          values,
	})
}

func (u *Upstream) handleRelation(w http.ResponseWriter, r *http.Request) {
	var body map[string]string
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	u.mu.Lock()
	defer u.mu.Unlock()

	id := body["ID"]
	rel, ok := u.relations[id]
	switch {
	case id == "":
		rel = &Relation{ID: u.nextID("rel"), Fields: map[string]string{}}
		u.relations[rel.ID] = rel
	case !ok:
		http.Error(w, "unknown relation", http.StatusNotFound)
		return
	}
	for k, v := range body {
		if k != "ID" {
			rel.Fields[k] = v
		}
	}
	writeJSON(w, http.StatusOK, odataRef{ID: rel.ID})
}

func (u *Upstream) handleInwoner(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name   string   `json:"Name"`
		Person odataRef `json:"Person"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	u.mu.Lock()
	defer u.mu.Unlock()

	if _, ok := u.relations[body.Person.ID]; !ok {
		http.Error(w, "unknown person", http.StatusBadRequest)
		return
	}
	inw := &Inwoner{ID: u.nextID("inw"), Name: body.Name, RelationID: body.Person.ID}
	u.inwoners[inw.ID] = inw
	writeJSON(w, http.StatusOK, odataRef{ID: inw.ID})
}

func (u *Upstream) handleAddress(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	personRef, _ := body["Person"].(map[string]any)
	relationID, _ := personRef["ID"].(string)

	u.mu.Lock()
	defer u.mu.Unlock()

	rel, ok := u.relations[relationID]
	if !ok {
		http.Error(w, "unknown person", http.StatusBadRequest)
		return
	}

	id, _ := body["ID"].(string)
	if id == "" {
		id = u.nextID("addr")
	} else if _, ok := u.addresses[id]; !ok {
		http.Error(w, "unknown address", http.StatusNotFound)
		return
	}
	delete(body, "Person")
	u.addresses[id] = body
	rel.AddressID = id
	writeJSON(w, http.StatusOK, odataRef{ID: id})
}

func (u *Upstream) handleLink(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ID           string   `json:"ID"`
		Relationship odataRef `json:"Relationship"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.ID == "" {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	u.mu.Lock()
	defer u.mu.Unlock()

	if _, ok := u.inwoners[body.Relationship.ID]; !ok {
		http.Error(w, "unknown inwoner", http.StatusBadRequest)
		return
	}
	u.links = append(u.links, Link{ContactID: body.ID, InwonerID: body.Relationship.ID})
	writeJSON(w, http.StatusOK, odataRef{ID: body.ID})
}

// Snapshot is a copy of the CRM state.
type Snapshot struct {
	Relations []Relation
	Inwoners  []Inwoner
	Addresses map[string]map[string]any
	Links     []Link

	// Tokens lists every access token issued, oldest first.
	Tokens []string
}

// Snapshot returns a copy of the current state.
func (u *Upstream) Snapshot() Snapshot {
	u.mu.Lock()
	defer u.mu.Unlock()

	s := Snapshot{
		Addresses: make(map[string]map[string]any, len(u.addresses)),
		Links:     append([]Link(nil), u.links...),
		Tokens:    append([]string(nil), u.tokens...),
	}
	for _, rel := range u.relations {
		fields := make(map[string]string, len(rel.Fields))
		for k, v := range rel.Fields {
			fields[k] = v
		}
		s.Relations = append(s.Relations, Relation{ID: rel.ID, Fields: fields, AddressID: rel.AddressID})
	}
	for _, inw := range u.inwoners {
		s.Inwoners = append(s.Inwoners, *inw)
	}
	for id, addr := range u.addresses {
		s.Addresses[id] = addr
	}
	return s
}
