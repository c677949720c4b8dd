package core

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/ideamans/bsnlink/pkg/gate/assets"
	"github.com/ideamans/bsnlink/pkg/gate/brp"
	"github.com/ideamans/bsnlink/pkg/gate/oidc"
	"github.com/ideamans/bsnlink/pkg/gate/session"
	"github.com/ideamans/bsnlink/pkg/shared/logging"
)

// handleHealth handles the health check endpoint
func (g *Gate) handleHealth(w http.ResponseWriter, r *http.Request) {
	if g.draining.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("DRAINING"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady reports whether the session store answers.
func (g *Gate) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := g.sessions.Store().Ping(ctx); err != nil {
		g.logger.Warn("Readiness check failed", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("NOT READY"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("READY"))
}

// handleMetrics samples the session count before each scrape. A store
// failure leaves the previous value in place.
func (g *Gate) handleMetrics(next http.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		n, err := g.sessions.Store().Count(ctx)
		cancel()
		if err != nil {
			g.logger.Warn("Failed to count sessions", "error", err)
		} else {
			g.metrics.SetSessions(n)
		}
		next.ServeHTTP(w, r)
	}
}

func (g *Gate) handleCSS(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/css; charset=utf-8")
	w.Header().Set("Cache-Control", "public, max-age=86400")
	_, _ = w.Write([]byte(assets.GetEmbeddedCSS()))
}

func (g *Gate) handleJS(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/javascript; charset=utf-8")
	w.Header().Set("Cache-Control", "public, max-age=86400")
	_, _ = w.Write([]byte(assets.GetEmbeddedJS()))
}

// handleLogin starts a login cycle for a contact moment: a fresh
// unauthenticated session holding the state nonce, then off to the provider.
func (g *Gate) handleLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rc, err := newRequestContext(w, r)
	if err != nil {
		g.badRequest(w)
		return
	}

	contactID := rc.Query.Get("contact_id")
	if contactID == "" {
		g.badRequest(w)
		return
	}

	h, err := g.sessions.Initialize(ctx, rc.Cookies)
	if err != nil {
		g.serverError(w, "Failed to load session", err)
		return
	}
	if h.IsLoggedIn() {
		http.Redirect(w, r, homeURL(contactID), http.StatusFound)
		return
	}

	state, err := g.oidc.GenerateState()
	if err != nil {
		g.serverError(w, "Failed to generate state", err)
		return
	}
	authURL, err := g.oidc.AuthorizationURL(state)
	if err != nil {
		g.serverError(w, "Failed to build authorization URL", err)
		return
	}

	if err := h.Create(ctx, session.Session{State: state, ContactID: contactID}); err != nil {
		g.serverError(w, "Failed to create session", err)
		return
	}

	g.metrics.IncLoginStarted()
	g.logger.Debug("Login started", "contact", contactID)
	http.SetCookie(w, h.Cookie())
	http.Redirect(w, r, authURL, http.StatusFound)
}

// handleAuth completes the login cycle on the provider's callback.
func (g *Gate) handleAuth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rc, err := newRequestContext(w, r)
	if err != nil {
		g.badRequest(w)
		return
	}

	h, err := g.sessions.Initialize(ctx, rc.Cookies)
	if err != nil {
		g.serverError(w, "Failed to load session", err)
		return
	}
	if !h.Found() {
		g.metrics.IncCallback("no_session")
		http.Redirect(w, r, "/login", http.StatusFound)
		return
	}

	stored := h.Session()
	tokens, err := g.oidc.Exchange(ctx, rc.Query.Get("code"), stored.State, rc.Query.Get("state"))
	if err == nil {
		err = tokens.Validate()
	}
	if err != nil {
		var authErr *oidc.AuthenticationError
		if !errors.As(err, &authErr) {
			g.metrics.IncCallback("error")
			g.serverError(w, "Token exchange failed", err)
			return
		}

		g.metrics.IncCallback("rejected")
		g.logger.Warn("Login rejected", "code", authErr.Code, "description", authErr.Description)
		// The state is single use: a rejected callback burns it.
		if err := h.Update(ctx, func(s *session.Session) { s.State = "" }); err != nil {
			g.logger.Warn("Failed to clear state", "session", logging.Mask(h.ID()), "error", err)
		}
		http.Redirect(w, r, loginURL(stored.ContactID), http.StatusFound)
		return
	}

	xsrf, err := g.oidc.GenerateState()
	if err != nil {
		g.serverError(w, "Failed to generate XSRF token", err)
		return
	}

	expiresIn := tokens.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = session.DefaultExpiresIn
	}

	// A fresh id for the authenticated session; Create drops the
	// pre-login record.
	err = h.Create(ctx, session.Session{
		LoggedIn:     true,
		ContactID:    stored.ContactID,
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		ExpiresAt:    g.now().UnixMilli() + expiresIn*1000,
		XSRFToken:    xsrf,
	})
	if err != nil {
		g.metrics.IncCallback("error")
		g.serverError(w, "Failed to store session", err)
		return
	}

	g.metrics.IncCallback("success")
	g.logger.Info("Login completed", "session", logging.Mask(h.ID()), "contact", stored.ContactID)
	http.SetCookie(w, h.Cookie())
	http.Redirect(w, r, homeURL(stored.ContactID), http.StatusFound)
}

// homeResponse is the JSON answer of the check page.
type homeResponse struct {
	Title        string        `json:"title"`
	ContactID    string        `json:"contact_id"`
	XSRFToken    string        `json:"xsrf_token"`
	BSN          string        `json:"bsn,omitempty"`
	ControleData *ControleData `json:"controle_data,omitempty"`
	Error        string        `json:"error,omitempty"`
	HTML         string        `json:"html"`
}

// handleHome renders the check page. A POST looks up the submitted BSN in
// the registry and shows the result in the form.
func (g *Gate) handleHome(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rc, err := newRequestContext(w, r)
	if err != nil {
		g.badRequest(w)
		return
	}

	contactID := rc.Param("contact_id")
	if contactID == "" {
		g.badRequest(w)
		return
	}

	h, ok := g.authenticate(w, r, rc, contactID)
	if !ok {
		return
	}

	form := FormData{Lang: rc.Lang, ContactID: contactID}
	if rc.Method == http.MethodPost {
		g.check(ctx, rc, &form)
	}
	form.XSRFToken = h.Session().XSRFToken

	title := g.translator.T(rc.Lang, "home.title")
	http.SetCookie(w, h.Cookie())

	if rc.WantsJSON() {
		fragment, err := g.templates.renderForm(form)
		if err != nil {
			g.serverError(w, "Failed to render form", err)
			return
		}
		writeJSON(w, http.StatusOK, homeResponse{
			Title:        title,
			ContactID:    contactID,
			XSRFToken:    form.XSRFToken,
			BSN:          form.BSN,
			ControleData: form.Controle,
			Error:        form.Error,
			HTML:         string(fragment),
		})
		return
	}

	page, err := g.templates.renderHome(HomePageData{
		PageData: PageData{Lang: rc.Lang, Title: title, ShowNav: true},
		Form:     form,
	})
	if err != nil {
		g.serverError(w, "Failed to render page", err)
		return
	}
	writeHTML(w, http.StatusOK, page)
}

// check validates the submitted BSN and fills the form with the registry
// data or an error message. Registry failures never fail the request.
func (g *Gate) check(ctx context.Context, rc *RequestContext, form *FormData) {
	bsn, err := brp.ParseBSN(brp.Sanitize(rc.Form.Get("bsn")))
	if err != nil {
		var invalid *brp.InvalidBSNError
		reason := brp.ReasonDigits
		if errors.As(err, &invalid) {
			reason = invalid.Reason
		}
		form.Error = g.translator.Tf(rc.Lang, "bsn.invalid", g.translator.T(rc.Lang, "bsn.reason."+reason))
		return
	}
	form.BSN = bsn.String()

	person, err := g.registry.Lookup(ctx, bsn)
	switch {
	case errors.Is(err, brp.ErrPersonNotFound):
		form.Error = g.translator.T(rc.Lang, "error.person_not_found")
		return
	case err != nil:
		g.logger.Error("Registry lookup failed", "bsn", logging.Mask(bsn.String()), "error", err)
		form.Error = g.translator.T(rc.Lang, "error.generic")
		return
	}

	p := person.Persoon
	form.Controle = &ControleData{
		Birthday:       p.Persoonsgegevens.Geboortedatum,
		Name:           p.Persoonsgegevens.Naam,
		Postcode:       p.Adres.Postcode,
		Huisnummer:     p.Adres.Huisnummer,
		InMunicipality: p.Adres.InMunicipality(g.config.BRP.Municipality),
	}
}

// handleLinkUser stores the person in the CRM and links it to the
// contact moment, then sends the employee to the contact moment.
func (g *Gate) handleLinkUser(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rc, err := newRequestContext(w, r)
	if err != nil {
		g.badRequest(w)
		return
	}

	contactID := rc.Form.Get("contact_id")
	if contactID == "" {
		g.badRequest(w)
		return
	}

	h, ok := g.authenticate(w, r, rc, contactID)
	if !ok {
		return
	}

	bsn, err := brp.ParseBSN(brp.Sanitize(rc.Form.Get("bsn")))
	if err != nil {
		g.badRequest(w)
		return
	}

	person, err := g.registry.Lookup(ctx, bsn)
	if err != nil {
		g.metrics.IncLink("error")
		g.serverError(w, "Registry lookup failed", err)
		return
	}

	if err := g.linker.Link(ctx, h.Session().AccessToken, bsn, person, contactID); err != nil {
		g.metrics.IncLink("error")
		g.serverError(w, "Linking to CRM failed", err)
		return
	}
	g.metrics.IncLink("success")

	target := g.linker.EntityURL(contactID)
	http.SetCookie(w, h.Cookie())
	if rc.WantsJSON() {
		writeJSON(w, http.StatusOK, map[string]string{"redirect_to": target})
		return
	}
	http.Redirect(w, r, target, http.StatusFound)
}

// handleLogout marks the session as logged out. The record stays until
// its TTL runs out.
func (g *Gate) handleLogout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rc, err := newRequestContext(w, r)
	if err != nil {
		g.badRequest(w)
		return
	}

	var contactID string
	h, err := g.sessions.Initialize(ctx, rc.Cookies)
	if err != nil {
		g.logger.Warn("Failed to load session on logout", "error", err)
	} else if h.Found() {
		contactID = h.Session().ContactID
		if err := h.Update(ctx, func(s *session.Session) { s.LoggedIn = false }); err != nil {
			g.logger.Warn("Failed to end session", "session", logging.Mask(h.ID()), "error", err)
		}
	}

	data := LogoutPageData{PageData: PageData{Lang: rc.Lang, Title: g.translator.T(rc.Lang, "logout.title")}}
	if contactID != "" {
		data.LoginURL = loginURL(contactID)
	}
	page, err := g.templates.renderLogout(data)
	if err != nil {
		g.serverError(w, "Failed to render page", err)
		return
	}

	http.SetCookie(w, g.sessions.ClearCookie())
	writeHTML(w, http.StatusOK, page)
}

// authenticate loads the logged in session of a page request, checks the
// XSRF token of state-changing requests and refreshes expired tokens.
// It writes the response itself when the request cannot proceed.
func (g *Gate) authenticate(w http.ResponseWriter, r *http.Request, rc *RequestContext, contactID string) (*session.Handle, bool) {
	h, err := g.sessions.Initialize(r.Context(), rc.Cookies)
	if err != nil {
		g.serverError(w, "Failed to load session", err)
		return nil, false
	}
	if !h.IsLoggedIn() {
		http.Redirect(w, r, loginURL(contactID), http.StatusFound)
		return nil, false
	}
	if !g.sessions.ValidateStateChangingRequest(h, rc.Method, rc.Form.Get("xsrf_token")) {
		http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		return nil, false
	}

	g.sessions.RefreshIfExpired(r.Context(), h)
	return h, true
}

func (g *Gate) badRequest(w http.ResponseWriter) {
	http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
}

func (g *Gate) serverError(w http.ResponseWriter, msg string, err error) {
	g.logger.Error(msg, "error", err)
	http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
}

func loginURL(contactID string) string {
	if contactID == "" {
		return "/login"
	}
	return "/login?contact_id=" + url.QueryEscape(contactID)
}

func homeURL(contactID string) string {
	if contactID == "" {
		return "/"
	}
	return "/?contact_id=" + url.QueryEscape(contactID)
}

func writeHTML(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
