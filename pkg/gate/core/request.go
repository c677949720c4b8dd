package core

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/ideamans/bsnlink/pkg/shared/i18n"
)

// maxFormBytes caps request bodies; the forms carry a handful of short fields.
const maxFormBytes = 64 << 10

// RequestContext is the part of a request the handlers work with.
type RequestContext struct {
	Method  string
	Cookies string
	Query   url.Values
	Form    url.Values
	Accept  string
	Lang    i18n.Language
}

func newRequestContext(w http.ResponseWriter, r *http.Request) (*RequestContext, error) {
	rc := &RequestContext{
		Method:  r.Method,
		Cookies: strings.Join(r.Header.Values("Cookie"), "; "),
		Query:   r.URL.Query(),
		Form:    url.Values{},
		Accept:  r.Header.Get("Accept"),
		Lang:    i18n.DetectLanguage(r),
	}

	if r.Method == http.MethodPost {
		r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)
		if err := r.ParseForm(); err != nil {
			return nil, err
		}
		rc.Form = r.PostForm
	}
	return rc, nil
}

// WantsJSON reports whether the client asked for a JSON answer.
func (rc *RequestContext) WantsJSON() bool {
	return strings.Contains(rc.Accept, "application/json")
}

// Param returns a form field, falling back to the query string.
func (rc *RequestContext) Param(name string) string {
	if v := rc.Form.Get(name); v != "" {
		return v
	}
	return rc.Query.Get(name)
}
