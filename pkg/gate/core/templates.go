package core

import (
	"bytes"
	"html/template"

	"github.com/ideamans/bsnlink/pkg/shared/i18n"
)

// PageData contains common data for all pages
type PageData struct {
	Lang    i18n.Language
	Title   string
	ShowNav bool
}

// HomePageData is the check page.
type HomePageData struct {
	PageData
	Form FormData
}

// FormData is the check form fragment. It is rendered on its own for
// JSON answers.
type FormData struct {
	Lang      i18n.Language
	ContactID string
	XSRFToken string
	BSN       string
	Error     string
	Controle  *ControleData
}

// ControleData is the registry preview shown after a successful lookup.
type ControleData struct {
	Birthday       string `json:"birthday"`
	Name           string `json:"name"`
	Postcode       string `json:"postcode"`
	Huisnummer     string `json:"huisnummer"`
	InMunicipality bool   `json:"in_municipality"`
}

// LogoutPageData is the logout confirmation.
type LogoutPageData struct {
	PageData
	LoginURL string
}

// Templates holds all parsed templates
type Templates struct {
	home   *template.Template
	logout *template.Template
}

func newTemplates(translator *i18n.Translator) (*Templates, error) {
	funcs := template.FuncMap{"t": translator.T}

	parse := func(name string, parts ...string) (*template.Template, error) {
		t := template.New(name).Funcs(funcs)
		for _, p := range parts {
			if _, err := t.Parse(p); err != nil {
				return nil, err
			}
		}
		return t, nil
	}

	home, err := parse("home", layoutTemplate, homeTemplate, controleFormTemplate)
	if err != nil {
		return nil, err
	}
	logout, err := parse("logout", layoutTemplate, logoutTemplate)
	if err != nil {
		return nil, err
	}
	return &Templates{home: home, logout: logout}, nil
}

func (t *Templates) renderHome(data HomePageData) ([]byte, error) {
	return execute(t.home, "layout", data)
}

func (t *Templates) renderForm(data FormData) ([]byte, error) {
	return execute(t.home, "controle_form", data)
}

func (t *Templates) renderLogout(data LogoutPageData) ([]byte, error) {
	return execute(t.logout, "layout", data)
}

func execute(t *template.Template, name string, data any) ([]byte, error) {
	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, name, data); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
