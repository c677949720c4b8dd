package i18n

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTranslator_T(t *testing.T) {
	translator := NewTranslator()

	tests := []struct {
		name     string
		lang     Language
		key      string
		expected string
	}{
		{"Dutch translation exists", Dutch, "home.title", "Controleer BRP-gegevens"},
		{"English translation exists", English, "home.title", "Check BRP data"},
		{"Unknown language falls back to Dutch", "fr", "logout.title", "Uitgelogd"},
		{"Key not found returns key", English, "nonexistent.key", "nonexistent.key"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, translator.T(tt.lang, tt.key))
		})
	}
}

func TestTranslator_Tf(t *testing.T) {
	translator := NewTranslator()
	got := translator.Tf(Dutch, "bsn.invalid", translator.T(Dutch, "bsn.reason.checksum"))
	assert.Equal(t, "Geen geldig bsn opgegeven: Het BSN voldoet niet aan de elfproef.", got)
}

func TestTranslations_SameKeys(t *testing.T) {
	for key := range defaultTranslations[Dutch] {
		_, ok := defaultTranslations[English][key]
		assert.True(t, ok, "English misses %q", key)
	}
	for key := range defaultTranslations[English] {
		_, ok := defaultTranslations[Dutch][key]
		assert.True(t, ok, "Dutch misses %q", key)
	}
}

func TestDetectLanguage(t *testing.T) {
	tests := []struct {
		name           string
		queryParam     string
		cookieValue    string
		acceptLanguage string
		expected       Language
	}{
		{name: "query parameter", queryParam: "en", expected: English},
		{name: "cookie", cookieValue: "en", expected: English},
		{name: "query wins over cookie", queryParam: "nl", cookieValue: "en", expected: Dutch},
		{name: "accept language with region", acceptLanguage: "en-GB,en;q=0.9", expected: English},
		{name: "unsupported accept language", acceptLanguage: "de-DE", expected: Dutch},
		{name: "default", expected: Dutch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target := "/"
			if tt.queryParam != "" {
				target += "?lang=" + tt.queryParam
			}
			req := httptest.NewRequest(http.MethodGet, target, nil)
			if tt.cookieValue != "" {
				req.AddCookie(&http.Cookie{Name: "lang", Value: tt.cookieValue})
			}
			if tt.acceptLanguage != "" {
				req.Header.Set("Accept-Language", tt.acceptLanguage)
			}

			assert.Equal(t, tt.expected, DetectLanguage(req))
		})
	}
}
