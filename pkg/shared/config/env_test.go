package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExpandEnv(t *testing.T) {
	t.Setenv("AUTH_URL_BASE", "https://auth.example.nl")
	t.Setenv("EMPTY_VALUE", "")

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain text", "no refs", "no refs"},
		{"set variable", "${AUTH_URL_BASE}/token", "https://auth.example.nl/token"},
		{"unset variable", "x=${NOT_SET_ANYWHERE}", "x="},
		{"default used when unset", "${NOT_SET_ANYWHERE:-memory}", "memory"},
		{"default used when empty", "${EMPTY_VALUE:-fallback}", "fallback"},
		{"default ignored when set", "${AUTH_URL_BASE:-x}", "https://auth.example.nl"},
		{"empty default", "${NOT_SET_ANYWHERE:-}", ""},
		{"bare dollar untouched", "$AUTH_URL_BASE", "$AUTH_URL_BASE"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExpandEnv(tt.input))
		})
	}
}

func TestExpandEnvBytes(t *testing.T) {
	t.Setenv("OIDC_SCOPE", "openid")
	assert.Equal(t, []byte("scope: openid"), ExpandEnvBytes([]byte("scope: ${OIDC_SCOPE}")))
}

func TestMissingEnvVars(t *testing.T) {
	t.Setenv("OIDC_CLIENT_ID", "client")

	input := `
client_id: ${OIDC_CLIENT_ID}
client_secret: ${CLIENT_SECRET_ARN}
scope: ${OIDC_SCOPE_UNSET:-openid}
again: ${CLIENT_SECRET_ARN}
`
	assert.Equal(t, []string{"CLIENT_SECRET_ARN"}, MissingEnvVars(input))
}
