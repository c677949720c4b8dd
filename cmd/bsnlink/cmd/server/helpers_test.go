package server

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const configTemplate = `
server:
  base_url: "https://bsnlink.example"
  metrics: %t
  shutdown_timeout: 2s

session:
  store:
    type: memory
    namespace: sessions
  cookie_name: %s

oidc:
  auth_url_base: "https://auth.example"
  client_id: bsnlink
  scope: openid
  client_secret: "env:BSNLINK_TEST_SECRET"

brp:
  fixtures_dir: %q

logging:
  level: debug
`

// writeConfig writes a valid configuration and returns its path.
func writeConfig(t *testing.T, dir string, metrics bool, cookieName string) string {
	t.Helper()
	t.Setenv("BSNLINK_TEST_SECRET", "s3cret")

	path := filepath.Join(dir, "bsnlink.yaml")
	content := fmt.Sprintf(configTemplate, metrics, cookieName, filepath.Join(dir, "fixtures"))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}
