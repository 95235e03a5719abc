package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

const minimalConfig = `
slack:
  client_id: "123.456"
  client_secret: "shhh"
  redirect_url: "https://example.com/slack/oauth/callback"
`

func TestLoadConfigDefaults(t *testing.T) {
	path := writeConfigFile(t, minimalConfig)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Logger.Level)
	assert.True(t, cfg.Logger.JSON)
	assert.Equal(t, "sendlater.db", cfg.Database.Path)
	assert.Equal(t, 8080, cfg.Server.Port)

	delivery, ok := cfg.Scheduler.Tasks["delivery"]
	require.True(t, ok, "delivery task configured by default")
	assert.True(t, delivery.Enabled)
	assert.Equal(t, "* * * * *", delivery.Schedule)

	maintenance, ok := cfg.Scheduler.Tasks["maintenance"]
	require.True(t, ok, "maintenance task configured by default")
	assert.True(t, maintenance.Enabled)
}

func TestLoadConfigOverrides(t *testing.T) {
	path := writeConfigFile(t, minimalConfig+`
logger:
  level: debug
  json: false
database:
  path: /tmp/other.db
server:
  port: 9999
scheduler:
  tasks:
    delivery:
      enabled: true
      schedule: "*/5 * * * *"
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logger.Level)
	assert.False(t, cfg.Logger.JSON)
	assert.Equal(t, "/tmp/other.db", cfg.Database.Path)
	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, "*/5 * * * *", cfg.Scheduler.Tasks["delivery"].Schedule)
}

func TestLoadConfigValidation(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{
			name: "missing slack client id",
			content: `
slack:
  client_secret: "shhh"
  redirect_url: "https://example.com/cb"
`,
		},
		{
			name: "bad redirect url",
			content: `
slack:
  client_id: "123.456"
  client_secret: "shhh"
  redirect_url: "not-a-url"
`,
		},
		{
			name: "bad log level",
			content: minimalConfig + `
logger:
  level: loud
`,
		},
		{
			name: "bad port",
			content: minimalConfig + `
server:
  port: 70000
`,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeConfigFile(t, tc.content)

			_, err := LoadConfig(path)
			assert.Error(t, err)
		})
	}
}
