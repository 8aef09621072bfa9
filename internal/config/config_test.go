package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const validConfig = `
tidyhq:
  token: "secret"
  group_prefix: "Machine Operator - "
  slack_field_id: "slack-id-field"
slack:
  bot_token: "xoxb-test"
  notification_channel: "C012345"
cache:
  ttl: 86400
`

func TestLoad_Valid(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfig))
	require.NoError(t, err)

	assert.Equal(t, "secret", cfg.TidyHQ.Token)
	assert.Equal(t, "Machine Operator - ", cfg.TidyHQ.GroupPrefix)
	assert.Equal(t, int64(86400), cfg.Cache.TTL)
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfig))
	require.NoError(t, err)

	assert.Equal(t, DefaultBaseURL, cfg.TidyHQ.BaseURL)
	assert.Equal(t, "cache.json", cfg.Cache.Path)
	assert.Equal(t, "tidyhq_changes.log", cfg.Audit.Path)
}

func TestLoad_UnknownFieldRejected(t *testing.T) {
	_, err := Load(writeConfig(t, validConfig+"\nbogus: true\n"))
	assert.Error(t, err)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidate_RequiredFields(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing token", func(c *Config) { c.TidyHQ.Token = "" }},
		{"missing prefix", func(c *Config) { c.TidyHQ.GroupPrefix = "" }},
		{"missing slack field", func(c *Config) { c.TidyHQ.SlackFieldID = "" }},
		{"missing bot token", func(c *Config) { c.Slack.BotToken = "" }},
		{"missing channel", func(c *Config) { c.Slack.NotificationChannel = "" }},
		{"negative ttl", func(c *Config) { c.Cache.TTL = -1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(writeConfig(t, validConfig))
			require.NoError(t, err)
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
