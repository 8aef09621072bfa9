// Package config loads and validates the toolbot configuration file.
package config

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DefaultBaseURL is the production TidyHQ API endpoint.
const DefaultBaseURL = "https://api.tidyhq.com/v1"

// Config is the top-level configuration, loaded from a single YAML file.
type Config struct {
	TidyHQ TidyHQ `yaml:"tidyhq"`
	Slack  Slack  `yaml:"slack"`
	Cache  Cache  `yaml:"cache"`
	Audit  Audit  `yaml:"audit"`

	// Machines optionally points at a static taxonomy file. When empty the
	// taxonomy is derived from group descriptions at runtime.
	Machines Machines `yaml:"machines"`
}

// TidyHQ holds CRM access settings.
type TidyHQ struct {
	// Token is the TidyHQ API access token.
	Token string `yaml:"token"`

	// BaseURL overrides the API endpoint. Defaults to DefaultBaseURL.
	// Tests point this at a local httptest server.
	BaseURL string `yaml:"base_url,omitempty"`

	// GroupPrefix marks the groups that represent machine authorizations,
	// e.g. "Machine Operator - ". Groups without the prefix are ignored.
	GroupPrefix string `yaml:"group_prefix"`

	// SlackFieldID is the custom field holding a contact's linked Slack
	// user ID.
	SlackFieldID string `yaml:"slack_field_id"`

	// ContactURL is a template for linking to a contact in the CRM UI,
	// with %d substituted by the contact ID. Used when an operator has no
	// linked Slack account.
	ContactURL string `yaml:"contact_url,omitempty"`
}

// Slack holds chat platform settings.
type Slack struct {
	BotToken string `yaml:"bot_token"`
	AppToken string `yaml:"app_token,omitempty"`

	// NotificationChannel receives authorization announcements and
	// check-in threads.
	NotificationChannel string `yaml:"notification_channel"`

	// Trainers lists the Slack usergroup IDs whose members may grant and
	// revoke authorizations.
	Trainers []string `yaml:"trainers,omitempty"`
}

// Cache controls the CRM snapshot cache.
type Cache struct {
	// Path is the persisted cache file. Defaults to "cache.json".
	Path string `yaml:"path,omitempty"`

	// TTL is the snapshot lifetime in seconds. A TTL of 0 disables the
	// cache entirely: every request rebuilds from the CRM.
	TTL int64 `yaml:"ttl"`
}

// Audit controls the append-only mutation log.
type Audit struct {
	// Path is the log file. Defaults to "tidyhq_changes.log".
	Path string `yaml:"path,omitempty"`
}

// Machines points at the optional static taxonomy file.
type Machines struct {
	Path string `yaml:"path,omitempty"`
}

// Load reads and parses the config file, applies defaults, and validates.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var cfg Config
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config %s: %w", path, err)
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.TidyHQ.BaseURL == "" {
		c.TidyHQ.BaseURL = DefaultBaseURL
	}
	if c.Cache.Path == "" {
		c.Cache.Path = "cache.json"
	}
	if c.Audit.Path == "" {
		c.Audit.Path = "tidyhq_changes.log"
	}
}

// Validate checks that the required fields are present.
func (c *Config) Validate() error {
	switch {
	case c.TidyHQ.Token == "":
		return fmt.Errorf("tidyhq.token is required")
	case c.TidyHQ.GroupPrefix == "":
		return fmt.Errorf("tidyhq.group_prefix is required")
	case c.TidyHQ.SlackFieldID == "":
		return fmt.Errorf("tidyhq.slack_field_id is required")
	case c.Slack.BotToken == "":
		return fmt.Errorf("slack.bot_token is required")
	case c.Slack.NotificationChannel == "":
		return fmt.Errorf("slack.notification_channel is required")
	case c.Cache.TTL < 0:
		return fmt.Errorf("cache.ttl must not be negative")
	}
	return nil
}
