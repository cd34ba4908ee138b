// Copyright 2024-2026 Aiku AI

// Package config loads the relay configuration file.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"text/template"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog"
	up "go.mau.fi/util/configupgrade"
	"go.mau.fi/util/dbutil"
	"go.mau.fi/util/exzerolog"
	"go.mau.fi/zeroconfig"
	"gopkg.in/yaml.v3"

	"github.com/aiku/mattermost-relay/pkg/relay"
)

//go:embed example-config.yaml
var ExampleConfig string

// Config is the relay configuration.
type Config struct {
	Matrix     MatrixConfig      `yaml:"matrix"`
	Mattermost MattermostConfig  `yaml:"mattermost"`
	Relay      RelayConfig       `yaml:"relay"`
	Database   dbutil.Config     `yaml:"database"`
	Admin      AdminConfig       `yaml:"admin"`
	Retention  RetentionConfig   `yaml:"retention"`
	Logging    zeroconfig.Config `yaml:"logging"`
}

type MatrixConfig struct {
	Homeserver string `yaml:"homeserver"`
	Token      string `yaml:"token"`
}

type MattermostConfig struct {
	ServerURL           string `yaml:"server_url"`
	Token               string `yaml:"token"`
	DisplaynameTemplate string `yaml:"displayname_template"`
	// BotPrefix is a username prefix for echo prevention. Posts from
	// usernames starting with it are never relayed.
	BotPrefix string `yaml:"bot_prefix"`
}

type RelayConfig struct {
	RetryDelay time.Duration `yaml:"retry_delay"`
}

// AdminConfig configures the admin HTTP API.
type AdminConfig struct {
	Enabled      bool   `yaml:"enabled"`
	Listen       string `yaml:"listen"`
	SharedSecret string `yaml:"shared_secret"`
}

// RetentionConfig configures the cleanup of old log records and message
// links.
type RetentionConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Schedule string        `yaml:"schedule"`
	MaxAge   time.Duration `yaml:"max_age"`
}

// Env holds the environment overrides. Non-empty values replace the ones
// from the config file.
type Env struct {
	MatrixHomeserver    string `env:"RELAY_MATRIX_HOMESERVER"`
	MatrixToken         string `env:"RELAY_MATRIX_TOKEN"`
	MattermostServerURL string `env:"RELAY_MATTERMOST_SERVER_URL"`
	MattermostToken     string `env:"RELAY_MATTERMOST_TOKEN"`
	DatabaseType        string `env:"RELAY_DATABASE_TYPE"`
	DatabaseURI         string `env:"RELAY_DATABASE_URI"`
	AdminListen         string `env:"RELAY_ADMIN_LISTEN"`
	AdminSharedSecret   string `env:"RELAY_ADMIN_SHARED_SECRET"`
}

func upgradeConfig(helper up.Helper) {
	helper.Copy(up.Str, "matrix", "homeserver")
	helper.Copy(up.Str, "matrix", "token")
	helper.Copy(up.Str, "mattermost", "server_url")
	helper.Copy(up.Str, "mattermost", "token")
	helper.Copy(up.Str, "mattermost", "displayname_template")
	helper.Copy(up.Str, "mattermost", "bot_prefix")
	helper.Copy(up.Str, "relay", "retry_delay")

	helper.Copy(up.Str, "database", "type")
	helper.Copy(up.Str, "database", "uri")
	helper.Copy(up.Int, "database", "max_open_conns")
	helper.Copy(up.Int, "database", "max_idle_conns")
	helper.Copy(up.Str|up.Null, "database", "max_conn_idle_time")
	helper.Copy(up.Str|up.Null, "database", "max_conn_lifetime")

	helper.Copy(up.Bool, "admin", "enabled")
	helper.Copy(up.Str, "admin", "listen")
	helper.Copy(up.Str, "admin", "shared_secret")

	helper.Copy(up.Bool, "retention", "enabled")
	helper.Copy(up.Str, "retention", "schedule")
	helper.Copy(up.Str, "retention", "max_age")

	helper.Copy(up.Map, "logging")
}

// Upgrader merges an existing config file into the current example config.
var Upgrader = &up.StructUpgrader{
	SimpleUpgrader: up.SimpleUpgrader(upgradeConfig),
	Base:           ExampleConfig,
}

// Load reads the config file at path, upgrading it to the current layout,
// and applies environment overrides. A missing file is created from the
// example config. If save is true, the upgraded file is written back.
func Load(path string, save bool) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err = os.WriteFile(path, []byte(ExampleConfig), 0600); err != nil {
			return nil, fmt.Errorf("failed to write example config: %w", err)
		}
	}
	data, _, err := up.Do(path, save, Upgrader)
	if err != nil {
		return nil, fmt.Errorf("failed to upgrade config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	var overrides Env
	if err = env.Parse(&overrides); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	cfg.ApplyEnv(overrides)
	return cfg, nil
}

// Parse decodes and validates a config document.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.PostProcess(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// PostProcess validates the config and fills defaults.
func (c *Config) PostProcess() error {
	if _, err := template.New("displayname").Parse(c.Mattermost.DisplaynameTemplate); err != nil {
		return fmt.Errorf("invalid displayname_template: %w", err)
	}
	if c.Relay.RetryDelay <= 0 {
		c.Relay.RetryDelay = 2 * time.Second
	}
	if c.Retention.Schedule == "" {
		c.Retention.Schedule = "@daily"
	}
	if c.Retention.Enabled && c.Retention.MaxAge <= 0 {
		return fmt.Errorf("retention.max_age must be positive")
	}
	if c.Admin.Enabled && c.Admin.Listen == "" {
		c.Admin.Listen = "127.0.0.1:29320"
	}
	return nil
}

// ApplyEnv replaces config values with the non-empty environment overrides.
func (c *Config) ApplyEnv(e Env) {
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&c.Matrix.Homeserver, e.MatrixHomeserver)
	set(&c.Matrix.Token, e.MatrixToken)
	set(&c.Mattermost.ServerURL, e.MattermostServerURL)
	set(&c.Mattermost.Token, e.MattermostToken)
	set(&c.Database.Type, e.DatabaseType)
	set(&c.Database.URI, e.DatabaseURI)
	set(&c.Admin.Listen, e.AdminListen)
	set(&c.Admin.SharedSecret, e.AdminSharedSecret)
}

// DefaultSettings returns the credentials from the config file. Values
// stored in the database take precedence over them.
func (c *Config) DefaultSettings() relay.Settings {
	return relay.Settings{
		MatrixHomeserver:    c.Matrix.Homeserver,
		MatrixToken:         c.Matrix.Token,
		MattermostServerURL: c.Mattermost.ServerURL,
		MattermostToken:     c.Mattermost.Token,
	}
}

// SetupLogging compiles the logging config and installs the logger as the
// global and default context logger.
func (c *Config) SetupLogging() (*zerolog.Logger, error) {
	log, err := c.Logging.Compile()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	exzerolog.SetupDefaults(log)
	return log, nil
}
