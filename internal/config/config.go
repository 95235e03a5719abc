// Package config provides configuration loading and validation for the
// sendlater service. Values come from a YAML file and SENDLATER_* environment
// variables layered over defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config defines the application configuration for all components.
type Config struct {
	Logger    LoggerConfig    `mapstructure:"logger"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Server    ServerConfig    `mapstructure:"server"`
	Slack     SlackConfig     `mapstructure:"slack"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
}

// LoggerConfig controls log level and output format.
type LoggerConfig struct {
	Level string `mapstructure:"level" validate:"oneof=debug info warn error"`
	JSON  bool   `mapstructure:"json"`
}

// DatabaseConfig holds the SQLite database location.
type DatabaseConfig struct {
	Path string `mapstructure:"path" validate:"required"`
}

// ServerConfig holds the HTTP listener settings. APIKeys guards the message
// management endpoints; an empty list disables the check (local use).
type ServerConfig struct {
	Host    string   `mapstructure:"host"`
	Port    int      `mapstructure:"port" validate:"required,min=1,max=65535"`
	APIKeys []string `mapstructure:"api_keys"`
}

// SlackConfig holds the Slack app credentials used by the OAuth install flow
// and the refresh-token grant.
type SlackConfig struct {
	ClientID     string   `mapstructure:"client_id"     validate:"required"`
	ClientSecret string   `mapstructure:"client_secret" validate:"required"`
	RedirectURL  string   `mapstructure:"redirect_url"  validate:"required,url"`
	BotScopes    []string `mapstructure:"bot_scopes"`
	UserScopes   []string `mapstructure:"user_scopes"`
}

// SchedulerConfig maps task names to their cron schedule and enablement.
type SchedulerConfig struct {
	Tasks map[string]TaskConfig `mapstructure:"tasks"`
}

// TaskConfig configures one recurring task.
type TaskConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Schedule string `mapstructure:"schedule"`
}

// LoadConfig reads configuration from the given YAML file (optional) and
// SENDLATER_* environment variables, applies defaults, and validates the
// result.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetEnvPrefix("SENDLATER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine, env vars and defaults still apply.
		if !errors.Is(err, os.ErrNotExist) {
			if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
				return nil, fmt.Errorf("failed to read config file %q: %w", path, err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.json", true)

	v.SetDefault("database.path", "sendlater.db")

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)

	v.SetDefault("slack.bot_scopes", []string{"chat:write", "chat:write.public"})
	v.SetDefault("slack.user_scopes", []string{"chat:write"})

	// The delivery task fires every minute; maintenance runs nightly.
	v.SetDefault("scheduler.tasks.delivery.enabled", true)
	v.SetDefault("scheduler.tasks.delivery.schedule", "* * * * *")
	v.SetDefault("scheduler.tasks.maintenance.enabled", true)
	v.SetDefault("scheduler.tasks.maintenance.schedule", "0 4 * * *")
}
