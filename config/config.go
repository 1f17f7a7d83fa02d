// Package config loads service configuration from file, environment and defaults.
package config

import (
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. POLICYACCT_SERVER_PORT.
const EnvPrefix = "POLICYACCT"

type Configuration struct {
	Server   ServerConfig   `validate:"required"`
	Database DatabaseConfig `validate:"required"`
	Logging  LoggingConfig  `validate:"required"`
	Audit    AuditConfig    `validate:"required"`
	Sweep    SweepConfig
	Seed     SeedConfig
}

type ServerConfig struct {
	Port int `mapstructure:"port" validate:"required,min=1,max=65535"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path" validate:"required"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level" validate:"required,oneof=debug info warn error"`
}

type AuditConfig struct {
	Dir           string `mapstructure:"dir" validate:"required"`
	Enabled       bool   `mapstructure:"enabled"`
	PurgePassword string `mapstructure:"purge_password" validate:"required"`
}

type SweepConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Schedule is a standard five-field cron expression or a descriptor
	// such as "@daily".
	Schedule string `mapstructure:"schedule" validate:"required_if=Enabled true"`
}

type SeedConfig struct {
	OnStart bool `mapstructure:"on_start"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("database.path", "./data/policies.db")
	v.SetDefault("logging.level", "info")
	v.SetDefault("audit.dir", "./Logs")
	v.SetDefault("audit.enabled", true)
	v.SetDefault("audit.purge_password", "change-me")
	v.SetDefault("sweep.enabled", true)
	v.SetDefault("sweep.schedule", "@daily")
	v.SetDefault("seed.on_start", false)
}

// NewConfig reads config.yaml (when present), then environment overrides.
func NewConfig() (*Configuration, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	return load(v)
}

// NewConfigFromFile reads the given YAML file, then environment overrides.
func NewConfigFromFile(path string) (*Configuration, error) {
	v := viper.New()
	v.SetConfigFile(path)
	return load(v)
}

func load(v *viper.Viper) (*Configuration, error) {
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(
		".", "_",
		"-", "_",
	))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	var config Configuration
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c Configuration) Validate() error {
	validate := validator.New()
	return validate.Struct(c)
}
