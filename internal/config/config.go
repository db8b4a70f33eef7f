// Package config loads the daemon configuration and the per-model quirk
// overrides.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config is the daemon configuration. Values come from a YAML file and can
// be overridden with environment variables.
type Config struct {
	MQTT      MQTTConfig  `yaml:"mqtt"`
	Web       WebConfig   `yaml:"web"`
	Store     StoreConfig `yaml:"store"`
	Log       LogConfig   `yaml:"log"`
	Clock     ClockConfig `yaml:"clock"`
	QuirksDir string      `yaml:"quirks_dir" env:"QUIRKS_DIR" env-default:"quirks"`
}

type MQTTConfig struct {
	Enabled         bool   `yaml:"enabled" env:"MQTT_ENABLED"`
	Broker          string `yaml:"broker" env:"MQTT_BROKER" env-default:"tcp://127.0.0.1:1883"`
	Username        string `yaml:"username" env:"MQTT_USERNAME"`
	Password        string `yaml:"password" env:"MQTT_PASSWORD"`
	ClientID        string `yaml:"client_id" env-default:"quirkd"`
	TopicPrefix     string `yaml:"topic_prefix" env-default:"zigbee-quirks"`
	DiscoveryPrefix string `yaml:"discovery_prefix" env-default:"homeassistant"`
}

type WebConfig struct {
	Listen         string   `yaml:"listen" env:"WEB_LISTEN" env-default:"127.0.0.1:8080"`
	APIKey         string   `yaml:"api_key" env:"WEB_API_KEY"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type StoreConfig struct {
	Path string `yaml:"path" env:"STORE_PATH" env-default:"quirkd.db"`
}

type LogConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
	Format string `yaml:"format" env:"LOG_FORMAT" env-default:"text"`
}

// ClockConfig sets the zone used for the local clock sent to devices.
type ClockConfig struct {
	Timezone    string        `yaml:"timezone" env:"CLOCK_TIMEZONE" env-default:"Local"`
	TaskTimeout time.Duration `yaml:"task_timeout" env-default:"10s"`
}

// Load reads path and applies environment overrides and defaults.
func Load(path string) (*Config, error) {
	var cfg Config
	if err := cleanenv.ReadConfig(path, &cfg); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return &cfg, nil
}

// Validate checks the values Load can't.
func (c *Config) Validate() error {
	var errs []error
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level must be debug, info, warn or error, got %q", c.Log.Level))
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be text or json, got %q", c.Log.Format))
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		errs = append(errs, errors.New("mqtt.broker is required when mqtt is enabled"))
	}
	if c.MQTT.Enabled && strings.ContainsAny(c.MQTT.TopicPrefix, "+#") {
		errs = append(errs, fmt.Errorf("mqtt.topic_prefix must not contain wildcards, got %q", c.MQTT.TopicPrefix))
	}
	if c.Store.Path == "" {
		errs = append(errs, errors.New("store.path is required"))
	}
	if _, err := c.Location(); err != nil {
		errs = append(errs, err)
	}
	if c.Clock.TaskTimeout < 0 {
		errs = append(errs, fmt.Errorf("clock.task_timeout must not be negative, got %s", c.Clock.TaskTimeout))
	}
	return errors.Join(errs...)
}

// Location resolves the configured clock timezone.
func (c *Config) Location() (*time.Location, error) {
	switch c.Clock.Timezone {
	case "", "Local":
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Clock.Timezone)
	if err != nil {
		return nil, fmt.Errorf("clock.timezone: %w", err)
	}
	return loc, nil
}
