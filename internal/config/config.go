package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models dispatchline.yml.
type Config struct {
	Dispatch struct {
		// BusinessTimezone is the IANA zone used to compute the "today"
		// window for daily load counting. Defaults to UTC.
		BusinessTimezone string `yaml:"business_timezone"`
		// DefaultStrategy is used when a rule names no strategy.
		DefaultStrategy string `yaml:"default_strategy"`
		// InternalVendorID names the in-house fulfillment vendor, which is
		// eligible without a price agreement.
		InternalVendorID string `yaml:"internal_vendor_id"`
	} `yaml:"dispatch"`
	Auth struct {
		JWTSecret              string `yaml:"jwt_secret"`
		AllowLegacyActorHeader bool   `yaml:"allow_legacy_actor_header"`
	} `yaml:"auth"`
	Webhooks []WebhookConfig `yaml:"webhooks,omitempty"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Secret         string   `yaml:"secret,omitempty"`
	Outcomes       []string `yaml:"outcomes,omitempty"`
	TimeoutSeconds int      `yaml:"timeout_seconds,omitempty"`
	Enabled        *bool    `yaml:"enabled,omitempty"`
}

var validStrategies = map[string]bool{
	"least_loaded":   true,
	"round_robin":    true,
	"priority_first": true,
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Dispatch.BusinessTimezone != "" {
		if _, err := time.LoadLocation(c.Dispatch.BusinessTimezone); err != nil {
			return fmt.Errorf("config.dispatch.business_timezone: %w", err)
		}
	}
	if c.Dispatch.DefaultStrategy != "" && !validStrategies[c.Dispatch.DefaultStrategy] {
		return fmt.Errorf("config.dispatch.default_strategy %q unknown", c.Dispatch.DefaultStrategy)
	}
	for i, hook := range c.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
	}
	return nil
}

// Location resolves the business timezone, falling back to UTC.
func (c *Config) Location() *time.Location {
	if c == nil || c.Dispatch.BusinessTimezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Dispatch.BusinessTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Strategy returns the configured default strategy name.
func (c *Config) Strategy() string {
	if c == nil || c.Dispatch.DefaultStrategy == "" {
		return "least_loaded"
	}
	return c.Dispatch.DefaultStrategy
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "dispatchline.yml")
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create it or run with defaults", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the default config if no file exists.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	cfg.Dispatch.BusinessTimezone = "UTC"
	cfg.Dispatch.DefaultStrategy = "least_loaded"
	return &cfg
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

const defaultTemplate = `dispatch:
  # IANA timezone for the daily capacity window.
  business_timezone: UTC

  # Strategy applied when a rule does not name one:
  # least_loaded, round_robin or priority_first.
  default_strategy: least_loaded

  # Vendor id of the in-house fulfillment organization. The internal
  # vendor is routable without a price agreement.
  internal_vendor_id: ""

auth:
  jwt_secret: ""
  allow_legacy_actor_header: false

# webhooks:
#   - url: https://example.com/hooks/dispatch
#     secret: shared-secret
#     outcomes: [assigned, partial_assigned, failed_no_vendor]
`
