package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models upkeep.yml.
type Config struct {
	Server struct {
		Addr     string `yaml:"addr"`
		BasePath string `yaml:"base_path"`
	} `yaml:"server"`
	Auth struct {
		JWTSecret string `yaml:"jwt_secret"`
		DevLogin  bool   `yaml:"dev_login"`
	} `yaml:"auth"`
	Seed struct {
		Building string     `yaml:"building"`
		Users    []SeedUser `yaml:"users"`
	} `yaml:"seed"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

type SeedUser struct {
	Name  string `yaml:"name"`
	Email string `yaml:"email"`
	Role  string `yaml:"role"`
}

// WebhookConfig declares an outbound event subscription. An empty
// BuildingID subscribes to events from every building, and an empty
// Events list matches all event types.
type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Secret         string   `yaml:"secret"`
	BuildingID     string   `yaml:"building_id"`
	Events         []string `yaml:"events"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	Enabled        *bool    `yaml:"enabled"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
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

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("config.server.addr is required")
	}
	seen := map[string]bool{}
	for i, u := range c.Seed.Users {
		if u.Email == "" {
			return fmt.Errorf("config.seed.users[%d].email is required", i)
		}
		if seen[u.Email] {
			return fmt.Errorf("config.seed.users has duplicate email %s", u.Email)
		}
		seen[u.Email] = true
		if u.Role != "owner" && u.Role != "employee" {
			return fmt.Errorf("config.seed.users[%d].role must be owner or employee", i)
		}
	}
	if len(c.Seed.Users) > 0 && c.Seed.Building == "" {
		return fmt.Errorf("config.seed.building is required when seed users are set")
	}
	for i, hook := range c.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "upkeep.yml")
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the built-in default Config.
func Default() *Config {
	var cfg Config
	_ = yaml.Unmarshal([]byte(defaultTemplate), &cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = Default().Server.Addr
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// WriteDefault writes the built-in default config to path.
func WriteDefault(path string) error {
	return os.WriteFile(path, []byte(defaultTemplate), 0o644)
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `server:
  addr: 127.0.0.1:8080
  base_path: /v1

auth:
  jwt_secret: ""
  dev_login: true

seed:
  building: Main Building
  users:
    - name: Owner
      email: owner@example.com
      role: owner
    - name: Employee
      email: employee@example.com
      role: employee
`
