package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"pressline/internal/domain"
	"pressline/internal/workflow"
)

// Config models pressline.yml.
type Config struct {
	Database struct {
		Driver string `yaml:"driver"`
		DSN    string `yaml:"dsn"`
	} `yaml:"database"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	Server struct {
		Addr     string `yaml:"addr"`
		BasePath string `yaml:"base_path"`
	} `yaml:"server"`
	Workflow struct {
		Retention map[string]string `yaml:"retention"`
		Sweep     struct {
			IntervalSeconds int `yaml:"interval_seconds"`
			BatchSize       int `yaml:"batch_size"`
		} `yaml:"sweep"`
		Notify struct {
			TimeoutMS int `yaml:"timeout_ms"`
		} `yaml:"notify"`
	} `yaml:"workflow"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Events         []string `yaml:"events"`
	Secret         string   `yaml:"secret"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	Enabled        *bool    `yaml:"enabled"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; write one with pl config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite":
	case "postgres":
		if strings.TrimSpace(c.Database.DSN) == "" {
			return fmt.Errorf("config.database.dsn is required for postgres")
		}
	default:
		return fmt.Errorf("config.database.driver must be sqlite or postgres, got %q", c.Database.Driver)
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("config.log.format must be json or console")
	}
	for kind, policy := range c.Workflow.Retention {
		if _, err := domain.ParseKind(kind); err != nil {
			return fmt.Errorf("config.workflow.retention: %w", err)
		}
		if _, err := workflow.ParseRetention(policy); err != nil {
			return fmt.Errorf("config.workflow.retention.%s: %w", kind, err)
		}
	}
	if c.Workflow.Sweep.IntervalSeconds <= 0 {
		return fmt.Errorf("config.workflow.sweep.interval_seconds must be positive")
	}
	if c.Workflow.Sweep.BatchSize <= 0 {
		return fmt.Errorf("config.workflow.sweep.batch_size must be positive")
	}
	if c.Workflow.Notify.TimeoutMS <= 0 {
		return fmt.Errorf("config.workflow.notify.timeout_ms must be positive")
	}
	for i, hook := range c.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("webhooks[%d].url is required", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("webhooks[%d].timeout_seconds must not be negative", i)
		}
		for _, evt := range hook.Events {
			if strings.TrimSpace(evt) == "" {
				return fmt.Errorf("webhooks[%d] has empty event type", i)
			}
		}
	}
	return nil
}

// RetentionFor returns the published_at policy for a content kind. Kinds
// without an entry keep published_at.
func (c *Config) RetentionFor(kind domain.Kind) workflow.RetentionPolicy {
	if c != nil {
		if raw, ok := c.Workflow.Retention[string(kind)]; ok {
			if p, err := workflow.ParseRetention(raw); err == nil {
				return p
			}
		}
	}
	return workflow.RetainPublishedAt
}

func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.Workflow.Sweep.IntervalSeconds) * time.Second
}

func (c *Config) NotifyTimeout() time.Duration {
	return time.Duration(c.Workflow.Notify.TimeoutMS) * time.Millisecond
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "pressline.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// LoadOptional returns the defaults if the config file does not exist.
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

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses config over the defaults and validates it.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `database:
  driver: sqlite
  dsn: ""

log:
  level: info
  format: console

server:
  addr: 127.0.0.1:8080
  base_path: /v1

workflow:
  # clear: published_at is dropped when the record returns to draft
  # retain: published_at survives unpublish and is reused on republish
  retention:
    article: clear
    page: retain
    project: retain
    service: retain
  sweep:
    interval_seconds: 60
    batch_size: 100
  notify:
    timeout_ms: 2000

webhooks: []
`
