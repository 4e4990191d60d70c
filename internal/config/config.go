package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models planbridge.yml.
type Config struct {
	Workspace struct {
		ID string `yaml:"id"`
	} `yaml:"workspace"`
	Sync struct {
		ChunkSize       int  `yaml:"chunk_size"`
		ThrottleMillis  int  `yaml:"throttle_ms"`
		RunHistoryLimit int  `yaml:"run_history_limit"`
		PushRanks       bool `yaml:"push_ranks"`
	} `yaml:"sync"`
	Product struct {
		BaseURL  string `yaml:"base_url"`
		Simulate bool   `yaml:"simulate"`
	} `yaml:"product"`
	Tracker struct {
		BaseURL       string `yaml:"base_url"`
		Organization  string `yaml:"organization"`
		Project       string `yaml:"project"`
		OrderingField string `yaml:"ordering_field"`
	} `yaml:"tracker"`
	Boards map[string]Board `yaml:"boards"`
}

type Board struct {
	Description string `yaml:"description"`
	ProductURL  string `yaml:"product_url"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; import with pb config import --file <path>", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Workspace.ID == "" {
		return fmt.Errorf("config.workspace.id is required")
	}
	if c.Sync.ChunkSize < 0 {
		return fmt.Errorf("config.sync.chunk_size must not be negative")
	}
	if c.Sync.ThrottleMillis < 0 {
		return fmt.Errorf("config.sync.throttle_ms must not be negative")
	}
	if c.Sync.RunHistoryLimit < 0 {
		return fmt.Errorf("config.sync.run_history_limit must not be negative")
	}
	if c.Tracker.BaseURL != "" && c.Tracker.OrderingField == "" {
		return fmt.Errorf("config.tracker.ordering_field is required when tracker.base_url is set")
	}
	for boardID := range c.Boards {
		if boardID == "" {
			return fmt.Errorf("config.boards contains empty board id")
		}
	}
	return nil
}

// ChunkSize returns the configured chunk size with the engine default
// applied.
func (c *Config) ChunkSize() int {
	if c == nil || c.Sync.ChunkSize == 0 {
		return 100
	}
	return c.Sync.ChunkSize
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "planbridge.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(workspaceID string) string {
	return fmt.Sprintf(defaultTemplate, workspaceID)
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

// Default returns the default Config struct for a workspace.
func Default(workspaceID string) *Config {
	var cfg Config
	cfg.Workspace.ID = workspaceID
	_ = yaml.NewDecoder(bytes.NewBufferString(fmt.Sprintf(defaultTemplate, workspaceID))).Decode(&cfg)
	return &cfg
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

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `workspace:
  id: %s

sync:
  chunk_size: 100
  throttle_ms: 0
  run_history_limit: 50
  push_ranks: false

product:
  base_url: ""
  simulate: true

tracker:
  base_url: ""
  organization: ""
  project: ""
  ordering_field: stack_rank

boards: {}
`
