package config

import (
	"bytes"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Plant struct {
		ID   string `yaml:"id"`
		Name string `yaml:"name"`
	} `yaml:"plant"`
	Numbering struct {
		MOPrefix string `yaml:"mo_prefix"`
		WOPrefix string `yaml:"wo_prefix"`
		MIPrefix string `yaml:"mi_prefix"`
	} `yaml:"numbering"`
	Generation struct {
		RejectInvalidBOM bool `yaml:"reject_invalid_bom"`
		MaxBatches       int  `yaml:"max_batches"`
	} `yaml:"generation"`
	Subcontract SubcontractConfig `yaml:"subcontract"`
	Server struct {
		Addr     string `yaml:"addr"`
		BasePath string `yaml:"base_path"`
	} `yaml:"server"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

type SubcontractConfig struct {
	URL            string `yaml:"url"`
	Secret         string `yaml:"secret"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

var prefixRe = regexp.MustCompile(`^[A-Z][A-Z0-9]{0,7}$`)

// Load reads plant.yml from the workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with sl init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the default config if the file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	cfg, err := Load(workspace)
	if err != nil {
		if _, statErr := os.Stat(Path(workspace)); os.IsNotExist(statErr) {
			return Default("plant"), nil
		}
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Numbering.MOPrefix == "" {
		c.Numbering.MOPrefix = "MO"
	}
	if c.Numbering.WOPrefix == "" {
		c.Numbering.WOPrefix = "WO"
	}
	if c.Numbering.MIPrefix == "" {
		c.Numbering.MIPrefix = "MI"
	}
	if c.Generation.MaxBatches == 0 {
		c.Generation.MaxBatches = 100
	}
	if c.Subcontract.TimeoutSeconds == 0 {
		c.Subcontract.TimeoutSeconds = 10
	}
	if c.Server.Addr == "" {
		c.Server.Addr = "127.0.0.1:8080"
	}
	if c.Server.BasePath == "" {
		c.Server.BasePath = "/v1"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Plant.ID == "" {
		return fmt.Errorf("config.plant.id is required")
	}
	prefixes := map[string]string{}
	for key, p := range map[string]string{"mo_prefix": c.Numbering.MOPrefix, "wo_prefix": c.Numbering.WOPrefix, "mi_prefix": c.Numbering.MIPrefix} {
		if !prefixRe.MatchString(p) {
			return fmt.Errorf("config.numbering.%s %q must be 1-8 upper-case letters or digits", key, p)
		}
		if other, ok := prefixes[p]; ok {
			return fmt.Errorf("config.numbering.%s duplicates %s (%s)", key, other, p)
		}
		prefixes[p] = key
	}
	if c.Generation.MaxBatches < 1 {
		return fmt.Errorf("config.generation.max_batches must be positive")
	}
	if c.Subcontract.URL != "" {
		u, err := url.Parse(c.Subcontract.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("config.subcontract.url must be an http(s) URL")
		}
	}
	if c.Subcontract.TimeoutSeconds < 0 {
		return fmt.Errorf("config.subcontract.timeout_seconds must not be negative")
	}
	if c.Server.BasePath[0] != '/' {
		return fmt.Errorf("config.server.base_path must start with /")
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config.log.level must be one of debug, info, warn, error")
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("config.log.format must be json or console")
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "plant.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(plantID string) string {
	return fmt.Sprintf(defaultTemplate, plantID)
}

// Default returns the default Config struct for a plant.
func Default(plantID string) *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(GenerateDefault(plantID))).Decode(&cfg)
	cfg.applyDefaults()
	return &cfg
}

// FromYAML parses, defaults and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	cfg.applyDefaults()
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

const defaultTemplate = `plant:
  id: %s

numbering:
  mo_prefix: MO
  wo_prefix: WO
  mi_prefix: MI

generation:
  # fail generation when a BOM has a non-positive base quantity
  # instead of scaling with ratio 1
  reject_invalid_bom: false
  max_batches: 100

subcontract:
  # empty url keeps hand-offs in the local outbox table
  url: ""
  secret: ""
  timeout_seconds: 10

server:
  addr: 127.0.0.1:8080
  base_path: /v1

log:
  level: info
  format: console
`
