// ABOUTME: Daemon configuration
// ABOUTME: Loads the YAML config file with environment overrides and validates output blocks
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Resonate-Protocol/resonated/pkg/audio"
	"github.com/Resonate-Protocol/resonated/pkg/audio/output"
)

// ErrConfig is returned for invalid configuration. It matches output.ErrConfig.
var ErrConfig = fmt.Errorf("config: %w", output.ErrConfig)

// Config holds all runtime configuration
type Config struct {
	Name        string        `yaml:"name"`
	LogLevel    string        `yaml:"log_level"`
	LogFile     string        `yaml:"log_file"`
	ReopenAfter time.Duration `yaml:"reopen_after"`
	ControlAddr string        `yaml:"control_addr"`
	Zeroconf    Zeroconf      `yaml:"zeroconf"`
	NTPPort     int           `yaml:"ntp_port"`
	Outputs     []Output      `yaml:"outputs"`
}

// Zeroconf configures the mDNS service announcement
type Zeroconf struct {
	Enabled bool   `yaml:"enabled"`
	Name    string `yaml:"name"`
	Port    int    `yaml:"port"`
}

// Output is one audio_output block
type Output struct {
	Name    string
	Type    string
	Format  string
	Enabled *bool
	// Params holds every other key of the block for the plugin
	Params output.Params
}

// IsEnabled returns the enabled key, defaulting to true
func (o Output) IsEnabled() bool {
	return o.Enabled == nil || *o.Enabled
}

// RequestedFormat parses the format key. It returns nil when absent.
func (o Output) RequestedFormat() (*audio.Format, error) {
	if o.Format == "" {
		return nil, nil
	}
	f, err := audio.ParseFormat(o.Format)
	if err != nil {
		return nil, fmt.Errorf("%w: output %q: %v", ErrConfig, o.Name, err)
	}
	return &f, nil
}

// UnmarshalYAML splits the known keys from the plugin parameters. Values
// are taken verbatim, so `type: null` names the null plugin.
func (o *Output) UnmarshalYAML(value *yaml.Node) error {
	var raw map[string]yaml.Node
	if err := value.Decode(&raw); err != nil {
		return err
	}

	o.Params = output.Params{}
	for key, node := range raw {
		if node.Kind != yaml.ScalarNode {
			return fmt.Errorf("%w: output key %q must be a scalar (line %d)", ErrConfig, key, node.Line)
		}
		v := node.Value
		if v == "" {
			continue
		}
		switch key {
		case "name":
			o.Name = v
		case "type":
			o.Type = v
		case "format":
			o.Format = v
		case "enabled":
			b, err := output.Params{key: v}.Bool(key, true)
			if err != nil {
				return fmt.Errorf("%w: output enabled must be a boolean, got %q", ErrConfig, v)
			}
			o.Enabled = &b
		default:
			o.Params[key] = v
		}
	}
	return nil
}

// Default returns the configuration used when no file is given
func Default() *Config {
	return &Config{
		Name:        "Resonated",
		LogLevel:    "info",
		ReopenAfter: 10 * time.Second,
		ControlAddr: "127.0.0.1:6680",
		Zeroconf: Zeroconf{
			Enabled: true,
			Name:    "Resonated",
			Port:    6600,
		},
		NTPPort: 6002,
	}
}

// Load reads path, or $RESONATED_CONFIG when path is empty, over the
// defaults and applies environment overrides
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = envStr("RESONATED_CONFIG", "")
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			if errors.Is(err, ErrConfig) {
				return nil, fmt.Errorf("%s: %w", path, err)
			}
			return nil, fmt.Errorf("%w: %s: %v", ErrConfig, path, err)
		}
	}

	cfg.LogLevel = envStr("RESONATED_LOG_LEVEL", cfg.LogLevel)
	cfg.ControlAddr = envStr("RESONATED_CONTROL_ADDR", cfg.ControlAddr)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks every output block
func (c *Config) Validate() error {
	if c.ReopenAfter < 0 {
		return fmt.Errorf("%w: reopen_after must not be negative", ErrConfig)
	}

	seen := make(map[string]bool)
	for i, o := range c.Outputs {
		if o.Name == "" {
			return fmt.Errorf("%w: output %d: missing \"name\"", ErrConfig, i)
		}
		if o.Type == "" {
			return fmt.Errorf("%w: output %q: missing \"type\"", ErrConfig, o.Name)
		}
		if seen[o.Name] {
			return fmt.Errorf("%w: duplicate output name %q", ErrConfig, o.Name)
		}
		seen[o.Name] = true

		if _, err := o.RequestedFormat(); err != nil {
			return err
		}
	}
	return nil
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
