// Package config loads the bench configuration from YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ghalamif/TensileFlow/internal/adapters/calibration"
	"github.com/ghalamif/TensileFlow/internal/adapters/opcua"
	"github.com/ghalamif/TensileFlow/internal/ports"
)

type Config struct {
	Policy      ports.Policy                `yaml:"policy"`
	OPCUA       opcua.Config                `yaml:"opcua"`
	Channels    ChannelsConfig              `yaml:"channels"`
	Calibration map[string]calibration.Gain `yaml:"calibration"`
	Interaction InteractionConfig           `yaml:"interaction"`
	Archive     ArchiveConfig               `yaml:"archive"`
	Metrics     MetricsConfig               `yaml:"metrics"`
	UI          UIConfig                    `yaml:"ui"`
	WAL         WALConfig                   `yaml:"wal"`
	Export      ExportConfig                `yaml:"export"`
	Log         LogConfig                   `yaml:"log"`
}

// ChannelsConfig names the channels plotted on each axis.
type ChannelsConfig struct {
	X           string `yaml:"x"`
	Y           string `yaml:"y"`
	Synchronize *bool  `yaml:"synchronize"`
	Persist     *bool  `yaml:"persist"`
	DeviceID    string `yaml:"device_id"`
}

// Synchronized reports whether x and y are paired only when both are fresh.
func (c ChannelsConfig) Synchronized() bool { return c.Synchronize == nil || *c.Synchronize }

// Persisted reports whether raw channel history is retained.
func (c ChannelsConfig) Persisted() bool { return c.Persist == nil || *c.Persist }

type InteractionConfig struct {
	DragThreshold float64 `yaml:"drag_threshold"`
}

// ArchiveConfig enables the Postgres archive when ConnString is set.
type ArchiveConfig struct {
	ConnString string `yaml:"conn_string"`
	Table      string `yaml:"table"`
}

func (a ArchiveConfig) Enabled() bool { return a.ConnString != "" }

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

type UIConfig struct {
	Path string `yaml:"path"`
}

type WALConfig struct {
	Dir string `yaml:"dir"`
}

type ExportConfig struct {
	Dir string `yaml:"dir"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(raw)
}

// Parse decodes, defaults and validates a YAML document.
func Parse(raw []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a configuration with every default applied and no device.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

func (c *Config) applyDefaults() {
	if c.Policy.MaxWALSizeBytes == 0 {
		c.Policy.MaxWALSizeBytes = 1 << 30
	}
	if c.Policy.MaxQueueLen == 0 {
		c.Policy.MaxQueueLen = 10_000
	}
	if c.Policy.MaxBatchSize == 0 {
		c.Policy.MaxBatchSize = 500
	}
	if c.Policy.IdleSleep == 0 {
		c.Policy.IdleSleep = 5 * time.Millisecond
	}
	if c.Policy.OnQueueFull == "" {
		c.Policy.OnQueueFull = ports.OnFullBlock
	}
	if c.Policy.OnWALFull == "" {
		c.Policy.OnWALFull = ports.OnFullBlock
	}
	if c.Channels.X == "" {
		c.Channels.X = "disp"
	}
	if c.Channels.Y == "" {
		c.Channels.Y = "force"
	}
	if c.Interaction.DragThreshold == 0 {
		c.Interaction.DragThreshold = 2
	}
	if c.Archive.Table == "" {
		c.Archive.Table = "samples"
	}
	if c.Metrics.Addr == "" {
		c.Metrics.Addr = ":9100"
	}
	if c.UI.Path == "" {
		c.UI.Path = "/ws"
	}
	if c.WAL.Dir == "" {
		c.WAL.Dir = "./data/wal"
	}
	if c.Export.Dir == "" {
		c.Export.Dir = "./data/exports"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	c.OPCUA.ApplyDefaults()
}

func (c *Config) validate() error {
	var errs []error
	if c.OPCUA.Endpoint != "" {
		if err := c.OPCUA.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("opcua config: %w", err))
		}
		for _, ch := range []string{c.Channels.X, c.Channels.Y} {
			if !contains(c.OPCUA.Channels(), ch) {
				errs = append(errs, fmt.Errorf("opcua config: no node feeds channel %q", ch))
			}
		}
	}
	if c.Channels.X == c.Channels.Y {
		errs = append(errs, fmt.Errorf("channels.x and channels.y must differ, both are %q", c.Channels.X))
	}
	if c.Interaction.DragThreshold < 0 {
		errs = append(errs, errors.New("interaction.drag_threshold must not be negative"))
	}
	if !strings.HasPrefix(c.UI.Path, "/") {
		errs = append(errs, fmt.Errorf("ui.path must start with /, got %q", c.UI.Path))
	}
	for _, p := range []struct{ name, value string }{
		{"policy.on_queue_full", c.Policy.OnQueueFull},
		{"policy.on_wal_full", c.Policy.OnWALFull},
	} {
		switch p.value {
		case ports.OnFullBlock, ports.OnFullDrop, ports.OnFullReject:
		default:
			errs = append(errs, fmt.Errorf("%s: unknown policy %q", p.name, p.value))
		}
	}
	return errors.Join(errs...)
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
