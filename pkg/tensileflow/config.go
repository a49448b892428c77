package tensileflow

import (
	"github.com/ghalamif/TensileFlow/internal/adapters/calibration"
	"github.com/ghalamif/TensileFlow/internal/adapters/opcua"
	"github.com/ghalamif/TensileFlow/internal/app/config"
	"github.com/ghalamif/TensileFlow/internal/ports"
)

// Config is the root YAML configuration.
type Config = config.Config

type (
	// Policy bounds the WAL and queue between transport and engine.
	Policy = ports.Policy
	// OPCUAConfig holds the device endpoint and monitored nodes.
	OPCUAConfig = opcua.Config
	// OPCUANodeConfig maps one monitored node to a channel.
	OPCUANodeConfig = opcua.NodeConfig
	ChannelsConfig  = config.ChannelsConfig
	// Gain is a per-channel linear calibration.
	Gain              = calibration.Gain
	InteractionConfig = config.InteractionConfig
	ArchiveConfig     = config.ArchiveConfig
	MetricsConfig     = config.MetricsConfig
	UIConfig          = config.UIConfig
	WALConfig         = config.WALConfig
	ExportConfig      = config.ExportConfig
	LogConfig         = config.LogConfig
)

// LoadConfig reads, defaults and validates a YAML file.
func LoadConfig(path string) (*Config, error) { return config.Load(path) }

// ParseConfig is LoadConfig for an in-memory document.
func ParseConfig(raw []byte) (*Config, error) { return config.Parse(raw) }

// DefaultConfig returns the defaults with no device configured.
func DefaultConfig() *Config { return config.Default() }
