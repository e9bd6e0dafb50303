package config

import (
	"fmt"

	"github.com/tallstad/bootcore/internal/flash"
)

// Transport kinds accepted in the configuration file.
const (
	TransportSerial   = "serial"
	TransportTCP      = "tcp"
	TransportLoopback = "loopback"
)

// Config is the entire simulator configuration file.
type Config struct {
	Version   int             `yaml:"version"`
	Transport TransportConfig `yaml:"transport"`
	Flash     FlashConfig     `yaml:"flash"`
	Timeouts  TimeoutConfig   `yaml:"timeouts,omitempty"`
	Recovery  RecoveryConfig  `yaml:"recovery,omitempty"`
	Debug     DebugConfig     `yaml:"debug,omitempty"`
}

// TransportConfig selects and parameterizes the link to the host.
type TransportConfig struct {
	Kind string `yaml:"kind"`           // serial, tcp or loopback
	Port string `yaml:"port,omitempty"` // serial device path
	Baud int    `yaml:"baud,omitempty"`
	Addr string `yaml:"addr,omitempty"` // tcp listen address
}

// FlashConfig describes the staging target region.
type FlashConfig struct {
	BaseAddress uint32 `yaml:"base_address"`
	Size        uint32 `yaml:"size"`
}

// TimeoutConfig overrides the session and frame reception timeouts.
type TimeoutConfig struct {
	SessionMs    uint32 `yaml:"session_ms"`
	FrameByteMs  uint32 `yaml:"frame_byte_ms"`
	FrameTotalMs uint32 `yaml:"frame_total_ms"`
}

// RecoveryConfig sets the emergency auto-recovery policy.
type RecoveryConfig struct {
	AutoRecovery bool   `yaml:"auto_recovery"`
	MaxAttempts  uint32 `yaml:"max_attempts"`
	DelayMs      uint32 `yaml:"delay_ms"`
}

// DebugConfig enables extra diagnostics.
type DebugConfig struct {
	StateLogging bool `yaml:"state_logging"`
	FrameLogging bool `yaml:"frame_logging"`
}

// NewConfig returns a Config populated with defaults: a 115200 baud serial
// link and a four-page staging region.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Transport: TransportConfig{
			Kind: TransportSerial,
			Port: "/dev/ttyUSB0",
			Baud: 115200,
			Addr: "127.0.0.1:7450",
		},
		Flash: FlashConfig{
			BaseAddress: 0x08010000,
			Size:        4 * flash.PageSize,
		},
		Timeouts: TimeoutConfig{
			SessionMs:    30000,
			FrameByteMs:  500,
			FrameTotalMs: 3000,
		},
		Recovery: RecoveryConfig{
			AutoRecovery: false,
			MaxAttempts:  3,
		},
	}
}

// Validate checks the configuration for values the runtime cannot use.
func (c *Config) Validate() error {
	if c.Version != 1 {
		return fmt.Errorf("unsupported config version: %d (expected 1)", c.Version)
	}

	switch c.Transport.Kind {
	case TransportSerial:
		if c.Transport.Port == "" {
			return fmt.Errorf("serial transport requires a port")
		}
		if c.Transport.Baud <= 0 {
			return fmt.Errorf("serial transport requires a positive baud rate, got %d", c.Transport.Baud)
		}
	case TransportTCP:
		if c.Transport.Addr == "" {
			return fmt.Errorf("tcp transport requires a listen address")
		}
	case TransportLoopback:
	default:
		return fmt.Errorf("unknown transport kind %q", c.Transport.Kind)
	}

	if c.Flash.Size == 0 || c.Flash.Size%flash.PageSize != 0 {
		return fmt.Errorf("flash size %d is not a multiple of the %d byte page size",
			c.Flash.Size, flash.PageSize)
	}
	if c.Flash.BaseAddress%flash.WriteAlign != 0 {
		return fmt.Errorf("flash base address 0x%08X is not %d byte aligned",
			c.Flash.BaseAddress, flash.WriteAlign)
	}

	if c.Timeouts.SessionMs == 0 || c.Timeouts.FrameByteMs == 0 || c.Timeouts.FrameTotalMs == 0 {
		return fmt.Errorf("timeouts must be positive")
	}
	if c.Timeouts.FrameByteMs > c.Timeouts.FrameTotalMs {
		return fmt.Errorf("frame byte timeout %dms exceeds the whole-frame timeout %dms",
			c.Timeouts.FrameByteMs, c.Timeouts.FrameTotalMs)
	}
	return nil
}
