package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultsAreValid(t *testing.T) {
	if err := NewConfig().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Transport.Kind != TransportSerial || cfg.Transport.Baud != 115200 {
		t.Fatalf("unexpected defaults: %+v", cfg.Transport)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	cfg := NewConfig()
	cfg.Transport.Kind = TransportTCP
	cfg.Transport.Addr = "127.0.0.1:9000"
	cfg.Flash.BaseAddress = 0x08020000
	cfg.Recovery.AutoRecovery = true
	cfg.Debug.StateLogging = true
	if err := cfg.Save(path); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Transport.Kind != TransportTCP || loaded.Transport.Addr != "127.0.0.1:9000" {
		t.Fatalf("transport round trip: %+v", loaded.Transport)
	}
	if loaded.Flash.BaseAddress != 0x08020000 {
		t.Fatalf("flash base round trip: 0x%08X", loaded.Flash.BaseAddress)
	}
	if !loaded.Recovery.AutoRecovery || !loaded.Debug.StateLogging {
		t.Fatal("flags lost in round trip")
	}
}

func TestLoadKeepsDefaultsForOmittedSections(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	partial := "version: 1\ntransport:\n  kind: loopback\n"
	if err := os.WriteFile(path, []byte(partial), 0600); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Transport.Kind != TransportLoopback {
		t.Fatalf("kind = %q", cfg.Transport.Kind)
	}
	if cfg.Timeouts.SessionMs != 30000 || cfg.Flash.Size == 0 {
		t.Fatalf("defaults not preserved: %+v", cfg)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad version", func(c *Config) { c.Version = 2 }},
		{"unknown transport", func(c *Config) { c.Transport.Kind = "carrier-pigeon" }},
		{"serial without port", func(c *Config) { c.Transport.Port = "" }},
		{"serial without baud", func(c *Config) { c.Transport.Baud = 0 }},
		{"tcp without addr", func(c *Config) {
			c.Transport.Kind = TransportTCP
			c.Transport.Addr = ""
		}},
		{"unaligned flash base", func(c *Config) { c.Flash.BaseAddress = 0x08010003 }},
		{"odd flash size", func(c *Config) { c.Flash.Size = 1000 }},
		{"zero session timeout", func(c *Config) { c.Timeouts.SessionMs = 0 }},
		{"byte timeout above frame timeout", func(c *Config) {
			c.Timeouts.FrameByteMs = 5000
			c.Timeouts.FrameTotalMs = 3000
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("validation passed, want error")
			}
		})
	}
}
