package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultValidates(t *testing.T) {
	c := Default()
	if err := c.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if c.Server.ListenAddress != ":2228" || c.Server.MaxConnections != 10 {
		t.Fatalf("unexpected server defaults %+v", c.Server)
	}
	if c.Transport.BufferSize != 2048 || c.Transport.MaxPacketSize != 1<<20 {
		t.Fatalf("unexpected transport defaults %+v", c.Transport)
	}
	if c.Validation.MaxPositionMagnitude != 1000 || c.Validation.RotationTolerance != 0.01 {
		t.Fatalf("unexpected validation defaults %+v", c.Validation)
	}
	if c.SpawnTransform().Position.Y != 3 {
		t.Fatalf("unexpected spawn %+v", c.SpawnTransform())
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shadownet.yml")
	data := []byte(`
server:
  listen_address: ":3000"
  max_connections: 4
  handshake_timeout: 2s
transport:
  write_timeout: 250ms
validation:
  max_position_magnitude: 50
spawn:
  position: {x: 1, y: 2, z: 3}
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := c.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if c.Server.ListenAddress != ":3000" || c.Server.MaxConnections != 4 {
		t.Fatalf("server overrides not applied: %+v", c.Server)
	}
	if c.Server.HandshakeTimeout != 2*time.Second || c.Transport.WriteTimeout != 250*time.Millisecond {
		t.Fatalf("duration overrides not applied: %s %s", c.Server.HandshakeTimeout, c.Transport.WriteTimeout)
	}
	if c.Server.TickRate != TickRate || c.Transport.BufferSize != 2048 {
		t.Fatalf("defaults lost for unspecified keys")
	}
	if c.Validation.MaxPositionMagnitude != 50 || c.Validation.RotationTolerance != 0.01 {
		t.Fatalf("validation merge wrong: %+v", c.Validation)
	}
	if p := c.SpawnTransform().Position; p.X != 1 || p.Y != 2 || p.Z != 3 {
		t.Fatalf("spawn override not applied: %+v", p)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]func(c *Config){
		"no listen address":  func(c *Config) { c.Server.ListenAddress = "" },
		"zero connections":   func(c *Config) { c.Server.MaxConnections = 0 },
		"tiny buffer":        func(c *Config) { c.Transport.BufferSize = 16 },
		"zero tick":          func(c *Config) { c.Server.TickRate = 0 },
		"bad tolerance":      func(c *Config) { c.Validation.RotationTolerance = 0 },
		"spawn out of range": func(c *Config) { c.Spawn.Position.X = 5000 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := Default()
			mutate(c)
			if err := c.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
