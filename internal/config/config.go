// Package config holds the client configuration: protocol defaults overlaid
// by an optional YAML file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/1ureka/hdlgi/internal/protocol"
	"gopkg.in/yaml.v3"
)

// Config stores every tunable of the client. Zero values in a loaded file
// keep the defaults.
type Config struct {
	Host           string        `yaml:"host"`
	CommandPort    int           `yaml:"command_port"`
	DataPort       int           `yaml:"data_port"`
	RecvTimeout    time.Duration `yaml:"recv_timeout"`   // bounded wait per socket read
	AcceptTimeout  time.Duration `yaml:"accept_timeout"` // wait for the console to open the data connection
	RetryCount     int           `yaml:"retry_count"`    // in-place retries of a stalled chunk; recovery rounds per chunk
	ReconnectCount int           `yaml:"reconnect_count"`
	ChunkSectors   int           `yaml:"chunk_sectors"` // sectors moved per chunk
	Debug          bool          `yaml:"debug"`
}

// Default returns the values the console server is built around.
func Default() Config {
	return Config{
		CommandPort:    protocol.CommandPort,
		DataPort:       protocol.DataPort,
		RecvTimeout:    30 * time.Second,
		AcceptTimeout:  80 * time.Second,
		RetryCount:     3,
		ReconnectCount: 5,
		ChunkSectors:   2048,
	}
}

// DefaultPath returns $XDG_CONFIG_HOME/hdlgi/config.yaml (or the platform
// equivalent).
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "hdlgi", "config.yaml")
}

// Load returns Default overlaid with the YAML file at path. A missing file is
// not an error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}

	var file Config
	if err := yaml.Unmarshal(data, &file); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.merge(file)

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) merge(o Config) {
	if o.Host != "" {
		c.Host = o.Host
	}
	if o.CommandPort != 0 {
		c.CommandPort = o.CommandPort
	}
	if o.DataPort != 0 {
		c.DataPort = o.DataPort
	}
	if o.RecvTimeout != 0 {
		c.RecvTimeout = o.RecvTimeout
	}
	if o.AcceptTimeout != 0 {
		c.AcceptTimeout = o.AcceptTimeout
	}
	if o.RetryCount != 0 {
		c.RetryCount = o.RetryCount
	}
	if o.ReconnectCount != 0 {
		c.ReconnectCount = o.ReconnectCount
	}
	if o.ChunkSectors != 0 {
		c.ChunkSectors = o.ChunkSectors
	}
	c.Debug = c.Debug || o.Debug
}

// Validate rejects values the transfer engine cannot run with.
func (c Config) Validate() error {
	switch {
	case c.CommandPort <= 0 || c.CommandPort > 65535:
		return fmt.Errorf("command_port out of range: %d", c.CommandPort)
	case c.DataPort <= 0 || c.DataPort > 65535:
		return fmt.Errorf("data_port out of range: %d", c.DataPort)
	case c.RecvTimeout < 0 || c.AcceptTimeout < 0:
		return errors.New("timeouts must not be negative")
	case c.RetryCount < 0 || c.ReconnectCount < 0:
		return errors.New("retry_count and reconnect_count must not be negative")
	case c.ChunkSectors < 1 || c.ChunkSectors > 2048:
		return fmt.Errorf("chunk_sectors must be within 1..2048, got %d", c.ChunkSectors)
	}
	return nil
}
