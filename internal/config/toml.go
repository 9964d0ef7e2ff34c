// Package config provides configuration helpers and TOML parsing.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// FileConfig represents the TOML configuration file.
type FileConfig struct {
	Matcher MatcherConfig `toml:"matcher"`
	Capture CaptureConfig `toml:"capture"`
	Schema  SchemaConfig  `toml:"schema"`
	Log     LogConfig     `toml:"log"`
}

// MatcherConfig maps matcher service settings.
type MatcherConfig struct {
	URL     *string `toml:"url"`
	Timeout *string `toml:"timeout"`
}

// CaptureConfig maps capture-related settings.
type CaptureConfig struct {
	Passphrase *string `toml:"passphrase"`
	Source     *string `toml:"source"`
	Device     *string `toml:"device"`
}

// SchemaConfig maps feature schema settings.
type SchemaConfig struct {
	DefaultCount *int `toml:"default-count"`
}

// LogConfig maps logging settings.
type LogConfig struct {
	Level *string `toml:"level"`
	File  *string `toml:"file"`
}

// LoadConfig reads a TOML config from the given path. Missing file is not an error.
func LoadConfig(path string) (FileConfig, error) {
	if path == "" {
		return FileConfig{}, fmt.Errorf("config path is empty")
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return FileConfig{}, nil
		}
		return FileConfig{}, fmt.Errorf("failed to stat config: %w", err)
	}
	var cfg FileConfig
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return FileConfig{}, fmt.Errorf("failed to decode config: %w", err)
	}
	return cfg, nil
}
