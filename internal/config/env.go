package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// EnvConfig holds overrides read from KEYRHYTHM_* environment variables.
// Unset variables leave their field nil.
type EnvConfig struct {
	MatcherURL   *string `env:"MATCHER_URL"`
	Timeout      *string `env:"MATCHER_TIMEOUT"`
	Passphrase   *string `env:"PASSPHRASE"`
	Source       *string `env:"SOURCE"`
	Device       *string `env:"DEVICE"`
	DefaultCount *int    `env:"DEFAULT_COUNT"`
	LogLevel     *string `env:"LOG_LEVEL"`
	LogFile      *string `env:"LOG_FILE"`
}

// LoadEnv parses KEYRHYTHM_* environment variables.
func LoadEnv() (EnvConfig, error) {
	var cfg EnvConfig
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: "KEYRHYTHM_"}); err != nil {
		return EnvConfig{}, fmt.Errorf("failed to parse environment: %w", err)
	}
	return cfg, nil
}

// Apply overlays environment values on top of the file config.
func (e EnvConfig) Apply(fc *FileConfig) {
	overlay(&fc.Matcher.URL, e.MatcherURL)
	overlay(&fc.Matcher.Timeout, e.Timeout)
	overlay(&fc.Capture.Passphrase, e.Passphrase)
	overlay(&fc.Capture.Source, e.Source)
	overlay(&fc.Capture.Device, e.Device)
	overlay(&fc.Schema.DefaultCount, e.DefaultCount)
	overlay(&fc.Log.Level, e.LogLevel)
	overlay(&fc.Log.File, e.LogFile)
}

func overlay[T any](dst **T, src *T) {
	if src != nil {
		*dst = src
	}
}
