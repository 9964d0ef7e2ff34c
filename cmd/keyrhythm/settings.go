package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/verte-zerg/keyrhythm/internal/config"
	"github.com/verte-zerg/keyrhythm/internal/features"
	"github.com/verte-zerg/keyrhythm/internal/logger"
	"github.com/verte-zerg/keyrhythm/internal/model"
)

const (
	defaultMatcherURL  = "http://127.0.0.1:8000"
	defaultTimeout     = "15s"
	defaultPassphrase  = "open sesame"
	defaultLogLevel    = "info"
	defaultCurveWindow = 20
)

const (
	sourceTerminal = "terminal"
	sourceEvdev    = "evdev"
)

var (
	matcherURL     string
	matcherTimeout string
	passphrase     string
	captureSource  string
	captureDevice  string
	defaultCount   int
	logLevel       string
	logFile        string
)

func addSettingsFlags(cmd *cobra.Command) {
	flags := cmd.PersistentFlags()
	flags.StringVar(&matcherURL, "matcher-url", defaultMatcherURL, "matcher service base URL")
	flags.StringVar(&matcherTimeout, "timeout", defaultTimeout, "matcher request timeout")
	flags.StringVar(&passphrase, "passphrase", defaultPassphrase, "passphrase to type")
	flags.StringVar(&captureSource, "source", sourceTerminal, "capture source (terminal or evdev)")
	flags.StringVar(&captureDevice, "device", "", "comma-separated evdev devices (default: discover)")
	flags.IntVar(&defaultCount, "default-count", model.DefaultExpectedCount, "expected feature count before the matcher answers")
	flags.StringVar(&logLevel, "log-level", defaultLogLevel, "log level (debug, info, warn, error)")
	flags.StringVar(&logFile, "log-file", "", "log file path")
}

// resolveConfig merges settings with precedence flag > environment > config
// file > default.
func resolveConfig(cmd *cobra.Command) (model.Config, error) {
	fileCfg, err := config.LoadConfig(config.DefaultConfigPath())
	if err != nil {
		return model.Config{}, fmt.Errorf("failed to load config: %w", err)
	}
	envCfg, err := config.LoadEnv()
	if err != nil {
		return model.Config{}, err
	}
	envCfg.Apply(&fileCfg)

	applyStringConfig(cmd, "matcher-url", &matcherURL, fileCfg.Matcher.URL)
	applyStringConfig(cmd, "timeout", &matcherTimeout, fileCfg.Matcher.Timeout)
	applyStringConfig(cmd, "passphrase", &passphrase, fileCfg.Capture.Passphrase)
	applyStringConfig(cmd, "source", &captureSource, fileCfg.Capture.Source)
	applyStringConfig(cmd, "device", &captureDevice, fileCfg.Capture.Device)
	applyIntConfig(cmd, "default-count", &defaultCount, fileCfg.Schema.DefaultCount)
	applyStringConfig(cmd, "log-level", &logLevel, fileCfg.Log.Level)
	applyStringConfig(cmd, "log-file", &logFile, fileCfg.Log.File)

	timeout, err := time.ParseDuration(strings.TrimSpace(matcherTimeout))
	if err != nil {
		return model.Config{}, fmt.Errorf("invalid --timeout value: %w", err)
	}
	cfg := model.Config{
		MatcherURL:   strings.TrimSpace(matcherURL),
		Timeout:      timeout,
		Passphrase:   passphrase,
		Source:       strings.ToLower(strings.TrimSpace(captureSource)),
		Device:       captureDevice,
		DefaultCount: defaultCount,
		LogLevel:     logLevel,
		LogFile:      strings.TrimSpace(logFile),
	}
	if err := validateConfig(cfg); err != nil {
		return model.Config{}, err
	}
	return cfg, nil
}

func applyStringConfig(cmd *cobra.Command, name string, target, value *string) {
	if value == nil {
		return
	}
	if cmd.Flags().Changed(name) {
		return
	}
	*target = *value
}

func applyIntConfig(cmd *cobra.Command, name string, target, value *int) {
	if value == nil {
		return
	}
	if cmd.Flags().Changed(name) {
		return
	}
	*target = *value
}

func validateConfig(cfg model.Config) error {
	if cfg.MatcherURL == "" {
		return fmt.Errorf("--matcher-url must not be empty")
	}
	if cfg.Timeout <= 0 {
		return fmt.Errorf("--timeout must be > 0")
	}
	if cfg.Passphrase == "" {
		return fmt.Errorf("--passphrase must not be empty")
	}
	if cfg.Source != sourceTerminal && cfg.Source != sourceEvdev {
		return fmt.Errorf("--source must be %q or %q", sourceTerminal, sourceEvdev)
	}
	if cfg.DefaultCount < features.FixedScalars {
		return fmt.Errorf("--default-count must be >= %d", features.FixedScalars)
	}
	if _, err := logger.ParseLevel(cfg.LogLevel); err != nil {
		return fmt.Errorf("invalid --log-level: %w", err)
	}
	return nil
}

func defaultConfigTemplate() string {
	return fmt.Sprintf(`# keyrhythm configuration
# Uncomment a value to enable it. KEYRHYTHM_* variables override the file,
# CLI flags override both.

[matcher]
# url = %q   # Matcher service base URL
# timeout = %q                  # Request timeout

[capture]
# passphrase = %q        # Passphrase typed on every attempt
# source = %q              # terminal or evdev
# device = ""                     # Comma-separated evdev devices (default: discover)

[schema]
# default-count = %d              # Expected feature count until the matcher answers

[log]
# level = %q                    # debug, info, warn, error
# file = %q
`,
		defaultMatcherURL,
		defaultTimeout,
		defaultPassphrase,
		sourceTerminal,
		model.DefaultExpectedCount,
		defaultLogLevel,
		config.DefaultLogPath(),
	)
}
