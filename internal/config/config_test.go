package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_MissingFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.Nil(t, cfg.Matcher.URL)
	assert.Nil(t, cfg.Capture.Passphrase)
}

func TestLoadConfig_EmptyPath(t *testing.T) {
	_, err := LoadConfig("")
	require.Error(t, err)
}

func TestLoadConfig_Decode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	data := `
[matcher]
url = "http://matcher.local:8000"
timeout = "3s"

[capture]
passphrase = "open sesame"
source = "evdev"

[schema]
default-count = 30

[log]
level = "debug"
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.NotNil(t, cfg.Matcher.URL)
	assert.Equal(t, "http://matcher.local:8000", *cfg.Matcher.URL)
	assert.Equal(t, "3s", *cfg.Matcher.Timeout)
	assert.Equal(t, "open sesame", *cfg.Capture.Passphrase)
	assert.Equal(t, "evdev", *cfg.Capture.Source)
	assert.Nil(t, cfg.Capture.Device)
	assert.Equal(t, 30, *cfg.Schema.DefaultCount)
	assert.Equal(t, "debug", *cfg.Log.Level)
}

func TestLoadConfig_Malformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[matcher\nurl = "), 0o644))

	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to decode config")
}

func TestLoadEnv_Overrides(t *testing.T) {
	tests := []struct {
		name     string
		envVars  map[string]string
		expected func(*testing.T, FileConfig)
	}{
		{
			name:    "matcher url",
			envVars: map[string]string{"KEYRHYTHM_MATCHER_URL": "http://env:9000"},
			expected: func(t *testing.T, fc FileConfig) {
				assert.Equal(t, "http://env:9000", *fc.Matcher.URL)
			},
		},
		{
			name: "capture and schema",
			envVars: map[string]string{
				"KEYRHYTHM_PASSPHRASE":    "let me in",
				"KEYRHYTHM_DEFAULT_COUNT": "31",
			},
			expected: func(t *testing.T, fc FileConfig) {
				assert.Equal(t, "let me in", *fc.Capture.Passphrase)
				assert.Equal(t, 31, *fc.Schema.DefaultCount)
			},
		},
		{
			name:    "unset keeps file value",
			envVars: map[string]string{},
			expected: func(t *testing.T, fc FileConfig) {
				assert.Equal(t, "file", *fc.Capture.Source)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.envVars {
				t.Setenv(k, v)
			}
			envCfg, err := LoadEnv()
			require.NoError(t, err)

			source := "file"
			fc := FileConfig{Capture: CaptureConfig{Source: &source}}
			envCfg.Apply(&fc)
			tt.expected(t, fc)
		})
	}
}

func TestLoadEnv_InvalidInt(t *testing.T) {
	t.Setenv("KEYRHYTHM_DEFAULT_COUNT", "many")
	_, err := LoadEnv()
	require.Error(t, err)
}

func TestDefaultPathsUseXDG(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	t.Setenv("XDG_DATA_HOME", dir)
	t.Setenv("XDG_STATE_HOME", dir)

	assert.Equal(t, filepath.Join(dir, "keyrhythm", "config.toml"), DefaultConfigPath())
	assert.Equal(t, filepath.Join(dir, "keyrhythm", "keyrhythm.db"), DefaultDBPath())
	assert.Equal(t, filepath.Join(dir, "keyrhythm", "keyrhythm.log"), DefaultLogPath())
}
