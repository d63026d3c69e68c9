package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newViper(t *testing.T, values map[string]any) *viper.Viper {
	t.Helper()
	v := viper.New()
	SetDefaults(v)
	for k, val := range values {
		v.Set(k, val)
	}
	return v
}

func TestLoadDefaults(t *testing.T) {
	base := t.TempDir()
	cfg, err := Load(newViper(t, map[string]any{"daemon.base_path": base}))
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, filepath.Join(base, "daemon.sock"), cfg.Daemon.Socket)
	assert.Equal(t, filepath.Join(base, "nvram.db"), cfg.NVRAM.Database)
	assert.Equal(t, 100*time.Millisecond, cfg.Input.KeyHold)
	assert.Equal(t, 20*time.Millisecond, cfg.Input.KeyGap)
	assert.Equal(t, 200*time.Millisecond, cfg.Input.PointerSettle)
	assert.Equal(t, time.Second, cfg.Automation.PollInterval)
	assert.Equal(t, 30*time.Second, cfg.Daemon.StopTimeout)
	assert.Equal(t, 160, cfg.OCR.Columns)
	assert.Equal(t, 50, cfg.OCR.Rows)
	assert.Equal(t, "png", cfg.Screenshot.Format)
}

func TestLoadParsesDurationStrings(t *testing.T) {
	cfg, err := Load(newViper(t, map[string]any{
		"daemon.base_path":         t.TempDir(),
		"input.key_hold":           "250ms",
		"automation.poll_interval": "2s",
	}))
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, cfg.Input.KeyHold)
	assert.Equal(t, 2*time.Second, cfg.Automation.PollInterval)
}

func TestLoadKeepsExplicitPaths(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(newViper(t, map[string]any{
		"daemon.base_path": dir,
		"daemon.socket":    filepath.Join(dir, "custom.sock"),
		"nvram.database":   filepath.Join(dir, "vars.db"),
	}))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "custom.sock"), cfg.Daemon.Socket)
	assert.Equal(t, filepath.Join(dir, "vars.db"), cfg.NVRAM.Database)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name      string
		values    map[string]any
		wantField string
	}{
		{"defaults", nil, ""},
		{"bad log level", map[string]any{"log_level": "loud"}, "log_level"},
		{"small memory", map[string]any{"qemu.memory_mb": 128}, "qemu.memory_mb"},
		{"zero cpus", map[string]any{"qemu.cpus": 0}, "qemu.cpus"},
		{"negative hold", map[string]any{"input.key_hold": "-1ms"}, "input.key_hold"},
		{"zero poll", map[string]any{"automation.poll_interval": "0s"}, "automation.poll_interval"},
		{"zero columns", map[string]any{"ocr.columns": 0}, "ocr.columns"},
		{"bad format", map[string]any{"screenshot.format": "gif"}, "screenshot.format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			values := map[string]any{"daemon.base_path": t.TempDir()}
			for k, v := range tt.values {
				values[k] = v
			}
			cfg, err := Load(newViper(t, values))
			require.NoError(t, err)

			result := cfg.Validate()
			if tt.wantField == "" {
				assert.True(t, result.Valid)
				assert.NoError(t, result.Err())
				return
			}
			assert.False(t, result.Valid)
			require.NotEmpty(t, result.Errors)
			assert.Equal(t, tt.wantField, result.Errors[0].Field)
			assert.ErrorContains(t, result.Err(), tt.wantField)
		})
	}
}

func TestValidateWarnsOnUserNetworking(t *testing.T) {
	cfg, err := Load(newViper(t, map[string]any{"daemon.base_path": t.TempDir()}))
	require.NoError(t, err)
	result := cfg.Validate()
	assert.True(t, result.Valid)
	assert.NotEmpty(t, result.Warnings)
}
