package logging

import (
	"bytes"
	"errors"
	"log/slog"
	"os"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureOutput(t *testing.T, level string) *bytes.Buffer {
	t.Helper()
	color.NoColor = true
	var buf bytes.Buffer
	SetOutput(&buf)
	InitWithLevel(level)
	t.Cleanup(func() {
		SetOutput(os.Stderr)
		InitWithLevel("info")
	})
	return &buf
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"trace", LevelTrace, false},
		{"DEBUG", slog.LevelDebug, false},
		{"", slog.LevelInfo, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"loud", slog.LevelInfo, true},
	}

	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if tt.wantErr {
			assert.Error(t, err)
		} else {
			assert.NoError(t, err)
		}
		assert.Equal(t, tt.want, got, "level %q", tt.in)
	}
}

func TestLevelFiltering(t *testing.T) {
	buf := captureOutput(t, "info")

	Debug("hidden")
	Info("shown", "vmid", "100")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "INFO shown vmid=100")
	assert.False(t, IsDebugEnabled())
}

func TestTraceLevel(t *testing.T) {
	buf := captureOutput(t, "trace")

	Trace("wire", "bytes", 12)
	assert.Contains(t, buf.String(), "TRACE wire bytes=12")
	assert.True(t, IsDebugEnabled())
}

func TestContextualLoggerAttributes(t *testing.T) {
	buf := captureOutput(t, "debug")

	l := NewContextualLogger("vm1", "boot").With("mode", "recovery")
	l.Info("starting")

	assert.Contains(t, buf.String(), "INFO starting vmid=vm1 op=boot mode=recovery")
}

func TestGroupedAttributes(t *testing.T) {
	buf := captureOutput(t, "info")

	slog.Default().WithGroup("rpc").Info("frame", "len", 4)
	assert.Contains(t, buf.String(), "rpc.len=4")
}

func TestLogOperationReturnsError(t *testing.T) {
	buf := captureOutput(t, "debug")

	boom := errors.New("boom")
	err := LogOperation("screenshot", "vm1", func() error { return boom })
	require.ErrorIs(t, err, boom)
	assert.Contains(t, buf.String(), "Operation failed")

	require.NoError(t, LogOperation("status", "vm1", func() error { return nil }))
	assert.Contains(t, buf.String(), "Operation completed operation=status")
}

func TestUserOutput(t *testing.T) {
	buf := captureOutput(t, "info")

	Successf("saved %s", "shot.png")
	UserErrorf("failed %d", 2)

	assert.Contains(t, buf.String(), "✓ saved shot.png")
	assert.Contains(t, buf.String(), "✗ failed 2")
}
