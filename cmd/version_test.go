package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatBuildTime(t *testing.T) {
	assert.Equal(t, "2024-03-01 12:30:00 UTC", formatBuildTime("2024-03-01T12:30:00Z"))
	assert.Equal(t, "1970-01-01 00:01:40 UTC", formatBuildTime("100"))
	assert.Equal(t, "unknown", formatBuildTime("unknown"))
}
