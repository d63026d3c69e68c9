package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeeftor/vmcap/internal/capability"
)

func TestParseNVRAMValue(t *testing.T) {
	tests := []struct {
		in, typ string
		want    capability.NVRAMValue
	}{
		{"%01", "", "%01"},
		{"true", "bool", true},
		{"0x10", "int", int64(16)},
		{"1.5", "float", 1.5},
		{"0xdead", "hex", []byte{0xde, 0xad}},
		{"AQI=", "base64", []byte{1, 2}},
	}
	for _, tt := range tests {
		got, err := parseNVRAMValue(tt.in, tt.typ)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}

	_, err := parseNVRAMValue("x", "uuid")
	assert.Error(t, err)
	_, err = parseNVRAMValue("maybe", "bool")
	assert.Error(t, err)
}

func TestFormatNVRAMValue(t *testing.T) {
	assert.Equal(t, `"boot-args"`, formatNVRAMValue("boot-args"))
	assert.Equal(t, "0x0102", formatNVRAMValue([]byte{1, 2}))
	assert.Equal(t, "42", formatNVRAMValue(int64(42)))
	assert.Equal(t, "true", formatNVRAMValue(true))
}
