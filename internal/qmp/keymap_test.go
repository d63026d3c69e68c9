package qmp

import (
	"testing"

	"github.com/jeeftor/vmcap/internal/capability"
	"github.com/stretchr/testify/assert"
)

func TestResolveKey(t *testing.T) {
	tests := []struct {
		key  string
		want []string
	}{
		{"enter", []string{"ret"}},
		{" ", []string{"spc"}},
		{"a", []string{"a"}},
		{"A", []string{"shift", "a"}},
		{"!", []string{"shift", "1"}},
		{":", []string{"shift", "semicolon"}},
		{"F5", []string{"f5"}},
		{"ctrl-alt-del", []string{"ctrl", "alt", "delete"}},
		{"cmd+q", []string{"meta_l", "q"}},
		{"-", []string{"minus"}},
		{"ctrl-bogus", nil},
		{"é", nil},
		{"notakey", nil},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			assert.Equal(t, tt.want, ResolveKey(tt.key))
		})
	}
}

func TestQCodeForMacKey(t *testing.T) {
	tests := []struct {
		code uint16
		want string
	}{
		{capability.KeyA, "a"},
		{capability.KeyReturn, "ret"},
		{capability.KeyCommand, "meta_l"},
		{capability.KeyDelete, "backspace"},
		{capability.KeyForwardDelete, "delete"},
		{capability.KeyKeypadClear, "num_lock"},
	}
	for _, tt := range tests {
		got, ok := QCodeForMacKey(tt.code)
		assert.True(t, ok)
		assert.Equal(t, tt.want, got)
		assert.True(t, IsQCode(got), got)
	}

	_, ok := QCodeForMacKey(capability.KeyFunction)
	assert.False(t, ok)
}

func TestEveryMacMappingIsAQCode(t *testing.T) {
	for code, q := range macToQCode {
		assert.True(t, IsQCode(q), "mac key 0x%02x maps to unknown qcode %q", code, q)
	}
}
