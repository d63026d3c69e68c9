package params

import (
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeeftor/vmcap/internal/ocr"
)

func TestResolveVMIDWithInfo(t *testing.T) {
	tests := []struct {
		name           string
		args           []string
		position       int
		envValue       string
		viperValue     string
		expectedValue  string
		expectedSource string
		expectError    bool
	}{
		{
			name:           "VM ID from argument",
			args:           []string{"123", "other"},
			position:       0,
			envValue:       "999",
			expectedValue:  "123",
			expectedSource: "argument",
		},
		{
			name:           "VM ID from environment when no argument",
			args:           []string{},
			position:       0,
			envValue:       "456",
			expectedValue:  "456",
			expectedSource: "config",
		},
		{
			name:           "VM ID from config when no argument or env",
			position:       0,
			viperValue:     "builder-7",
			expectedValue:  "builder-7",
			expectedSource: "config",
		},
		{
			name:           "argument index past the end falls back",
			args:           []string{"screenshot.png"},
			position:       1,
			viperValue:     "789",
			expectedValue:  "789",
			expectedSource: "config",
		},
		{
			name:        "path separators rejected",
			args:        []string{"../etc"},
			position:    0,
			expectError: true,
		},
		{
			name:        "nothing set",
			position:    0,
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := viper.New()
			v.SetEnvPrefix("VMCAP")
			v.AutomaticEnv()
			if tt.envValue != "" {
				t.Setenv("VMCAP_VM_ID", tt.envValue)
			}
			if tt.viperValue != "" {
				v.Set("vm_id", tt.viperValue)
			}

			info, err := NewParameterResolver(v).ResolveVMIDWithInfo(tt.args, tt.position)
			if tt.expectError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expectedValue, info.Value)
			assert.Equal(t, tt.expectedSource, info.Source)
		})
	}
}

func TestResolveVMIDMissingIsSentinel(t *testing.T) {
	_, err := NewParameterResolver(viper.New()).ResolveVMID(nil, 0)
	assert.ErrorIs(t, err, ErrMissingVMID)
}

func TestResolveTrainingData(t *testing.T) {
	v := viper.New()
	r := NewParameterResolver(v)

	info := r.ResolveTrainingDataWithInfo(nil, 0)
	assert.Equal(t, ocr.DefaultTrainingDataPath(), info.Value)
	assert.Equal(t, "default", info.Source)

	v.Set("ocr.training_data", "/tmp/train.json")
	assert.Equal(t, "/tmp/train.json", r.ResolveTrainingData(nil, 0))
	assert.Equal(t, "/data/x.json", r.ResolveTrainingData([]string{"vm", "/data/x.json"}, 1))
}

func TestResolveOutputFileAndFormat(t *testing.T) {
	v := viper.New()
	r := NewParameterResolver(v)

	info := r.ResolveOutputFileWithInfo([]string{"vm"}, 1)
	assert.Equal(t, "none", info.Source)
	assert.Empty(t, info.Value)

	v.Set("output_file", "out.png")
	assert.Equal(t, "out.png", r.ResolveOutputFile(nil, 1))
	assert.Equal(t, "given.ppm", r.ResolveOutputFile([]string{"vm", "given.ppm"}, 1))

	assert.Equal(t, "png", r.ResolveScreenshotFormat(""))
	v.Set("screenshot.format", "PPM")
	assert.Equal(t, "ppm", r.ResolveScreenshotFormat(""))
	assert.Equal(t, "png", r.ResolveScreenshotFormat("PNG"))
}
