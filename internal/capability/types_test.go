package capability

import (
	"context"
	"encoding/json"
	"errors"
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartOptionsValidate(t *testing.T) {
	tests := []struct {
		name    string
		opts    *StartOptions
		wantErr bool
		str     string
	}{
		{"nil", nil, false, "normal"},
		{"zero", &StartOptions{}, false, "normal"},
		{"recovery", &StartOptions{BootMacOSRecovery: true}, false, "recovery"},
		{"stage1", &StartOptions{StopInIBootStage1: true}, false, "stop-stage1"},
		{"dfu and stage2", &StartOptions{ForceDFU: true, StopInIBootStage2: true}, true, "dfu+stop-stage2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.opts.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrConflictingStartOptions)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.str, tt.opts.String())
		})
	}
}

func TestStartOptionsUnmarshalRejectsConflicts(t *testing.T) {
	var opts StartOptions
	err := json.Unmarshal([]byte(`{"stopInIBootStage1":true,"bootMacOSRecovery":true}`), &opts)
	assert.ErrorIs(t, err, ErrConflictingStartOptions)

	require.NoError(t, json.Unmarshal([]byte(`{"bootMacOSRecovery":true}`), &opts))
	assert.True(t, opts.BootMacOSRecovery)
	assert.False(t, opts.IsZero())
}

func TestNormalizeNVRAMValue(t *testing.T) {
	tests := []struct {
		in      any
		want    NVRAMValue
		wantErr bool
	}{
		{"boot-args", "boot-args", false},
		{[]byte{1, 2}, []byte{1, 2}, false},
		{true, true, false},
		{7, int64(7), false},
		{float32(1.5), float64(1.5), false},
		{json.Number("42"), int64(42), false},
		{json.Number("0.25"), 0.25, false},
		{nil, nil, true},
		{struct{}{}, nil, true},
	}

	for _, tt := range tests {
		got, err := NormalizeNVRAMValue(tt.in)
		if tt.wantErr {
			assert.Error(t, err, "input %v", tt.in)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}

func TestParseHelpers(t *testing.T) {
	p, err := ParseNVRAMPartition("system")
	require.NoError(t, err)
	assert.Equal(t, PartitionSystem, p)

	_, err = ParseNVRAMPartition("boot")
	assert.Error(t, err)

	c, err := ParseMultiTouchKind("usb")
	require.NoError(t, err)
	assert.Equal(t, USBTouchScreen, c.Kind())
	assert.Equal(t, c, c.Clone())

	_, err = ParseMultiTouchKind("stylus")
	assert.Error(t, err)
}

type stubFramebuffer struct{ img image.Image }

func (f stubFramebuffer) Screenshot(context.Context) (image.Image, error) { return f.img, nil }

type stubDevice struct{ fbs []Framebuffer }

func (stubDevice) Type() GraphicsDeviceType      { return GraphicsDeviceVirtio }
func (d stubDevice) Framebuffers() []Framebuffer     { return d.fbs }

type stubProvider struct {
	devices []GraphicsDevice
	err     error
}

func (p stubProvider) GraphicsDevices(context.Context) ([]GraphicsDevice, error) {
	return p.devices, p.err
}

func TestTakeScreenshot(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 4, 3))
	provider := stubProvider{devices: []GraphicsDevice{
		stubDevice{},
		stubDevice{fbs: []Framebuffer{stubFramebuffer{img: img}}},
	}}

	got, err := TakeScreenshot(context.Background(), provider)
	require.NoError(t, err)
	assert.Equal(t, img.Bounds(), got.Bounds())

	_, err = TakeScreenshot(context.Background(), stubProvider{})
	assert.ErrorIs(t, err, ErrNoValue)

	boom := errors.New("boom")
	_, err = TakeScreenshot(context.Background(), stubProvider{err: boom})
	assert.ErrorIs(t, err, boom)
}

func TestKeyCodeByName(t *testing.T) {
	tests := []struct {
		name string
		want uint16
		ok   bool
	}{
		{"Return", KeyReturn, true},
		{"cmd", KeyCommand, true},
		{"right-option", KeyRightOption, true},
		{"page_down", KeyPageDown, true},
		{"F5", KeyF5, true},
		{"hyper", 0, false},
	}

	for _, tt := range tests {
		got, ok := KeyCodeByName(tt.name)
		assert.Equal(t, tt.ok, ok, tt.name)
		assert.Equal(t, tt.want, got, tt.name)
	}
	assert.Contains(t, KeyNames(), "space")
}

func TestKeyName(t *testing.T) {
	assert.Equal(t, "return", KeyName(KeyReturn))
	assert.Equal(t, "command", KeyName(KeyCommand))
	assert.Equal(t, "q", KeyName(KeyQ))
	assert.Equal(t, "0x7F", KeyName(0x7F))
}
