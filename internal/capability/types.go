package capability

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// KeyEventType distinguishes key presses from releases.
type KeyEventType int

const (
	KeyDown KeyEventType = iota
	KeyUp
)

func (t KeyEventType) String() string {
	if t == KeyUp {
		return "up"
	}
	return "down"
}

// KeyEvent is one key transition. KeyCode is a macOS virtual key code.
type KeyEvent struct {
	Type    KeyEventType
	KeyCode uint16
}

// Point is a location in framebuffer pixels, origin at the top-left corner.
type Point struct {
	X float64
	Y float64
}

// ButtonMask holds the pressed pointer buttons.
type ButtonMask uint16

const (
	ButtonPrimary ButtonMask = 1 << iota
	ButtonSecondary
	ButtonMiddle
)

// PointerEvent moves the pointer to Location with PressedButtons held.
type PointerEvent struct {
	Location       Point
	PressedButtons ButtonMask
}

// GraphicsDeviceType is the integer classification code of a graphics device.
type GraphicsDeviceType int

const (
	GraphicsDeviceUnknown GraphicsDeviceType = iota
	GraphicsDeviceVirtio
	GraphicsDeviceMac
	GraphicsDeviceVGA
)

func (t GraphicsDeviceType) String() string {
	switch t {
	case GraphicsDeviceVirtio:
		return "virtio"
	case GraphicsDeviceMac:
		return "mac"
	case GraphicsDeviceVGA:
		return "vga"
	default:
		return "unknown"
	}
}

// MultiTouchKind names a multi-touch configuration variant.
type MultiTouchKind string

const (
	AppleTouchScreen MultiTouchKind = "apple-touchscreen"
	USBTouchScreen   MultiTouchKind = "usb-touchscreen"
)

// MultiTouchDeviceConfiguration describes a multi-touch device to attach.
// The only implementations are AppleTouchScreenConfiguration and
// USBTouchScreenConfiguration.
type MultiTouchDeviceConfiguration interface {
	Kind() MultiTouchKind
	Clone() MultiTouchDeviceConfiguration
	multiTouch()
}

// AppleTouchScreenConfiguration is a touch screen with Apple's protocol.
type AppleTouchScreenConfiguration struct{}

func (AppleTouchScreenConfiguration) Kind() MultiTouchKind { return AppleTouchScreen }

func (c AppleTouchScreenConfiguration) Clone() MultiTouchDeviceConfiguration { return c }

func (AppleTouchScreenConfiguration) multiTouch() {}

// USBTouchScreenConfiguration is a generic USB HID touch screen.
type USBTouchScreenConfiguration struct{}

func (USBTouchScreenConfiguration) Kind() MultiTouchKind { return USBTouchScreen }

func (c USBTouchScreenConfiguration) Clone() MultiTouchDeviceConfiguration { return c }

func (USBTouchScreenConfiguration) multiTouch() {}

// ParseMultiTouchKind returns the configuration for a kind name.
func ParseMultiTouchKind(kind string) (MultiTouchDeviceConfiguration, error) {
	switch MultiTouchKind(strings.ToLower(kind)) {
	case AppleTouchScreen, "apple":
		return AppleTouchScreenConfiguration{}, nil
	case USBTouchScreen, "usb":
		return USBTouchScreenConfiguration{}, nil
	}
	return nil, fmt.Errorf("unknown multi-touch device %q", kind)
}

// StartOptions are the privileged boot options of a macOS guest.
type StartOptions struct {
	ForceDFU          bool `json:"forceDFU,omitempty"`
	StopInIBootStage1 bool `json:"stopInIBootStage1,omitempty"`
	StopInIBootStage2 bool `json:"stopInIBootStage2,omitempty"`
	BootMacOSRecovery bool `json:"bootMacOSRecovery,omitempty"`
}

// ErrConflictingStartOptions is returned by Validate when more than one mode is set.
var ErrConflictingStartOptions = errors.New("start options are mutually exclusive")

// Validate rejects options that select more than one boot mode.
func (o *StartOptions) Validate() error {
	if o == nil {
		return nil
	}
	if n := len(o.modes()); n > 1 {
		return fmt.Errorf("%w: %s", ErrConflictingStartOptions, o)
	}
	return nil
}

// IsZero reports whether o describes a normal boot.
func (o *StartOptions) IsZero() bool {
	return o == nil || len(o.modes()) == 0
}

func (o *StartOptions) String() string {
	if o.IsZero() {
		return "normal"
	}
	return strings.Join(o.modes(), "+")
}

func (o *StartOptions) modes() []string {
	var modes []string
	if o.ForceDFU {
		modes = append(modes, "dfu")
	}
	if o.StopInIBootStage1 {
		modes = append(modes, "stop-stage1")
	}
	if o.StopInIBootStage2 {
		modes = append(modes, "stop-stage2")
	}
	if o.BootMacOSRecovery {
		modes = append(modes, "recovery")
	}
	return modes
}

// UnmarshalJSON decodes options and validates them.
func (o *StartOptions) UnmarshalJSON(data []byte) error {
	type plain StartOptions
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	opts := StartOptions(p)
	if err := opts.Validate(); err != nil {
		return err
	}
	*o = opts
	return nil
}

// NVRAMPartition selects a firmware variable namespace.
type NVRAMPartition uint

const (
	PartitionCommon NVRAMPartition = 1
	PartitionSystem NVRAMPartition = 2
)

func (p NVRAMPartition) String() string {
	switch p {
	case PartitionCommon:
		return "common"
	case PartitionSystem:
		return "system"
	default:
		return fmt.Sprintf("partition(%d)", uint(p))
	}
}

// ParseNVRAMPartition accepts a partition name or number.
func ParseNVRAMPartition(s string) (NVRAMPartition, error) {
	switch strings.ToLower(s) {
	case "common", "1":
		return PartitionCommon, nil
	case "system", "2":
		return PartitionSystem, nil
	}
	return 0, fmt.Errorf("unknown NVRAM partition %q", s)
}

// NVRAMValue is a firmware variable value: string, []byte, bool, int64 or float64.
type NVRAMValue any

// NormalizeNVRAMValue converts v to one of the supported value types.
func NormalizeNVRAMValue(v any) (NVRAMValue, error) {
	switch x := v.(type) {
	case string, []byte, bool, int64, float64:
		return x, nil
	case int:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case uint32:
		return int64(x), nil
	case float32:
		return float64(x), nil
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i, nil
		}
		return x.Float64()
	case nil:
		return nil, errors.New("NVRAM value must not be nil")
	default:
		return nil, fmt.Errorf("unsupported NVRAM value type %T", v)
	}
}
