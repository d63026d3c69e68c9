// Package capability defines the host-neutral surface used to drive a guest
// virtual machine: framebuffers, input sinks, NVRAM, multi-touch devices and
// privileged start options. Exactly one backend per host implements it.
package capability

import (
	"context"
	"errors"
	"image"
)

var (
	// ErrNoValue is returned when a lookup has nothing to return, for example
	// an NVRAM variable that was never set.
	ErrNoValue = errors.New("no value")

	// ErrUnsupported is returned when the host backend cannot express a capability.
	ErrUnsupported = errors.New("capability not supported by this host")
)

// Framebuffer is a single display surface of a graphics device.
type Framebuffer interface {
	Screenshot(ctx context.Context) (image.Image, error)
}

// GraphicsDevice is a guest display adapter.
type GraphicsDevice interface {
	Type() GraphicsDeviceType
	Framebuffers() []Framebuffer
}

// ScreenshotProvider exposes the graphics devices of a running machine.
type ScreenshotProvider interface {
	GraphicsDevices(ctx context.Context) ([]GraphicsDevice, error)
}

// Keyboard accepts key events for the guest.
type Keyboard interface {
	SendKeyEvents(ctx context.Context, events []KeyEvent) error
}

// PointingDevice accepts absolute pointer events for the guest.
type PointingDevice interface {
	SendPointerEvents(ctx context.Context, events []PointerEvent) error
}

// InputDevices exposes the input sinks attached to a machine.
type InputDevices interface {
	Keyboards(ctx context.Context) ([]Keyboard, error)
	PointingDevices(ctx context.Context) ([]PointingDevice, error)
}

// NVRAMStore reads and writes the firmware variables of one machine.
//
// Value and Remove return ErrNoValue when the variable does not exist.
type NVRAMStore interface {
	AllVariables(ctx context.Context) (map[string]NVRAMValue, error)
	AllVariablesInPartition(ctx context.Context, partition NVRAMPartition) (map[string]NVRAMValue, error)
	Value(ctx context.Context, name string) (NVRAMValue, error)
	Remove(ctx context.Context, name string) error
	SetValue(ctx context.Context, name string, value NVRAMValue) error
}

// BootController starts a machine. A nil options value is a normal start.
type BootController interface {
	StartWithOptions(ctx context.Context, opts *StartOptions) error
}

// TouchConfigurator manages the multi-touch devices of a machine.
type TouchConfigurator interface {
	SetMultiTouchDevices(devices []MultiTouchDeviceConfiguration) error
	MultiTouchDevices() []MultiTouchDeviceConfiguration
}

// Machine is the full set of capabilities a backend offers for one guest.
type Machine interface {
	ScreenshotProvider
	InputDevices
	BootController

	State(ctx context.Context) (MachineState, error)
	// Stop halts the guest immediately.
	Stop(ctx context.Context) error
	// RequestStop asks the guest to shut down.
	RequestStop(ctx context.Context) error
	// Wait blocks until the machine exits.
	Wait(ctx context.Context) error
	MACAddress() string
	Close() error
}

// MachineState is the run state reported by a backend.
type MachineState int

const (
	MachineStopped MachineState = iota
	MachineStarting
	MachineRunning
	MachinePaused
	MachineStopping
	MachineError
)

func (s MachineState) String() string {
	switch s {
	case MachineStopped:
		return "stopped"
	case MachineStarting:
		return "starting"
	case MachineRunning:
		return "running"
	case MachinePaused:
		return "paused"
	case MachineStopping:
		return "stopping"
	case MachineError:
		return "error"
	default:
		return "unknown"
	}
}

// FirstFramebuffer returns the first framebuffer of the first graphics device.
func FirstFramebuffer(ctx context.Context, p ScreenshotProvider) (Framebuffer, error) {
	devices, err := p.GraphicsDevices(ctx)
	if err != nil {
		return nil, err
	}
	for _, d := range devices {
		if fbs := d.Framebuffers(); len(fbs) > 0 {
			return fbs[0], nil
		}
	}
	return nil, ErrNoValue
}

// TakeScreenshot captures the first framebuffer of p.
func TakeScreenshot(ctx context.Context, p ScreenshotProvider) (image.Image, error) {
	fb, err := FirstFramebuffer(ctx, p)
	if err != nil {
		return nil, err
	}
	return fb.Screenshot(ctx)
}
