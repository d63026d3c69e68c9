package qemu

import (
	"context"
	"fmt"

	"github.com/jeeftor/vmcap/internal/capability"
)

// SetMultiTouchDevices records the multi-touch devices to attach on the
// next start. USB touch screens become usb-tablet devices; Apple touch
// screens have no QEMU model.
func (m *Machine) SetMultiTouchDevices(devices []capability.MultiTouchDeviceConfiguration) error {
	cloned := make([]capability.MultiTouchDeviceConfiguration, 0, len(devices))
	for _, d := range devices {
		if d.Kind() != capability.USBTouchScreen {
			return fmt.Errorf("%s: %w", d.Kind(), capability.ErrUnsupported)
		}
		cloned = append(cloned, d.Clone())
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if len(cloned) < m.touchApplied {
		return fmt.Errorf("removing attached touch devices is not supported")
	}
	m.touch = cloned
	return nil
}

// MultiTouchDevices returns a copy of the configured devices.
func (m *Machine) MultiTouchDevices() []capability.MultiTouchDeviceConfiguration {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]capability.MultiTouchDeviceConfiguration, 0, len(m.touch))
	for _, d := range m.touch {
		out = append(out, d.Clone())
	}
	return out
}

func (m *Machine) applyTouchDevices(ctx context.Context) error {
	m.mu.Lock()
	pending := m.touch[m.touchApplied:]
	start := m.touchApplied
	m.mu.Unlock()

	if len(pending) == 0 {
		return nil
	}

	used := make(map[string]bool)
	if devices, err := m.client.QueryUSB(ctx); err != nil {
		m.log.Debug("Could not list USB devices", "error", err)
	} else {
		for _, d := range devices {
			used[d.ID] = true
		}
	}

	next := start
	for range pending {
		id := fmt.Sprintf("touch%d", next)
		for used[id] {
			next++
			id = fmt.Sprintf("touch%d", next)
		}
		next++
		if err := m.client.DeviceAdd(ctx, "usb-tablet", id, nil); err != nil {
			return fmt.Errorf("failed to attach touch screen %s: %w", id, err)
		}
		m.mu.Lock()
		m.touchApplied++
		m.mu.Unlock()
	}
	return nil
}

// AttachMultiTouchDevices hot-plugs configured devices that are not attached
// yet, without waiting for the next start.
func (m *Machine) AttachMultiTouchDevices(ctx context.Context) error {
	return m.applyTouchDevices(ctx)
}
