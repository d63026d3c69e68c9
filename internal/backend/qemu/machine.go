// Package qemu implements the capability interfaces on top of a QEMU
// process driven over QMP.
package qemu

import (
	"context"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/jeeftor/vmcap/internal/capability"
	"github.com/jeeftor/vmcap/internal/logging"
	"github.com/jeeftor/vmcap/internal/qmp"
)

// RecoveryBootModeVariable is the NVRAM variable that asks the firmware to
// boot the recovery system once.
const RecoveryBootModeVariable = "recovery-boot-mode"

// Options tune a Machine.
type Options struct {
	// NVRAM backs recovery boots. Without it BootMacOSRecovery is unsupported.
	NVRAM capability.NVRAMStore
	// MACAddress of the guest NIC, used for address discovery.
	MACAddress string
	// DisplaySize is used to scale pointer coordinates until a screenshot
	// has reported the real framebuffer size.
	DisplaySize image.Point
	// KeyboardDevice and PointerDevice select input-send-event targets.
	// Empty means the console defaults.
	KeyboardDevice string
	PointerDevice  string
	// StatePollInterval paces Wait on attached machines.
	StatePollInterval time.Duration
}

// Machine is one QEMU guest.
type Machine struct {
	client *qmp.Client
	opts   Options
	log    *logging.ContextualLogger

	proc *process

	mu           sync.Mutex
	size         image.Point
	buttons      capability.ButtonMask
	touch        []capability.MultiTouchDeviceConfiguration
	touchApplied int
}

var _ capability.Machine = (*Machine)(nil)
var _ capability.TouchConfigurator = (*Machine)(nil)

// Attach connects to a QEMU instance that is already running.
func Attach(ctx context.Context, vmid, socketPath string, opts Options) (*Machine, error) {
	var client *qmp.Client
	if socketPath != "" {
		client = qmp.NewWithSocketPath(vmid, socketPath)
	} else {
		client = qmp.New(vmid)
	}
	if err := client.Connect(ctx); err != nil {
		return nil, fmt.Errorf("error connecting to VM %s: %w", vmid, err)
	}
	return newMachine(client, opts, nil), nil
}

func newMachine(client *qmp.Client, opts Options, proc *process) *Machine {
	if opts.StatePollInterval <= 0 {
		opts.StatePollInterval = time.Second
	}
	return &Machine{
		client: client,
		opts:   opts,
		proc:   proc,
		log:    logging.NewContextualLogger(client.VMID(), "qemu"),
	}
}

// Client exposes the underlying QMP connection.
func (m *Machine) Client() *qmp.Client { return m.client }

// MACAddress returns the guest NIC address, if known.
func (m *Machine) MACAddress() string { return m.opts.MACAddress }

// State maps the QEMU run state onto capability.MachineState.
func (m *Machine) State(ctx context.Context) (capability.MachineState, error) {
	if m.proc != nil && m.proc.exited() {
		return capability.MachineStopped, nil
	}
	status, err := m.client.QueryStatus(ctx)
	if err != nil {
		return capability.MachineError, err
	}
	return machineState(status.Status), nil
}

func machineState(status string) capability.MachineState {
	switch status {
	case "running":
		return capability.MachineRunning
	case "prelaunch", "inmigrate":
		return capability.MachineStarting
	case "paused", "suspended", "debug", "postmigrate", "finish-migrate",
		"save-vm", "restore-vm", "watchdog", "colo":
		return capability.MachinePaused
	case "shutdown":
		return capability.MachineStopped
	case "internal-error", "io-error", "guest-panicked":
		return capability.MachineError
	default:
		return capability.MachineError
	}
}

// Stop terminates QEMU immediately.
func (m *Machine) Stop(ctx context.Context) error {
	m.log.Info("Stopping machine")
	if err := m.client.Quit(ctx); err != nil {
		return err
	}
	if m.proc != nil {
		return m.proc.wait(ctx)
	}
	return nil
}

// RequestStop presses the ACPI power button.
func (m *Machine) RequestStop(ctx context.Context) error {
	m.log.Info("Requesting guest shutdown")
	return m.client.SystemPowerdown(ctx)
}

// Wait blocks until the machine exits. For attached machines this polls
// the run state until QEMU reports shutdown or the socket goes away.
func (m *Machine) Wait(ctx context.Context) error {
	if m.proc != nil {
		return m.proc.wait(ctx)
	}

	ticker := time.NewTicker(m.opts.StatePollInterval)
	defer ticker.Stop()
	for {
		status, err := m.client.QueryStatus(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			m.log.Debug("Machine went away", "error", err)
			return nil
		}
		if status.Status == "shutdown" {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Close drops the QMP connection. A launched process keeps running.
func (m *Machine) Close() error {
	return m.client.Close()
}

func (m *Machine) setSize(p image.Point) {
	m.mu.Lock()
	m.size = p
	m.mu.Unlock()
}

// displaySize returns the framebuffer size, taking a screenshot to learn
// it when nothing is known yet.
func (m *Machine) displaySize(ctx context.Context) (image.Point, error) {
	m.mu.Lock()
	size := m.size
	m.mu.Unlock()
	if size.X > 0 && size.Y > 0 {
		return size, nil
	}
	if m.opts.DisplaySize.X > 0 && m.opts.DisplaySize.Y > 0 {
		return m.opts.DisplaySize, nil
	}
	img, err := capability.TakeScreenshot(ctx, m)
	if err != nil {
		return image.Point{}, fmt.Errorf("unknown display size: %w", err)
	}
	return img.Bounds().Size(), nil
}
