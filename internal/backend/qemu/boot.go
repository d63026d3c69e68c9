package qemu

import (
	"context"
	"fmt"

	"github.com/jeeftor/vmcap/internal/capability"
)

// StartWithOptions resumes the paused machine according to opts.
//
// QEMU has no iBoot, so the halt modes map onto run control: stage 1 stops
// at the reset vector and stage 2 stops at the first RESET or RESUME event
// after the reset. ForceDFU has no equivalent.
func (m *Machine) StartWithOptions(ctx context.Context, opts *capability.StartOptions) error {
	if err := opts.Validate(); err != nil {
		return err
	}
	if opts != nil && opts.ForceDFU {
		return fmt.Errorf("force DFU: %w", capability.ErrUnsupported)
	}
	if err := m.applyTouchDevices(ctx); err != nil {
		return err
	}

	m.log.Info("Starting machine", "mode", opts.String())
	c := m.client
	switch {
	case opts.IsZero():
		return c.Cont(ctx)

	case opts.BootMacOSRecovery:
		if m.opts.NVRAM == nil {
			return fmt.Errorf("recovery boot without NVRAM store: %w", capability.ErrUnsupported)
		}
		if err := m.opts.NVRAM.SetValue(ctx, RecoveryBootModeVariable, "unused"); err != nil {
			return fmt.Errorf("failed to request recovery boot: %w", err)
		}
		if err := c.SystemReset(ctx); err != nil {
			return err
		}
		return c.Cont(ctx)

	case opts.StopInIBootStage1:
		if err := c.Stop(ctx); err != nil {
			return err
		}
		return c.SystemReset(ctx)

	case opts.StopInIBootStage2:
		c.DrainEvents()
		if err := c.SystemReset(ctx); err != nil {
			return err
		}
		if err := c.Cont(ctx); err != nil {
			return err
		}
		if _, err := c.WaitEvent(ctx, "RESET", "RESUME"); err != nil {
			return fmt.Errorf("waiting for firmware restart: %w", err)
		}
		return c.Stop(ctx)
	}
	return nil
}
