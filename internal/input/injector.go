// Package input turns high level actions (press a key, click a point, type
// text) into timed event sequences on the capability input sinks.
package input

import (
	"context"
	"fmt"
	"time"

	"github.com/jeeftor/vmcap/internal/capability"
	"github.com/jeeftor/vmcap/internal/logging"
)

// Timing holds the pauses between input events.
type Timing struct {
	// KeyHold is the time between key down and key up.
	KeyHold time.Duration
	// KeyGap is the pause after each key up.
	KeyGap time.Duration
	// PointerSettle separates move, press and release of a click.
	PointerSettle time.Duration
}

// DefaultTiming matches what guests reliably pick up.
var DefaultTiming = Timing{
	KeyHold:       100 * time.Millisecond,
	KeyGap:        20 * time.Millisecond,
	PointerSettle: 200 * time.Millisecond,
}

// Injector drives one keyboard and one pointing device.
type Injector struct {
	Keyboard capability.Keyboard
	Pointer  capability.PointingDevice
	Timing   Timing
}

// NewInjector uses the first keyboard and pointing device of devices.
func NewInjector(ctx context.Context, devices capability.InputDevices, timing Timing) (*Injector, error) {
	kbds, err := devices.Keyboards(ctx)
	if err != nil {
		return nil, err
	}
	pds, err := devices.PointingDevices(ctx)
	if err != nil {
		return nil, err
	}
	if len(kbds) == 0 {
		return nil, fmt.Errorf("no keyboard: %w", capability.ErrNoValue)
	}
	if len(pds) == 0 {
		return nil, fmt.Errorf("no pointing device: %w", capability.ErrNoValue)
	}
	return &Injector{Keyboard: kbds[0], Pointer: pds[0], Timing: timing}, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (in *Injector) key(ctx context.Context, typ capability.KeyEventType, code uint16) error {
	return in.Keyboard.SendKeyEvents(ctx, []capability.KeyEvent{{Type: typ, KeyCode: code}})
}

// release sends key up even when ctx is already done so keys never stay stuck.
func (in *Injector) release(ctx context.Context, code uint16) error {
	if ctx.Err() != nil {
		ctx = context.WithoutCancel(ctx)
	}
	return in.key(ctx, capability.KeyUp, code)
}

// PressKey presses and releases one key.
func (in *Injector) PressKey(ctx context.Context, code uint16) error {
	if err := in.key(ctx, capability.KeyDown, code); err != nil {
		return err
	}
	holdErr := sleep(ctx, in.Timing.KeyHold)
	if err := in.release(ctx, code); err != nil {
		return err
	}
	if holdErr != nil {
		return holdErr
	}
	return sleep(ctx, in.Timing.KeyGap)
}

// PressKeys presses each code in turn while the holding keys are held down.
// Holding keys are released in the order they were pressed.
func (in *Injector) PressKeys(ctx context.Context, codes []uint16, holding ...uint16) (err error) {
	logging.Debug("Pressing keys", "codes", codes, "holding", holding)

	var down []uint16
	defer func() {
		for _, h := range down {
			if rerr := in.release(ctx, h); rerr != nil && err == nil {
				err = rerr
			}
		}
	}()

	for _, h := range holding {
		if err := in.key(ctx, capability.KeyDown, h); err != nil {
			return err
		}
		down = append(down, h)
	}
	for _, c := range codes {
		if err := in.PressKey(ctx, c); err != nil {
			return err
		}
	}
	return nil
}

// Click moves the pointer to p and clicks the primary button.
func (in *Injector) Click(ctx context.Context, p capability.Point) error {
	steps := []capability.ButtonMask{0, capability.ButtonPrimary, 0}
	for i, buttons := range steps {
		if i > 0 {
			if err := sleep(ctx, in.Timing.PointerSettle); err != nil {
				if buttons == 0 {
					// Finish the click so the button is not left pressed.
					ctx = context.WithoutCancel(ctx)
				} else {
					return err
				}
			}
		}
		ev := capability.PointerEvent{Location: p, PressedButtons: buttons}
		if err := in.Pointer.SendPointerEvents(ctx, []capability.PointerEvent{ev}); err != nil {
			return err
		}
	}
	return nil
}

// MoveTo moves the pointer without pressing buttons.
func (in *Injector) MoveTo(ctx context.Context, p capability.Point) error {
	return in.Pointer.SendPointerEvents(ctx, []capability.PointerEvent{{Location: p}})
}

// TypeText types text on a US layout.
func (in *Injector) TypeText(ctx context.Context, text string) error {
	strokes, err := Keystrokes(text)
	if err != nil {
		return err
	}
	for _, s := range strokes {
		if s.Shift {
			err = in.PressKeys(ctx, []uint16{s.Code}, capability.KeyShift)
		} else {
			err = in.PressKey(ctx, s.Code)
		}
		if err != nil {
			return err
		}
	}
	return nil
}
