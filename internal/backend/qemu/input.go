package qemu

import (
	"context"
	"fmt"
	"image"
	"math"

	"github.com/jeeftor/vmcap/internal/capability"
	"github.com/jeeftor/vmcap/internal/qmp"
)

type keyboard struct{ m *Machine }

// SendKeyEvents sends the events in order as one input-send-event batch.
func (k keyboard) SendKeyEvents(ctx context.Context, events []capability.KeyEvent) error {
	batch := make([]qmp.InputEvent, 0, len(events))
	for _, ev := range events {
		qcode, ok := qmp.QCodeForMacKey(ev.KeyCode)
		if !ok {
			return fmt.Errorf("no QEMU key for key code 0x%02x", ev.KeyCode)
		}
		batch = append(batch, qmp.KeyInputEvent(qcode, ev.Type == capability.KeyDown))
	}
	if len(batch) == 0 {
		return nil
	}
	return k.m.client.InputSendEvent(ctx, k.m.opts.KeyboardDevice, batch)
}

type pointingDevice struct{ m *Machine }

var buttonNames = []struct {
	mask capability.ButtonMask
	name string
}{
	{capability.ButtonPrimary, "left"},
	{capability.ButtonSecondary, "right"},
	{capability.ButtonMiddle, "middle"},
}

// SendPointerEvents moves the absolute pointer and emits button transitions
// relative to the previously sent mask.
func (p pointingDevice) SendPointerEvents(ctx context.Context, events []capability.PointerEvent) error {
	if len(events) == 0 {
		return nil
	}
	size, err := p.m.displaySize(ctx)
	if err != nil {
		return err
	}

	p.m.mu.Lock()
	prev := p.m.buttons
	p.m.mu.Unlock()

	var batch []qmp.InputEvent
	for _, ev := range events {
		x, y := scaleToAbs(ev.Location, size)
		batch = append(batch, qmp.AbsInputEvent("x", x), qmp.AbsInputEvent("y", y))
		for _, b := range buttonNames {
			was, is := prev&b.mask != 0, ev.PressedButtons&b.mask != 0
			if was != is {
				batch = append(batch, qmp.ButtonInputEvent(b.name, is))
			}
		}
		prev = ev.PressedButtons
	}

	if err := p.m.client.InputSendEvent(ctx, p.m.opts.PointerDevice, batch); err != nil {
		return err
	}
	p.m.mu.Lock()
	p.m.buttons = prev
	p.m.mu.Unlock()
	return nil
}

// scaleToAbs converts framebuffer pixels to QEMU's absolute axis range,
// clamping points outside the framebuffer to its edges.
func scaleToAbs(pt capability.Point, size image.Point) (int, int) {
	axis := func(v float64, extent int) int {
		if extent <= 1 {
			return 0
		}
		f := v / float64(extent-1)
		f = math.Max(0, math.Min(1, f))
		return int(math.Round(f * qmp.AbsMax))
	}
	return axis(pt.X, size.X), axis(pt.Y, size.Y)
}

// Keyboards returns the single console keyboard.
func (m *Machine) Keyboards(context.Context) ([]capability.Keyboard, error) {
	return []capability.Keyboard{keyboard{m: m}}, nil
}

// PointingDevices returns the single absolute pointer.
func (m *Machine) PointingDevices(context.Context) ([]capability.PointingDevice, error) {
	return []capability.PointingDevice{pointingDevice{m: m}}, nil
}
