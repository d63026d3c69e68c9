package qmp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jeeftor/vmcap/internal/logging"
)

func (q *Client) simple(ctx context.Context, name string) error {
	if _, err := q.Execute(ctx, name, nil); err != nil {
		return ErrCommandFailed(name, err)
	}
	return nil
}

// QueryStatus returns the current VM status
func (q *Client) QueryStatus(ctx context.Context) (*Status, error) {
	raw, err := q.Execute(ctx, "query-status", nil)
	if err != nil {
		return nil, ErrCommandFailed("query-status", err)
	}
	var status Status
	if err := json.Unmarshal(raw, &status); err != nil {
		return nil, ErrInvalidResponse(err.Error())
	}
	return &status, nil
}

// Stop pauses guest execution.
func (q *Client) Stop(ctx context.Context) error { return q.simple(ctx, "stop") }

// Cont resumes guest execution.
func (q *Client) Cont(ctx context.Context) error { return q.simple(ctx, "cont") }

// SystemReset performs a hard reset of the guest.
func (q *Client) SystemReset(ctx context.Context) error { return q.simple(ctx, "system_reset") }

// SystemPowerdown sends an ACPI power button event.
func (q *Client) SystemPowerdown(ctx context.Context) error {
	return q.simple(ctx, "system_powerdown")
}

// Quit terminates QEMU. The connection drops as part of the reply, so a
// read error after the command was written is not reported.
func (q *Client) Quit(ctx context.Context) error {
	_, err := q.Execute(ctx, "quit", nil)
	if err != nil && !errors.Is(err, ErrConnectionLost) {
		return ErrCommandFailed("quit", err)
	}
	return nil
}

// DeviceAdd hot-plugs a device.
func (q *Client) DeviceAdd(ctx context.Context, driver, id string, extra map[string]interface{}) error {
	args := map[string]interface{}{"driver": driver, "id": id}
	for k, v := range extra {
		args[k] = v
	}
	if _, err := q.Execute(ctx, "device_add", args); err != nil {
		return ErrCommandFailed("device_add", err)
	}
	return nil
}

// DeviceDel unplugs a device by id.
func (q *Client) DeviceDel(ctx context.Context, id string) error {
	if _, err := q.Execute(ctx, "device_del", map[string]interface{}{"id": id}); err != nil {
		return ErrCommandFailed("device_del", err)
	}
	return nil
}

// QOMList lists the children and properties of a QOM path.
func (q *Client) QOMList(ctx context.Context, path string) ([]QOMProperty, error) {
	raw, err := q.Execute(ctx, "qom-list", map[string]interface{}{"path": path})
	if err != nil {
		return nil, ErrCommandFailed("qom-list", err)
	}
	var props []QOMProperty
	if err := json.Unmarshal(raw, &props); err != nil {
		return nil, ErrInvalidResponse(err.Error())
	}
	return props, nil
}

// PeripheralPath is the QOM container of devices added with an id.
const PeripheralPath = "/machine/peripheral"

// QueryUSB lists the USB devices that were added with an id, such as
// usb-tablet or usb-kbd. QMP has no USB query of its own, so this walks
// PeripheralPath.
func (q *Client) QueryUSB(ctx context.Context) ([]USBDevice, error) {
	props, err := q.QOMList(ctx, PeripheralPath)
	if err != nil {
		return nil, err
	}
	var devices []USBDevice
	for _, p := range props {
		if !strings.HasPrefix(p.Type, "child<usb-") || !strings.HasSuffix(p.Type, ">") {
			continue
		}
		driver := strings.TrimSuffix(strings.TrimPrefix(p.Type, "child<"), ">")
		devices = append(devices, USBDevice{Driver: driver, ID: p.Name})
	}
	return devices, nil
}

// InputSendEvent injects input events. An empty device targets the
// default input handlers of the active console.
func (q *Client) InputSendEvent(ctx context.Context, device string, events []InputEvent) error {
	args := map[string]interface{}{"events": events}
	if device != "" {
		args["device"] = device
	}
	if _, err := q.Execute(ctx, "input-send-event", args); err != nil {
		return ErrCommandFailed("input-send-event", err)
	}
	return nil
}

// ScreenDump writes a PPM image of the display to filename. The path is
// resolved by the QEMU process, so it must be reachable from that host.
// An empty device selects the primary console.
func (q *Client) ScreenDump(ctx context.Context, filename, device string, head int) error {
	args := map[string]interface{}{"filename": filename}
	if device != "" {
		args["device"] = device
		args["head"] = head
	}
	if _, err := q.Execute(ctx, "screendump", args); err != nil {
		return ErrCommandFailed("screendump", err)
	}
	return nil
}

// ScreenDumpToTemp dumps the display into a new local temporary file and
// returns its path. The caller removes it.
func (q *Client) ScreenDumpToTemp(ctx context.Context, device string, head int) (string, error) {
	f, err := os.CreateTemp("", "vmcap-screendump-*.ppm")
	if err != nil {
		return "", fmt.Errorf("failed to create temporary file: %w", err)
	}
	path := f.Name()
	f.Close()

	if err := q.ScreenDump(ctx, path, device, head); err != nil {
		os.Remove(path)
		return "", err
	}
	return path, nil
}

// SendKey taps a key given by name, character or combination ("ctrl-alt-del").
func (q *Client) SendKey(ctx context.Context, key string) error {
	keys := ResolveKey(key)
	if len(keys) == 0 {
		logging.Debug("No QEMU mapping for key, skipping", "key", key)
		return nil
	}
	return q.sendKeys(ctx, keys)
}

// SendKeyCombo presses all keys together. Each entry must resolve to a single qcode.
func (q *Client) SendKeyCombo(ctx context.Context, keys []string) error {
	var qcodes []string
	for _, k := range keys {
		mapped := ResolveKey(k)
		if len(mapped) == 0 {
			return fmt.Errorf("invalid key for combo: %s", k)
		}
		if len(mapped) > 1 {
			return fmt.Errorf("key combo cannot contain key sequences: %s maps to %v", k, mapped)
		}
		qcodes = append(qcodes, mapped[0])
	}
	return q.sendKeys(ctx, qcodes)
}

func (q *Client) sendKeys(ctx context.Context, qcodes []string) error {
	keys := make([]keyValue, 0, len(qcodes))
	for _, k := range qcodes {
		keys = append(keys, keyValue{Type: "qcode", Data: k})
	}
	if _, err := q.Execute(ctx, "send-key", map[string]interface{}{"keys": keys}); err != nil {
		return ErrCommandFailed("send-key", err)
	}
	return nil
}

// SendString types text one character at a time with delay between characters.
func (q *Client) SendString(ctx context.Context, text string, delay time.Duration) error {
	for _, r := range text {
		if err := q.SendKey(ctx, string(r)); err != nil {
			return fmt.Errorf("failed to send character %q: %w", r, err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return nil
}
