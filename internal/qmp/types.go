package qmp

import "encoding/json"

// Command represents a QMP command
type Command struct {
	Execute   string      `json:"execute"`
	Arguments interface{} `json:"arguments,omitempty"`
	ID        string      `json:"id,omitempty"`
}

// Response is any message QEMU writes: a greeting, a reply or an event.
type Response struct {
	QMP    json.RawMessage `json:"QMP,omitempty"`
	Return json.RawMessage `json:"return,omitempty"`
	Error  *Error          `json:"error,omitempty"`
	ID     string          `json:"id,omitempty"`
	Event  string          `json:"event,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`

	Timestamp *Timestamp `json:"timestamp,omitempty"`
}

// Timestamp is the host time QEMU attaches to events.
type Timestamp struct {
	Seconds      int64 `json:"seconds"`
	Microseconds int64 `json:"microseconds"`
}

// Event is an asynchronous QMP notification such as RESET or SHUTDOWN.
type Event struct {
	Name      string
	Data      json.RawMessage
	Timestamp Timestamp
}

// Status represents the VM status
type Status struct {
	Running    bool   `json:"running"`
	Status     string `json:"status"`
	Singlestep bool   `json:"singlestep,omitempty"`
}

// QOMProperty is one entry of a qom-list reply.
type QOMProperty struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// USBDevice represents a USB device in the VM
type USBDevice struct {
	Driver string `json:"driver"`
	ID     string `json:"id"`
	Bus    string `json:"bus,omitempty"`
}

// InputEvent is one element of an input-send-event command.
type InputEvent struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

type keyValue struct {
	Type string `json:"type"`
	Data string `json:"data"`
}

// KeyInputEvent presses or releases the key with the given qcode.
func KeyInputEvent(qcode string, down bool) InputEvent {
	return InputEvent{Type: "key", Data: map[string]interface{}{
		"down": down,
		"key":  keyValue{Type: "qcode", Data: qcode},
	}}
}

// AbsInputEvent sets an absolute axis ("x" or "y") in the 0..AbsMax range.
func AbsInputEvent(axis string, value int) InputEvent {
	return InputEvent{Type: "abs", Data: map[string]interface{}{
		"axis":  axis,
		"value": value,
	}}
}

// ButtonInputEvent presses or releases a pointer button ("left", "right", "middle").
func ButtonInputEvent(button string, down bool) InputEvent {
	return InputEvent{Type: "btn", Data: map[string]interface{}{
		"down":   down,
		"button": button,
	}}
}

// AbsMax is the upper bound of QEMU's absolute pointer axes.
const AbsMax = 0x7fff
