package qmp

import (
	"errors"
	"fmt"
)

// ErrNotConnected is returned when a method is called on a disconnected client
var ErrNotConnected = errors.New("not connected to QMP socket")

// ErrConnectionLost is returned when QEMU drops the socket mid-command.
var ErrConnectionLost = errors.New("QMP connection lost")

// Error is an error reply from QEMU.
type Error struct {
	Class string `json:"class"`
	Desc  string `json:"desc"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("QMP error: %s: %s", e.Class, e.Desc)
}

// IsCommandNotFound reports whether err is QEMU rejecting an unknown command.
func IsCommandNotFound(err error) bool {
	var qe *Error
	return errors.As(err, &qe) && qe.Class == "CommandNotFound"
}

// ErrCommandFailed wraps err with the command that produced it.
func ErrCommandFailed(cmd string, err error) error {
	return fmt.Errorf("command %q failed: %w", cmd, err)
}

// ErrInvalidResponse is returned when a reply does not have the expected shape.
func ErrInvalidResponse(detail string) error {
	return fmt.Errorf("invalid response: %s", detail)
}
