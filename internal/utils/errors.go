package utils

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"

	"github.com/jeeftor/vmcap/internal/capability"
	"github.com/jeeftor/vmcap/internal/logging"
	"github.com/jeeftor/vmcap/internal/qmp"
)

// ErrorExitCode is the process exit status for a class of failure.
type ErrorExitCode int

const (
	ExitCodeGeneral     ErrorExitCode = 1
	ExitCodeConnection  ErrorExitCode = 2
	ExitCodeFileSystem  ErrorExitCode = 3
	ExitCodePermission  ErrorExitCode = 4
	ExitCodeTimeout     ErrorExitCode = 5
	ExitCodeUnsupported ErrorExitCode = 6
)

// UsageError marks a bad invocation rather than a failed operation.
type UsageError struct {
	Err error
}

func (e *UsageError) Error() string { return e.Err.Error() }
func (e *UsageError) Unwrap() error { return e.Err }

// Usagef builds a UsageError.
func Usagef(format string, args ...any) error {
	return &UsageError{Err: fmt.Errorf(format, args...)}
}

// ExitCodeFor classifies err.
func ExitCodeFor(err error) ErrorExitCode {
	var (
		netErr  *net.OpError
		pathErr *os.PathError
	)
	switch {
	case err == nil:
		return 0
	case errors.Is(err, context.DeadlineExceeded):
		return ExitCodeTimeout
	case errors.Is(err, os.ErrPermission):
		return ExitCodePermission
	case errors.Is(err, capability.ErrUnsupported):
		return ExitCodeUnsupported
	case errors.Is(err, qmp.ErrNotConnected), errors.Is(err, qmp.ErrConnectionLost), errors.As(err, &netErr):
		return ExitCodeConnection
	case errors.As(err, &pathErr):
		return ExitCodeFileSystem
	default:
		return ExitCodeGeneral
	}
}

// FatalError reports err to the user and exits with its classified code.
func FatalError(err error, context string) {
	logging.UserErrorf("%s: %v", context, err)
	os.Exit(int(ExitCodeFor(err)))
}

// CheckError calls FatalError when err is non-nil.
func CheckError(err error, context string) {
	if err != nil {
		FatalError(err, context)
	}
}

// WarnOnError logs a warning for non-fatal errors
func WarnOnError(err error, context string) {
	if err != nil {
		logging.UserWarnf("%s: %v", context, err)
	}
}

// MultiError collects the failures of a batch, such as removing several
// NVRAM variables.
type MultiError struct {
	Errors  []error
	Context string
}

func (m *MultiError) Error() string {
	switch len(m.Errors) {
	case 0:
		return "no errors"
	case 1:
		return m.Errors[0].Error()
	}
	return fmt.Sprintf("%d errors occurred: %v (and %d more)", len(m.Errors), m.Errors[0], len(m.Errors)-1)
}

func (m *MultiError) Unwrap() []error { return m.Errors }

// NewMultiError creates a new MultiError
func NewMultiError(context string) *MultiError {
	return &MultiError{Context: context}
}

// Add adds an error to the MultiError
func (m *MultiError) Add(err error) {
	if err != nil {
		m.Errors = append(m.Errors, err)
	}
}

// HasErrors returns true if there are any errors
func (m *MultiError) HasErrors() bool {
	return len(m.Errors) > 0
}

// Err returns m when it holds errors, nil otherwise.
func (m *MultiError) Err() error {
	if !m.HasErrors() {
		return nil
	}
	return m
}
