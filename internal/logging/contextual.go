package logging

import (
	"log/slog"
	"time"
)

// ContextualLogger attaches a VM id and an operation name to every record.
type ContextualLogger struct {
	logger *slog.Logger
}

// NewContextualLogger returns a logger scoped to vmid and operation.
func NewContextualLogger(vmid, operation string) *ContextualLogger {
	l := slog.Default()
	if vmid != "" {
		l = l.With("vmid", vmid)
	}
	if operation != "" {
		l = l.With("op", operation)
	}
	return &ContextualLogger{logger: l}
}

// With returns a copy carrying extra attributes.
func (c *ContextualLogger) With(args ...any) *ContextualLogger {
	return &ContextualLogger{logger: c.logger.With(args...)}
}

func (c *ContextualLogger) Debug(msg string, args ...any) { c.logger.Debug(msg, args...) }
func (c *ContextualLogger) Info(msg string, args ...any)  { c.logger.Info(msg, args...) }
func (c *ContextualLogger) Warn(msg string, args ...any)  { c.logger.Warn(msg, args...) }
func (c *ContextualLogger) Error(msg string, args ...any) { c.logger.Error(msg, args...) }

// Timer measures one operation.
type Timer struct {
	name  string
	vmid  string
	start time.Time
}

// StartTimer starts timing the named operation.
func StartTimer(name, vmid string) *Timer {
	Debug("Operation started", "operation", name, "vmid", vmid)
	return &Timer{name: name, vmid: vmid, start: time.Now()}
}

// Elapsed returns the time since the timer started.
func (t *Timer) Elapsed() time.Duration {
	return time.Since(t.start)
}

// Stop logs the successful end of the operation.
func (t *Timer) Stop(args ...any) time.Duration {
	d := t.Elapsed()
	Debug("Operation completed", append([]any{"operation", t.name, "vmid", t.vmid, "duration", d}, args...)...)
	return d
}

// StopWithError logs the end of the operation and its error, if any.
func (t *Timer) StopWithError(err error) time.Duration {
	if err == nil {
		return t.Stop()
	}
	d := t.Elapsed()
	Error("Operation failed", "operation", t.name, "vmid", t.vmid, "duration", d, "error", err)
	return d
}

// LogOperation times fn under name.
func LogOperation(name, vmid string, fn func() error) error {
	timer := StartTimer(name, vmid)
	err := fn()
	timer.StopWithError(err)
	return err
}

// LogConnection records a connection attempt.
func LogConnection(vmid, socketPath string, ok bool, err error) {
	if ok {
		Debug("Connected", "vmid", vmid, "socket", socketPath)
		return
	}
	Error("Connection failed", "vmid", vmid, "socket", socketPath, "error", err)
}

// LogScreenshot records a captured screenshot.
func LogScreenshot(vmid, path, format string, size int64, d time.Duration) {
	Debug("Screenshot captured", "vmid", vmid, "path", path, "format", format, "bytes", size, "duration", d)
}
