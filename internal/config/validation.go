package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/jeeftor/vmcap/internal/logging"
)

// ValidationError describes one invalid setting.
type ValidationError struct {
	Field   string
	Value   interface{}
	Rule    string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation failed for %s: %s (value: %v)", e.Field, e.Message, e.Value)
}

// ValidationResult holds the results of configuration validation
type ValidationResult struct {
	Valid    bool
	Errors   []ValidationError
	Warnings []string
}

// AddError adds a validation error
func (vr *ValidationResult) AddError(field string, value interface{}, rule string, message string) {
	vr.Valid = false
	vr.Errors = append(vr.Errors, ValidationError{
		Field:   field,
		Value:   value,
		Rule:    rule,
		Message: message,
	})
}

// AddWarning adds a validation warning
func (vr *ValidationResult) AddWarning(message string) {
	vr.Warnings = append(vr.Warnings, message)
}

// Err folds the errors into one, or returns nil when valid.
func (vr *ValidationResult) Err() error {
	if vr.Valid {
		return nil
	}
	msgs := make([]string, len(vr.Errors))
	for i, e := range vr.Errors {
		msgs[i] = e.Error()
	}
	return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
}

var logLevels = []string{"trace", "debug", "info", "warn", "warning", "error"}

// Validate checks every setting.
func (c *Config) Validate() *ValidationResult {
	result := &ValidationResult{Valid: true}

	if !contains(logLevels, strings.ToLower(c.LogLevel)) {
		result.AddError("log_level", c.LogLevel, "one_of", "must be one of trace, debug, info, warn, error")
	}

	c.validateQEMU(result)
	c.validateTimings(result)
	c.validateOCR(result)

	switch strings.ToLower(c.Screenshot.Format) {
	case "png", "ppm":
	default:
		result.AddError("screenshot.format", c.Screenshot.Format, "one_of", "must be png or ppm")
	}

	if c.Daemon.BasePath == "" {
		result.AddError("daemon.base_path", c.Daemon.BasePath, "required", "base path must not be empty")
	}

	logging.Debug("Configuration validated",
		"valid", result.Valid,
		"errors", len(result.Errors),
		"warnings", len(result.Warnings))
	return result
}

func (c *Config) validateQEMU(result *ValidationResult) {
	if c.QEMU.Binary == "" {
		result.AddError("qemu.binary", c.QEMU.Binary, "required", "QEMU binary must be set")
	}
	if c.QEMU.MemoryMB < 512 {
		result.AddError("qemu.memory_mb", c.QEMU.MemoryMB, "minimum", "at least 512 MiB of memory is required")
	}
	if c.QEMU.CPUs <= 0 {
		result.AddError("qemu.cpus", c.QEMU.CPUs, "positive_integer", "CPU count must be a positive integer")
	}
	if c.QEMU.Netdev == "user" {
		result.AddWarning("qemu.netdev is \"user\": guests are not reachable over ARP, so instances never leave acquiring-credentials")
	}
}

func (c *Config) validateTimings(result *ValidationResult) {
	nonNegative := map[string]time.Duration{
		"input.key_hold":       c.Input.KeyHold,
		"input.key_gap":        c.Input.KeyGap,
		"input.pointer_settle": c.Input.PointerSettle,
	}
	for field, d := range nonNegative {
		if d < 0 {
			result.AddError(field, d, "non_negative", "duration must not be negative")
		}
	}
	if c.Automation.PollInterval <= 0 {
		result.AddError("automation.poll_interval", c.Automation.PollInterval, "positive_duration", "poll interval must be positive")
	}
	if c.Daemon.StopTimeout <= 0 {
		result.AddError("daemon.stop_timeout", c.Daemon.StopTimeout, "positive_duration", "stop timeout must be positive")
	}
}

func (c *Config) validateOCR(result *ValidationResult) {
	if c.OCR.Columns <= 0 {
		result.AddError("ocr.columns", c.OCR.Columns, "positive_integer", "screen width must be a positive integer")
	}
	if c.OCR.Rows <= 0 {
		result.AddError("ocr.rows", c.OCR.Rows, "positive_integer", "screen height must be a positive integer")
	}
	if c.OCR.Columns > 1000 {
		result.AddWarning(fmt.Sprintf("very large screen width (%d columns) may impact performance", c.OCR.Columns))
	}
	if c.OCR.Rows > 1000 {
		result.AddWarning(fmt.Sprintf("very large screen height (%d rows) may impact performance", c.OCR.Rows))
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
