package constants

import "time"

// Default timeouts used by the command line.
const (
	ConnectionTimeout = 10 * time.Second
	ScreenshotTimeout = 15 * time.Second
	InputTimeout      = 60 * time.Second
	NVRAMTimeout      = 10 * time.Second

	// Booting into recovery or DFU can take a while before QEMU answers.
	BootTimeout = 2 * time.Minute

	// Daemon requests that answer once.
	RequestTimeout = 30 * time.Second

	// How often `containers watch` polls the daemon.
	WatchPollInterval = 500 * time.Millisecond
)

// GetTimeout returns the timeout for a named operation.
func GetTimeout(operation string) time.Duration {
	switch operation {
	case "connection", "connect":
		return ConnectionTimeout
	case "screenshot", "ocr":
		return ScreenshotTimeout
	case "keyboard", "pointer", "input":
		return InputTimeout
	case "nvram":
		return NVRAMTimeout
	case "boot":
		return BootTimeout
	default:
		return RequestTimeout
	}
}
