package logging

import (
	"fmt"

	"github.com/fatih/color"
)

var (
	successPrefix = color.New(color.FgGreen, color.Bold).Sprint("✓")
	failPrefix    = color.New(color.FgRed, color.Bold).Sprint("✗")
	warnPrefix    = color.New(color.FgYellow, color.Bold).Sprint("!")
)

func userPrint(prefix, format string, args ...interface{}) {
	mu.RLock()
	w := output
	mu.RUnlock()
	fmt.Fprintf(w, "%s %s\n", prefix, fmt.Sprintf(format, args...))
}

// Successf prints a success line for the user.
func Successf(format string, args ...interface{}) {
	userPrint(successPrefix, format, args...)
}

// UserInfof prints an informational line for the user.
func UserInfof(format string, args ...interface{}) {
	userPrint(" ", format, args...)
}

// UserWarnf prints a warning line for the user.
func UserWarnf(format string, args ...interface{}) {
	userPrint(warnPrefix, format, args...)
}

// UserErrorf prints an error line for the user.
func UserErrorf(format string, args ...interface{}) {
	userPrint(failPrefix, format, args...)
}

// Result prints command output to stdout, uncoloured so it can be piped.
func Result(format string, args ...interface{}) {
	fmt.Printf(format+"\n", args...)
}
