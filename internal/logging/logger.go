package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/fatih/color"
)

// LevelTrace sits below debug and is used for raw wire traffic.
const LevelTrace = slog.Level(-8)

var (
	mu       sync.RWMutex
	minLevel = slog.LevelInfo
	output   io.Writer = os.Stderr

	traceColor   = color.New(color.FgHiBlack).SprintFunc()
	debugColor   = color.New(color.FgCyan).SprintFunc()
	infoColor    = color.New(color.FgGreen).SprintFunc()
	warnColor    = color.New(color.FgYellow).SprintFunc()
	errorColor   = color.New(color.FgRed).SprintFunc()
	commandColor = color.New(color.FgMagenta).SprintFunc()
)

// ColorTextHandler writes one coloured line per record.
type ColorTextHandler struct {
	w      io.Writer
	attrs  []slog.Attr
	prefix string
}

// NewColorTextHandler creates a new ColorTextHandler
func NewColorTextHandler(w io.Writer) *ColorTextHandler {
	return &ColorTextHandler{w: w}
}

// Handle handles the log record
func (h *ColorTextHandler) Handle(_ context.Context, r slog.Record) error {
	var b strings.Builder
	for _, a := range h.attrs {
		writeAttr(&b, h.prefix, a)
	}
	r.Attrs(func(a slog.Attr) bool {
		if a.Key != slog.SourceKey {
			writeAttr(&b, h.prefix, a)
		}
		return true
	})

	// The leading carriage return keeps lines clean under spinners and raw terminals.
	_, err := fmt.Fprintf(h.w, "\r%s %s%s\n", levelText(r.Level), r.Message, b.String())
	return err
}

func levelText(level slog.Level) string {
	switch {
	case level <= LevelTrace:
		return traceColor("TRACE")
	case level < slog.LevelInfo:
		return debugColor("DEBUG")
	case level < slog.LevelWarn:
		return infoColor("INFO")
	case level < slog.LevelError:
		return warnColor("WARN")
	default:
		return errorColor("ERROR")
	}
}

func writeAttr(b *strings.Builder, prefix string, a slog.Attr) {
	if a.Equal(slog.Attr{}) {
		return
	}
	b.WriteByte(' ')
	b.WriteString(prefix)
	b.WriteString(a.Key)
	b.WriteByte('=')
	b.WriteString(formatAttrValue(a.Value))
}

// formatAttrValue formats a slog.Value as a string
func formatAttrValue(v slog.Value) string {
	switch v.Kind() {
	case slog.KindString:
		return v.String()
	case slog.KindInt64:
		return fmt.Sprintf("%d", v.Int64())
	case slog.KindUint64:
		return fmt.Sprintf("%d", v.Uint64())
	case slog.KindFloat64:
		return fmt.Sprintf("%g", v.Float64())
	case slog.KindBool:
		return fmt.Sprintf("%t", v.Bool())
	case slog.KindDuration:
		return v.Duration().String()
	case slog.KindTime:
		return v.Time().Format("15:04:05")
	case slog.KindGroup:
		var parts []string
		for _, a := range v.Group() {
			parts = append(parts, a.Key+"="+formatAttrValue(a.Value))
		}
		return "{" + strings.Join(parts, " ") + "}"
	default:
		return fmt.Sprintf("%v", v.Any())
	}
}

// WithAttrs returns a new handler with the given attributes
func (h *ColorTextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &ColorTextHandler{w: h.w, attrs: merged, prefix: h.prefix}
}

// WithGroup returns a new handler with the given group
func (h *ColorTextHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return &ColorTextHandler{w: h.w, attrs: h.attrs, prefix: h.prefix + name + "."}
}

// Enabled reports whether the handler handles records at the given level
func (h *ColorTextHandler) Enabled(_ context.Context, level slog.Level) bool {
	mu.RLock()
	defer mu.RUnlock()
	return level >= minLevel
}

// ParseLevel maps trace|debug|info|warn|error to a slog level.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return LevelTrace, nil
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", level)
}

// InitWithLevel installs the colour handler at the named level. Unknown
// levels fall back to info with a warning.
func InitWithLevel(level string) {
	lvl, err := ParseLevel(level)

	mu.Lock()
	minLevel = lvl
	w := output
	mu.Unlock()

	slog.SetDefault(slog.New(NewColorTextHandler(w)))
	if err != nil {
		Warn("Falling back to info logging", "error", err)
	}
}

// Init initializes the logger with debug or info level.
func Init(debug bool) {
	if debug {
		InitWithLevel("debug")
		return
	}
	InitWithLevel("info")
}

// SetOutput sets the output writer for the logger
func SetOutput(w io.Writer) {
	mu.Lock()
	output = w
	mu.Unlock()
	slog.SetDefault(slog.New(NewColorTextHandler(w)))
}

// IsDebugEnabled reports whether debug records are emitted.
func IsDebugEnabled() bool {
	mu.RLock()
	defer mu.RUnlock()
	return minLevel <= slog.LevelDebug
}

// Trace logs a trace message
func Trace(msg string, args ...any) {
	slog.Log(context.Background(), LevelTrace, msg, args...)
}

// Debug logs a debug message
func Debug(msg string, args ...any) {
	slog.Debug(msg, args...)
}

// Info logs an info message
func Info(msg string, args ...any) {
	slog.Info(msg, args...)
}

// Warn logs a warning message
func Warn(msg string, args ...any) {
	slog.Warn(msg, args...)
}

// Error logs an error message
func Error(msg string, args ...any) {
	slog.Error(msg, args...)
}

// LogCommand logs an outgoing QMP command
func LogCommand(cmd string, args interface{}) {
	if !IsDebugEnabled() {
		return
	}
	if args != nil {
		Debug("Sending QMP command", "command", commandColor(cmd), "args", args)
	} else {
		Debug("Sending QMP command", "command", commandColor(cmd))
	}
}

// LogResponse logs a QMP response
func LogResponse(resp interface{}) {
	if !IsDebugEnabled() {
		return
	}
	Debug("Received QMP response", "response", resp)
}
