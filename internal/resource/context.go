// Package resource owns the process-wide context and the cleanups that must
// run when a command is interrupted.
package resource

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jeeftor/vmcap/internal/logging"
)

// ContextManager cancels its root context on SIGINT, SIGTERM or SIGQUIT and
// then runs registered cleanups.
type ContextManager struct {
	rootContext    context.Context
	cancelFunc     context.CancelFunc
	cleanupTimeout time.Duration

	mu       sync.Mutex
	cleanups []cleanup
	done     bool
}

type cleanup struct {
	name string
	fn   func(context.Context) error
}

// NewContextManager creates a context manager with signal handling.
func NewContextManager() *ContextManager {
	cm := newContextManager(context.Background())
	cm.setupSignalHandling()
	return cm
}

func newContextManager(parent context.Context) *ContextManager {
	ctx, cancel := context.WithCancel(parent)
	return &ContextManager{
		rootContext:    ctx,
		cancelFunc:     cancel,
		cleanupTimeout: 10 * time.Second,
	}
}

// GetContext returns the root context for operations
func (cm *ContextManager) GetContext() context.Context {
	return cm.rootContext
}

// WithTimeout creates a context with timeout
func (cm *ContextManager) WithTimeout(timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cm.rootContext, timeout)
}

// OnShutdown registers fn to run on Shutdown. Cleanups run newest first.
func (cm *ContextManager) OnShutdown(name string, fn func(context.Context) error) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.cleanups = append(cm.cleanups, cleanup{name: name, fn: fn})
}

// SetCleanupTimeout sets the timeout for cleanup operations
func (cm *ContextManager) SetCleanupTimeout(timeout time.Duration) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.cleanupTimeout = timeout
}

// Shutdown cancels the root context and runs the cleanups once.
func (cm *ContextManager) Shutdown() error {
	cm.cancelFunc()

	cm.mu.Lock()
	if cm.done {
		cm.mu.Unlock()
		return nil
	}
	cm.done = true
	cleanups := cm.cleanups
	cm.cleanups = nil
	timeout := cm.cleanupTimeout
	cm.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var errs []error
	for i := len(cleanups) - 1; i >= 0; i-- {
		c := cleanups[i]
		if err := c.fn(ctx); err != nil {
			logging.Warn("Cleanup failed", "name", c.name, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// IsActive returns whether the context manager is still active
func (cm *ContextManager) IsActive() bool {
	return cm.rootContext.Err() == nil
}

func (cm *ContextManager) setupSignalHandling() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		select {
		case sig := <-sigChan:
			logging.Info("Received shutdown signal, initiating graceful shutdown",
				"signal", sig.String())
			if err := cm.Shutdown(); err != nil {
				logging.Error("Resource cleanup completed with errors", "error", err)
			}
		case <-cm.rootContext.Done():
		}
		signal.Stop(sigChan)
	}()
}
