package rpc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"

	"github.com/jeeftor/vmcap/internal/logging"
)

// Handler answers one request. It may keep sending on w after returning.
type Handler interface {
	HandleRequest(ctx context.Context, req Message, w *ResponseWriter)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, req Message, w *ResponseWriter)

func (f HandlerFunc) HandleRequest(ctx context.Context, req Message, w *ResponseWriter) {
	f(ctx, req, w)
}

// Server accepts connections on Endpoint and dispatches their request.
type Server struct {
	Endpoint string
	Handler  Handler

	mu       sync.Mutex
	listener net.Listener
	wg       sync.WaitGroup
}

// Listen binds the endpoint. A stale unix socket file is removed first and
// the new one is made private to the user.
func (s *Server) Listen() error {
	network, addr := ParseEndpoint(s.Endpoint)
	if network == "unix" {
		if err := os.MkdirAll(filepath.Dir(addr), 0o755); err != nil {
			return fmt.Errorf("failed to create socket directory: %w", err)
		}
		if err := os.RemoveAll(addr); err != nil {
			return fmt.Errorf("failed to remove existing socket: %w", err)
		}
	}

	ln, err := net.Listen(network, addr)
	if err != nil {
		return fmt.Errorf("failed to create socket listener: %w", err)
	}
	if network == "unix" {
		if err := os.Chmod(addr, 0o600); err != nil {
			ln.Close()
			return fmt.Errorf("failed to set socket permissions: %w", err)
		}
	}

	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	logging.Info("RPC server listening", "endpoint", ln.Addr().String())
	return nil
}

// Addr is the bound address; nil before Listen.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Serve accepts until ctx is done, then drops every open connection and
// waits for its handler.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if ln == nil {
		if err := s.Listen(); err != nil {
			return err
		}
		s.mu.Lock()
		ln = s.listener
		s.mu.Unlock()
	}

	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			logging.Error("Failed to accept connection", "error", err)
			continue
		}
		s.wg.Add(1)
		go s.handleConnection(ctx, conn)
	}

	s.wg.Wait()

	if network, addr := ParseEndpoint(s.Endpoint); network == "unix" {
		os.Remove(addr)
	}
	logging.Info("RPC server stopped")
	return nil
}

func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer s.wg.Done()

	req, err := ReadMessage(conn)
	if err != nil {
		if !isClosedConn(err) {
			logging.Warn("Dropping connection with invalid request", "error", err)
		}
		conn.Close()
		return
	}
	logging.Debug("RPC request", "request", req["request"])

	w := newResponseWriter(conn)

	// Anything after the request is ignored; EOF means the peer left.
	go func() {
		io.Copy(io.Discard, conn)
		w.shutdown()
	}()
	go w.writeLoop()

	s.Handler.HandleRequest(w.Context(ctx), req, w)
	select {
	case <-w.done:
	case <-ctx.Done():
		w.shutdown()
	}
}

// ResponseWriter streams responses to one connection.
type ResponseWriter struct {
	conn net.Conn

	mu       sync.Mutex
	queue    [][]byte
	closing  bool
	closed   bool
	handlers []func()

	wake chan struct{}
	done chan struct{}
	once sync.Once
}

func newResponseWriter(conn net.Conn) *ResponseWriter {
	return &ResponseWriter{
		conn: conn,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

func (w *ResponseWriter) signal() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Send queues msg. It fails once Close was called or the peer is gone.
func (w *ResponseWriter) Send(msg any) error {
	data, err := codec.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode response: %w", err)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closing || w.closed {
		return ErrClosed
	}
	w.queue = append(w.queue, data)
	w.signal()
	return nil
}

// Close flushes queued responses and then closes the connection.
func (w *ResponseWriter) Close() {
	w.mu.Lock()
	w.closing = true
	w.mu.Unlock()
	w.signal()
}

// OnClose registers fn to run once the connection is gone. It runs right
// away if that already happened.
func (w *ResponseWriter) OnClose(fn func()) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		fn()
		return
	}
	w.handlers = append(w.handlers, fn)
	w.mu.Unlock()
}

// Done is closed when the connection is gone.
func (w *ResponseWriter) Done() <-chan struct{} { return w.done }

// Context derives a context from parent that ends with the connection.
func (w *ResponseWriter) Context(parent context.Context) context.Context {
	ctx, cancel := context.WithCancel(parent)
	go func() {
		select {
		case <-w.done:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx
}

func (w *ResponseWriter) writeLoop() {
	for {
		select {
		case <-w.done:
			return
		case <-w.wake:
		}

		w.mu.Lock()
		batch := w.queue
		w.queue = nil
		closing := w.closing
		w.mu.Unlock()

		for _, data := range batch {
			if err := writeRaw(w.conn, data); err != nil {
				if !isClosedConn(err) {
					logging.Debug("Failed to send response", "error", err)
				}
				w.shutdown()
				return
			}
		}

		if closing {
			w.mu.Lock()
			drained := len(w.queue) == 0
			w.mu.Unlock()
			if drained {
				w.shutdown()
				return
			}
			w.signal()
		}
	}
}

// shutdown closes the connection and runs the close handlers, once.
func (w *ResponseWriter) shutdown() {
	w.once.Do(func() {
		w.mu.Lock()
		w.closed = true
		handlers := w.handlers
		w.handlers = nil
		w.mu.Unlock()

		w.conn.Close()
		close(w.done)
		for _, fn := range handlers {
			fn()
		}
	})
}
