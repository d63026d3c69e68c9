// Package qmptest provides an in-process QMP server for tests.
package qmptest

import (
	"bufio"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/jeeftor/vmcap/internal/qmp"
)

// Handler produces the reply to one command. A non-nil *qmp.Error is sent
// as an error reply.
type Handler func(args json.RawMessage) (interface{}, *qmp.Error)

// Received is a command the server has read.
type Received struct {
	Name string
	Args json.RawMessage
}

// Server speaks enough QMP for client tests: greeting, capabilities
// negotiation and one reply per command. Unhandled commands return {}.
type Server struct {
	Path string

	mu       sync.Mutex
	received []Received
	handlers map[string]Handler
	events   map[string][]string
	listener net.Listener
}

// NewServer starts a server on a fresh unix socket. It is closed when the test ends.
func NewServer(t *testing.T) *Server {
	t.Helper()
	dir, err := os.MkdirTemp("", "qmp")
	if err != nil {
		t.Fatalf("temp dir: %v", err)
	}
	path := filepath.Join(dir, "vm.qmp")
	l, err := net.Listen("unix", path)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	s := &Server{
		Path:     path,
		handlers: make(map[string]Handler),
		events:   make(map[string][]string),
		listener: l,
	}
	go s.serve()
	t.Cleanup(func() {
		l.Close()
		os.RemoveAll(dir)
	})
	return s
}

// Handle installs the reply handler for a command.
func (s *Server) Handle(name string, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[name] = h
}

// EmitOn makes the server send the named events just before replying to command.
func (s *Server) EmitOn(command string, events ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[command] = append(s.events[command], events...)
}

// Received returns every command read so far, qmp_capabilities excluded.
func (s *Server) Received() []Received {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Received(nil), s.received...)
}

// Names returns the names of the received commands in order.
func (s *Server) Names() []string {
	var names []string
	for _, r := range s.Received() {
		names = append(names, r.Name)
	}
	return names
}

func (s *Server) serve() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		go s.handle(conn)
	}
}

func (s *Server) handle(conn net.Conn) {
	defer conn.Close()
	enc := json.NewEncoder(conn)
	enc.Encode(map[string]interface{}{
		"QMP": map[string]interface{}{
			"version":      map[string]interface{}{"qemu": map[string]int{"major": 8, "minor": 2, "micro": 0}},
			"capabilities": []string{},
		},
	})

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		var cmd struct {
			Execute   string          `json:"execute"`
			Arguments json.RawMessage `json:"arguments"`
			ID        string          `json:"id"`
		}
		if err := json.Unmarshal(scanner.Bytes(), &cmd); err != nil {
			return
		}

		s.mu.Lock()
		if cmd.Execute != "qmp_capabilities" {
			s.received = append(s.received, Received{Name: cmd.Execute, Args: cmd.Arguments})
		}
		h := s.handlers[cmd.Execute]
		events := s.events[cmd.Execute]
		s.mu.Unlock()

		for _, ev := range events {
			enc.Encode(map[string]interface{}{
				"event":     ev,
				"data":      map[string]interface{}{},
				"timestamp": map[string]int64{"seconds": 1, "microseconds": 0},
			})
		}

		var ret interface{} = map[string]interface{}{}
		var qerr *qmp.Error
		if h != nil {
			ret, qerr = h(cmd.Arguments)
		}
		if qerr != nil {
			enc.Encode(map[string]interface{}{"error": qerr, "id": cmd.ID})
		} else {
			enc.Encode(map[string]interface{}{"return": ret, "id": cmd.ID})
		}
		if cmd.Execute == "quit" {
			return
		}
	}
}
