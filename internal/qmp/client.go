package qmp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"path/filepath"
	"sync"
	"time"

	"github.com/jeeftor/vmcap/internal/logging"
)

// DefaultSocketDir holds <vmid>.qmp sockets when no explicit path is given.
var DefaultSocketDir = "/var/run/qemu-server"

const (
	// maxPendingEvents bounds the queue of events nobody has waited for yet.
	maxPendingEvents = 64
	// eventBuffer is the capacity of the Events channel.
	eventBuffer = 64
)

// Client represents a QMP client connection. Commands are serialized; a
// Client is safe for concurrent use. Once connected, a reader goroutine
// owns the socket: it hands replies to the waiting command and events to
// Events and WaitEvent, so waiting for an event never blocks a command.
type Client struct {
	cmdMu sync.Mutex

	mu         sync.Mutex
	conn       net.Conn
	vmid       string
	socketPath string
	seq        uint64
	replies    map[string]chan Response
	pending    []Event
	arrived    chan struct{}
	events     chan Event
	done       chan struct{}
	readErr    error
}

// New creates a client for <DefaultSocketDir>/<vmid>.qmp
func New(vmid string) *Client {
	return &Client{vmid: vmid}
}

// NewWithSocketPath creates a new QMP client with a custom socket path
func NewWithSocketPath(vmid string, socketPath string) *Client {
	return &Client{vmid: vmid, socketPath: socketPath}
}

// VMID returns the identifier the client was created with.
func (q *Client) VMID() string { return q.vmid }

// SocketPath returns the unix socket the client dials.
func (q *Client) SocketPath() string {
	if q.socketPath != "" {
		return q.socketPath
	}
	return filepath.Join(DefaultSocketDir, q.vmid+".qmp")
}

// Connect dials the socket, reads the greeting and negotiates capabilities.
func (q *Client) Connect(ctx context.Context) error {
	path := q.SocketPath()
	logging.Debug("Connecting to QMP socket", "path", path)

	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", path)
	if err != nil {
		return fmt.Errorf("failed to connect to QMP socket: %w", err)
	}
	reader := bufio.NewReader(conn)

	if err := handshake(ctx, conn, reader); err != nil {
		conn.Close()
		return err
	}

	q.mu.Lock()
	q.conn = conn
	q.replies = make(map[string]chan Response)
	q.pending = nil
	q.arrived = make(chan struct{})
	q.events = make(chan Event, eventBuffer)
	q.done = make(chan struct{})
	q.readErr = nil
	go q.readLoop(reader, q.events, q.done)
	q.mu.Unlock()

	logging.Debug("Connected to QMP socket", "vmid", q.vmid)
	return nil
}

// handshake reads the greeting and runs qmp_capabilities before the reader
// goroutine takes over. Nothing else can be in flight yet.
func handshake(ctx context.Context, conn net.Conn, reader *bufio.Reader) error {
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() { conn.SetDeadline(time.Unix(1, 0)) })
	defer func() {
		stop()
		conn.SetDeadline(time.Time{})
	}()

	var greeting Response
	if err := readJSON(reader, &greeting); err != nil {
		return fmt.Errorf("failed to read greeting: %w", ctxErr(ctx, err))
	}
	if greeting.QMP == nil {
		return ErrInvalidResponse("missing QMP greeting")
	}
	logging.LogResponse(string(greeting.QMP))

	if err := writeCommand(conn, Command{Execute: "qmp_capabilities", ID: "vmcap-0"}); err != nil {
		return fmt.Errorf("capabilities negotiation failed: %w", ctxErr(ctx, err))
	}
	for {
		var resp Response
		if err := readJSON(reader, &resp); err != nil {
			return fmt.Errorf("capabilities negotiation failed: %w", ctxErr(ctx, err))
		}
		if resp.Event != "" {
			continue
		}
		if resp.Error != nil {
			return fmt.Errorf("capabilities negotiation failed: %w", resp.Error)
		}
		return nil
	}
}

// Close closes the QMP connection and waits for the reader to stop.
func (q *Client) Close() error {
	q.mu.Lock()
	conn, done := q.conn, q.done
	q.conn = nil
	q.mu.Unlock()
	if conn == nil {
		return nil
	}
	logging.Debug("Closing QMP connection", "vmid", q.vmid)
	err := conn.Close()
	<-done
	return err
}

// Events delivers asynchronous events as they arrive. Events are dropped
// when nobody keeps up with the channel. It is closed when the connection
// ends, and is nil before Connect.
func (q *Client) Events() <-chan Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.events
}

// Execute runs a command and returns its raw "return" value.
func (q *Client) Execute(ctx context.Context, name string, args interface{}) (json.RawMessage, error) {
	q.cmdMu.Lock()
	defer q.cmdMu.Unlock()

	q.mu.Lock()
	conn, done := q.conn, q.done
	if conn == nil {
		q.mu.Unlock()
		return nil, ErrNotConnected
	}
	q.seq++
	cmd := Command{Execute: name, Arguments: args, ID: fmt.Sprintf("vmcap-%d", q.seq)}
	reply := make(chan Response, 1)
	q.replies[cmd.ID] = reply
	q.mu.Unlock()

	defer func() {
		q.mu.Lock()
		delete(q.replies, cmd.ID)
		q.mu.Unlock()
	}()

	logging.LogCommand(cmd.Execute, cmd.Arguments)
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetWriteDeadline(deadline)
		defer conn.SetWriteDeadline(time.Time{})
	}
	if err := writeCommand(conn, cmd); err != nil {
		return nil, ctxErr(ctx, err)
	}

	select {
	case resp := <-reply:
		if resp.Error != nil {
			return nil, resp.Error
		}
		logging.LogResponse(string(resp.Return))
		return resp.Return, nil
	case <-done:
		return nil, q.lostErr()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// WaitEvent blocks until one of the named events arrives. Events received
// earlier and not yet consumed are considered first, oldest first.
func (q *Client) WaitEvent(ctx context.Context, names ...string) (Event, error) {
	match := func(name string) bool {
		for _, n := range names {
			if n == name {
				return true
			}
		}
		return false
	}

	for {
		q.mu.Lock()
		for i, ev := range q.pending {
			if match(ev.Name) {
				q.pending = append(q.pending[:i], q.pending[i+1:]...)
				q.mu.Unlock()
				return ev, nil
			}
		}
		if q.done == nil {
			q.mu.Unlock()
			return Event{}, ErrNotConnected
		}
		arrived, done := q.arrived, q.done
		q.mu.Unlock()

		select {
		case <-arrived:
		case <-done:
			return Event{}, q.lostErr()
		case <-ctx.Done():
			return Event{}, ctx.Err()
		}
	}
}

// DrainEvents returns and forgets every queued event.
func (q *Client) DrainEvents() []Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	events := q.pending
	q.pending = nil
	return events
}

func (q *Client) lostErr() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.readErr == nil || errors.Is(q.readErr, net.ErrClosed) {
		return ErrNotConnected
	}
	return fmt.Errorf("%w: %v", ErrConnectionLost, q.readErr)
}

// readLoop routes every message until the socket fails or is closed.
func (q *Client) readLoop(reader *bufio.Reader, events chan Event, done chan struct{}) {
	defer close(done)
	for {
		var resp Response
		if err := readJSON(reader, &resp); err != nil {
			var syntax *json.SyntaxError
			var typeErr *json.UnmarshalTypeError
			if errors.As(err, &syntax) || errors.As(err, &typeErr) {
				logging.Debug("Skipping malformed QMP message", "error", err)
				continue
			}
			q.mu.Lock()
			q.readErr = err
			q.mu.Unlock()
			close(events)
			return
		}
		if resp.Event != "" {
			q.dispatchEvent(toEvent(resp), events)
			continue
		}

		q.mu.Lock()
		reply, ok := q.replies[resp.ID]
		q.mu.Unlock()
		if !ok {
			logging.Debug("Discarding stale QMP reply", "id", resp.ID)
			continue
		}
		reply <- resp
	}
}

func (q *Client) dispatchEvent(ev Event, events chan Event) {
	logging.Debug("QMP event", "event", ev.Name)

	q.mu.Lock()
	if len(q.pending) >= maxPendingEvents {
		q.pending = q.pending[1:]
	}
	q.pending = append(q.pending, ev)
	close(q.arrived)
	q.arrived = make(chan struct{})
	q.mu.Unlock()

	select {
	case events <- ev:
	default:
		logging.Debug("Dropping QMP event, channel full", "event", ev.Name)
	}
}

func toEvent(resp Response) Event {
	ev := Event{Name: resp.Event, Data: resp.Data}
	if resp.Timestamp != nil {
		ev.Timestamp = *resp.Timestamp
	}
	return ev
}

func writeCommand(conn net.Conn, cmd Command) error {
	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("failed to marshal command: %w", err)
	}
	logging.Trace("Raw JSON sent", "json", string(data))
	if _, err := conn.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to send command: %w", err)
	}
	return nil
}

// readJSON reads one newline-delimited JSON message.
func readJSON(reader *bufio.Reader, v interface{}) error {
	var fullLine []byte
	for {
		line, isPrefix, err := reader.ReadLine()
		if err != nil {
			return err
		}
		fullLine = append(fullLine, line...)
		if !isPrefix {
			break
		}
	}

	logging.Trace("Raw JSON received", "json", string(fullLine))
	return json.Unmarshal(fullLine, v)
}

// ctxErr prefers the context's error over the i/o error it caused.
func ctxErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}
