// Package rpc carries JSON objects over a stream socket, each prefixed with
// its length as a little-endian uint32. A connection carries one request
// and any number of responses.
package rpc

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"

	"github.com/bytedance/sonic"
)

// MaxFrameSize is the exclusive upper bound of a request payload.
// Responses are not bound by it, since they carry screenshots.
const MaxFrameSize = 2 << 20

// MaxResponseSize bounds what a client allocates for one response frame.
const MaxResponseSize = 256 << 20

var (
	ErrFrameTooLarge = errors.New("frame exceeds maximum size")
	ErrClosed        = errors.New("response stream closed")
)

var codec = sonic.ConfigStd

// Message is a decoded JSON object.
type Message map[string]any

// String returns key as a string.
func (m Message) String(key string) (string, bool) {
	s, ok := m[key].(string)
	return s, ok
}

// Bool returns key as a bool; absent or mistyped keys are false.
func (m Message) Bool(key string) bool {
	b, _ := m[key].(bool)
	return b
}

// Number returns key as a float64.
func (m Message) Number(key string) (float64, bool) {
	f, ok := m[key].(float64)
	return f, ok
}

// Decode re-decodes key into v.
func (m Message) Decode(key string, v any) error {
	raw, ok := m[key]
	if !ok {
		return fmt.Errorf("missing %q", key)
	}
	data, err := codec.Marshal(raw)
	if err != nil {
		return err
	}
	return codec.Unmarshal(data, v)
}

// WriteFrame encodes a request and writes it as one frame.
func WriteFrame(w io.Writer, v any) error {
	data, err := codec.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode frame: %w", err)
	}
	if len(data) >= MaxFrameSize {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(data))
	}
	return writeRaw(w, data)
}

func writeRaw(w io.Writer, data []byte) error {
	buf := make([]byte, 4+len(data))
	binary.LittleEndian.PutUint32(buf, uint32(len(data)))
	copy(buf[4:], data)
	_, err := w.Write(buf)
	return err
}

// ReadFrame reads one request payload. The length is checked before
// anything is allocated.
func ReadFrame(r io.Reader) ([]byte, error) {
	return readFrame(r, MaxFrameSize)
}

func readFrame(r io.Reader, limit uint32) ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	n := binary.LittleEndian.Uint32(hdr[:])
	if n >= limit {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, n)
	}
	data := make([]byte, n)
	if _, err := io.ReadFull(r, data); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return data, nil
}

// ReadMessage reads one request frame holding a JSON object.
func ReadMessage(r io.Reader) (Message, error) {
	return readMessage(r, MaxFrameSize)
}

// ReadResponse reads one response frame, up to MaxResponseSize.
func ReadResponse(r io.Reader) (Message, error) {
	return readMessage(r, MaxResponseSize)
}

func readMessage(r io.Reader, limit uint32) (Message, error) {
	data, err := readFrame(r, limit)
	if err != nil {
		return nil, err
	}
	var m Message
	if err := codec.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to decode frame: %w", err)
	}
	if m == nil {
		return nil, fmt.Errorf("failed to decode frame: not a JSON object")
	}
	return m, nil
}

// ParseEndpoint maps "unix:/path", "tcp:host:port" or a bare path to a
// network and address.
func ParseEndpoint(endpoint string) (network, address string) {
	switch {
	case strings.HasPrefix(endpoint, "unix:"):
		return "unix", strings.TrimPrefix(endpoint, "unix:")
	case strings.HasPrefix(endpoint, "tcp:"):
		return "tcp", strings.TrimPrefix(endpoint, "tcp:")
	}
	return "unix", endpoint
}

// isClosedConn reports errors that just mean the other side went away.
func isClosedConn(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrUnexpectedEOF)
}
