package rpc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"
)

// Client is one request/response-stream exchange.
type Client struct {
	conn net.Conn
}

// Dial connects to endpoint.
func Dial(ctx context.Context, endpoint string) (*Client, error) {
	network, addr := ParseEndpoint(endpoint)
	var d net.Dialer
	conn, err := d.DialContext(ctx, network, addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", endpoint, err)
	}
	return &Client{conn: conn}, nil
}

// Close drops the connection, which the server sees as a disconnect.
func (c *Client) Close() error { return c.conn.Close() }

// Call sends req and hands every response to fn until the server closes
// the stream or fn returns false.
func (c *Client) Call(ctx context.Context, req any, fn func(Message) bool) error {
	stop := context.AfterFunc(ctx, func() { c.conn.SetDeadline(time.Unix(1, 0)) })
	defer stop()

	if err := WriteFrame(c.conn, req); err != nil {
		return ctxErr(ctx, err)
	}
	for {
		msg, err := ReadResponse(c.conn)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return ctxErr(ctx, err)
		}
		if !fn(msg) {
			return nil
		}
	}
}

// Call dials endpoint, runs one exchange and closes the connection.
func Call(ctx context.Context, endpoint string, req any, fn func(Message) bool) error {
	c, err := Dial(ctx, endpoint)
	if err != nil {
		return err
	}
	defer c.Close()
	return c.Call(ctx, req, fn)
}

// Collect runs one exchange and returns every response.
func Collect(ctx context.Context, endpoint string, req any) ([]Message, error) {
	var out []Message
	err := Call(ctx, endpoint, req, func(m Message) bool {
		out = append(out, m)
		return true
	})
	return out, err
}

func ctxErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}
