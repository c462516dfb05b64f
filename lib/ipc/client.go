// Package ipc implements the ack-only boot-stage client handle (spec.md §6):
// each of post-fs, post-fs-data, and late-start receives one, writes a
// single acknowledgement integer, and the caller closes it. No further
// bytes cross the boundary.
package ipc

import (
	"encoding/binary"
	"fmt"
	"net"
)

// Client models the ack-only boundary to the process that invoked a boot
// stage (conventionally init, over a Unix datagram socket fd it passed the
// process).
type Client interface {
	// Ack writes a single acknowledgement code and closes the underlying
	// connection. Only the first call has any effect; later calls are no-ops
	// so a deferred Ack and an explicit success-path Ack can coexist safely.
	Ack(code int) error
	Close() error
}

// connClient is the production Client, backed by a net.Conn (a Unix
// datagram or stream socket handed to the process at stage entry).
type connClient struct {
	conn   net.Conn
	closed bool
}

// NewClient wraps conn as an ack-only Client.
func NewClient(conn net.Conn) Client {
	return &connClient{conn: conn}
}

func (c *connClient) Ack(code int) error {
	if c.closed {
		return nil
	}
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(code))
	if _, err := c.conn.Write(buf[:]); err != nil {
		return fmt.Errorf("write ack: %w", err)
	}
	return c.Close()
}

func (c *connClient) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	return c.conn.Close()
}

// RecordingClient is a test double recording the acknowledgement code
// instead of writing it to a socket.
type RecordingClient struct {
	Acked    bool
	Code     int
	ClosedAt int
}

// NewRecordingClient returns a Client for use in stage-driver tests.
func NewRecordingClient() *RecordingClient { return &RecordingClient{} }

func (r *RecordingClient) Ack(code int) error {
	if r.Acked {
		return nil
	}
	r.Acked = true
	r.Code = code
	return nil
}

func (r *RecordingClient) Close() error { return nil }
