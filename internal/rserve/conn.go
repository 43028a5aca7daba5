// Package rserve is a minimal client for the Rserve QAP1 protocol.
//
// Only what a render job needs is implemented: connect, evaluate an
// expression for its side effects (CMD_voidEval), and close. Results of
// evaluations are never decoded.
package rserve

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"
)

// DefaultAddr is where Rserve listens out of the box
const DefaultAddr = "localhost:6311"

const (
	greetingSize = 32
	headerSize   = 16

	cmdVoidEval = 0x002

	respOK  = 0x10001
	respErr = 0x10002
	// response codes carry the error status in the top byte
	respMask = 0x0fffff

	dtString = 4

	maxParamLen = 1<<24 - 1
)

// ErrClosed is returned by calls on a closed connection
var ErrClosed = errors.New("rserve: connection closed")

// ErrProtocol means the peer did not speak QAP1
var ErrProtocol = errors.New("rserve: protocol error")

// Error is a RESP_ERR reply. Status is the Rserve error code.
type Error struct {
	Status int
}

func (e *Error) Error() string {
	if name, ok := statusNames[e.Status]; ok {
		return fmt.Sprintf("rserve: %s (0x%02x)", name, e.Status)
	}
	return fmt.Sprintf("rserve: error status 0x%02x", e.Status)
}

var statusNames = map[int]string{
	0x41: "authentication failed",
	0x42: "connection broken",
	0x43: "invalid command",
	0x44: "invalid parameter",
	0x45: "R error",
	0x46: "I/O error",
	0x47: "object is read only",
	0x48: "access denied",
	0x49: "unsupported command",
	0x4a: "unknown command",
	0x4b: "data overflow",
	0x4c: "object too big",
	0x4d: "out of memory",
	0x4e: "session busy",
	0x50: "control pipe closed",
	0x7f: "evaluation failed",
}

// Conn is one Rserve session. It is not safe for concurrent calls; a mutex
// serialises them anyway so a misuse fails loudly instead of corrupting the stream.
type Conn struct {
	mu     sync.Mutex
	conn   net.Conn
	r      *bufio.Reader
	closed bool

	// Version is the protocol version from the greeting, e.g. "0103"
	Version string
}

// Dial connects to addr and reads the server greeting
func Dial(ctx context.Context, addr string) (*Conn, error) {
	if addr == "" {
		addr = DefaultAddr
	}
	var d net.Dialer
	nc, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("rserve: dial %s: %w", addr, err)
	}
	c, err := newConn(ctx, nc)
	if err != nil {
		nc.Close()
		return nil, err
	}
	return c, nil
}

func newConn(ctx context.Context, nc net.Conn) (*Conn, error) {
	c := &Conn{conn: nc, r: bufio.NewReader(nc)}

	stop := c.watch(ctx)
	defer stop()

	greeting := make([]byte, greetingSize)
	if _, err := io.ReadFull(c.r, greeting); err != nil {
		return nil, fmt.Errorf("rserve: read greeting: %w", c.ctxErr(ctx, err))
	}
	if !bytes.Equal(greeting[0:4], []byte("Rsrv")) || !bytes.Equal(greeting[8:12], []byte("QAP1")) {
		return nil, fmt.Errorf("%w: unexpected greeting %q", ErrProtocol, greeting[:12])
	}
	c.Version = string(greeting[4:8])
	return c, nil
}

// VoidEval evaluates expr on the server and discards the result
func (c *Conn) VoidEval(ctx context.Context, expr string) error {
	payload, err := encodeString(expr)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}

	stop := c.watch(ctx)
	defer stop()

	if err := c.send(cmdVoidEval, payload); err != nil {
		return fmt.Errorf("rserve: send: %w", c.ctxErr(ctx, err))
	}
	if err := c.readResponse(); err != nil {
		var re *Error
		if errors.As(err, &re) {
			return err
		}
		return fmt.Errorf("rserve: receive: %w", c.ctxErr(ctx, err))
	}
	return nil
}

// Close ends the session. Calling it again is a no-op.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.conn.Close()
}

// watch applies ctx to the blocking I/O that follows. The returned func must be called when done.
func (c *Conn) watch(ctx context.Context) func() {
	if deadline, ok := ctx.Deadline(); ok {
		c.conn.SetDeadline(deadline)
	}
	done := make(chan struct{})
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		select {
		case <-ctx.Done():
			// unblock pending reads and writes
			c.conn.SetDeadline(time.Unix(1, 0))
		case <-done:
		}
	}()
	return func() {
		close(done)
		// the watcher must not set a deadline after the reset below
		<-exited
		c.conn.SetDeadline(time.Time{})
	}
}

func (c *Conn) ctxErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (c *Conn) send(cmd uint32, payload []byte) error {
	msg := make([]byte, headerSize+len(payload))
	binary.LittleEndian.PutUint32(msg[0:4], cmd)
	binary.LittleEndian.PutUint32(msg[4:8], uint32(len(payload)))
	// msg[8:12] is the data offset, msg[12:16] the high length word; both zero
	copy(msg[headerSize:], payload)
	_, err := c.conn.Write(msg)
	return err
}

func (c *Conn) readResponse() error {
	var hdr [headerSize]byte
	if _, err := io.ReadFull(c.r, hdr[:]); err != nil {
		return err
	}
	cmd := binary.LittleEndian.Uint32(hdr[0:4])
	length := uint64(binary.LittleEndian.Uint32(hdr[4:8])) | uint64(binary.LittleEndian.Uint32(hdr[12:16]))<<32
	if length > 0 {
		if _, err := io.CopyN(io.Discard, c.r, int64(length)); err != nil {
			return err
		}
	}

	switch cmd & respMask {
	case respOK:
		return nil
	case respErr:
		return &Error{Status: int(cmd>>24) & 0x7f}
	default:
		return fmt.Errorf("%w: unexpected response 0x%08x", ErrProtocol, cmd)
	}
}

// encodeString builds a DT_STRING parameter: NUL terminated, padded to 4 bytes
func encodeString(s string) ([]byte, error) {
	if bytes.IndexByte([]byte(s), 0) >= 0 {
		return nil, fmt.Errorf("rserve: expression contains a NUL byte")
	}
	n := len(s) + 1
	if pad := n % 4; pad != 0 {
		n += 4 - pad
	}
	if n > maxParamLen {
		return nil, fmt.Errorf("rserve: expression too long (%d bytes)", len(s))
	}
	buf := make([]byte, 4+n)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(dtString)|uint32(n)<<8)
	copy(buf[4:], s)
	return buf, nil
}
