package rserve

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const testGreeting = "Rsrv0103QAP1\r\n\r\n--------------\r\n"

// fakeServer accepts one connection, sends the greeting and answers each
// voidEval with reply(expr). Received expressions are sent on exprs.
type fakeServer struct {
	ln    net.Listener
	exprs chan string
}

func startFakeServer(t *testing.T, greeting string, reply func(expr string) uint32) *fakeServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	s := &fakeServer{ln: ln, exprs: make(chan string, 16)}
	t.Cleanup(func() { ln.Close() })

	go func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		defer c.Close()
		if _, err := io.WriteString(c, greeting); err != nil {
			return
		}
		for {
			var hdr [headerSize]byte
			if _, err := io.ReadFull(c, hdr[:]); err != nil {
				return
			}
			n := binary.LittleEndian.Uint32(hdr[4:8])
			payload := make([]byte, n)
			if _, err := io.ReadFull(c, payload); err != nil {
				return
			}
			expr := decodeString(payload)
			s.exprs <- expr

			resp := reply(expr)
			if resp == 0 {
				// simulate a hung server
				time.Sleep(time.Second)
				return
			}
			var out [headerSize]byte
			binary.LittleEndian.PutUint32(out[0:4], resp)
			if _, err := c.Write(out[:]); err != nil {
				return
			}
		}
	}()
	return s
}

func decodeString(payload []byte) string {
	if len(payload) < 4 || payload[0] != dtString {
		return ""
	}
	body := payload[4:]
	if i := bytes.IndexByte(body, 0); i >= 0 {
		body = body[:i]
	}
	return string(body)
}

func ok(string) uint32 { return respOK }

func TestDial_ReadsGreeting(t *testing.T) {
	s := startFakeServer(t, testGreeting, ok)

	c, err := Dial(context.Background(), s.ln.Addr().String())
	require.NoError(t, err)
	defer c.Close()
	require.Equal(t, "0103", c.Version)
}

func TestDial_RejectsNonRserve(t *testing.T) {
	s := startFakeServer(t, "HTTP/1.1 400 Bad Request\r\n\r\n....", ok)

	_, err := Dial(context.Background(), s.ln.Addr().String())
	require.ErrorIs(t, err, ErrProtocol)
}

func TestDial_ConnectionRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	_, err = Dial(context.Background(), addr)
	require.Error(t, err)
	var oe *net.OpError
	require.True(t, errors.As(err, &oe))
}

func TestVoidEval_SendsExpression(t *testing.T) {
	s := startFakeServer(t, testGreeting, ok)
	c, err := Dial(context.Background(), s.ln.Addr().String())
	require.NoError(t, err)
	defer c.Close()

	expr := `plot_networksize_line("2024-01-01", "2024-01-31", "/tmp/ernie/x.png")`
	require.NoError(t, c.VoidEval(context.Background(), expr))
	require.Equal(t, expr, <-s.exprs)

	require.NoError(t, c.VoidEval(context.Background(), "1+1"))
	require.Equal(t, "1+1", <-s.exprs)
}

func TestVoidEval_RemoteError(t *testing.T) {
	s := startFakeServer(t, testGreeting, func(string) uint32 { return respErr | 0x7f<<24 })
	c, err := Dial(context.Background(), s.ln.Addr().String())
	require.NoError(t, err)
	defer c.Close()

	err = c.VoidEval(context.Background(), "stop('nope')")
	var re *Error
	require.True(t, errors.As(err, &re))
	require.Equal(t, 0x7f, re.Status)
	require.Contains(t, re.Error(), "evaluation failed")
}

func TestVoidEval_ContextDeadline(t *testing.T) {
	s := startFakeServer(t, testGreeting, func(string) uint32 { return 0 })
	c, err := Dial(context.Background(), s.ln.Addr().String())
	require.NoError(t, err)
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err = c.VoidEval(ctx, "Sys.sleep(10)")
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClose_Idempotent(t *testing.T) {
	s := startFakeServer(t, testGreeting, ok)
	c, err := Dial(context.Background(), s.ln.Addr().String())
	require.NoError(t, err)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	require.ErrorIs(t, c.VoidEval(context.Background(), "1"), ErrClosed)
}

func TestEncodeString_Padding(t *testing.T) {
	for _, s := range []string{"", "a", "abc", "abcd", strings.Repeat("x", 37)} {
		buf, err := encodeString(s)
		require.NoError(t, err)
		require.Zero(t, (len(buf)-4)%4, "payload for %q is not padded", s)
		hdr := binary.LittleEndian.Uint32(buf[0:4])
		require.Equal(t, uint32(dtString), hdr&0xff)
		require.Equal(t, uint32(len(buf)-4), hdr>>8)
		require.Equal(t, s, decodeString(buf))
	}

	_, err := encodeString("a\x00b")
	require.Error(t, err)
}

func TestVoidEval_CancelAfterReplyLeavesConnUsable(t *testing.T) {
	s := startFakeServer(t, testGreeting, ok)
	go func() {
		for range s.exprs {
		}
	}()

	c, err := Dial(context.Background(), s.ln.Addr().String())
	require.NoError(t, err)
	defer c.Close()

	for i := 0; i < 200; i++ {
		ctx, cancel := context.WithCancel(context.Background())
		go cancel()
		if err := c.VoidEval(ctx, "x <- 1"); err != nil {
			// cancelled mid-exchange; the stream can no longer be trusted
			require.ErrorIs(t, err, context.Canceled)
			return
		}
		require.NoError(t, c.VoidEval(context.Background(), "x <- 2"), "iteration %d", i)
	}
}
