package nss

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"sync/atomic"
	"time"

	pkgerrors "github.com/pkg/errors"
)

// readChunkSize is the size of a single read from the socket.
const readChunkSize = 4096

// aLongTimeAgo is a deadline in the past, used to unblock pending I/O.
var aLongTimeAgo = time.Unix(1, 0)

// limitedReader wraps a reader and returns ErrMessageTooLarge when the limit is exceeded.
type limitedReader struct {
	r         io.Reader
	remaining int64
}

func newLimitedReader(r io.Reader, limit int64) *limitedReader {
	return &limitedReader{r: r, remaining: limit}
}

func (l *limitedReader) Read(p []byte) (n int, err error) {
	if l.remaining <= 0 {
		return 0, ErrMessageTooLarge
	}
	if int64(len(p)) > l.remaining {
		p = p[:l.remaining]
	}
	n, err = l.r.Read(p)
	l.remaining -= int64(n)
	return
}

// streamTransport carries one message each way over a TCP connection.
// The end of a message is the peer's half-close, or, when complete is set,
// the point where the buffered bytes form a complete document.
type streamTransport struct {
	rawConn  *net.TCPConn
	opts     transportOptions
	complete func([]byte) bool

	closed    atomic.Bool
	receiving atomic.Bool
}

func newStreamTransport(c *net.TCPConn, opts transportOptions, complete func([]byte) bool) *streamTransport {
	_ = c.SetNoDelay(true)
	return &streamTransport{
		rawConn:  c,
		opts:     opts,
		complete: complete,
	}
}

// completeJSON reports whether data holds one whole JSON document.
func completeJSON(data []byte) bool {
	return json.Valid(data)
}

func (t *streamTransport) Mode() Mode {
	return Stream
}

func (t *streamTransport) RemoteAddr() net.Addr {
	return t.rawConn.RemoteAddr()
}

// Receive drains the connection and returns its bytes decoded as UTF-8.
func (t *streamTransport) Receive(ctx context.Context) (string, error) {
	if t.closed.Load() {
		return "", ErrConnectionClosed
	}

	t.receiving.Store(true)
	defer t.receiving.Store(false)

	_ = t.rawConn.SetReadDeadline(time.Time{})
	stop := context.AfterFunc(ctx, func() {
		_ = t.rawConn.SetReadDeadline(aLongTimeAgo)
	})
	defer stop()

	reader := newLimitedReader(t.rawConn, int64(t.opts.maxReadLength))
	chunk := make([]byte, readChunkSize)
	var data []byte

	for {
		n, err := reader.Read(chunk)
		data = append(data, chunk[:n]...)

		if n > 0 && t.complete != nil && t.complete(data) {
			return string(data), nil
		}

		switch {
		case err == nil:
			continue
		case errors.Is(err, io.EOF):
			if len(data) == 0 {
				return "", ErrPeerClosed
			}
			return string(data), nil
		case errors.Is(err, ErrMessageTooLarge):
			return "", err
		case t.closed.Load():
			return "", ErrConnectionClosed
		case ctx.Err() != nil:
			return "", ctx.Err()
		default:
			t.opts.logger.Debug("read error", "addr", t.RemoteAddr(), "error", err)
			return "", pkgerrors.Wrap(err, "stream receive")
		}
	}
}

// Send writes text to the connection with a deadline.
func (t *streamTransport) Send(ctx context.Context, text string) error {
	if t.closed.Load() {
		return ErrConnectionClosed
	}

	deadline := time.Now().Add(t.opts.writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = t.rawConn.SetWriteDeadline(deadline)

	if _, err := io.WriteString(t.rawConn, text); err != nil {
		t.opts.logger.Debug("write error", "addr", t.RemoteAddr(), "error", err)
		if t.closed.Load() {
			return ErrConnectionClosed
		}
		return pkgerrors.Wrap(err, "stream send")
	}
	return nil
}

// CloseWrite half-closes the connection so the peer sees the end of the request.
func (t *streamTransport) CloseWrite() error {
	if t.closed.Load() {
		return ErrConnectionClosed
	}
	return t.rawConn.CloseWrite()
}

// Close closes the connection. Outside of a pending Receive it half-closes
// first and releases the socket once the peer has finished sending or a
// grace period passes, so that a reply written just before Close is not
// discarded by a reset.
// Safe to call multiple times.
func (t *streamTransport) Close() error {
	if t.closed.Swap(true) {
		return nil // already closed
	}
	if t.receiving.Load() {
		return t.rawConn.Close()
	}
	if err := t.rawConn.CloseWrite(); err != nil {
		return t.rawConn.Close()
	}
	go t.linger()
	return nil
}

func (t *streamTransport) linger() {
	_ = t.rawConn.SetReadDeadline(time.Now().Add(closeGracePeriod))
	_, _ = io.Copy(io.Discard, t.rawConn)
	_ = t.rawConn.Close()
}

// streamListener accepts TCP connections.
type streamListener struct {
	listener *net.TCPListener
	opts     transportOptions
	closed   atomic.Bool
}

func listenStream(addr string, opts transportOptions) (*streamListener, error) {
	tcpAddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return nil, err
	}

	listener, err := net.ListenTCP(tcpAddr.Network(), tcpAddr)
	if err != nil {
		return nil, err
	}

	return &streamListener{listener: listener, opts: opts}, nil
}

func (l *streamListener) Accept(ctx context.Context) (Transport, error) {
	_ = l.listener.SetDeadline(time.Time{})
	stop := context.AfterFunc(ctx, func() {
		_ = l.listener.SetDeadline(aLongTimeAgo)
	})
	defer stop()

	for {
		conn, err := l.listener.AcceptTCP()
		if err == nil {
			l.opts.logger.Debug("accepted connection", "remote_addr", conn.RemoteAddr())
			return newStreamTransport(conn, l.opts, completeJSON), nil
		}

		if l.closed.Load() {
			return nil, net.ErrClosed
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		// Check if it's a temporary error
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			continue
		}
		return nil, err
	}
}

func (l *streamListener) Addr() net.Addr {
	return l.listener.Addr()
}

func (l *streamListener) Close() error {
	if l.closed.Swap(true) {
		return nil
	}
	return l.listener.Close()
}

func dialStream(ctx context.Context, addr string, opts transportOptions) (*streamTransport, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "dial %s", addr)
	}
	return newStreamTransport(conn.(*net.TCPConn), opts, nil), nil
}
