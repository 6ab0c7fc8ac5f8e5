package nss

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	pkgerrors "github.com/pkg/errors"
)

// closeGracePeriod bounds the close handshake of a web socket.
const closeGracePeriod = time.Second

// messageTransport carries one text frame each way over a web socket.
type messageTransport struct {
	conn *websocket.Conn
	opts transportOptions

	closed atomic.Bool
}

func newMessageTransport(conn *websocket.Conn, opts transportOptions) *messageTransport {
	conn.SetReadLimit(int64(opts.maxReadLength))
	return &messageTransport{conn: conn, opts: opts}
}

func (t *messageTransport) Mode() Mode {
	return Message
}

func (t *messageTransport) RemoteAddr() net.Addr {
	return t.conn.RemoteAddr()
}

// Receive reads one frame. Text and binary frames are both returned as text.
func (t *messageTransport) Receive(ctx context.Context) (string, error) {
	if t.closed.Load() {
		return "", ErrConnectionClosed
	}

	_ = t.conn.SetReadDeadline(time.Time{})
	stop := context.AfterFunc(ctx, func() {
		_ = t.conn.SetReadDeadline(aLongTimeAgo)
	})
	defer stop()

	_, data, err := t.conn.ReadMessage()
	if err == nil {
		return string(data), nil
	}

	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		return "", ErrMessageTooLarge
	case t.closed.Load():
		return "", ErrConnectionClosed
	case ctx.Err() != nil:
		return "", ctx.Err()
	}

	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		return "", ErrPeerClosed
	}
	t.opts.logger.Debug("read error", "addr", t.RemoteAddr(), "error", err)
	return "", pkgerrors.Wrap(ErrPeerClosed, err.Error())
}

// Send writes text as a single frame. The frame is on the wire when Send returns.
func (t *messageTransport) Send(ctx context.Context, text string) error {
	if t.closed.Load() {
		return ErrConnectionClosed
	}

	deadline := time.Now().Add(t.opts.writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = t.conn.SetWriteDeadline(deadline)

	if err := t.conn.WriteMessage(websocket.TextMessage, []byte(text)); err != nil {
		t.opts.logger.Debug("write error", "addr", t.RemoteAddr(), "error", err)
		if t.closed.Load() {
			return ErrConnectionClosed
		}
		return pkgerrors.Wrap(err, "message send")
	}
	return nil
}

// CloseWrite is a no-op: frames are self-delimiting.
func (t *messageTransport) CloseWrite() error {
	return nil
}

// Close sends a normal closure frame and closes the socket.
// Safe to call multiple times.
func (t *messageTransport) Close() error {
	if t.closed.Swap(true) {
		return nil
	}

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = t.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGracePeriod))
	return t.conn.Close()
}

// messageListener serves web socket upgrades on every path of an HTTP server
// and hands the upgraded connections to Accept.
type messageListener struct {
	listener net.Listener
	server   *http.Server
	upgrader websocket.Upgrader
	opts     transportOptions

	conns     chan *messageTransport
	done      chan struct{}
	closeOnce sync.Once
}

func listenMessage(addr string, opts transportOptions) (*messageListener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	l := &messageListener{
		listener: ln,
		upgrader: websocket.Upgrader{
			// Editors connect from arbitrary origins.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		opts:  opts,
		conns: make(chan *messageTransport),
		done:  make(chan struct{}),
	}

	router := chi.NewRouter()
	router.HandleFunc("/", l.upgrade)
	router.HandleFunc("/*", l.upgrade)
	l.server = &http.Server{Handler: router, ReadHeaderTimeout: opts.writeTimeout}

	go func() {
		if err := l.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			opts.logger.Error("message listener stopped", "addr", ln.Addr(), "error", err)
		}
	}()

	return l, nil
}

func (l *messageListener) upgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := l.upgrader.Upgrade(w, r, nil)
	if err != nil {
		l.opts.logger.Debug("upgrade failed", "remote_addr", r.RemoteAddr, "error", err)
		return
	}

	t := newMessageTransport(conn, l.opts)
	select {
	case l.conns <- t:
		l.opts.logger.Debug("accepted connection", "remote_addr", conn.RemoteAddr())
	case <-l.done:
		_ = t.Close()
	}
}

func (l *messageListener) Accept(ctx context.Context) (Transport, error) {
	select {
	case t := <-l.conns:
		return t, nil
	case <-l.done:
		return nil, net.ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *messageListener) Addr() net.Addr {
	return l.listener.Addr()
}

func (l *messageListener) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.done)
		// Hijacked web sockets are not tracked by the HTTP server,
		// so Close only stops the listener and pending handshakes.
		err = l.server.Close()
	})
	return err
}

func dialMessage(ctx context.Context, addr string, opts transportOptions) (*messageTransport, error) {
	dialer := websocket.Dialer{HandshakeTimeout: opts.writeTimeout}
	conn, _, err := dialer.DialContext(ctx, "ws://"+addr+"/", nil)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "dial %s", addr)
	}
	return newMessageTransport(conn, opts), nil
}
