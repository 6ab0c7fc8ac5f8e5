package nss

import (
	"context"
	"io"
	"math/rand"
	"net"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Zereker/nss/config"
	"github.com/Zereker/nss/luahost"
)

// freePort finds an unused port in the range accepted by the configuration.
func freePort(t *testing.T) int {
	t.Helper()

	for i := 0; i < 100; i++ {
		port := config.MinPort + rand.Intn(config.MaxPort-config.MinPort)
		ln, err := net.Listen("tcp", net.JoinHostPort("", strconv.Itoa(port)))
		if err != nil {
			continue
		}
		ln.Close()
		return port
	}
	t.Fatal("no free port found")
	return 0
}

func testConfig(t *testing.T, mode Mode) config.Config {
	t.Helper()

	cfg := config.Default()
	cfg.Transport = string(mode)
	cfg.Port = freePort(t)
	cfg.TransferPath = filepath.Join(t.TempDir(), "transfer_nodes.tmp")
	cfg.Timeout = config.Timeouts{Server: 0, Session: 5, Client: 5}
	return cfg
}

func newLuaExecutor(t *testing.T) *Executor {
	t.Helper()

	host := luahost.New()
	exec := NewExecutor(host, NopLogger())
	t.Cleanup(func() {
		exec.Close()
		host.Close()
	})
	return exec
}

// tracked is an accepted session with a recorder subscribed before it ran.
type tracked struct {
	*Session
	rec *recorder
}

// startServer starts a server and returns it with a channel of its sessions.
func startServer(t *testing.T, cfg config.Config, exec *Executor, opts ...ServerOption) (*Server, <-chan tracked) {
	t.Helper()

	sessions := make(chan tracked, 16)
	opts = append([]ServerOption{
		ServerLoggerOption(NopLogger()),
		OnSocketReadyOption(func(s *Session) {
			rec := &recorder{}
			s.Subscribe(rec)
			sessions <- tracked{Session: s, rec: rec}
		}),
	}, opts...)

	server := NewServer(cfg, exec, opts...)
	if _, err := server.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() { server.Stop() })
	return server, sessions
}

func nextSession(t *testing.T, sessions <-chan tracked) tracked {
	t.Helper()

	select {
	case s := <-sessions:
		return s
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for session")
		return tracked{}
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func localAddr(port int) string {
	return net.JoinHostPort("127.0.0.1", strconv.Itoa(port))
}

// streamRequest writes payload on a raw TCP connection, optionally half-closes,
// and reads until the server closes.
func streamRequest(t *testing.T, port int, payload string, halfClose bool) string {
	t.Helper()

	conn, err := net.Dial("tcp", localAddr(port))
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	if _, err := io.WriteString(conn, payload); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if halfClose {
		if err := conn.(*net.TCPConn).CloseWrite(); err != nil {
			t.Fatalf("CloseWrite failed: %v", err)
		}
	}

	_ = conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	data, err := io.ReadAll(conn)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	return string(data)
}

// messageRequest sends payload as one frame and returns the reply frame.
func messageRequest(t *testing.T, port int, payload string) string {
	t.Helper()

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+localAddr(port)+"/", nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteMessage(websocket.TextMessage, []byte(payload)); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	return string(data)
}

// recorder collects notifications.
type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Notify(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events = append(r.events, e)
}

func (r *recorder) all() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]Event(nil), r.events...)
}

func (r *recorder) texts(kind EventKind) []string {
	var out []string
	for _, e := range r.all() {
		if e.Kind == kind {
			out = append(out, e.Text)
		}
	}
	return out
}

func (r *recorder) indexOf(kind EventKind) int {
	for i, e := range r.all() {
		if e.Kind == kind {
			return i
		}
	}
	return -1
}

// memoryStore is an in-process NodeStore.
type memoryStore struct {
	mu   sync.Mutex
	text string
	err  error
}

func newMemoryStore(text string) *memoryStore {
	return &memoryStore{text: text}
}

func (m *memoryStore) Snapshot(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.text, m.err
}

func (m *memoryStore) Apply(ctx context.Context, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.err != nil {
		return m.err
	}
	m.text = text
	return nil
}

func (m *memoryStore) get() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.text
}
