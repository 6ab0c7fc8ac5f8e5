package nss

import (
	"context"
	"errors"
	"net"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Zereker/nss/config"
)

// Server status lines.
const (
	statusServerStarted = "Server started"
	statusServerStopped = "Server stopped"
	statusServerTimeout = "Server timeout"
)

// Server accepts connections and runs one Session per connection.
type Server struct {
	cfg      config.Config
	mode     Mode
	executor *Executor

	logger        Logger
	notifiers     []Notifier
	onSocketReady func(*Session)
	nodes         NodeStore
	metrics       *Metrics
	transportOpts []TransportOption
	timerOpts     []TimerOption

	shutdownTimeout time.Duration

	mu        sync.Mutex
	running  bool
	listener Listener
	port     int
	sessions map[string]*Session
	timer    *IdleTimer
	cancel    context.CancelFunc
	stopAfter func() bool
	done      chan struct{}
}

// NewServer creates a stopped server. cfg is copied; later changes are not observed.
// An invalid transport in cfg makes Start fail.
func NewServer(cfg config.Config, executor *Executor, opts ...ServerOption) *Server {
	s := &Server{
		cfg:             cfg,
		mode:            Mode(cfg.Transport),
		executor:        executor,
		logger:          defaultLogger(),
		sessions:        make(map[string]*Session),
		shutdownTimeout: defaultShutdownTimeout,
	}

	for _, opt := range opts {
		opt(s)
	}
	if s.shutdownTimeout <= 0 {
		s.shutdownTimeout = defaultShutdownTimeout
	}

	s.timer = NewIdleTimer(s.onTick, s.onTimerExpired, s.timerOpts...)
	return s
}

// Start binds the configured port and begins accepting connections.
// It returns the port actually bound. Calling Start on a running server
// returns the bound port and does nothing else.
//
// Cancelling ctx stops the server as Stop does.
func (s *Server) Start(ctx context.Context) (int, error) {
	s.mu.Lock()
	if s.running {
		defer s.mu.Unlock()
		return s.port, nil
	}

	port := s.cfg.Port
	if !config.ValidPort(port) {
		s.logger.Warn("invalid port, using default", "port", port, "default", config.DefaultPort)
		port = config.DefaultPort
	}
	addr := net.JoinHostPort("", strconv.Itoa(port))

	opts := append([]TransportOption{
		MessageMaxSize(s.cfg.MaxMessageSize),
		LoggerOption(s.logger),
	}, s.transportOpts...)

	listener, err := Listen(s.mode, addr, opts...)
	if err != nil {
		s.mu.Unlock()
		s.logger.Error("server start failed", "addr", addr, "error", err)
		return 0, &StartError{Addr: addr, Err: err}
	}

	s.listener = listener
	s.port = boundPort(listener.Addr())
	s.running = true
	s.done = make(chan struct{})
	s.sessions = make(map[string]*Session)

	group, done := new(errgroup.Group), s.done
	s.stopAfter = context.AfterFunc(ctx, func() {
		_ = s.stop(done)
	})
	ctx, s.cancel = context.WithCancel(ctx)
	group.Go(func() error {
		return s.acceptLoop(ctx, listener, group)
	})
	go func() {
		if err := group.Wait(); err != nil {
			s.logger.Error("accept loop stopped", "error", err)
		}
		close(done)
	}()

	s.timer.Start(s.cfg.Timeout.Server)
	port = s.port
	s.mu.Unlock()

	s.logger.Info("server started", "addr", listener.Addr(), "transport", s.mode)
	s.emit(Event{Kind: EventStatus, Text: statusServerStarted + " on port " + strconv.Itoa(port)})
	return port, nil
}

// Stop closes the listener and every live session, then waits for their
// goroutines to return, at most for the shutdown timeout. A session stuck in
// a running snippet is abandoned: the snippet finishes in the background and
// its reply is dropped. Stopping a stopped server does nothing.
func (s *Server) Stop() error {
	return s.stop(nil)
}

// stop tears down the current run. A non-nil run restricts it to the run
// whose done channel is run, so a late context callback cannot stop a
// restarted server.
func (s *Server) stop(run chan struct{}) error {
	s.mu.Lock()
	if !s.running || (run != nil && s.done != run) {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.stopAfter()
	s.cancel()
	err := s.listener.Close()
	sessions := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	done := s.done
	s.mu.Unlock()

	s.timer.Stop()
	for _, sess := range sessions {
		sess.Close()
	}

	select {
	case <-done:
	case <-time.After(s.shutdownTimeout):
		s.logger.Warn("shutdown timeout, abandoning sessions", "timeout", s.shutdownTimeout, "sessions", len(sessions))
	}

	s.logger.Info("server stopped", "port", s.Port())
	s.emit(Event{Kind: EventStatus, Text: statusServerStopped})
	return err
}

// Port returns the bound port, or zero if the server never started.
func (s *Server) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.port
}

// Addr returns the listener's network address while running.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Running reports whether the server is accepting connections.
func (s *Server) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.running
}

// Done is closed when the accept loop and all sessions of the current run
// have returned. It is nil before the first Start. After a Stop that hit the
// shutdown timeout it closes only once the abandoned snippet finishes.
func (s *Server) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.done
}

// Sessions returns the live sessions.
func (s *Server) Sessions() []*Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	sessions := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	return sessions
}

func (s *Server) acceptLoop(ctx context.Context, listener Listener, group *errgroup.Group) error {
	for {
		t, err := listener.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}

		s.timer.Reset()
		s.logger.Info("connection established", "addr", t.RemoteAddr())
		s.emit(Event{Kind: EventStatus, Text: "Connected: " + t.RemoteAddr().String()})

		sess := newSession(t, sessionConfig{
			executor:  s.executor,
			nodes:     s.nodes,
			metrics:   s.metrics,
			logger:    s.logger,
			timeout:   s.cfg.Timeout.Session,
			timerOpts: s.timerOpts,
		})

		s.mu.Lock()
		if !s.running {
			s.mu.Unlock()
			sess.Close()
			continue
		}
		s.sessions[sess.ID()] = sess
		s.mu.Unlock()

		if s.onSocketReady != nil {
			s.onSocketReady(sess)
		}

		group.Go(func() error {
			defer s.removeSession(sess)
			if err := sess.Run(ctx); err != nil {
				s.logger.Debug("session ended with error", "session", sess.ID(), "error", err)
			}
			return nil
		})
	}
}

func (s *Server) removeSession(sess *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, sess.ID())
}

func (s *Server) onTick(remaining int) {
	s.emit(Event{Kind: EventTick, Remaining: remaining})
}

func (s *Server) onTimerExpired() {
	s.logger.Info("server idle timeout", "port", s.Port())
	s.emit(Event{Kind: EventStatus, Text: statusServerTimeout})
	go func() {
		_ = s.Stop()
	}()
}

func (s *Server) emit(e Event) {
	notifyAll(s.notifiers, e)
}
