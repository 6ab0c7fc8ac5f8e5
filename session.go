package nss

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// State is the lifecycle position of a Session.
type State int

// Session states. A session moves forward through Listening, Received,
// Executing, Replied and Closed; Errored may end it from any state.
const (
	StateNew State = iota
	StateListening
	StateReceived
	StateExecuting
	StateReplied
	StateClosed
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateListening:
		return "listening"
	case StateReceived:
		return "received"
	case StateExecuting:
		return "executing"
	case StateReplied:
		return "replied"
	case StateClosed:
		return "closed"
	case StateErrored:
		return "errored"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateClosed || s == StateErrored
}

// Status lines emitted by sessions.
const (
	statusInvalidData    = "Error. Invalid data: "
	statusSessionTimeout = "Session timeout"
	statusSessionClosed  = "Session closed"
	statusPeerClosed     = "Connection closed by peer"
)

// Session drives a single request/reply exchange on one accepted transport.
type Session struct {
	id        string
	transport Transport
	executor  *Executor
	nodes     NodeStore
	metrics   *Metrics
	logger    Logger
	timeout   int
	timer     *IdleTimer

	mu        sync.Mutex
	state     State
	history   []State
	request   *Envelope
	reply     string
	notifiers []Notifier
	cancel    context.CancelFunc
	outcome   string

	writes atomic.Int32
}

// sessionConfig carries what a server hands to each session.
type sessionConfig struct {
	executor  *Executor
	nodes     NodeStore
	metrics   *Metrics
	logger    Logger
	timeout   int
	timerOpts []TimerOption
}

func newSession(t Transport, cfg sessionConfig) *Session {
	s := &Session{
		id:        uuid.NewString(),
		transport: t,
		executor:  cfg.executor,
		nodes:     cfg.nodes,
		metrics:   cfg.metrics,
		logger:    cfg.logger,
		timeout:   cfg.timeout,
	}
	if s.logger == nil {
		s.logger = defaultLogger()
	}
	s.timer = NewIdleTimer(s.onTick, s.onTimerExpired, cfg.timerOpts...)
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// RemoteAddr returns the address of the peer.
func (s *Session) RemoteAddr() string {
	if addr := s.transport.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}

// Subscribe registers n for the session's notifications.
func (s *Session) Subscribe(n Notifier) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.notifiers = append(s.notifiers, n)
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state
}

// States returns every state the session has entered, in order.
func (s *Session) States() []State {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]State(nil), s.history...)
}

// Request returns the parsed request, if one was received.
func (s *Session) Request() (Envelope, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.request == nil {
		return Envelope{}, false
	}
	return *s.request, true
}

// Reply returns the reply text written to the peer.
func (s *Session) Reply() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.reply
}

// Writes returns the number of replies written. It is at most one.
func (s *Session) Writes() int {
	return int(s.writes.Load())
}

// Run serves the exchange and returns when the session is terminal.
// The returned error explains an Errored session; it is informational.
func (s *Session) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	if !s.transition(StateListening) {
		return ErrConnectionClosed
	}
	s.metrics.sessionOpened()
	s.logger.Debug("session started", "session", s.id, "addr", s.RemoteAddr())
	s.timer.Start(s.timeout)
	defer s.finish()

	blob, err := s.transport.Receive(ctx)
	if err != nil {
		if s.State() == StateErrored {
			return s.terminalError()
		}
		if errors.Is(err, ErrPeerClosed) {
			s.fail(outcomeAborted, statusPeerClosed)
		} else {
			s.fail(outcomeAborted, "Error. Could not read data: "+err.Error())
		}
		return err
	}

	return s.onMessageReceived(ctx, blob)
}

// Close force-closes the session. Safe to call multiple times.
func (s *Session) Close() {
	s.fail(outcomeAborted, statusSessionClosed)

	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (s *Session) onMessageReceived(ctx context.Context, blob string) error {
	if !s.transition(StateReceived) {
		return s.terminalError()
	}
	s.timer.Reset()

	env, err := ParseEnvelope(blob)
	if err != nil {
		var envErr *EnvelopeError
		reason := err.Error()
		if errors.As(err, &envErr) {
			reason = envErr.Reason
		}
		s.fail(outcomeInvalid, statusInvalidData+reason)
		return err
	}

	s.mu.Lock()
	s.request = &env
	s.mu.Unlock()

	if !s.transition(StateExecuting) {
		return s.terminalError()
	}
	// Execution is never interrupted by the idle timer.
	s.timer.Stop()

	output, err := s.dispatch(ctx, env)
	if err != nil {
		s.fail(outcomeAborted, "Error. "+err.Error())
		return err
	}

	if !s.transition(StateReplied) {
		return s.terminalError()
	}

	reply := FormatReply(s.transport.Mode(), output)
	s.mu.Lock()
	s.reply = reply
	s.mu.Unlock()

	s.writes.Add(1)
	if err := s.transport.Send(ctx, reply); err != nil {
		s.fail(outcomeAborted, "Error. Could not send reply: "+err.Error())
		return err
	}
	_ = s.transport.Close()

	if !s.transition(StateClosed) {
		return s.terminalError()
	}
	s.setOutcome(outcomeReplied)

	s.emit(Event{Kind: EventReceivedText, Text: env.Text})
	s.emit(Event{Kind: EventOutputText, Text: reply})
	return nil
}

// dispatch runs the snippet, or applies it to the node store for node transfers.
func (s *Session) dispatch(ctx context.Context, env Envelope) (string, error) {
	if env.IsNodes() && s.nodes != nil {
		if err := s.nodes.Apply(ctx, env.Text); err != nil {
			return "", err
		}
		s.emit(Event{Kind: EventStatus, Text: nodesReceived})
		return nodesReceived, nil
	}

	res, err := s.executor.Execute(ctx, env.Text, env.File)
	if err != nil {
		return "", err
	}
	s.metrics.executed(res)

	if res.Failed() {
		s.emit(Event{Kind: EventExecutionError, Text: res.Traceback})
	}
	return res.Output, nil
}

func (s *Session) onTick(remaining int) {
	s.emit(Event{Kind: EventTick, Remaining: remaining})
}

func (s *Session) onTimerExpired() {
	s.fail(outcomeTimeout, statusSessionTimeout)
}

// transition moves to next if it is ahead of the current state.
func (s *Session) transition(next State) bool {
	s.mu.Lock()
	if s.state.Terminal() || next <= s.state {
		s.mu.Unlock()
		return false
	}
	s.state = next
	s.history = append(s.history, next)
	s.mu.Unlock()

	s.logger.Debug("session state", "session", s.id, "state", next)
	s.emit(Event{Kind: EventState, State: next})
	return true
}

// fail moves a live session to Errored, closes the transport and reports status.
func (s *Session) fail(outcome, status string) {
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return
	}
	s.state = StateErrored
	s.history = append(s.history, StateErrored)
	s.outcome = outcome
	s.mu.Unlock()

	s.timer.Stop()
	_ = s.transport.Close()

	s.logger.Info("session errored", "session", s.id, "addr", s.RemoteAddr(), "status", status)
	s.emit(Event{Kind: EventState, State: StateErrored})
	s.emit(Event{Kind: EventStatus, Text: status})
}

func (s *Session) setOutcome(outcome string) {
	s.mu.Lock()
	s.outcome = outcome
	s.mu.Unlock()
}

func (s *Session) terminalError() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.outcome == outcomeTimeout {
		return ErrSessionTimeout
	}
	return ErrConnectionClosed
}

// finish releases the timer and records the outcome once Run returns.
func (s *Session) finish() {
	s.timer.Stop()

	s.mu.Lock()
	outcome := s.outcome
	s.mu.Unlock()
	if outcome == "" {
		outcome = outcomeAborted
	}
	s.metrics.sessionFinished(outcome)
	s.logger.Debug("session finished", "session", s.id, "outcome", outcome)
}

func (s *Session) emit(e Event) {
	e.Session = s.id

	s.mu.Lock()
	notifiers := append([]Notifier(nil), s.notifiers...)
	s.mu.Unlock()

	notifyAll(notifiers, e)
}
