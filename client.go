package nss

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	pkgerrors "github.com/pkg/errors"

	"github.com/Zereker/nss/config"
)

// Client status lines.
const (
	statusConnectionTimeout = "Connection timed out"
	statusMessageReceived   = "Message received"
)

// Client sends one request per connection to another instance and waits for its reply.
// A Client may be reused for several sequential Send calls.
type Client struct {
	addr    string
	mode    Mode
	timeout int
	maxSize int

	logger        Logger
	notifiers     []Notifier
	transportOpts []TransportOption
	timerOpts     []TimerOption

	mu        sync.Mutex
	transport Transport
	timedOut  atomic.Bool
}

// NewClient creates a client for the instance listening on addr ("host:port").
// The transport mode and reply timeout come from cfg.
func NewClient(cfg config.Config, addr string, opts ...ClientOption) *Client {
	c := &Client{
		addr:    addr,
		mode:    Mode(cfg.Transport),
		timeout: cfg.Timeout.Client,
		maxSize: cfg.MaxMessageSize,
		logger:  defaultLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Subscribe registers n for the client's notifications.
func (c *Client) Subscribe(n Notifier) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.notifiers = append(c.notifiers, n)
}

// Send delivers env and returns the reply.
// It fails with ErrClientTimeout when no reply arrives within the configured
// client timeout, and with ErrPeerClosed when the connection ends first or
// Cancel is called.
func (c *Client) Send(ctx context.Context, env Envelope) (string, error) {
	payload, err := FormatRequest(env)
	if err != nil {
		return "", err
	}

	opts := append([]TransportOption{
		MessageMaxSize(c.maxSize),
		LoggerOption(c.logger),
	}, c.transportOpts...)

	t, err := Dial(ctx, c.mode, c.addr, opts...)
	if err != nil {
		c.emit(Event{Kind: EventStatus, Text: "Error. Could not connect: " + err.Error()})
		return "", err
	}
	defer t.Close()

	c.mu.Lock()
	c.transport = t
	c.mu.Unlock()
	c.timedOut.Store(false)

	c.logger.Debug("connected to peer", "addr", c.addr, "transport", c.mode)
	c.emit(Event{Kind: EventStatus, Text: "Connected to " + c.addr})

	if err := t.Send(ctx, payload); err != nil {
		return "", c.failure(err)
	}
	if err := t.CloseWrite(); err != nil {
		return "", c.failure(err)
	}

	timer := NewIdleTimer(
		func(remaining int) { c.emit(Event{Kind: EventTick, Remaining: remaining}) },
		func() {
			c.timedOut.Store(true)
			c.emit(Event{Kind: EventStatus, Text: statusConnectionTimeout})
			_ = t.Close()
		},
		c.timerOpts...,
	)
	timer.Start(c.timeout)
	defer timer.Stop()

	reply, err := t.Receive(ctx)
	timer.Stop()
	if err != nil {
		return "", c.failure(err)
	}

	c.emit(Event{Kind: EventStatus, Text: statusMessageReceived})
	c.emit(Event{Kind: EventReceivedText, Text: reply})
	return reply, nil
}

// SendNodes snapshots store and sends it as a node transfer.
func (c *Client) SendNodes(ctx context.Context, store NodeStore) (string, error) {
	text, err := store.Snapshot(ctx)
	if err != nil {
		return "", pkgerrors.Wrap(err, "snapshot nodes")
	}
	if text == "" {
		return "", pkgerrors.New("no nodes to send")
	}
	return c.Send(ctx, Envelope{Text: text, File: NodesFile})
}

// Cancel closes the connection of a Send in progress, which then fails with ErrPeerClosed.
func (c *Client) Cancel() {
	c.mu.Lock()
	t := c.transport
	c.mu.Unlock()

	if t != nil {
		_ = t.Close()
	}
}

// failure classifies a transport error after the connection was established.
func (c *Client) failure(err error) error {
	if c.timedOut.Load() {
		c.logger.Info("peer reply timed out", "addr", c.addr)
		return ErrClientTimeout
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	c.logger.Info("peer closed connection", "addr", c.addr, "error", err)
	c.emit(Event{Kind: EventStatus, Text: statusPeerClosed})
	if errors.Is(err, ErrPeerClosed) {
		return err
	}
	return pkgerrors.Wrap(ErrPeerClosed, err.Error())
}

func (c *Client) emit(e Event) {
	c.mu.Lock()
	notifiers := append([]Notifier(nil), c.notifiers...)
	c.mu.Unlock()

	notifyAll(notifiers, e)
}
