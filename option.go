package nss

import (
	"time"
)

// Default configuration values.
const (
	// defaultMaxPackageLength is the default maximum size of a single message (1MB).
	defaultMaxPackageLength = 1024 * 1024
	// defaultWriteTimeout bounds a single write to the peer.
	defaultWriteTimeout = 30 * time.Second
	// defaultShutdownTimeout bounds how long Server.Stop waits for sessions.
	defaultShutdownTimeout = 5 * time.Second
)

// transportOptions holds the configuration for a transport.
type transportOptions struct {
	logger Logger

	maxReadLength int           // maximum size of a single message
	writeTimeout  time.Duration // deadline for a single write
}

// TransportOption is a function that configures transport options.
type TransportOption func(*transportOptions)

func newTransportOptions(opt []TransportOption) transportOptions {
	var opts transportOptions
	for _, o := range opt {
		o(&opts)
	}

	if opts.maxReadLength <= 0 {
		opts.maxReadLength = defaultMaxPackageLength
	}
	if opts.writeTimeout <= 0 {
		opts.writeTimeout = defaultWriteTimeout
	}
	if opts.logger == nil {
		opts.logger = defaultLogger()
	}
	return opts
}

// MessageMaxSize returns a TransportOption that sets the maximum message size.
// Messages larger than this size cannot be received.
func MessageMaxSize(size int) TransportOption {
	return func(o *transportOptions) {
		o.maxReadLength = size
	}
}

// WriteTimeoutOption returns a TransportOption that bounds each write.
func WriteTimeoutOption(timeout time.Duration) TransportOption {
	return func(o *transportOptions) {
		o.writeTimeout = timeout
	}
}

// LoggerOption returns a TransportOption that sets the logger.
// If not set, the default slog logger will be used.
func LoggerOption(logger Logger) TransportOption {
	return func(o *transportOptions) {
		o.logger = logger
	}
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// ServerLoggerOption sets the logger for the server and its sessions.
func ServerLoggerOption(logger Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// ServerNotifierOption subscribes n to server notifications
// (status and idle ticks of the server itself).
func ServerNotifierOption(n Notifier) ServerOption {
	return func(s *Server) {
		s.notifiers = append(s.notifiers, n)
	}
}

// OnSocketReadyOption sets the callback fired for each accepted session
// before the session starts. Subscribing to the session inside the callback
// guarantees no session notification is missed.
func OnSocketReadyOption(cb func(*Session)) ServerOption {
	return func(s *Server) {
		s.onSocketReady = cb
	}
}

// ServerNodeStoreOption enables node transfers: envelopes marked with
// NodesFile are applied to store instead of being executed.
func ServerNodeStoreOption(store NodeStore) ServerOption {
	return func(s *Server) {
		s.nodes = store
	}
}

// ServerMetricsOption records session and execution metrics.
func ServerMetricsOption(m *Metrics) ServerOption {
	return func(s *Server) {
		s.metrics = m
	}
}

// ServerShutdownTimeoutOption bounds how long Stop waits for live sessions
// to return. Sessions still executing a snippet after the timeout are
// abandoned. Non-positive values keep the default of five seconds.
func ServerShutdownTimeoutOption(timeout time.Duration) ServerOption {
	return func(s *Server) {
		s.shutdownTimeout = timeout
	}
}

// ServerTransportOption sets options applied to the listener and every accepted transport.
func ServerTransportOption(opt ...TransportOption) ServerOption {
	return func(s *Server) {
		s.transportOpts = append(s.transportOpts, opt...)
	}
}

// ServerTimerOption sets options applied to the server and session idle timers.
func ServerTimerOption(opt ...TimerOption) ServerOption {
	return func(s *Server) {
		s.timerOpts = append(s.timerOpts, opt...)
	}
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// ClientLoggerOption sets the logger for the client.
func ClientLoggerOption(logger Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// ClientNotifierOption subscribes n to client notifications.
func ClientNotifierOption(n Notifier) ClientOption {
	return func(c *Client) {
		c.notifiers = append(c.notifiers, n)
	}
}

// ClientTransportOption sets options applied to dialled transports.
func ClientTransportOption(opt ...TransportOption) ClientOption {
	return func(c *Client) {
		c.transportOpts = append(c.transportOpts, opt...)
	}
}

// ClientTimerOption sets options applied to the reply timer.
func ClientTimerOption(opt ...TimerOption) ClientOption {
	return func(c *Client) {
		c.timerOpts = append(c.timerOpts, opt...)
	}
}

// TimerOption configures an IdleTimer.
type TimerOption func(*IdleTimer)

// TimerIntervalOption sets the tick interval. The default is one second.
func TimerIntervalOption(interval time.Duration) TimerOption {
	return func(t *IdleTimer) {
		t.interval = interval
	}
}
