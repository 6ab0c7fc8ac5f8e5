package nss

// EventKind identifies a notification.
type EventKind int

const (
	// EventStatus carries a human readable status line.
	EventStatus EventKind = iota
	// EventReceivedText carries the source text of a received request.
	EventReceivedText
	// EventOutputText carries the reply produced for a request.
	EventOutputText
	// EventExecutionError carries the traceback of a failed snippet.
	EventExecutionError
	// EventTick carries the seconds remaining on an idle timer.
	EventTick
	// EventState carries a session state change.
	EventState
)

func (k EventKind) String() string {
	switch k {
	case EventStatus:
		return "status"
	case EventReceivedText:
		return "received_text"
	case EventOutputText:
		return "output_text"
	case EventExecutionError:
		return "execution_error"
	case EventTick:
		return "tick"
	case EventState:
		return "state"
	}
	return "unknown"
}

// Event is an informational notification from a server, session or client.
// Session is empty for server and client events.
type Event struct {
	Kind      EventKind
	Session   string
	Text      string
	Remaining int
	State     State
}

// Notifier receives events. Implementations must not block for long:
// events are delivered synchronously on the emitting goroutine.
type Notifier interface {
	Notify(Event)
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(Event)

// Notify calls f(e).
func (f NotifierFunc) Notify(e Event) {
	f(e)
}

// ChanNotifier forwards events to a channel, dropping them when the channel is full.
type ChanNotifier chan Event

// Notify sends e without blocking.
func (c ChanNotifier) Notify(e Event) {
	select {
	case c <- e:
	default:
	}
}

func notifyAll(notifiers []Notifier, e Event) {
	for _, n := range notifiers {
		n.Notify(e)
	}
}
