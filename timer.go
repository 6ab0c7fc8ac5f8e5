package nss

import (
	"sync"
	"time"
)

// defaultTickInterval is the period between two ticks of an IdleTimer.
const defaultTickInterval = time.Second

// IdleTimer is a reusable countdown.
// While running it calls onTick with the remaining count once per interval,
// and calls onExpire once when the count reaches zero, after which it stops.
// On the terminal interval onTick(0) is called before onExpire.
//
// Callbacks run on the timer's goroutine, outside of its lock, so they may
// call Stop, Reset or Start.
type IdleTimer struct {
	interval time.Duration
	onTick   func(remaining int)
	onExpire func()

	mu        sync.Mutex
	seconds   int
	remaining int
	running   bool
	stop      chan struct{}
	gen       uint64
}

// NewIdleTimer creates a stopped timer. Either callback may be nil.
func NewIdleTimer(onTick func(remaining int), onExpire func(), opt ...TimerOption) *IdleTimer {
	t := &IdleTimer{
		interval: defaultTickInterval,
		onTick:   onTick,
		onExpire: onExpire,
	}
	for _, o := range opt {
		o(t)
	}
	if t.interval <= 0 {
		t.interval = defaultTickInterval
	}
	return t
}

// Start begins a countdown of the given number of intervals, replacing any
// countdown in progress. A count of zero or less leaves the timer stopped.
func (t *IdleTimer) Start(seconds int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.seconds = seconds
	t.halt()
	if seconds <= 0 {
		return
	}
	t.launch()
}

// Reset restarts the countdown from its full length.
// It has no effect on a stopped timer.
func (t *IdleTimer) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.running {
		return
	}
	t.halt()
	t.launch()
}

// Stop cancels the countdown. No callback fires after Stop returns,
// except one already in progress.
func (t *IdleTimer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.halt()
}

// Running reports whether a countdown is in progress.
func (t *IdleTimer) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.running
}

// Remaining returns the number of intervals left before expiry.
func (t *IdleTimer) Remaining() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.remaining
}

// launch must be called with mu held.
func (t *IdleTimer) launch() {
	t.gen++
	t.remaining = t.seconds
	t.running = true
	t.stop = make(chan struct{})

	go t.run(t.gen, t.stop)
}

// halt must be called with mu held.
func (t *IdleTimer) halt() {
	if !t.running {
		return
	}
	t.running = false
	close(t.stop)
}

func (t *IdleTimer) run(gen uint64, stop <-chan struct{}) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		t.mu.Lock()
		if t.gen != gen || !t.running {
			t.mu.Unlock()
			return
		}
		t.remaining--
		remaining := t.remaining
		expired := remaining <= 0
		if expired {
			t.halt()
		}
		t.mu.Unlock()

		if t.onTick != nil {
			t.onTick(remaining)
		}
		if expired {
			if t.onExpire != nil {
				t.onExpire()
			}
			return
		}
	}
}
