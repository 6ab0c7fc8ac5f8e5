package nss

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"runtime/debug"
	"strings"
	"sync"
	"time"
)

// Host runs source code inside the embedding process.
//
// Run executes source in a scope shared by every call and writes whatever
// the code prints to stdout and stderr. A non-nil error means the code
// raised; its message should read as a traceback. file, when not empty,
// names the compiled unit for diagnostics.
//
// Run is only ever called from a single goroutine at a time.
type Host interface {
	Run(source, file string, stdout, stderr io.Writer) error
}

// HostFunc adapts a function to the Host interface.
type HostFunc func(source, file string, stdout, stderr io.Writer) error

// Run calls f.
func (f HostFunc) Run(source, file string, stdout, stderr io.Writer) error {
	return f(source, file, stdout, stderr)
}

// Result is the outcome of one execution.
type Result struct {
	// Output is the captured output, followed by the traceback on failure,
	// with trailing line breaks removed.
	Output string
	// Traceback is set when the code raised.
	Traceback string
	// Duration is the time spent in the host.
	Duration time.Duration
}

// Failed reports whether the code raised.
func (r Result) Failed() bool {
	return r.Traceback != ""
}

type job struct {
	source string
	file   string
	result chan Result
}

// Executor serialises code execution onto one goroutine that owns the host.
// Calls run in the order they were submitted.
type Executor struct {
	host   Host
	logger Logger

	jobs      chan job
	done      chan struct{}
	startOnce sync.Once
	closeOnce sync.Once
	finished  chan struct{}
}

// NewExecutor creates an executor for host. The worker starts on first use.
func NewExecutor(host Host, logger Logger) *Executor {
	if logger == nil {
		logger = defaultLogger()
	}
	return &Executor{
		host:     host,
		logger:   logger,
		jobs:     make(chan job),
		done:     make(chan struct{}),
		finished: make(chan struct{}),
	}
}

// Execute runs source and returns its captured output.
// Failures of the code itself are reported in the Result, never as an error;
// the error is non-nil only when the executor is closed or ctx is done
// before the code started.
func (e *Executor) Execute(ctx context.Context, source, file string) (Result, error) {
	e.startOnce.Do(func() { go e.loop() })

	j := job{source: source, file: file, result: make(chan Result, 1)}

	select {
	case e.jobs <- j:
	case <-e.done:
		return Result{}, ErrExecutorClosed
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}

	// Once accepted the job always completes.
	return <-j.result, nil
}

// Close stops the worker after the running job, if any, completes.
func (e *Executor) Close() error {
	e.closeOnce.Do(func() {
		close(e.done)
		e.startOnce.Do(func() { close(e.finished) })
	})
	<-e.finished
	return nil
}

func (e *Executor) loop() {
	defer close(e.finished)

	for {
		select {
		case j := <-e.jobs:
			j.result <- e.run(j.source, j.file)
		case <-e.done:
			return
		}
	}
}

// run captures both output streams into one buffer for the duration of the call.
func (e *Executor) run(source, file string) Result {
	var capture bytes.Buffer
	start := time.Now()

	err := e.invoke(source, file, &capture)

	res := Result{Duration: time.Since(start)}
	if err != nil {
		res.Traceback = strings.TrimRight(err.Error(), "\r\n")
		if capture.Len() > 0 && !bytes.HasSuffix(capture.Bytes(), []byte("\n")) {
			capture.WriteByte('\n')
		}
		capture.WriteString(res.Traceback)
		e.logger.Debug("execution failed", "file", file, "error", res.Traceback)
	}
	res.Output = strings.TrimRight(capture.String(), "\r\n")
	return res
}

// invoke turns a panicking host into an ordinary failure.
func (e *Executor) invoke(source, file string, w io.Writer) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return e.host.Run(source, file, w, w)
}
