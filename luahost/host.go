// Package luahost runs remote snippets in an embedded Lua interpreter.
//
// A Host keeps one interpreter state for its whole life, so globals defined
// by one snippet are visible to the next. Output written with print,
// io.write, io.stdout:write and io.stderr:write is sent to the writers of the
// current Run call instead of the process streams.
package luahost

import (
	"fmt"
	"io"
	"strings"

	lua "github.com/yuin/gopher-lua"
)

// DefaultChunkName names snippets that arrive without a file hint.
const DefaultChunkName = "<remote>"

// Host implements nss.Host on top of gopher-lua.
// It is not safe for concurrent use; nss.Executor serialises calls.
type Host struct {
	state   *lua.LState
	globals map[string]lua.LGFunction

	stdout io.Writer
	stderr io.Writer
}

// Option configures a Host.
type Option func(*Host)

// WithGlobal registers a Go function as a Lua global when the state is created.
func WithGlobal(name string, fn lua.LGFunction) Option {
	return func(h *Host) {
		h.globals[name] = fn
	}
}

// New returns a Host. The interpreter is created on the first Run.
func New(opts ...Option) *Host {
	h := &Host{
		globals: make(map[string]lua.LGFunction),
		stdout:  io.Discard,
		stderr:  io.Discard,
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Run executes source in the shared state.
// The returned error carries the Lua message and stack traceback.
func (h *Host) Run(source, file string, stdout, stderr io.Writer) error {
	if h.state == nil {
		h.state = h.newState()
	}

	prevOut, prevErr := h.stdout, h.stderr
	h.stdout, h.stderr = stdout, stderr
	defer func() {
		h.stdout, h.stderr = prevOut, prevErr
	}()

	name := file
	if name == "" {
		name = DefaultChunkName
	}

	L := h.state
	fn, err := L.Load(strings.NewReader(source), name)
	if err != nil {
		return err
	}

	top := L.GetTop()
	L.Push(fn)
	err = L.PCall(0, lua.MultRet, nil)
	L.SetTop(top)
	return err
}

// Close releases the interpreter. A later Run starts from a fresh state.
func (h *Host) Close() {
	if h.state != nil {
		h.state.Close()
		h.state = nil
	}
}

func (h *Host) newState() *lua.LState {
	L := lua.NewState()

	L.SetGlobal("print", L.NewFunction(h.print))

	if ioTable, ok := L.GetGlobal("io").(*lua.LTable); ok {
		L.SetField(ioTable, "write", L.NewFunction(h.write(func() io.Writer { return h.stdout }, 1)))
		L.SetField(ioTable, "stdout", h.newStream(L, func() io.Writer { return h.stdout }))
		L.SetField(ioTable, "stderr", h.newStream(L, func() io.Writer { return h.stderr }))
	}

	if osTable, ok := L.GetGlobal("os").(*lua.LTable); ok {
		L.SetField(osTable, "exit", L.NewFunction(func(L *lua.LState) int {
			L.RaiseError("os.exit is not available to remote code")
			return 0
		}))
	}

	for name, fn := range h.globals {
		L.SetGlobal(name, L.NewFunction(fn))
	}
	return L
}

// print mirrors the Lua builtin: arguments converted with tostring,
// separated by tabs, terminated by a newline.
func (h *Host) print(L *lua.LState) int {
	top := L.GetTop()
	parts := make([]string, 0, top)
	for i := 1; i <= top; i++ {
		parts = append(parts, L.ToStringMeta(L.Get(i)).String())
	}
	fmt.Fprintln(h.stdout, strings.Join(parts, "\t"))
	return 0
}

// write returns an io.write style function reading its arguments from index first.
func (h *Host) write(target func() io.Writer, first int) lua.LGFunction {
	return func(L *lua.LState) int {
		w := target()
		for i := first; i <= L.GetTop(); i++ {
			v := L.Get(i)
			switch v.Type() {
			case lua.LTString, lua.LTNumber:
				io.WriteString(w, lua.LVAsString(v))
			default:
				L.ArgError(i, "string expected, got "+v.Type().String())
			}
		}
		if first > 1 {
			L.Push(L.Get(1))
			return 1
		}
		return 0
	}
}

// newStream builds a file-like table whose write method targets the current writer.
func (h *Host) newStream(L *lua.LState, target func() io.Writer) *lua.LTable {
	stream := L.NewTable()
	L.SetField(stream, "write", L.NewFunction(h.write(target, 2)))
	L.SetField(stream, "flush", L.NewFunction(func(L *lua.LState) int { return 0 }))
	return stream
}
