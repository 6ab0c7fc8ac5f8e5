// Package nss exposes a running process to external editors and peers so
// that source snippets can be executed inside it and their output returned.
//
// A Server accepts one request per connection over either a raw TCP stream
// or a web socket, runs the snippet through an Executor and writes a single
// reply before closing the connection. Each connection is driven by a
// Session with its own idle timeout. A Client performs the mirror operation
// against another instance, including sending node snapshots taken from a
// NodeStore.
//
// Requests are JSON documents:
//
//	{"text": "print(1+1)", "file": "scratch.lua"}
//
// Replies are the captured output of the snippet, followed by a traceback
// when it raised. Stream replies end with a newline; message replies are a
// single text frame.
package nss
