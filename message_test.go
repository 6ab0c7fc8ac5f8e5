package nss

import (
	"context"
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// messagePair returns the accepted and dialled ends of one web socket.
func messagePair(t *testing.T, opts ...TransportOption) (server, client Transport) {
	t.Helper()

	ln, err := Listen(Message, "127.0.0.1:0", opts...)
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	accepted := make(chan Transport, 1)
	go func() {
		tr, err := ln.Accept(context.Background())
		if err != nil {
			t.Errorf("Accept failed: %v", err)
		}
		accepted <- tr
	}()

	client, err = Dial(context.Background(), Message, ln.Addr().String(), opts...)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}

	select {
	case server = <-accepted:
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for accept")
	}
	if server == nil {
		t.FailNow()
	}

	t.Cleanup(func() {
		server.Close()
		client.Close()
	})
	return server, client
}

func TestMessage_RoundTrip(t *testing.T) {
	server, client := messagePair(t)

	if server.Mode() != Message || client.Mode() != Message {
		t.Error("mode is not Message")
	}

	request := `{"text": "print(1+1)"}`
	if err := client.Send(context.Background(), request); err != nil {
		t.Fatalf("client Send failed: %v", err)
	}
	if err := client.CloseWrite(); err != nil {
		t.Errorf("CloseWrite failed: %v", err)
	}

	got, err := server.Receive(context.Background())
	if err != nil {
		t.Fatalf("server Receive failed: %v", err)
	}
	if got != request {
		t.Errorf("server received %q, want %q", got, request)
	}

	if err := server.Send(context.Background(), "2"); err != nil {
		t.Fatalf("server Send failed: %v", err)
	}
	server.Close()

	reply, err := client.Receive(context.Background())
	if err != nil {
		t.Fatalf("client Receive failed: %v", err)
	}
	if reply != "2" {
		t.Errorf("client received %q, want %q", reply, "2")
	}

	// The closing frame follows the reply.
	if _, err := client.Receive(context.Background()); !errors.Is(err, ErrPeerClosed) {
		t.Errorf("err = %v, want ErrPeerClosed", err)
	}
}

func TestMessage_AnyPath(t *testing.T) {
	ln, err := Listen(Message, "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	defer ln.Close()

	go func() {
		tr, err := ln.Accept(context.Background())
		if err != nil {
			return
		}
		defer tr.Close()
		text, _ := tr.Receive(context.Background())
		tr.Send(context.Background(), strings.ToUpper(text))
	}()

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+ln.Addr().String()+"/some/editor", nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	conn.WriteMessage(websocket.BinaryMessage, []byte("hello"))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage failed: %v", err)
	}
	if string(data) != "HELLO" {
		t.Errorf("reply = %q, want %q", data, "HELLO")
	}
}

func TestMessage_MessageTooLarge(t *testing.T) {
	server, client := messagePair(t, MessageMaxSize(16))

	client.Send(context.Background(), strings.Repeat("a", 64))

	_, err := server.Receive(context.Background())
	if !errors.Is(err, ErrMessageTooLarge) {
		t.Errorf("err = %v, want ErrMessageTooLarge", err)
	}
}

func TestMessage_PeerClosed(t *testing.T) {
	server, client := messagePair(t)

	client.Close()

	_, err := server.Receive(context.Background())
	if !errors.Is(err, ErrPeerClosed) {
		t.Errorf("err = %v, want ErrPeerClosed", err)
	}
}

func TestMessage_ReceiveContextCanceled(t *testing.T) {
	server, _ := messagePair(t)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := server.Receive(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want context.DeadlineExceeded", err)
	}
}

func TestMessage_CloseIdempotent(t *testing.T) {
	server, _ := messagePair(t)

	if err := server.Close(); err != nil {
		t.Errorf("first Close failed: %v", err)
	}
	if err := server.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}
	if err := server.Send(context.Background(), "x"); !errors.Is(err, ErrConnectionClosed) {
		t.Errorf("Send after Close = %v, want ErrConnectionClosed", err)
	}
	if _, err := server.Receive(context.Background()); !errors.Is(err, ErrConnectionClosed) {
		t.Errorf("Receive after Close = %v, want ErrConnectionClosed", err)
	}
}

func TestMessageListener_Close(t *testing.T) {
	ln, err := Listen(Message, "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := ln.Accept(context.Background())
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	ln.Close()
	ln.Close()

	select {
	case err := <-done:
		if !errors.Is(err, net.ErrClosed) {
			t.Errorf("err = %v, want net.ErrClosed", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Accept not unblocked by Close")
	}

	if _, err := Dial(context.Background(), Message, ln.Addr().String()); err == nil {
		t.Error("Dial succeeded after Close")
	}
}
