package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/Zereker/nss"
	"github.com/Zereker/nss/config"
)

// echoHost is the smallest possible host: it prints the snippet back.
// Real hosts wrap an interpreter, see the luahost package.
var echoHost = nss.HostFunc(func(source, file string, stdout, stderr io.Writer) error {
	if file != "" {
		fmt.Fprintf(stderr, "from %s: ", file)
	}
	_, err := io.WriteString(stdout, source)
	return err
})

func main() {
	cfg := config.Default()
	cfg.Transport = config.TransportMessage

	executor := nss.NewExecutor(echoHost, slog.Default())
	defer executor.Close()

	server := nss.NewServer(cfg, executor,
		nss.OnSocketReadyOption(func(sess *nss.Session) {
			sess.Subscribe(nss.NotifierFunc(func(e nss.Event) {
				if e.Kind == nss.EventOutputText {
					slog.Info("replied", "session", sess.ID(), "output", e.Text)
				}
			}))
		}),
	)

	// Handle graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	port, err := server.Start(ctx)
	if err != nil {
		slog.Error("failed to start server", "error", err)
		return
	}
	defer server.Stop()

	client := nss.NewClient(cfg, fmt.Sprintf("127.0.0.1:%d", port))
	reply, err := client.Send(ctx, nss.Envelope{Text: "hello", File: "echo.txt"})
	if err != nil {
		slog.Error("send failed", "error", err)
		return
	}
	slog.Info("reply", "text", reply)

	slog.Info("server running, press ctrl-c to stop", "port", port)
	select {
	case <-ctx.Done():
	case <-server.Done():
	}
}
