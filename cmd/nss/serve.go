package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/Zereker/nss"
	"github.com/Zereker/nss/luahost"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the execution server",
	Long: `Starts the server on the configured port. Each connection carries one JSON
request ({"text": "...", "file": "..."}); the snippet runs in a Lua interpreter
shared by all connections and its output is sent back.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if addr, _ := cmd.Flags().GetString("metrics-addr"); addr != "" {
			cfg.MetricsAddr = addr
		}
		logger := newLogger(cmd, cfg)

		host := luahost.New()
		executor := nss.NewExecutor(host, logger)

		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		metrics := nss.NewMetrics(reg)

		store := newNodeStore(cfg)
		if closer, ok := store.(io.Closer); ok {
			defer closer.Close()
		}

		shutdownTimeout, _ := cmd.Flags().GetDuration("shutdown-timeout")
		server := nss.NewServer(cfg, executor,
			nss.ServerLoggerOption(logger),
			nss.ServerShutdownTimeoutOption(shutdownTimeout),
			nss.ServerMetricsOption(metrics),
			nss.ServerNodeStoreOption(store),
			nss.ServerNotifierOption(statusLogger(logger)),
			nss.OnSocketReadyOption(func(sess *nss.Session) {
				sess.Subscribe(statusLogger(logger.With("session", sess.ID())))
			}),
		)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		// Stop is called explicitly below so that its wait is observed here.
		port, err := server.Start(cmd.Context())
		if err != nil {
			closeExecutor(executor, host)
			return err
		}
		logger.Info("listening", "port", port, "transport", cfg.Transport)

		var metricsSrv *http.Server
		if cfg.MetricsAddr != "" {
			metricsSrv = serveMetrics(cfg.MetricsAddr, reg, logger)
		}

		select {
		case <-ctx.Done():
			logger.Info("shutting down server...")
		case <-server.Done():
		}

		if err := server.Stop(); err != nil {
			logger.Warn("stop server", "error", err)
		}

		// A snippet that outlived the shutdown timeout still holds the
		// interpreter; closing the executor would wait for it.
		select {
		case <-server.Done():
			closeExecutor(executor, host)
		default:
			logger.Warn("exiting with a snippet still running")
		}
		if metricsSrv != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = metricsSrv.Shutdown(shutdownCtx)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("metrics-addr", "", "Address of the Prometheus endpoint, e.g. :2112")
	serveCmd.Flags().Duration("shutdown-timeout", 5*time.Second, "How long to wait for running snippets on shutdown")
}

func closeExecutor(executor *nss.Executor, host *luahost.Host) {
	_ = executor.Close()
	host.Close()
}

func serveMetrics(addr string, reg *prometheus.Registry, logger *slog.Logger) *http.Server {
	router := chi.NewRouter()
	router.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	srv := &http.Server{Addr: addr, Handler: router, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Info("starting metrics server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", "error", err)
		}
	}()
	return srv
}

// statusLogger writes notifications to the log; ticks are too chatty for info.
func statusLogger(logger *slog.Logger) nss.Notifier {
	return nss.NotifierFunc(func(e nss.Event) {
		switch e.Kind {
		case nss.EventTick, nss.EventState:
			logger.Debug(e.Kind.String(), "remaining", e.Remaining, "state", e.State)
		case nss.EventExecutionError:
			logger.Warn(e.Kind.String(), "text", e.Text)
		default:
			logger.Info(e.Kind.String(), "text", e.Text)
		}
	})
}
