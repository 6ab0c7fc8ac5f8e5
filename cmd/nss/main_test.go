package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/Zereker/nss"
	"github.com/Zereker/nss/config"
	"github.com/Zereker/nss/luahost"
	"github.com/Zereker/nss/transfer"
)

// execute runs the root command with its output captured. Command tests
// assert with testify, as the config and transfer packages do.
func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func isolate(t *testing.T) {
	t.Helper()

	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	t.Setenv("HOME", dir)
}

func TestConfigCommand(t *testing.T) {
	isolate(t)

	out, err := execute(t, "", "config", "--transport", "message", "--port", "70000", "--quiet")
	require.NoError(t, err)

	var cfg config.Config
	require.NoError(t, yaml.Unmarshal([]byte(out), &cfg))
	assert.Equal(t, config.TransportMessage, cfg.Transport)
	assert.Equal(t, config.DefaultPort, cfg.Port)
}

func TestConfigCommand_InvalidTransport(t *testing.T) {
	isolate(t)

	_, err := execute(t, "", "config", "--transport", "pigeon", "--port", "50000")
	assert.ErrorIs(t, err, config.ErrInvalidTransport)
}

func startTestServer(t *testing.T, mode nss.Mode, store nss.NodeStore) int {
	t.Helper()

	cfg := config.Default()
	cfg.Transport = string(mode)
	cfg.Timeout = config.Timeouts{Session: 5, Client: 5}

	host := luahost.New()
	executor := nss.NewExecutor(host, nss.NopLogger())

	opts := []nss.ServerOption{nss.ServerLoggerOption(nss.NopLogger())}
	if store != nil {
		opts = append(opts, nss.ServerNodeStoreOption(store))
	}

	// Try ports until one in the accepted range is free.
	for port := config.MinPort + 1000; port < config.MaxPort; port += 97 {
		cfg.Port = port
		server := nss.NewServer(cfg, executor, opts...)
		if _, err := server.Start(context.Background()); err != nil {
			continue
		}
		t.Cleanup(func() {
			server.Stop()
			executor.Close()
			host.Close()
		})
		return port
	}
	t.Fatal("no free port")
	return 0
}

func TestSendCommand(t *testing.T) {
	isolate(t)
	port := startTestServer(t, nss.Message, nil)

	out, err := execute(t, "", "send", "print(6*7)", "--transport", "message", "--port", strconv.Itoa(port), "--quiet")
	require.NoError(t, err)
	assert.Equal(t, "42\n", out)

	out, err = execute(t, "print('from stdin')", "send", "-", "--transport", "message", "--port", strconv.Itoa(port), "--quiet")
	require.NoError(t, err)
	assert.Equal(t, "from stdin\n", out)
}

func TestSendCommand_Empty(t *testing.T) {
	isolate(t)

	_, err := execute(t, "   ", "send", "-", "--transport", "stream", "--port", "50000", "--quiet")
	assert.ErrorContains(t, err, "nothing to send")
}

func TestSendNodesCommand(t *testing.T) {
	isolate(t)

	remote := transfer.NewFileStore(filepath.Join(t.TempDir(), "remote.tmp"))
	port := startTestServer(t, nss.Stream, remote)

	local := filepath.Join(t.TempDir(), "transfer_nodes.tmp")
	t.Setenv("NSS_TRANSFER_PATH", local)
	require.NoError(t, os.WriteFile(local, []byte("selected nodes"), 0644))

	out, err := execute(t, "", "send-nodes", "--transport", "stream", "--port", strconv.Itoa(port), "--quiet")
	require.NoError(t, err)
	assert.Equal(t, "Nodes received\n", out)

	got, err := remote.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "selected nodes", got)
}
