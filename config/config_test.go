package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

// Tests in this package assert with testify, like the other packages that
// wrap third-party stacks (viper, redis, cobra). The root package keeps plain
// testing over loopback sockets.

// isolate points the user config directory at a temporary directory.
func isolate(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	t.Setenv("HOME", dir)
	return dir
}

func TestDefault(t *testing.T) {
	dir := isolate(t)

	cfg := Default()
	assert.Equal(t, TransportStream, cfg.Transport)
	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, Timeouts{Server: 600, Session: 10, Client: 10}, cfg.Timeout)
	assert.Equal(t, DefaultMaxMessageSize, cfg.MaxMessageSize)
	assert.Equal(t, filepath.Join(dir, "nss", "transfer_nodes.tmp"), cfg.TransferPath)
}

func TestFromMap(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "sub", "nodes.tmp")

	cfg, err := FromMap(map[string]any{
		"transport":     "Message",
		"port":          "50000",
		"timeout":       map[string]any{"server": 30},
		"transfer_path": path,
	})
	require.NoError(t, err)

	assert.Equal(t, TransportMessage, cfg.Transport)
	assert.Equal(t, 50000, cfg.Port)
	assert.Equal(t, 30, cfg.Timeout.Server)
	assert.Equal(t, DefaultSessionTimeout, cfg.Timeout.Session, "unset keys keep their default")
	assert.Equal(t, path, cfg.TransferPath)
	assert.DirExists(t, filepath.Dir(path))
}

func TestFromMap_DottedKeys(t *testing.T) {
	isolate(t)

	cfg, err := FromMap(map[string]any{
		"timeout.session": 3,
		"timeout":         map[string]any{"client": 4},
		"redis.addr":      "localhost:6379",
	})
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Timeout.Session)
	assert.Equal(t, 4, cfg.Timeout.Client)
	assert.Equal(t, DefaultServerTimeout, cfg.Timeout.Server)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
}

func TestFromMap_PortOutOfRange(t *testing.T) {
	isolate(t)

	for _, port := range []int{70000, 80, 0, -1, 49151} {
		cfg, err := FromMap(map[string]any{"port": port})
		require.NoError(t, err)
		assert.Equal(t, DefaultPort, cfg.Port, "port %d", port)
	}

	for _, port := range []int{MinPort, MaxPort} {
		cfg, err := FromMap(map[string]any{"port": port})
		require.NoError(t, err)
		assert.Equal(t, port, cfg.Port)
	}
}

func TestFromMap_InvalidTransport(t *testing.T) {
	isolate(t)

	_, err := FromMap(map[string]any{"transport": "udp"})
	assert.ErrorIs(t, err, ErrInvalidTransport)
}

func TestFromMap_BadType(t *testing.T) {
	isolate(t)

	_, err := FromMap(map[string]any{"port": "not-a-number"})
	assert.Error(t, err)
}

func TestNormalize(t *testing.T) {
	isolate(t)

	cfg := Config{
		Transport: "  STREAM ",
		Port:      1,
		Timeout:   Timeouts{Server: -5, Session: -1, Client: 7},
	}
	require.NoError(t, cfg.Normalize())

	assert.Equal(t, TransportStream, cfg.Transport)
	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, Timeouts{Server: 0, Session: 0, Client: 7}, cfg.Timeout)
	assert.Equal(t, DefaultMaxMessageSize, cfg.MaxMessageSize)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.NotEmpty(t, cfg.TransferPath)

	empty := Config{}
	require.NoError(t, empty.Normalize())
	assert.Equal(t, TransportStream, empty.Transport)
}

func TestLoad_YAML(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "nss.yaml")

	content := `
transport: message
port: 50001
timeout:
  session: 2
transfer_path: ` + filepath.Join(dir, "nodes.tmp") + `
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, TransportMessage, cfg.Transport)
	assert.Equal(t, 50001, cfg.Port)
	assert.Equal(t, 2, cfg.Timeout.Session)
	assert.Equal(t, DefaultServerTimeout, cfg.Timeout.Server)
	assert.Equal(t, filepath.Join(dir, "nodes.tmp"), cfg.TransferPath)
}

func TestLoad_Env(t *testing.T) {
	isolate(t)
	t.Setenv("NSS_PORT", "50002")
	t.Setenv("NSS_TIMEOUT_CLIENT", "1")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 50002, cfg.Port)
	assert.Equal(t, 1, cfg.Timeout.Client)
	assert.Equal(t, TransportStream, cfg.Transport)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "nss.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"port": 50003}`), 0644))
	t.Setenv("NSS_PORT", "50004")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 50004, cfg.Port)
}

func TestLoad_MissingFile(t *testing.T) {
	isolate(t)

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadLua(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "nss.lua")

	content := `
local base = 50000
return {
	transport = "message",
	port = base + 5,
	timeout = { session = 4 },
	max_message_size = 2048,
}
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, TransportMessage, cfg.Transport)
	assert.Equal(t, 50005, cfg.Port)
	assert.Equal(t, 4, cfg.Timeout.Session)
	assert.Equal(t, DefaultClientTimeout, cfg.Timeout.Client)
	assert.Equal(t, 2048, cfg.MaxMessageSize)
}

func TestLoadLua_Errors(t *testing.T) {
	isolate(t)
	dir := t.TempDir()

	notTable := filepath.Join(dir, "number.lua")
	require.NoError(t, os.WriteFile(notTable, []byte("return 42"), 0644))
	_, err := LoadLua(notTable)
	assert.ErrorContains(t, err, "did not return a table")

	broken := filepath.Join(dir, "broken.lua")
	require.NoError(t, os.WriteFile(broken, []byte("return {"), 0644))
	_, err = LoadLua(broken)
	assert.Error(t, err)

	badTransport := filepath.Join(dir, "transport.lua")
	require.NoError(t, os.WriteFile(badTransport, []byte(`return { transport = "pigeon" }`), 0644))
	_, err = LoadLua(badTransport)
	assert.ErrorIs(t, err, ErrInvalidTransport)
}

func TestWriteYAML(t *testing.T) {
	isolate(t)

	cfg := Default()
	cfg.Timeout.Session = 3

	var buf bytes.Buffer
	require.NoError(t, cfg.WriteYAML(&buf))

	var decoded Config
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, cfg, decoded)
	assert.Contains(t, buf.String(), "transfer_path:")
	assert.NotContains(t, buf.String(), "redis:")
}
