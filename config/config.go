// Package config holds the settings shared by the server, its sessions and
// the peer client. A Config is a plain value: components copy it at
// construction time and never observe later changes.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// Port bounds. Values outside the range are replaced by DefaultPort.
const (
	MinPort     = 49152
	MaxPort     = 65535
	DefaultPort = 54321
)

// Transport names.
const (
	TransportStream  = "stream"
	TransportMessage = "message"
)

// Default timeouts, in seconds.
const (
	DefaultServerTimeout  = 600
	DefaultSessionTimeout = 10
	DefaultClientTimeout  = 10
)

// DefaultMaxMessageSize is the largest request accepted by default (1MB).
const DefaultMaxMessageSize = 1024 * 1024

// ErrInvalidTransport is returned for transports other than stream and message.
var ErrInvalidTransport = errors.New("invalid transport")

// Timeouts are idle windows in seconds. Zero disables the timer.
type Timeouts struct {
	Server  int `mapstructure:"server" yaml:"server"`
	Session int `mapstructure:"session" yaml:"session"`
	Client  int `mapstructure:"client" yaml:"client"`
}

// Redis selects the Redis node store when Addr is set.
type Redis struct {
	Addr string `mapstructure:"addr" yaml:"addr,omitempty"`
	Key  string `mapstructure:"key" yaml:"key,omitempty"`
}

// Config is the full set of settings.
type Config struct {
	Transport      string   `mapstructure:"transport" yaml:"transport"`
	Port           int      `mapstructure:"port" yaml:"port"`
	Timeout        Timeouts `mapstructure:"timeout" yaml:"timeout"`
	TransferPath   string   `mapstructure:"transfer_path" yaml:"transfer_path"`
	MaxMessageSize int      `mapstructure:"max_message_size" yaml:"max_message_size"`
	Redis          Redis    `mapstructure:"redis" yaml:"redis,omitempty"`
	MetricsAddr    string   `mapstructure:"metrics_addr" yaml:"metrics_addr,omitempty"`
	LogLevel       string   `mapstructure:"log_level" yaml:"log_level"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Transport: TransportStream,
		Port:      DefaultPort,
		Timeout: Timeouts{
			Server:  DefaultServerTimeout,
			Session: DefaultSessionTimeout,
			Client:  DefaultClientTimeout,
		},
		TransferPath:   DefaultTransferPath(),
		MaxMessageSize: DefaultMaxMessageSize,
		LogLevel:       "info",
	}
}

// DefaultTransferPath is the node transfer file under the user config directory.
func DefaultTransferPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "nss", "transfer_nodes.tmp")
}

// FromMap overlays a key/value mapping on the defaults and normalises the result.
// Keys may be nested ({"timeout": {"server": 5}}) or dotted ({"timeout.server": 5}).
func FromMap(m map[string]any) (Config, error) {
	cfg := Default()

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &cfg,
	})
	if err != nil {
		return Config{}, err
	}
	if err := dec.Decode(expandKeys(m)); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.Normalize(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// expandKeys turns dotted keys into nested maps.
func expandKeys(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if nested, ok := v.(map[string]any); ok {
			v = expandKeys(nested)
		}

		parts := strings.Split(k, ".")
		node := out
		for _, p := range parts[:len(parts)-1] {
			child, ok := node[p].(map[string]any)
			if !ok {
				child = make(map[string]any)
				node[p] = child
			}
			node = child
		}

		last := parts[len(parts)-1]
		if existing, ok := node[last].(map[string]any); ok {
			if add, ok := v.(map[string]any); ok {
				for ak, av := range add {
					existing[ak] = av
				}
				continue
			}
		}
		node[last] = v
	}
	return out
}

// Normalize validates the transport, replaces an out of range port with
// DefaultPort, clamps timeouts at zero and creates the transfer directory.
func (c *Config) Normalize() error {
	c.Transport = strings.ToLower(strings.TrimSpace(c.Transport))
	switch c.Transport {
	case "":
		c.Transport = TransportStream
	case TransportStream, TransportMessage:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidTransport, c.Transport)
	}

	if !ValidPort(c.Port) {
		c.Port = DefaultPort
	}

	c.Timeout.Server = max(c.Timeout.Server, 0)
	c.Timeout.Session = max(c.Timeout.Session, 0)
	c.Timeout.Client = max(c.Timeout.Client, 0)

	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = DefaultMaxMessageSize
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}

	if c.TransferPath == "" {
		c.TransferPath = DefaultTransferPath()
	}
	if err := os.MkdirAll(filepath.Dir(c.TransferPath), 0755); err != nil {
		return fmt.Errorf("failed to create transfer directory: %w", err)
	}
	return nil
}

// ValidPort reports whether port is in the dynamic range.
func ValidPort(port int) bool {
	return port >= MinPort && port <= MaxPort
}

// WriteYAML writes the configuration as YAML.
func (c Config) WriteYAML(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return err
	}
	return enc.Close()
}
