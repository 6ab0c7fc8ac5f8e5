package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"github.com/yuin/gluamapper"
	lua "github.com/yuin/gopher-lua"
)

// EnvPrefix prefixes environment overrides, e.g. NSS_PORT or NSS_TIMEOUT_SESSION.
const EnvPrefix = "NSS"

// Load reads a configuration file. Lua files are evaluated with LoadLua;
// anything else goes through viper (YAML, JSON, TOML...). Environment
// variables prefixed with NSS_ override file values. An empty path loads
// only the defaults and the environment.
func Load(path string) (Config, error) {
	if strings.EqualFold(filepath.Ext(path), ".lua") {
		return LoadLua(path)
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults make every key known to viper, which AutomaticEnv needs.
	def := Default()
	v.SetDefault("transport", def.Transport)
	v.SetDefault("port", def.Port)
	v.SetDefault("timeout.server", def.Timeout.Server)
	v.SetDefault("timeout.session", def.Timeout.Session)
	v.SetDefault("timeout.client", def.Timeout.Client)
	v.SetDefault("transfer_path", def.TransferPath)
	v.SetDefault("max_message_size", def.MaxMessageSize)
	v.SetDefault("redis.addr", def.Redis.Addr)
	v.SetDefault("redis.key", def.Redis.Key)
	v.SetDefault("metrics_addr", def.MetricsAddr)
	v.SetDefault("log_level", def.LogLevel)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("failed to read config: %w", err)
		}
	}

	return FromMap(v.AllSettings())
}

// LoadLua evaluates a Lua file that returns the configuration table:
//
//	return {
//		transport = "message",
//		port = 50000,
//		timeout = { session = 5 },
//	}
func LoadLua(path string) (Config, error) {
	L := lua.NewState()
	defer L.Close()

	if err := L.DoFile(path); err != nil {
		return Config{}, fmt.Errorf("failed to run lua config: %w", err)
	}

	table, ok := L.Get(-1).(*lua.LTable)
	if !ok {
		return Config{}, fmt.Errorf("lua config %s did not return a table", path)
	}

	cfg := Default()
	if err := gluamapper.Map(table, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to map lua config: %w", err)
	}

	if err := cfg.Normalize(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
