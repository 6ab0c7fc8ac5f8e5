package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/Zereker/nss"
	"github.com/Zereker/nss/config"
	"github.com/Zereker/nss/internal/logging"
	"github.com/Zereker/nss/transfer"
)

var rootCmd = &cobra.Command{
	Use:   "nss",
	Short: "nss runs code sent by remote editors inside this process",
	Long: `nss listens for snippets from editors and peers, runs them in an embedded
Lua interpreter and replies with their output.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	// Persistent flags (available to all commands)
	rootCmd.PersistentFlags().String("config", "", "Configuration file (yaml, json, toml or lua)")
	rootCmd.PersistentFlags().String("transport", "", "Transport: stream or message")
	rootCmd.PersistentFlags().Int("port", 0, "Port to listen on or connect to")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn or error")
	rootCmd.PersistentFlags().Bool("quiet", false, "Disable logging")
}

// loadConfig reads the configuration file and applies flag overrides.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, err
	}

	if cmd.Flags().Changed("transport") {
		cfg.Transport, _ = cmd.Flags().GetString("transport")
	}
	if cmd.Flags().Changed("port") {
		cfg.Port, _ = cmd.Flags().GetInt("port")
	}
	if cmd.Flags().Changed("log-level") {
		cfg.LogLevel, _ = cmd.Flags().GetString("log-level")
	}

	if err := cfg.Normalize(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func newLogger(cmd *cobra.Command, cfg config.Config) *slog.Logger {
	if quiet, _ := cmd.Flags().GetBool("quiet"); quiet {
		return logging.NewNop()
	}
	return logging.New(logging.ParseLevel(cfg.LogLevel))
}

// newNodeStore picks the Redis store when an address is configured,
// the transfer file otherwise.
func newNodeStore(cfg config.Config) nss.NodeStore {
	if cfg.Redis.Addr != "" {
		return transfer.NewRedisStore(cfg.Redis.Addr, transfer.WithKey(cfg.Redis.Key))
	}
	return transfer.NewFileStore(cfg.TransferPath)
}
