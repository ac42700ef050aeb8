package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"entitlement-backend/config"
	"entitlement-backend/internal/logging"
)

const (
	serviceName       = "entitlement-backend"
	defaultConfigPath = "./config/config.yaml"
)

var (
	cfgFile string
	rootCmd = &cobra.Command{
		Use:   "entitlementd",
		Short: "Device entitlement and command dispatch backend",
		Long: `Backend for pickup-code entitlement of automation devices:
- serve: HTTP API for devices, customers and operators
- codes generate: create pickup codes for a customer
- operator-token: mint an operator bearer token`,
		SilenceUsage: true,
	}
)

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default $CONFIG_PATH or ./config/config.yaml)")
}

// loadConfig reads .env, then the YAML config. A missing default config file
// falls back to built-in defaults plus environment secrets.
func loadConfig() (*config.Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	path := cfgFile
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	explicit := path != ""
	if !explicit {
		path = defaultConfigPath
	}

	cfg, err := config.Load(path)
	if errors.Is(err, fs.ErrNotExist) && !explicit {
		return config.Default()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from %s: %w", path, err)
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) *slog.Logger {
	logger := logging.NewLogger(logging.Config{ServiceName: serviceName, Level: cfg.Log.Level})
	slog.SetDefault(logger)
	return logger
}
