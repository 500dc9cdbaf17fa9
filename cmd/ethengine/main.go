package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/rmacdonaldsmith/eth-engine-go/internal/config"
	"github.com/rmacdonaldsmith/eth-engine-go/internal/engine"
	"github.com/rmacdonaldsmith/eth-engine-go/internal/logging"
)

const version = "v0.1.0"

func main() {
	cmd, err := newRootCommand()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() (*cobra.Command, error) {
	v, err := config.New()
	if err != nil {
		return nil, err
	}

	var (
		configFile  string
		showVersion bool
	)

	cmd := &cobra.Command{
		Use:   "ethengine",
		Short: "Watch contract events and report threshold crossings",
		Long: `ethengine subscribes to contract events on an Ethereum node and notifies
when a decoded event field reaches a subscriber's trigger value.

Subscriptions are managed over Redis pub/sub: publish a request to the
subscribe or unsubscribe channel.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if showVersion {
				fmt.Fprintf(cmd.OutOrStdout(), "ethengine %s\n", version)
				return nil
			}
			return run(cmd.Context(), v, configFile)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&configFile, "config", "", "Path to a config file (yaml, json or toml)")
	flags.BoolVar(&showVersion, "version", false, "Show version information")
	flags.String("websocket-url", "", "Ethereum node websocket URL")
	flags.String("redis-host", "localhost", "Redis host")
	flags.Int("redis-port", 6379, "Redis port")
	flags.String("registry-backend", config.BackendRedis, "Event registry backend (memory or redis)")
	flags.String("sink-backend", config.BackendRedis, "Notification sink backend (memory, redis or email)")
	flags.String("http-addr", ":8080", "Admin HTTP API address (empty to disable)")
	flags.String("grpc-addr", ":9090", "gRPC health address (empty to disable)")
	flags.String("log-level", "info", "Log level (debug, info, warn, error)")
	flags.Bool("log-development", false, "Human-readable console logs")

	bindings := map[string]string{
		config.KeyWebsocketURL:    "websocket-url",
		config.KeyRedisHost:       "redis-host",
		config.KeyRedisPort:       "redis-port",
		config.KeyRegistryBackend: "registry-backend",
		config.KeySinkBackend:     "sink-backend",
		config.KeyHTTPAddr:        "http-addr",
		config.KeyGRPCAddr:        "grpc-addr",
		config.KeyLogLevel:        "log-level",
		config.KeyLogDevelopment:  "log-development",
	}
	for key, flag := range bindings {
		if err := v.BindPFlag(key, flags.Lookup(flag)); err != nil {
			return nil, fmt.Errorf("failed to bind --%s: %w", flag, err)
		}
	}

	return cmd, nil
}

func run(parent context.Context, v *viper.Viper, configFile string) error {
	if parent == nil {
		parent = context.Background()
	}

	// the logger comes first so config errors are logged too
	logger, err := logging.New(v.GetString(config.KeyLogLevel), v.GetBool(config.KeyLogDevelopment))
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load(v, configFile)
	if err != nil {
		logger.Error("Failed to load configuration", zap.Error(err))
		return err
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("Starting ethengine",
		zap.String("version", version),
		zap.String("redis", cfg.Redis.Addr()),
		zap.String("registry", cfg.RegistryBackend),
		zap.String("sink", cfg.SinkBackend))

	eng, err := engine.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to start engine", zap.Error(err))
		return err
	}

	runErr := eng.Run(ctx)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		logger.Error("Engine stopped with error", zap.Error(runErr))
	}

	logger.Info("Shutting down")
	if err := eng.Close(); err != nil {
		logger.Warn("Shutdown reported errors", zap.Error(err))
	}
	logger.Info("Shutdown complete")
	return runErr
}
