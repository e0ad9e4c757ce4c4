package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"tokensend/internal/config"
	"tokensend/internal/server"
)

const usage = `usage: tokensend [-config path] <command> [args]

commands:
  chain                     print the chain id and head block
  balance [-block b] <addr> print the balance of addr in wei
  nonce [-block b] <addr>   print the transaction count of addr
  gasprice                  print the current gas price in wei
  send [-wait] <rawTx>      submit a signed raw transaction
  receipt <hash>            print the receipt of a mined transaction
  probe [-n N]              issue N batched block number probes
  stats                     probe every endpoint and print performance stats
  serve                     run metrics and health loops until interrupted
`

func main() {
	// Parse flags
	configPath := flag.String("config", "config.json", "path to config file")
	flag.Usage = func() { fmt.Fprint(flag.CommandLine.Output(), usage) }
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	// Load config
	cfg, err := config.Load(*configPath)
	if err != nil {
		// Basic logger for startup errors
		log := zerolog.New(os.Stderr).With().Timestamp().Logger()
		log.Fatal().Err(err).Msg("failed to load config")
	}

	// Setup logger
	logger := setupLogger(cfg.LogLevel)
	logger.Debug().
		Str("config", *configPath).
		Int("endpoints", len(cfg.Endpoints)).
		Int("maxConnections", cfg.MaxConnections).
		Msg("starting tokensend")

	srv, err := server.New(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create server")
	}

	command, args := flag.Arg(0), flag.Args()[1:]
	if command == "serve" {
		serve(srv, logger)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	runErr := run(ctx, srv, command, args, os.Stdout)
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("error during shutdown")
	}

	if errors.Is(runErr, errUsage) {
		fmt.Fprintln(os.Stderr, runErr)
		flag.Usage()
		os.Exit(2)
	}
	if runErr != nil {
		logger.Error().Err(runErr).Str("command", command).Msg("command failed")
		os.Exit(1)
	}
}

// serve runs the background loops until SIGINT or SIGTERM
func serve(srv *server.Server, logger zerolog.Logger) {
	if err := srv.Start(); err != nil {
		logger.Fatal().Err(err).Msg("failed to start server")
	}

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	logger.Info().Str("signal", sig.String()).Msg("received shutdown signal")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Stop(ctx); err != nil {
		logger.Error().Err(err).Msg("error during shutdown")
	}
}

// setupLogger configures the zerolog logger
func setupLogger(level string) zerolog.Logger {
	// Set log level
	var logLevel zerolog.Level
	switch level {
	case "debug":
		logLevel = zerolog.DebugLevel
	case "info":
		logLevel = zerolog.InfoLevel
	case "warn":
		logLevel = zerolog.WarnLevel
	case "error":
		logLevel = zerolog.ErrorLevel
	default:
		logLevel = zerolog.InfoLevel
	}

	zerolog.SetGlobalLevel(logLevel)

	// Command output goes to stdout, so logs go to stderr
	output := zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.RFC3339,
	}

	return zerolog.New(output).With().Timestamp().Logger()
}
