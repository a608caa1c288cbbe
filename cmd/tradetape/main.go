// Trade Tape CLI
// This application keeps per-market trade tapes up to date from a public
// exchange API and derives buckets, smoothed rates and crossover signals from
// them.
//
// Usage:
//
//	tradetape fetch --market BTC_ETH --min-duration 6h
//	tradetape buckets --market BTC_ETH --size 5m
//	tradetape signals --market BTC_ETH --fast 5 --medium 12 --slow 48
//	tradetape serve --port 8080 --schedule
//
// For detailed help on any command, use: tradetape <command> --help
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/johnayoung/go-trade-tape/internal/collector"
	"github.com/johnayoung/go-trade-tape/internal/config"
	"github.com/johnayoung/go-trade-tape/internal/exchange"
	"github.com/johnayoung/go-trade-tape/internal/logger"
	"github.com/johnayoung/go-trade-tape/internal/storage"
)

// CLI version information
const (
	Version       = "1.0.0"
	AppName       = "tradetape"
	ConfigFile    = "tradetape.yaml"
	ConfigEnvPath = "TRADETAPE_CONFIG"
)

// Exit codes following standard conventions
const (
	ExitSuccess       = 0
	ExitUsageError    = 1
	ExitConfigError   = 2
	ExitConnectionErr = 3
	ExitDataError     = 4
	ExitInterrupt     = 130
)

// CLI holds the components shared by every command
type CLI struct {
	config    *config.AppConfig
	logs      *logger.LoggerManager
	logger    *slog.Logger
	storage   storage.TradeLogStore
	exchange  *exchange.PoloniexAdapter
	collector *collector.Collector
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(argv []string) int {
	if len(argv) < 1 {
		printUsage()
		return ExitUsageError
	}

	command := argv[0]
	args := argv[1:]

	switch command {
	case "--version", "-v", "version":
		fmt.Printf("%s version %s\n", AppName, Version)
		return ExitSuccess
	case "--help", "-h", "help":
		if len(args) > 0 {
			printCommandHelp(args[0])
		} else {
			printUsage()
		}
		return ExitSuccess
	}

	handler, ok := commands[command]
	if !ok {
		fmt.Fprintf(os.Stderr, "Error: Unknown command '%s'\n\n", command)
		printUsage()
		return ExitUsageError
	}

	// Setup signal handling for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cli := &CLI{}
	if err := cli.initialize(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to initialize CLI: %v\n", err)
		return ExitConfigError
	}
	defer cli.close()

	err := handler(cli, ctx, args)
	switch {
	case err == nil:
		return ExitSuccess
	case errors.Is(err, errHelp):
		printCommandHelp(command)
		return ExitSuccess
	case ctx.Err() != nil:
		cli.logger.Warn("interrupted", "command", command)
		return ExitInterrupt
	case isUsageError(err):
		fmt.Fprintf(os.Stderr, "Error: %v\n\n", err)
		printCommandHelp(command)
		return ExitUsageError
	default:
		cli.logger.Error("command failed", "command", command, "error", err)
		return exitCodeFor(err)
	}
}

// commands maps each subcommand to its handler
var commands = map[string]func(*CLI, context.Context, []string) error{
	"fetch":    (*CLI).handleFetch,
	"rate":     (*CLI).handleRate,
	"buckets":  (*CLI).handleBuckets,
	"plot":     (*CLI).handlePlot,
	"signals":  (*CLI).handleSignals,
	"markets":  (*CLI).handleMarkets,
	"schedule": (*CLI).handleSchedule,
	"serve":    (*CLI).handleServe,
}

// initialize sets up the CLI application components
func (cli *CLI) initialize(ctx context.Context) error {
	configPath := os.Getenv(ConfigEnvPath)
	if configPath == "" {
		configPath = ConfigFile
	}

	cfg, err := config.NewConfigManager(configPath, slog.Default()).LoadConfig(ctx)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	cli.config = cfg

	logs, err := logger.NewLoggerManager(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	cli.logs = logs
	cli.logger = logs.GetLogger()
	slog.SetDefault(cli.logger)

	store, err := storage.New(cfg.Storage, cli.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	if err := store.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize storage schema: %w", err)
	}
	cli.storage = store

	source, err := exchange.NewFromConfig(cfg.Exchange, cli.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize exchange: %w", err)
	}
	cli.exchange = source

	c, err := collector.NewFromConfig(cfg, source, store, cli.logger)
	if err != nil {
		return err
	}
	cli.collector = c
	return nil
}

func (cli *CLI) close() {
	if cli.storage != nil {
		if err := cli.storage.Close(); err != nil {
			cli.logger.Warn("failed to close storage", "error", err)
		}
	}
	if cli.logs != nil {
		_ = cli.logs.Close()
	}
}
