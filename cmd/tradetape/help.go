package main

import "fmt"

func printUsage() {
	fmt.Printf(`%s - Trade Tape Collector CLI v%s

USAGE:
    %s <command> [options]

COMMANDS:
    fetch       Bring the trade log of one market up to date
    rate        Show the current rate of a market
    buckets     Aggregate a market's trades into fixed-width buckets
    plot        Print the volume-weighted smoothed rate series
    signals     Run the moving-average crossover over bucket rates
    markets     List stored markets, or the exchange's markets with --remote
    schedule    Sync a set of markets on a cron schedule
    serve       Serve the read-only HTTP API

GLOBAL OPTIONS:
    --help, -h     Show help information
    --version, -v  Show version information

EXAMPLES:
    # Fetch at least six hours of BTC_ETH trades
    %s fetch --market BTC_ETH --min-duration 6h

    # Show 15 minute buckets as CSV, syncing first
    %s buckets --market BTC_ETH --size 15m --format csv --refresh

    # Sync two markets every five minutes and serve the API
    %s serve --markets BTC_ETH,BTC_XMR --schedule

CONFIGURATION:
    Configuration is read from %s, or the file named by %s
    (YAML or JSON), then overridden by environment variables such as
    STORAGE_TYPE, CACHE_POLICY, RETENTION, MARKETS and LOG_LEVEL.

For detailed help on any command, use: %s <command> --help
`, AppName, Version, AppName, AppName, AppName, AppName, ConfigFile, ConfigEnvPath, AppName)
}

func printCommandHelp(command string) {
	switch command {
	case "fetch":
		fmt.Printf(`USAGE:
    %s fetch --market MARKET [options]

Runs fetch rounds until the log is fresh and long enough, no round makes
progress, or the round cap is reached. The log is saved afterwards.

OPTIONS:
    --market, -m MARKET        Market as BASE_QUOTE, e.g. BTC_ETH (required)
    --min-duration, -d DUR     Stop once the log spans DUR and the head is fresh
    --max-rounds, -r N         Cap on fetch rounds
    --only-old                 Only extend the log backwards
    --unbounded                Backfill to the epoch and never trim
    --help, -h                 Show this help
`, AppName)
	case "rate", "buckets", "plot", "signals":
		fmt.Printf(`USAGE:
    %s %s --market MARKET [options]

Reads the stored log of a market.

OPTIONS:
    --market, -m MARKET   Market as BASE_QUOTE (required)
    --refresh             Sync the market before reading it
    --format, -f FORMAT   table, json or csv (default table)
    --size, -s DUR        Bucket width for buckets and signals (default from config)
    --trailing            Include the still-open last bucket
    --ema FACTOR          Smoothing factor for plot, in (0, 1]
    --cut N               Leading plot points to drop
    --fast N              Fast SMA window for signals
    --medium N            Medium SMA window for signals
    --slow N              Slow SMA window for signals
    --help, -h            Show this help
`, AppName, command)
	case "markets":
		fmt.Printf(`USAGE:
    %s markets [options]

OPTIONS:
    --remote              List the exchange's markets instead of stored logs
    --format, -f FORMAT   table or json (default table)
    --help, -h            Show this help
`, AppName)
	case "schedule", "serve":
		fmt.Printf(`USAGE:
    %s %s [options]

OPTIONS:
    --markets, -m LIST    Comma separated markets (default from config)
    --cron, -c SPEC       Six-field cron spec, seconds first (default "0 */5 * * * *")
    --port, -p PORT       API port for serve (default from config)
    --schedule            serve: also run the scheduler
    --run-now             schedule: sync once before the first tick
    --help, -h            Show this help
`, AppName, command)
	default:
		fmt.Printf("No help for unknown command '%s'\n\n", command)
		printUsage()
	}
}
