package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/johnayoung/go-trade-tape/internal/errors"
)

// errHelp is returned by flag parsers when --help was given
var errHelp = errors.New("help requested")

type usageError struct {
	msg string
}

func (e *usageError) Error() string { return e.msg }

func usagef(format string, args ...any) error {
	return &usageError{msg: fmt.Sprintf(format, args...)}
}

func isUsageError(err error) bool {
	var ue *usageError
	return errors.As(err, &ue) || errors.Is(err, apperrors.ErrInvalidMarket)
}

// exitCodeFor separates source trouble from bad or missing data
func exitCodeFor(err error) int {
	if apperrors.IsRetryable(err) || errors.Is(err, apperrors.ErrTransientFetch) {
		return ExitConnectionErr
	}
	return ExitDataError
}

// FetchFlags are the options of the fetch command
type FetchFlags struct {
	Market      string
	MinDuration string
	OnlyOld     bool
	Unbounded   bool
	MaxRounds   int
}

// AnalysisFlags are shared by rate, buckets, plot and signals
type AnalysisFlags struct {
	Market   string
	Refresh  bool
	Format   string
	Size     string
	Trailing bool
	EMA      float64
	Cut      int
	Fast     int
	Medium   int
	Slow     int
}

// MarketsFlags are the options of the markets command
type MarketsFlags struct {
	Remote bool
	Format string
}

// DaemonFlags are shared by schedule and serve
type DaemonFlags struct {
	Markets  []string
	Cron     string
	Port     int
	Schedule bool
	RunNow   bool
}

// next consumes the value following args[*i]
func next(args []string, i *int) (string, error) {
	if *i+1 >= len(args) {
		return "", usagef("%s requires a value", args[*i])
	}
	*i++
	return args[*i], nil
}

func nextInt(args []string, i *int) (int, error) {
	name := args[*i]
	v, err := next(args, i)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, usagef("invalid %s value %q", name, v)
	}
	return n, nil
}

func nextDuration(args []string, i *int) (string, error) {
	name := args[*i]
	v, err := next(args, i)
	if err != nil {
		return "", err
	}
	if d, err := time.ParseDuration(v); err != nil || d <= 0 {
		return "", usagef("invalid %s value %q, want a positive duration like 5m", name, v)
	}
	return v, nil
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, strings.ToUpper(s))
		}
	}
	return out
}

func parseFetchFlags(args []string) (*FetchFlags, error) {
	flags := &FetchFlags{}

	for i := 0; i < len(args); i++ {
		var err error
		switch args[i] {
		case "--market", "-m":
			flags.Market, err = next(args, &i)
		case "--min-duration", "-d":
			flags.MinDuration, err = nextDuration(args, &i)
		case "--max-rounds", "-r":
			flags.MaxRounds, err = nextInt(args, &i)
			if err == nil && flags.MaxRounds <= 0 {
				err = usagef("--max-rounds must be positive")
			}
		case "--only-old":
			flags.OnlyOld = true
		case "--unbounded":
			flags.Unbounded = true
		case "--help", "-h":
			return nil, errHelp
		default:
			return nil, usagef("unknown flag: %s", args[i])
		}
		if err != nil {
			return nil, err
		}
	}

	if flags.Market == "" {
		return nil, usagef("--market is required")
	}
	flags.Market = strings.ToUpper(flags.Market)
	return flags, nil
}

func parseAnalysisFlags(args []string) (*AnalysisFlags, error) {
	flags := &AnalysisFlags{Format: "table", Cut: -1}

	for i := 0; i < len(args); i++ {
		var err error
		switch args[i] {
		case "--market", "-m":
			flags.Market, err = next(args, &i)
		case "--refresh":
			flags.Refresh = true
		case "--format", "-f":
			flags.Format, err = next(args, &i)
			if err == nil && flags.Format != "table" && flags.Format != "json" && flags.Format != "csv" {
				err = usagef("invalid format %q, want table, json or csv", flags.Format)
			}
		case "--size", "-s":
			flags.Size, err = nextDuration(args, &i)
		case "--trailing":
			flags.Trailing = true
		case "--ema":
			var v string
			if v, err = next(args, &i); err == nil {
				if flags.EMA, err = strconv.ParseFloat(v, 64); err != nil {
					err = usagef("invalid --ema value %q", v)
				}
			}
		case "--cut":
			flags.Cut, err = nextInt(args, &i)
		case "--fast":
			flags.Fast, err = nextInt(args, &i)
		case "--medium":
			flags.Medium, err = nextInt(args, &i)
		case "--slow":
			flags.Slow, err = nextInt(args, &i)
		case "--help", "-h":
			return nil, errHelp
		default:
			return nil, usagef("unknown flag: %s", args[i])
		}
		if err != nil {
			return nil, err
		}
	}

	if flags.Market == "" {
		return nil, usagef("--market is required")
	}
	flags.Market = strings.ToUpper(flags.Market)
	return flags, nil
}

func parseMarketsFlags(args []string) (*MarketsFlags, error) {
	flags := &MarketsFlags{Format: "table"}

	for i := 0; i < len(args); i++ {
		var err error
		switch args[i] {
		case "--remote":
			flags.Remote = true
		case "--format", "-f":
			flags.Format, err = next(args, &i)
			if err == nil && flags.Format != "table" && flags.Format != "json" {
				err = usagef("invalid format %q, want table or json", flags.Format)
			}
		case "--help", "-h":
			return nil, errHelp
		default:
			return nil, usagef("unknown flag: %s", args[i])
		}
		if err != nil {
			return nil, err
		}
	}
	return flags, nil
}

func parseDaemonFlags(args []string) (*DaemonFlags, error) {
	flags := &DaemonFlags{}

	for i := 0; i < len(args); i++ {
		var err error
		switch args[i] {
		case "--markets", "-m":
			var v string
			if v, err = next(args, &i); err == nil {
				flags.Markets = splitList(v)
			}
		case "--cron", "-c":
			flags.Cron, err = next(args, &i)
		case "--port", "-p":
			flags.Port, err = nextInt(args, &i)
		case "--schedule":
			flags.Schedule = true
		case "--run-now":
			flags.RunNow = true
		case "--help", "-h":
			return nil, errHelp
		default:
			return nil, usagef("unknown flag: %s", args[i])
		}
		if err != nil {
			return nil, err
		}
	}
	return flags, nil
}
