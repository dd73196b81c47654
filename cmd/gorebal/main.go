package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/alecthomas/kong"

	"github.com/elee1766/gorebal/pkg/array"
)

// Exit codes. Kong reports argument errors before Run is reached.
const (
	exitOK          = 0
	exitError       = 1
	exitInvalidArgs = 2
	exitDiscovery   = 3
	exitMovesFailed = 4
)

// errMovesFailed signals that execution finished but at least one move
// failed; the run itself is not aborted.
var errMovesFailed = errors.New("finished with failed moves")

// errInvalidArgs marks argument errors kong cannot catch itself.
var errInvalidArgs = errors.New("invalid arguments")

// CLI is the root command structure
type CLI struct {
	// Global flags
	LogLevel string `short:"l" default:"info" enum:"debug,info,warn,error" help:"Log level (debug, info, warn, error)"`

	// Subcommands
	Balance  BalanceCmd  `cmd:"" help:"Plan and execute a rebalance across data disks"`
	Modes    ModesCmd    `cmd:"" help:"List rsync performance profiles"`
	History  HistoryCmd  `cmd:"" help:"Show recent rebalance operations"`
	Report   ReportCmd   `cmd:"" help:"Show one operation in detail"`
	Schedule ScheduleCmd `cmd:"" help:"Manage recurring rebalance schedules"`
	DB       DBCmd       `cmd:"" name:"db" help:"Metrics database maintenance"`
}

func main() {
	cli := &CLI{}
	parser, err := kong.New(cli,
		kong.Name("gorebal"),
		kong.Description("Rebalance data across the independent disks of a JBOD array"),
		kong.UsageOnError(),
	)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitError)
	}

	ctx, err := parser.Parse(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitInvalidArgs)
	}

	if err := ctx.Run(cli); err != nil {
		var discErr *array.DiscoveryError
		fmt.Fprintln(os.Stderr, "error:", err)
		switch {
		case errors.As(err, &discErr):
			os.Exit(exitDiscovery)
		case errors.Is(err, errMovesFailed):
			os.Exit(exitMovesFailed)
		case errors.Is(err, errInvalidArgs):
			os.Exit(exitInvalidArgs)
		default:
			os.Exit(exitError)
		}
	}
}

func makeLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: lvl,
	}

	handler := slog.NewJSONHandler(os.Stderr, opts)
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}
