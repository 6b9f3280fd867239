// Command impact trains, evaluates and serves the accelerometer accident
// detector.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/impact.report/internal/db"
	"github.com/banshee-data/impact.report/internal/monitoring"
	"github.com/banshee-data/impact.report/internal/version"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	if err := monitoring.Register(prometheus.DefaultRegisterer); err != nil {
		log.Fatalf("failed to register metrics: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		var usage usageError
		if errors.As(err, &usage) {
			fmt.Fprintf(os.Stderr, "Error: %v\n\n", err)
			printUsage(os.Stderr)
			os.Exit(2)
		}
		log.Fatalf("impact: %v", err)
	}
}

// usageError marks a bad command line rather than a failed run.
type usageError struct{ msg string }

func (e usageError) Error() string { return e.msg }

func run(ctx context.Context, args []string, stdout io.Writer) error {
	if len(args) < 1 {
		return usageError{"no command given"}
	}

	command, rest := args[0], args[1:]
	switch command {
	case "train":
		return runTrain(ctx, rest, stdout)
	case "predict":
		return runPredict(ctx, rest, stdout)
	case "serve":
		return runServe(ctx, rest, stdout)
	case "generate":
		return runGenerate(rest, stdout)
	case "migrate":
		return runMigrate(rest, stdout)
	case "version":
		fmt.Fprintln(stdout, version.String())
		return nil
	case "help", "-h", "--help":
		printUsage(stdout)
		return nil
	default:
		return usageError{fmt.Sprintf("unknown command: %s", command)}
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, `impact - accelerometer accident detection

Usage: impact <command> [options]

Commands:
  train      Train and evaluate a model from a labelled CSV
  predict    Classify every window of a CSV with a trained model
  serve      Run the HTTP/WebSocket inference service
  generate   Write a synthetic labelled CSV
  migrate    Manage the run ledger database schema
  version    Show build information
  help       Show this help message

Run 'impact <command> -h' for the options of a command.

Examples:
  impact generate -out data/synthetic.csv
  impact train -data data/synthetic.csv -out artifacts -db impact.db -plots
  impact predict -model artifacts/model.json -data data/drive.csv -threshold recall
  impact serve -model artifacts/model.json -db impact.db -serial /dev/ttyUSB0`)
}

func runMigrate(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	fs.SetOutput(stdout)
	dbPath := fs.String("db", "impact.db", "Path to the run ledger database")
	positional, err := parseInterleaved(fs, args)
	if err != nil {
		return err
	}
	return db.RunMigrateCommand(positional, *dbPath, stdout)
}

// parseInterleaved parses fs allowing flags after positional arguments, so
// both "migrate -db x up" and "migrate up -db x" work.
func parseInterleaved(fs *flag.FlagSet, args []string) ([]string, error) {
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	var positional []string
	for fs.NArg() > 0 {
		positional = append(positional, fs.Arg(0))
		if err := fs.Parse(fs.Args()[1:]); err != nil {
			return nil, err
		}
	}
	return positional, nil
}
