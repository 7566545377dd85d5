// Command nbrun launches a kernel from a kernelspec, runs the code cells of
// a cell file through it, and prints the per-cell outputs as JSON.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/tailored-agentic-units/nbkernel/kernel"
	"github.com/tailored-agentic-units/nbkernel/observability"
	"github.com/tailored-agentic-units/nbkernel/ports"
	"github.com/tailored-agentic-units/nbkernel/runner"
	"github.com/tailored-agentic-units/nbkernel/session"
)

type config struct {
	specFile  string
	cellsFile string
	code      string
	cwd       string
	connDir   string
	timeout   time.Duration
	verbose   bool
}

func main() {
	var cfg config
	flag.StringVar(&cfg.specFile, "kernelspec", "", "Path to kernelspec JSON file (default: local Python 3)")
	flag.StringVar(&cfg.cellsFile, "cells", "", "Path to JSON cell file (array of {kind, source})")
	flag.StringVar(&cfg.code, "code", "", "Run a single code cell instead of a cell file")
	flag.StringVar(&cfg.cwd, "cwd", "", "Working directory for the kernel process")
	flag.StringVar(&cfg.connDir, "conndir", "", "Directory for the connection file (default: system temp)")
	flag.DurationVar(&cfg.timeout, "timeout", 60*time.Second, "Launch timeout")
	flag.BoolVar(&cfg.verbose, "verbose", false, "Enable verbose logging to stderr")
	flag.Parse()

	if cfg.cellsFile == "" && cfg.code == "" {
		fmt.Fprintln(os.Stderr, "Usage: nbrun [-kernelspec <file>] -cells <file> | -code <source>")
		flag.PrintDefaults()
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	// run owns the session through its defers; by the time an exit code
	// is chosen here the kernel process is already disposed.
	result, err := run(ctx, &cfg)
	printResult(result)
	if err != nil {
		log.Fatalf("Run failed: %v", err)
	}
	if result.State == runner.StateAborted {
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config) (*runner.Result, error) {
	level := slog.LevelInfo
	if cfg.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	observer := observability.NewSlogObserver(logger)

	spec := kernel.DefaultSpec()
	if cfg.specFile != "" {
		loaded, err := kernel.LoadSpec(cfg.specFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load kernelspec: %w", err)
		}
		spec = *loaded
	}

	cells, err := loadCells(cfg.cellsFile, cfg.code)
	if err != nil {
		return nil, err
	}

	var sessionOpts []session.Option
	if cfg.connDir != "" {
		sessionOpts = append(sessionOpts, session.WithConnectionDir(cfg.connDir))
	}

	alloc := ports.NewAllocator()
	defer alloc.Close()

	sess, err := kernel.Launch(ctx, &spec, alloc,
		kernel.WithDir(cfg.cwd),
		kernel.WithTimeout(cfg.timeout),
		kernel.WithReadiness(),
		kernel.WithObserver(observer),
		kernel.WithSessionOptions(sessionOpts...),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to launch kernel: %w", err)
	}
	defer sess.Dispose()

	return runner.New(sess.Conn, runner.WithObserver(observer)).Run(ctx, cells)
}

func loadCells(cellsFile, code string) ([]runner.Cell, error) {
	if code != "" {
		return []runner.Cell{{Kind: runner.CellCode, Source: code}}, nil
	}

	data, err := os.ReadFile(cellsFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read cell file: %w", err)
	}

	var cells []runner.Cell
	if err := json.Unmarshal(data, &cells); err != nil {
		return nil, fmt.Errorf("failed to parse cell file: %w", err)
	}
	return cells, nil
}

func printResult(result *runner.Result) {
	if result == nil {
		return
	}
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(result); err != nil {
		log.Printf("Failed to encode result: %v", err)
	}
}
