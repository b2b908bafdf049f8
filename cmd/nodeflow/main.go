package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

const usage = `nodeflow executes dataflow graphs of operation nodes.

Usage:
  nodeflow run <graph.json> [--stream] [--env-file f] [--run-id id]
  nodeflow serve [--listen addr]
  nodeflow mcp [--sse addr]
  nodeflow diagram <graph.json> [--format mermaid|ascii] [--run id] [--title t]
  nodeflow ops [--json]
  nodeflow prune [--older-than 720h]
  nodeflow version
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cmd, args := os.Args[1], os.Args[2:]
	switch cmd {
	case "version", "--version", "-v":
		printVersion()
		return
	case "help", "--help", "-h":
		fmt.Print(usage)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := loadDotenv(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: load .env: %v\n", err)
		os.Exit(1)
	}
	cfg, err := loadConfig(settingsPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	var run func(context.Context, Config, []string) error
	switch cmd {
	case "run":
		run = runGraph
	case "serve":
		run = serve
	case "mcp":
		run = serveMCP
	case "diagram":
		run = renderDiagram
	case "ops":
		run = listOperations
	case "prune":
		run = pruneRuns
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", cmd, usage)
		os.Exit(2)
	}

	if err := run(ctx, cfg, args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
