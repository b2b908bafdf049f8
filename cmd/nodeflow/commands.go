package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rendis/nodeflow/internal/diagram"
	"github.com/rendis/nodeflow/internal/environ"
	"github.com/rendis/nodeflow/internal/runs"
	"github.com/rendis/nodeflow/internal/scheduler"
	"github.com/rendis/nodeflow/internal/server"
	"github.com/rendis/nodeflow/internal/store"
	nodeflowmcp "github.com/rendis/nodeflow/pkg/mcp"
)

// parseInterleaved parses flags that may appear before or after
// positional arguments and returns the positionals.
func parseInterleaved(fs *flag.FlagSet, args []string) ([]string, error) {
	var positional []string
	for {
		if err := fs.Parse(args); err != nil {
			return nil, err
		}
		args = fs.Args()
		if len(args) == 0 {
			return positional, nil
		}
		positional = append(positional, args[0])
		args = args[1:]
	}
}

func oneGraphArg(cmd string, positional []string) (string, error) {
	if len(positional) != 1 {
		return "", fmt.Errorf("%s: expected exactly one graph file, got %d", cmd, len(positional))
	}
	return positional[0], nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// runGraph executes a graph file and prints its results, or every status
// event as one JSON line with --stream.
func runGraph(ctx context.Context, cfg Config, args []string) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	stream := fs.Bool("stream", false, "print status events as JSON lines")
	envFile := fs.String("env-file", "", "dotenv file overlaid on the graph's env")
	runID := fs.String("run-id", "", "run id (default: generated)")
	positional, err := parseInterleaved(fs, args)
	if err != nil {
		return err
	}
	path, err := oneGraphArg("run", positional)
	if err != nil {
		return err
	}

	a, err := newApp(ctx, cfg, os.Stderr)
	if err != nil {
		return err
	}
	defer a.close()

	g, err := a.loadGraph(path)
	if err != nil {
		return err
	}
	if *envFile != "" {
		overrides, err := environ.LoadFile(*envFile)
		if err != nil {
			return fmt.Errorf("read env file: %w", err)
		}
		g.Env = environ.Merge(g.Env, overrides)
	}

	req := runs.Request{Graph: g, Source: "cli", RunID: *runID}
	if !*stream {
		res, err := a.runs.Execute(ctx, req)
		if err != nil {
			return err
		}
		return writeJSON(os.Stdout, res)
	}

	st := a.runs.Stream(ctx, req)
	enc := json.NewEncoder(os.Stdout)
	for ev := range st.Events() {
		if err := enc.Encode(ev); err != nil {
			return err
		}
	}
	return st.Err()
}

// serve runs the HTTP API and the configured schedules until interrupted.
func serve(ctx context.Context, cfg Config, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	listen := fs.String("listen", cfg.ListenAddr, "TCP listen address")
	if err := fs.Parse(args); err != nil {
		return err
	}

	a, err := newApp(ctx, cfg, os.Stderr)
	if err != nil {
		return err
	}
	defer a.close()

	if len(cfg.Schedules) > 0 {
		sched := scheduler.NewScheduler(a.runs, a.loadGraph, 0, a.logger)
		now := time.Now()
		for _, job := range cfg.Schedules {
			if err := sched.Add(job, now); err != nil {
				return err
			}
		}
		if err := sched.Start(ctx); err != nil {
			return err
		}
		defer sched.Stop()
	}

	srv := server.New(server.Deps{
		Runs:       a.runs,
		Operations: a.registry,
		Validator:  a.validator,
		Hub:        a.hub,
		Logger:     a.logger,
	})
	return srv.ListenAndServe(ctx, *listen)
}

// serveMCP exposes the MCP tools over stdio, or over SSE with --sse.
func serveMCP(ctx context.Context, cfg Config, args []string) error {
	fs := flag.NewFlagSet("mcp", flag.ContinueOnError)
	sseAddr := fs.String("sse", "", "serve the SSE transport on this address instead of stdio")
	if err := fs.Parse(args); err != nil {
		return err
	}

	a, err := newApp(ctx, cfg, os.Stderr)
	if err != nil {
		return err
	}
	defer a.close()

	s := nodeflowmcp.NewServer(nodeflowmcp.ServerDeps{
		Runs:       a.runs,
		Operations: a.registry,
		Validator:  a.validator,
		Hub:        a.hub,
		Logger:     a.logger,
	})
	if *sseAddr != "" {
		return s.ServeSSE(ctx, *sseAddr, "http://localhost"+*sseAddr)
	}
	return s.Serve(ctx)
}

// renderDiagram prints a graph as Mermaid or ASCII, optionally overlaid
// with the node states of a journaled run.
func renderDiagram(ctx context.Context, cfg Config, args []string) error {
	fs := flag.NewFlagSet("diagram", flag.ContinueOnError)
	format := fs.String("format", "mermaid", "output format: mermaid or ascii")
	runID := fs.String("run", "", "journaled run whose node states are overlaid")
	title := fs.String("title", "", "diagram title")
	positional, err := parseInterleaved(fs, args)
	if err != nil {
		return err
	}
	path, err := oneGraphArg("diagram", positional)
	if err != nil {
		return err
	}

	if *runID == "" {
		cfg.Journal = false
	}
	a, err := newApp(ctx, cfg, os.Stderr)
	if err != nil {
		return err
	}
	defer a.close()

	g, err := a.loadGraph(path)
	if err != nil {
		return err
	}
	var states map[string]*store.NodeState
	if *runID != "" {
		detail, err := a.runs.Get(ctx, *runID)
		if err != nil {
			return err
		}
		states = detail.Nodes
	}

	model, err := diagram.Build(*title, g, states)
	if err != nil {
		return err
	}
	switch *format {
	case "mermaid":
		fmt.Print(diagram.RenderMermaid(model))
	case "ascii":
		fmt.Print(diagram.RenderASCII(model))
	default:
		return fmt.Errorf("unknown format %q", *format)
	}
	return nil
}

// listOperations prints the operation palette.
func listOperations(ctx context.Context, cfg Config, args []string) error {
	fs := flag.NewFlagSet("ops", flag.ContinueOnError)
	asJSON := fs.Bool("json", false, "print the palette as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg.Journal = false
	a, err := newApp(ctx, cfg, io.Discard)
	if err != nil {
		return err
	}
	defer a.close()

	infos := a.registry.List()
	if *asJSON {
		return writeJSON(os.Stdout, infos)
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tKIND\tPARAMS\tRETURNS\tDESCRIPTION")
	for _, info := range infos {
		params := make([]string, len(info.Params))
		for i, p := range info.Params {
			params[i] = p.Name + ":" + string(p.Type)
		}
		returns := string(info.Returns)
		if len(info.Outputs) > 0 {
			returns += "{" + strings.Join(info.Outputs, ",") + "}"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", info.Name, info.Kind, strings.Join(params, ", "), returns, info.Description)
	}
	return tw.Flush()
}

// pruneRuns removes journaled runs older than --older-than.
func pruneRuns(ctx context.Context, cfg Config, args []string) error {
	fs := flag.NewFlagSet("prune", flag.ContinueOnError)
	age := fs.Duration("older-than", 30*24*time.Hour, "delete runs created before now minus this age")
	if err := fs.Parse(args); err != nil {
		return err
	}

	a, err := newApp(ctx, cfg, os.Stderr)
	if err != nil {
		return err
	}
	defer a.close()

	n, err := a.runs.Prune(ctx, *age)
	if err != nil {
		return err
	}
	fmt.Printf("pruned %d run(s)\n", n)
	return nil
}
