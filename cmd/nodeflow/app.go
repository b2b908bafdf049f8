package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rendis/nodeflow/internal/engine"
	"github.com/rendis/nodeflow/internal/logging"
	"github.com/rendis/nodeflow/internal/operations"
	"github.com/rendis/nodeflow/internal/runs"
	"github.com/rendis/nodeflow/internal/store"
	"github.com/rendis/nodeflow/internal/streaming"
	"github.com/rendis/nodeflow/internal/validation"
	"github.com/rendis/nodeflow/pkg/schema"
)

// app holds the wired components shared by every subcommand.
type app struct {
	cfg       Config
	logger    *slog.Logger
	registry  *operations.Registry
	engine    *engine.Engine
	store     store.Store
	hub       *streaming.MemoryHub
	runs      *runs.Service
	validator *validation.GraphValidator
}

// newApp wires the components. Logs go to logOut; stdout stays free for
// results and the MCP stdio transport.
func newApp(ctx context.Context, cfg Config, logOut io.Writer) (*app, error) {
	logger := logging.New(cfg.LogLevel, cfg.LogFormat, logOut)

	reg, err := operations.NewBuiltinRegistry(operations.Config{
		HTTP: operations.HTTPConfig{DefaultTimeout: time.Duration(cfg.HTTPTimeout)},
	})
	if err != nil {
		return nil, fmt.Errorf("register operations: %w", err)
	}

	validator, err := validation.NewGraphValidator(reg)
	if err != nil {
		return nil, fmt.Errorf("compile graph schema: %w", err)
	}

	a := &app{
		cfg:       cfg,
		logger:    logger,
		registry:  reg,
		hub:       streaming.NewMemoryHub(),
		validator: validator,
	}

	if cfg.Journal {
		st, err := openStore(ctx, cfg.DBPath)
		if err != nil {
			return nil, err
		}
		a.store = st
	}

	a.engine = engine.New(reg, engine.Config{
		PoolSize:    cfg.PoolSize,
		EventBuffer: cfg.EventBuffer,
		ProcessEnv:  cfg.ProcessEnv,
	}, logger)
	a.runs = runs.NewService(a.engine, a.store, a.hub, logger)

	logger.Debug("nodeflow wired",
		slog.Int("operations", reg.Count()),
		slog.Bool("journal", cfg.Journal),
		slog.Int("pool_size", cfg.PoolSize),
	)
	return a, nil
}

func openStore(ctx context.Context, dbPath string) (store.Store, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}
	dsn := dbPath
	if !strings.HasPrefix(dsn, "file:") {
		dsn = "file:" + dsn
	}
	st, err := store.NewLibSQLStore(dsn)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("migrate journal: %w", err)
	}
	return st, nil
}

func (a *app) close() {
	a.engine.Close()
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("close journal", slog.String("error", err.Error()))
		}
	}
}

// loadGraph reads and validates a graph document from disk.
func (a *app) loadGraph(path string) (*schema.Graph, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read graph: %w", err)
	}
	return a.validator.ValidateDocument(raw)
}
