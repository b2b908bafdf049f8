package e2e

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rendis/nodeflow/internal/engine"
	"github.com/rendis/nodeflow/internal/operations"
	"github.com/rendis/nodeflow/internal/runs"
	"github.com/rendis/nodeflow/internal/store"
	"github.com/rendis/nodeflow/internal/streaming"
	"github.com/rendis/nodeflow/internal/validation"
)

// testEnv wires the full stack against a temp-dir journal.
type testEnv struct {
	registry  *operations.Registry
	validator *validation.GraphValidator
	store     *store.LibSQLStore
	hub       *streaming.MemoryHub
	runs      *runs.Service
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	reg, err := operations.NewBuiltinRegistry(operations.Config{})
	require.NoError(t, err)
	validator, err := validation.NewGraphValidator(reg)
	require.NoError(t, err)

	st, err := store.NewLibSQLStore("file:" + filepath.Join(t.TempDir(), "e2e.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { _ = st.Close() })

	eng := engine.New(reg, engine.Config{PoolSize: 4}, nil)
	t.Cleanup(eng.Close)

	hub := streaming.NewMemoryHub()
	return &testEnv{
		registry:  reg,
		validator: validator,
		store:     st,
		hub:       hub,
		runs:      runs.NewService(eng, st, hub, nil),
	}
}

// examplesDir returns the absolute path to examples/graphs.
func examplesDir() string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(file), "..", "..", "examples", "graphs")
}

func readExample(t *testing.T, name string) []byte {
	t.Helper()
	raw, err := os.ReadFile(filepath.Join(examplesDir(), name))
	require.NoError(t, err)
	return raw
}
