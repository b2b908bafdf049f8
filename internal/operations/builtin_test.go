package operations

import (
	"context"
	"testing"

	"github.com/rendis/nodeflow/internal/environ"
	"github.com/rendis/nodeflow/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func builtinRegistry(t *testing.T) *Registry {
	t.Helper()
	reg, err := NewBuiltinRegistry(Config{})
	require.NoError(t, err)
	return reg
}

func callPure(t *testing.T, name string, in map[string]any) (any, error) {
	return callPureCtx(t, context.Background(), name, in)
}

func callPureCtx(t *testing.T, ctx context.Context, name string, in map[string]any) (any, error) {
	t.Helper()
	op, err := builtinRegistry(t).Lookup(name)
	require.NoError(t, err)
	pure, ok := op.(Pure)
	require.True(t, ok, "%s is not pure", name)
	return pure.Call(ctx, in)
}

func TestMath(t *testing.T) {
	tests := []struct {
		op   string
		a, b float64
		want float64
	}{
		{"add", 5, 3, 8},
		{"subtract", 5, 3, 2},
		{"multiply", 10, 2, 20},
		{"divide", 9, 3, 3},
	}
	for _, tt := range tests {
		t.Run(tt.op, func(t *testing.T) {
			out, err := callPure(t, tt.op, map[string]any{"a": tt.a, "b": tt.b})
			require.NoError(t, err)
			assert.Equal(t, tt.want, out)
		})
	}

	_, err := callPure(t, "divide", map[string]any{"a": 1.0, "b": 0.0})
	assert.True(t, schema.IsCode(err, schema.ErrCodeExecution))
}

func TestText(t *testing.T) {
	out, err := callPure(t, "text.concat", map[string]any{"a": "foo", "b": "bar", "separator": "-"})
	require.NoError(t, err)
	assert.Equal(t, "foo-bar", out)

	out, err = callPure(t, "text.upper", map[string]any{"text": "shout"})
	require.NoError(t, err)
	assert.Equal(t, "SHOUT", out)
}

func TestSplitName(t *testing.T) {
	out, err := callPure(t, "text.split_name", map[string]any{"name": "John Doe"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"first": "John", "last": "Doe"}, out)

	out, err = callPure(t, "text.split_name", map[string]any{"name": "  Ada  King Lovelace "})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"first": "Ada", "last": "King Lovelace"}, out)

	out, err = callPure(t, "text.split_name", map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"first": "", "last": ""}, out)
}

func TestHTMLToMarkdown(t *testing.T) {
	out, err := callPure(t, "text.html_to_markdown", map[string]any{"html": "<h1>Title</h1><p>Some <strong>bold</strong> text</p>"})
	require.NoError(t, err)
	assert.Contains(t, out, "# Title")
	assert.Contains(t, out, "**bold**")
}

func TestCryptoHash(t *testing.T) {
	out, err := callPure(t, "crypto.hash", map[string]any{"data": "hello"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"hash":      "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824",
		"algorithm": "sha256",
	}, out)

	out, err = callPure(t, "crypto.hash", map[string]any{"data": "hello", "algorithm": "md5"})
	require.NoError(t, err)
	assert.Equal(t, "5d41402abc4b2a76b9719d911017c592", out.(map[string]any)["hash"])

	out, err = callPure(t, "crypto.hash", map[string]any{"data": "hello", "key": "secret"})
	require.NoError(t, err)
	assert.Equal(t, "88aab3ede8d3adf94d26ab90d3bafd4a2083070c3bcce9c014ee04a443847c0b", out.(map[string]any)["hash"])

	_, err = callPure(t, "crypto.hash", map[string]any{"data": "x", "algorithm": "crc"})
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))
}

func TestCryptoUUID(t *testing.T) {
	a, err := callPure(t, "crypto.uuid", nil)
	require.NoError(t, err)
	b, err := callPure(t, "crypto.uuid", nil)
	require.NoError(t, err)
	assert.Len(t, a, 36)
	assert.NotEqual(t, a, b)
}

func TestEnvGet_ReadsRunScope(t *testing.T) {
	t.Setenv("NODEFLOW_OPS_REGION", "process-region")
	ctx := environ.WithScope(context.Background(), environ.NewScope(map[string]string{"API_KEY": "run-key"}))

	out, err := callPureCtx(t, ctx, "env.get", map[string]any{"name": "API_KEY"})
	require.NoError(t, err)
	assert.Equal(t, "run-key", out)

	out, err = callPureCtx(t, ctx, "env.get", map[string]any{"name": "NODEFLOW_OPS_REGION"})
	require.NoError(t, err)
	assert.Equal(t, "process-region", out)

	out, err = callPureCtx(t, ctx, "env.get", map[string]any{"name": "NODEFLOW_OPS_ABSENT", "default": "fallback"})
	require.NoError(t, err)
	assert.Equal(t, "fallback", out)

	_, err = callPure(t, "env.get", map[string]any{})
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))
}

func TestExpressionOperations(t *testing.T) {
	out, err := callPure(t, "expr.eval", map[string]any{"expression": "x * 2", "vars": map[string]any{"x": 21}})
	require.NoError(t, err)
	assert.Equal(t, 42, out)

	out, err = callPure(t, "json.query", map[string]any{"query": ".user.name", "data": map[string]any{"user": map[string]any{"name": "ada"}}})
	require.NoError(t, err)
	assert.Equal(t, "ada", out)

	out, err = callPure(t, "json.query", map[string]any{"query": ".[]", "data": []any{1.0, 2.0}})
	require.NoError(t, err)
	assert.Equal(t, []any{1.0, 2.0}, out)

	ctx := environ.WithScope(context.Background(), environ.NewScope(map[string]string{"STAGE": "prod"}))
	out, err = callPureCtx(t, ctx, "logic.check", map[string]any{
		"expression": `inputs.n > 1 && env.STAGE == "prod"`,
		"inputs":     map[string]any{"n": 2},
	})
	require.NoError(t, err)
	assert.Equal(t, true, out)

	_, err = callPure(t, "expr.eval", map[string]any{})
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))
}

func TestCountdown_ReportsProgress(t *testing.T) {
	op, err := builtinRegistry(t).Lookup("util.countdown")
	require.NoError(t, err)
	prog := op.(Progressive)

	type report struct {
		fraction float64
		message  string
	}
	var got []report
	out, err := prog.NewTask().Run(context.Background(), map[string]any{"steps": 2}, func(f float64, m string) {
		got = append(got, report{f, m})
	})
	require.NoError(t, err)
	assert.Equal(t, 2, out)
	assert.Equal(t, []report{{0.5, "step 1 of 2"}, {1.0, "step 2 of 2"}}, got)

	// Each task starts from zero.
	out, err = prog.NewTask().Run(context.Background(), map[string]any{"steps": 1}, func(float64, string) {})
	require.NoError(t, err)
	assert.Equal(t, 1, out)
}

func TestCountdown_Cancelled(t *testing.T) {
	op, err := builtinRegistry(t).Lookup("util.countdown")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = op.(Progressive).NewTask().Run(ctx, map[string]any{"steps": 3, "interval_ms": 50}, func(float64, string) {})
	assert.True(t, schema.IsCode(err, schema.ErrCodeCancelled))
}

func TestStreamWords(t *testing.T) {
	op, err := builtinRegistry(t).Lookup("text.stream_words")
	require.NoError(t, err)

	var chunks []string
	out, err := op.(Streaming).NewTask().Run(context.Background(), map[string]any{"text": "hello  streaming world"}, func(c string) {
		chunks = append(chunks, c)
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"hello", " streaming", " world"}, chunks)
	assert.Equal(t, "hello streaming world", out)
}
