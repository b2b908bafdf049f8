package operations

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/rendis/nodeflow/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runHTTPGet(t *testing.T, cfg HTTPConfig, params map[string]any) ([]string, any, error) {
	t.Helper()
	ops := HTTPOperations(cfg)
	require.Len(t, ops, 1)
	var chunks []string
	out, err := ops[0].(Streaming).NewTask().Run(context.Background(), params, func(c string) {
		chunks = append(chunks, c)
	})
	return chunks, out, err
}

func TestHTTPGet_StreamsBodyInChunks(t *testing.T) {
	body := strings.Repeat("abcdefgh", 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "yes", r.Header.Get("X-Test"))
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "text/plain")
		_, _ = fmt.Fprint(w, body)
	}))
	defer srv.Close()

	chunks, out, err := runHTTPGet(t, HTTPConfig{ChunkSize: 8}, map[string]any{
		"url":     srv.URL,
		"headers": map[string]any{"X-Test": "yes"},
		"auth":    map[string]any{"type": "bearer", "token": "tok"},
	})
	require.NoError(t, err)
	assert.Equal(t, body, strings.Join(chunks, ""))
	assert.Greater(t, len(chunks), 1)

	result := out.(map[string]any)
	assert.Equal(t, 200, result["status_code"])
	assert.Equal(t, body, result["body"])
	assert.Equal(t, "text/plain", result["content_type"])
	assert.Equal(t, "text/plain", result["headers"].(map[string]any)["Content-Type"])
}

func TestHTTPGet_ChunksKeepRunesWhole(t *testing.T) {
	body := strings.Repeat("héllo wörld ✓ ", 5)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = fmt.Fprint(w, body)
	}))
	defer srv.Close()

	for _, size := range []int{1, 2, 3, 5} {
		t.Run(fmt.Sprintf("chunk %d", size), func(t *testing.T) {
			chunks, out, err := runHTTPGet(t, HTTPConfig{ChunkSize: size}, map[string]any{"url": srv.URL})
			require.NoError(t, err)
			for _, c := range chunks {
				assert.True(t, utf8.ValidString(c), "chunk %q splits a rune", c)
			}
			assert.Equal(t, body, strings.Join(chunks, ""))
			assert.Equal(t, body, out.(map[string]any)["body"])
		})
	}
}

func TestRuneBoundary(t *testing.T) {
	check := []byte("✓") // three bytes
	tests := []struct {
		name string
		in   []byte
		want int
	}{
		{"empty", nil, 0},
		{"ascii", []byte("abc"), 3},
		{"whole rune", append([]byte("a"), check...), 4},
		{"one byte of three", append([]byte("a"), check[0]), 1},
		{"two bytes of three", append([]byte("a"), check[:2]...), 1},
		{"lone continuation byte", []byte{'a', 0x80}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, runeBoundary(tt.in))
		})
	}
}

func TestHTTPGet_ParsesJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprint(w, `{"ok":true,"n":2}`)
	}))
	defer srv.Close()

	_, out, err := runHTTPGet(t, HTTPConfig{}, map[string]any{"url": srv.URL})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"ok": true, "n": 2.0}, out.(map[string]any)["body"])
}

func TestHTTPGet_MaxResponseBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = fmt.Fprint(w, strings.Repeat("x", 100))
	}))
	defer srv.Close()

	_, out, err := runHTTPGet(t, HTTPConfig{MaxResponseBody: 10}, map[string]any{"url": srv.URL})
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("x", 10), out.(map[string]any)["body"])
}

func TestHTTPGet_FailOnErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, out, err := runHTTPGet(t, HTTPConfig{}, map[string]any{"url": srv.URL})
	require.NoError(t, err)
	assert.Equal(t, 404, out.(map[string]any)["status_code"])

	_, _, err = runHTTPGet(t, HTTPConfig{}, map[string]any{"url": srv.URL, "fail_on_error_status": true})
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeExecution))
}

func TestHTTPGet_InvalidURL(t *testing.T) {
	for _, u := range []string{"", "ftp://example.com", "not a url"} {
		_, _, err := runHTTPGet(t, HTTPConfig{}, map[string]any{"url": u})
		require.Error(t, err, u)
		assert.True(t, schema.IsCode(err, schema.ErrCodeValidation), u)
	}
}
