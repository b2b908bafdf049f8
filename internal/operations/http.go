package operations

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rendis/nodeflow/pkg/schema"
)

// HTTPConfig configures http.get.
type HTTPConfig struct {
	MaxResponseBody int64
	DefaultTimeout  time.Duration
	ChunkSize       int
}

const (
	defaultMaxResponseBody = 10 * 1024 * 1024 // 10MB
	defaultHTTPTimeout     = 30 * time.Second
	defaultChunkSize       = 4 * 1024
)

func (c HTTPConfig) withDefaults() HTTPConfig {
	if c.MaxResponseBody <= 0 {
		c.MaxResponseBody = defaultMaxResponseBody
	}
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = defaultHTTPTimeout
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = defaultChunkSize
	}
	return c
}

// HTTPOperations returns the HTTP operations.
func HTTPOperations(cfg HTTPConfig) []Operation {
	cfg = cfg.withDefaults()
	return []Operation{
		NewStreaming("http.get", Spec{
			Description: "GET a URL, relaying the response body as it arrives",
			Params: []Param{
				{Name: "url", Type: TypeString},
				{Name: "headers", Type: TypeDict},
				{Name: "auth", Type: TypeDict},
				{Name: "timeout", Type: TypeString},
				{Name: "tls_skip_verify", Type: TypeBool},
				{Name: "fail_on_error_status", Type: TypeBool},
			},
			Returns: TypeDict,
			Outputs: []string{"status_code", "body", "headers", "content_type"},
		}, func() StreamTask { return &httpGetTask{config: cfg} }),
	}
}

type httpGetTask struct {
	config HTTPConfig
}

func validateURL(rawURL string) error {
	if rawURL == "" {
		return schema.NewError(schema.ErrCodeValidation, "http.get: missing required param 'url'")
	}
	u, err := url.ParseRequestURI(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return schema.NewErrorf(schema.ErrCodeValidation, "http.get: invalid url %q", rawURL)
	}
	return nil
}

func (t *httpGetTask) Run(ctx context.Context, params map[string]any, emit ChunkFunc) (any, error) {
	rawURL := stringParam(params, "url", "")
	if err := validateURL(rawURL); err != nil {
		return nil, err
	}

	timeout := t.config.DefaultTimeout
	if ts := stringParam(params, "timeout", ""); ts != "" {
		if d, err := time.ParseDuration(ts); err == nil {
			timeout = d
		}
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeExecution, "http.get: failed to create request").WithCause(err)
	}
	for k, v := range mapParam(params, "headers") {
		req.Header.Set(k, fmt.Sprintf("%v", v))
	}
	applyAuth(req, mapParam(params, "auth"))

	// Always a fresh client so per-call TLS settings never leak.
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if boolParam(params, "tls_skip_verify", false) {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	client := &http.Client{Transport: transport}

	resp, err := client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, schema.NewErrorf(schema.ErrCodeTimeout, "http.get: request timed out after %s", timeout).WithCause(err)
		}
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "http.get: request failed: %v", err).WithCause(err)
	}
	defer resp.Body.Close()

	var body strings.Builder
	send := func(chunk string) {
		body.WriteString(chunk)
		emit(chunk)
	}
	reader := io.LimitReader(resp.Body, t.config.MaxResponseBody)
	buf := make([]byte, t.config.ChunkSize)
	// pending holds a multibyte rune split by the read boundary.
	var pending []byte
	for {
		n, readErr := reader.Read(buf)
		if n > 0 {
			data := append(pending, buf[:n]...)
			cut := runeBoundary(data)
			if cut > 0 {
				send(string(data[:cut]))
			}
			pending = append([]byte(nil), data[cut:]...)
		}
		if readErr == io.EOF {
			if len(pending) > 0 {
				send(string(pending))
			}
			break
		}
		if readErr != nil {
			return nil, schema.NewError(schema.ErrCodeExecution, "http.get: failed to read response body").WithCause(readErr)
		}
	}

	contentType := resp.Header.Get("Content-Type")
	var parsed any = body.String()
	if strings.Contains(contentType, "application/json") {
		var v any
		if err := json.Unmarshal([]byte(body.String()), &v); err == nil {
			parsed = v
		}
	}

	headers := make(map[string]any, len(resp.Header))
	for k, v := range resp.Header {
		headers[k] = strings.Join(v, ", ")
	}
	result := map[string]any{
		"status_code":  resp.StatusCode,
		"body":         parsed,
		"headers":      headers,
		"content_type": contentType,
	}
	if boolParam(params, "fail_on_error_status", false) && resp.StatusCode >= 400 {
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "http.get: server returned %d", resp.StatusCode).
			WithDetails(result)
	}
	return result, nil
}

// runeBoundary returns the length of the prefix of p that ends on a rune
// boundary. Only an incomplete encoding at the very end is held back.
func runeBoundary(p []byte) int {
	for i := len(p) - 1; i >= 0 && i >= len(p)-utf8.UTFMax; i-- {
		if utf8.RuneStart(p[i]) {
			if utf8.FullRune(p[i:]) {
				return len(p)
			}
			return i
		}
	}
	return len(p)
}

func applyAuth(req *http.Request, auth map[string]any) {
	switch stringParam(auth, "type", "") {
	case "bearer":
		req.Header.Set("Authorization", "Bearer "+stringParam(auth, "token", ""))
	case "basic":
		req.SetBasicAuth(stringParam(auth, "username", ""), stringParam(auth, "password", ""))
	case "api_key":
		if name := stringParam(auth, "header_name", ""); name != "" {
			req.Header.Set(name, stringParam(auth, "header_value", ""))
		}
	}
}
