package server

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/rendis/nodeflow/pkg/schema"
)

// writeJSON writes a JSON response with the given status code. The body is
// encoded before the header goes out so an unencodable value still yields
// an error response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		status = http.StatusInternalServerError
		body, _ = json.Marshal(map[string]any{
			"error": schema.NewError(schema.ErrCodeExecution, "response not encodable").WithCause(err),
		})
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(append(body, '\n'))
}

// writeError writes a structured error. Plain errors are reported as
// execution errors.
func writeError(w http.ResponseWriter, err error) {
	e := schema.AsError(err, schema.ErrCodeExecution)
	writeJSON(w, statusFor(e.Code), map[string]any{"error": e})
}

// statusFor maps an error code to an HTTP status.
func statusFor(code string) int {
	switch code {
	case schema.ErrCodeValidation, schema.ErrCodeCycleDetected, schema.ErrCodeExtraction:
		return http.StatusUnprocessableEntity
	case schema.ErrCodeNotFound:
		return http.StatusNotFound
	case schema.ErrCodeConflict:
		return http.StatusConflict
	case schema.ErrCodeCancelled:
		// Client closed request.
		return 499
	case schema.ErrCodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// readBody reads a bounded request body.
func readBody(r *http.Request) ([]byte, error) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "read request body").WithCause(err)
	}
	if len(raw) > maxBodyBytes {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "request body exceeds %d bytes", maxBodyBytes)
	}
	return raw, nil
}

// queryInt extracts an integer query param with a default value.
func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
