// Package environ implements the per-run environment overlay.
//
// A Scope carries named overrides (credentials, endpoints) for exactly one
// run. Operations read them through the run's context with Lookup, which
// falls back to the process environment for names the run did not override.
// ApplyProcess offers the older mutate-and-restore behaviour for operations
// that can only read os.Getenv; it serializes every run that uses it.
package environ

import (
	"context"
	"os"
	"sort"
	"sync"

	"github.com/joho/godotenv"
)

// Scope is an immutable set of environment overrides for one run.
type Scope struct {
	values map[string]string
}

// NewScope copies overrides into a new Scope. A nil map yields an empty scope.
func NewScope(overrides map[string]string) *Scope {
	values := make(map[string]string, len(overrides))
	for k, v := range overrides {
		values[k] = v
	}
	return &Scope{values: values}
}

// Lookup returns the override for key, or the process value when the
// scope does not override it.
func (s *Scope) Lookup(key string) (string, bool) {
	if s != nil {
		if v, ok := s.values[key]; ok {
			return v, true
		}
	}
	return os.LookupEnv(key)
}

// Keys returns the overridden names, sorted.
func (s *Scope) Keys() []string {
	if s == nil {
		return nil
	}
	keys := make([]string, 0, len(s.values))
	for k := range s.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Values returns a copy of the overrides.
func (s *Scope) Values() map[string]string {
	out := make(map[string]string)
	if s == nil {
		return out
	}
	for k, v := range s.values {
		out[k] = v
	}
	return out
}

// Len returns the number of overrides.
func (s *Scope) Len() int {
	if s == nil {
		return 0
	}
	return len(s.values)
}

type scopeKey struct{}

// WithScope returns a context carrying the scope.
func WithScope(ctx context.Context, s *Scope) context.Context {
	return context.WithValue(ctx, scopeKey{}, s)
}

// FromContext returns the scope carried by ctx, or nil.
func FromContext(ctx context.Context) *Scope {
	s, _ := ctx.Value(scopeKey{}).(*Scope)
	return s
}

// Lookup resolves key against the run scope in ctx, then the process environment.
func Lookup(ctx context.Context, key string) (string, bool) {
	return FromContext(ctx).Lookup(key)
}

// Getenv is Lookup without the presence flag.
func Getenv(ctx context.Context, key string) string {
	v, _ := Lookup(ctx, key)
	return v
}

// processMu serializes runs that overlay the process environment.
var processMu sync.Mutex

// ApplyProcess writes overrides into the process environment and returns a
// function that restores every prior value, unsetting names that were absent.
// The process overlay is held exclusively until restore is called, so
// callers must always call it (typically with defer). restore is idempotent.
func ApplyProcess(overrides map[string]string) (restore func(), err error) {
	processMu.Lock()

	type prior struct {
		value   string
		present bool
	}
	saved := make(map[string]prior, len(overrides))

	var once sync.Once
	restore = func() {
		once.Do(func() {
			for k, p := range saved {
				if p.present {
					_ = os.Setenv(k, p.value)
				} else {
					_ = os.Unsetenv(k)
				}
			}
			processMu.Unlock()
		})
	}

	for k, v := range overrides {
		old, present := os.LookupEnv(k)
		saved[k] = prior{value: old, present: present}
		if err := os.Setenv(k, v); err != nil {
			restore()
			return func() {}, err
		}
	}
	return restore, nil
}

// LoadFile reads a dotenv file into a map without touching the process environment.
func LoadFile(path string) (map[string]string, error) {
	return godotenv.Read(path)
}

// Merge returns base overlaid with every later map, left to right.
func Merge(maps ...map[string]string) map[string]string {
	out := make(map[string]string)
	for _, m := range maps {
		for k, v := range m {
			out[k] = v
		}
	}
	return out
}
