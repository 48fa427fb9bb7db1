// Package logging provides a Fields builder that accumulates structured
// key/value pairs and renders them as zap.Field slices, keeping call sites
// free of repeated zap.String/zap.Int boilerplate.
package logging

import (
	"time"

	"go.uber.org/zap"
)

// Fields accumulates structured logging key/value pairs.
type Fields struct {
	entries map[string]interface{}
}

// NewFields starts an empty builder.
func NewFields() *Fields {
	return &Fields{entries: make(map[string]interface{})}
}

func (f *Fields) set(key string, value interface{}) *Fields {
	f.entries[key] = value
	return f
}

func (f *Fields) String(key, value string) *Fields          { return f.set(key, value) }
func (f *Fields) Int(key string, value int) *Fields          { return f.set(key, value) }
func (f *Fields) Int64(key string, value int64) *Fields      { return f.set(key, value) }
func (f *Fields) Float64(key string, value float64) *Fields  { return f.set(key, value) }
func (f *Fields) Bool(key string, value bool) *Fields        { return f.set(key, value) }
func (f *Fields) Duration(key string, value time.Duration) *Fields { return f.set(key, value) }
func (f *Fields) Time(key string, value time.Time) *Fields   { return f.set(key, value) }
func (f *Fields) Error(err error) *Fields {
	if err == nil {
		return f
	}
	return f.set("error", err.Error())
}

// Domain-specific helpers used throughout the core.

func (f *Fields) JobID(id string) *Fields      { return f.set("job_id", id) }
func (f *Fields) Owner(owner string) *Fields   { return f.set("owner", owner) }
func (f *Fields) Provider(id string) *Fields   { return f.set("provider_id", id) }
func (f *Fields) WorkerID(id string) *Fields   { return f.set("worker_id", id) }
func (f *Fields) Attempt(n int) *Fields        { return f.set("attempt", n) }
func (f *Fields) FunctionAddr(addr string) *Fields { return f.set("function_address", addr) }

// Merge copies other's entries into f, overwriting on key collision.
func (f *Fields) Merge(other *Fields) *Fields {
	for k, v := range other.entries {
		f.entries[k] = v
	}
	return f
}

// ToZap renders the accumulated entries as zap.Field values.
func (f *Fields) ToZap() []zap.Field {
	out := make([]zap.Field, 0, len(f.entries))
	for k, v := range f.entries {
		out = append(out, zap.Any(k, v))
	}
	return out
}

// ToMap exposes the raw entries, e.g. for a non-zap sink.
func (f *Fields) ToMap() map[string]interface{} {
	cp := make(map[string]interface{}, len(f.entries))
	for k, v := range f.entries {
		cp[k] = v
	}
	return cp
}
