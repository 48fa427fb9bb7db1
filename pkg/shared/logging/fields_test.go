package logging

import (
	"errors"
	"testing"
	"time"
)

func TestNewFields(t *testing.T) {
	f := NewFields()
	if f == nil {
		t.Fatal("NewFields() returned nil")
	}
	if len(f.ToMap()) != 0 {
		t.Errorf("NewFields() should be empty, got %v", f.ToMap())
	}
}

func TestFields_String(t *testing.T) {
	f := NewFields().String("owner", "acme")
	if f.ToMap()["owner"] != "acme" {
		t.Errorf("String() = %v, want %v", f.ToMap()["owner"], "acme")
	}
}

func TestFields_Int(t *testing.T) {
	f := NewFields().Int("attempt", 3)
	if f.ToMap()["attempt"] != 3 {
		t.Errorf("Int() = %v, want %v", f.ToMap()["attempt"], 3)
	}
}

func TestFields_Duration(t *testing.T) {
	f := NewFields().Duration("elapsed", 150*time.Millisecond)
	if f.ToMap()["elapsed"] != 150*time.Millisecond {
		t.Errorf("Duration() = %v, want %v", f.ToMap()["elapsed"], 150*time.Millisecond)
	}
}

func TestFields_Error(t *testing.T) {
	err := errors.New("boom")
	f := NewFields().Error(err)
	if f.ToMap()["error"] != "boom" {
		t.Errorf("Error() = %v, want %v", f.ToMap()["error"], "boom")
	}
}

func TestFields_ErrorNil(t *testing.T) {
	f := NewFields().Error(nil)
	if _, ok := f.ToMap()["error"]; ok {
		t.Error("Error(nil) should not set the error field")
	}
}

func TestFields_DomainHelpers(t *testing.T) {
	f := NewFields().
		JobID("job-1").
		Owner("acme").
		Provider("anthropic").
		WorkerID("worker-7").
		Attempt(2).
		FunctionAddr("0x1000")

	m := f.ToMap()
	cases := map[string]interface{}{
		"job_id":           "job-1",
		"owner":            "acme",
		"provider_id":      "anthropic",
		"worker_id":        "worker-7",
		"attempt":          2,
		"function_address": "0x1000",
	}
	for k, want := range cases {
		if m[k] != want {
			t.Errorf("%s = %v, want %v", k, m[k], want)
		}
	}
}

func TestFields_Merge(t *testing.T) {
	base := NewFields().String("owner", "acme")
	extra := NewFields().String("owner", "other").Int("attempt", 1)

	merged := base.Merge(extra)

	m := merged.ToMap()
	if m["owner"] != "other" {
		t.Errorf("Merge() should overwrite on key collision, owner = %v", m["owner"])
	}
	if m["attempt"] != 1 {
		t.Errorf("Merge() should copy new keys, attempt = %v", m["attempt"])
	}
}

func TestFields_ToZap(t *testing.T) {
	f := NewFields().String("owner", "acme").Int("attempt", 2)

	zapFields := f.ToZap()
	if len(zapFields) != 2 {
		t.Fatalf("ToZap() returned %d fields, want 2", len(zapFields))
	}
}

func TestFields_ToMapIsACopy(t *testing.T) {
	f := NewFields().String("owner", "acme")
	m := f.ToMap()
	m["owner"] = "mutated"

	if f.ToMap()["owner"] != "acme" {
		t.Error("ToMap() should return a copy, mutating it affected the Fields builder")
	}
}
