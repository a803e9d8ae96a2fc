package kvstore

import (
	"errors"
	"path/filepath"
	"testing"
)

func TestSQLiteKV_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	kv, err := NewSQLiteKV(filepath.Join(dir, "state", "agentlee.db"))
	if err != nil {
		t.Fatalf("new kv: %v", err)
	}
	defer kv.Close()

	if _, ok := kv.GetItem("missing"); ok {
		t.Fatalf("expected missing key")
	}
	if err := kv.SetItem("memory", `{"turns":[]}`); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := kv.SetItem("memory", `{"turns":[1]}`); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	v, ok := kv.GetItem("memory")
	if !ok || v != `{"turns":[1]}` {
		t.Fatalf("unexpected value: %q ok=%v", v, ok)
	}
	kv.RemoveItem("memory")
	if _, ok := kv.GetItem("memory"); ok {
		t.Fatalf("expected key removed")
	}
}

func TestMemKV_QuotaExceeded(t *testing.T) {
	kv := NewMemKVWithQuota(10)
	if err := kv.SetItem("a", "12345"); err != nil {
		t.Fatalf("within quota: %v", err)
	}
	err := kv.SetItem("b", "123456789012345")
	if !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("expected quota error, got %v", err)
	}
	// Existing data is untouched.
	if v, ok := kv.GetItem("a"); !ok || v != "12345" {
		t.Fatalf("existing value lost: %q ok=%v", v, ok)
	}
	// Overwriting an existing key inside quota still works.
	if err := kv.SetItem("a", "54321"); err != nil {
		t.Fatalf("overwrite within quota: %v", err)
	}
}
