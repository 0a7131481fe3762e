package sqlite

import (
	"context"
	"testing"
	"time"
)

func TestStoreRoundTrip(t *testing.T) {
	store, err := New(":memory:")
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	if err := store.Set(ctx, "key", "value"); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	val, ok, err := store.Get(ctx, "key")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if !ok || val != "value" {
		t.Fatalf("unexpected value: %v (ok=%v)", val, ok)
	}
	if err := store.Delete(ctx, "key"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	_, ok, err = store.Get(ctx, "key")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if ok {
		t.Fatalf("expected key to be deleted")
	}
}

func TestStoreOverwriteTracksUpdatedAt(t *testing.T) {
	store, err := New(":memory:")
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	before := time.Now().Add(-time.Second)
	if err := store.Set(ctx, "snapshot", "v1"); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	if err := store.Set(ctx, "snapshot", "v2"); err != nil {
		t.Fatalf("overwrite failed: %v", err)
	}
	val, ok, err := store.Get(ctx, "snapshot")
	if err != nil || !ok {
		t.Fatalf("get after overwrite: %v (ok=%v)", err, ok)
	}
	if val != "v2" {
		t.Fatalf("expected latest value, got %q", val)
	}
	at, ok, err := store.UpdatedAt(ctx, "snapshot")
	if err != nil || !ok {
		t.Fatalf("updatedAt: %v (ok=%v)", err, ok)
	}
	if at.Before(before) {
		t.Fatalf("updated_at %s predates the write", at)
	}
	if _, ok, err := store.UpdatedAt(ctx, "missing"); err != nil || ok {
		t.Fatalf("missing key: expected ok=false, got ok=%v err=%v", ok, err)
	}
}
