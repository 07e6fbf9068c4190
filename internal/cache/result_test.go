package cache

import (
	"testing"

	"github.com/allaspectsdev/avatarforge/internal/objectstore"
)

func newTestCache(t *testing.T) *ResultCache {
	t.Helper()
	c, err := New(Config{DiskRoot: t.TempDir(), Store: objectstore.NewFake()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestResultCacheMissThenMemoryHit(t *testing.T) {
	c := newTestCache(t)
	ctx := t.Context()

	if _, tier, ok := c.GetAvatar(ctx, "alice", 42); ok || tier != TierMiss {
		t.Fatalf("expected miss on empty cache, got tier=%s ok=%v", tier, ok)
	}

	if err := c.Put(42, []byte("rendered-bytes")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	b, tier, ok := c.GetAvatar(ctx, "alice", 42)
	if !ok || tier != TierMemory {
		t.Fatalf("expected memory hit, got tier=%s ok=%v", tier, ok)
	}
	if string(b) != "rendered-bytes" {
		t.Fatalf("unexpected bytes: %s", b)
	}
}

func TestResultCacheDiskSurvivesMemoryPurge(t *testing.T) {
	c := newTestCache(t)
	ctx := t.Context()

	if err := c.Put(7, []byte("disk-bytes")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	c.memory.Purge()

	b, tier, ok := c.GetAvatar(ctx, "alice", 7)
	if !ok || tier != TierDisk {
		t.Fatalf("expected disk hit after memory purge, got tier=%s ok=%v", tier, ok)
	}
	if string(b) != "disk-bytes" {
		t.Fatalf("unexpected bytes: %s", b)
	}
}

func TestResultCachePurgeAllClearsDisk(t *testing.T) {
	c := newTestCache(t)
	if err := c.Put(1, []byte("x")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := c.PurgeAll(); err != nil {
		t.Fatalf("PurgeAll: %v", err)
	}
	if _, tier, ok := c.GetAvatar(t.Context(), "alice", 1); ok || tier != TierMiss {
		t.Fatalf("expected miss after PurgeAll, got tier=%s ok=%v", tier, ok)
	}
}
