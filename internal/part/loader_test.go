package part

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/HugoSmits86/nativewebp"
)

func encodeTestWebP(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			img.Set(x, y, color.RGBA{R: 10, G: 20, B: 30, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := nativewebp.Encode(&buf, img, nil); err != nil {
		t.Fatalf("encoding test webp: %v", err)
	}
	return buf.Bytes()
}

func TestLoadPartFetchesAndCaches(t *testing.T) {
	webpBytes := encodeTestWebP(t)
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Write(webpBytes)
	}))
	defer srv.Close()

	l, err := New(Config{
		DiskRoot:      t.TempDir(),
		CDNBase:       srv.URL,
		MemoryEntries: 16,
		HTTPClient:    &http.Client{Timeout: time.Second},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx := context.Background()
	img, ok := l.LoadPart(ctx, "hair_001")
	if !ok {
		t.Fatalf("expected part to load")
	}
	if img.Bounds().Dx() != 4 || img.Bounds().Dy() != 4 {
		t.Fatalf("unexpected decoded size: %v", img.Bounds())
	}

	// Second load should hit the memory tier, not the origin.
	if _, ok := l.LoadPart(ctx, "hair_001"); !ok {
		t.Fatalf("expected second load to succeed from cache")
	}
	if hits != 1 {
		t.Fatalf("expected exactly one origin fetch, got %d", hits)
	}
}

func TestLoadPartMissingReturnsFalse(t *testing.T) {
	l, err := New(Config{DiskRoot: t.TempDir(), CDNBase: "http://127.0.0.1:1"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, ok := l.LoadPart(context.Background(), ""); ok {
		t.Fatalf("expected empty item ref to return false")
	}
}

func TestLoadPartFailedFetchReturnsFalseNotError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	l, err := New(Config{DiskRoot: t.TempDir(), CDNBase: srv.URL, HTTPClient: &http.Client{Timeout: time.Second}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, ok := l.LoadPart(context.Background(), "missing_item"); ok {
		t.Fatalf("expected missing origin item to return false")
	}
}

// TestMemoryTierEvictsOnByteBudget verifies the memory tier is
// bounded by byte size as well as entry count: a few oversized sprites shouldn't be allowed to sit in
// memory forever just because the entry-count cap hasn't been hit.
func TestMemoryTierEvictsOnByteBudget(t *testing.T) {
	l, err := New(Config{DiskRoot: t.TempDir(), CDNBase: "http://127.0.0.1:1", MemoryEntries: 1000})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	big := make([]byte, memoryMaxBytes/2+1)
	l.addMemory("a", big)
	l.addMemory("b", big)
	l.addMemory("c", big)

	l.memMu.Lock()
	total := l.memBytes
	count := l.memory.Len()
	l.memMu.Unlock()

	if total > memoryMaxBytes {
		t.Fatalf("memory tier exceeded byte budget: %d > %d", total, memoryMaxBytes)
	}
	if count >= 3 {
		t.Fatalf("expected eviction to have dropped at least one entry, got %d entries", count)
	}
}
