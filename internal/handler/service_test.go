package handler

import (
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/allaspectsdev/avatarforge/internal/avatar"
	"github.com/allaspectsdev/avatarforge/internal/breaker"
	"github.com/allaspectsdev/avatarforge/internal/cache"
	"github.com/allaspectsdev/avatarforge/internal/objectstore"
	"github.com/allaspectsdev/avatarforge/internal/part"
	"github.com/allaspectsdev/avatarforge/internal/render"
	"github.com/allaspectsdev/avatarforge/internal/userstore"
)

// writeBase writes a solid-color 425x850 PNG at <dir>/_bases/<name>.png,
// standing in for the real body-base assets the renderer loads.
func writeBase(t *testing.T, dir, name string) {
	t.Helper()
	basesDir := filepath.Join(dir, "_bases")
	if err := os.MkdirAll(basesDir, 0o755); err != nil {
		t.Fatalf("mkdir bases: %v", err)
	}
	img := image.NewRGBA(image.Rect(0, 0, 425, 850))
	for y := 0; y < 850; y++ {
		for x := 0; x < 425; x++ {
			img.Set(x, y, color.RGBA{R: 10, G: 20, B: 30, A: 255})
		}
	}
	f, err := os.Create(filepath.Join(basesDir, name+".png"))
	if err != nil {
		t.Fatalf("create base: %v", err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatalf("encode base: %v", err)
	}
}

// newTestService wires a full Service against a SQLite user store in a
// temporary directory,
// a fake object store, and a part loader pointed at an unreachable CDN
// (part fetches miss; a missing part never fails a render).
func newTestService(t *testing.T) (*Service, *userstore.Store, *objectstore.Fake) {
	t.Helper()
	dir := t.TempDir()
	writeBase(t, dir, "female_2")

	users, err := userstore.Open(filepath.Join(dir, "avatarforge.db"))
	if err != nil {
		t.Fatalf("userstore.Open: %v", err)
	}
	t.Cleanup(func() { users.Close() })

	store := objectstore.NewFake()

	parts, err := part.New(part.Config{
		DiskRoot: filepath.Join(dir, "cache"),
		CDNBase:  "http://127.0.0.1:1", // unreachable; every fetch misses
		Logger:   zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("part.New: %v", err)
	}

	results, err := cache.New(cache.Config{DiskRoot: dir, Store: store, Logger: zerolog.Nop()})
	if err != nil {
		t.Fatalf("cache.New: %v", err)
	}

	renderer := &Renderer{
		Parts:   parts,
		Users:   users,
		Results: results,
		Store:   store,
		BaseDir: dir,
		Log:     zerolog.Nop(),
	}

	coordinator := render.New(render.Config{
		Render:   renderer.Render,
		Workers:  3,
		Breakers: breaker.NewRegistry(5, 0, 1),
		Logger:   zerolog.Nop(),
	})
	t.Cleanup(coordinator.Stop)

	svc := &Service{
		Users:       users,
		Results:     results,
		Store:       store,
		Coordinator: coordinator,
		Log:         zerolog.Nop(),
	}
	return svc, users, store
}

func seedAlice(t *testing.T, users *userstore.Store) {
	t.Helper()
	var c avatar.Customization
	c.Sex = avatar.SexFemale
	c.SkinTone = 2
	c.Slots[avatar.SlotHair] = avatar.Slot{Item: "H1"}
	c.Slots[avatar.SlotTop] = avatar.Slot{Item: "T1"}
	if err := users.SeedUser(&avatar.User{Username: "alice", Customization: c}); err != nil {
		t.Fatalf("seed user: %v", err)
	}
}

// TestColdHitThenMemoryHit covers the cold-hit path: a cold render
// followed by a fast memory-tier hit on the same request.
func TestColdHitThenMemoryHit(t *testing.T) {
	svc, users, _ := newTestService(t)
	seedAlice(t, users)

	resp := svc.GetAvatar(context.Background(), "avatar", "alice")
	if resp.Kind != ResponseBytes {
		t.Fatalf("expected bytes response, got kind=%d err=%v", resp.Kind, resp.Err)
	}
	if len(resp.Body) == 0 {
		t.Fatal("expected non-empty avatar bytes")
	}

	resp2 := svc.GetAvatar(context.Background(), "avatar", "alice")
	if resp2.Kind != ResponseBytes || resp2.CacheTier != string(cache.TierMemory) {
		t.Fatalf("expected memory-tier hit on second call, got kind=%d tier=%s", resp2.Kind, resp2.CacheTier)
	}
}

// TestUnknownUserNotFound covers the unknown-username 404 path.
func TestUnknownUserNotFound(t *testing.T) {
	svc, _, _ := newTestService(t)
	resp := svc.GetAvatar(context.Background(), "avatar", "nobody")
	if resp.Kind != ResponseNotFound {
		t.Fatalf("expected not-found response, got kind=%d", resp.Kind)
	}
}

// TestInvalidRequest covers malformed type/username normalization.
func TestInvalidRequest(t *testing.T) {
	svc, _, _ := newTestService(t)
	resp := svc.GetAvatar(context.Background(), "bogus-type", "alice")
	if resp.Kind != ResponseError || resp.Err != ErrInvalidRequest {
		t.Fatalf("expected ErrInvalidRequest, got kind=%d err=%v", resp.Kind, resp.Err)
	}

	resp = svc.GetAvatar(context.Background(), "avatar", "not a valid username!")
	if resp.Kind != ResponseError || resp.Err != ErrInvalidRequest {
		t.Fatalf("expected ErrInvalidRequest for bad username, got kind=%d err=%v", resp.Kind, resp.Err)
	}
}

// TestCustomizationChangeReRenders verifies a
// changed customization invalidates the cache and produces different
// bytes the next time it's fetched.
func TestCustomizationChangeReRenders(t *testing.T) {
	svc, users, _ := newTestService(t)
	seedAlice(t, users)

	first := svc.GetAvatar(context.Background(), "avatar", "alice")
	if first.Kind != ResponseBytes {
		t.Fatalf("expected bytes response, got %d", first.Kind)
	}

	user, err := users.GetUser("alice")
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	user.Customization.Slots[avatar.SlotTop] = avatar.Slot{Item: "T2"}
	if err := users.SeedUser(user); err != nil {
		t.Fatalf("reseed user: %v", err)
	}

	second := svc.GetAvatar(context.Background(), "avatar", "alice")
	if second.Kind != ResponseBytes {
		t.Fatalf("expected bytes response after change, got %d err=%v", second.Kind, second.Err)
	}

	updated, err := users.GetUser("alice")
	if err != nil {
		t.Fatalf("GetUser after rerender: %v", err)
	}
	if updated.CustomizationHash == 0 {
		t.Fatal("expected customizationHash to be set after render")
	}
}

// TestSingleFlightFanOut verifies many concurrent
// requests for the same uncached user all get identical, non-empty
// bytes.
func TestSingleFlightFanOut(t *testing.T) {
	svc, users, _ := newTestService(t)
	seedAlice(t, users)

	const n = 50
	var wg sync.WaitGroup
	bodies := make([][]byte, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			resp := svc.GetAvatar(context.Background(), "avatar", "alice")
			bodies[idx] = resp.Body
		}(i)
	}
	wg.Wait()

	for i, b := range bodies {
		if len(b) == 0 {
			t.Fatalf("response %d had empty body", i)
		}
		if string(b) != string(bodies[0]) {
			t.Fatalf("response %d differs from response 0", i)
		}
	}
}
