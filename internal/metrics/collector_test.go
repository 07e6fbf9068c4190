package metrics

import (
	"sync"
	"testing"
	"time"
)

func TestNewCollector_Defaults(t *testing.T) {
	c := NewCollector()

	stats := c.Stats()
	if stats.RendersSucceeded != 0 {
		t.Errorf("RendersSucceeded: got %d, want 0", stats.RendersSucceeded)
	}
	if stats.ActiveRenders != 0 {
		t.Errorf("ActiveRenders: got %d, want 0", stats.ActiveRenders)
	}
}

func TestCollector_RecordRenderSucceeded(t *testing.T) {
	c := NewCollector()

	c.RecordRenderSucceeded("normal", 1.25)

	stats := c.Stats()
	if stats.RendersSucceeded != 1 {
		t.Errorf("RendersSucceeded: got %d, want 1", stats.RendersSucceeded)
	}

	snap := c.RenderDuration().snapshot()
	if len(snap) != 1 {
		t.Fatalf("expected 1 render duration series, got %d", len(snap))
	}
	if snap[0].sum != 1.25 {
		t.Errorf("duration sum: got %f, want 1.25", snap[0].sum)
	}
}

func TestCollector_RecordRenderFailed(t *testing.T) {
	c := NewCollector()

	c.RecordRenderFailed("priority", 0.5)

	stats := c.Stats()
	if stats.RendersFailed != 1 {
		t.Errorf("RendersFailed: got %d, want 1", stats.RendersFailed)
	}
}

func TestCollector_RecordRenderRetried(t *testing.T) {
	c := NewCollector()

	c.RecordRenderRetried("normal")
	c.RecordRenderRetried("normal")

	stats := c.Stats()
	if stats.RendersRetried != 2 {
		t.Errorf("RendersRetried: got %d, want 2", stats.RendersRetried)
	}
}

func TestCollector_CacheHitMiss(t *testing.T) {
	c := NewCollector()

	c.RecordCacheHit("memory")
	c.RecordCacheHit("disk")
	c.RecordCacheMiss()

	stats := c.Stats()
	if stats.CacheHits != 2 {
		t.Errorf("CacheHits: got %d, want 2", stats.CacheHits)
	}
	if stats.CacheMisses != 1 {
		t.Errorf("CacheMisses: got %d, want 1", stats.CacheMisses)
	}
	want := float64(2) / float64(3) * 100
	if stats.CacheHitRate != want {
		t.Errorf("CacheHitRate: got %f, want %f", stats.CacheHitRate, want)
	}

	snap := c.CacheOps().snapshot()
	if len(snap) != 3 {
		t.Fatalf("expected 3 cache op series (memory hit, disk hit, miss), got %d", len(snap))
	}
}

func TestCollector_ActiveRenders(t *testing.T) {
	c := NewCollector()

	c.IncrementActiveRenders()
	c.IncrementActiveRenders()

	stats := c.Stats()
	if stats.ActiveRenders != 2 {
		t.Errorf("ActiveRenders after 2 increments: got %d, want 2", stats.ActiveRenders)
	}

	c.DecrementActiveRenders()

	stats = c.Stats()
	if stats.ActiveRenders != 1 {
		t.Errorf("ActiveRenders after decrement: got %d, want 1", stats.ActiveRenders)
	}
}

func TestCollector_Uptime(t *testing.T) {
	c := NewCollector()
	stats := c.Stats()
	if stats.Uptime == "" {
		t.Error("Uptime is empty")
	}
}

func TestCollector_ConcurrentRecords(t *testing.T) {
	c := NewCollector()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.RecordRenderSucceeded("normal", 0.1)
		}()
	}
	wg.Wait()

	stats := c.Stats()
	if stats.RendersSucceeded != 100 {
		t.Errorf("RendersSucceeded after 100 concurrent: got %d, want 100", stats.RendersSucceeded)
	}
}

func TestCollector_RecordPartFetch(t *testing.T) {
	c := NewCollector()

	c.RecordPartFetch("hit")
	c.RecordPartFetch("hit")
	c.RecordPartFetch("fetched")

	snap := c.PartFetches().snapshot()
	if len(snap) != 2 {
		t.Fatalf("expected 2 part fetch outcome combos, got %d", len(snap))
	}
}

func TestCollector_SetQueueDepth(t *testing.T) {
	c := NewCollector()

	c.SetQueueDepth(5)
	c.SetQueueDepth(8)

	snap := c.QueueDepth().snapshot()
	if len(snap) != 1 {
		t.Fatalf("expected 1 queue depth series, got %d", len(snap))
	}
	if snap[0].value != 8 {
		t.Errorf("queue depth: got %f, want 8", snap[0].value)
	}
}

func TestCollector_SetCircuitState(t *testing.T) {
	c := NewCollector()

	c.SetCircuitState("cdn", 0) // closed
	c.SetCircuitState("cdn", 1) // open
	c.SetCircuitState("objectstore", 0)

	snap := c.CircuitState().snapshot()
	if len(snap) != 2 {
		t.Fatalf("expected 2 circuit state entries, got %d", len(snap))
	}
	for _, s := range snap {
		if s.labels["dependency"] == "cdn" && s.value != 1 {
			t.Errorf("cdn circuit state: got %f, want 1", s.value)
		}
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{30 * time.Second, "30s"},
		{5 * time.Minute, "5m"},
		{2*time.Hour + 30*time.Minute, "2h 30m"},
		{25*time.Hour + 15*time.Minute, "1d 1h 15m"},
	}

	for _, tt := range tests {
		got := formatDuration(tt.d)
		if got != tt.want {
			t.Errorf("formatDuration(%v): got %q, want %q", tt.d, got, tt.want)
		}
	}
}
