// Package part implements the part-image loader: a two-tier cache
// (memory LRU + disk) in front of an origin CDN fetch, guarded by a
// circuit breaker and a bounded concurrency limiter. A missing or
// failed fetch never fails a render — callers receive ok=false and
// proceed without that layer.
package part

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"image"
	"image/png"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"
	"golang.org/x/image/webp"
	"golang.org/x/sync/semaphore"

	"github.com/allaspectsdev/avatarforge/internal/breaker"
	"github.com/allaspectsdev/avatarforge/internal/metrics"
	"github.com/allaspectsdev/avatarforge/internal/tracing"
)

// maxInFlightFetches bounds concurrent origin fetches so a burst of
// cold renders cannot saturate the CDN.
const maxInFlightFetches = 10

// memoryMaxBytes is the default byte bound on the memory tier, on top
// of the entry-count bound the LRU already enforces: a handful of
// oversized sprites (tall coats, wings) shouldn't starve the rest of
// the tier even while entry count stays well under the cap.
const memoryMaxBytes = 32 << 20

// Loader loads part sprites by item reference, consulting a memory
// tier, a disk tier, and finally the origin CDN.
type Loader struct {
	memory   *lru.Cache[string, []byte]
	memMu    sync.Mutex
	memBytes int64
	maxBytes int64
	diskRoot string
	cdnBase  string
	client   *http.Client
	cb       *breaker.Breaker
	sem      *semaphore.Weighted
	log      zerolog.Logger
	metrics  *metrics.Collector
}

// Config holds Loader construction parameters. Zero values fall back
// to the defaults above (256 entries, 32 MiB, 10 in-flight fetches).
type Config struct {
	DiskRoot         string
	CDNBase          string
	MemoryEntries    int
	MemoryBytes      int64
	FetchConcurrency int64
	HTTPClient       *http.Client
	CircuitBreaker   *breaker.Breaker
	Metrics          *metrics.Collector
	Logger           zerolog.Logger
}

// New builds a Loader. MemoryEntries bounds the memory tier by entry
// count; addMemory additionally bounds it by total byte size so a
// few oversized parts can't starve the tier of capacity.
func New(cfg Config) (*Loader, error) {
	if cfg.MemoryEntries <= 0 {
		cfg.MemoryEntries = 256
	}
	if cfg.MemoryBytes <= 0 {
		cfg.MemoryBytes = memoryMaxBytes
	}
	if cfg.FetchConcurrency <= 0 {
		cfg.FetchConcurrency = maxInFlightFetches
	}
	l := &Loader{
		maxBytes: cfg.MemoryBytes,
		diskRoot: cfg.DiskRoot,
		cdnBase:  strings.TrimRight(cfg.CDNBase, "/"),
		cb:       cfg.CircuitBreaker,
		sem:      semaphore.NewWeighted(cfg.FetchConcurrency),
		log:      cfg.Logger,
		metrics:  cfg.Metrics,
	}
	cache, err := lru.NewWithEvict[string, []byte](cfg.MemoryEntries, func(_ string, value []byte) {
		l.memBytes -= int64(len(value))
	})
	if err != nil {
		return nil, fmt.Errorf("creating part memory cache: %w", err)
	}
	l.memory = cache
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	if err := os.MkdirAll(cfg.DiskRoot, 0o755); err != nil {
		return nil, fmt.Errorf("creating part disk cache dir %s: %w", cfg.DiskRoot, err)
	}
	l.client = cfg.HTTPClient
	return l, nil
}

// addMemory inserts raw into the memory tier and evicts the oldest
// entries until the tier's total byte size is back under budget.
func (l *Loader) addMemory(key string, raw []byte) {
	l.memMu.Lock()
	defer l.memMu.Unlock()

	l.memory.Remove(key) // release any stale entry's bytes before re-adding
	l.memory.Add(key, raw)
	l.memBytes += int64(len(raw))
	for l.memBytes > l.maxBytes {
		if _, _, ok := l.memory.RemoveOldest(); !ok {
			break
		}
	}
}

// LoadPart loads the raster for itemRef, or ok=false if the part could
// not be obtained (unset reference, disk/network miss, or decode
// failure). It never returns an error: a missing part must never fail
// a render.
func (l *Loader) LoadPart(ctx context.Context, itemRef string) (img image.Image, ok bool) {
	if itemRef == "" {
		return nil, false
	}
	key := strings.ToLower(itemRef)

	if raw, hit := l.memory.Get(key); hit {
		l.recordFetch("hit")
		decoded, err := png.Decode(bytes.NewReader(raw))
		if err != nil {
			return nil, false
		}
		return decoded, true
	}

	if raw, hit := l.readDisk(key); hit {
		l.addMemory(key, raw)
		l.recordFetch("hit")
		decoded, err := png.Decode(bytes.NewReader(raw))
		if err != nil {
			return nil, false
		}
		return decoded, true
	}

	raw, ok := l.fetchOrigin(ctx, itemRef)
	if !ok {
		l.recordFetch("error")
		return nil, false
	}
	l.recordFetch("fetched")
	l.addMemory(key, raw)
	go l.writeDiskAsync(key, raw)

	decoded, err := png.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, false
	}
	return decoded, true
}

func (l *Loader) diskPath(key string) string {
	sum := md5.Sum([]byte(key))
	return filepath.Join(l.diskRoot, hex.EncodeToString(sum[:])+".png")
}

func (l *Loader) readDisk(key string) ([]byte, bool) {
	data, err := os.ReadFile(l.diskPath(key))
	if err != nil {
		return nil, false
	}
	return data, true
}

// writeDiskAsync is fire-and-forget: a failed part-cache write only
// costs a re-fetch next time.
func (l *Loader) writeDiskAsync(key string, raw []byte) {
	tmp := l.diskPath(key) + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		l.log.Warn().Err(err).Str("key", key).Msg("part disk cache write failed")
		return
	}
	if err := os.Rename(tmp, l.diskPath(key)); err != nil {
		l.log.Warn().Err(err).Str("key", key).Msg("part disk cache rename failed")
		os.Remove(tmp)
	}
}

func (l *Loader) fetchOrigin(ctx context.Context, itemRef string) ([]byte, bool) {
	ctx, span := tracing.StartPartFetchSpan(ctx, itemRef)
	defer span.End()

	if l.cb != nil && !l.cb.Allow() {
		return nil, false
	}
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return nil, false
	}
	defer l.sem.Release(1)

	url := fmt.Sprintf("%s/item-sprite/%s.webp", l.cdnBase, itemRef)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		tracing.RecordError(ctx, err)
		l.recordFailure()
		return nil, false
	}
	tracing.InjectHeaders(ctx, req)

	resp, err := l.client.Do(req)
	if err != nil {
		l.recordFailure()
		return nil, false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		l.recordFailure()
		return nil, false
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		l.recordFailure()
		return nil, false
	}

	decoded, err := webp.Decode(bytes.NewReader(body))
	if err != nil {
		l.recordFailure()
		return nil, false
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, decoded); err != nil {
		l.recordFailure()
		return nil, false
	}

	l.recordSuccess()
	return buf.Bytes(), true
}

func (l *Loader) recordFetch(outcome string) {
	if l.metrics != nil {
		l.metrics.RecordPartFetch(outcome)
	}
}

func (l *Loader) recordSuccess() {
	if l.cb != nil {
		l.cb.RecordSuccess()
	}
}

func (l *Loader) recordFailure() {
	if l.cb != nil {
		l.cb.RecordFailure()
	}
}
