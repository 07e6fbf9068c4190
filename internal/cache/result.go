// Package cache implements the result cache: three tiers
// consulted in read order (memory, local disk, remote object store),
// each entry valid only when its stored customization hash matches the
// current fingerprint. The memory tier is an LRU with an
// access-refreshed TTL on top, bounded by entries and bytes.
package cache

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"

	"github.com/allaspectsdev/avatarforge/internal/objectstore"
)

// Tier identifies which cache tier served a read, for metrics and the
// X-Cache response header.
type Tier string

const (
	TierMemory Tier = "memory"
	TierDisk   Tier = "disk"
	TierRemote Tier = "remote"
	TierMiss   Tier = "miss"
)

const (
	memoryMaxEntries = 50
	memoryMaxBytes   = 50 << 20
	memoryTTL        = time.Hour
	diskRetention    = 7 * 24 * time.Hour
)

type memoryEntry struct {
	bytes     []byte
	hash      uint32
	expiresAt time.Time
	size      int
}

// ResultCache is the three-tier result cache.
type ResultCache struct {
	mu        sync.Mutex
	memory    *lru.Cache[uint32, *memoryEntry]
	memBytes  int
	maxBytes  int
	ttl       time.Duration
	retention time.Duration
	diskRoot  string
	store     objectstore.Store
	log       zerolog.Logger
}

// Config holds ResultCache construction parameters. Zero values fall
// back to the built-in defaults (50 entries, 50 MiB, 1h TTL, 7-day disk
// retention).
type Config struct {
	DiskRoot      string
	Store         objectstore.Store
	MemoryEntries int
	MemoryBytes   int
	MemoryTTL     time.Duration
	DiskRetention time.Duration
	Logger        zerolog.Logger
}

// New builds a ResultCache.
func New(cfg Config) (*ResultCache, error) {
	if cfg.MemoryEntries <= 0 {
		cfg.MemoryEntries = memoryMaxEntries
	}
	if cfg.MemoryBytes <= 0 {
		cfg.MemoryBytes = memoryMaxBytes
	}
	if cfg.MemoryTTL <= 0 {
		cfg.MemoryTTL = memoryTTL
	}
	if cfg.DiskRetention <= 0 {
		cfg.DiskRetention = diskRetention
	}
	if err := os.MkdirAll(filepath.Join(cfg.DiskRoot, "avatars"), 0o755); err != nil {
		return nil, fmt.Errorf("creating result cache dir: %w", err)
	}
	rc := &ResultCache{
		maxBytes:  cfg.MemoryBytes,
		ttl:       cfg.MemoryTTL,
		retention: cfg.DiskRetention,
		diskRoot:  cfg.DiskRoot,
		store:     cfg.Store,
		log:       cfg.Logger,
	}
	// The evict callback keeps memBytes honest for every removal path
	// (LRU eviction from Add, Remove, RemoveOldest, Purge); it runs
	// synchronously under the same c.mu its callers already hold.
	c, err := lru.NewWithEvict[uint32, *memoryEntry](cfg.MemoryEntries, func(_ uint32, e *memoryEntry) {
		rc.memBytes -= e.size
	})
	if err != nil {
		return nil, fmt.Errorf("creating result memory cache: %w", err)
	}
	rc.memory = c
	return rc, nil
}

// GetAvatar looks up the avatar bytes for a fingerprint across all
// three tiers in read order, returning the tier that served it. A hit
// is only valid if its stored hash equals fingerprint; a mismatch
// counts as a miss so stale bytes are never served directly.
func (c *ResultCache) GetAvatar(ctx context.Context, username string, fingerprint uint32) ([]byte, Tier, bool) {
	if b, ok := c.getMemory(fingerprint); ok {
		return b, TierMemory, true
	}

	if b, ok := c.getDisk(fingerprint); ok {
		c.putMemory(fingerprint, b)
		return b, TierDisk, true
	}

	// The remote tier is keyed by username, not fingerprint: its
	// validity rests on the caller already having confirmed
	// user.customizationHash == fingerprint before reaching this tier,
	// so a plain existence read is sufficient here.
	if c.store != nil {
		key := objectstore.UserAvatarKey(username)
		if b, ok, err := c.store.Get(ctx, key); err == nil && ok {
			c.putMemory(fingerprint, b)
			go c.writeDiskAsync(fingerprint, b)
			return b, TierRemote, true
		}
	}

	return nil, TierMiss, false
}

func (c *ResultCache) getMemory(fp uint32) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.memory.Get(fp)
	if !ok {
		return nil, false
	}
	if time.Now().After(e.expiresAt) {
		c.memory.Remove(fp)
		return nil, false
	}
	e.expiresAt = time.Now().Add(c.ttl) // access-refresh
	return e.bytes, true
}

func (c *ResultCache) putMemory(fp uint32, b []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.memory.Remove(fp) // drop any stale entry so its bytes are released first
	for c.memBytes+len(b) > c.maxBytes && c.memory.Len() > 0 {
		if _, _, ok := c.memory.RemoveOldest(); !ok {
			break
		}
	}

	c.memory.Add(fp, &memoryEntry{
		bytes:     b,
		hash:      fp,
		expiresAt: time.Now().Add(c.ttl),
		size:      len(b),
	})
	c.memBytes += len(b)
}

func (c *ResultCache) diskPath(fp uint32) string {
	return filepath.Join(c.diskRoot, "avatars", strconv.FormatUint(uint64(fp), 10)+".webp")
}

func (c *ResultCache) getDisk(fp uint32) ([]byte, bool) {
	data, err := os.ReadFile(c.diskPath(fp))
	if err != nil {
		return nil, false
	}
	return data, true
}

func (c *ResultCache) writeDiskAsync(fp uint32, b []byte) {
	if err := c.writeDisk(fp, b); err != nil {
		c.log.Warn().Err(err).Uint32("fingerprint", fp).Msg("result disk cache write failed")
	}
}

func (c *ResultCache) writeDisk(fp uint32, b []byte) error {
	path := c.diskPath(fp)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Put writes a freshly rendered avatar into the memory and disk tiers.
// Remote-tier and user-record writes are the caller's
// (handler.Renderer's) responsibility, per the write policy's
// serialized disk-then-remote-then-record ordering.
func (c *ResultCache) Put(fp uint32, avatarBytes []byte) error {
	c.putMemory(fp, avatarBytes)
	return c.writeDisk(fp, avatarBytes)
}

// PurgeAll clears the memory tier and removes all disk entries. Used
// by the /clear-cache handler. Remote objects are left untouched, so a
// request whose user record hash still matches its fingerprint is
// served again from the remote tier.
func (c *ResultCache) PurgeAll() error {
	c.mu.Lock()
	c.memory.Purge()
	c.memBytes = 0
	c.mu.Unlock()

	entries, err := os.ReadDir(filepath.Join(c.diskRoot, "avatars"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, e := range entries {
		os.Remove(filepath.Join(c.diskRoot, "avatars", e.Name()))
	}
	return nil
}

// Sweep removes disk entries older than the retention window.
// Intended to run once per day from a background goroutine.
func (c *ResultCache) Sweep() {
	dir := filepath.Join(c.diskRoot, "avatars")
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	cutoff := time.Now().Add(-c.retention)
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			os.Remove(filepath.Join(dir, e.Name()))
		}
	}
}

// StartSweeper runs Sweep once per day until ctx is cancelled,
// recovering from panics per iteration so a bad sweep cannot take the
// process down, and returns a channel closed once the loop exits.
func (c *ResultCache) StartSweeper(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.sweepRecovering()
			}
		}
	}()
	return done
}

func (c *ResultCache) sweepRecovering() {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error().Interface("panic", r).Msg("result cache sweeper panic recovered")
		}
	}()
	c.Sweep()
}
