package objectstore

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Fake is an in-memory Store used by tests that don't want to stand up
// a real S3-compatible endpoint.
type Fake struct {
	mu      sync.Mutex
	objects map[string][]byte
}

// NewFake builds an empty Fake store.
func NewFake() *Fake {
	return &Fake{objects: make(map[string][]byte)}
}

func (f *Fake) Put(ctx context.Context, key string, body []byte, contentType string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]byte, len(body))
	copy(cp, body)
	f.objects[key] = cp
	return nil
}

func (f *Fake) Get(ctx context.Context, key string) ([]byte, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.objects[key]
	return b, ok, nil
}

func (f *Fake) Head(ctx context.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.objects[key]
	return ok, nil
}

func (f *Fake) SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	f.mu.Lock()
	_, ok := f.objects[key]
	f.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("object %s not found", key)
	}
	return fmt.Sprintf("https://fake.local/%s?ttl=%d", key, int(ttl.Seconds())), nil
}
