package objectstore

import (
	"net/http"
	"testing"
	"time"
)

func TestSignAddsAuthorizationHeader(t *testing.T) {
	signer := newSigV4Signer("AKIDEXAMPLE", "secret", "us-east-1")
	req, err := http.NewRequest(http.MethodGet, "https://example.digitaloceanspaces.com/bucket/key.webp", nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}

	signer.sign(req, emptyPayload, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	if req.Header.Get("Authorization") == "" {
		t.Fatalf("expected Authorization header to be set")
	}
	if req.Header.Get("x-amz-date") == "" {
		t.Fatalf("expected x-amz-date header to be set")
	}
}

func TestSignIsDeterministic(t *testing.T) {
	signer := newSigV4Signer("AKIDEXAMPLE", "secret", "us-east-1")
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	req1, _ := http.NewRequest(http.MethodGet, "https://example.digitaloceanspaces.com/bucket/key.webp", nil)
	signer.sign(req1, emptyPayload, now)

	req2, _ := http.NewRequest(http.MethodGet, "https://example.digitaloceanspaces.com/bucket/key.webp", nil)
	signer.sign(req2, emptyPayload, now)

	if req1.Header.Get("Authorization") != req2.Header.Get("Authorization") {
		t.Fatalf("expected identical signatures for identical requests at the same instant")
	}
}

func TestFakeStoreRoundTrip(t *testing.T) {
	f := NewFake()
	ctx := t.Context()

	if ok, _ := f.Head(ctx, "user-avatar/alice.webp"); ok {
		t.Fatalf("expected missing object to report absent")
	}

	if err := f.Put(ctx, UserAvatarKey("alice"), []byte("bytes"), "image/webp"); err != nil {
		t.Fatalf("Put: %v", err)
	}

	b, ok, err := f.Get(ctx, UserAvatarKey("alice"))
	if err != nil || !ok {
		t.Fatalf("expected Get to find the object, err=%v ok=%v", err, ok)
	}
	if string(b) != "bytes" {
		t.Fatalf("unexpected bytes: %s", b)
	}

	url, err := f.SignedURL(ctx, UserAvatarKey("alice"), time.Minute)
	if err != nil {
		t.Fatalf("SignedURL: %v", err)
	}
	if url == "" {
		t.Fatalf("expected non-empty signed URL")
	}
}
