// Package objectstore implements the remote object store client: an
// S3-API-compatible PUT/GET/HEAD/signed-GET client for DigitalOcean
// Spaces. No repository in the example pack imports a ready-made S3
// SDK, so this client is hand-rolled against net/http and stdlib
// crypto/hmac + crypto/sha256 for AWS SigV4 request signing — the one
// genuinely stdlib-grounded piece of the domain stack (see DESIGN.md).
package objectstore

import (
	"context"
	"time"
)

// Store is the contract the result cache, the renderer
// (handler.Renderer), and the request handler depend on. The production implementation is
// *Client; tests use an in-memory fake (see fake.go).
type Store interface {
	Put(ctx context.Context, key string, body []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Head(ctx context.Context, key string) (bool, error)
	SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// Object key helpers for the user-keyed bucket layout.
func UserAvatarKey(username string) string    { return "user-avatar/" + username + ".webp" }
func UserClothingKey(username string) string  { return "user-clothing/" + username + ".webp" }
func UserThumbnailKey(username string) string { return "user-thumbnail/" + username + ".webp" }
