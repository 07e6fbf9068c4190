package handler

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/allaspectsdev/avatarforge/internal/avatar"
	"github.com/allaspectsdev/avatarforge/internal/breaker"
	"github.com/allaspectsdev/avatarforge/internal/cache"
	"github.com/allaspectsdev/avatarforge/internal/fingerprint"
	"github.com/allaspectsdev/avatarforge/internal/metrics"
	"github.com/allaspectsdev/avatarforge/internal/objectstore"
	"github.com/allaspectsdev/avatarforge/internal/render"
	"github.com/allaspectsdev/avatarforge/internal/userstore"
	"github.com/allaspectsdev/avatarforge/web"
)

// signedURLTTL bounds how long a redirect to the remote object store
// stays valid.
const signedURLTTL = 5 * time.Minute

// Service implements the request handler: it wires the fingerprinter,
// result cache, object store, and render coordinator together behind
// the single GetAvatar operation.
type Service struct {
	Users       *userstore.Store
	Results     *cache.ResultCache
	Store       objectstore.Store
	Coordinator *render.Coordinator
	Metrics     *metrics.Collector // optional; nil-safe
	Log         zerolog.Logger
}

func priorityFor(v ViewType) render.Priority {
	switch v {
	case ViewThumbnail:
		return render.PriorityThumbnail
	case ViewSprite:
		return render.PrioritySprite
	default:
		return render.PriorityAvatar
	}
}

func remoteKeyFor(v ViewType, username string) string {
	switch v {
	case ViewSprite:
		return objectstore.UserClothingKey(username)
	case ViewThumbnail:
		return objectstore.UserThumbnailKey(username)
	default:
		return objectstore.UserAvatarKey(username)
	}
}

// GetAvatar is the public operation: resolve a (username, type)
// request to raw bytes, a signed redirect, a not-found, or a
// structured error.
func (s *Service) GetAvatar(ctx context.Context, rawType, rawUsername string) *Response {
	viewType, ok := normalizeViewType(rawType)
	if !ok || !validUsername(rawUsername) {
		return &Response{Kind: ResponseError, Err: ErrInvalidRequest}
	}
	username := rawUsername

	user, err := s.Users.GetUser(username)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return &Response{Kind: ResponseNotFound}
		}
		s.Log.Error().Err(err).Str("username", username).Msg("user lookup failed")
		return &Response{Kind: ResponseError, Err: ErrInternal}
	}

	fp := fingerprint.Fingerprint(username, &user.Customization)

	if user.CustomizationHash == fp {
		if resp := s.serveFresh(ctx, viewType, username, fp); resp != nil {
			return resp
		}
	}

	// Either the stored hash is stale, or the fresh lookup above missed
	// (e.g. the avatar's disk/memory/remote tiers were all empty).
	// When a render for this fingerprint is already in flight and the
	// user has objects from a previous render, serve those instead of
	// attaching to the job; the caches pick up the fresh bytes once
	// it lands.
	if user.CustomizationHash != fp && user.HasPreviousRender() && s.Coordinator.InFlight(username, fp) {
		return s.redirectToPrevious(user, viewType)
	}

	job, subErr := s.Coordinator.Submit(ctx, username, fp, priorityFor(viewType))
	if subErr != nil {
		return s.handleSubmitFailure(subErr, user, viewType)
	}
	_ = job

	// The render succeeded; the tiers/remote objects are now populated.
	if resp := s.serveFresh(ctx, viewType, username, fp); resp != nil {
		return resp
	}
	s.Log.Error().Str("username", username).Msg("render reported success but produced no servable result")
	return &Response{Kind: ResponseError, Err: ErrInternal}
}

// serveFresh serves a request whose stored hash already matches: for
// sprite/thumbnail, a signed redirect if the remote object exists; for
// avatar, the first cache-tier hit. Returns nil if nothing was found
// (a genuine miss, not an error).
func (s *Service) serveFresh(ctx context.Context, viewType ViewType, username string, fp uint32) *Response {
	switch viewType {
	case ViewSprite, ViewThumbnail:
		key := remoteKeyFor(viewType, username)
		exists, err := s.Store.Head(ctx, key)
		if err != nil || !exists {
			return nil
		}
		url, err := s.Store.SignedURL(ctx, key, signedURLTTL)
		if err != nil {
			s.Log.Warn().Err(err).Str("key", key).Msg("failed to sign redirect URL")
			return nil
		}
		return &Response{Kind: ResponseRedirect, RedirectURL: url}
	default:
		b, tier, ok := s.Results.GetAvatar(ctx, username, fp)
		if !ok {
			if s.Metrics != nil {
				s.Metrics.RecordCacheMiss()
			}
			return nil
		}
		if s.Metrics != nil {
			s.Metrics.RecordCacheHit(string(tier))
		}
		return &Response{Kind: ResponseBytes, Body: b, ContentType: "image/webp", CacheTier: string(tier)}
	}
}

// handleSubmitFailure maps a failed/overloaded Submit call to a
// response, preferring the user's previous render as a fallback
// wherever one exists.
func (s *Service) handleSubmitFailure(err error, user *avatar.User, viewType ViewType) *Response {
	if errors.Is(err, render.ErrOverloaded) {
		if user.HasPreviousRender() {
			return s.redirectToPrevious(user, viewType)
		}
		return defaultAssetResponse(viewType)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		if user.HasPreviousRender() {
			return s.redirectToPrevious(user, viewType)
		}
		return &Response{Kind: ResponseError, Err: ErrTimeout}
	}
	if errors.Is(err, render.ErrJobTimeout) {
		if user.HasPreviousRender() {
			return s.redirectToPrevious(user, viewType)
		}
		return &Response{Kind: ResponseError, Err: ErrTimeout}
	}
	if errors.Is(err, breaker.ErrOpen) {
		if user.HasPreviousRender() {
			return s.redirectToPrevious(user, viewType)
		}
		return &Response{Kind: ResponseError, Err: ErrDependencyOpen}
	}
	// Any other failure here is an upstream error that already burned
	// its retries: fall back to the previous render if one exists,
	// otherwise surface it as transient so the client knows to retry.
	if user.HasPreviousRender() {
		return s.redirectToPrevious(user, viewType)
	}
	s.Log.Error().Err(err).Str("username", user.Username).Msg("render failed with no previous object to fall back to")
	return &Response{Kind: ResponseError, Err: ErrTransient}
}

func (s *Service) redirectToPrevious(user *avatar.User, viewType ViewType) *Response {
	key := previousKeyFor(user, viewType)
	if key == "" {
		return defaultAssetResponse(viewType)
	}
	url, err := s.Store.SignedURL(context.Background(), key, signedURLTTL)
	if err != nil {
		return defaultAssetResponse(viewType)
	}
	return &Response{Kind: ResponseRedirect, RedirectURL: url}
}

func previousKeyFor(user *avatar.User, viewType ViewType) string {
	switch viewType {
	case ViewSprite:
		return user.ClothingKey
	case ViewThumbnail:
		return user.ThumbnailKey
	default:
		return user.AvatarKey
	}
}

func defaultAssetResponse(viewType ViewType) *Response {
	b := web.DefaultAvatar
	switch viewType {
	case ViewSprite:
		b = web.DefaultSprite
	case ViewThumbnail:
		b = web.DefaultThumbnail
	}
	return &Response{Kind: ResponseBytes, Body: b, ContentType: "image/webp", CacheTier: "default"}
}
