// Package handler implements the request handler: the public
// GetAvatar(username, type) resolution algorithm, the concrete render
// function that glues the part loader, compositor, result cache, and
// object store together for the render coordinator, and the chi-based
// HTTP surface.
package handler

import (
	"context"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/allaspectsdev/avatarforge/internal/avatar"
	"github.com/allaspectsdev/avatarforge/internal/cache"
	"github.com/allaspectsdev/avatarforge/internal/compositor"
	"github.com/allaspectsdev/avatarforge/internal/objectstore"
	"github.com/allaspectsdev/avatarforge/internal/part"
	"github.com/allaspectsdev/avatarforge/internal/tracing"
	"github.com/allaspectsdev/avatarforge/internal/userstore"
)

// Renderer glues the part loader, compositor, result cache, and
// object store together into the render.RenderFunc the coordinator
// invokes. It is the only package that imports all of
// these concrete dependencies, keeping internal/render mechanical and
// free of an import cycle.
type Renderer struct {
	Parts   *part.Loader
	Users   *userstore.Store
	Results *cache.ResultCache
	Store   objectstore.Store
	BaseDir string // directory containing _bases/<sex>_<skinTone>.png
	Log     zerolog.Logger
}

// Render implements render.RenderFunc: it loads every referenced part,
// composites the sprite sheet/avatar/thumbnail, and writes the result
// into the disk cache, the remote object store, and the user record,
// in that serialized order.
func (r *Renderer) Render(ctx context.Context, username string, fingerprint uint32) error {
	ctx, span := tracing.StartRenderSpan(ctx, username)
	defer span.End()
	tracing.SetRenderAttributes(ctx, fingerprint, "avatar", 1)

	user, err := r.Users.GetUser(username)
	if err != nil {
		tracing.RecordError(ctx, err)
		return fmt.Errorf("render %s: load user: %w", username, err)
	}

	base, err := r.loadBase(&user.Customization)
	if err != nil {
		tracing.RecordError(ctx, err)
		return fmt.Errorf("render %s: load base image: %w", username, err)
	}

	layers := r.loadLayers(ctx, &user.Customization)
	tattoos := r.loadTattoos(ctx, &user.Customization)
	layers[compositor.LayerTattoos] = compositor.CombineTattoos(tattoos)

	flags := r.resolveLayoutFlags(&user.Customization)

	result, err := compositor.Composite(base, layers, flags, user.Customization.ChromaKey, layers)
	if err != nil {
		tracing.RecordError(ctx, err)
		return fmt.Errorf("render %s: composite: %w", username, err)
	}

	sheetBytes, err := encodeSheet(result.Sheet)
	if err != nil {
		tracing.RecordError(ctx, err)
		return fmt.Errorf("render %s: encode sheet: %w", username, err)
	}

	// Disk first (fast path for this node), then remote (canonical
	// copy), then the user record.
	if err := r.Results.Put(fingerprint, result.Avatar); err != nil {
		r.Log.Warn().Err(err).Str("username", username).Msg("result disk cache write failed")
	}

	avatarKey := objectstore.UserAvatarKey(username)
	clothingKey := objectstore.UserClothingKey(username)
	thumbnailKey := objectstore.UserThumbnailKey(username)

	if err := r.Store.Put(ctx, avatarKey, result.Avatar, "image/webp"); err != nil {
		r.Log.Warn().Err(err).Str("username", username).Msg("remote avatar write failed")
		return nil // bytes were generated; a successful response is still owed to the client
	}
	if err := r.Store.Put(ctx, clothingKey, sheetBytes, "image/webp"); err != nil {
		r.Log.Warn().Err(err).Str("username", username).Msg("remote clothing write failed")
		return nil
	}
	if err := r.Store.Put(ctx, thumbnailKey, result.Thumbnail, "image/webp"); err != nil {
		r.Log.Warn().Err(err).Str("username", username).Msg("remote thumbnail write failed")
		return nil
	}

	if err := r.Users.RecordRender(username, fingerprint, avatarKey, clothingKey, thumbnailKey); err != nil {
		// customizationHash stays unchanged; the next request simply
		// re-renders.
		r.Log.Warn().Err(err).Str("username", username).Msg("user record update failed")
	}
	return nil
}

func (r *Renderer) loadBase(c *avatar.Customization) (image.Image, error) {
	name := fmt.Sprintf("%s_%d.png", c.Sex.String(), c.SkinTone)
	path := filepath.Join(r.BaseDir, "_bases", name)
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return png.Decode(f)
}

func (r *Renderer) loadLayers(ctx context.Context, c *avatar.Customization) compositor.LayerSet {
	layers := make(compositor.LayerSet, avatar.SlotCount)
	for i := 0; i < avatar.SlotCount; i++ {
		name := avatar.SlotName(i)
		slot := c.Slot(name)
		if slot.Empty() {
			continue
		}
		if img, ok := r.Parts.LoadPart(ctx, slot.Item); ok {
			layers[name.String()] = img
		}
	}
	return layers
}

func (r *Renderer) loadTattoos(ctx context.Context, c *avatar.Customization) [avatar.TattooSlotCount]image.Image {
	var out [avatar.TattooSlotCount]image.Image
	for i := 0; i < avatar.TattooSlotCount; i++ {
		slot := c.Tattoos.Slots[i]
		if slot.Empty() {
			continue
		}
		if img, ok := r.Parts.LoadPart(ctx, slot.Item); ok {
			out[i] = img
		}
	}
	return out
}

// resolveLayoutFlags looks up the bottom and hair items' descriptions
// to derive the two layout flags; a lookup failure defaults both flags
// to false.
func (r *Renderer) resolveLayoutFlags(c *avatar.Customization) avatar.LayoutFlags {
	bottomDesc := r.itemDescription(c.Slot(avatar.SlotBottom).Item)
	hairDesc := r.itemDescription(c.Slot(avatar.SlotHair).Item)
	return avatar.ResolveLayoutFlags(bottomDesc, hairDesc)
}

func (r *Renderer) itemDescription(itemID string) string {
	if itemID == "" {
		return ""
	}
	item, err := r.Users.GetItem(itemID)
	if err != nil {
		return ""
	}
	return item.Description
}

func encodeSheet(sheet image.Image) ([]byte, error) {
	return compositor.EncodeWebP(sheet)
}
