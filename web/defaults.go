// Package web holds the small set of built-in assets the service
// ships with: the default avatar/sprite/thumbnail rasters served when
// the render queue is overloaded and a user has no previous render to
// fall back to. Rather than embedding pre-authored
// binary WebP files, the defaults are solid-color placeholders
// generated once at package init time with the same nativewebp encoder
// the compositor uses, sized to match the compositor's own frame and
// thumbnail dimensions.
package web

import (
	"bytes"
	"image"
	"image/color"

	"github.com/HugoSmits86/nativewebp"

	"github.com/allaspectsdev/avatarforge/internal/compositor"
)

var (
	// DefaultAvatar is the 425x850 placeholder served in place of a
	// front-facing avatar.
	DefaultAvatar []byte
	// DefaultSprite is the 2550x850 placeholder served in place of a
	// six-direction sprite sheet.
	DefaultSprite []byte
	// DefaultThumbnail is the 218x218 placeholder served in place of a
	// thumbnail crop.
	DefaultThumbnail []byte
)

// placeholderColor is a neutral mid-gray, opaque, so the default asset
// is visibly distinct from a transparent decode failure.
var placeholderColor = color.RGBA{R: 0x80, G: 0x80, B: 0x80, A: 0xff}

func init() {
	DefaultAvatar = mustEncode(compositor.FrameWidth, compositor.FrameHeight)
	DefaultSprite = mustEncode(compositor.SheetWidth, compositor.SheetHeight)
	DefaultThumbnail = mustEncode(compositor.ThumbnailSize, compositor.ThumbnailSize)
}

func mustEncode(w, h int) []byte {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, placeholderColor)
		}
	}
	var buf bytes.Buffer
	if err := nativewebp.Encode(&buf, img, nil); err != nil {
		panic("web: failed to encode default placeholder asset: " + err.Error())
	}
	return buf.Bytes()
}
