// Package compositor implements the layer compositor: a pure
// function from a map of loaded part rasters plus two layout flags to
// a six-direction sprite sheet, a front-facing avatar, and a 218x218
// thumbnail. Layers are stacked with draw.Draw(..., draw.Over) in a
// per-direction, per-slot z-order.
package compositor

import (
	"bytes"
	"image"
	"image/draw"

	"github.com/HugoSmits86/nativewebp"

	"github.com/allaspectsdev/avatarforge/internal/avatar"
)

const (
	FrameWidth  = 425
	FrameHeight = 850
	SheetWidth  = FrameWidth * 6
	SheetHeight = FrameHeight

	ThumbnailSize = 218
	thumbnailOffX = 103
	thumbnailOffY = 42
)

// LayerSet maps a layer name (a SlotName's String(), or one of the
// pseudo-layer constants in layers.go) to its loaded raster. A layer
// absent from the set is simply skipped when building the sheet.
type LayerSet map[string]image.Image

// Result holds the three deterministic outputs of one composite pass.
// The encoded outputs are lossless WebP: nativewebp emits VP8L only,
// which has no quality knob (see encodeWebP).
type Result struct {
	Sheet     *image.RGBA // 2550x850, 6 frames
	Avatar    []byte      // lossless WebP, front frame
	Thumbnail []byte      // lossless WebP, 218x218 crop of front frame
}

// Composite builds the sprite sheet from base plus the given layers,
// resolves the shoes/hair pseudo-layers per flags, folds the
// already-combined tattoo layer in at its fixed z-position, optionally
// applies the chroma-key mask, and derives the avatar and thumbnail
// crops. It is a pure function: the sheet, avatar bytes, and thumbnail
// bytes are all produced before this function returns, with no
// intermediate side effect.
func Composite(base image.Image, layers LayerSet, flags avatar.LayoutFlags, chroma avatar.ChromaKeyMode, maskLayers LayerSet) (*Result, error) {
	resolved := resolveLayerSet(base, layers, flags)

	sheet := image.NewRGBA(image.Rect(0, 0, SheetWidth, SheetHeight))

	for direction := 0; direction < 6; direction++ {
		order := orderForDirection(direction)
		destRect := image.Rect(direction*FrameWidth, 0, (direction+1)*FrameWidth, FrameHeight)

		for _, name := range order {
			src, ok := resolved[name]
			if !ok || src == nil {
				continue
			}
			frame := frameAt(src, direction)
			if chroma == avatar.ChromaKeyOn {
				if mask, hasMask := maskLayers[name]; hasMask {
					frame = applyChromaMask(frame, frameAt(mask, direction))
				}
			}
			draw.Draw(sheet, destRect, frame, frame.Bounds().Min, draw.Over)
		}
	}

	frontFrame := sheet.SubImage(image.Rect(0, 0, FrameWidth, FrameHeight)).(*image.RGBA)

	avatarBytes, err := encodeWebP(frontFrame)
	if err != nil {
		return nil, err
	}

	thumbRect := image.Rect(thumbnailOffX, thumbnailOffY, thumbnailOffX+ThumbnailSize, thumbnailOffY+ThumbnailSize)
	thumbSrc := frontFrame.SubImage(thumbRect).(*image.RGBA)
	thumbCanvas := image.NewRGBA(image.Rect(0, 0, ThumbnailSize, ThumbnailSize))
	draw.Draw(thumbCanvas, thumbCanvas.Bounds(), thumbSrc, thumbRect.Min, draw.Src)

	thumbBytes, err := encodeWebP(thumbCanvas)
	if err != nil {
		return nil, err
	}

	return &Result{Sheet: sheet, Avatar: avatarBytes, Thumbnail: thumbBytes}, nil
}

// resolveLayerSet copies layers, inserts the base body image, and
// resolves the shoes/hair pseudo-layers from their single source
// rasters per the layout flags. Exactly one of shoes_before/shoes_after
// and exactly one of hair_behind/hair_in_front is populated.
func resolveLayerSet(base image.Image, layers LayerSet, flags avatar.LayoutFlags) LayerSet {
	resolved := make(LayerSet, len(layers)+4)
	for k, v := range layers {
		resolved[k] = v
	}
	resolved[LayerBase] = base

	if shoes, ok := layers[avatar.SlotShoes.String()]; ok {
		delete(resolved, avatar.SlotShoes.String())
		if flags.ShoesBehindPants {
			resolved[LayerShoesBefore] = shoes
		} else {
			resolved[LayerShoesAfter] = shoes
		}
	}

	if hair, ok := layers[avatar.SlotHair.String()]; ok {
		delete(resolved, avatar.SlotHair.String())
		if flags.HairInFrontOfTop {
			resolved[LayerHairInFront] = hair
		} else {
			resolved[LayerHairBehind] = hair
		}
	}

	return resolved
}

// frameAt extracts the 425x850 frame for direction from src. A
// full-sheet raster is sliced at [direction*425, 0, 425, 850]; a
// single-frame raster is used as-is for every direction.
func frameAt(src image.Image, direction int) image.Image {
	b := src.Bounds()
	if b.Dx() == FrameWidth && b.Dy() == FrameHeight {
		return src
	}
	rgba := toRGBA(src)
	rect := image.Rect(b.Min.X+direction*FrameWidth, b.Min.Y, b.Min.X+(direction+1)*FrameWidth, b.Min.Y+FrameHeight)
	return rgba.SubImage(rect)
}

// toRGBA converts any image.Image into *image.RGBA so callers can rely
// on SubImage and direct pixel access.
func toRGBA(src image.Image) *image.RGBA {
	if rgba, ok := src.(*image.RGBA); ok {
		return rgba
	}
	b := src.Bounds()
	dst := image.NewRGBA(b)
	draw.Draw(dst, b, src, b.Min, draw.Src)
	return dst
}

// CombineTattoos folds the ten per-body-part tattoo rasters into a
// single straight-alpha sheet-sized layer, so the per-direction
// z-order tables can treat "tattoos" as one item. Missing sub-slots
// are skipped.
func CombineTattoos(slots [avatar.TattooSlotCount]image.Image) *image.RGBA {
	canvas := image.NewRGBA(image.Rect(0, 0, SheetWidth, SheetHeight))
	for _, src := range slots {
		if src == nil {
			continue
		}
		normalized := normalizeToSheet(src)
		draw.Draw(canvas, canvas.Bounds(), normalized, image.Point{}, draw.Over)
	}
	return canvas
}

// normalizeToSheet converts a frame-sized raster into a sheet-sized
// raster by repeating it into all six direction slots; a raster that
// is already sheet-sized is returned as-is (converted to RGBA).
func normalizeToSheet(src image.Image) *image.RGBA {
	b := src.Bounds()
	if b.Dx() == SheetWidth && b.Dy() == SheetHeight {
		return toRGBA(src)
	}
	canvas := image.NewRGBA(image.Rect(0, 0, SheetWidth, SheetHeight))
	for direction := 0; direction < 6; direction++ {
		dest := image.Rect(direction*FrameWidth, 0, (direction+1)*FrameWidth, FrameHeight)
		draw.Draw(canvas, dest, src, b.Min, draw.Over)
	}
	return canvas
}

// encodeWebP writes img as lossless WebP (VP8L). nativewebp has no
// lossy mode, so there is no quality parameter to pass; lossless
// output preserves every composited pixel exactly, at the cost of
// larger files than a lossy quality-95 encode would produce.
func encodeWebP(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := nativewebp.Encode(&buf, img, nil); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// EncodeWebP exposes the sheet/avatar/thumbnail encoder for callers
// that need to persist the raw sprite sheet itself (the clothing
// object in the remote store), which Composite does not return encoded.
func EncodeWebP(img image.Image) ([]byte, error) {
	return encodeWebP(img)
}
