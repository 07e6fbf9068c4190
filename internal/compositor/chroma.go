package compositor

import (
	"image"
	"image/color"
)

// Target chroma-key color and per-channel tolerance for the legacy
// mask mode: (0, 255, 4) with tolerance (±50, ±150, ±50).
const (
	chromaTargetR = 0
	chromaTargetG = 255
	chromaTargetB = 4

	chromaToleranceR = 50
	chromaToleranceG = 150
	chromaToleranceB = 50
)

// inChromaBox reports whether (r, g, b) (8-bit channels) falls within
// the chroma-key target color's per-channel tolerance box.
func inChromaBox(r, g, b uint8) bool {
	return within(int(r), chromaTargetR, chromaToleranceR) &&
		within(int(g), chromaTargetG, chromaToleranceG) &&
		within(int(b), chromaTargetB, chromaToleranceB)
}

func within(v int, target, tolerance int) bool {
	lo, hi := target-tolerance, target+tolerance
	return v >= lo && v <= hi
}

// applyChromaMask erases pixels of src wherever the corresponding
// fully-opaque pixel of mask falls inside the chroma-key color box. If
// mask is nil, src erases its own matching pixels (the single-image
// form). The result is a new image; src is never mutated.
func applyChromaMask(src, mask image.Image) image.Image {
	b := src.Bounds()
	out := image.NewRGBA(b)

	maskSrc := mask
	if maskSrc == nil {
		maskSrc = src
	}

	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			mr, mg, mb, ma := maskSrc.At(x, y).RGBA()
			sr, sg, sb, sa := src.At(x, y).RGBA()

			erase := ma>>8 == 0xff && inChromaBox(uint8(mr>>8), uint8(mg>>8), uint8(mb>>8))
			if erase {
				out.Set(x, y, color.RGBA{})
				continue
			}
			out.SetRGBA(x, y, color.RGBA{
				R: uint8(sr >> 8),
				G: uint8(sg >> 8),
				B: uint8(sb >> 8),
				A: uint8(sa >> 8),
			})
		}
	}
	return out
}
