package compositor

import (
	"bytes"
	"image"
	"image/color"
	"testing"

	"github.com/allaspectsdev/avatarforge/internal/avatar"
)

func solidFrame(c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, FrameWidth, FrameHeight))
	for y := 0; y < FrameHeight; y++ {
		for x := 0; x < FrameWidth; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func sampleLayers() (image.Image, LayerSet) {
	base := solidFrame(color.RGBA{R: 200, G: 180, B: 160, A: 255})
	layers := LayerSet{
		avatar.SlotTop.String():   solidFrame(color.RGBA{R: 10, G: 10, B: 200, A: 255}),
		avatar.SlotBottom.String(): solidFrame(color.RGBA{R: 20, G: 120, B: 20, A: 255}),
		avatar.SlotShoes.String():  solidFrame(color.RGBA{R: 80, G: 80, B: 80, A: 255}),
		avatar.SlotHair.String():   solidFrame(color.RGBA{R: 90, G: 60, B: 30, A: 255}),
	}
	return base, layers
}

func TestCompositeIsDeterministic(t *testing.T) {
	base, layers := sampleLayers()
	flags := avatar.LayoutFlags{}

	r1, err := Composite(base, layers, flags, avatar.ChromaKeyOff, nil)
	if err != nil {
		t.Fatalf("Composite: %v", err)
	}
	r2, err := Composite(base, layers, flags, avatar.ChromaKeyOff, nil)
	if err != nil {
		t.Fatalf("Composite: %v", err)
	}

	if !bytes.Equal(r1.Sheet.Pix, r2.Sheet.Pix) {
		t.Fatalf("expected identical sheet pixels across two composites")
	}
	if !bytes.Equal(r1.Avatar, r2.Avatar) {
		t.Fatalf("expected identical avatar bytes across two composites")
	}
	if !bytes.Equal(r1.Thumbnail, r2.Thumbnail) {
		t.Fatalf("expected identical thumbnail bytes across two composites")
	}
}

func TestCompositeOutputDimensions(t *testing.T) {
	base, layers := sampleLayers()
	r, err := Composite(base, layers, avatar.LayoutFlags{}, avatar.ChromaKeyOff, nil)
	if err != nil {
		t.Fatalf("Composite: %v", err)
	}
	if r.Sheet.Bounds().Dx() != SheetWidth || r.Sheet.Bounds().Dy() != SheetHeight {
		t.Fatalf("unexpected sheet size: %v", r.Sheet.Bounds())
	}
}

// TestShoesBehindPantsFlag verifies the occlusion scenario from the
// spec: with the flag set, bottom pixels that overlap shoes win; with
// it clear, shoes win.
func TestShoesBehindPantsFlag(t *testing.T) {
	base := solidFrame(color.RGBA{A: 255})
	bottomColor := color.RGBA{R: 255, A: 255}
	shoesColor := color.RGBA{G: 255, A: 255}

	layers := LayerSet{
		avatar.SlotBottom.String(): solidFrame(bottomColor),
		avatar.SlotShoes.String():  solidFrame(shoesColor),
	}

	behind, err := Composite(base, layers, avatar.LayoutFlags{ShoesBehindPants: true}, avatar.ChromaKeyOff, nil)
	if err != nil {
		t.Fatalf("Composite: %v", err)
	}
	px := behind.Sheet.RGBAAt(10, 10)
	if px != bottomColor {
		t.Fatalf("expected bottom to occlude shoes when ShoesBehindPants=true, got %+v", px)
	}

	front, err := Composite(base, layers, avatar.LayoutFlags{ShoesBehindPants: false}, avatar.ChromaKeyOff, nil)
	if err != nil {
		t.Fatalf("Composite: %v", err)
	}
	px2 := front.Sheet.RGBAAt(10, 10)
	if px2 != shoesColor {
		t.Fatalf("expected shoes to occlude bottom when ShoesBehindPants=false, got %+v", px2)
	}
}

func TestChromaMaskIdempotent(t *testing.T) {
	src := solidFrame(color.RGBA{R: 100, G: 100, B: 100, A: 255})
	mask := image.NewRGBA(image.Rect(0, 0, FrameWidth, FrameHeight))
	for y := 0; y < FrameHeight; y++ {
		for x := 0; x < FrameWidth; x++ {
			if x < FrameWidth/2 {
				mask.SetRGBA(x, y, color.RGBA{R: chromaTargetR, G: chromaTargetG, B: chromaTargetB, A: 255})
			} else {
				mask.SetRGBA(x, y, color.RGBA{R: 255, G: 255, B: 255, A: 255})
			}
		}
	}

	once := applyChromaMask(src, mask)
	twice := applyChromaMask(once, mask)

	onceRGBA := toRGBA(once)
	twiceRGBA := toRGBA(twice)
	if !bytes.Equal(onceRGBA.Pix, twiceRGBA.Pix) {
		t.Fatalf("expected applying the chroma mask twice to be idempotent")
	}
}

func TestCombineTattoosHandlesMissingSlots(t *testing.T) {
	var slots [avatar.TattooSlotCount]image.Image
	slots[avatar.TattooArmLeft] = solidFrame(color.RGBA{R: 50, A: 255})
	combined := CombineTattoos(slots)
	if combined.Bounds().Dx() != SheetWidth || combined.Bounds().Dy() != SheetHeight {
		t.Fatalf("unexpected combined tattoo sheet size: %v", combined.Bounds())
	}
}
