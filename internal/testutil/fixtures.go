package testutil

import (
	"image"
	"image/color"

	"github.com/allaspectsdev/avatarforge/internal/avatar"
)

// SampleCustomization returns a minimal customization with hair and top
// slots filled.
func SampleCustomization(hairItem, topItem string) avatar.Customization {
	var c avatar.Customization
	c.Sex = avatar.SexFemale
	c.BodyVariant = 0
	c.SkinTone = 2
	c.Slots[avatar.SlotHair] = avatar.Slot{Item: hairItem}
	c.Slots[avatar.SlotTop] = avatar.Slot{Item: topItem}
	return c
}

// SampleUser returns a User projection with the given username and
// customization, with no previously rendered object keys.
func SampleUser(username string, c avatar.Customization) *avatar.User {
	return &avatar.User{
		Username:      username,
		Customization: c,
	}
}

// SampleItem returns an Item projection with the given description
// flags ("!x" for shoes-behind-pants, "!s" for hair-in-front).
func SampleItem(id, description string) *avatar.Item {
	return &avatar.Item{ID: id, Description: description}
}

// SolidRaster returns a 425x850 single-frame raster filled with c, used
// wherever a test needs a part image without exercising the real CDN
// decode path.
func SolidRaster(c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, 425, 850))
	for y := 0; y < 850; y++ {
		for x := 0; x < 425; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}
