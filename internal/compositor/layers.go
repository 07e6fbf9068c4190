package compositor

// Layer names. The 26 named customization slots use avatar.SlotName's
// String() form directly as their layer-map key; the five pseudo-layers
// and the body base are compositor-specific and listed here.
const (
	LayerBase         = "base"
	LayerTattoos      = "tattoos"
	LayerShoesBefore  = "shoes_before"
	LayerShoesAfter   = "shoes_after"
	LayerHairBehind   = "hair_behind"
	LayerHairInFront  = "hair_in_front"
)

// Direction indices, per the fixed direction-to-orientation table:
// 0 front, 1 side-left, 2 three-quarter-left, 3 back, 4 side-right,
// 5 three-quarter-right.
const (
	DirFront             = 0
	DirSideLeft          = 1
	DirThreeQuarterLeft  = 2
	DirBack              = 3
	DirSideRight         = 4
	DirThreeQuarterRight = 5
)

// orderFront is the front-facing (direction 0) bottom-to-top z-order.
var orderFront = []string{
	LayerBase,
	LayerTattoos,
	"socks",
	LayerShoesBefore,
	"bottom",
	LayerShoesAfter,
	"belt",
	"top",
	"coat",
	"bracelets",
	"gloves",
	"necklace",
	"neckwear",
	"bag",
	"wings",
	LayerHairBehind,
	"head",
	"beard",
	"mouth",
	"nose",
	"eyes",
	"eyebrows",
	"makeup",
	"piercings",
	"earPiece",
	"glasses",
	"horns",
	"hat",
	LayerHairInFront,
	"handheld",
}

// orderSides is used for directions 1 and 4 (side-left, side-right).
// Wings are drawn before the coat (so a profile silhouette shows wings
// tucked behind outerwear) and handheld items move earlier, ahead of
// gloves, since a held object in profile sits in front of the forearm
// but behind the body's far-side accessories.
var orderSides = []string{
	LayerBase,
	LayerTattoos,
	"socks",
	LayerShoesBefore,
	"bottom",
	LayerShoesAfter,
	"belt",
	"top",
	"wings",
	"coat",
	"handheld",
	"bracelets",
	"gloves",
	"necklace",
	"neckwear",
	"bag",
	LayerHairBehind,
	"head",
	"beard",
	"mouth",
	"nose",
	"eyes",
	"eyebrows",
	"makeup",
	"piercings",
	"earPiece",
	"glasses",
	"horns",
	"hat",
	LayerHairInFront,
}

// orderThreeQuarters is used for directions 2 and 5
// (three-quarter-left, three-quarter-right). Handheld items are drawn
// earlier still, behind the torso layers, since a three-quarter view
// foreshortens a held object against the body.
var orderThreeQuarters = []string{
	LayerBase,
	LayerTattoos,
	"handheld",
	"socks",
	LayerShoesBefore,
	"bottom",
	LayerShoesAfter,
	"belt",
	"top",
	"wings",
	"coat",
	"bracelets",
	"gloves",
	"necklace",
	"neckwear",
	"bag",
	LayerHairBehind,
	"head",
	"beard",
	"mouth",
	"nose",
	"eyes",
	"eyebrows",
	"makeup",
	"piercings",
	"earPiece",
	"glasses",
	"horns",
	"hat",
	LayerHairInFront,
}

// orderBack is used for direction 3 (back). Face-only slots (eyes,
// eyebrows, makeup, mouth, nose, piercings, glasses) are omitted from
// occlusion-sensitive positions but still drawn — the part asset
// itself is expected to be empty/transparent from the back, so leaving
// them in the table is harmless and keeps the table shape uniform with
// the other three.
var orderBack = []string{
	LayerBase,
	LayerTattoos,
	"socks",
	LayerShoesBefore,
	"bottom",
	LayerShoesAfter,
	"belt",
	"bag",
	"top",
	"coat",
	"wings",
	"bracelets",
	"gloves",
	"necklace",
	"neckwear",
	LayerHairBehind,
	"head",
	"beard",
	"mouth",
	"nose",
	"eyes",
	"eyebrows",
	"makeup",
	"piercings",
	"earPiece",
	"glasses",
	"horns",
	"hat",
	LayerHairInFront,
	"handheld",
}

// orderForDirection returns the z-order table for the given direction
// index; four distinct orders exist (front / sides / three-quarters /
// back).
func orderForDirection(direction int) []string {
	switch direction {
	case DirFront:
		return orderFront
	case DirSideLeft, DirSideRight:
		return orderSides
	case DirThreeQuarterLeft, DirThreeQuarterRight:
		return orderThreeQuarters
	case DirBack:
		return orderBack
	default:
		return orderFront
	}
}
