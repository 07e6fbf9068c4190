package avatar

import "strings"

// ShoesBehindPants reports whether an item's description carries the
// "!x" flag, meaning the shoes layer renders behind the bottom layer
// instead of in front of it.
func ShoesBehindPants(description string) bool {
	return strings.Contains(description, "!x")
}

// HairInFrontOfTop reports whether an item's description carries the
// "!s" flag, meaning the hair layer renders in front of the top/coat
// layer instead of behind it.
func HairInFrontOfTop(description string) bool {
	return strings.Contains(description, "!s")
}

// ResolveLayoutFlags derives the two layout flags from the bottom and
// hair item descriptions. A missing item (empty description) defaults
// both flags to false, matching the propagation policy for
// item-description lookup failures.
func ResolveLayoutFlags(bottomDescription, hairDescription string) LayoutFlags {
	return LayoutFlags{
		ShoesBehindPants: ShoesBehindPants(bottomDescription),
		HairInFrontOfTop: HairInFrontOfTop(hairDescription),
	}
}
