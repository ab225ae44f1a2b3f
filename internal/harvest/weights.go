package harvest

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Packaging formats, "<bottles per carton>x<centilitres>".
const (
	Format12x33 = "12x33"
	Format6x75  = "6x75"
	Format4x75  = "4x75"
)

// EmptyPalletWeight is the tare of one pallet in kilograms.
const EmptyPalletWeight = 25.0

var cartonWeights = map[string]float64{
	Format12x33: 6.741,
	Format6x75:  7.23,
	Format4x75:  4.68,
}

// Keyword overrides matched against the canonical product label.
var cartonWeightOverrides = map[string]map[string]float64{
	Format6x75: {"niko": 6.84},
}

var palletCapacities = map[string]int{
	Format12x33: 126,
	Format6x75:  96,
	Format4x75:  112,
}

var palletCapacityOverrides = map[string]map[string]int{
	Format6x75: {"niko": 84},
}

// FormatKey normalises "12x33cl", "12 x 33" and friends to "12x33".
func FormatKey(format string) string {
	k := strings.ToLower(format)
	k = strings.ReplaceAll(k, "cl", "")
	k = strings.ReplaceAll(k, "×", "x")
	return strings.Join(strings.Fields(k), "")
}

var nonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

// StripAccents removes combining marks: "Kéfir Pêche" becomes "Kefir Peche".
func StripAccents(s string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// Canon lowercases, strips accents and collapses everything that is not a
// letter or digit into single spaces.
func Canon(s string) string {
	s = strings.ToLower(StripAccents(s))
	s = nonAlnum.ReplaceAllString(s, " ")
	return strings.Join(strings.Fields(s), " ")
}

// CartonWeight returns the weight in kg of one carton of product in format,
// or 0 for an unknown format.
func CartonWeight(format, product string) float64 {
	key := FormatKey(format)
	label := Canon(product)
	for kw, w := range cartonWeightOverrides[key] {
		if strings.Contains(label, kw) {
			return w
		}
	}
	return cartonWeights[key]
}

// PalletCapacity returns how many cartons fit on one pallet, or 0 when unknown.
func PalletCapacity(format, product string) int {
	key := FormatKey(format)
	label := Canon(product)
	for kw, c := range palletCapacityOverrides[key] {
		if strings.Contains(label, kw) {
			return c
		}
	}
	return palletCapacities[key]
}
