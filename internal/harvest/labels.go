package harvest

import (
	"regexp"
	"strconv"
	"strings"
)

var degreeSuffix = regexp.MustCompile(`\s*-\s*\d+[.,]?\d*\s*°\s*$`)

// CleanProductLabel drops the trailing alcohol degree the brewery API appends:
// "Kéfir Pêche - 0.0°" becomes "Kéfir Pêche".
func CleanProductLabel(label string) string {
	label = strings.TrimSpace(label)
	return strings.TrimSpace(degreeSuffix.ReplaceAllString(label, ""))
}

var flavorPrefixes = []string{
	"Infusion de Kéfir de fruits",
	"Infusion de Kéfir",
	"Infusion probiotique",
	"Kéfir de fruits",
	"Kéfir",
}

// ExtractFlavor returns the flavour part of a product label:
// "Kéfir Gingembre" gives "Gingembre".
func ExtractFlavor(label string) string {
	label = CleanProductLabel(label)
	lower := strings.ToLower(label)
	for _, p := range flavorPrefixes {
		if strings.HasPrefix(lower, strings.ToLower(p)) {
			return strings.TrimSpace(label[len(p):])
		}
	}
	return label
}

var (
	vol33      = regexp.MustCompile(`33\s*c?l`)
	vol75      = regexp.MustCompile(`75\s*c?l`)
	packCount  = regexp.MustCompile(`(?:carton|pack)\s*de\s*(12|6|4)\b`)
	looseCount = regexp.MustCompile(`\b(12|6|4)\b`)
)

// FormatFromStock detects one of the known formats in a stock or packaging
// label such as "Carton de 12 - 33cl". It returns "" when nothing matches.
func FormatFromStock(text string) string {
	if text == "" {
		return ""
	}
	s := strings.ToLower(text)
	s = strings.ReplaceAll(s, "×", "x")
	s = strings.ReplaceAll(s, "\u00a0", " ")

	vol := 0
	switch {
	case strings.Contains(s, "0.33") || vol33.MatchString(s):
		vol = 33
	case strings.Contains(s, "0.75") || vol75.MatchString(s):
		vol = 75
	}

	n := 0
	m := packCount.FindStringSubmatch(s)
	if m == nil {
		m = looseCount.FindStringSubmatch(s)
	}
	if m != nil {
		n, _ = strconv.Atoi(m[1])
	}

	switch {
	case vol == 33 && n == 12:
		return Format12x33
	case vol == 75 && n == 6:
		return Format6x75
	case vol == 75 && n == 4:
		return Format4x75
	}
	return ""
}

// DisplayLabel is the product column text: "Kéfir Gingembre — 12x33cl".
func DisplayLabel(product, format string) string {
	return CleanProductLabel(product) + " — " + FormatKey(format) + "cl"
}
