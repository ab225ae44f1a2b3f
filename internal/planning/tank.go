// Package planning holds the production-planning computations: tank volume
// with process losses, carton distribution between formats, packaging
// purchase coverage and FIFO lot allocation.
package planning

import (
	"math"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/dmitrijs2005/fermentstation/internal/brewery"
)

// Tank describes a fermentation tank. Volumes are in litres.
type Tank struct {
	ID           string  `json:"id"`
	Label        string  `json:"label"`
	Capacity     float64 `json:"capacity_l"`
	TransferLoss float64 `json:"transfer_loss_l"`
	BottlingLoss float64 `json:"bottling_loss_l"`
	Flavours     int     `json:"flavours"`
	NominalHL    float64 `json:"nominal_hl"`
}

var Tanks = []Tank{
	{ID: "cuve-7200", Label: "Cuve de 7200L (1 goût)", Capacity: 7200, TransferLoss: 400, BottlingLoss: 400, Flavours: 1, NominalHL: 64},
	{ID: "cuve-5200", Label: "Cuve de 5200L (1 goût)", Capacity: 5200, TransferLoss: 200, BottlingLoss: 200, Flavours: 1, NominalHL: 48},
}

func FindTank(id string) (Tank, bool) {
	for _, t := range Tanks {
		if t.ID == id {
			return t, true
		}
	}
	return Tank{}, false
}

// Aromatisation is the liquid added at the flavouring step of a recipe,
// Added litres for a batch of Reference litres. 1 kg counts as 1 L.
type Aromatisation struct {
	Added     float64 `json:"added_l"`
	Reference float64 `json:"reference_l"`
}

// AromatisationOf reads the first recipe. No recipe, no reference volume or
// no flavouring step gives the zero value.
func AromatisationOf(recipes []brewery.Recipe) Aromatisation {
	if len(recipes) == 0 || recipes[0].Volume <= 0 {
		return Aromatisation{}
	}
	r := recipes[0]
	a := Aromatisation{Reference: r.Volume}
	for _, ing := range r.Ingredients {
		if strings.Contains(fold(ing.Step.String()), "aromatisation") {
			a.Added += ing.Quantity
		}
	}
	return a
}

// VolumePlan is the outcome of StartVolume.
type VolumePlan struct {
	Tank  Tank    `json:"tank"`
	Start float64 `json:"start_l"`
	Aroma float64 `json:"aroma_l"`
	// Bottled is what reaches the bottling line, never negative.
	Bottled float64 `json:"bottled_l"`
	// TargetHL is Bottled in hectolitres, the volume the planner distributes.
	TargetHL float64 `json:"target_hl"`

	Aromatisation Aromatisation      `json:"aromatisation"`
	Infusion      bool               `json:"infusion"`
	Dilution      map[string]float64 `json:"dilution_kg,omitempty"`
}

// StartVolume computes the largest fermentation volume that does not
// overflow the tank once the transfer loss is taken and the flavouring is
// added:
//
//	start - transferLoss + added*start/reference <= capacity
//
// and the volume left after the bottling loss.
func StartVolume(t Tank, a Aromatisation) VolumePlan {
	c, lt, lb := t.Capacity, t.TransferLoss, t.BottlingLoss
	p := VolumePlan{Tank: t, Aromatisation: a}

	if a.Reference <= 0 || a.Added <= 0 {
		p.Start = c
		p.Bottled = math.Max(c-lt-lb, 0)
	} else {
		p.Start = math.Min(c, (c+lt)*a.Reference/(a.Reference+a.Added))
		p.Aroma = a.Added * p.Start / a.Reference
		p.Bottled = math.Max(p.Start-lt+p.Aroma-lb, 0)
	}
	p.TargetHL = p.Bottled / 100
	return p
}

var (
	dilutionSteps = []string{"preparation sirop", "dilution"}
	grainSteps    = []string{"fermentation"}
	grainWords    = []string{"grain"}
)

// DilutionIngredients scales the syrup and dilution ingredients of the first
// recipe, plus the kefir grains of the fermentation step, to a batch started
// at start litres. Quantities are kg rounded to 10 g.
func DilutionIngredients(recipes []brewery.Recipe, start float64) map[string]float64 {
	out := map[string]float64{}
	if len(recipes) == 0 || recipes[0].Volume <= 0 {
		return out
	}
	r := recipes[0]
	ratio := start / r.Volume
	for _, ing := range r.Ingredients {
		step := fold(ing.Step.String())
		label := ing.Material.Label
		if label == "" {
			label = "Ingrédient #" + strconv.Itoa(ing.Order)
		}
		if containsAny(step, dilutionSteps) ||
			(containsAny(step, grainSteps) && containsAny(fold(label), grainWords)) {
			out[label] = round(ing.Quantity*ratio, 2)
		}
	}
	return out
}

// IsInfusion tells infusions apart from fermented products by their label.
func IsInfusion(label string) bool {
	return strings.Contains(strings.ToLower(label), "infusion") ||
		strings.HasPrefix(strings.ToUpper(label), "EP")
}

// fold lower-cases s and strips accents.
func fold(s string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.ToLower(out)
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func round(v float64, places int) float64 {
	p := math.Pow10(places)
	return math.Round(v*p) / p
}
