package planning

import (
	"fmt"
	"math"

	"github.com/dmitrijs2005/fermentstation/internal/common"
)

// Format is one sellable format of a flavour with the volume the optimiser
// planned for it.
type Format struct {
	Flavour          string  `json:"flavour"`
	Product          string  `json:"product"`
	Stock            string  `json:"stock"`
	CartonVolumeHL   float64 `json:"carton_volume_hl"`
	BottlesPerCarton int     `json:"bottles_per_carton"`
	PlannedHL        float64 `json:"planned_hl"`
}

// Key identifies a format in the overrides map.
func (f Format) Key() string {
	return f.Flavour + "|" + f.Product + "|" + f.Stock
}

// Allocation is the number of cartons to produce for a format.
type Allocation struct {
	Format
	Cartons  int     `json:"cartons"`
	Bottles  int     `json:"bottles"`
	VolumeHL float64 `json:"volume_hl"`
	Forced   bool    `json:"forced"`
}

// Distribute turns planned volumes into whole cartons. Overrides, keyed by
// Format.Key, fix the carton count of a format; the volume they take is
// removed from the flavour's total and the rest is shared between the other
// formats of that flavour in proportion to their planned volume.
//
// Duplicate keys keep the first occurrence. Flavours keep their input order.
func Distribute(formats []Format, overrides map[string]int) ([]Allocation, error) {
	var (
		order  []string
		groups = map[string][]Format{}
		seen   = map[string]bool{}
	)
	for i, f := range formats {
		if f.CartonVolumeHL <= 0 {
			return nil, common.NewValidationError(fmt.Sprintf("formats[%d].carton_volume_hl", i), "must be positive")
		}
		if seen[f.Key()] {
			continue
		}
		seen[f.Key()] = true
		if _, ok := groups[f.Flavour]; !ok {
			order = append(order, f.Flavour)
		}
		groups[f.Flavour] = append(groups[f.Flavour], f)
	}

	out := make([]Allocation, 0, len(seen))
	for _, flavour := range order {
		grp := groups[flavour]

		var total, forcedVol, freeWeight float64
		for _, f := range grp {
			total += f.PlannedHL
			if n, ok := overrides[f.Key()]; ok {
				forcedVol += float64(max(0, n)) * f.CartonVolumeHL
			} else {
				freeWeight += f.PlannedHL
			}
		}
		remaining := math.Max(0, total-forcedVol)

		for _, f := range grp {
			a := Allocation{Format: f}
			if n, ok := overrides[f.Key()]; ok {
				a.Cartons = max(0, n)
				a.Forced = true
			} else if freeWeight > 1e-9 && f.PlannedHL > 0 {
				hl := remaining * f.PlannedHL / freeWeight
				a.Cartons = max(0, int(math.RoundToEven(hl/f.CartonVolumeHL)))
			}
			a.Bottles = a.Cartons * f.BottlesPerCarton
			a.VolumeHL = round(float64(a.Cartons)*f.CartonVolumeHL, 3)
			out = append(out, a)
		}
	}
	return out, nil
}
