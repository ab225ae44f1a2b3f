package planning

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
)

// RulerPoint is one graduation of a tank dipstick.
type RulerPoint struct {
	Volume float64
	Height float64
}

// RulerTable maps a tank capacity in litres to its dipstick graduations,
// sorted by volume.
type RulerTable map[int][]RulerPoint

var rulerColumns = []string{"cuve", "volume_l", "hauteur_cm"}

// LoadRulerTable reads a CSV with the columns cuve, volume_L and hauteur_cm
// in any order.
func LoadRulerTable(r io.Reader) (RulerTable, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("planning: ruler header: %w", err)
	}
	idx := make([]int, len(rulerColumns))
	for i, name := range rulerColumns {
		idx[i] = -1
		for j, h := range header {
			if strings.EqualFold(strings.TrimSpace(h), name) {
				idx[i] = j
			}
		}
		if idx[i] < 0 {
			return nil, fmt.Errorf("planning: ruler column %q missing", name)
		}
	}

	t := RulerTable{}
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("planning: ruler line %d: %w", line, err)
		}
		var v [3]float64
		for i, j := range idx {
			v[i], err = strconv.ParseFloat(strings.TrimSpace(rec[j]), 64)
			if err != nil {
				return nil, fmt.Errorf("planning: ruler line %d: %w", line, err)
			}
		}
		capacity := int(v[0])
		t[capacity] = append(t[capacity], RulerPoint{Volume: v[1], Height: v[2]})
	}
	for _, pts := range t {
		sort.SliceStable(pts, func(i, j int) bool { return pts[i].Volume < pts[j].Volume })
	}
	return t, nil
}

// Height interpolates the dipstick height in cm for volume litres in the
// tank of the given capacity. Volumes outside the graduations clamp to the
// first or last height. An unknown tank gives 0.
func (t RulerTable) Height(volume float64, capacity int) float64 {
	pts := t[capacity]
	if len(pts) == 0 {
		return 0
	}
	if volume <= pts[0].Volume {
		return pts[0].Height
	}
	last := pts[len(pts)-1]
	if volume >= last.Volume {
		return last.Height
	}
	for i := 0; i < len(pts)-1; i++ {
		a, b := pts[i], pts[i+1]
		if a.Volume <= volume && volume <= b.Volume {
			dv := b.Volume - a.Volume
			if dv == 0 {
				return a.Height
			}
			f := (volume - a.Volume) / dv
			return round(a.Height+f*(b.Height-a.Height), 1)
		}
	}
	return last.Height
}
