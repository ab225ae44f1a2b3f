package planning

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/dmitrijs2005/fermentstation/internal/brewery"
	"github.com/dmitrijs2005/fermentstation/internal/logging"
)

// lotEpsilon absorbs float noise; shortfalls under a centigram are ignored.
const (
	lotEpsilon     = 1e-6
	shortfallFloor = 0.01
)

// LotAllocation is the quantity taken from one lot.
type LotAllocation struct {
	LotID      int     `json:"lot_id"`
	Code       string  `json:"code"`
	Quantity   float64 `json:"quantity"`
	MaterialID int     `json:"material_id"`
	BestBefore *int64  `json:"best_before,omitempty"`
}

// LotPool holds the lots of one raw material, oldest best-before first, and
// what is virtually left of each once allocations are taken. The brewery
// only decrements stock when a batch is validated, so batches created in a
// row must share a pool.
type LotPool struct {
	materialID int
	lots       []brewery.Lot
	remaining  map[int]float64
}

func NewLotPool(materialID int, lots []brewery.Lot) *LotPool {
	p := &LotPool{materialID: materialID, remaining: map[int]float64{}}
	for _, l := range lots {
		if l.Quantity > 0 {
			p.lots = append(p.lots, l)
			p.remaining[l.ID] = l.Quantity
		}
	}
	// Lots without a best-before date go last.
	sort.SliceStable(p.lots, func(i, j int) bool {
		a, b := p.lots[i].BestBefore, p.lots[j].BestBefore
		if a == nil || b == nil {
			return a != nil && b == nil
		}
		return *a < *b
	})
	return p
}

func (p *LotPool) HasLots() bool {
	return len(p.lots) > 0
}

// Allocate takes need from the lots in FIFO order and returns one
// allocation per lot used and the quantity no lot could cover.
func (p *LotPool) Allocate(need float64) ([]LotAllocation, float64) {
	if need <= 0 {
		return nil, 0
	}
	var out []LotAllocation
	left := need
	for _, l := range p.lots {
		if left <= lotEpsilon {
			break
		}
		avail := p.remaining[l.ID]
		if avail <= 0 {
			continue
		}
		take := math.Min(avail, left)
		p.remaining[l.ID] -= take
		left -= take
		out = append(out, LotAllocation{
			LotID:      l.ID,
			Code:       l.Code,
			Quantity:   round(take, 2),
			MaterialID: p.materialID,
			BestBefore: l.BestBefore,
		})
	}
	return out, math.Max(0, left)
}

// IngredientLine is a recipe ingredient of a batch. After allocation each
// line carries at most one lot.
type IngredientLine struct {
	MaterialID int             `json:"material_id"`
	Label      string          `json:"label"`
	Step       string          `json:"step"`
	Quantity   float64         `json:"quantity"`
	Lots       []LotAllocation `json:"lots,omitempty"`
}

// Shortage records an ingredient the lots in stock could not fully cover.
type Shortage struct {
	MaterialID int     `json:"material_id"`
	Label      string  `json:"label"`
	Step       string  `json:"step"`
	Missing    float64 `json:"missing"`
}

// LotFetcher loads the lots of a raw material.
type LotFetcher func(ctx context.Context, materialID int) ([]brewery.Lot, error)

// LotTracker caches one pool per material for a batch of brews.
type LotTracker struct {
	fetch LotFetcher
	pools map[int]*LotPool
	log   logging.Logger
}

func NewLotTracker(fetch LotFetcher, log logging.Logger) *LotTracker {
	return &LotTracker{fetch: fetch, pools: map[int]*LotPool{}, log: log}
}

// pool loads lazily. A failed fetch counts as a material without lots.
func (t *LotTracker) pool(ctx context.Context, materialID int) *LotPool {
	if p, ok := t.pools[materialID]; ok {
		return p
	}
	lots, err := t.fetch(ctx, materialID)
	if err != nil {
		t.log.Warn(ctx, "lot fetch failed", "material_id", materialID, "error", err)
		lots = nil
	}
	p := NewLotPool(materialID, lots)
	t.pools[materialID] = p
	return p
}

// Distribute splits ing into one line per lot used. Materials not managed
// by lots come back unchanged. The uncovered part gets no line of its own,
// since the brewery rejects lot-less lines for lot-managed materials; it is
// reported as a shortage instead. A material whose lots earlier lines used
// up yields no line and the whole quantity as missing.
func (t *LotTracker) Distribute(ctx context.Context, ing IngredientLine) ([]IngredientLine, *Shortage) {
	if ing.MaterialID == 0 || ing.Quantity <= 0 {
		return []IngredientLine{ing}, nil
	}
	p := t.pool(ctx, ing.MaterialID)
	if !p.HasLots() {
		return []IngredientLine{ing}, nil
	}

	allocs, _ := p.Allocate(ing.Quantity)
	if len(allocs) == 0 {
		t.log.Warn(ctx, "no lot left", "material_id", ing.MaterialID, "label", ing.Label, "step", ing.Step)
		return nil, &Shortage{MaterialID: ing.MaterialID, Label: ing.Label, Step: ing.Step, Missing: round(ing.Quantity, 2)}
	}

	out := make([]IngredientLine, 0, len(allocs))
	var allocated float64
	parts := make([]string, 0, len(allocs)+1)
	for _, a := range allocs {
		line := ing
		line.Quantity = a.Quantity
		line.Lots = []LotAllocation{a}
		out = append(out, line)
		allocated += a.Quantity
		parts = append(parts, fmt.Sprintf("%.2f [%s]", a.Quantity, a.Code))
	}

	missing := round(ing.Quantity-allocated, 2)
	if missing > shortfallFloor {
		parts = append(parts, fmt.Sprintf("%.2f [MANQUANT]", missing))
		t.log.Warn(ctx, "fifo shortfall", "label", ing.Label, "step", ing.Step, "lots", strings.Join(parts, " + "))
		return out, &Shortage{MaterialID: ing.MaterialID, Label: ing.Label, Step: ing.Step, Missing: missing}
	}
	t.log.Info(ctx, "fifo allocation", "label", ing.Label, "step", ing.Step, "lots", strings.Join(parts, " + "))
	return out, nil
}
