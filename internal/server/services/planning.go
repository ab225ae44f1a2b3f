package services

import (
	"bytes"
	"context"
	"io"
	"os"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dmitrijs2005/fermentstation/internal/brewery"
	"github.com/dmitrijs2005/fermentstation/internal/common"
	"github.com/dmitrijs2005/fermentstation/internal/logging"
	"github.com/dmitrijs2005/fermentstation/internal/planning"
)

// coverageTimeout bounds the three brewery calls of a purchase report; it
// sits above the client's own 30 s timeout.
const coverageTimeout = 45 * time.Second

// BreweryReader is the part of the brewery API the planner reads.
type BreweryReader interface {
	StockAutonomy(ctx context.Context, windowDays int, forceRefresh bool) (*brewery.Autonomy, error)
	MaterialConsumption(ctx context.Context, windowDays int, forceRefresh bool) (*brewery.Consumption, error)
	RawMaterials(ctx context.Context, status string) ([]brewery.RawMaterial, error)
	ProductDetail(ctx context.Context, productID int) (*brewery.ProductDetail, error)
	MaterialLots(ctx context.Context, materialID int) ([]brewery.Lot, error)
}

// LotAllocationResult lists the split ingredient lines and what the lots
// could not cover.
type LotAllocationResult struct {
	Lines     []planning.IngredientLine `json:"lines"`
	Shortages []planning.Shortage       `json:"shortages"`
}

// FicheConfig locates the production-sheet template and the tank
// dipstick graduations. Both are optional.
type FicheConfig struct {
	TemplatePath string
	Rulers       planning.RulerTable
}

// FicheInput is one batch to print on a production sheet. Formats and
// Overrides go through Distribute; only the formats of Flavour are printed.
type FicheInput struct {
	TankID     string
	ProductID  int
	Flavour    string
	WeekOf     time.Time
	BestBefore time.Time
	Formats    []planning.Format
	Overrides  map[string]int
}

// PlanningService runs the production-planning helpers against live
// brewery figures.
type PlanningService struct {
	brewery BreweryReader
	fiche   FicheConfig
	log     logging.Logger
	now     func() time.Time
}

func NewPlanningService(b BreweryReader, fiche FicheConfig, log logging.Logger) *PlanningService {
	return &PlanningService{
		brewery: b,
		fiche:   fiche,
		log:     log.With("module", "planning"),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *PlanningService) Tanks() []planning.Tank {
	return planning.Tanks
}

// Volume computes the batch volume for a tank. productID 0 plans without
// flavouring; otherwise the product's recipe supplies the flavouring and
// dilution figures.
func (s *PlanningService) Volume(ctx context.Context, tankID string, productID int) (*planning.VolumePlan, error) {
	tank, ok := planning.FindTank(tankID)
	if !ok {
		return nil, common.NewValidationError("tank", "unknown tank "+tankID)
	}
	if productID < 0 {
		return nil, common.NewValidationError("product_id", "must not be negative")
	}
	if productID == 0 {
		p := planning.StartVolume(tank, planning.Aromatisation{})
		return &p, nil
	}

	detail, err := s.brewery.ProductDetail(ctx, productID)
	if err != nil {
		return nil, err
	}
	p := planning.StartVolume(tank, planning.AromatisationOf(detail.Recipes))
	p.Infusion = planning.IsInfusion(detail.Label)
	p.Dilution = planning.DilutionIngredients(detail.Recipes, p.Start)

	s.log.Info(ctx, "volume planned", "tank", tank.ID, "product_id", productID,
		"start_l", p.Start, "bottled_l", p.Bottled)
	return &p, nil
}

func (s *PlanningService) Distribute(formats []planning.Format, overrides map[string]int) ([]planning.Allocation, error) {
	if len(formats) == 0 {
		return nil, common.NewValidationError("formats", "at least one format is required")
	}
	return planning.Distribute(formats, overrides)
}

// Purchases builds the packaging coverage report. The three brewery calls
// run concurrently; the first failure cancels the others and is returned.
func (s *PlanningService) Purchases(ctx context.Context, opts planning.CoverageOptions, forceRefresh bool) (*planning.CoverageReport, error) {
	opts, err := opts.Normalize()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, coverageTimeout)
	defer cancel()

	var (
		autonomy  *brewery.Autonomy
		materials []brewery.RawMaterial
		cons      *brewery.Consumption
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		autonomy, err = s.brewery.StockAutonomy(gctx, opts.WindowDays, forceRefresh)
		return err
	})
	g.Go(func() (err error) {
		materials, err = s.brewery.RawMaterials(gctx, "actif")
		return err
	})
	g.Go(func() (err error) {
		cons, err = s.brewery.MaterialConsumption(gctx, opts.WindowDays, forceRefresh)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	r := planning.Coverage(opts, autonomy, materials, cons)
	s.log.Info(ctx, "purchase coverage", "products", len(r.Products),
		"components", len(r.Components), "orders", len(r.Orders))
	return r, nil
}

// AllocateLots assigns lots to the ingredients of a batch of brews in FIFO
// order. Ingredients are taken in order and share one virtual stock.
func (s *PlanningService) AllocateLots(ctx context.Context, ingredients []planning.IngredientLine) (*LotAllocationResult, error) {
	if len(ingredients) == 0 {
		return nil, common.NewValidationError("ingredients", "at least one ingredient is required")
	}
	tr := planning.NewLotTracker(s.brewery.MaterialLots, s.log)
	res := &LotAllocationResult{
		Lines:     make([]planning.IngredientLine, 0, len(ingredients)),
		Shortages: []planning.Shortage{},
	}
	for _, ing := range ingredients {
		lines, short := tr.Distribute(ctx, ing)
		res.Lines = append(res.Lines, lines...)
		if short != nil {
			res.Shortages = append(res.Shortages, *short)
		}
	}
	return res, nil
}

// Fiche renders the production sheet of a batch: volumes and dipstick
// heights from the tank plan, cartons per packaging slot from the
// distribution. WeekOf defaults to today.
func (s *PlanningService) Fiche(ctx context.Context, in FicheInput) (*Document, error) {
	if strings.TrimSpace(in.Flavour) == "" {
		return nil, common.NewValidationError("flavour", "is required")
	}
	plan, err := s.Volume(ctx, in.TankID, in.ProductID)
	if err != nil {
		return nil, err
	}
	var allocs []planning.Allocation
	if len(in.Formats) > 0 {
		if allocs, err = planning.Distribute(in.Formats, in.Overrides); err != nil {
			return nil, err
		}
	}
	if in.WeekOf.IsZero() {
		in.WeekOf = s.now()
	}
	sheet := planning.ProductionSheet{
		WeekOf:      in.WeekOf,
		BestBefore:  in.BestBefore,
		Flavour:     in.Flavour,
		Plan:        *plan,
		Allocations: allocs,
	}

	var tpl io.Reader
	if s.fiche.TemplatePath != "" {
		raw, err := os.ReadFile(s.fiche.TemplatePath)
		if err != nil {
			s.log.Error(ctx, "fiche template unreadable", "template", s.fiche.TemplatePath, "error", err)
			return nil, common.ErrorInternal
		}
		tpl = bytes.NewReader(raw)
	}
	b, err := planning.FicheWorkbook(tpl, sheet, s.fiche.Rulers)
	if err != nil {
		s.log.Error(ctx, "fiche rendering failed", "template", s.fiche.TemplatePath, "error", err)
		return nil, common.ErrorInternal
	}
	s.log.Info(ctx, "fiche rendered", "tank", plan.Tank.ID, "flavour", in.Flavour, "formats", len(allocs))
	return &Document{Name: planning.FicheFileName(sheet), ContentType: contentTypeXLSX, Content: b}, nil
}
