// Package httpapi is the JSON-over-HTTP transport of the server, built on gin.
package httpapi

import (
	"context"
	"encoding/json"

	"github.com/dmitrijs2005/fermentstation/internal/brewery"
	"github.com/dmitrijs2005/fermentstation/internal/harvest"
	"github.com/dmitrijs2005/fermentstation/internal/logging"
	"github.com/dmitrijs2005/fermentstation/internal/planning"
	"github.com/dmitrijs2005/fermentstation/internal/server/metrics"
	"github.com/dmitrijs2005/fermentstation/internal/server/models"
	"github.com/dmitrijs2005/fermentstation/internal/server/services"
)

type AuthService interface {
	Register(ctx context.Context, in services.RegisterInput) (*models.User, error)
	Login(ctx context.Context, email, password string) (*services.LoginResult, error)
	ValidateSession(ctx context.Context, token string) (*models.Identity, error)
	Logout(ctx context.Context, token string) error
	ChangePassword(ctx context.Context, userID, newPassword string) error
	RequestPasswordReset(ctx context.Context, req services.ResetRequest) error
	VerifyResetToken(ctx context.Context, token string) (string, error)
	ResetPassword(ctx context.Context, token, newPassword string) error
}

type ProposalService interface {
	List(ctx context.Context, tenantID string) ([]models.ProposalSummary, error)
	Save(ctx context.Context, id models.Identity, name string, payload json.RawMessage) (bool, error)
	Load(ctx context.Context, tenantID, name string) (*models.Proposal, error)
	Delete(ctx context.Context, tenantID, name string) (bool, error)
	Rename(ctx context.Context, tenantID, oldName, newName string) error
	SetStatus(ctx context.Context, tenantID, name, status string) error
}

type HarvestService interface {
	Recipients() []harvest.Recipient
	Preview(sheet harvest.Sheet) ([]harvest.ComputedLine, harvest.Totals, error)
	PDF(ctx context.Context, sheet harvest.Sheet) (*services.Document, error)
	Excel(ctx context.Context, sheet harvest.Sheet) (*services.Document, error)
	Send(ctx context.Context, id models.Identity, in services.HarvestSendInput) (*services.HarvestSendResult, error)
}

type PlanningService interface {
	Tanks() []planning.Tank
	Volume(ctx context.Context, tankID string, productID int) (*planning.VolumePlan, error)
	Distribute(formats []planning.Format, overrides map[string]int) ([]planning.Allocation, error)
	Purchases(ctx context.Context, opts planning.CoverageOptions, forceRefresh bool) (*planning.CoverageReport, error)
	AllocateLots(ctx context.Context, ingredients []planning.IngredientLine) (*services.LotAllocationResult, error)
	Fiche(ctx context.Context, in services.FicheInput) (*services.Document, error)
}

type BreweryClient interface {
	StockAutonomy(ctx context.Context, windowDays int, forceRefresh bool) (*brewery.Autonomy, error)
	StockAutonomyExcel(ctx context.Context, windowDays int) ([]byte, error)
	MaterialConsumption(ctx context.Context, windowDays int, forceRefresh bool) (*brewery.Consumption, error)
	RawMaterials(ctx context.Context, status string) ([]brewery.RawMaterial, error)
	Products(ctx context.Context) ([]brewery.Product, error)
	Warehouses(ctx context.Context) ([]brewery.Warehouse, error)
}

// Deps is everything the router needs. Planning, Brewery and Ping are
// optional; the planning routes that read live figures also need Brewery.
type Deps struct {
	Auth          AuthService
	Proposals     ProposalService
	Harvest       HarvestService
	Planning      PlanningService
	Brewery       BreweryClient
	Metrics       *metrics.Metrics
	Log           logging.Logger
	Ping          func(ctx context.Context) error
	SecureCookies bool
}
