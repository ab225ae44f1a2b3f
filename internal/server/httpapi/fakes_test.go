package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"time"

	"github.com/dmitrijs2005/fermentstation/internal/brewery"
	"github.com/dmitrijs2005/fermentstation/internal/common"
	"github.com/dmitrijs2005/fermentstation/internal/harvest"
	"github.com/dmitrijs2005/fermentstation/internal/logging"
	"github.com/dmitrijs2005/fermentstation/internal/server/models"
	"github.com/dmitrijs2005/fermentstation/internal/server/services"
)

const (
	goodToken  = "tok-good"
	adminToken = "tok-admin"
)

var (
	operator = models.Identity{UserID: "u1", TenantID: "t1", Email: "ops@ferment.fr", Role: "user"}
	admin    = models.Identity{UserID: "u2", TenantID: "t1", Email: "boss@ferment.fr", Role: "admin"}
)

type fakeAuth struct {
	loginErr   error
	resetErr   error
	lastReset  services.ResetRequest
	loggedOut  []string
	changed    map[string]string
	resetTo    string
	registered services.RegisterInput
}

func (f *fakeAuth) Register(_ context.Context, in services.RegisterInput) (*models.User, error) {
	if in.Password == "" {
		return nil, common.NewValidationError("password", "required")
	}
	f.registered = in
	return &models.User{ID: "u9", TenantID: "t1", Email: in.Email, Role: "user"}, nil
}

func (f *fakeAuth) Login(_ context.Context, email, _ string) (*services.LoginResult, error) {
	if f.loginErr != nil {
		return nil, f.loginErr
	}
	return &services.LoginResult{
		Token:     goodToken,
		ExpiresAt: time.Now().Add(time.Hour),
		Identity:  models.Identity{UserID: "u1", TenantID: "t1", Email: email, Role: "user"},
	}, nil
}

func (f *fakeAuth) ValidateSession(_ context.Context, token string) (*models.Identity, error) {
	switch token {
	case goodToken:
		id := operator
		return &id, nil
	case adminToken:
		id := admin
		return &id, nil
	}
	return nil, common.ErrTokenInvalidOrExpired
}

func (f *fakeAuth) Logout(_ context.Context, token string) error {
	f.loggedOut = append(f.loggedOut, token)
	return nil
}

func (f *fakeAuth) ChangePassword(_ context.Context, userID, pw string) error {
	if f.changed == nil {
		f.changed = map[string]string{}
	}
	f.changed[userID] = pw
	return nil
}

func (f *fakeAuth) RequestPasswordReset(_ context.Context, req services.ResetRequest) error {
	f.lastReset = req
	return f.resetErr
}

func (f *fakeAuth) VerifyResetToken(_ context.Context, token string) (string, error) {
	if token != "reset-ok" {
		return "", common.ErrTokenInvalidOrExpired
	}
	return "ops@ferment.fr", nil
}

func (f *fakeAuth) ResetPassword(_ context.Context, token, pw string) error {
	if token != "reset-ok" {
		return common.ErrTokenInvalidOrExpired
	}
	f.resetTo = pw
	return nil
}

type fakeProposals struct {
	items map[string]*models.Proposal
}

func newFakeProposals() *fakeProposals {
	return &fakeProposals{items: map[string]*models.Proposal{}}
}

func (f *fakeProposals) List(_ context.Context, tenantID string) ([]models.ProposalSummary, error) {
	var out []models.ProposalSummary
	for _, p := range f.items {
		if p.TenantID == tenantID {
			out = append(out, models.ProposalSummary{Name: p.Name, Status: p.Status, UpdatedAt: p.UpdatedAt})
		}
	}
	return out, nil
}

func (f *fakeProposals) Save(_ context.Context, id models.Identity, name string, payload json.RawMessage) (bool, error) {
	_, exists := f.items[name]
	f.items[name] = &models.Proposal{TenantID: id.TenantID, CreatedBy: id.UserID, Name: name, Payload: payload, Status: models.ProposalDraft}
	return !exists, nil
}

func (f *fakeProposals) Load(_ context.Context, tenantID, name string) (*models.Proposal, error) {
	p, ok := f.items[name]
	if !ok || p.TenantID != tenantID {
		return nil, common.ErrorNotFound
	}
	return p, nil
}

func (f *fakeProposals) Delete(_ context.Context, tenantID, name string) (bool, error) {
	p, ok := f.items[name]
	if !ok || p.TenantID != tenantID {
		return false, nil
	}
	delete(f.items, name)
	return true, nil
}

func (f *fakeProposals) Rename(_ context.Context, _, oldName, newName string) error {
	p, ok := f.items[oldName]
	if !ok {
		return common.ErrorNotFound
	}
	if _, taken := f.items[newName]; taken {
		return common.ErrorAlreadyExists
	}
	delete(f.items, oldName)
	p.Name = newName
	f.items[newName] = p
	return nil
}

func (f *fakeProposals) SetStatus(_ context.Context, _, name, status string) error {
	if !models.ValidProposalStatus(status) {
		return common.NewValidationError("status", "unknown status")
	}
	p, ok := f.items[name]
	if !ok {
		return common.ErrorNotFound
	}
	p.Status = status
	return nil
}

type fakeHarvest struct {
	sent    []services.HarvestSendInput
	sendErr error
}

func (f *fakeHarvest) Recipients() []harvest.Recipient {
	return []harvest.Recipient{{Name: "SOFRIPA", Emails: []string{"quai@sofripa.fr"}}}
}

func (f *fakeHarvest) Preview(s harvest.Sheet) ([]harvest.ComputedLine, harvest.Totals, error) {
	if err := s.Validate(); err != nil {
		return nil, harvest.Totals{}, err
	}
	lines, tot := s.Compute()
	return lines, tot, nil
}

func (f *fakeHarvest) PDF(_ context.Context, s harvest.Sheet) (*services.Document, error) {
	return &services.Document{Name: s.FileName("pdf"), ContentType: "application/pdf", Content: []byte("%PDF-1.4")}, nil
}

func (f *fakeHarvest) Excel(_ context.Context, s harvest.Sheet) (*services.Document, error) {
	return &services.Document{Name: s.FileName("xlsx"), ContentType: "application/octet-stream", Content: []byte("PK")}, nil
}

func (f *fakeHarvest) Send(_ context.Context, _ models.Identity, in services.HarvestSendInput) (*services.HarvestSendResult, error) {
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.sent = append(f.sent, in)
	_, tot := in.Sheet.Compute()
	return &services.HarvestSendResult{Sent: in.To, Totals: tot, ArchiveKeys: []string{"harvest/t1/a.pdf"}}, nil
}

type fakeBrewery struct {
	days  int
	force bool
	err   error
}

func (f *fakeBrewery) StockAutonomy(_ context.Context, days int, force bool) (*brewery.Autonomy, error) {
	f.days, f.force = days, force
	if f.err != nil {
		return nil, f.err
	}
	return &brewery.Autonomy{}, nil
}

func (f *fakeBrewery) StockAutonomyExcel(_ context.Context, days int) ([]byte, error) {
	f.days = days
	return []byte("PK"), f.err
}

func (f *fakeBrewery) MaterialConsumption(_ context.Context, days int, force bool) (*brewery.Consumption, error) {
	f.days, f.force = days, force
	return &brewery.Consumption{}, f.err
}

func (f *fakeBrewery) RawMaterials(context.Context, string) ([]brewery.RawMaterial, error) {
	return nil, f.err
}

func (f *fakeBrewery) Products(context.Context) ([]brewery.Product, error) {
	return []brewery.Product{}, f.err
}

func (f *fakeBrewery) Warehouses(context.Context) ([]brewery.Warehouse, error) {
	return []brewery.Warehouse{}, f.err
}

func discardLogger() logging.Logger {
	return logging.NewTextLogger(io.Discard, slog.LevelError)
}

func recipientSOFRIPA() harvest.Recipient {
	return harvest.Recipient{
		Name:   "SOFRIPA",
		Lines:  []string{"ZAC du Haut de Wissous II", "91320 Wissous"},
		Emails: []string{"quai@sofripa.fr"},
	}
}
