package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/fermentstation/internal/common"
	"github.com/dmitrijs2005/fermentstation/internal/dbx"
	"github.com/dmitrijs2005/fermentstation/internal/email"
	"github.com/dmitrijs2005/fermentstation/internal/logging"
	"github.com/dmitrijs2005/fermentstation/internal/server/models"
	"github.com/dmitrijs2005/fermentstation/internal/server/repositories/loginfailures"
	"github.com/dmitrijs2005/fermentstation/internal/server/repositories/passwordresets"
	"github.com/dmitrijs2005/fermentstation/internal/server/repositories/proposals"
	"github.com/dmitrijs2005/fermentstation/internal/server/repositories/sessions"
	"github.com/dmitrijs2005/fermentstation/internal/server/repositories/tenants"
	"github.com/dmitrijs2005/fermentstation/internal/server/repositories/users"
	"github.com/google/uuid"
)

// --- helpers ---

func newSQLMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db, mock
}

func nopLogger() logging.Logger {
	return logging.NewTextLogger(io.Discard, 0)
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

// --- tenants ---

type fakeTenants struct {
	mu        sync.Mutex
	rows      map[string]*models.Tenant
	createErr error
	// raceOnce makes the next Create report a conflict after inserting,
	// as if another request won the race.
	raceOnce bool
}

func (f *fakeTenants) GetByName(_ context.Context, name string) (*models.Tenant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.rows {
		if strings.EqualFold(t.Name, name) {
			c := *t
			return &c, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (f *fakeTenants) GetByID(_ context.Context, id string) (*models.Tenant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.rows[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	c := *t
	return &c, nil
}

func (f *fakeTenants) Create(_ context.Context, name string) (*models.Tenant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	t := &models.Tenant{ID: uuid.NewString(), Name: name}
	f.rows[t.ID] = t
	if f.raceOnce {
		f.raceOnce = false
		return nil, common.ErrorAlreadyExists
	}
	c := *t
	return &c, nil
}

// --- users ---

type fakeUsers struct {
	mu     sync.Mutex
	rows   map[string]*models.User
	getErr error
}

func (f *fakeUsers) Create(_ context.Context, u *models.User) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.rows {
		if strings.EqualFold(r.Email, u.Email) {
			return nil, common.ErrorAlreadyExists
		}
	}
	c := *u
	c.ID = uuid.NewString()
	c.Email = strings.ToLower(c.Email)
	f.rows[c.ID] = &c
	out := c
	return &out, nil
}

func (f *fakeUsers) GetByEmail(_ context.Context, email string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	for _, r := range f.rows {
		if strings.EqualFold(r.Email, email) {
			c := *r
			return &c, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (f *fakeUsers) GetByID(_ context.Context, id string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rows[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	c := *r
	return &c, nil
}

func (f *fakeUsers) CountInTenant(_ context.Context, tenantID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, r := range f.rows {
		if r.TenantID == tenantID {
			n++
		}
	}
	return n, nil
}

func (f *fakeUsers) UpdatePasswordHash(_ context.Context, userID, hash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rows[userID]
	if !ok {
		return common.ErrorNotFound
	}
	r.PasswordHash = hash
	return nil
}

func (f *fakeUsers) SetActive(_ context.Context, userID string, active bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rows[userID]
	if !ok {
		return common.ErrorNotFound
	}
	r.IsActive = active
	return nil
}

// --- sessions ---

type fakeSessions struct {
	mu    sync.Mutex
	rows  map[string]*models.Session
	users *fakeUsers
}

func (f *fakeSessions) Create(_ context.Context, s *models.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s.ID = uuid.NewString()
	c := *s
	f.rows[s.TokenHash] = &c
	return nil
}

func (f *fakeSessions) FindIdentity(ctx context.Context, hash string, now time.Time) (*models.Identity, error) {
	f.mu.Lock()
	s, ok := f.rows[hash]
	f.mu.Unlock()
	if !ok || !s.ExpiresAt.After(now) {
		return nil, common.ErrorNotFound
	}
	u, err := f.users.GetByID(ctx, s.UserID)
	if err != nil || !u.IsActive {
		return nil, common.ErrorNotFound
	}
	return &models.Identity{UserID: u.ID, TenantID: u.TenantID, Email: u.Email, Role: u.Role}, nil
}

func (f *fakeSessions) Delete(_ context.Context, hash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.rows, hash)
	return nil
}

func (f *fakeSessions) DeleteForUser(_ context.Context, userID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for k, s := range f.rows {
		if s.UserID == userID {
			delete(f.rows, k)
			n++
		}
	}
	return n, nil
}

func (f *fakeSessions) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for k, s := range f.rows {
		if s.ExpiresAt.Before(now) {
			delete(f.rows, k)
			n++
		}
	}
	return n, nil
}

func (f *fakeSessions) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rows)
}

// --- password resets ---

type fakeResets struct {
	mu      sync.Mutex
	rows    []*models.PasswordReset
	users   *fakeUsers
	nextID  int64
	stealer bool // MarkUsed reports a lost race
}

func (f *fakeResets) Create(_ context.Context, r *models.PasswordReset) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	r.ID = f.nextID
	c := *r
	f.rows = append(f.rows, &c)
	return nil
}

func (f *fakeResets) FindByHash(ctx context.Context, hash string) (*models.PasswordReset, error) {
	f.mu.Lock()
	var found *models.PasswordReset
	for _, r := range f.rows {
		if r.TokenHash == hash {
			c := *r
			found = &c
		}
	}
	f.mu.Unlock()
	if found == nil {
		return nil, common.ErrorNotFound
	}
	u, err := f.users.GetByID(ctx, found.UserID)
	if err != nil {
		return nil, common.ErrorNotFound
	}
	found.Email = u.Email
	return found, nil
}

func (f *fakeResets) ListRecent(_ context.Context, userID string, limit int) ([]*models.PasswordReset, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.PasswordReset
	for _, r := range f.rows {
		if r.UserID == userID {
			c := *r
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeResets) MarkUsed(_ context.Context, id int64, userID string, now time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stealer {
		return false, nil
	}
	for _, r := range f.rows {
		if r.ID == id && r.UserID == userID && r.UsedAt == nil && r.ExpiresAt.After(now) {
			t := now
			r.UsedAt = &t
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeResets) Delete(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, r := range f.rows {
		if r.ID == id {
			f.rows = append(f.rows[:i], f.rows[i+1:]...)
			return nil
		}
	}
	return nil
}

func (f *fakeResets) DeleteStale(_ context.Context, now time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var keep []*models.PasswordReset
	var n int64
	for _, r := range f.rows {
		if r.UsedAt != nil || r.ExpiresAt.Before(now) {
			n++
			continue
		}
		keep = append(keep, r)
	}
	f.rows = keep
	return n, nil
}

// --- proposals ---

type fakeProposals struct {
	mu     sync.Mutex
	rows   []*models.Proposal
	nextID int64
	err    error
	// calls records repository calls in order, tenant-scoped ones as "op:tenant".
	calls []string
}

func (f *fakeProposals) LockTenant(_ context.Context, tenantID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "lock:"+tenantID)
	return f.err
}

func (f *fakeProposals) List(_ context.Context, tenantID string) ([]models.ProposalSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	var out []models.ProposalSummary
	for _, p := range f.rows {
		if p.TenantID == tenantID {
			out = append(out, models.ProposalSummary{Name: p.Name, Status: p.Status, UpdatedAt: p.UpdatedAt})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (f *fakeProposals) FindByName(_ context.Context, tenantID, name string) (*models.Proposal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	for _, p := range f.rows {
		if p.TenantID == tenantID && p.Name == name {
			c := *p
			return &c, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (f *fakeProposals) CountNames(_ context.Context, tenantID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "count:"+tenantID)
	names := map[string]struct{}{}
	for _, p := range f.rows {
		if p.TenantID == tenantID {
			names[p.Name] = struct{}{}
		}
	}
	return len(names), nil
}

func (f *fakeProposals) Insert(_ context.Context, p *models.Proposal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	p.ID = f.nextID
	p.UpdatedAt = time.Now()
	c := *p
	f.rows = append(f.rows, &c)
	return nil
}

func (f *fakeProposals) UpdatePayload(_ context.Context, id int64, payload json.RawMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.rows {
		if p.ID == id {
			p.Payload = payload
			p.UpdatedAt = time.Now()
			return nil
		}
	}
	return common.ErrorNotFound
}

func (f *fakeProposals) Delete(_ context.Context, tenantID, name string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var keep []*models.Proposal
	var n int64
	for _, p := range f.rows {
		if p.TenantID == tenantID && p.Name == name {
			n++
			continue
		}
		keep = append(keep, p)
	}
	f.rows = keep
	return n, nil
}

func (f *fakeProposals) Rename(_ context.Context, tenantID, oldName, newName string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, p := range f.rows {
		if p.TenantID == tenantID && p.Name == oldName {
			p.Name = newName
			n++
		}
	}
	return n, nil
}

func (f *fakeProposals) SetStatus(_ context.Context, tenantID, name, status string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, p := range f.rows {
		if p.TenantID == tenantID && p.Name == name {
			p.Status = status
			n++
		}
	}
	return n, nil
}

// --- manager & mailer ---

type fakeRepoManager struct {
	tenants   *fakeTenants
	users     *fakeUsers
	sessions  *fakeSessions
	resets    *fakeResets
	proposals *fakeProposals
}

func newFakeRepoManager() *fakeRepoManager {
	u := &fakeUsers{rows: map[string]*models.User{}}
	return &fakeRepoManager{
		tenants:   &fakeTenants{rows: map[string]*models.Tenant{}},
		users:     u,
		sessions:  &fakeSessions{rows: map[string]*models.Session{}, users: u},
		resets:    &fakeResets{users: u},
		proposals: &fakeProposals{},
	}
}

func (m *fakeRepoManager) RunMigrations(context.Context, *sql.DB) error      { return nil }
func (m *fakeRepoManager) Tenants(dbx.DBTX) tenants.Repository               { return m.tenants }
func (m *fakeRepoManager) Users(dbx.DBTX) users.Repository                   { return m.users }
func (m *fakeRepoManager) Sessions(dbx.DBTX) sessions.Repository             { return m.sessions }
func (m *fakeRepoManager) PasswordResets(dbx.DBTX) passwordresets.Repository { return m.resets }
func (m *fakeRepoManager) LoginFailures(dbx.DBTX) loginfailures.Repository   { return nil }
func (m *fakeRepoManager) Proposals(dbx.DBTX) proposals.Repository           { return m.proposals }

type fakeMailer struct {
	mu   sync.Mutex
	sent []email.Message
	err  error
}

func (f *fakeMailer) Send(_ context.Context, msg email.Message) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.sent = append(f.sent, msg)
	return "msg-id", nil
}

func (f *fakeMailer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func (f *fakeMailer) last() email.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sent[len(f.sent)-1]
}
