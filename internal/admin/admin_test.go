package admin

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/fermentstation/internal/common"
	"github.com/dmitrijs2005/fermentstation/internal/logging"
	"github.com/dmitrijs2005/fermentstation/internal/server/config"
	"github.com/dmitrijs2005/fermentstation/internal/server/models"
	"github.com/dmitrijs2005/fermentstation/internal/server/services"
)

type fakeBackend struct {
	migrated bool
	created  services.RegisterInput
	unlocked string
	active   map[string]bool
	closed   bool
	err      error
}

func (f *fakeBackend) Migrate(context.Context) error {
	f.migrated = true
	return f.err
}

func (f *fakeBackend) CreateUser(_ context.Context, in services.RegisterInput) (*models.User, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.created = in
	return &models.User{ID: "u1", TenantID: "t1", Email: in.Email, Role: in.Role}, nil
}

func (f *fakeBackend) Cleanup(context.Context) (services.CleanupReport, error) {
	return services.CleanupReport{Sessions: 3, Resets: 2, LoginFailures: 1}, f.err
}

func (f *fakeBackend) Unlock(_ context.Context, email string) error {
	f.unlocked = email
	return f.err
}

func (f *fakeBackend) SetActive(_ context.Context, email string, active bool) (*models.User, int64, error) {
	if f.err != nil {
		return nil, 0, f.err
	}
	if f.active == nil {
		f.active = map[string]bool{}
	}
	f.active[email] = active
	var revoked int64
	if !active {
		revoked = 2
	}
	return &models.User{ID: "u1", Email: strings.ToLower(email), IsActive: active}, revoked, nil
}

func (f *fakeBackend) Close() error {
	f.closed = true
	return nil
}

type harness struct {
	backend *fakeBackend
	cfg     *config.Config
	out     *bytes.Buffer
}

func run(t *testing.T, h *harness, args ...string) error {
	t.Helper()
	if h.cfg == nil {
		h.cfg = &config.Config{}
		h.cfg.LoadDefaults()
	}
	open := func(_ context.Context, cfg *config.Config, _ logging.Logger) (Backend, error) {
		h.cfg = cfg
		return h.backend, nil
	}
	cmd := NewRootCommand(open, func() *config.Config { return h.cfg })
	h.out = &bytes.Buffer{}
	cmd.SetOut(h.out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	return cmd.ExecuteContext(context.Background())
}

// stubPasswords feeds answers to the prompt and returns the buffers it
// handed out, so tests can check they were wiped.
func stubPasswords(t *testing.T, answers ...string) *[][]byte {
	t.Helper()
	orig := readPassword
	var handed [][]byte
	i := 0
	readPassword = func(int) ([]byte, error) {
		if i >= len(answers) {
			return nil, errors.New("no more input")
		}
		b := []byte(answers[i])
		i++
		handed = append(handed, b)
		return b, nil
	}
	t.Cleanup(func() { readPassword = orig })
	return &handed
}

func TestMigrate(t *testing.T) {
	h := &harness{backend: &fakeBackend{}}
	require.NoError(t, run(t, h, "migrate", "--dsn", "postgres://x/y"))
	assert.True(t, h.backend.migrated)
	assert.True(t, h.backend.closed)
	assert.Equal(t, "postgres://x/y", h.cfg.DatabaseDSN)
	assert.Contains(t, h.out.String(), "migrations applied")
}

func TestMigrate_Error(t *testing.T) {
	h := &harness{backend: &fakeBackend{err: errors.New("dirty")}}
	err := run(t, h, "migrate")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dirty")
}

func TestCreateUser(t *testing.T) {
	stubPasswords(t, "Br3wing-day!", "Br3wing-day!")
	h := &harness{backend: &fakeBackend{}}

	require.NoError(t, run(t, h, "create-user", "--email", "ops@ferment.fr", "--tenant", "ferment", "--role", "admin"))
	assert.Equal(t, services.RegisterInput{
		Email:    "ops@ferment.fr",
		Password: "Br3wing-day!",
		Tenant:   "ferment",
		Role:     "admin",
	}, h.backend.created)
	assert.Contains(t, h.out.String(), "created ops@ferment.fr (admin)")
}

func TestCreateUser_WipesTypedPasswords(t *testing.T) {
	handed := stubPasswords(t, "Br3wing-day!", "Br3wing-day!")
	h := &harness{backend: &fakeBackend{}}
	require.NoError(t, run(t, h, "create-user", "--email", "a@b.fr", "--tenant", "t"))

	assert.Equal(t, "Br3wing-day!", h.backend.created.Password)
	require.Len(t, *handed, 2)
	for _, b := range *handed {
		assert.Equal(t, make([]byte, len("Br3wing-day!")), b)
	}
}

func TestCreateUser_MismatchStillWipes(t *testing.T) {
	handed := stubPasswords(t, "one", "two")
	_, err := promptNewPassword(&bytes.Buffer{})
	require.ErrorIs(t, err, errPasswordMismatch)
	assert.Equal(t, [][]byte{{0, 0, 0}, {0, 0, 0}}, *handed)
}

func TestActivation(t *testing.T) {
	h := &harness{backend: &fakeBackend{}}
	require.NoError(t, run(t, h, "deactivate", "--email", "Ops@Ferment.fr", "--dsn", "postgres://x"))
	assert.Equal(t, map[string]bool{"Ops@Ferment.fr": false}, h.backend.active)
	assert.Equal(t, "deactivated ops@ferment.fr\nsessions revoked: 2\n", h.out.String())
	assert.Equal(t, "postgres://x", h.cfg.DatabaseDSN)
	assert.True(t, h.backend.closed)

	require.NoError(t, run(t, h, "activate", "--email", "ops@ferment.fr"))
	assert.True(t, h.backend.active["ops@ferment.fr"])
	assert.Equal(t, "activated ops@ferment.fr\n", h.out.String())

	assert.Error(t, run(t, &harness{backend: &fakeBackend{}}, "deactivate"))

	failing := &harness{backend: &fakeBackend{err: common.ErrorNotFound}}
	err := run(t, failing, "activate", "--email", "nobody@ferment.fr")
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestCreateUser_DefaultRole(t *testing.T) {
	stubPasswords(t, "pw", "pw")
	h := &harness{backend: &fakeBackend{}}
	require.NoError(t, run(t, h, "create-user", "--email", "a@b.fr", "--tenant", "t"))
	assert.Equal(t, models.RoleUser, h.backend.created.Role)
}

func TestCreateUser_Mismatch(t *testing.T) {
	stubPasswords(t, "one", "two")
	h := &harness{backend: &fakeBackend{}}
	err := run(t, h, "create-user", "--email", "a@b.fr", "--tenant", "t")
	assert.ErrorIs(t, err, errPasswordMismatch)
	assert.Empty(t, h.backend.created.Email)
}

func TestCreateUser_RequiredFlags(t *testing.T) {
	h := &harness{backend: &fakeBackend{}}
	err := run(t, h, "create-user", "--email", "a@b.fr")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--tenant")
}

func TestUnlock(t *testing.T) {
	h := &harness{backend: &fakeBackend{}}
	require.NoError(t, run(t, h, "unlock", "--email", "Ops@Ferment.fr"))
	assert.Equal(t, "Ops@Ferment.fr", h.backend.unlocked)

	err := run(t, &harness{backend: &fakeBackend{}}, "unlock")
	assert.Error(t, err)
}

func TestCleanup(t *testing.T) {
	h := &harness{backend: &fakeBackend{}}
	require.NoError(t, run(t, h, "cleanup"))
	assert.Equal(t, "sessions: 3\nreset tokens: 2\nlogin failures: 1\n", h.out.String())
}
