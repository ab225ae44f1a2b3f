package users

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/fermentstation/internal/common"
	"github.com/dmitrijs2005/fermentstation/internal/server/models"
	"github.com/jackc/pgx/v5/pgconn"
)

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	return NewPostgresRepository(db), mock, db
}

var userCols = []string{"id", "tenant_id", "email", "password_hash", "role", "is_active", "created_at"}

const (
	qInsert     = `(?s)^INSERT\s+INTO\s+users\s*\(tenant_id,\s*email,\s*password_hash,\s*role,\s*is_active\)\s*VALUES\s*\(\$1,\s*lower\(\$2\),\s*\$3,\s*\$4,\s*\$5\)\s*RETURNING\s+id,\s*created_at\s*$`
	qByEmail    = `(?s)^SELECT\s+id,.*FROM\s+users\s+WHERE\s+lower\(email\)\s*=\s*lower\(\$1\)\s+LIMIT\s+1\s*$`
	qByID       = `(?s)^SELECT\s+id,.*FROM\s+users\s+WHERE\s+id\s*=\s*\$1\s*$`
	qCount      = `(?s)^SELECT\s+COUNT\(\*\)\s+FROM\s+users\s+WHERE\s+tenant_id\s*=\s*\$1\s*$`
	qUpdateHash = `(?s)^UPDATE\s+users\s+SET\s+password_hash\s*=\s*\$1\s+WHERE\s+id\s*=\s*\$2\s*$`
	qSetActive  = `(?s)^UPDATE\s+users\s+SET\s+is_active\s*=\s*\$1\s+WHERE\s+id\s*=\s*\$2\s*$`
)

func TestCreate_Success(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	mock.ExpectQuery(qInsert).
		WithArgs("t-1", "User@Example.com", "hash", models.RoleAdmin, true).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow("u-1", created))

	u := &models.User{TenantID: "t-1", Email: "User@Example.com", PasswordHash: "hash", Role: models.RoleAdmin, IsActive: true}
	got, err := repo.Create(context.Background(), u)
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if got.ID != "u-1" || !got.CreatedAt.Equal(created) {
		t.Fatalf("unexpected user: %+v", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCreate_Duplicate(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(qInsert).
		WithArgs("t-1", "a@b.com", "hash", models.RoleUser, true).
		WillReturnError(&pgconn.PgError{Code: "23505"})

	_, err := repo.Create(context.Background(), &models.User{TenantID: "t-1", Email: "a@b.com", PasswordHash: "hash", Role: models.RoleUser, IsActive: true})
	if !errors.Is(err, common.ErrorAlreadyExists) {
		t.Fatalf("want ErrorAlreadyExists, got %v", err)
	}
}

func TestCreate_DBError(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(qInsert).
		WithArgs("t-1", "a@b.com", "hash", models.RoleUser, true).
		WillReturnError(errors.New("db down"))

	_, err := repo.Create(context.Background(), &models.User{TenantID: "t-1", Email: "a@b.com", PasswordHash: "hash", Role: models.RoleUser, IsActive: true})
	if err == nil || !regexp.MustCompile(`db error: .*db down`).MatchString(err.Error()) {
		t.Fatalf("expected wrapped db error, got %v", err)
	}
}

func TestGetByEmail_Found(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	rows := sqlmock.NewRows(userCols).
		AddRow("u-1", "t-1", "user@example.com", "hash", "user", true, time.Now())
	mock.ExpectQuery(qByEmail).
		WithArgs("user@example.com").
		WillReturnRows(rows)

	got, err := repo.GetByEmail(context.Background(), "user@example.com")
	if err != nil {
		t.Fatalf("GetByEmail error: %v", err)
	}
	if got.ID != "u-1" || got.TenantID != "t-1" || !got.IsActive {
		t.Fatalf("unexpected user: %+v", got)
	}
}

func TestGetByEmail_NotFound(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(qByEmail).
		WithArgs("ghost@example.com").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetByEmail(context.Background(), "ghost@example.com")
	if !errors.Is(err, common.ErrorNotFound) {
		t.Fatalf("want common.ErrorNotFound, got %v", err)
	}
}

func TestGetByID_DBError(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(qByID).
		WithArgs("u-1").
		WillReturnError(errors.New("db err"))

	_, err := repo.GetByID(context.Background(), "u-1")
	if err == nil || !regexp.MustCompile(`db error: .*db err`).MatchString(err.Error()) {
		t.Fatalf("expected wrapped db error, got %v", err)
	}
}

func TestCountInTenant(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(qCount).
		WithArgs("t-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	n, err := repo.CountInTenant(context.Background(), "t-1")
	if err != nil || n != 3 {
		t.Fatalf("CountInTenant = %d, %v", n, err)
	}
}

func TestUpdatePasswordHash(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(qUpdateHash).
		WithArgs("new-hash", "u-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(qUpdateHash).
		WithArgs("new-hash", "missing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := repo.UpdatePasswordHash(context.Background(), "u-1", "new-hash"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := repo.UpdatePasswordHash(context.Background(), "missing", "new-hash"); !errors.Is(err, common.ErrorNotFound) {
		t.Fatalf("want ErrorNotFound, got %v", err)
	}
}

func TestSetActive_DBError(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(qSetActive).
		WithArgs(false, "u-1").
		WillReturnError(errors.New("db err"))

	err := repo.SetActive(context.Background(), "u-1", false)
	if err == nil || !regexp.MustCompile(`db error: .*db err`).MatchString(err.Error()) {
		t.Fatalf("expected wrapped db error, got %v", err)
	}
}
