package sessions

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
)

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	return NewPostgresRepository(db), mock, db
}

var (
	now     = time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	errDown = errors.New("db down")
)

const (
	qInsert   = `(?s)^\s*INSERT\s+INTO\s+user_sessions\b.*VALUES\s*\(\$1,\s*NULLIF\(\$2,\s*''\)::uuid,\s*\$3,\s*\$4\)\s*RETURNING\s+id\s*$`
	qIdentity = `(?s)^\s*SELECT\s+u\.id,.*FROM\s+user_sessions\s+s\s+JOIN\s+users\s+u\s+ON\s+u\.id\s*=\s*s\.user_id\s+WHERE\s+s\.token_hash\s*=\s*\$1\s+AND\s+s\.expires_at\s*>\s*\$2\s+AND\s+u\.is_active\s*$`
	qDelete   = `(?s)^\s*DELETE\s+FROM\s+user_sessions\s+WHERE\s+token_hash\s*=\s*\$1\s*$`
	qDelUser  = `(?s)^\s*DELETE\s+FROM\s+user_sessions\s+WHERE\s+user_id\s*=\s*\$1\s*$`
	qDelExp   = `(?s)^\s*DELETE\s+FROM\s+user_sessions\s+WHERE\s+expires_at\s*<\s*\$1\s*$`
)

func TestCreate_Success(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	exp := now.Add(30 * 24 * time.Hour)
	mock.ExpectQuery(qInsert).
		WithArgs("u1", "t1", "hash123", exp).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("s-1"))

	s := &models.Session{UserID: "u1", TenantID: "t1", TokenHash: "hash123", ExpiresAt: exp}
	if err := repo.Create(context.Background(), s); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.ID != "s-1" {
		t.Fatalf("ID not filled: %+v", s)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCreate_DBError(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(qInsert).
		WithArgs("u1", "t1", "hash123", sqlmock.AnyArg()).
		WillReturnError(errDown)

	err := repo.Create(context.Background(), &models.Session{UserID: "u1", TenantID: "t1", TokenHash: "hash123", ExpiresAt: now})
	if err == nil || !regexp.MustCompile(`^db error: .*db down`).MatchString(err.Error()) {
		t.Fatalf("expected wrapped db error, got %v", err)
	}
	if !errors.Is(err, errDown) {
		t.Fatalf("driver error lost from chain: %v", err)
	}
}

func TestFindIdentity_Found(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(qIdentity).
		WithArgs("hash123", now).
		WillReturnRows(sqlmock.NewRows([]string{"id", "tenant_id", "email", "role"}).
			AddRow("u1", "t1", "a@b.com", "admin"))

	got, err := repo.FindIdentity(context.Background(), "hash123", now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := models.Identity{UserID: "u1", TenantID: "t1", Email: "a@b.com", Role: "admin"}
	if *got != want {
		t.Fatalf("got %+v, want %+v", *got, want)
	}
}

func TestFindIdentity_NotFound(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(qIdentity).
		WithArgs("missing", now).
		WillReturnError(sql.ErrNoRows)

	_, err := repo.FindIdentity(context.Background(), "missing", now)
	if !errors.Is(err, common.ErrorNotFound) {
		t.Fatalf("want common.ErrorNotFound, got %v", err)
	}
}

func TestFindIdentity_DBError(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(qIdentity).
		WithArgs("hash123", now).
		WillReturnError(errors.New("db err"))

	_, err := repo.FindIdentity(context.Background(), "hash123", now)
	if err == nil || !regexp.MustCompile(`db error: .*db err`).MatchString(err.Error()) {
		t.Fatalf("expected wrapped db error, got %v", err)
	}
}

func TestDelete(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(qDelete).WithArgs("hash123").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(qDelete).WithArgs("hash123").WillReturnError(errors.New("db err"))

	if err := repo.Delete(context.Background(), "hash123"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err := repo.Delete(context.Background(), "hash123")
	if err == nil || !regexp.MustCompile(`db error: .*db err`).MatchString(err.Error()) {
		t.Fatalf("expected wrapped db error, got %v", err)
	}
}

func TestDeleteForUser(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(qDelUser).WithArgs("u1").WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := repo.DeleteForUser(context.Background(), "u1")
	if err != nil || n != 3 {
		t.Fatalf("DeleteForUser = %d, %v", n, err)
	}
}

func TestDeleteExpired(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(qDelExp).WithArgs(now).WillReturnResult(sqlmock.NewResult(0, 2))

	n, err := repo.DeleteExpired(context.Background(), now)
	if err != nil || n != 2 {
		t.Fatalf("DeleteExpired = %d, %v", n, err)
	}
}
