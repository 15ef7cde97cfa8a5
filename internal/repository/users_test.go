package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/wadi-transport/invoicesync/internal/models"
)

func setupUserMock(t *testing.T) (*PostgresUserRepository, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to open sqlmock database: %v", err)
	}
	repo := NewPostgresUserRepository(db)
	cleanup := func() {
		db.Close()
	}
	return repo, mock, cleanup
}

var userCols = []string{"id", "name", "username", "password", "role", "permissions",
	"created_at", "last_modified", "last_modified_device", "is_active"}

func TestUserGetByUsername_Success(t *testing.T) {
	repo, mock, cleanup := setupUserMock(t)
	defer cleanup()

	created := time.Now().Add(-time.Hour)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT `+userColumns+` FROM users WHERE username = $1 AND is_active = true`)).
		WithArgs("ahmed").
		WillReturnRows(sqlmock.NewRows(userCols).
			AddRow("u1", "Ahmed", "ahmed", "$2a$10$hash", "user",
				"{view_invoices,create_invoice}", created, int64(1700000000000), "device_a", true))

	u, err := repo.GetByUsername(context.Background(), "ahmed")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if u.ID != "u1" || u.Username != "ahmed" {
		t.Errorf("unexpected user: %+v", u)
	}
	if len(u.Permissions) != 2 || u.Permissions[0] != models.PermViewInvoices {
		t.Errorf("permissions not decoded: %v", u.Permissions)
	}
	if u.LastModified.UnixMilli() != 1700000000000 {
		t.Errorf("lastModified = %v", u.LastModified)
	}
	if !u.Synced {
		t.Error("server rows are synced by definition")
	}
}

func TestUserGetByID_NotFound(t *testing.T) {
	repo, mock, cleanup := setupUserMock(t)
	defer cleanup()

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT `+userColumns+` FROM users WHERE id = $1`)).
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows(userCols))

	_, err := repo.GetByID(context.Background(), "ghost")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestUserUpsertIfNewer_TieKeepsStored(t *testing.T) {
	repo, mock, cleanup := setupUserMock(t)
	defer cleanup()

	ms := int64(1700000000000)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT `+userColumns+` FROM users WHERE id = $1`)).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows(userCols).
			AddRow("u1", "Stored", "ahmed", "hash", "user", "{view_invoices}",
				time.Now(), ms, "device_a", true))
	mock.ExpectRollback()

	incoming := models.User{
		ID:       "u1",
		Name:     "Incoming",
		Username: "ahmed",
		SyncMeta: models.SyncMeta{LastModified: time.UnixMilli(ms)},
	}
	winner, applied, err := repo.UpsertIfNewer(context.Background(), incoming)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if applied {
		t.Error("a timestamp tie must keep the stored record")
	}
	if winner.Name != "Stored" {
		t.Errorf("winner = %q; want stored record", winner.Name)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestUserUpsertIfNewer_DuplicateUsername(t *testing.T) {
	repo, mock, cleanup := setupUserMock(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT `+userColumns+` FROM users WHERE id = $1`)).
		WithArgs("u2").
		WillReturnRows(sqlmock.NewRows(userCols))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT EXISTS(SELECT 1 FROM users WHERE username = $1 AND id <> $2)`)).
		WithArgs("ahmed", "u2").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectRollback()

	u := models.User{
		ID:       "u2",
		Username: "ahmed",
		SyncMeta: models.SyncMeta{LastModified: time.Now()},
	}
	_, _, err := repo.UpsertIfNewer(context.Background(), u)
	if !errors.Is(err, ErrDuplicateKey) {
		t.Errorf("expected ErrDuplicateKey, got %v", err)
	}
}

func TestUserUpsertIfNewer_Applied(t *testing.T) {
	repo, mock, cleanup := setupUserMock(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT `+userColumns+` FROM users WHERE id = $1`)).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows(userCols))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT EXISTS`)).
		WithArgs("ahmed", "u1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO users`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	u := models.User{
		ID:          "u1",
		Name:        "Ahmed",
		Username:    "ahmed",
		Role:        models.RoleUser,
		Permissions: models.DefaultUserPermissions(),
		IsActive:    true,
		SyncMeta:    models.SyncMeta{LastModified: time.Now()},
	}
	winner, applied, err := repo.UpsertIfNewer(context.Background(), u)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !applied || !winner.Synced {
		t.Errorf("applied=%v synced=%v; want true/true", applied, winner.Synced)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestUserUpdatePermissions_NotFound(t *testing.T) {
	repo, mock, cleanup := setupUserMock(t)
	defer cleanup()

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE users SET permissions = $2, last_modified = $3, last_modified_device = $4 WHERE id = $1`)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	_, err := repo.UpdatePermissions(context.Background(), "ghost",
		models.DefaultUserPermissions(), time.Now().UnixMilli(), "device_a")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestUserDelete(t *testing.T) {
	repo, mock, cleanup := setupUserMock(t)
	defer cleanup()

	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM users WHERE id = $1`)).
		WithArgs("u1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	if err := repo.Delete(context.Background(), "u1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM users WHERE id = $1`)).
		WithArgs("ghost").
		WillReturnResult(sqlmock.NewResult(0, 0))
	if err := repo.Delete(context.Background(), "ghost"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
