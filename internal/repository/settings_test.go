package repository

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/wadi-transport/invoicesync/internal/models"
)

func setupSettingsMock(t *testing.T) (*PostgresSettingsRepository, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to open sqlmock database: %v", err)
	}
	repo := NewPostgresSettingsRepository(db)
	cleanup := func() {
		db.Close()
	}
	return repo, mock, cleanup
}

func TestSettingsGet_NotFound(t *testing.T) {
	repo, mock, cleanup := setupSettingsMock(t)
	defer cleanup()

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT data FROM settings WHERE id = $1`)).
		WithArgs(models.SettingsID).
		WillReturnRows(sqlmock.NewRows([]string{"data"}))

	_, err := repo.Get(context.Background())
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSettingsUpsertIfNewer_Applied(t *testing.T) {
	repo, mock, cleanup := setupSettingsMock(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT last_modified, data FROM settings WHERE id = $1`)).
		WithArgs(models.SettingsID).
		WillReturnRows(sqlmock.NewRows([]string{"last_modified", "data"}))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO settings`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	s := models.Settings{
		DefaultScale: "North Gate",
		WeightUnit:   "kg",
		SyncMeta:     models.SyncMeta{LastModified: time.Now()},
	}
	winner, applied, err := repo.UpsertIfNewer(context.Background(), s)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !applied {
		t.Error("expected the incoming write to be applied")
	}
	if winner.ID != models.SettingsID {
		t.Errorf("id forced to %q; want %q", winner.ID, models.SettingsID)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestSettingsUpsertIfNewer_StaleLoses(t *testing.T) {
	repo, mock, cleanup := setupSettingsMock(t)
	defer cleanup()

	now := time.Now()
	stored := models.Settings{
		ID:           models.SettingsID,
		DefaultScale: "Current",
		SyncMeta:     models.SyncMeta{LastModified: now},
	}
	raw, err := json.Marshal(stored)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT last_modified, data FROM settings WHERE id = $1`)).
		WithArgs(models.SettingsID).
		WillReturnRows(sqlmock.NewRows([]string{"last_modified", "data"}).
			AddRow(now.UnixMilli(), raw))
	mock.ExpectRollback()

	stale := models.Settings{
		DefaultScale: "Stale",
		SyncMeta:     models.SyncMeta{LastModified: now.Add(-time.Second)},
	}
	winner, applied, err := repo.UpsertIfNewer(context.Background(), stale)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if applied {
		t.Error("stale write must not be applied")
	}
	if winner.DefaultScale != "Current" {
		t.Errorf("winner = %q; want stored record", winner.DefaultScale)
	}
}
