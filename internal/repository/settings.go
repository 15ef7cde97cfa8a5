package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/wadi-transport/invoicesync/internal/conflict"
	"github.com/wadi-transport/invoicesync/internal/models"
)

func msToTime(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

// PostgresSettingsRepository persists the settings singleton.
type PostgresSettingsRepository struct {
	// DB is the database handle for executing queries and transactions.
	DB *sql.DB
}

// NewPostgresSettingsRepository creates a settings repository using the
// provided *sql.DB.
func NewPostgresSettingsRepository(db *sql.DB) *PostgresSettingsRepository {
	return &PostgresSettingsRepository{DB: db}
}

// Get fetches the settings singleton. ErrNotFound when it has never
// been created.
func (r *PostgresSettingsRepository) Get(ctx context.Context) (*models.Settings, error) {
	var raw []byte
	err := r.DB.QueryRowContext(ctx, `
		SELECT data FROM settings WHERE id = $1
	`, models.SettingsID).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get settings: %w", err)
	}
	var s models.Settings
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("decode settings: %w", err)
	}
	return &s, nil
}

// UpsertIfNewer applies the server-side LWW policy to a settings write.
// It returns the winning record and whether the incoming write was
// applied.
func (r *PostgresSettingsRepository) UpsertIfNewer(ctx context.Context, s models.Settings) (*models.Settings, bool, error) {
	s.ID = models.SettingsID

	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var existingMs int64
	var existingRaw []byte
	err = tx.QueryRowContext(ctx, `
		SELECT last_modified, data FROM settings WHERE id = $1
	`, s.ID).Scan(&existingMs, &existingRaw)
	if err != nil && err != sql.ErrNoRows {
		return nil, false, fmt.Errorf("check version: %w", err)
	}

	if err == nil && !conflict.IncomingWinsMillis(s.LastModified.UnixMilli(), existingMs) {
		var existing models.Settings
		if err := json.Unmarshal(existingRaw, &existing); err != nil {
			return nil, false, fmt.Errorf("decode settings: %w", err)
		}
		return &existing, false, nil
	}

	s.Synced = true
	s.PendingSync = false

	raw, err := json.Marshal(s)
	if err != nil {
		return nil, false, fmt.Errorf("encode settings: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO settings (id, last_modified, data)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET
			last_modified = EXCLUDED.last_modified,
			data = EXCLUDED.data
	`, s.ID, s.LastModified.UnixMilli(), raw)
	if err != nil {
		return nil, false, fmt.Errorf("upsert settings: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("commit: %w", err)
	}
	return &s, true, nil
}
