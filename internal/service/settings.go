package service

import (
	"context"
	"errors"
	"time"

	"github.com/wadi-transport/invoicesync/internal/models"
	"github.com/wadi-transport/invoicesync/internal/repository"
)

// SettingsRepository defines the persistence operations needed by the
// SettingsService.
type SettingsRepository interface {
	// Get fetches the settings singleton.
	Get(ctx context.Context) (*models.Settings, error)
	// UpsertIfNewer writes the settings under LWW; returns the winning
	// record and whether the write was applied.
	UpsertIfNewer(ctx context.Context, s models.Settings) (*models.Settings, bool, error)
}

// SettingsService manages the global settings singleton.
type SettingsService struct {
	repo SettingsRepository
}

// NewSettingsService constructs a SettingsService with the provided repository.
func NewSettingsService(repo SettingsRepository) *SettingsService {
	return &SettingsService{repo: repo}
}

// DefaultSettings returns the settings record created on first access.
func DefaultSettings() models.Settings {
	return models.Settings{
		ID:                  models.SettingsID,
		DefaultScale:        "ميزان العبر",
		Username:            "خالد صالح الديني",
		InvoiceNumberFormat: "TRN-{timestamp}-{random}",
		WeightUnit:          "kg",
		PrinterPreferences:  &models.PrinterPreferences{PaperSize: "A4"},
		SyncMeta: models.SyncMeta{
			LastModified:       time.Now(),
			LastModifiedDevice: "server",
			Synced:             true,
		},
	}
}

// Get returns the settings singleton, creating the default record when
// it does not exist yet.
func (s *SettingsService) Get(ctx context.Context) (*models.Settings, error) {
	settings, err := s.repo.Get(ctx)
	if err == nil {
		return settings, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	created, _, err := s.repo.UpsertIfNewer(ctx, DefaultSettings())
	if err != nil {
		return nil, err
	}
	return created, nil
}

// Update writes the settings under the LWW policy.
func (s *SettingsService) Update(ctx context.Context, settings models.Settings) (*models.Settings, bool, error) {
	return s.repo.UpsertIfNewer(ctx, settings)
}
