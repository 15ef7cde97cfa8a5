package service

import (
	"context"
	"testing"
	"time"

	"github.com/wadi-transport/invoicesync/internal/models"
	"github.com/wadi-transport/invoicesync/internal/repository"
)

type mockSettingsRepo struct {
	GetFunc           func(ctx context.Context) (*models.Settings, error)
	UpsertIfNewerFunc func(ctx context.Context, s models.Settings) (*models.Settings, bool, error)
}

func (m *mockSettingsRepo) Get(ctx context.Context) (*models.Settings, error) {
	return m.GetFunc(ctx)
}
func (m *mockSettingsRepo) UpsertIfNewer(ctx context.Context, s models.Settings) (*models.Settings, bool, error) {
	return m.UpsertIfNewerFunc(ctx, s)
}

func TestSettingsGet_BootstrapsDefault(t *testing.T) {
	repo := &mockSettingsRepo{
		GetFunc: func(ctx context.Context) (*models.Settings, error) {
			return nil, repository.ErrNotFound
		},
		UpsertIfNewerFunc: func(ctx context.Context, s models.Settings) (*models.Settings, bool, error) {
			if s.ID != models.SettingsID {
				t.Errorf("default settings id = %q; want %q", s.ID, models.SettingsID)
			}
			if s.WeightUnit != "kg" {
				t.Errorf("default weight unit = %q; want kg", s.WeightUnit)
			}
			return &s, true, nil
		},
	}
	svc := NewSettingsService(repo)

	got, err := svc.Get(context.Background())
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if got.InvoiceNumberFormat != "TRN-{timestamp}-{random}" {
		t.Errorf("invoice number format = %q", got.InvoiceNumberFormat)
	}
}

func TestSettingsGet_Existing(t *testing.T) {
	existing := &models.Settings{
		ID:           models.SettingsID,
		DefaultScale: "North Gate",
		SyncMeta:     models.SyncMeta{LastModified: time.Now()},
	}
	repo := &mockSettingsRepo{
		GetFunc: func(ctx context.Context) (*models.Settings, error) {
			return existing, nil
		},
		UpsertIfNewerFunc: func(ctx context.Context, s models.Settings) (*models.Settings, bool, error) {
			t.Error("existing settings must not be rewritten on read")
			return nil, false, nil
		},
	}
	svc := NewSettingsService(repo)

	got, err := svc.Get(context.Background())
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if got.DefaultScale != "North Gate" {
		t.Errorf("scale = %q; want North Gate", got.DefaultScale)
	}
}
