package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// The sync engine flips synced/pendingSync after acknowledgement
// without bumping lastModified: a flag change is bookkeeping, not a
// mutation, and must not win LWW races against real edits.

// SetInvoiceSyncState updates an invoice's sync flags in place.
// Missing ids are a no-op.
func (s *Store) SetInvoiceSyncState(ctx context.Context, id string, synced, pendingSync bool) error {
	inv, err := s.GetInvoice(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	inv.Synced = synced
	inv.PendingSync = pendingSync
	return s.rewrite(ctx, "invoices", id, inv)
}

// SetUserSyncState updates a user's sync flags in place. Missing ids
// are a no-op.
func (s *Store) SetUserSyncState(ctx context.Context, id string, synced, pendingSync bool) error {
	u, err := s.GetUser(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	u.Synced = synced
	u.PendingSync = pendingSync
	return s.rewrite(ctx, "users", id, u)
}

// SetSettingsSyncState updates the settings singleton's sync flags in
// place. A missing record is a no-op.
func (s *Store) SetSettingsSyncState(ctx context.Context, synced, pendingSync bool) error {
	settings, err := s.GetSettings(ctx)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	settings.Synced = synced
	settings.PendingSync = pendingSync
	return s.rewrite(ctx, "settings", settings.ID, settings)
}

func (s *Store) rewrite(ctx context.Context, table, id string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", table, err)
	}
	if _, err := s.db.ExecContext(ctx, `UPDATE `+table+` SET data = ? WHERE id = ?`, raw, id); err != nil {
		return fmt.Errorf("update %s flags: %w", table, err)
	}
	return nil
}
