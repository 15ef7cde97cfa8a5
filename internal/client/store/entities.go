package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/wadi-transport/invoicesync/internal/conflict"
	"github.com/wadi-transport/invoicesync/internal/models"
)

// SaveInvoice upserts an invoice under the LWW policy: when the stored
// record is newer the write is silently ignored and the stored record
// is returned, so an out-of-order pull can never regress local state.
func (s *Store) SaveInvoice(ctx context.Context, inv models.Invoice) (*models.Invoice, error) {
	var existingMs int64
	var existingRaw []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT last_modified, data FROM invoices WHERE id = ?
	`, inv.ID).Scan(&existingMs, &existingRaw)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("check invoice: %w", err)
	}

	if err == nil && !conflict.IncomingWinsMillis(inv.LastModified.UnixMilli(), existingMs) {
		var existing models.Invoice
		if err := json.Unmarshal(existingRaw, &existing); err != nil {
			return nil, fmt.Errorf("decode invoice: %w", err)
		}
		return &existing, nil
	}

	raw, err := json.Marshal(inv)
	if err != nil {
		return nil, fmt.Errorf("encode invoice: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO invoices (id, last_modified, data) VALUES (?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET last_modified = excluded.last_modified, data = excluded.data
	`, inv.ID, inv.LastModified.UnixMilli(), raw)
	if err != nil {
		return nil, fmt.Errorf("save invoice: %w", err)
	}
	return &inv, nil
}

// GetInvoice fetches an invoice by id. ErrNotFound when absent.
func (s *Store) GetInvoice(ctx context.Context, id string) (*models.Invoice, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM invoices WHERE id = ?`, id).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get invoice: %w", err)
	}
	var inv models.Invoice
	if err := json.Unmarshal(raw, &inv); err != nil {
		return nil, fmt.Errorf("decode invoice: %w", err)
	}
	return &inv, nil
}

// GetAllInvoices returns every stored invoice, unordered. Callers
// filter, sort and paginate.
func (s *Store) GetAllInvoices(ctx context.Context) ([]models.Invoice, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT data FROM invoices`)
	if err != nil {
		return nil, fmt.Errorf("list invoices: %w", err)
	}
	defer rows.Close()

	var invoices []models.Invoice
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		var inv models.Invoice
		if err := json.Unmarshal(raw, &inv); err != nil {
			return nil, fmt.Errorf("decode invoice: %w", err)
		}
		invoices = append(invoices, inv)
	}
	return invoices, rows.Err()
}

// DeleteInvoice removes an invoice unconditionally; deletes win over
// any stored timestamp. Deleting a missing id is a no-op.
func (s *Store) DeleteInvoice(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM invoices WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete invoice: %w", err)
	}
	return nil
}

// SaveUser upserts a user under the LWW policy. A username collision
// with a different id fails with ErrDuplicateKey and leaves the store
// unchanged.
func (s *Store) SaveUser(ctx context.Context, u models.User) (*models.User, error) {
	var dupID string
	err := s.db.QueryRowContext(ctx, `
		SELECT id FROM users WHERE username = ? AND id <> ?
	`, u.Username, u.ID).Scan(&dupID)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("check username: %w", err)
	}
	if err == nil {
		return nil, fmt.Errorf("username %q: %w", u.Username, ErrDuplicateKey)
	}

	var existingMs int64
	var existingRaw []byte
	err = s.db.QueryRowContext(ctx, `
		SELECT last_modified, data FROM users WHERE id = ?
	`, u.ID).Scan(&existingMs, &existingRaw)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("check user: %w", err)
	}

	var existing *models.User
	if err == nil {
		var stored models.User
		if err := json.Unmarshal(existingRaw, &stored); err != nil {
			return nil, fmt.Errorf("decode user: %w", err)
		}
		existing = &stored
	}

	// The password hash is a credential cache for offline login, not
	// part of the document: server responses often strip it, and losing
	// it would lock the account out of offline login. A hash flows from
	// whichever side has one, and never touches the LWW clock.
	if existing != nil && !conflict.IncomingWinsMillis(u.LastModified.UnixMilli(), existingMs) {
		if u.Password != "" && existing.Password == "" {
			existing.Password = u.Password
			raw, err := json.Marshal(existing)
			if err != nil {
				return nil, fmt.Errorf("encode user: %w", err)
			}
			if _, err := s.db.ExecContext(ctx, `UPDATE users SET data = ? WHERE id = ?`, raw, u.ID); err != nil {
				return nil, fmt.Errorf("cache password hash: %w", err)
			}
		}
		return existing, nil
	}
	if u.Password == "" && existing != nil && existing.Password != "" {
		u.Password = existing.Password
	}

	raw, err := json.Marshal(u)
	if err != nil {
		return nil, fmt.Errorf("encode user: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO users (id, username, last_modified, data) VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET username = excluded.username, last_modified = excluded.last_modified, data = excluded.data
	`, u.ID, u.Username, u.LastModified.UnixMilli(), raw)
	if err != nil {
		return nil, fmt.Errorf("save user: %w", err)
	}
	return &u, nil
}

// GetUser fetches a user by id. ErrNotFound when absent.
func (s *Store) GetUser(ctx context.Context, id string) (*models.User, error) {
	return s.scanUserRow(s.db.QueryRowContext(ctx, `SELECT data FROM users WHERE id = ?`, id))
}

// GetUserByUsername looks a user up by the username secondary key.
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	return s.scanUserRow(s.db.QueryRowContext(ctx, `SELECT data FROM users WHERE username = ?`, username))
}

func (s *Store) scanUserRow(row *sql.Row) (*models.User, error) {
	var raw []byte
	err := row.Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	var u models.User
	if err := json.Unmarshal(raw, &u); err != nil {
		return nil, fmt.Errorf("decode user: %w", err)
	}
	return &u, nil
}

// GetAllUsers returns every stored user, unordered.
func (s *Store) GetAllUsers(ctx context.Context) ([]models.User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT data FROM users`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		var u models.User
		if err := json.Unmarshal(raw, &u); err != nil {
			return nil, fmt.Errorf("decode user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// DeleteUser removes a user unconditionally. Deleting a missing id is
// a no-op.
func (s *Store) DeleteUser(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	return nil
}

// SaveSettings upserts the settings singleton under the LWW policy.
func (s *Store) SaveSettings(ctx context.Context, settings models.Settings) (*models.Settings, error) {
	if settings.ID == "" {
		settings.ID = models.SettingsID
	}

	var existingMs int64
	var existingRaw []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT last_modified, data FROM settings WHERE id = ?
	`, settings.ID).Scan(&existingMs, &existingRaw)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("check settings: %w", err)
	}

	if err == nil && !conflict.IncomingWinsMillis(settings.LastModified.UnixMilli(), existingMs) {
		var existing models.Settings
		if err := json.Unmarshal(existingRaw, &existing); err != nil {
			return nil, fmt.Errorf("decode settings: %w", err)
		}
		return &existing, nil
	}

	raw, err := json.Marshal(settings)
	if err != nil {
		return nil, fmt.Errorf("encode settings: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO settings (id, last_modified, data) VALUES (?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET last_modified = excluded.last_modified, data = excluded.data
	`, settings.ID, settings.LastModified.UnixMilli(), raw)
	if err != nil {
		return nil, fmt.Errorf("save settings: %w", err)
	}
	return &settings, nil
}

// GetSettings fetches the settings singleton. ErrNotFound when it has
// never been written.
func (s *Store) GetSettings(ctx context.Context) (*models.Settings, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM settings WHERE id = ?`, models.SettingsID).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get settings: %w", err)
	}
	var settings models.Settings
	if err := json.Unmarshal(raw, &settings); err != nil {
		return nil, fmt.Errorf("decode settings: %w", err)
	}
	return &settings, nil
}
