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

// PostgresInvoiceRepository implements invoice persistence against a
// PostgreSQL database. The full invoice is stored as JSONB alongside a
// handful of indexed columns used for search and conflict checks.
type PostgresInvoiceRepository struct {
	// DB is the database handle for executing queries and transactions.
	DB *sql.DB
}

// NewPostgresInvoiceRepository creates an invoice repository using the
// provided *sql.DB.
func NewPostgresInvoiceRepository(db *sql.DB) *PostgresInvoiceRepository {
	return &PostgresInvoiceRepository{DB: db}
}

// List returns the page of non-deleted invoices matching the filter,
// newest first, together with the total match count.
func (r *PostgresInvoiceRepository) List(ctx context.Context, filter models.InvoiceFilter, page, limit int) ([]models.Invoice, int, error) {
	where := `deleted = false`
	args := []any{}
	n := 0

	if filter.SearchTerm != "" {
		n++
		where += fmt.Sprintf(` AND (invoice_number ILIKE $%d OR driver_name ILIKE $%d OR vehicle_number ILIKE $%d)`, n, n, n)
		args = append(args, "%"+filter.SearchTerm+"%")
	}
	if !filter.StartDate.IsZero() {
		n++
		where += fmt.Sprintf(` AND created_at >= $%d`, n)
		args = append(args, filter.StartDate)
	}
	if !filter.EndDate.IsZero() {
		// End date is inclusive: match anything before the next day.
		n++
		where += fmt.Sprintf(` AND created_at < $%d`, n)
		args = append(args, filter.EndDate.AddDate(0, 0, 1))
	}

	var total int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM invoices WHERE `+where, args...).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count invoices: %w", err)
	}

	query := fmt.Sprintf(`SELECT data FROM invoices WHERE %s ORDER BY created_at DESC OFFSET $%d LIMIT $%d`, where, n+1, n+2)
	args = append(args, (page-1)*limit, limit)

	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list invoices: %w", err)
	}
	defer rows.Close()

	var invoices []models.Invoice
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, 0, fmt.Errorf("scan: %w", err)
		}
		var inv models.Invoice
		if err := json.Unmarshal(raw, &inv); err != nil {
			return nil, 0, fmt.Errorf("decode invoice: %w", err)
		}
		invoices = append(invoices, inv)
	}
	return invoices, total, rows.Err()
}

// GetByID fetches a single non-deleted invoice.
func (r *PostgresInvoiceRepository) GetByID(ctx context.Context, id string) (*models.Invoice, error) {
	var raw []byte
	err := r.DB.QueryRowContext(ctx, `
		SELECT data FROM invoices WHERE id = $1 AND deleted = false
	`, id).Scan(&raw)
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

// UpsertIfNewer applies the server-side LWW policy: the incoming
// invoice is written only when its lastModified strictly exceeds the
// stored one (a missing record always loses to the incoming write).
// It returns the winning record and whether the incoming write was
// applied. A colliding invoice number on a different id yields
// ErrDuplicateKey and leaves the table unchanged.
func (r *PostgresInvoiceRepository) UpsertIfNewer(ctx context.Context, inv models.Invoice) (*models.Invoice, bool, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var existingMs int64
	var existingRaw []byte
	err = tx.QueryRowContext(ctx, `
		SELECT last_modified, data FROM invoices WHERE id = $1
	`, inv.ID).Scan(&existingMs, &existingRaw)
	if err != nil && err != sql.ErrNoRows {
		return nil, false, fmt.Errorf("check version: %w", err)
	}

	if err == nil && !conflict.IncomingWinsMillis(inv.LastModified.UnixMilli(), existingMs) {
		var existing models.Invoice
		if err := json.Unmarshal(existingRaw, &existing); err != nil {
			return nil, false, fmt.Errorf("decode invoice: %w", err)
		}
		return &existing, false, nil
	}

	var dup bool
	err = tx.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM invoices WHERE invoice_number = $1 AND id <> $2 AND deleted = false)
	`, inv.InvoiceNumber, inv.ID).Scan(&dup)
	if err != nil {
		return nil, false, fmt.Errorf("check invoice number: %w", err)
	}
	if dup {
		return nil, false, ErrDuplicateKey
	}

	// The stored copy is authoritative once acknowledged.
	inv.Synced = true
	inv.PendingSync = false

	raw, err := json.Marshal(inv)
	if err != nil {
		return nil, false, fmt.Errorf("encode invoice: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO invoices (id, invoice_number, driver_name, vehicle_number, created_at, last_modified, deleted, data)
		VALUES ($1, $2, $3, $4, $5, $6, false, $7)
		ON CONFLICT (id) DO UPDATE SET
			invoice_number = EXCLUDED.invoice_number,
			driver_name = EXCLUDED.driver_name,
			vehicle_number = EXCLUDED.vehicle_number,
			created_at = EXCLUDED.created_at,
			last_modified = EXCLUDED.last_modified,
			deleted = false,
			data = EXCLUDED.data
	`, inv.ID, inv.InvoiceNumber, inv.DriverName, inv.VehicleNumber, inv.CreatedAt, inv.LastModified.UnixMilli(), raw)
	if err != nil {
		return nil, false, fmt.Errorf("upsert invoice: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("commit: %w", err)
	}
	return &inv, true, nil
}

// SoftDelete tombstones an invoice. Tombstones are purged later by the
// cleaner; until then the row keeps the deletion timestamp so stale
// client pushes cannot resurrect it.
func (r *PostgresInvoiceRepository) SoftDelete(ctx context.Context, id string, deletedAt time.Time) error {
	res, err := r.DB.ExecContext(ctx, `
		UPDATE invoices SET deleted = true, last_modified = $2 WHERE id = $1 AND deleted = false
	`, id, deletedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("delete invoice: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrNotFound
	}
	return nil
}
