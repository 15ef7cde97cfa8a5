// Package service provides the business logic of the invoicing server:
// validation, conflict-checked writes, user management and login. It
// delegates persistence to repository interfaces.
package service

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/wadi-transport/invoicesync/internal/models"
)

// maxPageLimit caps the page size a client may request.
const maxPageLimit = 100

// defaultPageLimit applies when the client does not send one.
const defaultPageLimit = 50

// InvoiceRepository defines the persistence operations needed by the
// InvoiceService.
type InvoiceRepository interface {
	// List returns a page of invoices matching the filter plus the total match count.
	List(ctx context.Context, filter models.InvoiceFilter, page, limit int) ([]models.Invoice, int, error)
	// GetByID fetches a single invoice.
	GetByID(ctx context.Context, id string) (*models.Invoice, error)
	// UpsertIfNewer writes the invoice under LWW; returns the winning
	// record and whether the write was applied.
	UpsertIfNewer(ctx context.Context, inv models.Invoice) (*models.Invoice, bool, error)
	// SoftDelete tombstones an invoice at the given time.
	SoftDelete(ctx context.Context, id string, deletedAt time.Time) error
}

// InvoiceService implements invoice business logic.
type InvoiceService struct {
	repo InvoiceRepository
}

// NewInvoiceService constructs an InvoiceService with the provided repository.
func NewInvoiceService(repo InvoiceRepository) *InvoiceService {
	return &InvoiceService{repo: repo}
}

// ListPage holds one page of an invoice listing.
type ListPage struct {
	Invoices   []models.Invoice
	Total      int
	Page       int
	Limit      int
	TotalPages int
}

// List returns a page of invoices. Page defaults to 1, limit to 50,
// capped at 100.
func (s *InvoiceService) List(ctx context.Context, filter models.InvoiceFilter, page, limit int) (*ListPage, error) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}

	invoices, total, err := s.repo.List(ctx, filter, page, limit)
	if err != nil {
		return nil, err
	}
	return &ListPage{
		Invoices:   invoices,
		Total:      total,
		Page:       page,
		Limit:      limit,
		TotalPages: (total + limit - 1) / limit,
	}, nil
}

// GetByID fetches a single invoice.
func (s *InvoiceService) GetByID(ctx context.Context, id string) (*models.Invoice, error) {
	return s.repo.GetByID(ctx, id)
}

// Upsert validates and writes an invoice under the LWW policy. The
// returned invoice is the winner (the stored record when the incoming
// write was stale); applied reports whether the write went through.
func (s *InvoiceService) Upsert(ctx context.Context, inv models.Invoice) (*models.Invoice, bool, error) {
	if errs := ValidateInvoice(&inv); len(errs) > 0 {
		return nil, false, fmt.Errorf("%w: %s", ErrValidation, errs[0].Message)
	}
	return s.repo.UpsertIfNewer(ctx, inv)
}

// Delete tombstones an invoice.
func (s *InvoiceService) Delete(ctx context.Context, id string) error {
	return s.repo.SoftDelete(ctx, id, time.Now())
}

// ValidationError describes a single invalid invoice field.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidateInvoice checks required fields, numeric bounds, and the
// financial consistency net = payable - discount + penalty (within one
// unit, to absorb rounding).
func ValidateInvoice(inv *models.Invoice) []ValidationError {
	var errs []ValidationError

	if strings.TrimSpace(inv.DriverName) == "" {
		errs = append(errs, ValidationError{Field: "driverName", Message: "driver name is required"})
	}
	if strings.TrimSpace(inv.VehicleType) == "" {
		errs = append(errs, ValidationError{Field: "vehicleType", Message: "vehicle type is required"})
	}
	if strings.TrimSpace(inv.VehicleNumber) == "" {
		errs = append(errs, ValidationError{Field: "vehicleNumber", Message: "vehicle number is required"})
	}
	if strings.TrimSpace(inv.Axles) == "" {
		errs = append(errs, ValidationError{Field: "axles", Message: "axle count is required"})
	}
	if inv.PayableAmount < 0 {
		errs = append(errs, ValidationError{Field: "payableAmount", Message: "payable amount cannot be negative"})
	}
	if inv.NetAmount < 0 {
		errs = append(errs, ValidationError{Field: "netAmount", Message: "net amount cannot be negative"})
	}

	expectedNet := inv.PayableAmount - inv.Discount + inv.Penalty
	if math.Abs(expectedNet-inv.NetAmount) > 1 {
		errs = append(errs, ValidationError{
			Field:   "netAmount",
			Message: "net amount does not match payable - discount + penalty",
		})
	}

	return errs
}
