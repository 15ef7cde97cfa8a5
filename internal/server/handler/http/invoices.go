package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wadi-transport/invoicesync/internal/models"
	"github.com/wadi-transport/invoicesync/internal/service"
)

// InvoiceService defines the invoice operations required by the
// InvoiceHandler.
type InvoiceService interface {
	List(ctx context.Context, filter models.InvoiceFilter, page, limit int) (*service.ListPage, error)
	GetByID(ctx context.Context, id string) (*models.Invoice, error)
	// Upsert writes an invoice under LWW and returns the winning record
	// plus whether the incoming write was applied.
	Upsert(ctx context.Context, inv models.Invoice) (*models.Invoice, bool, error)
	Delete(ctx context.Context, id string) error
}

// InvoiceHandler handles HTTP requests for the invoices collection.
type InvoiceHandler struct {
	Service InvoiceService
	Log     *zap.Logger
}

// List handles GET /api/invoices. Pagination metadata travels in the
// X-Total-Count, X-Page, X-Limit and X-Total-Pages response headers;
// the body is a bare invoice array.
func (h *InvoiceHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := models.InvoiceFilter{SearchTerm: q.Get("search")}
	if v := q.Get("startDate"); v != "" {
		if t, err := time.Parse("2006-01-02", v); err == nil {
			filter.StartDate = t
		}
	}
	if v := q.Get("endDate"); v != "" {
		if t, err := time.Parse("2006-01-02", v); err == nil {
			filter.EndDate = t
		}
	}
	page, _ := strconv.Atoi(q.Get("page"))
	limit, _ := strconv.Atoi(q.Get("limit"))

	result, err := h.Service.List(r.Context(), filter, page, limit)
	if err != nil {
		h.Log.Error("list invoices failed", zap.Error(err))
		writeServiceError(w, err)
		return
	}

	w.Header().Set("X-Total-Count", strconv.Itoa(result.Total))
	w.Header().Set("X-Page", strconv.Itoa(result.Page))
	w.Header().Set("X-Limit", strconv.Itoa(result.Limit))
	w.Header().Set("X-Total-Pages", strconv.Itoa(result.TotalPages))

	if result.Invoices == nil {
		result.Invoices = []models.Invoice{}
	}
	writeJSON(w, http.StatusOK, result.Invoices)
}

// Get handles GET /api/invoices/{id}.
func (h *InvoiceHandler) Get(w http.ResponseWriter, r *http.Request) {
	inv, err := h.Service.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, inv)
}

// Create handles POST /api/invoices. A missing id is assigned by the
// server; an incoming write older than the stored record is answered
// with the stored record and 200 rather than an error.
func (h *InvoiceHandler) Create(w http.ResponseWriter, r *http.Request) {
	var inv models.Invoice
	if err := json.NewDecoder(r.Body).Decode(&inv); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if inv.ID == "" {
		inv.ID = uuid.NewString()
	}
	if inv.LastModified.IsZero() {
		inv.LastModified = time.Now()
	}
	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = time.Now()
	}

	winner, applied, err := h.Service.Upsert(r.Context(), inv)
	if err != nil {
		h.Log.Error("create invoice failed", zap.Error(err), zap.String("id", inv.ID))
		writeServiceError(w, err)
		return
	}
	if !applied {
		h.Log.Info("stale invoice create skipped", zap.String("id", inv.ID))
		writeJSON(w, http.StatusOK, winner)
		return
	}
	writeJSON(w, http.StatusCreated, winner)
}

// Update handles PUT /api/invoices/{id}, an upsert-on-missing write
// under the same LWW policy as Create.
func (h *InvoiceHandler) Update(w http.ResponseWriter, r *http.Request) {
	var inv models.Invoice
	if err := json.NewDecoder(r.Body).Decode(&inv); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	inv.ID = chi.URLParam(r, "id")
	if inv.LastModified.IsZero() {
		inv.LastModified = time.Now()
	}

	winner, applied, err := h.Service.Upsert(r.Context(), inv)
	if err != nil {
		h.Log.Error("update invoice failed", zap.Error(err), zap.String("id", inv.ID))
		writeServiceError(w, err)
		return
	}
	if !applied {
		h.Log.Info("stale invoice update skipped", zap.String("id", inv.ID))
	}
	writeJSON(w, http.StatusOK, winner)
}

// Delete handles DELETE /api/invoices/{id}.
func (h *InvoiceHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.Service.Delete(r.Context(), id); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
