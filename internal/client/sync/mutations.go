package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wadi-transport/invoicesync/internal/client/api"
	"github.com/wadi-transport/invoicesync/internal/client/store"
	"github.com/wadi-transport/invoicesync/internal/models"
	"github.com/wadi-transport/invoicesync/internal/service"
)

// Every mutation follows the same shape: write optimistically to the
// local store, then either send directly (when online and the call
// succeeds) or enqueue exactly once for the next cycle. A mutation is
// never both sent and enqueued.

// InvoiceList is a filtered, paginated slice of invoices.
type InvoiceList struct {
	Invoices []models.Invoice
	Total    int
}

// SaveInvoice creates a new invoice. Missing id and invoice number are
// generated locally so the record is complete even when offline.
func (e *Engine) SaveInvoice(ctx context.Context, inv models.Invoice) (*models.Invoice, error) {
	if inv.ID == "" {
		inv.ID = uuid.NewString()
	}
	if inv.InvoiceNumber == "" {
		inv.InvoiceNumber = GenerateInvoiceNumber()
	}
	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = time.Now()
	}
	e.stamp(&inv.SyncMeta)
	if errs := service.ValidateInvoice(&inv); len(errs) > 0 {
		return nil, fmt.Errorf("%w: %s", service.ErrValidation, errs[0].Message)
	}
	if _, err := e.store.SaveInvoice(ctx, inv); err != nil {
		return nil, err
	}

	if e.conn.Online() {
		cctx, cancel := context.WithTimeout(ctx, e.callTimeout)
		resp, err := e.api.CreateInvoice(cctx, inv)
		cancel()
		switch {
		case err == nil:
			if err := e.acceptInvoice(ctx, inv.ID, *resp); err != nil {
				return nil, err
			}
			return resp, nil
		case api.IsTerminal(err):
			return nil, err
		}
		e.log.Info("create invoice deferred", zap.String("invoice", inv.ID))
	}
	if err := e.enqueueInvoice(ctx, models.OpCreate, inv); err != nil {
		return nil, err
	}
	return &inv, nil
}

// UpdateInvoice saves an edited invoice. The caller supplies the full
// updated record; the engine stamps the clock.
func (e *Engine) UpdateInvoice(ctx context.Context, inv models.Invoice) (*models.Invoice, error) {
	if inv.ID == "" {
		return nil, store.ErrNotFound
	}
	e.stamp(&inv.SyncMeta)
	if errs := service.ValidateInvoice(&inv); len(errs) > 0 {
		return nil, fmt.Errorf("%w: %s", service.ErrValidation, errs[0].Message)
	}
	if _, err := e.store.SaveInvoice(ctx, inv); err != nil {
		return nil, err
	}

	if e.conn.Online() {
		cctx, cancel := context.WithTimeout(ctx, e.callTimeout)
		resp, err := e.api.UpdateInvoice(cctx, inv)
		cancel()
		switch {
		case err == nil:
			if err := e.acceptInvoice(ctx, inv.ID, *resp); err != nil {
				return nil, err
			}
			return resp, nil
		case api.IsTerminal(err):
			return nil, err
		}
		e.log.Info("update invoice deferred", zap.String("invoice", inv.ID))
	}
	if err := e.enqueueInvoice(ctx, models.OpUpdate, inv); err != nil {
		return nil, err
	}
	return &inv, nil
}

// DeleteInvoice removes an invoice locally and propagates the delete.
func (e *Engine) DeleteInvoice(ctx context.Context, id string) error {
	if _, err := e.store.GetInvoice(ctx, id); err != nil {
		return err
	}
	if err := e.store.DeleteInvoice(ctx, id); err != nil {
		return err
	}

	if e.conn.Online() {
		cctx, cancel := context.WithTimeout(ctx, e.callTimeout)
		err := e.api.DeleteInvoice(cctx, id)
		cancel()
		switch {
		case err == nil:
			return nil
		case api.IsTerminal(err):
			return err
		}
		e.log.Info("delete invoice deferred", zap.String("invoice", id))
	}
	return e.enqueueDelete(ctx, models.EntityInvoice, id)
}

// Invoices lists invoices, preferring the server when reachable and
// falling back to a local filter otherwise.
func (e *Engine) Invoices(ctx context.Context, filter models.InvoiceFilter, page, limit int) (*InvoiceList, error) {
	if limit <= 0 {
		limit = pullPageSize
	}
	if page <= 0 {
		page = 1
	}
	if e.conn.Online() {
		cctx, cancel := context.WithTimeout(ctx, e.callTimeout)
		invoices, total, err := e.api.ListInvoices(cctx, filter, page, limit)
		cancel()
		if err == nil {
			for _, inv := range invoices {
				inv.Synced = true
				inv.PendingSync = false
				if _, err := e.store.SaveInvoice(ctx, inv); err != nil {
					return nil, err
				}
			}
			return &InvoiceList{Invoices: invoices, Total: total}, nil
		}
		if api.IsUnauthorized(err) {
			return nil, err
		}
		e.log.Info("listing invoices from local store", zap.Error(err))
	}
	return e.localInvoices(ctx, filter, page, limit)
}

func (e *Engine) localInvoices(ctx context.Context, filter models.InvoiceFilter, page, limit int) (*InvoiceList, error) {
	all, err := e.store.GetAllInvoices(ctx)
	if err != nil {
		return nil, err
	}
	filtered := all[:0:0]
	term := strings.ToLower(strings.TrimSpace(filter.SearchTerm))
	for _, inv := range all {
		if term != "" &&
			!strings.Contains(strings.ToLower(inv.InvoiceNumber), term) &&
			!strings.Contains(strings.ToLower(inv.DriverName), term) &&
			!strings.Contains(strings.ToLower(inv.VehicleNumber), term) {
			continue
		}
		if !filter.StartDate.IsZero() && inv.CreatedAt.Before(filter.StartDate) {
			continue
		}
		if !filter.EndDate.IsZero() && !inv.CreatedAt.Before(filter.EndDate.AddDate(0, 0, 1)) {
			continue
		}
		filtered = append(filtered, inv)
	}
	sort.Slice(filtered, func(i, j int) bool {
		return filtered[i].CreatedAt.After(filtered[j].CreatedAt)
	})
	total := len(filtered)
	start := (page - 1) * limit
	if start > total {
		start = total
	}
	end := start + limit
	if end > total {
		end = total
	}
	return &InvoiceList{Invoices: filtered[start:end], Total: total}, nil
}

// InvoiceByID returns the freshest copy available, preferring the
// server's.
func (e *Engine) InvoiceByID(ctx context.Context, id string) (*models.Invoice, error) {
	if e.conn.Online() {
		cctx, cancel := context.WithTimeout(ctx, e.callTimeout)
		resp, err := e.api.GetInvoice(cctx, id)
		cancel()
		if err == nil {
			resp.Synced = true
			resp.PendingSync = false
			if _, err := e.store.SaveInvoice(ctx, *resp); err != nil {
				return nil, err
			}
			return resp, nil
		}
		if api.IsTerminal(err) {
			return nil, err
		}
	}
	return e.store.GetInvoice(ctx, id)
}

// Users lists users from the local store; pull keeps it current.
func (e *Engine) Users(ctx context.Context) ([]models.User, error) {
	return e.store.GetAllUsers(ctx)
}

// AddUser creates a user with default role and permissions. The
// password is hashed before it touches the store or the wire.
func (e *Engine) AddUser(ctx context.Context, name, username, password string) (*models.User, error) {
	hash, err := service.HashPassword(password)
	if err != nil {
		return nil, err
	}
	u := models.User{
		ID:          uuid.NewString(),
		Name:        name,
		Username:    username,
		Password:    hash,
		Role:        models.RoleUser,
		Permissions: models.DefaultUserPermissions(),
		CreatedAt:   time.Now(),
		IsActive:    true,
	}
	e.stamp(&u.SyncMeta)
	if _, err := e.store.SaveUser(ctx, u); err != nil {
		return nil, err
	}

	if e.conn.Online() {
		cctx, cancel := context.WithTimeout(ctx, e.callTimeout)
		resp, err := e.api.CreateUser(cctx, u)
		cancel()
		switch {
		case err == nil:
			if err := e.acceptUser(ctx, u.ID, *resp); err != nil {
				return nil, err
			}
			return e.store.GetUser(ctx, resp.ID)
		case api.IsTerminal(err):
			return nil, err
		}
		e.log.Info("create user deferred", zap.String("user", u.ID))
	}
	if err := e.enqueueUser(ctx, models.OpCreate, u); err != nil {
		return nil, err
	}
	return &u, nil
}

// UpdateUser saves an edited user. A plaintext password in the record
// is hashed; an already hashed one passes through so offline login
// keeps working.
func (e *Engine) UpdateUser(ctx context.Context, u models.User) (*models.User, error) {
	if u.ID == "" {
		return nil, store.ErrNotFound
	}
	if u.Password != "" && !service.IsPasswordHashed(u.Password) {
		hash, err := service.HashPassword(u.Password)
		if err != nil {
			return nil, err
		}
		u.Password = hash
	}
	e.stamp(&u.SyncMeta)
	if _, err := e.store.SaveUser(ctx, u); err != nil {
		return nil, err
	}

	if e.conn.Online() {
		cctx, cancel := context.WithTimeout(ctx, e.callTimeout)
		resp, err := e.api.UpdateUser(cctx, u)
		cancel()
		switch {
		case err == nil:
			if err := e.acceptUser(ctx, u.ID, *resp); err != nil {
				return nil, err
			}
			return e.store.GetUser(ctx, resp.ID)
		case api.IsTerminal(err):
			return nil, err
		}
		e.log.Info("update user deferred", zap.String("user", u.ID))
	}
	if err := e.enqueueUser(ctx, models.OpUpdate, u); err != nil {
		return nil, err
	}
	return &u, nil
}

// UpdateUserPermissions replaces a user's permission set.
func (e *Engine) UpdateUserPermissions(ctx context.Context, id string, perms []models.Permission) (*models.User, error) {
	u, err := e.store.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}
	u.Permissions = perms
	e.stamp(&u.SyncMeta)
	if _, err := e.store.SaveUser(ctx, *u); err != nil {
		return nil, err
	}

	if e.conn.Online() {
		cctx, cancel := context.WithTimeout(ctx, e.callTimeout)
		resp, err := e.api.UpdateUserPermissions(cctx, id, perms)
		cancel()
		switch {
		case err == nil:
			if err := e.acceptUser(ctx, id, *resp); err != nil {
				return nil, err
			}
			return e.store.GetUser(ctx, resp.ID)
		case api.IsTerminal(err):
			return nil, err
		}
		e.log.Info("permission update deferred", zap.String("user", id))
	}
	if err := e.enqueueUser(ctx, models.OpUpdate, *u); err != nil {
		return nil, err
	}
	return u, nil
}

// DeleteUser removes a user locally and propagates the delete.
func (e *Engine) DeleteUser(ctx context.Context, id string) error {
	if _, err := e.store.GetUser(ctx, id); err != nil {
		return err
	}
	if err := e.store.DeleteUser(ctx, id); err != nil {
		return err
	}

	if e.conn.Online() {
		cctx, cancel := context.WithTimeout(ctx, e.callTimeout)
		err := e.api.DeleteUser(cctx, id)
		cancel()
		switch {
		case err == nil:
			return nil
		case api.IsTerminal(err):
			return err
		}
		e.log.Info("delete user deferred", zap.String("user", id))
	}
	return e.enqueueDelete(ctx, models.EntityUser, id)
}

// Settings returns the settings singleton, seeding defaults on first
// use.
func (e *Engine) Settings(ctx context.Context) (*models.Settings, error) {
	s, err := e.store.GetSettings(ctx)
	if err == nil {
		return s, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	def := service.DefaultSettings()
	def.LastModifiedDevice = e.deviceID
	def.Synced = false
	def.PendingSync = false
	return e.store.SaveSettings(ctx, def)
}

// UpdateSettings saves the singleton and propagates it.
func (e *Engine) UpdateSettings(ctx context.Context, s models.Settings) (*models.Settings, error) {
	s.ID = models.SettingsID
	e.stamp(&s.SyncMeta)
	if _, err := e.store.SaveSettings(ctx, s); err != nil {
		return nil, err
	}

	if e.conn.Online() {
		cctx, cancel := context.WithTimeout(ctx, e.callTimeout)
		resp, err := e.api.UpdateSettings(cctx, s)
		cancel()
		switch {
		case err == nil:
			if _, err := e.store.SaveSettings(ctx, *resp); err != nil {
				return nil, err
			}
			if err := e.store.SetSettingsSyncState(ctx, true, false); err != nil {
				return nil, err
			}
			return resp, nil
		case api.IsTerminal(err):
			return nil, err
		}
		e.log.Info("settings update deferred")
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	if err := e.enqueue(ctx, models.OpUpdate, models.EntitySettings, raw); err != nil {
		return nil, err
	}
	if err := e.store.SetSettingsSyncState(ctx, false, true); err != nil {
		return nil, err
	}
	return &s, nil
}

// Login authenticates against the server when possible and against the
// locally cached password hash otherwise. A successful online login
// kicks off a sync cycle.
func (e *Engine) Login(ctx context.Context, username, password string) (*models.User, error) {
	if e.conn.Online() {
		cctx, cancel := context.WithTimeout(ctx, e.callTimeout)
		u, err := e.api.Login(cctx, username, password)
		cancel()
		switch {
		case err == nil:
			u.Synced = true
			u.PendingSync = false
			if _, err := e.store.SaveUser(ctx, *u); err != nil {
				return nil, err
			}
			if err := e.SyncCycle(ctx); err != nil && !errors.Is(err, ErrSyncInProgress) {
				e.log.Warn("post-login sync failed", zap.Error(err))
			}
			return u, nil
		case api.IsUnauthorized(err):
			return nil, service.ErrInvalidCredentials
		case api.IsTerminal(err):
			return nil, err
		}
		e.log.Info("falling back to offline login", zap.Error(err))
	}
	u, err := e.store.GetUserByUsername(ctx, username)
	if errors.Is(err, store.ErrNotFound) {
		return nil, service.ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if u.Password == "" || !service.ComparePassword(password, u.Password) {
		return nil, service.ErrInvalidCredentials
	}
	return u, nil
}

// Logout clears the session. The server call is best effort.
func (e *Engine) Logout(ctx context.Context) {
	if e.conn.Online() {
		cctx, cancel := context.WithTimeout(ctx, e.callTimeout)
		if err := e.api.Logout(cctx); err != nil {
			e.log.Info("logout call failed", zap.Error(err))
		}
		cancel()
	}
}

// stamp applies the LWW clock and marks the record locally dirty.
func (e *Engine) stamp(m *models.SyncMeta) {
	m.LastModified = time.Now()
	m.LastModifiedDevice = e.deviceID
	m.Synced = false
	m.PendingSync = false
}

func (e *Engine) enqueueInvoice(ctx context.Context, op models.OperationType, inv models.Invoice) error {
	inv.PendingSync = true
	raw, err := json.Marshal(inv)
	if err != nil {
		return err
	}
	if err := e.enqueue(ctx, op, models.EntityInvoice, raw); err != nil {
		return err
	}
	return e.store.SetInvoiceSyncState(ctx, inv.ID, false, true)
}

func (e *Engine) enqueueUser(ctx context.Context, op models.OperationType, u models.User) error {
	u.PendingSync = true
	raw, err := json.Marshal(u)
	if err != nil {
		return err
	}
	if err := e.enqueue(ctx, op, models.EntityUser, raw); err != nil {
		return err
	}
	return e.store.SetUserSyncState(ctx, u.ID, false, true)
}

func (e *Engine) enqueueDelete(ctx context.Context, entity models.EntityKind, id string) error {
	raw, err := json.Marshal(map[string]string{"id": id})
	if err != nil {
		return err
	}
	return e.enqueue(ctx, models.OpDelete, entity, raw)
}

func (e *Engine) enqueue(ctx context.Context, op models.OperationType, entity models.EntityKind, data json.RawMessage) error {
	id, err := e.store.Enqueue(ctx, models.PendingOperation{
		Type:      op,
		Entity:    entity,
		Data:      data,
		Timestamp: time.Now(),
	})
	if err != nil {
		return fmt.Errorf("enqueue %s %s: %w", op, entity, err)
	}
	e.log.Info("operation queued",
		zap.Int64("op", id),
		zap.String("type", string(op)),
		zap.String("entity", string(entity)))
	return nil
}

// GenerateInvoiceNumber produces a locally unique invoice number so an
// offline-created invoice is printable before the server ever sees it.
func GenerateInvoiceNumber() string {
	return fmt.Sprintf("TRN-%d-%s", time.Now().UnixMilli(),
		strings.ToUpper(fmt.Sprintf("%06x", rand.Intn(1<<24))))
}
