// Package sync coordinates the local store with the remote API: it
// drains the pending-operation queue when connectivity returns, pulls
// the remote state back down, and offers write operations that fall
// back to the queue when the network is unavailable.
package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/wadi-transport/invoicesync/internal/client/api"
	"github.com/wadi-transport/invoicesync/internal/client/connectivity"
	"github.com/wadi-transport/invoicesync/internal/client/store"
	"github.com/wadi-transport/invoicesync/internal/models"
)

const (
	// maxRetries is the ceiling for retryable push failures. An
	// operation whose retry count exceeds it is dropped.
	maxRetries = 3

	// pullPageSize bounds the invoice pull to the most recent page.
	pullPageSize = 50

	defaultCallTimeout = 30 * time.Second
)

// ErrSyncInProgress is returned by SyncCycle when another cycle holds
// the in-flight guard.
var ErrSyncInProgress = errors.New("sync already in progress")

// API is the remote surface the engine pushes to and pulls from.
type API interface {
	Login(ctx context.Context, username, password string) (*models.User, error)
	Logout(ctx context.Context) error
	ListInvoices(ctx context.Context, filter models.InvoiceFilter, page, limit int) ([]models.Invoice, int, error)
	GetInvoice(ctx context.Context, id string) (*models.Invoice, error)
	CreateInvoice(ctx context.Context, inv models.Invoice) (*models.Invoice, error)
	UpdateInvoice(ctx context.Context, inv models.Invoice) (*models.Invoice, error)
	DeleteInvoice(ctx context.Context, id string) error
	ListUsers(ctx context.Context) ([]models.User, error)
	CreateUser(ctx context.Context, u models.User) (*models.User, error)
	UpdateUser(ctx context.Context, u models.User) (*models.User, error)
	UpdateUserPermissions(ctx context.Context, id string, perms []models.Permission) (*models.User, error)
	DeleteUser(ctx context.Context, id string) error
	GetSettings(ctx context.Context) (*models.Settings, error)
	UpdateSettings(ctx context.Context, s models.Settings) (*models.Settings, error)
}

// Engine owns the sync lifecycle. All dependencies are injected; the
// connectivity provider decides when a cycle runs, the engine decides
// what it does.
type Engine struct {
	store    *store.Store
	api      API
	conn     connectivity.Provider
	log      *zap.Logger
	deviceID string

	// callTimeout bounds each individual network call inside a cycle
	// so a stalled request cannot wedge the in-flight guard.
	callTimeout time.Duration

	syncing atomic.Bool
}

// New builds an engine. deviceID identifies this client in the
// lastModifiedDevice field of every write it originates.
func New(st *store.Store, apiClient API, conn connectivity.Provider, deviceID string, log *zap.Logger) *Engine {
	return &Engine{
		store:       st,
		api:         apiClient,
		conn:        conn,
		log:         log,
		deviceID:    deviceID,
		callTimeout: defaultCallTimeout,
	}
}

// DeviceID reports the identifier stamped on writes from this engine.
func (e *Engine) DeviceID() string { return e.deviceID }

// Online reports the connectivity provider's current belief.
func (e *Engine) Online() bool { return e.conn.Online() }

// Start watches connectivity transitions and runs a full cycle on
// every offline to online edge. It returns immediately; the watcher
// stops when ctx is cancelled.
func (e *Engine) Start(ctx context.Context) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case online, ok := <-e.conn.Changes():
				if !ok {
					return
				}
				if !online {
					continue
				}
				if err := e.SyncCycle(ctx); err != nil && !errors.Is(err, ErrSyncInProgress) {
					e.log.Warn("sync cycle failed", zap.Error(err))
				}
			}
		}
	}()
}

// SyncCycle pushes the pending queue and then pulls remote state. At
// most one cycle runs at a time; concurrent callers get
// ErrSyncInProgress instead of queue items being sent twice.
func (e *Engine) SyncCycle(ctx context.Context) error {
	if !e.syncing.CompareAndSwap(false, true) {
		return ErrSyncInProgress
	}
	defer e.syncing.Store(false)

	e.log.Info("sync cycle started")
	pushErr := e.push(ctx)
	if pushErr != nil && api.IsUnauthorized(pushErr) {
		// The session is dead. Pulling would fail the same way and
		// queued operations stay put until the user logs in again.
		return pushErr
	}
	pullErr := e.pull(ctx)
	if err := errors.Join(pushErr, pullErr); err != nil {
		return err
	}
	e.log.Info("sync cycle finished")
	return nil
}

// push drains the queue in insertion order. Acknowledged and terminal
// operations are removed; retryable failures bump the retry count and
// stay queued until the ceiling drops them. A failed operation does
// not block those behind it.
func (e *Engine) push(ctx context.Context) error {
	ops, err := e.store.SyncQueue(ctx)
	if err != nil {
		return fmt.Errorf("read sync queue: %w", err)
	}
	if len(ops) == 0 {
		return nil
	}
	e.log.Info("pushing pending operations", zap.Int("count", len(ops)))

	var errs []error
	for _, op := range ops {
		err := e.sendOp(ctx, op)
		if err == nil {
			if err := e.store.RemoveQueueItem(ctx, op.ID); err != nil {
				errs = append(errs, err)
			}
			continue
		}
		if api.IsUnauthorized(err) {
			// Leave the op queued; it is the session that is bad.
			errs = append(errs, err)
			break
		}
		if api.IsTerminal(err) {
			e.log.Warn("dropping operation after terminal rejection",
				zap.Int64("op", op.ID),
				zap.String("type", string(op.Type)),
				zap.String("entity", string(op.Entity)),
				zap.Error(err))
			// The record is no longer waiting on this op; the next
			// pull reconciles it against server truth.
			if err := e.clearPending(ctx, op); err != nil {
				errs = append(errs, err)
			}
			if err := e.store.RemoveQueueItem(ctx, op.ID); err != nil {
				errs = append(errs, err)
			}
			continue
		}
		op.Retries++
		if op.Retries > maxRetries {
			e.log.Warn("dropping operation after retry ceiling",
				zap.Int64("op", op.ID),
				zap.String("type", string(op.Type)),
				zap.String("entity", string(op.Entity)),
				zap.Int("retries", op.Retries))
			if err := e.store.RemoveQueueItem(ctx, op.ID); err != nil {
				errs = append(errs, err)
			}
			continue
		}
		if err := e.store.UpdateQueueRetries(ctx, op.ID, op.Retries); err != nil {
			errs = append(errs, err)
		}
		e.log.Info("operation kept for retry",
			zap.Int64("op", op.ID), zap.Int("retries", op.Retries), zap.Error(err))
	}
	return errors.Join(errs...)
}

// sendOp replays one queued operation against the remote API and, on
// success, records the server's authoritative copy locally.
func (e *Engine) sendOp(ctx context.Context, op models.PendingOperation) error {
	ctx, cancel := context.WithTimeout(ctx, e.callTimeout)
	defer cancel()

	switch op.Entity {
	case models.EntityInvoice:
		switch op.Type {
		case models.OpCreate, models.OpUpdate:
			var inv models.Invoice
			if err := json.Unmarshal(op.Data, &inv); err != nil {
				return &api.Error{StatusCode: 0, Message: fmt.Sprintf("bad payload: %v", err)}
			}
			var (
				resp *models.Invoice
				err  error
			)
			if op.Type == models.OpCreate {
				resp, err = e.api.CreateInvoice(ctx, inv)
			} else {
				resp, err = e.api.UpdateInvoice(ctx, inv)
			}
			if err != nil {
				return err
			}
			return e.acceptInvoice(ctx, inv.ID, *resp)
		case models.OpDelete:
			id, err := payloadID(op.Data)
			if err != nil {
				return err
			}
			return e.api.DeleteInvoice(ctx, id)
		}
	case models.EntityUser:
		switch op.Type {
		case models.OpCreate, models.OpUpdate:
			var u models.User
			if err := json.Unmarshal(op.Data, &u); err != nil {
				return &api.Error{StatusCode: 0, Message: fmt.Sprintf("bad payload: %v", err)}
			}
			var (
				resp *models.User
				err  error
			)
			if op.Type == models.OpCreate {
				resp, err = e.api.CreateUser(ctx, u)
			} else {
				resp, err = e.api.UpdateUser(ctx, u)
			}
			if err != nil {
				return err
			}
			return e.acceptUser(ctx, u.ID, *resp)
		case models.OpDelete:
			id, err := payloadID(op.Data)
			if err != nil {
				return err
			}
			return e.api.DeleteUser(ctx, id)
		}
	case models.EntitySettings:
		var s models.Settings
		if err := json.Unmarshal(op.Data, &s); err != nil {
			return &api.Error{StatusCode: 0, Message: fmt.Sprintf("bad payload: %v", err)}
		}
		resp, err := e.api.UpdateSettings(ctx, s)
		if err != nil {
			return err
		}
		if _, err := e.store.SaveSettings(ctx, *resp); err != nil {
			return err
		}
		return e.store.SetSettingsSyncState(ctx, true, false)
	}
	return fmt.Errorf("unknown operation %s/%s", op.Type, op.Entity)
}

// clearPending drops the pendingSync flag of the entity behind a
// rejected operation.
func (e *Engine) clearPending(ctx context.Context, op models.PendingOperation) error {
	if op.Entity == models.EntitySettings {
		return e.store.SetSettingsSyncState(ctx, false, false)
	}
	id, err := payloadID(op.Data)
	if err != nil {
		return nil
	}
	switch op.Entity {
	case models.EntityInvoice:
		return e.store.SetInvoiceSyncState(ctx, id, false, false)
	case models.EntityUser:
		return e.store.SetUserSyncState(ctx, id, false, false)
	}
	return nil
}

// acceptInvoice records a server response as the synced local copy. If
// the server assigned a different id, the stale local record goes away.
func (e *Engine) acceptInvoice(ctx context.Context, localID string, resp models.Invoice) error {
	if _, err := e.store.SaveInvoice(ctx, resp); err != nil {
		return err
	}
	if err := e.store.SetInvoiceSyncState(ctx, resp.ID, true, false); err != nil {
		return err
	}
	if localID != "" && localID != resp.ID {
		return e.store.DeleteInvoice(ctx, localID)
	}
	return nil
}

func (e *Engine) acceptUser(ctx context.Context, localID string, resp models.User) error {
	if _, err := e.store.SaveUser(ctx, resp); err != nil {
		return err
	}
	if err := e.store.SetUserSyncState(ctx, resp.ID, true, false); err != nil {
		return err
	}
	if localID != "" && localID != resp.ID {
		return e.store.DeleteUser(ctx, localID)
	}
	return nil
}

// pull refreshes local state from the server. The three fetches are
// independent; a failing one does not stop the others.
func (e *Engine) pull(ctx context.Context) error {
	var errs []error
	if err := e.pullInvoices(ctx); err != nil {
		errs = append(errs, fmt.Errorf("pull invoices: %w", err))
	}
	if err := e.pullUsers(ctx); err != nil {
		errs = append(errs, fmt.Errorf("pull users: %w", err))
	}
	if err := e.pullSettings(ctx); err != nil {
		errs = append(errs, fmt.Errorf("pull settings: %w", err))
	}
	return errors.Join(errs...)
}

// pullInvoices merges the most recent page. Absence from the page
// means nothing; local invoices are never deleted here.
func (e *Engine) pullInvoices(ctx context.Context) error {
	cctx, cancel := context.WithTimeout(ctx, e.callTimeout)
	defer cancel()
	invoices, _, err := e.api.ListInvoices(cctx, models.InvoiceFilter{}, 1, pullPageSize)
	if err != nil {
		return err
	}
	for _, inv := range invoices {
		inv.Synced = true
		inv.PendingSync = false
		if _, err := e.store.SaveInvoice(ctx, inv); err != nil {
			return err
		}
	}
	return nil
}

// pullUsers treats the server list as authoritative: local users
// absent from it are removed, unless they still carry unsynced edits.
func (e *Engine) pullUsers(ctx context.Context) error {
	cctx, cancel := context.WithTimeout(ctx, e.callTimeout)
	defer cancel()
	users, err := e.api.ListUsers(cctx)
	if err != nil {
		return err
	}
	remote := make(map[string]bool, len(users))
	for _, u := range users {
		remote[u.ID] = true
	}
	local, err := e.store.GetAllUsers(ctx)
	if err != nil {
		return err
	}
	for _, u := range local {
		if !remote[u.ID] && !u.PendingSync {
			if err := e.store.DeleteUser(ctx, u.ID); err != nil {
				return err
			}
			e.log.Info("removed user absent from server", zap.String("user", u.ID))
		}
	}
	for _, u := range users {
		u.Synced = true
		u.PendingSync = false
		if _, err := e.store.SaveUser(ctx, u); err != nil {
			return err
		}
	}
	return nil
}

// pullSettings overwrites the singleton with the server copy unless a
// local edit is still waiting to be pushed.
func (e *Engine) pullSettings(ctx context.Context) error {
	cctx, cancel := context.WithTimeout(ctx, e.callTimeout)
	defer cancel()
	remote, err := e.api.GetSettings(cctx)
	if err != nil {
		return err
	}
	local, err := e.store.GetSettings(ctx)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}
	if local != nil && local.PendingSync {
		return nil
	}
	remote.Synced = true
	remote.PendingSync = false
	if _, err := e.store.SaveSettings(ctx, *remote); err != nil {
		return err
	}
	return nil
}

func payloadID(data json.RawMessage) (string, error) {
	var p struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return "", fmt.Errorf("bad delete payload: %w", err)
	}
	if p.ID == "" {
		return "", errors.New("delete payload missing id")
	}
	return p.ID, nil
}
