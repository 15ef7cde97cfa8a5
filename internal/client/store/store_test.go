package store

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/wadi-transport/invoicesync/internal/models"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testInvoice(id string, lastModified time.Time) models.Invoice {
	return models.Invoice{
		ID:            id,
		InvoiceNumber: "TRN-1-" + id,
		DriverName:    "Ali",
		VehicleType:   "truck",
		VehicleNumber: "A-100",
		Axles:         "4",
		PayableAmount: 150,
		NetAmount:     150,
		CreatedAt:     lastModified,
		SyncMeta: models.SyncMeta{
			LastModified:       lastModified,
			LastModifiedDevice: "device_test",
		},
	}
}

func TestSaveInvoice_NewerWins(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	t0 := time.Now()
	if _, err := s.SaveInvoice(ctx, testInvoice("inv1", t0)); err != nil {
		t.Fatalf("first save: %v", err)
	}

	updated := testInvoice("inv1", t0.Add(time.Second))
	updated.DriverName = "Omar"
	winner, err := s.SaveInvoice(ctx, updated)
	if err != nil {
		t.Fatalf("second save: %v", err)
	}
	if winner.DriverName != "Omar" {
		t.Errorf("expected incoming record to win, got driver %q", winner.DriverName)
	}

	got, err := s.GetInvoice(ctx, "inv1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.DriverName != "Omar" {
		t.Errorf("stored driver = %q; want Omar", got.DriverName)
	}
}

func TestSaveInvoice_StaleWriteIgnored(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	t0 := time.Now()
	newer := testInvoice("inv1", t0.Add(time.Minute))
	newer.DriverName = "Current"
	if _, err := s.SaveInvoice(ctx, newer); err != nil {
		t.Fatalf("save: %v", err)
	}

	stale := testInvoice("inv1", t0)
	stale.DriverName = "Stale"
	winner, err := s.SaveInvoice(ctx, stale)
	if err != nil {
		t.Fatalf("stale save: %v", err)
	}
	if winner.DriverName != "Current" {
		t.Errorf("expected stored record to win, got %q", winner.DriverName)
	}

	got, _ := s.GetInvoice(ctx, "inv1")
	if got.DriverName != "Current" {
		t.Errorf("stale write modified the store: driver = %q", got.DriverName)
	}
}

func TestSaveInvoice_TieKeepsStored(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	t0 := time.Now()
	first := testInvoice("inv1", t0)
	first.DriverName = "First"
	if _, err := s.SaveInvoice(ctx, first); err != nil {
		t.Fatalf("save: %v", err)
	}

	second := testInvoice("inv1", t0)
	second.DriverName = "Second"
	winner, err := s.SaveInvoice(ctx, second)
	if err != nil {
		t.Fatalf("tie save: %v", err)
	}
	if winner.DriverName != "First" {
		t.Errorf("tie should favor the stored record, got %q", winner.DriverName)
	}
}

func TestSaveInvoice_Idempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	inv := testInvoice("inv1", time.Now())
	if _, err := s.SaveInvoice(ctx, inv); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := s.SaveInvoice(ctx, inv); err != nil {
		t.Fatalf("repeat save: %v", err)
	}

	all, err := s.GetAllInvoices(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 1 {
		t.Errorf("expected 1 invoice after replay, got %d", len(all))
	}
}

func TestDeleteInvoice_MissingIsNoop(t *testing.T) {
	s := openTestStore(t)
	if err := s.DeleteInvoice(context.Background(), "ghost"); err != nil {
		t.Errorf("deleting a missing invoice should be a no-op, got %v", err)
	}
}

func TestSetInvoiceSyncState(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	inv := testInvoice("inv1", time.Now())
	if _, err := s.SaveInvoice(ctx, inv); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.SetInvoiceSyncState(ctx, "inv1", true, false); err != nil {
		t.Fatalf("set state: %v", err)
	}

	got, _ := s.GetInvoice(ctx, "inv1")
	if !got.Synced || got.PendingSync {
		t.Errorf("flags = synced:%v pending:%v; want synced:true pending:false", got.Synced, got.PendingSync)
	}
	if !got.LastModified.Equal(inv.LastModified) {
		t.Errorf("flag update must not bump lastModified")
	}

	// Missing ids are ignored.
	if err := s.SetInvoiceSyncState(ctx, "ghost", true, false); err != nil {
		t.Errorf("missing id: %v", err)
	}
}

func testUser(id, username string, lastModified time.Time) models.User {
	return models.User{
		ID:          id,
		Name:        "User " + id,
		Username:    username,
		Password:    "$2a$10$abcdefghijklmnopqrstuv",
		Role:        models.RoleUser,
		Permissions: models.DefaultUserPermissions(),
		CreatedAt:   lastModified,
		IsActive:    true,
		SyncMeta: models.SyncMeta{
			LastModified:       lastModified,
			LastModifiedDevice: "device_test",
		},
	}
}

func TestSaveUser_DuplicateUsername(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	now := time.Now()
	if _, err := s.SaveUser(ctx, testUser("u1", "ahmed", now)); err != nil {
		t.Fatalf("save: %v", err)
	}

	_, err := s.SaveUser(ctx, testUser("u2", "ahmed", now.Add(time.Second)))
	if !errors.Is(err, ErrDuplicateKey) {
		t.Errorf("expected ErrDuplicateKey, got %v", err)
	}

	// Same id re-saving its own username is fine.
	if _, err := s.SaveUser(ctx, testUser("u1", "ahmed", now.Add(time.Second))); err != nil {
		t.Errorf("self upsert: %v", err)
	}
}

func TestGetUserByUsername(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.SaveUser(ctx, testUser("u1", "ahmed", time.Now())); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := s.GetUserByUsername(ctx, "ahmed")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ID != "u1" {
		t.Errorf("got id %q; want u1", got.ID)
	}
	if got.Password == "" {
		t.Error("password hash must survive the round trip for offline login")
	}

	if _, err := s.GetUserByUsername(ctx, "nobody"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSaveUser_StrippedResponseKeepsHash(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	now := time.Now()
	if _, err := s.SaveUser(ctx, testUser("u1", "ahmed", now)); err != nil {
		t.Fatalf("seed: %v", err)
	}

	// Server responses strip the hash but may win the clock.
	stripped := testUser("u1", "ahmed", now.Add(time.Second))
	stripped.Password = ""
	stripped.Name = "Renamed"
	winner, err := s.SaveUser(ctx, stripped)
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if winner.Name != "Renamed" {
		t.Errorf("newer record must win, got name %q", winner.Name)
	}
	if winner.Password == "" {
		t.Error("stored hash must survive a hashless overwrite")
	}

	got, _ := s.GetUser(ctx, "u1")
	if got.Password == "" {
		t.Error("persisted record lost the cached hash")
	}
}

func TestSaveUser_TieBackfillsHash(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	now := time.Now()
	hashless := testUser("u1", "ahmed", now)
	hashless.Password = ""
	if _, err := s.SaveUser(ctx, hashless); err != nil {
		t.Fatalf("seed: %v", err)
	}

	// A tie keeps the stored record, but its hash still flows in.
	hashed := testUser("u1", "ahmed", now)
	hashed.Name = "Should Not Land"
	winner, err := s.SaveUser(ctx, hashed)
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if winner.Name != hashless.Name {
		t.Errorf("tie must keep the stored record, got name %q", winner.Name)
	}
	if winner.Password != hashed.Password {
		t.Error("hash from the losing record must be cached")
	}

	got, err := s.GetUser(ctx, "u1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Password != hashed.Password {
		t.Error("persisted record missing the backfilled hash")
	}
	if !got.LastModified.Equal(hashless.LastModified) {
		t.Errorf("backfill must not touch the clock: %v", got.LastModified)
	}
}

func TestSaveSettings_Singleton(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	t0 := time.Now()
	first := models.Settings{
		ID:           models.SettingsID,
		DefaultScale: "North Gate",
		WeightUnit:   "kg",
		SyncMeta:     models.SyncMeta{LastModified: t0},
	}
	if _, err := s.SaveSettings(ctx, first); err != nil {
		t.Fatalf("save: %v", err)
	}

	second := first
	second.DefaultScale = "South Gate"
	second.LastModified = t0.Add(time.Second)
	if _, err := s.SaveSettings(ctx, second); err != nil {
		t.Fatalf("update: %v", err)
	}

	got, err := s.GetSettings(ctx)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.DefaultScale != "South Gate" {
		t.Errorf("scale = %q; want South Gate", got.DefaultScale)
	}
}

func TestQueue_FIFOAndRetries(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id1, err := s.Enqueue(ctx, models.PendingOperation{
		Type: models.OpCreate, Entity: models.EntityInvoice,
		Data: []byte(`{"id":"a"}`), Timestamp: time.Now(),
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	id2, err := s.Enqueue(ctx, models.PendingOperation{
		Type: models.OpDelete, Entity: models.EntityInvoice,
		Data: []byte(`{"id":"b"}`), Timestamp: time.Now(),
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if id2 <= id1 {
		t.Fatalf("queue ids must be monotonic: %d then %d", id1, id2)
	}

	ops, err := s.SyncQueue(ctx)
	if err != nil {
		t.Fatalf("read queue: %v", err)
	}
	if len(ops) != 2 || ops[0].ID != id1 || ops[1].ID != id2 {
		t.Fatalf("queue not in insertion order: %+v", ops)
	}

	if err := s.UpdateQueueRetries(ctx, id1, 2); err != nil {
		t.Fatalf("update retries: %v", err)
	}
	ops, _ = s.SyncQueue(ctx)
	if ops[0].Retries != 2 {
		t.Errorf("retries = %d; want 2", ops[0].Retries)
	}

	if err := s.RemoveQueueItem(ctx, id1); err != nil {
		t.Fatalf("remove: %v", err)
	}
	// Removing twice is fine.
	if err := s.RemoveQueueItem(ctx, id1); err != nil {
		t.Errorf("second remove: %v", err)
	}

	ops, _ = s.SyncQueue(ctx)
	if len(ops) != 1 || ops[0].ID != id2 {
		t.Errorf("expected only op %d left, got %+v", id2, ops)
	}
}

func TestOpen_SchemaMismatchRecreates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "client.db")
	ctx := context.Background()

	s, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := s.SaveInvoice(ctx, testInvoice("inv1", time.Now())); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// Simulate a database written by an older schema.
	raw, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("raw open: %v", err)
	}
	if _, err := raw.Exec("PRAGMA user_version = 1"); err != nil {
		t.Fatalf("set version: %v", err)
	}
	if err := raw.Close(); err != nil {
		t.Fatalf("raw close: %v", err)
	}

	s, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()

	if _, err := s.GetInvoice(ctx, "inv1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected old data dropped on schema mismatch, got %v", err)
	}
}
