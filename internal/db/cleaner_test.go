package db

import (
	"context"
	"database/sql/driver"
	"fmt"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// cutoffNear matches a millisecond timestamp within a minute of
// now-retention, so the test pins the purge cutoff without racing the
// clock.
type cutoffNear struct {
	retention time.Duration
}

func (c cutoffNear) Match(v driver.Value) bool {
	ms, ok := v.(int64)
	if !ok {
		return false
	}
	want := time.Now().Add(-c.retention).UnixMilli()
	diff := want - ms
	return diff >= 0 && diff < int64(time.Minute/time.Millisecond)
}

func waitForExpectations(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if mock.ExpectationsWereMet() == nil {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("unfulfilled expectations: %v", mock.ExpectationsWereMet())
}

func TestStartTombstoneCleaner_PurgesWithRetentionCutoff(t *testing.T) {
	dbMock, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer dbMock.Close()

	retention := 48 * time.Hour
	mock.ExpectExec("DELETE FROM invoices").
		WithArgs(cutoffNear{retention}).
		WillReturnResult(sqlmock.NewResult(0, 2))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	StartTombstoneCleaner(ctx, dbMock, 10*time.Millisecond, retention, zap.NewNop())

	waitForExpectations(t, mock)
}

func TestStartTombstoneCleaner_LogsPurgeFailure(t *testing.T) {
	dbMock, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer dbMock.Close()

	mock.ExpectExec("DELETE FROM invoices").
		WithArgs(sqlmock.AnyArg()).
		WillReturnError(fmt.Errorf("connection reset"))

	core, logs := observer.New(zapcore.ErrorLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	StartTombstoneCleaner(ctx, dbMock, 10*time.Millisecond, time.Hour, zap.New(core))

	deadline := time.Now().Add(2 * time.Second)
	for logs.FilterMessage("failed to purge deleted invoices").Len() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("purge failure never logged; entries: %v", logs.All())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestStartTombstoneCleaner_StopsOnCancel(t *testing.T) {
	dbMock, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer dbMock.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	StartTombstoneCleaner(ctx, dbMock, time.Hour, time.Hour, zap.NewNop())
	time.Sleep(50 * time.Millisecond)

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("cancelled cleaner must not run a purge: %v", err)
	}
}
