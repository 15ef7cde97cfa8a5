package db

import (
	"context"
	"database/sql"
	"time"

	"go.uber.org/zap"
)

// StartTombstoneCleaner purges soft-deleted invoices older than the
// retention window on the given interval. Deleted invoices are kept
// around for a while so that clients which were offline at deletion
// time can still observe the tombstone on their next pull.
func StartTombstoneCleaner(
	ctx context.Context,
	db *sql.DB,
	interval time.Duration,
	retention time.Duration,
	log *zap.Logger,
) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				cutoff := time.Now().Add(-retention).UnixMilli()
				res, err := db.ExecContext(ctx, `
                    DELETE FROM invoices
                     WHERE deleted = true
                       AND last_modified < $1
                `, cutoff)
				if err != nil {
					log.Error("failed to purge deleted invoices", zap.Error(err))
					continue
				}
				if rows, _ := res.RowsAffected(); rows > 0 {
					log.Info("purged deleted invoices", zap.Int64("removed", rows))
				}
			}
		}
	}()
}
