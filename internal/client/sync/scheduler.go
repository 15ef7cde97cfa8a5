package sync

import (
	"context"
	"errors"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Scheduler runs periodic sync cycles on top of the edge-triggered
// connectivity watcher, so queued work drains even when the link never
// flaps.
type Scheduler struct {
	engine *Engine
	cron   *cron.Cron
	spec   string
	log    *zap.Logger
}

// NewScheduler builds a scheduler. spec is a cron expression, e.g.
// "@every 1m".
func NewScheduler(engine *Engine, spec string, log *zap.Logger) *Scheduler {
	return &Scheduler{
		engine: engine,
		cron:   cron.New(),
		spec:   spec,
		log:    log,
	}
}

// Start registers the job and begins ticking. Offline ticks and ticks
// that land during a running cycle are skipped.
func (s *Scheduler) Start(ctx context.Context) error {
	_, err := s.cron.AddFunc(s.spec, func() {
		if !s.engine.Online() {
			return
		}
		if err := s.engine.SyncCycle(ctx); err != nil {
			if errors.Is(err, ErrSyncInProgress) {
				return
			}
			s.log.Warn("scheduled sync failed", zap.Error(err))
		}
	})
	if err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

// Stop halts the ticker and waits for a running job to return.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
