package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/shuttlehq/shuttle/pkg/config"
	"github.com/shuttlehq/shuttle/pkg/log"
	"github.com/shuttlehq/shuttle/pkg/manager"
	"github.com/shuttlehq/shuttle/pkg/metrics"
	"github.com/shuttlehq/shuttle/pkg/queue"
	"github.com/shuttlehq/shuttle/pkg/storage"
	"github.com/shuttlehq/shuttle/pkg/types"
)

// retryWindow bounds how far back RetryFailed reaches on each sweep.
const retryWindow = 24 * time.Hour

// Scheduler drives time-based work: due-source sweeps, stale-run recovery,
// queue retry revival, and retention cleanup. One goroutine, one ticker.
type Scheduler struct {
	store   storage.Store
	manager *manager.SyncManager
	events  *queue.EventQueue
	embed   *queue.EmbeddingQueue
	cfg     *config.Config

	stopCh      chan struct{}
	lastCleanup time.Time
}

// New creates a scheduler
func New(store storage.Store, mgr *manager.SyncManager, events *queue.EventQueue, embed *queue.EmbeddingQueue, cfg *config.Config) *Scheduler {
	return &Scheduler{
		store:   store,
		manager: mgr,
		events:  events,
		embed:   embed,
		cfg:     cfg,
		stopCh:  make(chan struct{}),
	}
}

// Start begins the scheduling loop
func (s *Scheduler) Start() {
	go s.run()
	log.WithComponent("scheduler").Info().
		Dur("interval", s.cfg.SchedulerInterval).
		Msg("Scheduler started")
}

// Stop halts the scheduling loop
func (s *Scheduler) Stop() {
	close(s.stopCh)
}

func (s *Scheduler) run() {
	ticker := time.NewTicker(s.cfg.SchedulerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweep()
		case <-s.stopCh:
			return
		}
	}
}

// sweep is one scheduler tick.
func (s *Scheduler) sweep() {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.SchedulerSweepDuration)

	// Recovery first, so slots freed by stale runs are available to the
	// due-source pass below.
	if err := s.manager.RecoverStale(); err != nil {
		log.WithComponent("scheduler").Error().Err(err).Msg("Stale run recovery failed")
	}
	if n, err := s.embed.RecoverStale(s.cfg.StaleSyncTimeout); err != nil {
		log.WithComponent("scheduler").Error().Err(err).Msg("Embedding queue recovery failed")
	} else if n > 0 {
		log.WithComponent("scheduler").Info().Int("count", n).Msg("Recovered stale embedding items")
	}
	if n, err := s.events.RecoverStale(s.cfg.StaleSyncTimeout); err != nil {
		log.WithComponent("scheduler").Error().Err(err).Msg("Event queue recovery failed")
	} else if n > 0 {
		log.WithComponent("scheduler").Info().Int("count", n).Msg("Recovered stale claimed events")
	}

	s.triggerDue()

	if n, err := s.events.RetryFailed(retryWindow); err != nil {
		log.WithComponent("scheduler").Error().Err(err).Msg("Event queue retry sweep failed")
	} else if n > 0 {
		log.WithComponent("scheduler").Info().Int("count", n).Msg("Revived failed queue events")
	}

	// Retention cleanup once a day is plenty.
	if time.Since(s.lastCleanup) > 24*time.Hour {
		s.lastCleanup = time.Now()
		if n, err := s.events.Cleanup(s.cfg.QueueRetentionDays); err != nil {
			log.WithComponent("scheduler").Error().Err(err).Msg("Queue cleanup failed")
		} else if n > 0 {
			log.WithComponent("scheduler").Info().Int("count", n).Msg("Cleaned up old queue items")
		}
	}
}

// triggerDue finds every source whose NextSyncAt has passed and triggers an
// incremental sync for each. Admission rejections are expected steady-state
// outcomes, not errors; the source simply stays due for the next tick.
func (s *Scheduler) triggerDue() {
	now := time.Now()
	due, err := s.store.FindDueSources(now)
	if err != nil {
		log.WithComponent("scheduler").Error().Err(err).Msg("Failed to find due sources")
		return
	}

	for _, source := range due {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		_, err := s.manager.Trigger(ctx, source.ID, types.SyncModeIncremental, types.TriggerScheduled)
		cancel()

		if err != nil {
			if errors.Is(err, manager.ErrSyncAlreadyRunning) || errors.Is(err, manager.ErrConcurrencyLimitReached) {
				log.WithSourceID(source.ID).Debug().Err(err).Msg("Sync deferred")
				continue
			}
			log.WithSourceID(source.ID).Error().Err(err).Msg("Scheduled sync failed to start")
			continue
		}

		metrics.SchedulerTriggers.Inc()
		s.advance(source, now)
	}
}

// advance pushes NextSyncAt one interval past now, so a slow sync does not
// cause a burst of catch-up triggers.
func (s *Scheduler) advance(source *types.Source, now time.Time) {
	interval := source.SyncInterval
	if interval <= 0 {
		interval = s.cfg.DefaultSyncInterval
	}
	next := now.Add(interval)

	fresh, err := s.store.GetSource(source.ID)
	if err != nil {
		log.WithSourceID(source.ID).Error().Err(err).Msg("Failed to reload source for schedule advance")
		return
	}
	fresh.NextSyncAt = &next
	if err := s.store.UpdateSource(fresh); err != nil {
		log.WithSourceID(source.ID).Error().Err(err).Msg("Failed to advance schedule")
	}
}
