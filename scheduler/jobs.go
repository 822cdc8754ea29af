package scheduler

import (
	"log"
	"time"

	"chart_engine_backend/services"

	"github.com/go-co-op/gocron"
)

// Scheduler manages the engine's maintenance jobs.
type Scheduler struct {
	cron      *gocron.Scheduler
	cache     *services.SeriesCache
	durable   *services.DurableStore
	memo      *services.ResultMemo
	instances *services.InstanceCache
	watchlist []string
}

// NewScheduler creates a new scheduler instance
func NewScheduler(cache *services.SeriesCache, durable *services.DurableStore,
	memo *services.ResultMemo, instances *services.InstanceCache, watchlist []string) *Scheduler {
	return &Scheduler{
		cron:      gocron.NewScheduler(time.UTC),
		cache:     cache,
		durable:   durable,
		memo:      memo,
		instances: instances,
		watchlist: watchlist,
	}
}

// Start starts all scheduled jobs
func (s *Scheduler) Start() {
	log.Println("Starting scheduler...")

	// Sweep expired hot-cache entries every minute
	s.cron.Every(1).Minute().Do(func() {
		if removed := s.cache.SweepExpiredHot(); removed > 0 {
			log.Printf("Swept %d expired hot cache entries", removed)
		}
	})

	// Prune expired durable rows every 10 minutes
	s.cron.Every(10).Minutes().Do(func() {
		s.pruneDurable()
	})

	// Prune stale memo entries every 5 minutes
	s.cron.Every(5).Minutes().Do(func() {
		if removed := s.memo.Prune(); removed > 0 {
			log.Printf("Pruned %d stale memo entries", removed)
		}
	})

	// Rewarm the instance pool from the watchlist every 15 minutes
	s.cron.Every(15).Minutes().Do(func() {
		s.rewarmInstances()
	})

	s.cron.StartAsync()
	log.Println("Scheduler started successfully")
}

// Stop stops the scheduler
func (s *Scheduler) Stop() {
	s.cron.Stop()
	log.Println("Scheduler stopped")
}

// pruneDurable deletes durable cache rows past their TTL
func (s *Scheduler) pruneDurable() {
	removed, err := s.durable.PruneExpired()
	if err != nil {
		log.Printf("Error pruning durable cache: %v", err)
		return
	}
	if removed > 0 {
		log.Printf("Pruned %d expired durable cache rows", removed)
	}
}

// rewarmInstances refreshes the prepared chart slots so watchlist
// switches stay instantaneous
func (s *Scheduler) rewarmInstances() {
	if len(s.watchlist) == 0 {
		return
	}
	log.Printf("Rewarming instance pool (%d watchlist symbols)", len(s.watchlist))
	s.instances.WarmInBackground(s.watchlist)
}
