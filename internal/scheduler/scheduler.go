package scheduler

import (
	"context"
	"log"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/skycache/weather-api/internal/weather"
)

// Scheduler runs periodic housekeeping: sweeping expired cache entries and
// purging events past the retention horizon. Neither job is required for
// lookup correctness; reads check freshness themselves.
type Scheduler struct {
	scheduler     *gocron.Scheduler
	service       *weather.Service
	interval      time.Duration
	retentionDays int
}

// New creates a Scheduler sweeping every interval and retaining events for
// retentionDays days.
func New(service *weather.Service, interval time.Duration, retentionDays int) *Scheduler {
	s := gocron.NewScheduler(time.UTC)
	return &Scheduler{
		scheduler:     s,
		service:       service,
		interval:      interval,
		retentionDays: retentionDays,
	}
}

// Start schedules the housekeeping job and starts the underlying scheduler.
func (s *Scheduler) Start() error {
	if s.interval <= 0 {
		log.Println("scheduler: sweep interval disabled; nothing to schedule")
		return nil
	}

	_, err := s.scheduler.Every(s.interval).Do(func() {
		removed := s.service.InvalidateCache()
		if removed > 0 {
			log.Printf("scheduler: removed %d expired cache entries", removed)
		}

		if s.retentionDays <= 0 {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		cutoff := time.Now().UTC().AddDate(0, 0, -s.retentionDays)
		purged, err := s.service.PurgeEvents(ctx, cutoff)
		if err != nil {
			log.Printf("scheduler: event purge failed: %v", err)
			return
		}
		if purged > 0 {
			log.Printf("scheduler: purged %d events older than %s", purged, cutoff.Format(time.RFC3339))
		}
	})
	if err != nil {
		return err
	}

	s.scheduler.StartAsync()
	return nil
}

// Stop stops the scheduler and cancels any future jobs.
func (s *Scheduler) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}
