package coordinator

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"

	"github.com/ingestkit/ragpipe/internal/model"
	"github.com/ingestkit/ragpipe/internal/observability"
)

// Scheduler triggers a periodic full sync for every configured source
// flagged for it, on a single shared cron schedule.
type Scheduler struct {
	coordinator *Coordinator
	cron        *cron.Cron
	schedule    string
	log         observability.Logger
}

func NewScheduler(c *Coordinator, schedule string, log observability.Logger) *Scheduler {
	return &Scheduler{coordinator: c, cron: cron.New(), schedule: schedule, log: log.WithPrefix("scheduler")}
}

// Start registers a job per full-sync-flagged source and begins the cron
// loop; it does not block.
func (s *Scheduler) Start() error {
	for sourceID, source := range s.coordinator.sources {
		if !source.FullSync {
			continue
		}
		sourceID := sourceID
		_, err := s.cron.AddFunc(s.schedule, func() {
			if _, err := s.coordinator.Trigger(context.Background(), sourceID, model.SyncTypeFull); err != nil {
				s.log.Warn("scheduled full sync failed to start", map[string]interface{}{
					"source_id": sourceID, "error": err.Error(),
				})
			}
		})
		if err != nil {
			return fmt.Errorf("schedule full sync for source %s: %w", sourceID, err)
		}
	}
	s.cron.Start()
	return nil
}

// Stop halts the cron loop, waiting for any in-flight job to return.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
