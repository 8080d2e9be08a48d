package leaderboard

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Scheduler runs Service.Refresh on a cron schedule
type Scheduler struct {
	cron    *cron.Cron
	service *Service
	timeout time.Duration
	entryID cron.EntryID
}

// NewScheduler registers a refresh job for schedule, a standard five-field cron
// expression or a descriptor such as "@every 10m".
func NewScheduler(service *Service, schedule string, timeout time.Duration) (*Scheduler, error) {
	s := &Scheduler{
		cron:    cron.New(cron.WithLocation(time.UTC)),
		service: service,
		timeout: timeout,
	}

	entryID, err := s.cron.AddFunc(schedule, s.run)
	if err != nil {
		return nil, fmt.Errorf("invalid refresh schedule %q: %w", schedule, err)
	}
	s.entryID = entryID

	return s, nil
}

func (s *Scheduler) run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	if _, err := s.service.Refresh(ctx, s.service.now()); err != nil {
		s.service.logger.Error("Scheduled leaderboard refresh failed", "error", err)
	}
}

// Next returns the next scheduled refresh, zero before Start
func (s *Scheduler) Next() time.Time {
	return s.cron.Entry(s.entryID).Next
}

// Start starts the scheduler
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops the scheduler and waits for a running refresh to finish
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
