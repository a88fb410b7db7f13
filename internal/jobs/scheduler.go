package jobs

import (
	"context"
	"log"
	"time"

	"github.com/go-co-op/gocron"
)

// Scheduler runs periodic maintenance such as forced catalog refreshes
type Scheduler struct {
	scheduler *gocron.Scheduler
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewScheduler creates a scheduler on UTC time
func NewScheduler() *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	s := gocron.NewScheduler(time.UTC)
	s.TagsUnique()
	s.SingletonModeAll()

	return &Scheduler{
		scheduler: s,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// ScheduleCron registers job under tag using a standard five-field cron expression
func (s *Scheduler) ScheduleCron(tag, cronExpr string, job func(ctx context.Context) error) error {
	_, err := s.scheduler.Cron(cronExpr).Tag(tag).Do(s.wrap(tag, job))
	return err
}

// ScheduleInterval registers job under tag to run every interval
func (s *Scheduler) ScheduleInterval(tag string, interval time.Duration, job func(ctx context.Context) error) error {
	_, err := s.scheduler.Every(interval).Tag(tag).Do(s.wrap(tag, job))
	return err
}

func (s *Scheduler) wrap(tag string, job func(ctx context.Context) error) func() {
	return func() {
		if err := job(s.ctx); err != nil {
			log.Printf("scheduler: job %s failed: %v", tag, err)
		}
	}
}

// Start runs the scheduler in the background
func (s *Scheduler) Start() {
	s.scheduler.StartAsync()
}

// Stop halts the scheduler and cancels running jobs
func (s *Scheduler) Stop() {
	s.scheduler.Stop()
	s.cancel()
}

// Jobs returns the registered jobs
func (s *Scheduler) Jobs() []*gocron.Job {
	return s.scheduler.Jobs()
}
