package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron"
)

// Job is the periodic work. It receives a context bounded by the job timeout.
type Job func(ctx context.Context) error

// Scheduler runs one job at a fixed interval.
type Scheduler struct {
	scheduler *gocron.Scheduler
	name      string
	interval  time.Duration
	timeout   time.Duration
	job       Job
	log       *slog.Logger
}

// New creates a Scheduler that runs job every interval. The first run happens
// one interval after Start. Each run gets at most timeout to finish.
func New(name string, interval, timeout time.Duration, job Job, log *slog.Logger) *Scheduler {
	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()
	return &Scheduler{
		scheduler: s,
		name:      name,
		interval:  interval,
		timeout:   timeout,
		job:       job,
		log:       log,
	}
}

// Start schedules the job and starts the underlying scheduler.
func (s *Scheduler) Start() error {
	if s.interval <= 0 {
		return fmt.Errorf("scheduler %s: interval must be positive, got %s", s.name, s.interval)
	}

	_, err := s.scheduler.Every(s.interval).WaitForSchedule().Do(s.run)
	if err != nil {
		return fmt.Errorf("scheduling %s: %w", s.name, err)
	}

	s.scheduler.StartAsync()
	s.log.Info("scheduler started", "job", s.name, "interval", s.interval)
	return nil
}

func (s *Scheduler) run() {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("scheduled job panicked", "job", s.name, "recover", r)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	start := time.Now()
	if err := s.job(ctx); err != nil {
		s.log.Error("scheduled job failed", "job", s.name, "err", err)
		return
	}
	s.log.Info("scheduled job completed", "job", s.name, "took", time.Since(start))
}

// Stop stops the scheduler and cancels any future runs.
func (s *Scheduler) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}
