package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Job is a named periodic maintenance task.
type Job struct {
	Name     string
	Schedule string
	Timeout  time.Duration
	Run      func(ctx context.Context) error
}

// Scheduler runs housekeeping jobs on cron schedules.
type Scheduler struct {
	cron     *cron.Cron
	log      *zap.Logger
	jobs     []Job
	entryMap map[string]cron.EntryID
	mu       sync.RWMutex
	running  bool
	ctx      context.Context
	cancel   context.CancelFunc
}

// NewScheduler creates a new scheduler
func NewScheduler(log *zap.Logger, jobs ...Job) *Scheduler {
	return &Scheduler{
		cron:     cron.New(cron.WithSeconds()),
		log:      log,
		jobs:     jobs,
		entryMap: make(map[string]cron.EntryID),
	}
}

// Start starts the scheduler
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	s.ctx, s.cancel = context.WithCancel(ctx)

	for _, job := range s.jobs {
		if err := s.scheduleJob(job); err != nil {
			s.cancel()
			return err
		}
	}

	s.cron.Start()
	s.running = true

	s.log.Info("scheduler started", zap.Int("jobs", len(s.jobs)))
	return nil
}

// Stop stops the scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}

	s.cancel()
	ctx := s.cron.Stop()
	<-ctx.Done()

	s.running = false
	s.log.Info("scheduler stopped")
}

// RunNow runs the named job synchronously.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	for _, job := range s.jobs {
		if job.Name == name {
			return s.run(ctx, job)
		}
	}
	return fmt.Errorf("unknown job %q", name)
}

// GetNextRun returns the next run time for a job
func (s *Scheduler) GetNextRun(name string) *time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if entryID, ok := s.entryMap[name]; ok {
		entry := s.cron.Entry(entryID)
		if !entry.Next.IsZero() {
			return &entry.Next
		}
	}
	return nil
}

// NextRuns returns the next run time of every scheduled job. It is empty
// until the scheduler has started.
func (s *Scheduler) NextRuns() map[string]time.Time {
	runs := make(map[string]time.Time, len(s.jobs))
	for _, job := range s.jobs {
		if next := s.GetNextRun(job.Name); next != nil {
			runs[job.Name] = *next
		}
	}
	return runs
}

// IsRunning returns whether the scheduler is running
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

func (s *Scheduler) scheduleJob(job Job) error {
	schedule := normalizeSchedule(job.Schedule)

	entryID, err := s.cron.AddFunc(schedule, func() {
		if err := s.run(s.ctx, job); err != nil {
			s.log.Error("job failed", zap.String("job", job.Name), zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("invalid cron expression '%s' for job %s: %w", job.Schedule, job.Name, err)
	}

	s.entryMap[job.Name] = entryID
	return nil
}

func (s *Scheduler) run(ctx context.Context, job Job) error {
	timeout := job.Timeout
	if timeout <= 0 {
		timeout = time.Minute
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	err := job.Run(ctx)
	s.log.Debug("job finished",
		zap.String("job", job.Name),
		zap.Duration("duration", time.Since(start)),
		zap.Error(err))
	return err
}

// normalizeSchedule expands shortcuts and adds a seconds field to
// five-field expressions.
func normalizeSchedule(schedule string) string {
	switch schedule {
	case "@hourly":
		return "0 0 * * * *"
	case "@daily":
		return "0 0 0 * * *"
	case "@weekly":
		return "0 0 0 * * 0"
	case "@monthly":
		return "0 0 0 1 * *"
	}
	if strings.HasPrefix(schedule, "@every ") {
		return schedule
	}
	if len(strings.Fields(schedule)) == 5 {
		return "0 " + schedule
	}
	return schedule
}
