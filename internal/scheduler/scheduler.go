// Package scheduler enqueues periodic background work on cron schedules.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mikestefanello/backlite"
	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"
)

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Enqueuer saves tasks for background processing.
type Enqueuer interface {
	Enqueue(ctx context.Context, tasks ...backlite.Task) ([]string, error)
}

// Job is one scheduled task. An empty Schedule disables the job.
type Job struct {
	Name     string
	Schedule string
	Task     backlite.Task
}

// Scheduler turns cron ticks into backlite tasks.
type Scheduler struct {
	queue Enqueuer
	jobs  []Job

	cron       *cron.Cron
	entries    map[string]cron.EntryID
	mu         sync.RWMutex
	isRunning  bool
	cancelFunc context.CancelFunc
}

// New creates a scheduler for jobs. Schedules are validated by Start.
func New(queue Enqueuer, jobs ...Job) *Scheduler {
	return &Scheduler{
		queue:   queue,
		jobs:    jobs,
		cron:    cron.New(cron.WithParser(parser)),
		entries: make(map[string]cron.EntryID),
	}
}

// ValidateSchedule checks a five-field cron expression.
func ValidateSchedule(schedule string) error {
	_, err := parser.Parse(schedule)
	return err
}

// Start registers every enabled job and starts the cron loop. The
// scheduler stops on its own when ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return nil
	}

	for _, job := range s.jobs {
		if job.Schedule == "" {
			log.Printf("[SCHEDULER] %s: disabled", job.Name)
			continue
		}
		if err := ValidateSchedule(job.Schedule); err != nil {
			return fmt.Errorf("invalid cron schedule '%s' for %s: %w", job.Schedule, job.Name, err)
		}

		entryID, err := s.cron.AddFunc(job.Schedule, func() {
			s.run(job)
		})
		if err != nil {
			return fmt.Errorf("failed to schedule %s: %w", job.Name, err)
		}
		s.entries[job.Name] = entryID
	}

	var cancelCtx context.Context
	cancelCtx, s.cancelFunc = context.WithCancel(ctx)

	s.cron.Start()
	s.isRunning = true

	for name, id := range s.entries {
		log.Printf("[SCHEDULER] %s: next run at %v", name, s.cron.Entry(id).Next)
	}

	go func() {
		<-cancelCtx.Done()
		s.Stop()
	}()

	return nil
}

// Stop waits for running jobs and stops the cron loop.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isRunning {
		return
	}

	ctx := s.cron.Stop()
	<-ctx.Done()

	s.isRunning = false
	if s.cancelFunc != nil {
		s.cancelFunc()
		s.cancelFunc = nil
	}

	log.Printf("[SCHEDULER] Stopped")
}

// IsRunning returns whether the scheduler is active.
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// NextRun returns when the named job runs next.
func (s *Scheduler) NextRun(name string) *time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.isRunning {
		return nil
	}
	id, ok := s.entries[name]
	if !ok {
		return nil
	}
	t := s.cron.Entry(id).Next
	return &t
}

// RunNow enqueues the named job immediately.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	for _, job := range s.jobs {
		if job.Name == name {
			_, err := s.queue.Enqueue(ctx, job.Task)
			return err
		}
	}
	return fmt.Errorf("unknown job %q", name)
}

func (s *Scheduler) run(job Job) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if _, err := s.queue.Enqueue(ctx, job.Task); err != nil {
		log.WithError(err).Warnf("[SCHEDULER] %s: could not enqueue", job.Name)
		return
	}
	log.Printf("[SCHEDULER] %s: enqueued", job.Name)
}
