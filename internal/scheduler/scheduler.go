// internal/scheduler/scheduler.go
package scheduler

import (
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Job is one periodic maintenance task: the queue drain, the memory
// cleanup, the tuning pass.
type Job struct {
	Name     string
	Schedule string
	Run      func()
}

// Scheduler fires registered jobs on their cron schedules.
type Scheduler struct {
	jobs []Job
	cron *cron.Cron
}

// cronParser accepts both standard 5-field cron expressions and 6-field
// expressions with an optional seconds field, plus @every descriptors.
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

func New(jobs ...Job) *Scheduler {
	return &Scheduler{
		jobs: jobs,
		cron: cron.New(cron.WithParser(cronParser)),
	}
}

// Start registers every job that has a schedule and starts the cron
// ticker. A job with an invalid schedule is logged and skipped; the rest
// still run.
func (s *Scheduler) Start() error {
	for _, job := range s.jobs {
		if job.Schedule == "" || job.Run == nil {
			continue
		}

		name := job.Name
		run := job.Run

		_, err := s.cron.AddFunc(job.Schedule, func() {
			slog.Debug("scheduled job firing", "name", name)
			run()
		})
		if err != nil {
			slog.Error("invalid cron schedule", "name", name, "schedule", job.Schedule, "error", err)
			continue
		}
		slog.Info("scheduled job", "name", name, "schedule", job.Schedule)
	}

	s.cron.Start()
	return nil
}

// Reload stops the existing cron, creates a new one, and calls Start()
// again.
func (s *Scheduler) Reload() error {
	s.cron.Stop()
	s.cron = cron.New(cron.WithParser(cronParser))
	return s.Start()
}

// Entries reports how many jobs are registered with the running cron.
func (s *Scheduler) Entries() int {
	return len(s.cron.Entries())
}

// Stop stops the cron ticker. Jobs already in flight finish.
func (s *Scheduler) Stop() {
	s.cron.Stop()
}
