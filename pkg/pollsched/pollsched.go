// Package pollsched implements the pool-wide poll scheduler: a recurring
// job that asks every meter in a pool.Pool for an update on a shared
// cadence, distinct from each meter's own optional per-meter autopoll
// timer (pkg/pzem.Meter.Autopoll).
package pollsched

import (
	"context"
	"time"

	quartzjob "github.com/reugn/go-quartz/job"
	"github.com/reugn/go-quartz/quartz"
	"go.uber.org/zap"
)

// Job is the unit of work the scheduler runs on every tick. It mirrors the
// pool's "update all attached meters" sweep; errors are logged, not
// returned, since a poll sweep has no caller waiting on its result.
type Job func(ctx context.Context)

// Scheduler wraps a github.com/reugn/go-quartz std scheduler configured
// with a single recurring SimpleTrigger, giving the pool-wide poll period
// its own concrete, restartable implementation independent of any
// individual meter's timer.
type Scheduler struct {
	sched   quartz.Scheduler
	trigger quartz.Trigger
	log     *zap.Logger
}

// New creates a Scheduler that is not yet running; call SetPeriod to start
// it, or to change the period of an already-running one.
func New(log *zap.Logger) *Scheduler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Scheduler{sched: quartz.NewStdScheduler(), log: log.Named("pollsched")}
}

// Start launches the scheduler's background dispatch loop. It must be
// called before any job is scheduled.
func (s *Scheduler) Start(ctx context.Context) {
	s.sched.Start(ctx)
}

// Stop halts the scheduler and waits for its dispatch loop to exit.
func (s *Scheduler) Stop() {
	s.sched.Stop()
}

// SetPeriod (re)schedules job to run every period. Calling it again with a
// new period replaces the previous schedule; period <= 0 clears it.
func (s *Scheduler) SetPeriod(job Job, period time.Duration) error {
	s.sched.Clear()
	if period <= 0 {
		return nil
	}
	trigger := quartz.NewSimpleTrigger(period)
	s.trigger = trigger
	qjob := quartzjob.NewFunctionJob(func(ctx context.Context) (int, error) {
		job(ctx)
		return 0, nil
	})
	return s.sched.ScheduleJob(quartz.NewJobDetail(qjob, quartz.NewJobKey("poll")), trigger)
}
