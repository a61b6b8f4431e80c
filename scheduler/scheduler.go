package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"pgmetrics/gatherer"
	"pgmetrics/logger"
	"pgmetrics/metrics"
	"pgmetrics/sink"
)

// Scheduler drives all configured tasks on their individual cadences
// (RunForever) or exactly once each (RunOnce), and ships the collected
// records to the active sinks. One task's failure never aborts another
// task's run or the loop itself.
type Scheduler struct {
	log    *logger.Logger
	clock  clockwork.Clock
	tasks  []*gatherer.Task
	states []*runState
}

// runState is the mutable per-task state, owned by the scheduler.
// prevRaw is updated only after a successful fetch+format cycle, so a
// failure leaves stale-but-valid state for the next rate computation.
type runState struct {
	lastRunAt           time.Time
	lastError           error
	consecutiveFailures int
	prevRaw             any
}

func New(log *logger.Logger, clock clockwork.Clock, tasks []*gatherer.Task) *Scheduler {
	return &Scheduler{
		log:    log,
		clock:  clock,
		tasks:  tasks,
		states: make([]*runState, len(tasks)),
	}
}

func (s *Scheduler) state(i int) *runState {
	if s.states[i] == nil {
		s.states[i] = &runState{}
	}
	return s.states[i]
}

// execResult is the explicit outcome of one task cycle. Failure kinds
// are recovered locally; they never propagate to the caller.
type execResult struct {
	records []metrics.Record
	failure error
	kind    string // "fetch" or "format"
}

func (s *Scheduler) execute(ctx context.Context, i int) execResult {
	task := s.tasks[i]
	st := s.state(i)
	st.lastRunAt = s.clock.Now()

	raw, err := task.Source.Fetch(ctx)
	if err != nil {
		st.lastError = err
		st.consecutiveFailures++
		return execResult{failure: err, kind: "fetch"}
	}

	records, err := task.Format(raw, st.prevRaw, task.Meta)
	if err != nil {
		st.lastError = err
		st.consecutiveFailures++
		return execResult{failure: err, kind: "format"}
	}

	st.prevRaw = raw
	st.lastError = nil
	st.consecutiveFailures = 0
	return execResult{records: records}
}

func (s *Scheduler) logFailure(ctx context.Context, i int, cycleID string, res execResult) {
	task := s.tasks[i]
	s.log.Error(ctx, res.failure, "task cycle failed",
		"cycle", cycleID,
		"task", task.Name,
		"scope", task.Scope.String(),
		"database", task.Database,
		"stage", res.kind,
		"consecutive_failures", s.state(i).consecutiveFailures)
}

// RunOnce executes every task exactly one time, in configuration
// order, accumulating records. A failing task contributes zero records
// and is logged, but does not halt the others. Returns the number of
// tasks that failed so the caller can signal incomplete output.
func (s *Scheduler) RunOnce(ctx context.Context) ([]metrics.Record, int) {
	cycleID := uuid.NewString()
	var all []metrics.Record
	failed := 0
	for i := range s.tasks {
		res := s.execute(ctx, i)
		if res.failure != nil {
			s.logFailure(ctx, i, cycleID, res)
			failed++
			continue
		}
		all = append(all, res.records...)
	}
	return all, failed
}

// RunForever runs the periodic loop until the context is cancelled.
// Every task starts due immediately; after each run its next due time
// is its last run time plus its interval, and the loop sleeps until
// the nearest due time across all tasks. Only a fatal sink delivery
// error ends the loop with an error; task-level failures never do.
func (s *Scheduler) RunForever(ctx context.Context, out sink.Sink) error {
	if len(s.tasks) == 0 {
		return fmt.Errorf("no tasks configured")
	}
	s.log.Info(ctx, "starting statistics polling loop", "tasks", len(s.tasks))

	nextDue := make([]time.Time, len(s.tasks))
	now := s.clock.Now()
	for i := range nextDue {
		nextDue[i] = now
	}

	for {
		if ctx.Err() != nil {
			s.log.Info(ctx, "polling loop stopped")
			return nil
		}

		now = s.clock.Now()
		cycleID := uuid.NewString()
		var batch []metrics.Record
		for i, task := range s.tasks {
			if nextDue[i].After(now) {
				continue
			}
			res := s.execute(ctx, i)
			nextDue[i] = s.state(i).lastRunAt.Add(task.Interval)
			if res.failure != nil {
				s.logFailure(ctx, i, cycleID, res)
				continue
			}
			batch = append(batch, res.records...)
		}

		if len(batch) > 0 {
			s.log.Debug(ctx, "delivering records", "cycle", cycleID, "records", len(batch))
			if err := out.Deliver(ctx, batch); err != nil {
				s.log.Error(ctx, err, "fatal sink delivery failure", "cycle", cycleID)
				return err
			}
		}

		if err := s.sleepUntilNextDue(ctx, nextDue); err != nil {
			s.log.Info(ctx, "polling loop stopped")
			return nil
		}
	}
}

// sleepUntilNextDue blocks until the nearest due time arrives or the
// context is cancelled; cancellation skips the remaining sleep.
func (s *Scheduler) sleepUntilNextDue(ctx context.Context, nextDue []time.Time) error {
	nearest := nextDue[0]
	for _, due := range nextDue[1:] {
		if due.Before(nearest) {
			nearest = due
		}
	}

	wait := nearest.Sub(s.clock.Now())
	if wait <= 0 {
		return ctx.Err()
	}

	timer := s.clock.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.Chan():
		return nil
	}
}
