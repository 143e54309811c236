package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type Handler func(ctx context.Context) error

// Outcome reports one task considered by a tick. Skipped tasks were due but
// still running from an earlier tick, or were not started because ctx ended.
type Outcome struct {
	Name     string
	Err      error
	Skipped  bool
	Duration time.Duration
}

type TaskStatus struct {
	Name      string    `json:"name"`
	Cron      string    `json:"cron"`
	LastRunAt time.Time `json:"last_run_at"`
	NextRunAt time.Time `json:"next_run_at"`
	Running   bool      `json:"running"`
}

type task struct {
	name      string
	schedule  *Schedule
	handler   Handler
	lastRunAt time.Time
	running   bool
}

// Scheduler keeps tasks in registration order and runs the ones due in the
// current minute. Minutes that pass without a check are not caught up.
type Scheduler struct {
	mu    sync.Mutex
	tasks []*task
	now   func() time.Time
}

func New() *Scheduler {
	return &Scheduler{now: time.Now}
}

// AddTask registers a task, or replaces the schedule and handler of an
// existing task in place while keeping its position and last run.
func (s *Scheduler) AddTask(name, expr string, handler Handler) error {
	if name == "" {
		return fmt.Errorf("task name is required")
	}
	if handler == nil {
		return fmt.Errorf("task %s: handler is nil", name)
	}
	schedule, err := ParseCron(expr)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if t := s.find(name); t != nil {
		t.schedule = schedule
		t.handler = handler
		return nil
	}
	s.tasks = append(s.tasks, &task{name: name, schedule: schedule, handler: handler})
	return nil
}

func (s *Scheduler) RemoveTask(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, t := range s.tasks {
		if t.name == name {
			s.tasks = append(s.tasks[:i], s.tasks[i+1:]...)
			return true
		}
	}
	return false
}

// CheckAndRunTasks runs every task due at now's minute, sequentially and in
// registration order. A task runs at most once per minute and never
// overlaps itself.
func (s *Scheduler) CheckAndRunTasks(ctx context.Context, now time.Time) []Outcome {
	minute := now.Truncate(time.Minute)

	var (
		due      []*task
		outcomes []Outcome
	)

	s.mu.Lock()
	for _, t := range s.tasks {
		if !t.schedule.Matches(minute) {
			continue
		}
		if t.running {
			outcomes = append(outcomes, Outcome{Name: t.name, Skipped: true})
			continue
		}
		if t.lastRunAt.Equal(minute) {
			continue
		}
		t.running = true
		t.lastRunAt = minute
		due = append(due, t)
	}
	s.mu.Unlock()

	for _, t := range due {
		if err := ctx.Err(); err != nil {
			s.finish(t)
			outcomes = append(outcomes, Outcome{Name: t.name, Err: err, Skipped: true})
			continue
		}

		start := s.now()
		err := run(ctx, t.handler)
		s.finish(t)
		outcomes = append(outcomes, Outcome{Name: t.name, Err: err, Duration: s.now().Sub(start)})
	}

	return outcomes
}

func run(ctx context.Context, handler Handler) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return handler(ctx)
}

func (s *Scheduler) finish(t *task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t.running = false
}

// NextRun is the next time the named task is due after now.
func (s *Scheduler) NextRun(name string, now time.Time) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.find(name)
	if t == nil {
		return time.Time{}, false
	}
	return t.schedule.Next(now), true
}

// Next is the earliest next run across all tasks.
func (s *Scheduler) Next(now time.Time) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	var next time.Time
	for _, t := range s.tasks {
		n := t.schedule.Next(now)
		if n.IsZero() {
			continue
		}
		if next.IsZero() || n.Before(next) {
			next = n
		}
	}
	return next
}

// Interval is the spacing between consecutive runs of the named task.
func (s *Scheduler) Interval(name string, now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.find(name)
	if t == nil {
		return 0
	}
	return t.schedule.Interval(now)
}

func (s *Scheduler) Tasks(now time.Time) []TaskStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	statuses := make([]TaskStatus, 0, len(s.tasks))
	for _, t := range s.tasks {
		statuses = append(statuses, TaskStatus{
			Name:      t.name,
			Cron:      t.schedule.String(),
			LastRunAt: t.lastRunAt,
			NextRunAt: t.schedule.Next(now),
			Running:   t.running,
		})
	}
	return statuses
}

func (s *Scheduler) find(name string) *task {
	for _, t := range s.tasks {
		if t.name == name {
			return t
		}
	}
	return nil
}
