// Package scheduler runs independent periodic tasks with per-task timeouts
// and exponential backoff on failure.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"ugps-bridge/internal/transport"
)

const (
	defaultBackoffMax   = 10 * time.Second
	defaultTimeoutRatio = 0.8
)

// Task is one periodic job. Run gets a context bounded by Timeout.
type Task struct {
	Name     string
	Interval time.Duration
	// Timeout bounds a single run and must be shorter than Interval.
	// Zero means 80% of Interval.
	Timeout time.Duration
	// BackoffInitial is the first delay after a failure. Zero means Interval.
	BackoffInitial time.Duration
	// BackoffMax caps the failure delay. Zero means 10s.
	BackoffMax time.Duration
	// Once stops the task after its first successful run.
	Once bool
	Run  func(ctx context.Context) error
}

func (t Task) withDefaults() (Task, error) {
	t.Name = strings.TrimSpace(t.Name)
	if t.Name == "" {
		return t, fmt.Errorf("task name is required")
	}
	if t.Run == nil {
		return t, fmt.Errorf("task %s: run func is required", t.Name)
	}
	if t.Interval <= 0 {
		return t, fmt.Errorf("task %s: interval must be > 0", t.Name)
	}
	if t.Timeout <= 0 {
		t.Timeout = time.Duration(float64(t.Interval) * defaultTimeoutRatio)
	}
	if t.Timeout >= t.Interval {
		return t, fmt.Errorf("task %s: timeout %s must be shorter than interval %s", t.Name, t.Timeout, t.Interval)
	}
	if t.BackoffInitial <= 0 {
		t.BackoffInitial = t.Interval
	}
	if t.BackoffMax <= 0 {
		t.BackoffMax = defaultBackoffMax
	}
	if t.BackoffMax < t.BackoffInitial {
		t.BackoffMax = t.BackoffInitial
	}
	return t, nil
}

// failureDelay is the wait after the n-th consecutive failure (n >= 1).
func (t Task) failureDelay(n uint64) time.Duration {
	d := t.BackoffInitial
	for i := uint64(1); i < n && d < t.BackoffMax; i++ {
		d *= 2
	}
	if d > t.BackoffMax {
		d = t.BackoffMax
	}
	if d < t.Interval {
		d = t.Interval
	}
	return d
}

// TaskSnapshot is the externally visible state of one task.
type TaskSnapshot struct {
	Name                string    `json:"name"`
	State               string    `json:"state"`
	Interval            string    `json:"interval"`
	Runs                uint64    `json:"runs"`
	Failures            uint64    `json:"failures"`
	ConsecutiveFailures uint64    `json:"consecutive_failures"`
	LastError           string    `json:"last_error,omitempty"`
	LastErrorKind       string    `json:"last_error_kind,omitempty"`
	LastSuccess         time.Time `json:"last_success,omitzero"`
}

type taskState struct {
	task Task

	mu          sync.RWMutex
	state       string
	runs        uint64
	failures    uint64
	consecutive uint64
	lastErr     string
	lastKind    string
	lastSuccess time.Time
}

type Scheduler struct {
	log   *zap.Logger
	tasks []*taskState
	now   func() time.Time
}

// New validates tasks and applies their defaults. Task names must be unique.
func New(log *zap.Logger, tasks ...Task) (*Scheduler, error) {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Scheduler{log: log, now: time.Now}
	seen := map[string]bool{}
	for _, t := range tasks {
		t, err := t.withDefaults()
		if err != nil {
			return nil, err
		}
		if seen[t.Name] {
			return nil, fmt.Errorf("duplicate task name %q", t.Name)
		}
		seen[t.Name] = true
		s.tasks = append(s.tasks, &taskState{task: t, state: "pending"})
	}
	return s, nil
}

// Run starts every task and blocks until ctx is cancelled or every task has
// finished. Task errors never stop the scheduler.
func (s *Scheduler) Run(ctx context.Context) error {
	var g errgroup.Group
	for _, ts := range s.tasks {
		ts := ts
		g.Go(func() error {
			s.loop(ctx, ts)
			return nil
		})
	}
	return g.Wait()
}

func (s *Scheduler) loop(ctx context.Context, ts *taskState) {
	t := ts.task
	log := s.log.With(zap.String("task", t.Name))
	for {
		if ctx.Err() != nil {
			ts.setState("stopped")
			return
		}

		ts.setState("running")
		start := s.now()
		err := runOnce(ctx, t)
		if ctx.Err() != nil {
			ts.setState("stopped")
			return
		}

		var wait time.Duration
		if err != nil {
			n := ts.recordFailure(err)
			wait = t.failureDelay(n)
			log.Warn("task failed",
				zap.String("kind", kindName(err)),
				zap.String("endpoint", endpointOf(err)),
				zap.Uint64("consecutive", n),
				zap.Duration("retry_in", wait),
				zap.Error(err),
			)
			ts.setState("backoff")
		} else {
			if prev := ts.recordSuccess(s.now()); prev > 0 {
				log.Info("task recovered", zap.Uint64("after_failures", prev))
			}
			if t.Once {
				ts.setState("done")
				return
			}
			wait = t.Interval - time.Since(start)
			ts.setState("idle")
		}

		if wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				ts.setState("stopped")
				return
			case <-timer.C:
			}
		}
	}
}

func runOnce(ctx context.Context, t Task) (err error) {
	runCtx, cancel := context.WithTimeout(ctx, t.Timeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return t.Run(runCtx)
}

func kindName(err error) string {
	if k := transport.KindOf(err); k != 0 {
		return k.String()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	return "error"
}

func endpointOf(err error) string {
	var pe *transport.PollError
	if errors.As(err, &pe) {
		return pe.Endpoint
	}
	return ""
}

func (ts *taskState) setState(state string) {
	ts.mu.Lock()
	ts.state = state
	ts.mu.Unlock()
}

func (ts *taskState) recordFailure(err error) uint64 {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.runs++
	ts.failures++
	ts.consecutive++
	ts.lastErr = err.Error()
	ts.lastKind = kindName(err)
	return ts.consecutive
}

// recordSuccess returns the number of consecutive failures it cleared.
func (ts *taskState) recordSuccess(now time.Time) uint64 {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	prev := ts.consecutive
	ts.runs++
	ts.consecutive = 0
	ts.lastSuccess = now
	return prev
}

func (ts *taskState) snapshot() TaskSnapshot {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return TaskSnapshot{
		Name:                ts.task.Name,
		State:               ts.state,
		Interval:            ts.task.Interval.String(),
		Runs:                ts.runs,
		Failures:            ts.failures,
		ConsecutiveFailures: ts.consecutive,
		LastError:           ts.lastErr,
		LastErrorKind:       ts.lastKind,
		LastSuccess:         ts.lastSuccess,
	}
}

// Snapshot returns per-task counters in registration order.
func (s *Scheduler) Snapshot() []TaskSnapshot {
	if s == nil {
		return nil
	}
	out := make([]TaskSnapshot, 0, len(s.tasks))
	for _, ts := range s.tasks {
		out = append(out, ts.snapshot())
	}
	return out
}
