// Package supervise implements fail-together supervision of a co-scheduled
// worker group: a fixed set of already-launched long-running processes is
// polled for liveness, and the first exit (successful or not) causes the
// rest of the group to be terminated rather than left running until a
// cluster time limit reaps them.
package supervise

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Process is the narrow platform-process capability the supervisor drives.
// Implementations must tolerate TryWait being called after the process has
// been reaped and keep returning the same result.
type Process interface {
	TryWait() (code int, exited bool, err error)
	Terminate() error
	Kill() error
}

// Worker pairs a logical name with the process it references.
type Worker struct {
	Name string
	Proc Process
}

// Config describes one supervision pass.
type Config struct {
	// Workers is the ordered worker set. Ordering is load-bearing: when
	// several workers exit within the same poll cycle, the first in this
	// slice is recorded as the trigger.
	Workers []Worker
	// PollInterval is the liveness polling period.
	PollInterval time.Duration
	// GracePeriod is the delay between detecting the triggering exit and
	// signaling siblings, and again between the graceful signal and the
	// escalation to an unconditional kill.
	GracePeriod time.Duration
	// Events receives lifecycle notifications when non-nil. The channel
	// must be drained by the caller; sends block.
	Events chan<- Event
}

// ConfigError reports a supervisor configuration rejected at entry, before
// any polling has started.
type ConfigError struct {
	msg string
}

func (e *ConfigError) Error() string { return e.msg }

type workerHandle struct {
	slot int
	name string
	proc Process

	state    WorkerState
	outcome  Outcome
	code     int
	signaled bool
}

// Supervisor drives a single pass over one worker set. Handles are owned
// exclusively by the supervisor for the duration of the pass; a Supervisor
// is not reusable once Run has been called.
type Supervisor struct {
	workers []*workerHandle
	poll    time.Duration
	grace   time.Duration
	events  chan<- Event

	sleep func(context.Context, time.Duration) error

	mu      sync.Mutex
	started bool
	trigger *workerHandle
}

// New validates the configuration and constructs a supervisor. An empty
// worker set or a non-positive polling interval is rejected with a
// ConfigError.
func New(cfg Config) (*Supervisor, error) {
	if len(cfg.Workers) == 0 {
		return nil, &ConfigError{msg: "supervise: worker set is empty"}
	}
	if cfg.PollInterval <= 0 {
		return nil, &ConfigError{msg: fmt.Sprintf("supervise: polling interval must be positive, got %s", cfg.PollInterval)}
	}
	if cfg.GracePeriod < 0 {
		return nil, &ConfigError{msg: fmt.Sprintf("supervise: grace period must not be negative, got %s", cfg.GracePeriod)}
	}

	s := &Supervisor{
		poll:   cfg.PollInterval,
		grace:  cfg.GracePeriod,
		events: cfg.Events,
		sleep:  sleepWithContext,
	}
	for i, w := range cfg.Workers {
		if w.Proc == nil {
			return nil, &ConfigError{msg: fmt.Sprintf("supervise: worker %d has no process", i)}
		}
		name := w.Name
		if name == "" {
			name = fmt.Sprintf("worker-%d", i)
		}
		s.workers = append(s.workers, &workerHandle{
			slot:  i,
			name:  name,
			proc:  w.Proc,
			state: StateRunning,
			code:  CodeUnknown,
		})
	}
	return s, nil
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Run polls the group until every worker has exited, terminating the rest of
// the group once the first exit is observed. It always returns a terminal
// Result; when ctx is cancelled mid-pass the result carries Aborted and the
// context error is returned alongside it after best-effort termination of
// any workers still running.
func (s *Supervisor) Run(ctx context.Context) (*Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil, fmt.Errorf("supervise: supervision pass already started")
	}
	s.started = true
	s.mu.Unlock()

	sendEvent(s.events, "", -1, EventTypeSupervising, fmt.Sprintf("supervising %d workers", len(s.workers)), CodeUnknown, "", nil)

	trigger := s.awaitTrigger(ctx)
	if trigger == nil {
		return s.abort(ctx)
	}

	if s.anyRunning() {
		// Allow natural cascading failure and diagnostic output before
		// signaling the rest of the group.
		if err := s.sleep(ctx, s.grace); err != nil {
			return s.abort(ctx)
		}
		s.pollCycle()
	}

	s.terminateRunning()

	if !s.awaitExits(ctx, s.grace) {
		if ctx.Err() != nil {
			return s.abort(ctx)
		}
		s.killRunning()
		if !s.awaitKilled(ctx) {
			return s.abort(ctx)
		}
	}

	res := s.result(false)
	sendEvent(s.events, trigger.name, trigger.slot, EventTypeDone, res.Summary(), trigger.code, ReasonComplete, nil)
	return res, nil
}

// awaitTrigger polls until the first exit is observed, returning nil when the
// context is cancelled first.
func (s *Supervisor) awaitTrigger(ctx context.Context) *workerHandle {
	for {
		if ctx.Err() != nil {
			return nil
		}
		s.pollCycle()
		if t := s.currentTrigger(); t != nil {
			return t
		}
		if err := s.sleep(ctx, s.poll); err != nil {
			return nil
		}
	}
}

// pollCycle checks every still-running worker once, in input order. Workers
// already reaped are never queried again.
func (s *Supervisor) pollCycle() {
	for _, h := range s.workers {
		if h.state != StateRunning {
			continue
		}
		code, exited, err := h.proc.TryWait()
		if !exited {
			continue
		}
		if err != nil {
			s.markExited(h, OutcomeUnknown, CodeUnknown)
			sendEvent(s.events, h.name, h.slot, EventTypeError, "collect exit status failed", CodeUnknown, ReasonSignalFailed, err)
			continue
		}
		if h.signaled {
			s.markExited(h, OutcomeKilled, code)
		} else {
			s.markExited(h, OutcomeExited, code)
		}
	}
}

func (s *Supervisor) markExited(h *workerHandle, outcome Outcome, code int) {
	h.state = StateExited
	h.outcome = outcome
	h.code = code

	reason := ReasonSiblingExit
	s.mu.Lock()
	if s.trigger == nil && !h.signaled {
		s.trigger = h
		reason = ReasonTrigger
	}
	s.mu.Unlock()
	sendEvent(s.events, h.name, h.slot, EventTypeExited, fmt.Sprintf("worker exited (%s)", outcome), code, reason, nil)
}

func (s *Supervisor) currentTrigger() *workerHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.trigger
}

func (s *Supervisor) anyRunning() bool {
	for _, h := range s.workers {
		if h.state == StateRunning {
			return true
		}
	}
	return false
}

// terminateRunning delivers the graceful termination signal to every worker
// still running. Signal failures mean the process vanished; the worker is
// treated as already exited with an unknown code.
func (s *Supervisor) terminateRunning() {
	for _, h := range s.workers {
		if h.state != StateRunning {
			continue
		}
		h.signaled = true
		sendEvent(s.events, h.name, h.slot, EventTypeTerminating, "terminating worker", CodeUnknown, ReasonGroupStop, nil)
		if err := h.proc.Terminate(); err != nil {
			s.reapAfterSignalFailure(h, err)
		}
	}
}

// killRunning escalates to an unconditional kill for workers that did not
// honor graceful termination within the grace period.
func (s *Supervisor) killRunning() {
	for _, h := range s.workers {
		if h.state != StateRunning {
			continue
		}
		sendEvent(s.events, h.name, h.slot, EventTypeKilling, "worker did not stop in time, killing", CodeUnknown, ReasonEscalation, nil)
		if err := h.proc.Kill(); err != nil {
			s.reapAfterSignalFailure(h, err)
		}
	}
}

func (s *Supervisor) reapAfterSignalFailure(h *workerHandle, sigErr error) {
	if code, exited, err := h.proc.TryWait(); exited && err == nil {
		s.markExited(h, OutcomeKilled, code)
		return
	}
	s.markExited(h, OutcomeUnknown, CodeUnknown)
	sendEvent(s.events, h.name, h.slot, EventTypeError, "signal delivery failed, treating worker as exited", CodeUnknown, ReasonSignalFailed, sigErr)
}

// awaitExits polls until no worker is running or the window elapses.
func (s *Supervisor) awaitExits(ctx context.Context, window time.Duration) bool {
	deadline := time.Now().Add(window)
	for {
		s.pollCycle()
		if !s.anyRunning() {
			return true
		}
		remaining := time.Until(deadline)
		if remaining <= 0 || ctx.Err() != nil {
			return false
		}
		step := s.poll
		if step > remaining {
			step = remaining
		}
		if err := s.sleep(ctx, step); err != nil {
			return false
		}
	}
}

// awaitKilled polls until every killed worker has been reaped. A killed
// process cannot refuse the signal, so this only waits for the OS to
// publish the exit.
func (s *Supervisor) awaitKilled(ctx context.Context) bool {
	for {
		s.pollCycle()
		if !s.anyRunning() {
			return true
		}
		if err := s.sleep(ctx, s.poll); err != nil {
			return false
		}
	}
}

// abort performs best-effort termination of everything still running and
// returns an aborted result alongside the context error.
func (s *Supervisor) abort(ctx context.Context) (*Result, error) {
	sendEvent(s.events, "", -1, EventTypeAborted, "supervision cancelled, terminating remaining workers", CodeUnknown, ReasonCancelled, nil)

	s.terminateRunning()
	s.awaitExits(context.Background(), s.grace)
	s.killRunning()
	s.awaitExits(context.Background(), s.grace)

	// Anything not reaped by now is finalized as killed with an unknown
	// code so the caller still receives a terminal result.
	for _, h := range s.workers {
		if h.state == StateRunning {
			s.markExited(h, OutcomeKilled, CodeUnknown)
		}
	}
	return s.result(true), ctx.Err()
}

func (s *Supervisor) result(aborted bool) *Result {
	res := &Result{Aborted: aborted}
	for _, h := range s.workers {
		res.Workers = append(res.Workers, WorkerStatus{
			Slot:    h.slot,
			Name:    h.name,
			Outcome: h.outcome,
			Code:    h.code,
		})
	}
	if t := s.currentTrigger(); t != nil {
		res.Trigger = res.Workers[t.slot]
	}
	return res
}
