// Package scheduler flips sessions between scheduled, running and stopped on
// a fixed interval and starts or stops their workers accordingly.
package scheduler

import (
	"context"
	"log"
	"time"

	"facecheck/internal/academics"
	"facecheck/internal/metrics"
	"facecheck/internal/worker"
)

// DefaultInterval is how often sessions are checked.
const DefaultInterval = 15 * time.Second

// Sessions is the part of the session store the scheduler drives.
type Sessions interface {
	StartDue(ctx context.Context, now time.Time) ([]academics.Session, error)
	StopExpired(ctx context.Context, now time.Time) ([]academics.Session, error)
	ListRunning(ctx context.Context) ([]academics.Session, error)
}

// SourceFunc picks the camera source for a session.
type SourceFunc func(academics.Session) string

// Scheduler owns the periodic session flips.
type Scheduler struct {
	sessions Sessions
	ctrl     worker.Controller
	source   SourceFunc
	interval time.Duration
	now      func() time.Time
}

// New creates a scheduler.
func New(sessions Sessions, ctrl worker.Controller, source SourceFunc, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Scheduler{sessions: sessions, ctrl: ctrl, source: source, interval: interval, now: time.Now}
}

// Tick starts due sessions and stops expired ones once.
func (s *Scheduler) Tick(ctx context.Context) {
	now := s.now()

	started, err := s.sessions.StartDue(ctx, now)
	if err != nil {
		log.Printf("scheduler: %v", err)
	}
	for _, sess := range started {
		metrics.SchedulerFlips.WithLabelValues(academics.StatusRunning).Inc()
		log.Printf("session %d: auto start", sess.ID)
		if err := s.ctrl.StartSession(ctx, sess.ID, s.source(sess)); err != nil {
			log.Printf("session %d: start worker: %v", sess.ID, err)
		}
	}

	stopped, err := s.sessions.StopExpired(ctx, now)
	if err != nil {
		log.Printf("scheduler: %v", err)
	}
	for _, sess := range stopped {
		metrics.SchedulerFlips.WithLabelValues(academics.StatusStopped).Inc()
		log.Printf("session %d: auto stop", sess.ID)
		if err := s.ctrl.StopSession(ctx, sess.ID); err != nil {
			log.Printf("session %d: stop worker: %v", sess.ID, err)
		}
	}
}

// Resume starts workers for sessions already running, such as after a restart.
func (s *Scheduler) Resume(ctx context.Context) {
	running, err := s.sessions.ListRunning(ctx)
	if err != nil {
		log.Printf("scheduler: resume: %v", err)
		return
	}
	now := s.now()
	for _, sess := range running {
		if !sess.Running(now) {
			continue
		}
		if err := s.ctrl.StartSession(ctx, sess.ID, s.source(sess)); err != nil {
			log.Printf("session %d: resume worker: %v", sess.ID, err)
		}
	}
}

// Run resumes running sessions and then ticks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	s.Resume(ctx)
	s.Tick(ctx)
	t := time.NewTicker(s.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.Tick(ctx)
		}
	}
}
