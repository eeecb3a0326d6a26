// Package revalidate periodically re-checks the signed-in session with the
// identity provider so externally revoked or expired credentials are noticed.
package revalidate

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"docrelay/cmd/internal/auth/session"
	"docrelay/cmd/internal/metrics"
)

// DefaultInterval is the period between fires.
const DefaultInterval = 5 * time.Minute

// Target is the session authority being revalidated.
type Target interface {
	Status() session.Status
	Revalidate(ctx context.Context)
}

// Outcome is the result of one fire.
type Outcome string

const (
	OutcomeStarted      Outcome = "started"
	OutcomeNotSignedIn  Outcome = "skipped_not_signed_in"
	OutcomeStillRunning Outcome = "skipped_overlap"
)

// Scheduler fires Target.Revalidate once at start and then every interval.
//
// A fire is skipped when the session is not signed in, and when the previous
// revalidation has not returned yet; skipped fires are not queued.
// Revalidation runs on its own goroutine so a hung provider call never
// delays the next skip check.
type Scheduler struct {
	target   Target
	interval time.Duration
	log      *slog.Logger
	metrics  *metrics.Metrics
	ticker   func(time.Duration) (<-chan time.Time, func())

	running atomic.Bool
	wg      sync.WaitGroup
}

// Option customizes a Scheduler.
type Option func(*Scheduler)

func WithLogger(log *slog.Logger) Option {
	return func(s *Scheduler) {
		if log != nil {
			s.log = log
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// WithTicker replaces the time.Ticker source.
func WithTicker(fn func(time.Duration) (<-chan time.Time, func())) Option {
	return func(s *Scheduler) {
		if fn != nil {
			s.ticker = fn
		}
	}
}

// New constructs a Scheduler. A non-positive interval selects DefaultInterval.
func New(target Target, interval time.Duration, opts ...Option) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	s := &Scheduler{
		target:   target,
		interval: interval,
		log:      slog.Default(),
		ticker: func(d time.Duration) (<-chan time.Time, func()) {
			t := time.NewTicker(d)
			return t.C, t.Stop
		},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Run fires immediately and then on every tick until ctx ends. It returns
// after the in-flight revalidation, if any, has returned.
func (s *Scheduler) Run(ctx context.Context) error {
	s.log.Info("revalidate.start", "interval", s.interval.String())

	tick, stop := s.ticker(s.interval)
	defer stop()

	s.Fire(ctx)
	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			s.log.Info("revalidate.stop")
			return nil
		case <-tick:
			s.Fire(ctx)
		}
	}
}

// Fire performs one scheduling decision.
func (s *Scheduler) Fire(ctx context.Context) Outcome {
	if st := s.target.Status(); st != session.StatusSignedIn {
		s.record(OutcomeNotSignedIn)
		s.log.Debug("revalidate.skip.not_signed_in", "status", string(st))
		return OutcomeNotSignedIn
	}
	if !s.running.CompareAndSwap(false, true) {
		s.record(OutcomeStillRunning)
		s.log.Warn("revalidate.skip.overlap")
		return OutcomeStillRunning
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.running.Store(false)

		start := time.Now()
		s.target.Revalidate(ctx)
		s.log.Debug("revalidate.done", "elapsed_ms", time.Since(start).Milliseconds())
	}()

	s.record(OutcomeStarted)
	return OutcomeStarted
}

func (s *Scheduler) record(o Outcome) {
	s.metrics.Revalidation(string(o))
}
