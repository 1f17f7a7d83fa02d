/*
sweeper.go - Scheduled cancellation sweep

PURPOSE:
  Periodically evaluates the hard cancellation trigger for every active
  policy, so policies whose grace period has lapsed get canceled even when
  nobody opens them.

DESIGN:
  - Runs on a cron schedule (robfig/cron), default "@daily"
  - Skips policies that are already canceled
  - Each policy is evaluated in its own accounting session; one failing
    policy does not stop the sweep
  - Results are logged and recorded in metrics

CONFIGURATION:
  - Schedule: five-field cron spec or descriptor (sweep.schedule)
  - Enabled: Whether sweeper is active (sweep.enabled)

USAGE:
  sweeper := NewSweeper(handler, "@daily")
  if err := sweeper.Start(); err != nil { ... }
  // ... later
  sweeper.Stop()

SEE ALSO:
  - handlers.go: RunSweep endpoint (manual sweep)
  - accounting/accounting.go: ShouldCancel
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robfig/cron/v3"
	"github.com/samber/lo"

	"github.com/warp/policy-accounting/accounting"
)

// SweepResult summarizes one pass over the book of policies.
type SweepResult struct {
	AsOf      accounting.Date
	Evaluated int
	Canceled  []accounting.PolicyID
	Failed    int
}

// SweepCancellations runs ShouldCancel as of asOf (zero means today) for
// every active policy.
func (h *Handler) SweepCancellations(ctx context.Context, asOf accounting.Date) (SweepResult, error) {
	start := time.Now()
	if asOf.IsZero() {
		asOf = h.Clock()
	}

	policies, err := h.Store.ListPolicies(ctx)
	if err != nil {
		h.Metrics.RecordSweep(time.Since(start), 0, false)
		return SweepResult{}, errors.Wrap(err, "list policies")
	}

	result := SweepResult{AsOf: asOf, Canceled: []accounting.PolicyID{}}
	active := lo.Filter(policies, func(p accounting.Policy, _ int) bool {
		return p.Status == accounting.StatusActive
	})
	for _, p := range active {
		result.Evaluated++
		canceled, err := h.evaluateCancellation(ctx, p.ID, asOf)
		if err != nil {
			result.Failed++
			h.Log.Errorw("[Sweeper] Evaluation failed", "policy_id", p.ID, "error", err)
			continue
		}
		if canceled {
			result.Canceled = append(result.Canceled, p.ID)
		}
	}

	h.Metrics.RecordSweep(time.Since(start), len(result.Canceled), result.Failed == 0)
	return result, nil
}

func (h *Handler) evaluateCancellation(ctx context.Context, id accounting.PolicyID, asOf accounting.Date) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	pa, err := accounting.New(ctx, h.Store, h.Audit, id, accounting.WithClock(h.Clock))
	if err != nil && !accounting.IsRecoverable(err) {
		return false, err
	}
	canceled, err := pa.ShouldCancel(ctx, asOf)
	if err != nil {
		return false, err
	}
	h.Metrics.RecordCancellation(canceled)
	return canceled, nil
}

// Sweeper runs SweepCancellations on a cron schedule.
type Sweeper struct {
	Handler  *Handler
	Schedule string
	Enabled  bool

	cron *cron.Cron
	mu   sync.Mutex
}

// NewSweeper creates an enabled sweeper.
func NewSweeper(h *Handler, schedule string) *Sweeper {
	return &Sweeper{
		Handler:  h,
		Schedule: schedule,
		Enabled:  true,
	}
}

// Start registers the sweep and starts the cron scheduler. An invalid
// schedule is an error; a disabled sweeper does nothing.
func (s *Sweeper) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	log := s.Handler.Log
	if !s.Enabled {
		log.Infow("[Sweeper] Disabled, not starting")
		return nil
	}
	if s.cron != nil {
		return nil
	}

	c := cron.New(cron.WithLocation(time.UTC))
	if _, err := c.AddFunc(s.Schedule, s.run); err != nil {
		return errors.Wrapf(err, "invalid sweep schedule %q", s.Schedule)
	}
	c.Start()
	s.cron = c

	log.Infow("[Sweeper] Started", "schedule", s.Schedule)
	return nil
}

// Stop stops the scheduler and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
	s.cron = nil
	s.Handler.Log.Infow("[Sweeper] Stopped")
}

// Running reports whether the scheduler is started.
func (s *Sweeper) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cron != nil
}

// NextRun returns when the next scheduled sweep will occur, or the zero time
// when the scheduler is not running.
func (s *Sweeper) NextRun() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron == nil {
		return time.Time{}
	}
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}

func (s *Sweeper) run() {
	log := s.Handler.Log
	result, err := s.Handler.SweepCancellations(context.Background(), accounting.Date{})
	if err != nil {
		log.Errorw("[Sweeper] Sweep failed", "error", err)
		return
	}
	log.Infow("[Sweeper] Completed",
		"as_of", result.AsOf.String(),
		"evaluated", result.Evaluated,
		"canceled", len(result.Canceled),
		"failed", result.Failed,
	)
}
