// Package sweeper runs the periodic expiry and re-evaluation pass over
// non-terminal alerts.
package sweeper

import (
	"context"
	"sync"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/Ved45ant/Intelligent-Alert-System/internal/lifecycle"
)

const (
	DefaultInterval  = 2 * time.Minute
	DefaultExpiry    = 24 * time.Hour
	DefaultBatchSize = 500
)

// Summary reports what a single sweep did.
type Summary struct {
	Scanned   int
	Expired   int
	Evaluated int
	Errors    int
}

// Sweeper periodically fetches a bounded batch of OPEN/ESCALATED alerts,
// age-expires the stale ones and re-evaluates the rest. Every change goes
// through the per-alert CAS, so overlapping or duplicate runs converge:
// re-sweeping already-closed alerts is a no-op.
type Sweeper struct {
	svc      *lifecycle.Service
	logger   log.Logger
	metrics  *lifecycle.Metrics
	interval time.Duration
	expiry   time.Duration
	batch    int

	now func() time.Time

	stop chan struct{}
	done chan struct{}
	once sync.Once
}

// New creates a Sweeper. Zero interval, expiry, or batch fall back to the
// package defaults. metrics may be nil.
func New(svc *lifecycle.Service, logger log.Logger, metrics *lifecycle.Metrics, interval, expiry time.Duration, batch int) *Sweeper {
	if logger == nil {
		logger = log.Nop()
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	if expiry <= 0 {
		expiry = DefaultExpiry
	}
	if batch <= 0 {
		batch = DefaultBatchSize
	}
	return &Sweeper{
		svc:      svc,
		logger:   logger,
		metrics:  metrics,
		interval: interval,
		expiry:   expiry,
		batch:    batch,
		now:      time.Now,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the sweep loop. The first sweep runs after one interval.
func (s *Sweeper) Start(ctx context.Context) {
	go s.run(ctx)
}

// Stop requests shutdown and waits for an in-flight sweep to finish.
func (s *Sweeper) Stop() {
	s.once.Do(func() { close(s.stop) })
	<-s.done
}

func (s *Sweeper) run(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			sum := s.Sweep(ctx)
			if sum.Scanned > 0 || sum.Errors > 0 {
				s.logger.Info(ctx, "sweep finished",
					"scanned", sum.Scanned,
					"expired", sum.Expired,
					"evaluated", sum.Evaluated,
					"errors", sum.Errors,
				)
			}
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Sweep runs one pass. A single alert's failure is logged and counted; the
// rest of the batch still gets processed.
func (s *Sweeper) Sweep(ctx context.Context) Summary {
	start := time.Now()
	var sum Summary

	alerts, err := s.svc.Pending(ctx, s.batch)
	if err != nil {
		s.logger.Error(ctx, err, "sweep batch fetch failed")
		sum.Errors++
		s.observe(sum, time.Since(start))
		return sum
	}

	// An alert aged exactly expiry is already stale: the bound is inclusive.
	cutoff := s.now().UTC().Add(-s.expiry)
	for _, a := range alerts {
		sum.Scanned++
		if a.Status.Terminal() {
			continue // closed between fetch and now
		}
		if !a.Timestamp.After(cutoff) {
			applied, err := s.svc.Expire(ctx, a.ID)
			if err != nil {
				sum.Errors++
				s.logger.Error(ctx, err, "sweep expire failed", "alert_id", a.ID)
				continue
			}
			if applied {
				sum.Expired++
			}
			continue
		}
		if _, _, err := s.svc.Evaluate(ctx, a.ID); err != nil {
			sum.Errors++
			s.logger.Error(ctx, err, "sweep evaluation failed", "alert_id", a.ID)
			continue
		}
		sum.Evaluated++
	}

	s.observe(sum, time.Since(start))
	return sum
}

func (s *Sweeper) observe(sum Summary, took time.Duration) {
	if s.metrics == nil {
		return
	}
	s.metrics.SweepsTotal.Inc()
	s.metrics.SweepDuration.Observe(took.Seconds())
	s.metrics.SweepExpiredTotal.Add(float64(sum.Expired))
	s.metrics.SweepErrorsTotal.Add(float64(sum.Errors))
}
