// Package reconcile keeps the compliance snapshot in step with the detection
// service by polling it on a fixed cadence.
package reconcile

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"ppewatch/internal/remote"
	"ppewatch/internal/session"
)

// StatusSource answers compliance snapshot queries.
type StatusSource interface {
	DetectionStatus(ctx context.Context) (remote.DetectionStatus, error)
}

type Outcome int

const (
	// Skipped means detection was off and nothing was requested.
	Skipped Outcome = iota
	// Busy means a poll was already in flight.
	Busy
	Merged
	// Stale means a command changed the session while the poll was out and
	// the response was dropped.
	Stale
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Skipped:
		return "skipped"
	case Busy:
		return "busy"
	case Merged:
		return "merged"
	case Stale:
		return "stale"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

type Result struct {
	Outcome    Outcome
	Generation uint64
	Snapshot   session.Snapshot
	Err        error
}

const (
	phaseIdle int32 = iota
	phasePolling
)

type Reconciler struct {
	store *session.Store
	src   StatusSource
	phase atomic.Int32
	log   zerolog.Logger
}

type Option func(*Reconciler)

func WithLogger(log zerolog.Logger) Option {
	return func(r *Reconciler) { r.log = log }
}

func New(store *session.Store, src StatusSource, opts ...Option) *Reconciler {
	r := &Reconciler{store: store, src: src, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Polling reports whether a poll is in flight.
func (r *Reconciler) Polling() bool {
	return r.phase.Load() == phasePolling
}

// Tick runs one poll. At most one poll is in flight; overlapping calls
// return Busy without touching the service.
func (r *Reconciler) Tick(ctx context.Context) Result {
	if !r.phase.CompareAndSwap(phaseIdle, phasePolling) {
		return Result{Outcome: Busy}
	}
	defer r.phase.Store(phaseIdle)

	start := r.store.Read()
	g0 := start.Generation
	if !start.DetectionEnabled {
		return Result{Outcome: Skipped, Generation: g0}
	}

	status, err := r.src.DetectionStatus(ctx)
	if err != nil {
		if !remote.IsCanceled(err) {
			r.log.Warn().Err(err).Uint64("generation", g0).Msg("poll failed")
		}
		return Result{Outcome: Failed, Generation: g0, Err: err}
	}

	snap := status.Snapshot()
	state, applied := r.store.ApplyAt(g0, func(d *session.Draft) {
		prev := d.Snapshot
		d.Snapshot = snap
		recordTransition(d, prev, snap)
	})
	if !applied {
		r.log.Debug().
			Uint64("polled_at", g0).
			Uint64("current", state.Generation).
			Msg("discarding stale poll")
		return Result{Outcome: Stale, Generation: g0, Snapshot: snap}
	}
	return Result{Outcome: Merged, Generation: g0, Snapshot: state.Snapshot}
}

// Run polls every interval until ctx is done. Failed polls are not retried
// before the next tick.
func (r *Reconciler) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("reconcile: interval must be positive, got %s", interval)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			res := r.Tick(ctx)
			if res.Outcome == Merged || res.Outcome == Stale {
				r.log.Debug().
					Str("outcome", res.Outcome.String()).
					Int("compliant", res.Snapshot.CompliantCount()).
					Msg("poll")
			}
		}
	}
}

// complianceKey is what the feed reports on: whether someone is in view and,
// if so, whether they wear the full set. Count changes inside the incomplete
// range are not transitions.
type complianceKey struct {
	present bool
	full    bool
}

func keyOf(s session.Snapshot) complianceKey {
	if !s.PersonPresent {
		return complianceKey{}
	}
	return complianceKey{present: true, full: s.IsFullyCompliant()}
}

func recordTransition(d *session.Draft, prev, next session.Snapshot) {
	before, after := keyOf(prev), keyOf(next)
	if before == after {
		return
	}
	switch {
	case !after.present:
		d.Record(session.LevelInfo, session.KindMonitoring, "no person in view, monitoring")
	case after.full:
		d.Record(session.LevelSuccess, session.KindCompliant, "PPE complete")
	default:
		d.Record(session.LevelWarning, session.KindIncomplete,
			fmt.Sprintf("PPE incomplete (%d/%d)", next.CompliantCount(), session.ItemCount))
	}
}
