package session

import (
	"sync"
	"time"
)

// Draft is the mutable view handed to Apply. Changes land only when the
// mutation returns, all at once.
type Draft struct {
	State

	now        time.Time
	invalidate bool
}

// Invalidate forces a generation bump even when neither the source nor the
// detection flag changed. Commands that start a new session epoch call it.
func (d *Draft) Invalidate() {
	d.invalidate = true
}

// Record prepends an activity line; the feed keeps the newest MaxActivity.
func (d *Draft) Record(level Level, kind Kind, message string) {
	rec := Record{At: d.now, Level: level, Kind: kind, Message: message}
	d.Activity = append([]Record{rec}, d.Activity...)
	if len(d.Activity) > MaxActivity {
		d.Activity = d.Activity[:MaxActivity]
	}
}

// Reset returns every field to its initial value. The activity feed and the
// generation survive; the generation is bumped on commit.
func (d *Draft) Reset() {
	activity := d.Activity
	d.State = State{Generation: d.Generation, Activity: activity}
	d.invalidate = true
}

// Store owns the session state. All writes go through Apply or ApplyAt and are
// linearized by a single lock.
type Store struct {
	mu      sync.Mutex
	state   State
	subs    map[int]func(State)
	nextSub int
	now     func() time.Time
}

type Option func(*Store)

// WithClock overrides the clock used to stamp activity records.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

func NewStore(opts ...Option) *Store {
	s := &Store{
		subs: map[int]func(State){},
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Read returns a copy of the current state.
func (s *Store) Read() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.clone()
}

// Generation returns the current session epoch.
func (s *Store) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Generation
}

// Apply runs fn against a draft and commits the result.
func (s *Store) Apply(fn func(*Draft)) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commitLocked(fn)
}

// ApplyAt commits fn only if the store is still at generation gen. The check
// and the write share one critical section, so a command that bumps the
// generation can never interleave between them.
func (s *Store) ApplyAt(gen uint64, fn func(*Draft)) (State, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Generation != gen {
		return s.state.clone(), false
	}
	return s.commitLocked(fn), true
}

// Subscribe registers fn to receive every committed state. fn runs with the
// store locked and must not call back into the store.
func (s *Store) Subscribe(fn func(State)) (cancel func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}

func (s *Store) commitLocked(fn func(*Draft)) State {
	prev := s.state
	draft := &Draft{State: prev.clone(), now: s.now()}
	fn(draft)

	next := draft.State
	next.Generation = prev.Generation
	if draft.invalidate || next.Source != prev.Source || next.DetectionEnabled != prev.DetectionEnabled {
		next.Generation++
	}
	if !next.DetectionEnabled {
		next.Snapshot = Snapshot{}
	}
	if next.Source == SourceNone {
		next.Media = ""
	}
	if len(next.Activity) > MaxActivity {
		next.Activity = next.Activity[:MaxActivity]
	}
	s.state = next

	out := next.clone()
	for _, sub := range s.subs {
		sub(out.clone())
	}
	return out
}
