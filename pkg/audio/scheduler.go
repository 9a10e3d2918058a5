package audio

import (
	"sync"
	"time"
)

// Scheduler queues buffers on a [Player] so they play back-to-back in
// arrival order. It keeps a cursor for the next start time that never moves
// backwards and never falls behind the clock.
//
// Scheduler tracks the buffers that are scheduled but not yet finished and
// reports activity: true after every buffer it hands to the player, false
// once nothing is pending. Reports are delivered one at a time and the last
// one always matches the pending set, even when a buffer finishes while a
// report is being delivered. It is safe for concurrent use.
type Scheduler struct {
	clock      Clock
	player     Player
	onActivity func(active bool)

	mu       sync.Mutex
	next     time.Duration
	inflight map[uint64]struct{}
	seq      uint64
	gen      uint64

	reported  bool
	kicked    bool
	dirty     bool
	reporting bool
}

// NewScheduler returns a Scheduler driving player against clock. onActivity
// may be nil; it may call back into the Scheduler or finish buffers.
func NewScheduler(clock Clock, player Player, onActivity func(active bool)) *Scheduler {
	return &Scheduler{
		clock:      clock,
		player:     player,
		onActivity: onActivity,
		inflight:   make(map[uint64]struct{}),
	}
}

// Schedule starts buf at max(cursor, clock.Now()) and advances the cursor by
// the buffer's duration. It returns the chosen start time.
func (s *Scheduler) Schedule(buf Frame) (time.Duration, error) {
	s.mu.Lock()
	startAt := max(s.next, s.clock.Now())
	s.next = startAt + buf.Duration()
	s.seq++
	id, gen := s.seq, s.gen
	s.inflight[id] = struct{}{}
	s.kicked = true
	s.mu.Unlock()

	if err := s.player.Start(buf, startAt, func() { s.finish(gen, id) }); err != nil {
		s.finish(gen, id)
		return startAt, err
	}
	s.report()
	return startAt, nil
}

func (s *Scheduler) finish(gen, id uint64) {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	if _, ok := s.inflight[id]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.inflight, id)
	s.mu.Unlock()
	s.report()
}

// report delivers activity changes. A call made while another goroutine (or
// the callback itself) is delivering only marks the state dirty; the
// delivering loop picks it up before returning.
func (s *Scheduler) report() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dirty = true
	if s.reporting || s.onActivity == nil {
		return
	}
	s.reporting = true
	for s.dirty {
		s.dirty = false
		active := len(s.inflight) > 0
		deliver := active != s.reported || (active && s.kicked)
		s.kicked = false
		if !deliver {
			continue
		}
		s.reported = active
		s.mu.Unlock()
		s.onActivity(active)
		s.mu.Lock()
	}
	s.reporting = false
}

// Pending returns the number of scheduled buffers that have not finished.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inflight)
}

// Next returns the cursor: the earliest time the next buffer may start.
func (s *Scheduler) Next() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next
}

// Reset drops every in-flight buffer, as when the service reports that the
// model was interrupted: the player is flushed so nothing already queued
// keeps playing, and late completions are ignored. The cursor is kept so
// later buffers never overlap audio the device may still be draining.
func (s *Scheduler) Reset() {
	s.mu.Lock()
	s.gen++
	clear(s.inflight)
	s.mu.Unlock()

	s.player.Flush()
	s.report()
}
