// Package timeseries implements a fixed-capacity, fixed-interval sample
// history on top of pkg/ringbuf, with gap back-fill and optional
// mean-averaging within a bucket.
package timeseries

import (
	"sync"
	"time"

	"github.com/vortigont/pzem-edl/pkg/ringbuf"
)

// Series stores samples of type T at a fixed interval, back-filling any gap
// left by late or missing updates with the newest sample rather than a
// stale or zero value, and optionally averaging multiple samples that land
// within the same bucket.
type Series[T any] struct {
	mu       sync.Mutex
	ring     *ringbuf.Ring[T]
	interval time.Duration
	tstamp   time.Time
	avg      Averager[T]
}

// New creates a Series with room for capacity buckets of width interval,
// with its bucket clock seeded at startTime. avg may be nil, in which case
// each bucket stores the single sample that closed it. Seeding the clock at
// construction, rather than letting the first Put establish it, matches the
// original's constructor (tstamp(start_time)) and means a Put that arrives
// before startTime+interval is dropped like any other intermediate sample,
// not unconditionally retained as the series' first point.
func New[T any](capacity int, interval time.Duration, avg Averager[T], alloc ringbuf.Allocator[T], startTime time.Time) *Series[T] {
	return &Series[T]{
		ring:     ringbuf.New[T](capacity, alloc),
		interval: interval,
		tstamp:   startTime,
		avg:      avg,
	}
}

// Reset clears the series and re-anchors its bucket clock at t, discarding
// all stored history. Equivalent to the original's reset(t): used when a
// gap is so large that back-filling it would mean pushing more buckets than
// the series can even hold.
func (s *Series[T]) Reset(t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetLocked(t)
}

func (s *Series[T]) resetLocked(t time.Time) {
	cap := s.ring.Cap()
	s.ring = ringbuf.New[T](cap, nil)
	s.tstamp = t
	if s.avg != nil {
		s.avg.Reset()
	}
}

// Put records val as having arrived at time t. If an Averager is configured
// and t falls within the current bucket's interval, val is merely
// accumulated; the bucket is only closed (pushed to the ring) once t
// reaches the next interval boundary. A gap of two or more missed intervals
// is back-filled using val — the newest sample — as the filler for every
// missed bucket, not a stale previous value, and a gap wider than the
// entire ring capacity instead triggers Reset.
func (s *Series[T]) Put(val T, t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	elapsed := t.Sub(s.tstamp)
	if elapsed < s.interval {
		if s.avg != nil {
			s.avg.Push(val)
		}
		return
	}

	bucketVal := val
	if s.avg != nil {
		s.avg.Push(val)
		bucketVal = s.avg.Get()
	}

	if elapsed >= 2*s.interval {
		missed := int(elapsed / s.interval)
		if missed > s.ring.Cap() {
			s.resetLocked(t)
			if s.avg != nil {
				s.avg.Push(val)
			} else {
				s.ring.Push(val)
			}
			return
		}
		for elapsed > s.interval {
			s.ring.Push(val) // back-fill with the newest sample, not a stale one
			elapsed -= s.interval
		}
	}

	s.ring.Push(bucketVal)
	s.tstamp = t
	if s.avg != nil {
		s.avg.Reset()
	}
}

// Len returns the number of buckets currently stored.
func (s *Series[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ring.Len()
}

// Cap returns the series' bucket capacity.
func (s *Series[T]) Cap() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ring.Cap()
}

// Forward returns a snapshot slice of all stored buckets, oldest first.
func (s *Series[T]) Forward() []T {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]T, 0, s.ring.Len())
	for it := s.ring.Forward(); it.Next(); {
		out = append(out, it.Value())
	}
	return out
}

// Latest returns the most recently closed bucket, if any.
func (s *Series[T]) Latest() (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ring.Newest()
}
