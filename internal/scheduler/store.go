package scheduler

import "sort"

// Store buckets entries by due tick. It is not safe for concurrent use.
type Store struct {
	buckets map[int64][]Entry
	count   int
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{buckets: make(map[int64][]Entry)}
}

// Insert schedules e at current+delay and returns the due tick.
// Negative delays are treated as zero.
func (s *Store) Insert(delay, current int64, e Entry) int64 {
	if delay < 0 {
		delay = 0
	}
	due := current + delay
	e.Due = due
	s.buckets[due] = append(s.buckets[due], e)
	s.count++
	return due
}

// Drain removes every bucket whose tick is strictly before current and
// returns their entries by ascending tick, insertion order within a tick.
func (s *Store) Drain(current int64) []Entry {
	var due []int64
	for tick := range s.buckets {
		if tick < current {
			due = append(due, tick)
		}
	}
	if len(due) == 0 {
		return nil
	}
	sort.Slice(due, func(i, j int) bool { return due[i] < due[j] })

	var out []Entry
	for _, tick := range due {
		out = append(out, s.buckets[tick]...)
		s.count -= len(s.buckets[tick])
		delete(s.buckets, tick)
	}
	return out
}

// Len returns the number of pending entries.
func (s *Store) Len() int { return s.count }

// Ticks returns the bucket keys in ascending order.
func (s *Store) Ticks() []int64 {
	ticks := make([]int64, 0, len(s.buckets))
	for tick := range s.buckets {
		ticks = append(ticks, tick)
	}
	sort.Slice(ticks, func(i, j int) bool { return ticks[i] < ticks[j] })
	return ticks
}

// Bucket returns a copy of the entries due at tick.
func (s *Store) Bucket(tick int64) []Entry {
	b := s.buckets[tick]
	if len(b) == 0 {
		return nil
	}
	return append([]Entry(nil), b...)
}

// Pending returns a copy of every entry in drain order.
func (s *Store) Pending() []Entry {
	out := make([]Entry, 0, s.count)
	for _, tick := range s.Ticks() {
		out = append(out, s.buckets[tick]...)
	}
	return out
}
