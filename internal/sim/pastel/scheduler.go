package pastel

import "sort"

type Schedulable interface {
	Trigger()
}

// Scheduler holds items until their delay elapses. Items are bucketed by the
// tick they expire on, so advancing costs nothing for items that are not due.
type Scheduler[T Schedulable] struct {
	now     uint64
	buckets map[uint64][]T
	n       int
}

func NewScheduler[T Schedulable]() *Scheduler[T] {
	return &Scheduler[T]{buckets: map[uint64][]T{}}
}

// Put schedules item to fire on the delay-th following Tick. A delay of zero or
// less fires on the next Tick.
func (s *Scheduler[T]) Put(item T, delay int) {
	if delay < 1 {
		delay = 1
	}
	due := s.now + uint64(delay)
	s.buckets[due] = append(s.buckets[due], item)
	s.n++
}

// Tick advances one tick and triggers every expiring item in enqueue order.
// It returns how many items fired.
func (s *Scheduler[T]) Tick() int {
	s.now++
	due, ok := s.buckets[s.now]
	if !ok {
		return 0
	}
	delete(s.buckets, s.now)
	s.n -= len(due)
	for _, item := range due {
		item.Trigger()
	}
	return len(due)
}

func (s *Scheduler[T]) Len() int { return s.n }

type Pending[T any] struct {
	Item      T
	Remaining int
}

// Pending lists scheduled items soonest first.
func (s *Scheduler[T]) Pending() []Pending[T] {
	if s.n == 0 {
		return nil
	}
	ticks := make([]uint64, 0, len(s.buckets))
	for t := range s.buckets {
		ticks = append(ticks, t)
	}
	sort.Slice(ticks, func(i, j int) bool { return ticks[i] < ticks[j] })
	out := make([]Pending[T], 0, s.n)
	for _, t := range ticks {
		for _, item := range s.buckets[t] {
			out = append(out, Pending[T]{Item: item, Remaining: int(t - s.now)})
		}
	}
	return out
}
