package mailbox

import "sync/atomic"

// Stats holds the mailbox delivery counters. Counters are atomic so they can
// be read without taking the mailbox lock.
type Stats struct {
	enqueued uint64
	dequeued uint64
	dropped  uint64
}

func (s *Stats) recordEnqueue() {
	atomic.AddUint64(&s.enqueued, 1)
}

func (s *Stats) recordDequeue() {
	atomic.AddUint64(&s.dequeued, 1)
}

func (s *Stats) recordDrop() {
	atomic.AddUint64(&s.dropped, 1)
}

func (s *Stats) snapshot(depth int) StatsSnapshot {
	return StatsSnapshot{
		Enqueued: atomic.LoadUint64(&s.enqueued),
		Dequeued: atomic.LoadUint64(&s.dequeued),
		Dropped:  atomic.LoadUint64(&s.dropped),
		Depth:    depth,
	}
}

// StatsSnapshot is a point-in-time view of mailbox counters.
type StatsSnapshot struct {
	// Enqueued counts successfully queued envelopes.
	Enqueued uint64

	// Dequeued counts envelopes handed to the consumer.
	Dequeued uint64

	// Dropped counts envelopes discarded by the Drop policy or at Close.
	Dropped uint64

	// Depth is the queue length at snapshot time.
	Depth int
}
