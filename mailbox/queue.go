package mailbox

import "github.com/arborlab/arbor/message"

// ring is a growable circular buffer of envelopes. Using a real ring buffer
// (rather than a bare channel) keeps enqueue/dequeue O(1) while leaving room
// for random-access eviction policies later.
type ring struct {
	buf  []message.Envelope
	head int
	size int
}

const ringMinCapacity = 16

func newRing(hint int) *ring {
	if hint < ringMinCapacity {
		hint = ringMinCapacity
	}
	return &ring{buf: make([]message.Envelope, hint)}
}

func (r *ring) len() int {
	return r.size
}

func (r *ring) push(env message.Envelope) {
	if r.size == len(r.buf) {
		r.grow()
	}
	r.buf[(r.head+r.size)%len(r.buf)] = env
	r.size++
}

// pop removes and returns the oldest envelope. len() must be checked first.
func (r *ring) pop() message.Envelope {
	env := r.buf[r.head]
	r.buf[r.head] = message.Envelope{}
	r.head = (r.head + 1) % len(r.buf)
	r.size--
	return env
}

func (r *ring) grow() {
	next := make([]message.Envelope, len(r.buf)*2)
	for i := 0; i < r.size; i++ {
		next[i] = r.buf[(r.head+i)%len(r.buf)]
	}
	r.buf = next
	r.head = 0
}

// reset discards all queued envelopes and returns how many were dropped.
func (r *ring) reset() int {
	dropped := r.size
	r.buf = make([]message.Envelope, ringMinCapacity)
	r.head = 0
	r.size = 0
	return dropped
}
