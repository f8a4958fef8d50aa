// Package mailbox implements the SPSC bounded queue of ModuleEvents every
// module owns. Exactly one producer thread and one consumer thread touch a
// given Mailbox at any time; the consumer is always the owning module's
// tick thread.
package mailbox

import "go.uber.org/atomic"

// DefaultCapacity is the default fixed capacity of a Mailbox, per spec.
const DefaultCapacity = 262144

// Kind tags a ModuleEvent's variant.
type Kind int

const (
	// None is reserved; mailbox drain logs and discards it.
	None Kind = iota
	RpcRequest
	RpcResponse
)

// Event is an owned, moved-not-copied value carrying an RPC frame as raw
// bytes. No borrowed span survives enqueue.
type Event struct {
	Kind  Kind
	Bytes []byte
}

// Mailbox is a fixed-capacity ring buffer of Event. Push/Pop are lock-free
// and wait-free on the fast path: they never block and never allocate once
// the ring is constructed.
type Mailbox struct {
	buf  []Event
	mask uint64

	head atomic.Uint64 // next slot the consumer will read
	pad  [56]byte      // keep head and tail off the same cache line
	tail atomic.Uint64 // next slot the producer will write
}

// New builds a Mailbox with the given capacity, rounded up to the next
// power of two (required for the mask-based index wrap).
func New(capacity int) *Mailbox {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	size := nextPow2(uint64(capacity))
	return &Mailbox{
		buf:  make([]Event, size),
		mask: size - 1,
	}
}

func nextPow2(v uint64) uint64 {
	if v == 0 {
		return 1
	}
	v--
	v |= v >> 1
	v |= v >> 2
	v |= v >> 4
	v |= v >> 8
	v |= v >> 16
	v |= v >> 32
	return v + 1
}

// Cap returns the mailbox's actual (power-of-two) capacity.
func (m *Mailbox) Cap() int { return len(m.buf) }

// Len returns the number of events currently queued. Racy by nature when
// called from neither the producer nor the consumer thread; intended for
// diagnostics and tests, not for correctness-critical control flow.
func (m *Mailbox) Len() int {
	return int(m.tail.Load() - m.head.Load())
}

// Empty reports whether the mailbox has no queued events.
func (m *Mailbox) Empty() bool { return m.Len() == 0 }

// Full reports whether the mailbox is at capacity.
func (m *Mailbox) Full() bool { return m.Len() >= len(m.buf) }

// TryPush attempts to enqueue e. It never blocks: on a full mailbox it
// returns false immediately, ownership of e remaining with the caller.
func (m *Mailbox) TryPush(e Event) bool {
	tail := m.tail.Load()
	head := m.head.Load()
	if tail-head >= uint64(len(m.buf)) {
		return false
	}
	m.buf[tail&m.mask] = e
	m.tail.Store(tail + 1)
	return true
}

// TryPop attempts to dequeue the oldest event. Ownership transfers to the
// caller on success.
func (m *Mailbox) TryPop() (Event, bool) {
	head := m.head.Load()
	tail := m.tail.Load()
	if head == tail {
		return Event{}, false
	}
	e := m.buf[head&m.mask]
	m.buf[head&m.mask] = Event{} // release the held byte slice
	m.head.Store(head + 1)
	return e, true
}
