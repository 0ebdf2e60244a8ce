package forwarder

import "github.com/qvm-ssh-agent/bridge/internal/sockconn"

// AcceptQueueCapacity is the small bounded FIFO capacity accepted
// connections wait in before being promoted to active, per spec.md §3.
const AcceptQueueCapacity = 5

// AcceptQueue is a bounded FIFO of freshly accepted Connections awaiting
// promotion to active. It is touched only by the Listener driver's
// accept-loop goroutine — no cross-thread access is needed, per
// spec.md §5.
type AcceptQueue struct {
	items []*sockconn.Conn
}

// NewAcceptQueue returns an empty queue.
func NewAcceptQueue() *AcceptQueue {
	return &AcceptQueue{items: make([]*sockconn.Conn, 0, AcceptQueueCapacity)}
}

// Push appends conn to the queue. If the queue is already at capacity,
// the oldest queued Connection is closed and dropped to make room —
// this is a small accept backlog, not an unbounded buffer.
func (q *AcceptQueue) Push(conn *sockconn.Conn) {
	if len(q.items) >= AcceptQueueCapacity {
		stale := q.items[0]
		q.items = q.items[1:]
		stale.Close()
	}
	q.items = append(q.items, conn)
}

// PushFront puts conn back at the head of the queue, for a caller that
// popped it but could not use it yet (e.g. an install raced against the
// counter). It bypasses the capacity eviction Push applies, since this is
// returning work, not adding new work.
func (q *AcceptQueue) PushFront(conn *sockconn.Conn) {
	q.items = append([]*sockconn.Conn{conn}, q.items...)
}

// Pop removes and returns the oldest queued Connection, or nil if empty.
func (q *AcceptQueue) Pop() *sockconn.Conn {
	if len(q.items) == 0 {
		return nil
	}
	head := q.items[0]
	q.items = q.items[1:]
	return head
}

// Len reports how many Connections are currently queued.
func (q *AcceptQueue) Len() int { return len(q.items) }
