package forwarder

import (
	"path/filepath"
	"testing"

	"github.com/qvm-ssh-agent/bridge/internal/sockconn"
)

// dummyConn returns a Connection-shaped value usable only for identity
// comparisons and Close; the queue never reads or writes through it.
func dummyConn(t *testing.T) *sockconn.Conn {
	t.Helper()
	path := filepath.Join(t.TempDir(), "q.sock")
	l, err := sockconn.BindListener(path)
	if err != nil {
		t.Fatalf("BindListener: %v", err)
	}
	t.Cleanup(func() { l.Close() })

	accepted := make(chan *sockconn.Conn, 1)
	go func() {
		c, _ := l.Accept()
		accepted <- c
	}()
	peer, err := sockconn.Connect(path)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { peer.Close() })
	return <-accepted
}

func TestAcceptQueueFIFO(t *testing.T) {
	q := NewAcceptQueue()
	a, b := dummyConn(t), dummyConn(t)

	q.Push(a)
	q.Push(b)

	if got := q.Pop(); got != a {
		t.Fatalf("first Pop = %v, want a", got)
	}
	if got := q.Pop(); got != b {
		t.Fatalf("second Pop = %v, want b", got)
	}
	if got := q.Pop(); got != nil {
		t.Fatalf("Pop on empty queue = %v, want nil", got)
	}
}

func TestAcceptQueueEvictsOldestAtCapacity(t *testing.T) {
	q := NewAcceptQueue()
	conns := make([]*sockconn.Conn, AcceptQueueCapacity+1)
	for i := range conns {
		conns[i] = dummyConn(t)
		q.Push(conns[i])
	}

	if q.Len() != AcceptQueueCapacity {
		t.Fatalf("Len = %d, want %d", q.Len(), AcceptQueueCapacity)
	}
	// the oldest (conns[0]) should have been evicted and closed; the
	// queue now holds conns[1:].
	if got := q.Pop(); got != conns[1] {
		t.Fatalf("oldest surviving entry = %v, want conns[1]", got)
	}
}

func TestAcceptQueuePushFrontReturnsWork(t *testing.T) {
	q := NewAcceptQueue()
	a, b := dummyConn(t), dummyConn(t)
	q.Push(b)
	q.PushFront(a)

	if got := q.Pop(); got != a {
		t.Fatalf("first Pop = %v, want a", got)
	}
	if got := q.Pop(); got != b {
		t.Fatalf("second Pop = %v, want b", got)
	}
}
