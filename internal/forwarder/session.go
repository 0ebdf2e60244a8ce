// Package forwarder implements the bidirectional byte-forwarding engine:
// two pumps (socket->pipe and pipe->socket) sharing a kill signal, a
// reconnect-request flag, and a swappable active Connection, framed with
// internal/frame and backed by internal/sockconn.
package forwarder

import (
	"bufio"
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/qvm-ssh-agent/bridge/internal/frame"
	"github.com/qvm-ssh-agent/bridge/internal/sockconn"
)

// Role discriminates which of the two deployment roles a Session plays.
// Both roles share the same pump implementation; only the local-peer-gone
// policy (reconnect vs. fatal) differs.
type Role int

const (
	RoleListener Role = iota
	RoleConnector
)

func (r Role) String() string {
	if r == RoleListener {
		return "listener"
	}
	return "connector"
}

// ErrKilled is returned by a pump when it observes the kill signal while
// waiting for a reconnect, so Run can distinguish "stopped on purpose"
// from a genuine I/O failure.
var ErrKilled = errors.New("forwarder: session killed")

// PipePair is the pair of unidirectional byte channels to the RPC child
// (Listener role) or to the process's own standard streams (Connector
// role). Closer, if non-nil, is closed by the supervisor on shutdown so a
// pump blocked in a read on Reader is unblocked promptly (pipes have no
// read-deadline support in Go, unlike sockconn.Conn).
type PipePair struct {
	Writer io.Writer
	Reader io.Reader
	Closer io.Closer
}

// Options configures optional, non-core behavior of a Session.
type Options struct {
	// Compress snappy-compresses/decompresses each frame's payload.
	// Both peers must agree; see SPEC_FULL.md §4 CompressedPipePair.
	Compress bool
	// ExtHeader selects the 9-byte length+flags header variant instead
	// of the plain 8-byte one. Both peers must agree.
	ExtHeader bool
	// Quiet records the --quiet setting. The pumps do not read it; the
	// commands suppress chatter by leaving Logf nil.
	Quiet bool
	// Logf receives diagnostic lines; nil disables logging. Errors are
	// never dropped because of a nil Logf, only the optional chatter is.
	Logf func(format string, args ...any)
}

func (o Options) logf(format string, args ...any) {
	if o.Logf != nil {
		o.Logf(format, args...)
	}
}

// Log emits a diagnostic line through Opts.Logf, or does nothing if no
// logger was configured. It lets collaborators outside this package
// (the role drivers) share the same optional-logging convention as the
// pumps do internally.
func (o Options) Log(format string, args ...any) {
	o.logf(format, args...)
}

func (o Options) headerLen() int {
	if o.ExtHeader {
		return frame.ExtHeaderLen
	}
	return frame.HeaderLen
}

// Session is one ForwarderContext: a Connection (swappable, Listener
// role only), a PipePair, and the shared kill/reconnect-request state.
// One Session exists per listener lifetime (Listener, with replacement
// Connections swapped in through InstallActive) or per process lifetime
// (Connector).
type Session struct {
	role Role
	pipe PipePair
	opts Options

	active      atomic.Pointer[sockconn.Conn]
	reconnectNo atomic.Bool
	counter     atomic.Int32 // reconnect protocol counter, see spec.md §4.3.3

	doneA, doneB chan struct{}
	errA, errB   atomic.Pointer[error]

	// firstDone is closed the moment either pump exits, before Run's own
	// <-doneA; <-doneB join completes. A supervisor watches this (not
	// Run's return) to tear the whole session down as soon as one side
	// fails, instead of leaving the other pump running against a dead
	// peer. See spec.md §7 "the supervisor observes termination via
	// finished and tears down the session".
	firstDone     chan struct{}
	firstDoneOnce sync.Once

	// reader buffers pipe.Reader for the lifetime of the Session so
	// that overflow bytes from one frame's read survive into the next,
	// per spec.md §4.3.2 step 4. It must be created once, not per call.
	reader *bufio.Reader
}

// NewSession constructs a Session with conn installed as the initial
// active Connection and the reconnect counter at rest (0 — no
// installation pending).
func NewSession(role Role, conn *sockconn.Conn, pipe PipePair, opts Options) *Session {
	s := &Session{
		role:      role,
		pipe:      pipe,
		opts:      opts,
		doneA:     make(chan struct{}),
		doneB:     make(chan struct{}),
		firstDone: make(chan struct{}),
	}
	s.active.Store(conn)
	s.reader = bufio.NewReaderSize(pipe.Reader, frame.MaxFrame)
	return s
}

// Run launches both pumps and blocks until both have exited, returning
// each one's terminal error (nil on a clean, caller-requested stop).
// Cancel ctx to request a stop. Run does not return when only one pump
// has failed; the caller (SessionSupervisor) watches FirstPumpDone and
// cancels ctx so the other pump exits too. Call Run only once.
func (s *Session) Run(ctx context.Context) (errA, errB error) {
	go func() {
		defer close(s.doneA)
		err := s.pumpA(ctx)
		if ctx.Err() != nil {
			// Returned after the kill signal (ErrKilled, or an I/O error
			// from the teardown): a requested stop, not a failure.
			err = nil
		}
		s.errA.Store(&err)
		s.firstDoneOnce.Do(func() { close(s.firstDone) })
	}()
	go func() {
		defer close(s.doneB)
		err := s.pumpB(ctx)
		if ctx.Err() != nil {
			err = nil
		}
		s.errB.Store(&err)
		s.firstDoneOnce.Do(func() { close(s.firstDone) })
	}()

	<-s.doneA
	<-s.doneB

	if p := s.errA.Load(); p != nil {
		errA = *p
	}
	if p := s.errB.Load(); p != nil {
		errB = *p
	}
	return errA, errB
}

// FirstPumpDone returns a channel closed as soon as either pump exits,
// well before Run itself returns (Run waits for both). A supervisor
// selects on this to react to a one-sided failure immediately.
func (s *Session) FirstPumpDone() <-chan struct{} {
	return s.firstDone
}

// PipeCloser returns the PipePair's Closer, or nil if none was given.
// A supervisor closes it on teardown to unblock a pump parked in a
// blocking pipe read or write.
func (s *Session) PipeCloser() io.Closer {
	return s.pipe.Closer
}

// Finished reports whether either pump has already exited.
func (s *Session) Finished() bool {
	select {
	case <-s.doneA:
		return true
	default:
	}
	select {
	case <-s.doneB:
		return true
	default:
		return false
	}
}

// InstallActive installs conn as the new active Connection, per the
// spec.md §4.3.3 counter protocol: it only takes effect when the counter
// has returned to 0 (both pumps have consumed the previous replacement).
// It reports whether the install happened.
func (s *Session) InstallActive(conn *sockconn.Conn) bool {
	if s.counter.Load() != 0 {
		return false
	}
	s.active.Store(conn)
	s.counter.Store(2)
	s.reconnectNo.Store(false)
	return true
}

// ReconnectPending reports whether a pump has raised the reconnect
// request and the driver has not yet installed a replacement.
func (s *Session) ReconnectPending() bool {
	return s.reconnectNo.Load()
}

// reconnectWaitPoll is the spin interval for a pump waiting on a
// replacement Connection. Spec.md §5 calls this "acceptable because
// reconnects are rare and human-scale" — a short sleep, not a busy loop.
const reconnectWaitPoll = 50 * time.Millisecond

// waitForReplacement suspends the calling pump until either ctx is
// cancelled (kill) or a new active Connection distinct from stale is
// installed, consuming one unit of the install counter on success.
func (s *Session) waitForReplacement(ctx context.Context, stale *sockconn.Conn) (*sockconn.Conn, error) {
	s.reconnectNo.Store(true)
	for {
		select {
		case <-ctx.Done():
			return nil, ErrKilled
		default:
		}

		cur := s.active.Load()
		if cur != stale {
			s.counter.Add(-1)
			return cur, nil
		}

		select {
		case <-ctx.Done():
			return nil, ErrKilled
		case <-time.After(reconnectWaitPoll):
		}
	}
}

