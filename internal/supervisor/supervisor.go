// Package supervisor owns a forwarder.Session's lifetime: the kill
// signal, join-on-close semantics, and (Listener role only) installing
// replacement Connections. One SessionSupervisor exists per listener
// lifetime or per connector process lifetime, per spec.md §4.6.
package supervisor

import (
	"context"
	"sync"

	"github.com/qvm-ssh-agent/bridge/internal/forwarder"
	"github.com/qvm-ssh-agent/bridge/internal/sockconn"
)

// Supervisor spawns and owns a Session's two pumps. Closing it sets the
// kill signal, closes closer and the Session's PipePair closer, and joins
// both pumps,
// swallowing join failures (best-effort), per spec.md §4.6.
type Supervisor struct {
	session *forwarder.Session
	cancel  context.CancelFunc
	closer  interface{ Close() error }

	once     sync.Once
	errA     error
	errB     error
	joinDone chan struct{}
}

// New starts session running under a cancellable context and returns a
// Supervisor controlling it. closer, if non-nil, is the driver's own
// resource (the bound listener or the Connection) and is closed by Close;
// a pump parked in a pipe read is unblocked by the PipePair's Closer
// instead (pipes have no read-deadline support, unlike sockconn.Conn —
// see PipePair's doc comment).
func New(session *forwarder.Session, closer interface{ Close() error }) *Supervisor {
	ctx, cancel := context.WithCancel(context.Background())
	sup := &Supervisor{
		session:  session,
		cancel:   cancel,
		closer:   closer,
		joinDone: make(chan struct{}),
	}

	go func() {
		defer close(sup.joinDone)
		sup.errA, sup.errB = session.Run(ctx)
	}()

	// A one-sided pump failure (e.g. the vault-side agent resetting the
	// pipe) must not leave the other pump running forever against a dead
	// peer: tear the whole session down as soon as either pump exits,
	// rather than waiting for an external caller to notice, per
	// spec.md §7.
	go func() {
		<-session.FirstPumpDone()
		sup.Close()
	}()

	return sup
}

// Finished reports whether either pump has already exited.
func (s *Supervisor) Finished() bool {
	return s.session.Finished()
}

// InstallActive installs conn as the session's new active Connection,
// per the spec.md §4.3.3 counter protocol. It reports whether the
// install took effect (the counter must be at 0).
func (s *Supervisor) InstallActive(conn *sockconn.Conn) bool {
	return s.session.InstallActive(conn)
}

// ReconnectPending reports whether a pump is waiting on a replacement
// Connection.
func (s *Supervisor) ReconnectPending() bool {
	return s.session.ReconnectPending()
}

// Wait blocks until both pumps have exited and returns their terminal
// errors.
func (s *Supervisor) Wait() (errA, errB error) {
	<-s.joinDone
	return s.errA, s.errB
}

// Close sets the kill signal, closes both the driver-supplied closer
// (the bound listener or Connection) and the session's own PipePair
// closer (the qrexec child or pipe) to unblock whichever pump is parked
// in a blocking read or write, and joins both pumps. It is idempotent
// (safe to call from the watcher goroutine and the driver both) and
// always returns nil: join failures are swallowed, matching
// original_source's best-effort Drop semantics.
func (s *Supervisor) Close() error {
	s.once.Do(func() {
		s.cancel()
		if s.closer != nil {
			s.closer.Close()
		}
		if pc := s.session.PipeCloser(); pc != nil {
			pc.Close()
		}
		<-s.joinDone
	})
	return nil
}
