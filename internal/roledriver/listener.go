// Package roledriver wires internal/sockconn, internal/forwarder,
// internal/supervisor and internal/qrexec into the two deployment roles
// from spec.md §4.4/§4.5: ListenerDriver (client VM, binds SSH_AUTH_SOCK)
// and ConnectorDriver (vault VM, dials the real ssh-agent socket).
package roledriver

import (
	"time"

	"github.com/pkg/errors"

	"github.com/qvm-ssh-agent/bridge/internal/forwarder"
	"github.com/qvm-ssh-agent/bridge/internal/sockconn"
	"github.com/qvm-ssh-agent/bridge/internal/supervisor"
)

// acceptPollInterval is how often the non-blocking accept loop polls the
// listener once a session is already active, per spec.md §4.4 step 3
// ("accept, with a short timeout, in a loop").
const acceptPollInterval = 200 * time.Millisecond

// ListenerDriver runs the client-VM side: it binds a UNIX socket at Path,
// accepts the SSH client's Connections, and forwards them over a single
// PipePair (the qrexec child's stdio) via one long-lived Session, queuing
// and installing replacement Connections as SSH clients reconnect.
type ListenerDriver struct {
	Path string
	Pipe forwarder.PipePair
	Opts forwarder.Options

	listener *sockconn.Listener
	queue    *forwarder.AcceptQueue
}

// Start binds the listener socket, blocks for the first Connection,
// launches the Session under a Supervisor, and returns control to the
// caller with the accept loop running in the background. The caller owns
// the returned Supervisor and must Close it (which also unbinds the
// socket) when the process is shutting down.
func (d *ListenerDriver) Start() (*supervisor.Supervisor, error) {
	l, err := sockconn.BindListener(d.Path)
	if err != nil {
		return nil, errors.Wrap(err, "roledriver: bind listener")
	}
	d.listener = l

	first, err := l.Accept()
	if err != nil {
		l.Close()
		return nil, errors.Wrap(err, "roledriver: first accept")
	}
	d.Opts.Log("listener: first client connected on %s", d.Path)

	session := forwarder.NewSession(forwarder.RoleListener, first, d.Pipe, d.Opts)
	sup := supervisor.New(session, closerFunc(func() error {
		return l.Close()
	}))

	d.queue = forwarder.NewAcceptQueue()
	go d.acceptLoop(sup)

	return sup, nil
}

// acceptLoop runs for the lifetime of the Session: it drains newly
// accepted Connections into the bounded AcceptQueue and, whenever a pump
// is waiting on a replacement (ReconnectPending) and the counter has
// returned to rest, installs the oldest queued Connection as the new
// active one. Gating on ReconnectPending (in addition to the counter)
// avoids preempting a Connection that is still being used normally —
// spec.md §4.4 names only the counter, but §4.3.3's fuller description of
// the reconnect protocol implies installs only ever happen in response to
// a raised request.
//
// A pump failure already tears the Supervisor down on its own (see
// internal/supervisor's watcher goroutine), so Finished() here just ends
// this loop. But a failure local to the listener itself — the accept
// deadline can no longer be set, or Accept fails with something other
// than a timeout — is not a pump failure and nothing else will notice
// it, so this loop must terminate the Supervisor itself, per spec.md
// §4.4 "on other errors, terminate the supervisor".
func (d *ListenerDriver) acceptLoop(sup *supervisor.Supervisor) {
	for {
		if sup.Finished() {
			d.drainQueue()
			return
		}

		if err := d.listener.SetAcceptDeadline(time.Now().Add(acceptPollInterval)); err != nil {
			sup.Close()
			d.drainQueue()
			return
		}
		conn, err := d.listener.Accept()
		if err != nil {
			if sockconn.IsTransient(err) {
				d.tryInstall(sup)
				continue
			}
			sup.Close()
			d.drainQueue()
			return
		}

		d.opts().Log("listener: new client connection queued")
		d.queue.Push(conn)
		d.tryInstall(sup)
	}
}

func (d *ListenerDriver) tryInstall(sup *supervisor.Supervisor) {
	if d.queue.Len() == 0 || !sup.ReconnectPending() {
		return
	}
	conn := d.queue.Pop()
	if conn == nil {
		return
	}
	if !sup.InstallActive(conn) {
		// Counter moved again before we could install; put it back at
		// the front and try again next tick.
		d.queue.PushFront(conn)
	}
}

func (d *ListenerDriver) drainQueue() {
	for {
		conn := d.queue.Pop()
		if conn == nil {
			return
		}
		conn.Close()
	}
}

func (d *ListenerDriver) opts() forwarder.Options { return d.Opts }

type closerFunc func() error

func (f closerFunc) Close() error { return f() }
