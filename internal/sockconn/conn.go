// Package sockconn adapts UNIX-domain listeners and streams to the
// Connection contract the forwarder engine relies on: always-finite
// read/write timeouts, exclusive ownership, and remove-once cleanup of
// the bound socket path.
package sockconn

import (
	"net"
	"os"
	"time"

	"github.com/pkg/errors"
)

// Timeout is the fixed read/write deadline applied to every Connection,
// per spec.md §4.2. It is not configurable: a finite timeout is an
// invariant, not a tuning knob.
const Timeout = 2 * time.Second

// ErrNotFound is returned by Connect when the target path does not exist.
var ErrNotFound = errors.New("sockconn: socket path does not exist")

// ErrNotSocket is returned by Connect when the target path exists but is
// not a UNIX socket.
var ErrNotSocket = errors.New("sockconn: path exists but is not a socket")

// ErrAlreadyBound is returned by BindListener when the target path
// already exists.
var ErrAlreadyBound = errors.New("sockconn: socket path already bound")

// Conn is a duplex UNIX-domain stream with always-finite deadlines. It is
// owned exclusively by whichever SessionSupervisor created it and must be
// closed exactly once.
type Conn struct {
	*net.UnixConn
}

// wrap applies the fixed timeout once at connection time; callers refresh
// the deadline before each Read/Write via Refresh.
func wrap(c *net.UnixConn) (*Conn, error) {
	conn := &Conn{UnixConn: c}
	if err := conn.Refresh(); err != nil {
		c.Close()
		return nil, errors.Wrap(err, "sockconn: setting initial deadline")
	}
	return conn, nil
}

// Refresh pushes the read/write deadline Timeout into the future. Pumps
// call this before every blocking Read/Write so that a 2s timeout is
// always in effect, never a stale one from a prior call.
func (c *Conn) Refresh() error {
	return c.SetDeadline(time.Now().Add(Timeout))
}

// Connect dials the UNIX socket at path, failing with ErrNotFound if it
// does not exist and ErrNotSocket if it exists but isn't a socket —
// matching original_source/ssh-vault-sock-handler/src/main.rs's
// get_auth_sock, which checks the file type before dialing.
func Connect(path string) (*Conn, error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "sockconn: stat")
	}
	if info.Mode()&os.ModeSocket == 0 {
		return nil, ErrNotSocket
	}

	addr, err := net.ResolveUnixAddr("unix", path)
	if err != nil {
		return nil, errors.Wrap(err, "sockconn: resolve unix addr")
	}
	raw, err := net.DialUnix("unix", nil, addr)
	if err != nil {
		return nil, errors.Wrap(err, "sockconn: dial")
	}
	return wrap(raw)
}

// Listener owns a bound UNIX socket path and removes it exactly once on
// Close, provided the file still exists at that time.
type Listener struct {
	*net.UnixListener
	path string
}

// BindListener binds path, failing with ErrAlreadyBound if it exists,
// otherwise setting world-accessible (0777) permissions so an unsandboxed
// SSH client running under a different user can connect to it.
func BindListener(path string) (*Listener, error) {
	if _, err := os.Stat(path); err == nil {
		return nil, ErrAlreadyBound
	} else if !os.IsNotExist(err) {
		return nil, errors.Wrap(err, "sockconn: stat")
	}

	addr, err := net.ResolveUnixAddr("unix", path)
	if err != nil {
		return nil, errors.Wrap(err, "sockconn: resolve unix addr")
	}
	raw, err := net.ListenUnix("unix", addr)
	if err != nil {
		return nil, errors.Wrap(err, "sockconn: listen")
	}
	if err := os.Chmod(path, 0777); err != nil {
		raw.Close()
		os.Remove(path)
		return nil, errors.Wrap(err, "sockconn: chmod")
	}
	return &Listener{UnixListener: raw, path: path}, nil
}

// Accept blocks until a peer connects (or the deadline set by
// SetAcceptDeadline elapses), applying the fixed timeout to the returned
// Connection.
func (l *Listener) Accept() (*Conn, error) {
	raw, err := l.UnixListener.AcceptUnix()
	if err != nil {
		return nil, err
	}
	return wrap(raw)
}

// SetAcceptDeadline lets the accept-loop driver switch between the
// blocking first-accept (spec.md §4.4 start()) and the non-blocking
// queue-draining accept loop, by pushing a near-future deadline so
// Accept returns promptly with a timeout error instead of blocking.
func (l *Listener) SetAcceptDeadline(t time.Time) error {
	return l.UnixListener.SetDeadline(t)
}

// Close unlinks the socket path (if it still exists) and closes the
// underlying listener. Best-effort: unlink failures are swallowed, same
// as original_source's SockListener Drop impl.
func (l *Listener) Close() error {
	err := l.UnixListener.Close()
	if _, statErr := os.Stat(l.path); statErr == nil {
		os.Remove(l.path)
	}
	return err
}

// Path returns the bound socket path.
func (l *Listener) Path() string { return l.path }
