package sockconn

import (
	"errors"
	"io"
	"net"
	"syscall"
)

// IsTransient reports whether err is one of the "retry at the same call
// site" conditions from spec.md §7: a timeout, or an interrupted syscall.
// Go's net package surfaces WouldBlock/EAGAIN as a timeout once a
// deadline is set, so timeout covers that case too.
func IsTransient(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return errors.Is(err, syscall.EINTR)
}

// IsPeerGone reports whether err indicates the remote end of a Connection
// or pipe has gone away: a connection reset or a broken pipe. Both are
// handled identically by spec.md §7's "local/remote peer gone" policy.
func IsPeerGone(err error) bool {
	return errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, net.ErrClosed)
}

// IsEOF reports orderly end-of-stream, treated the same as IsPeerGone by
// the engine's read-side policy (spec.md §4.3.1 step 2, N=0 case) but
// kept distinct so callers can log it differently.
func IsEOF(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}
