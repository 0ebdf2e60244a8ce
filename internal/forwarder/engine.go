package forwarder

import (
	"context"
	"io"

	"github.com/pkg/errors"

	"github.com/qvm-ssh-agent/bridge/internal/frame"
	"github.com/qvm-ssh-agent/bridge/internal/sockconn"
)

// encodeHeader builds the wire header for a frame of the given payload
// length, using whichever variant Options selects.
func (s *Session) encodeHeader(length uint64, reconnect bool) []byte {
	if s.opts.ExtHeader {
		h := frame.EncodeExt(length, reconnect)
		out := make([]byte, len(h))
		copy(out, h[:])
		return out
	}
	h := frame.Encode(length)
	out := make([]byte, len(h))
	copy(out, h[:])
	return out
}

// writeFrameToPipe frames payload (or a zero-length reconnect signal
// when payload is nil and reconnect is true) and writes it to the pipe's
// stdin side, retrying short writes and transient errors. A broken pipe
// (or any other write error) is fatal for the whole session, per
// spec.md §4.3.1 step 4.
func (s *Session) writeFrameToPipe(payload []byte, reconnect bool) error {
	header := s.encodeHeader(uint64(len(payload)), reconnect)
	buf := make([]byte, 0, len(header)+len(payload))
	buf = append(buf, header...)
	buf = append(buf, payload...)

	for len(buf) > 0 {
		n, err := s.pipe.Writer.Write(buf)
		if err != nil {
			if sockconn.IsTransient(err) {
				continue
			}
			return errors.Wrap(err, "forwarder: write frame to pipe")
		}
		buf = buf[n:]
	}
	return nil
}

// pumpA is Pump A: it reads bursts from the active Connection, frames
// them, and writes the frame to the pipe's stdin side. See spec.md
// §4.3.1.
func (s *Session) pumpA(ctx context.Context) error {
	readSize := frame.MaxPayload
	if s.opts.Compress {
		// Capped so a worst-case snappy expansion can never push the
		// compressed payload past frame.MaxPayload; see compress.go.
		readSize = compressReadCap
	}
	readBuf := make([]byte, readSize)
	conn := s.active.Load()

	if s.role == RoleListener && s.opts.ExtHeader {
		if err := s.writeFrameToPipe(nil, true); err != nil {
			return err
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if err := conn.Refresh(); err != nil {
			return errors.Wrap(err, "pumpA: refresh deadline")
		}
		n, rerr := conn.Read(readBuf)

		if n > 0 {
			payload := readBuf[:n]
			if s.opts.Compress {
				payload = compressPayload(nil, payload)
			}
			if err := s.writeFrameToPipe(payload, false); err != nil {
				return err
			}
		}

		if rerr == nil {
			continue
		}

		switch {
		case sockconn.IsTransient(rerr):
			continue
		case sockconn.IsEOF(rerr) || sockconn.IsPeerGone(rerr):
			if s.role != RoleListener {
				return errors.Wrap(rerr, "pumpA: connector's local peer gone")
			}
			newConn, werr := s.waitForReplacement(ctx, conn)
			if werr != nil {
				return werr
			}
			conn = newConn
			s.opts.logf("pumpA: local peer reconnected")
			if s.opts.ExtHeader {
				if err := s.writeFrameToPipe(nil, true); err != nil {
					return err
				}
			}
		default:
			return errors.Wrap(rerr, "pumpA: read")
		}
	}
}

// writeSocket writes payload to conn in full, handling partial writes
// and transient errors by retrying, and a broken local peer per the
// role policy: Listener waits for and switches to a replacement
// Connection (dropping whatever remains of payload, per spec.md §7
// "Dropped frames"); Connector treats it as fatal.
func (s *Session) writeSocket(ctx context.Context, conn *sockconn.Conn, payload []byte) (*sockconn.Conn, error) {
	for len(payload) > 0 {
		if err := conn.Refresh(); err != nil {
			return conn, errors.Wrap(err, "refresh deadline")
		}
		n, err := conn.Write(payload)
		if err == nil {
			payload = payload[n:]
			continue
		}

		switch {
		case sockconn.IsTransient(err):
			continue
		case sockconn.IsPeerGone(err):
			if s.role != RoleListener {
				return conn, errors.Wrap(err, "connector's local peer gone")
			}
			newConn, werr := s.waitForReplacement(ctx, conn)
			if werr != nil {
				return conn, werr
			}
			s.opts.logf("pumpB: local peer reconnected, dropping in-flight frame")
			return newConn, nil
		default:
			return conn, errors.Wrap(err, "write")
		}
	}
	return conn, nil
}

// pumpB is Pump B: it decodes framed messages from the pipe's stdout
// side and writes the payload to the active Connection. See spec.md
// §4.3.2.
func (s *Session) pumpB(ctx context.Context) error {
	headerLen := s.opts.headerLen()
	header := make([]byte, headerLen)
	conn := s.active.Load()

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if _, err := io.ReadFull(s.reader, header); err != nil {
			if sockconn.IsPeerGone(err) || sockconn.IsEOF(err) {
				return errors.Wrap(err, "pumpB: pipe gone")
			}
			if sockconn.IsTransient(err) {
				continue
			}
			// "on other errors, log and restart the frame" — spec.md
			// §4.3.2 step 2.
			s.opts.logf("pumpB: header read error, restarting frame: %v", err)
			continue
		}

		var length uint64
		var reconnect bool
		if s.opts.ExtHeader {
			length, reconnect = frame.DecodeExt(header)
		} else {
			length = frame.Decode(header)
		}

		if reconnect && length == 0 {
			s.opts.logf("pumpB: reconnect signal received, discarding stale parse state")
			continue
		}
		if length > frame.MaxPayload {
			return errors.Errorf("pumpB: frame length %d exceeds MaxPayload %d", length, frame.MaxPayload)
		}

		payload := make([]byte, length)
		if _, err := io.ReadFull(s.reader, payload); err != nil {
			return errors.Wrap(err, "pumpB: payload read")
		}

		if s.opts.Compress && len(payload) > 0 {
			decoded, err := decompressPayload(nil, payload)
			if err != nil {
				return errors.Wrap(err, "pumpB: decompress")
			}
			payload = decoded
		}

		if cur := s.active.Load(); cur != conn {
			// A replacement was installed while this pump was not
			// waiting for one; consume it so the counter can return to
			// rest.
			s.counter.Add(-1)
			conn = cur
		}
		newConn, err := s.writeSocket(ctx, conn, payload)
		if err != nil {
			return err
		}
		conn = newConn
	}
}
