// Package frame implements the wire framing contract between the listener
// and connector daemons: a fixed-width length header followed by an opaque
// payload. The codec is pure and stateless — it has no notion of sockets,
// pipes, or retries, only byte arrays.
package frame

import "encoding/binary"

const (
	// HeaderLen is the width of the plain length header: 8 bytes,
	// little-endian, holding the payload length in bytes.
	HeaderLen = 8

	// MaxFrame bounds the total size (header + payload) of a single
	// plain frame. It is a compile-time constant, not configurable, so
	// every pump can size its buffers once at startup. Payloads are
	// capped at MaxPayload in both header variants, so a frame with the
	// 9-byte extended header can be one byte longer than MaxFrame.
	MaxFrame = 64 * 1024

	// MaxPayload is the largest payload a plain frame can carry.
	MaxPayload = MaxFrame - HeaderLen
)

// Header is a fixed-size byte array representation of the length prefix,
// mirroring the rawHeader idiom used by frame codecs elsewhere in this
// family of tools: a plain array with accessor methods, no hidden state.
type Header [HeaderLen]byte

// Encode returns the 8-byte little-endian encoding of length.
func Encode(length uint64) Header {
	var h Header
	binary.LittleEndian.PutUint64(h[:], length)
	return h
}

// Decode reads a little-endian uint64 out of an 8-byte header slice.
// Callers must pass a slice of at least HeaderLen bytes.
func Decode(h []byte) uint64 {
	return binary.LittleEndian.Uint64(h[:HeaderLen])
}
