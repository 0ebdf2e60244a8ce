package forwarder

import (
	"github.com/golang/snappy"

	"github.com/qvm-ssh-agent/bridge/internal/frame"
)

// compressReadCap is the largest Connection read size Pump A may take
// when Options.Compress is set, chosen so that even snappy's worst-case
// expansion of that much input can never produce a compressed payload
// larger than frame.MaxPayload. Without this cap, a near-MaxPayload read
// could compress to something over MaxPayload, which the peer's Pump B
// would then reject outright (engine.go's length check), killing the
// session over what should have been an ordinary burst of traffic.
var compressReadCap = maxCompressibleInput(frame.MaxPayload)

// maxCompressibleInput returns the largest n for which
// snappy.MaxEncodedLen(n) <= limit.
func maxCompressibleInput(limit int) int {
	n := limit
	for snappy.MaxEncodedLen(n) > limit {
		n--
	}
	return n
}

// compressPayload and decompressPayload implement the optional
// CompressedPipePair decorator from SPEC_FULL.md §3/§4.3: the frame
// header always carries the length of what actually goes on the wire
// (the compressed bytes), so compression happens before framing and
// decompression happens after de-framing, never touching the header.
//
// Grounded on xtaci/kcptun/std/comp.go's CompStream, adapted from a
// whole-stream snappy.Reader/Writer to the block API (snappy.Encode/
// Decode) because each frame here is a discrete message, not a
// continuous stream.
func compressPayload(dst, payload []byte) []byte {
	return snappy.Encode(dst, payload)
}

func decompressPayload(dst, payload []byte) ([]byte, error) {
	return snappy.Decode(dst, payload)
}
