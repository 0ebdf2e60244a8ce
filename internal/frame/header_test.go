package frame

import "testing"

// TestRoundTrip verifies P1: for every nonnegative L <= MaxPayload,
// Decode(Encode(L)) == L.
func TestRoundTrip(t *testing.T) {
	lengths := []uint64{0, 1, 2, 36, 512, MaxPayload - 1, MaxPayload}
	for _, l := range lengths {
		h := Encode(l)
		if got := Decode(h[:]); got != l {
			t.Fatalf("Decode(Encode(%d)) = %d, want %d", l, got, l)
		}
	}
}

func TestEncodeIsLittleEndian(t *testing.T) {
	h := Encode(1)
	if h[0] != 1 {
		t.Fatalf("expected little-endian byte 0 == 1, got header %v", h)
	}
	for i := 1; i < HeaderLen; i++ {
		if h[i] != 0 {
			t.Fatalf("expected zero byte at offset %d, got %v", i, h)
		}
	}
}

func TestExtHeaderRoundTrip(t *testing.T) {
	cases := []struct {
		length    uint64
		reconnect bool
	}{
		{0, true},
		{0, false},
		{36, false},
		{512, true},
	}
	for _, c := range cases {
		h := EncodeExt(c.length, c.reconnect)
		gotLen, gotReconn := DecodeExt(h[:])
		if gotLen != c.length || gotReconn != c.reconnect {
			t.Fatalf("DecodeExt(EncodeExt(%d, %v)) = (%d, %v)", c.length, c.reconnect, gotLen, gotReconn)
		}
	}
}

func TestExtHeaderFlagIsolatesLengthBytes(t *testing.T) {
	h := EncodeExt(36, true)
	if Decode(h[:HeaderLen]) != 36 {
		t.Fatalf("flags byte leaked into length bytes: %v", h)
	}
}
