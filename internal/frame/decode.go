package frame

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Wire frame layout, fixed by the tool firmware:
//
//	bytes 0..31   eight little-endian IEEE-754 float32 channels
//	byte  32      flag1 (opaque)
//	byte  33      flag2 (opaque)
//	bytes 34..35  trailer 0x80 0x7F
const (
	Size        = 36
	NumChannels = 8

	trailer0 = 0x80
	trailer1 = 0x7F
)

// Record is the decoded, consumer-facing form of one frame. Seq is assigned
// by the reading worker and is gapless except across backlog eviction.
type Record struct {
	Seq      uint64               `json:"seq"`
	Channels [NumChannels]float32 `json:"-"`
	Flag1    byte                 `json:"flag1"`
	Flag2    byte                 `json:"flag2"`
}

// BadTrailerError reports a 36-byte frame whose last two bytes were not the
// expected trailer. The malformed frame is dropped by the caller.
type BadTrailerError struct {
	Got [2]byte
}

func (e *BadTrailerError) Error() string {
	return fmt.Sprintf("frame: bad trailer % X, want %02X %02X", e.Got[:], trailer0, trailer1)
}

// Decode decodes exactly Size bytes into a Record. The length precondition is
// the caller's responsibility; violating it panics. A trailer mismatch
// returns *BadTrailerError. Channel decoding is total: every 4-byte pattern
// is a valid float32 bit pattern, including NaN and the infinities, and
// passes through bit-exact.
func Decode(fr []byte) (Record, error) {
	if len(fr) != Size {
		panic(fmt.Sprintf("frame: Decode called with %d bytes, want %d", len(fr), Size))
	}
	if fr[Size-2] != trailer0 || fr[Size-1] != trailer1 {
		return Record{}, &BadTrailerError{Got: [2]byte{fr[Size-2], fr[Size-1]}}
	}
	var r Record
	for i := range r.Channels {
		r.Channels[i] = math.Float32frombits(binary.LittleEndian.Uint32(fr[4*i:]))
	}
	r.Flag1 = fr[32]
	r.Flag2 = fr[33]
	return r, nil
}

// Encode builds a wire frame from channel values and flag bytes. It is the
// bit-exact inverse of Decode, used by the demo source and tests.
func Encode(channels [NumChannels]float32, flag1, flag2 byte) []byte {
	fr := make([]byte, Size)
	for i, v := range channels {
		binary.LittleEndian.PutUint32(fr[4*i:], math.Float32bits(v))
	}
	fr[32] = flag1
	fr[33] = flag2
	fr[34] = trailer0
	fr[35] = trailer1
	return fr
}
