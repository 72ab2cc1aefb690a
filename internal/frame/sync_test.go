package frame

import (
	"bytes"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func testSync() *Synchronizer {
	// ScanInterval 0 disables the rate gate so tests are deterministic.
	return NewSynchronizer(SyncConfig{ScanInterval: 0}, zerolog.Nop())
}

func testFrame(seed float32) []byte {
	var ch [NumChannels]float32
	for i := range ch {
		ch[i] = seed + float32(i)
	}
	return Encode(ch, 0x01, 0x02)
}

// drain pulls every remaining complete frame out of the buffer.
func drain(s *Synchronizer) [][]byte {
	var out [][]byte
	for {
		fr, ok := s.Sync()
		if !ok {
			return out
		}
		out = append(out, fr)
	}
}

func TestNoiseThenFrameAnySplit(t *testing.T) {
	noise := bytes.Repeat([]byte{0xAA}, 10)
	want := testFrame(1)
	stream := append(append([]byte{}, noise...), want...)

	for split := 0; split <= len(stream); split++ {
		s := testSync()
		var got [][]byte
		if fr, ok := s.Ingest(stream[:split]); ok {
			got = append(got, fr)
		}
		if fr, ok := s.Ingest(stream[split:]); ok {
			got = append(got, fr)
		}
		got = append(got, drain(s)...)

		if len(got) != 1 {
			t.Fatalf("split %d: got %d frames, want 1", split, len(got))
		}
		if !bytes.Equal(got[0], want) {
			t.Fatalf("split %d: frame mismatch\n got % X\nwant % X", split, got[0], want)
		}
		if s.Pending() != 0 {
			t.Fatalf("split %d: %d bytes left pending", split, s.Pending())
		}
	}
}

func TestChunkingDoesNotAffectFraming(t *testing.T) {
	var stream []byte
	var want [][]byte
	for i := 0; i < 5; i++ {
		fr := testFrame(float32(10 * i))
		want = append(want, fr)
		stream = append(stream, fr...)
	}

	feed := func(chunk int) [][]byte {
		s := testSync()
		var got [][]byte
		for off := 0; off < len(stream); off += chunk {
			end := off + chunk
			if end > len(stream) {
				end = len(stream)
			}
			if fr, ok := s.Ingest(stream[off:end]); ok {
				got = append(got, fr)
			}
		}
		return append(got, drain(s)...)
	}

	for _, chunk := range []int{1, 7, 36, len(stream)} {
		got := feed(chunk)
		if len(got) != len(want) {
			t.Fatalf("chunk %d: got %d frames, want %d", chunk, len(got), len(want))
		}
		for i := range want {
			if !bytes.Equal(got[i], want[i]) {
				t.Fatalf("chunk %d: frame %d mismatch", chunk, i)
			}
		}
	}
}

func TestSpuriousEarlyTrailerSkipped(t *testing.T) {
	// A trailer pattern with fewer than 35 bytes before it cannot complete a
	// frame and must be scanned past, not emitted short.
	want := testFrame(3)
	stream := append([]byte{trailer0, trailer1}, want...)

	s := testSync()
	fr, ok := s.Ingest(stream)
	if !ok {
		t.Fatal("no frame emitted")
	}
	if !bytes.Equal(fr, want) {
		t.Fatalf("frame mismatch\n got % X\nwant % X", fr, want)
	}
	if s.NoiseBytes() != 2 {
		t.Fatalf("noise bytes = %d, want 2", s.NoiseBytes())
	}
}

func TestOverflowEviction(t *testing.T) {
	s := testSync()
	junk := bytes.Repeat([]byte{0xAA}, 1500)

	if _, ok := s.Ingest(junk); ok {
		t.Fatal("emitted a frame from trailer-free junk")
	}
	if s.Pending() != 200 {
		t.Fatalf("pending = %d after eviction, want 200", s.Pending())
	}
	if s.EvictedBytes() != 1300 {
		t.Fatalf("evicted = %d, want 1300", s.EvictedBytes())
	}
}

func TestOneFramePerCall(t *testing.T) {
	s := testSync()
	a, b := testFrame(1), testFrame(2)

	fr, ok := s.Ingest(append(append([]byte{}, a...), b...))
	if !ok || !bytes.Equal(fr, a) {
		t.Fatalf("first call: ok=%v, frame mismatch=%v", ok, !bytes.Equal(fr, a))
	}
	if s.Pending() != Size {
		t.Fatalf("pending = %d, want %d", s.Pending(), Size)
	}
	fr, ok = s.Sync()
	if !ok || !bytes.Equal(fr, b) {
		t.Fatalf("second call: ok=%v, frame mismatch=%v", ok, !bytes.Equal(fr, b))
	}
}

func TestScanRateGate(t *testing.T) {
	s := NewSynchronizer(SyncConfig{ScanInterval: 50 * time.Millisecond}, zerolog.Nop())

	if _, ok := s.Ingest(testFrame(1)); !ok {
		t.Fatal("first scan should pass the gate")
	}
	if _, ok := s.Ingest(testFrame(2)); ok {
		t.Fatal("second scan inside the interval should be gated")
	}
	time.Sleep(60 * time.Millisecond)
	if _, ok := s.Sync(); !ok {
		t.Fatal("scan after the interval should pass")
	}
}

func TestShortBufferIsNoop(t *testing.T) {
	s := testSync()
	if _, ok := s.Ingest(testFrame(1)[:35]); ok {
		t.Fatal("emitted a frame from fewer than 36 bytes")
	}
	if s.Pending() != 35 {
		t.Fatalf("pending = %d, want 35", s.Pending())
	}
}

func TestReset(t *testing.T) {
	s := testSync()
	s.Ingest([]byte{0xAA, 0xBB})
	s.Reset()
	if s.Pending() != 0 {
		t.Fatalf("pending = %d after reset, want 0", s.Pending())
	}
}
