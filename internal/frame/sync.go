package frame

import (
	"time"

	"github.com/rs/zerolog"
)

// SyncConfig bounds the synchronizer's buffer and scan rate.
type SyncConfig struct {
	// OverflowLimit is the buffered byte count above which, with no trailer
	// in sight, the buffer is truncated to its newest KeepTail bytes.
	OverflowLimit int
	// KeepTail is how many bytes survive an overflow eviction.
	KeepTail int
	// ScanInterval is the minimum wall-clock spacing between scan attempts.
	// Zero disables the gate (used by tests).
	ScanInterval time.Duration
}

// DefaultSyncConfig matches the tool's expected link behaviour: scan at most
// ~100 times/s, evict past 1000 buffered bytes keeping the newest 200.
func DefaultSyncConfig() SyncConfig {
	return SyncConfig{
		OverflowLimit: 1000,
		KeepTail:      200,
		ScanInterval:  10 * time.Millisecond,
	}
}

// Synchronizer accumulates an arbitrarily-chunked byte stream and extracts
// fixed-size frames delimited by the trailing 0x80 0x7F marker. It is owned
// by exactly one goroutine; there is no internal locking.
//
// At most one frame is extracted per Ingest/Sync call. This is a deliberate
// bounded-work-per-iteration policy: a backlog of complete frames drains one
// per scan attempt rather than monopolizing the worker.
type Synchronizer struct {
	buf []byte
	cfg SyncConfig
	gov *Governor
	log zerolog.Logger

	noiseBytes   uint64
	evictedBytes uint64
}

// NewSynchronizer returns a synchronizer with zero-value config fields
// replaced by defaults.
func NewSynchronizer(cfg SyncConfig, log zerolog.Logger) *Synchronizer {
	def := DefaultSyncConfig()
	if cfg.OverflowLimit <= 0 {
		cfg.OverflowLimit = def.OverflowLimit
	}
	if cfg.KeepTail <= 0 {
		cfg.KeepTail = def.KeepTail
	}
	return &Synchronizer{
		buf: make([]byte, 0, cfg.OverflowLimit+Size),
		cfg: cfg,
		gov: NewGovernor(cfg.ScanInterval),
		log: log,
	}
}

// Ingest appends chunk to the buffer and attempts one synchronization pass.
// The returned frame, when ok, is exactly Size bytes ending in the trailer
// and does not alias the internal buffer.
func (s *Synchronizer) Ingest(chunk []byte) ([]byte, bool) {
	s.buf = append(s.buf, chunk...)
	return s.sync(time.Now())
}

// Sync attempts one synchronization pass without appending. The worker calls
// this on idle poll ticks so frames left behind by the one-frame-per-call
// policy still drain when the line goes quiet.
func (s *Synchronizer) Sync() ([]byte, bool) {
	return s.sync(time.Now())
}

func (s *Synchronizer) sync(now time.Time) ([]byte, bool) {
	if len(s.buf) < Size {
		return nil, false
	}
	if !s.gov.Allow(now) {
		return nil, false
	}

	for i := 0; i+1 < len(s.buf); i++ {
		if s.buf[i] != trailer0 || s.buf[i+1] != trailer1 {
			continue
		}
		end := i + 1        // index of the trailer's second byte
		start := end - Size + 1
		if start < 0 {
			// Trailer-like bytes too early in the buffer to complete a
			// frame: a mid-frame pattern or truncated leftovers. Keep
			// scanning past it.
			continue
		}
		fr := make([]byte, Size)
		copy(fr, s.buf[start:end+1])
		if start > 0 {
			// Everything before the frame is noise. Point-to-point links
			// normally deliver aligned frames, so this is resync debris.
			s.noiseBytes += uint64(start)
			s.log.Debug().Int("bytes", start).Msg("discarded leading noise")
		}
		s.buf = s.buf[:copy(s.buf, s.buf[end+1:])]
		return fr, true
	}

	if len(s.buf) > s.cfg.OverflowLimit {
		evicted := len(s.buf) - s.cfg.KeepTail
		s.evictedBytes += uint64(evicted)
		s.buf = s.buf[:copy(s.buf, s.buf[len(s.buf)-s.cfg.KeepTail:])]
		s.log.Debug().Int("bytes", evicted).Msg("evicted unsynced backlog")
	}
	return nil, false
}

// Pending returns the number of buffered bytes not yet resolved into a frame.
func (s *Synchronizer) Pending() int { return len(s.buf) }

// NoiseBytes returns the total bytes discarded ahead of matched frames.
func (s *Synchronizer) NoiseBytes() uint64 { return s.noiseBytes }

// EvictedBytes returns the total bytes dropped by overflow eviction.
func (s *Synchronizer) EvictedBytes() uint64 { return s.evictedBytes }

// Reset discards all buffered bytes and pacing state, for connection reuse.
func (s *Synchronizer) Reset() {
	s.buf = s.buf[:0]
	s.gov.Reset()
}
