package device

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"strings"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/bolt-labs/boltdash/internal/frame"
)

// Mode selects how the incoming byte stream is decoded.
type Mode string

const (
	// ModeBinary extracts fixed 36-byte frames via the synchronizer.
	ModeBinary Mode = "binary"
	// ModeText treats the stream as newline-delimited readings and extracts
	// one numeric column per line.
	ModeText Mode = "text"
)

// ReaderConfig configures the per-connection worker.
type ReaderConfig struct {
	Mode Mode
	Sync frame.SyncConfig
	Line frame.LineParser
	// Capacity bounds the record and raw handoff channels. When a channel is
	// full the oldest entry is dropped, never the worker blocked.
	Capacity int
}

// maxLineBuf caps text-mode accumulation when no newline ever arrives.
const maxLineBuf = 4096

// Reader owns the transport and the synchronizer for one connection. It runs
// a bounded poll loop on its own goroutine and hands decoded records to the
// consumer through one-directional channels; it never waits for the consumer.
type Reader struct {
	conn Conn
	cfg  ReaderConfig
	sync *frame.Synchronizer
	log  zerolog.Logger

	records chan frame.Record
	raw     chan []byte

	seq     uint64
	dropped uint64
	lineBuf []byte
}

// NewReader wires a worker around conn. Run must be called exactly once.
func NewReader(conn Conn, cfg ReaderConfig, log zerolog.Logger) *Reader {
	if cfg.Mode == "" {
		cfg.Mode = ModeBinary
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = 256
	}
	return &Reader{
		conn:    conn,
		cfg:     cfg,
		sync:    frame.NewSynchronizer(cfg.Sync, log),
		log:     log,
		records: make(chan frame.Record, cfg.Capacity),
		raw:     make(chan []byte, cfg.Capacity),
	}
}

// Records delivers decoded records in extraction order. Closed when Run
// returns; records already handed off remain readable.
func (r *Reader) Records() <-chan frame.Record { return r.records }

// Raw delivers copies of received chunks for pass-through display.
func (r *Reader) Raw() <-chan []byte { return r.raw }

// Dropped returns how many records were evicted from a full handoff channel.
func (r *Reader) Dropped() uint64 { return atomic.LoadUint64(&r.dropped) }

// Run polls the transport until ctx is cancelled (returns nil) or the
// transport fails (returns the terminal error). Cancellation is checked at
// each loop head, never mid-ingest; partial frames in the buffer are
// discarded, not flushed.
func (r *Reader) Run(ctx context.Context) error {
	defer close(r.records)
	defer close(r.raw)

	buf := make([]byte, 4096)
	for {
		select {
		case <-ctx.Done():
			r.log.Info().Msg("reader stopping")
			return nil
		default:
		}

		n, err := r.conn.ReadAvailable(buf)
		if err != nil {
			r.log.Error().Err(err).Msg("transport failure")
			return fmt.Errorf("device: transport: %w", err)
		}
		if n == 0 {
			// Idle tick. Frames left behind by the one-frame-per-call
			// policy drain here instead of waiting for more bytes.
			if r.cfg.Mode == ModeBinary && r.sync.Pending() >= frame.Size {
				if fr, ok := r.sync.Sync(); ok {
					r.emitFrame(fr)
				}
			}
			continue
		}

		chunk := buf[:n]
		r.offerRaw(chunk)
		if r.cfg.Mode == ModeText {
			r.ingestText(chunk)
			continue
		}
		if fr, ok := r.sync.Ingest(chunk); ok {
			r.emitFrame(fr)
		}
	}
}

func (r *Reader) emitFrame(fr []byte) {
	rec, err := frame.Decode(fr)
	if err != nil {
		// Should not happen while synchronizer invariants hold; the frame
		// is dropped, not surfaced.
		r.log.Debug().Err(err).Msg("dropped malformed frame")
		return
	}
	rec.Seq = r.seq
	r.seq++
	r.offer(rec)
}

func (r *Reader) ingestText(chunk []byte) {
	r.lineBuf = append(r.lineBuf, chunk...)
	for {
		i := bytes.IndexByte(r.lineBuf, '\n')
		if i < 0 {
			break
		}
		line := strings.TrimSpace(string(r.lineBuf[:i]))
		r.lineBuf = r.lineBuf[:copy(r.lineBuf, r.lineBuf[i+1:])]
		if line == "" {
			continue
		}
		v, err := r.cfg.Line.Parse(line)
		if err != nil {
			r.log.Debug().Err(err).Msg("unparseable line")
			continue
		}
		rec := frame.Record{Seq: r.seq}
		rec.Channels[0] = float32(v)
		for c := 1; c < frame.NumChannels; c++ {
			rec.Channels[c] = float32(math.NaN())
		}
		r.seq++
		r.offer(rec)
	}
	if len(r.lineBuf) > maxLineBuf {
		r.lineBuf = r.lineBuf[:copy(r.lineBuf, r.lineBuf[len(r.lineBuf)-256:])]
	}
}

// offer enqueues without blocking, dropping the oldest queued record when
// the consumer has fallen behind. Single producer, so the retry terminates.
func (r *Reader) offer(rec frame.Record) {
	for {
		select {
		case r.records <- rec:
			return
		default:
		}
		select {
		case <-r.records:
			atomic.AddUint64(&r.dropped, 1)
		default:
		}
	}
}

func (r *Reader) offerRaw(chunk []byte) {
	c := append([]byte(nil), chunk...)
	for {
		select {
		case r.raw <- c:
			return
		default:
		}
		select {
		case <-r.raw:
		default:
		}
	}
}
