package device

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/bolt-labs/boltdash/internal/frame"
)

var errScriptDone = errors.New("script exhausted")

// scriptConn replays a fixed sequence of chunks, then fails the transport.
type scriptConn struct {
	chunks [][]byte
	idx    int
	// idleEvery inserts an idle tick (n == 0) before each chunk when set.
	idleEvery bool
	idleNext  bool
	// idleAfter returns that many idle ticks after the last chunk before
	// failing the transport, so backlogged frames get drain opportunities.
	idleAfter int
}

func (c *scriptConn) ReadAvailable(buf []byte) (int, error) {
	if c.idleEvery {
		c.idleNext = !c.idleNext
		if c.idleNext {
			return 0, nil
		}
	}
	if c.idx >= len(c.chunks) {
		if c.idleAfter > 0 {
			c.idleAfter--
			return 0, nil
		}
		return 0, errScriptDone
	}
	n := copy(buf, c.chunks[c.idx])
	c.idx++
	return n, nil
}

func (c *scriptConn) Write(p []byte) (int, error) { return len(p), nil }
func (c *scriptConn) Close() error                { return nil }

func demoFrame(seed float32) []byte {
	var ch [frame.NumChannels]float32
	for i := range ch {
		ch[i] = seed + float32(i)
	}
	return frame.Encode(ch, 0x10, 0x20)
}

func runReader(t *testing.T, conn Conn, cfg ReaderConfig) ([]frame.Record, error, *Reader) {
	t.Helper()
	r := NewReader(conn, cfg, zerolog.Nop())

	errCh := make(chan error, 1)
	go func() { errCh <- r.Run(context.Background()) }()

	var runErr error
	select {
	case runErr = <-errCh:
	case <-time.After(5 * time.Second):
		t.Fatal("reader did not finish")
	}

	var recs []frame.Record
	for rec := range r.Records() {
		recs = append(recs, rec)
	}
	return recs, runErr, r
}

func TestReaderOrderedGaplessRecords(t *testing.T) {
	// Three frames, fragmented across chunk boundaries that do not line up
	// with frame boundaries.
	var stream []byte
	for i := 0; i < 3; i++ {
		stream = append(stream, demoFrame(float32(100*i))...)
	}
	chunks := [][]byte{stream[:20], stream[20:50], stream[50:90], stream[90:]}

	conn := &scriptConn{chunks: chunks, idleEvery: true}
	recs, runErr, _ := runReader(t, conn, ReaderConfig{Sync: frame.SyncConfig{ScanInterval: 0}})

	if !errors.Is(runErr, errScriptDone) {
		t.Fatalf("run error = %v, want script exhaustion", runErr)
	}
	if len(recs) != 3 {
		t.Fatalf("got %d records, want 3", len(recs))
	}
	for i, rec := range recs {
		if rec.Seq != uint64(i) {
			t.Fatalf("record %d: seq = %d, want %d", i, rec.Seq, i)
		}
		if rec.Channels[0] != float32(100*i) {
			t.Fatalf("record %d: channel 1 = %v, want %v", i, rec.Channels[0], 100*i)
		}
		if rec.Flag1 != 0x10 || rec.Flag2 != 0x20 {
			t.Fatalf("record %d: flags = %02X %02X", i, rec.Flag1, rec.Flag2)
		}
	}
}

func TestReaderIdleTickDrainsBacklog(t *testing.T) {
	// One chunk carrying three complete frames: only one is extracted on
	// ingest, the rest must drain on idle ticks.
	var stream []byte
	for i := 0; i < 3; i++ {
		stream = append(stream, demoFrame(float32(i))...)
	}
	conn := &scriptConn{chunks: [][]byte{stream}, idleEvery: true, idleAfter: 4}
	recs, _, _ := runReader(t, conn, ReaderConfig{Sync: frame.SyncConfig{ScanInterval: 0}})

	if len(recs) != 3 {
		t.Fatalf("got %d records, want 3", len(recs))
	}
}

func TestReaderOldestDropKeepsNewest(t *testing.T) {
	chunks := make([][]byte, 5)
	for i := range chunks {
		chunks[i] = demoFrame(float32(i))
	}
	conn := &scriptConn{chunks: chunks}
	recs, _, r := runReader(t, conn, ReaderConfig{
		Sync:     frame.SyncConfig{ScanInterval: 0},
		Capacity: 2,
	})

	if len(recs) != 2 {
		t.Fatalf("got %d records, want 2", len(recs))
	}
	if recs[0].Seq != 3 || recs[1].Seq != 4 {
		t.Fatalf("kept seqs %d,%d, want the newest 3,4", recs[0].Seq, recs[1].Seq)
	}
	if r.Dropped() != 3 {
		t.Fatalf("dropped = %d, want 3", r.Dropped())
	}
}

func TestReaderTextMode(t *testing.T) {
	conn := &scriptConn{chunks: [][]byte{
		[]byte("1.0,2.0\n3.0,4"),
		[]byte(".5\nnoise line\n"),
	}}
	recs, _, _ := runReader(t, conn, ReaderConfig{
		Mode: ModeText,
		Line: frame.LineParser{Delimiter: ",", Column: 1},
	})

	if len(recs) != 2 {
		t.Fatalf("got %d records, want 2", len(recs))
	}
	if recs[0].Channels[0] != 2.0 || recs[1].Channels[0] != 4.5 {
		t.Fatalf("values = %v, %v; want 2.0, 4.5", recs[0].Channels[0], recs[1].Channels[0])
	}
	if !math.IsNaN(float64(recs[0].Channels[1])) {
		t.Fatal("unused text-mode channels should be NaN")
	}
	if recs[0].Seq != 0 || recs[1].Seq != 1 {
		t.Fatalf("seqs = %d,%d, want 0,1", recs[0].Seq, recs[1].Seq)
	}
}

func TestReaderCancellation(t *testing.T) {
	// An idle transport: the loop must notice cancellation at its head.
	conn := &idleConn{}
	r := NewReader(conn, ReaderConfig{}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- r.Run(ctx) }()

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("run returned %v on cancellation, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("reader did not stop after cancel")
	}
	if _, open := <-r.Records(); open {
		t.Fatal("records channel should be closed after Run returns")
	}
}

type idleConn struct{}

func (idleConn) ReadAvailable(buf []byte) (int, error) {
	time.Sleep(time.Millisecond)
	return 0, nil
}
func (idleConn) Write(p []byte) (int, error) { return len(p), nil }
func (idleConn) Close() error                { return nil }
