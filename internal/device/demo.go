package device

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/bolt-labs/boltdash/internal/frame"
)

// DemoConn simulates a connected tool for development without hardware. It
// streams well-formed frames in irregular chunk sizes and occasionally
// injects garbage bytes, so the dashboard exercises resynchronization end to
// end. Commands written to it are acknowledged by flipping the flag bytes.
type DemoConn struct {
	mu      sync.Mutex
	pending []byte
	t       float64
	flag1   byte
	flag2   byte
	closed  bool
}

// NewDemoConn returns a demo transport producing ~50 frames/s.
func NewDemoConn() *DemoConn {
	return &DemoConn{flag1: 0x00, flag2: 0x01}
}

func (d *DemoConn) ReadAvailable(buf []byte) (int, error) {
	// Pace the stream like a real line instead of saturating the poll loop.
	time.Sleep(20 * time.Millisecond)

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return 0, errClosed
	}
	d.generate()

	n := copy(buf, d.pending)
	d.pending = d.pending[:copy(d.pending, d.pending[n:])]
	return n, nil
}

// generate appends one frame per tick, split later by whatever buf size the
// reader brings. Roughly one chunk in forty is preceded by line noise.
func (d *DemoConn) generate() {
	d.t += 0.02

	var ch [frame.NumChannels]float32
	for i := range ch {
		phase := d.t * (0.5 + float64(i)*0.25)
		ch[i] = float32(10*math.Sin(phase) + float64(i*5) + rand.Float64()*0.2)
	}

	if rand.Intn(40) == 0 {
		noise := make([]byte, 3+rand.Intn(8))
		rand.Read(noise)
		d.pending = append(d.pending, noise...)
	}
	d.pending = append(d.pending, frame.Encode(ch, d.flag1, d.flag2)...)
}

func (d *DemoConn) Write(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return 0, errClosed
	}
	// Echo the command into the status flags so it is visible downstream.
	if len(p) > 0 {
		d.flag1 = p[0]
		if len(p) > 1 {
			d.flag2 = p[1]
		}
	}
	return len(p), nil
}

func (d *DemoConn) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	d.pending = nil
	return nil
}
