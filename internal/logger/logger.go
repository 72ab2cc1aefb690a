// Package logger records decoded records to CSV files with rotation.
package logger

import (
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/bolt-labs/boltdash/internal/frame"
)

// Recorder writes timestamped records to CSV files, throttled to a minimum
// interval between rows and rotated at a row limit.
type Recorder struct {
	mu      sync.Mutex
	dir     string
	gate    *frame.Governor
	enabled bool
	log     zerolog.Logger

	file   *os.File
	writer *csv.Writer
	rows   int
}

// Config holds recorder configuration.
type Config struct {
	Enabled    bool
	Path       string
	IntervalMs int
}

const maxRowsPerFile = 100_000 // ~2.7 hrs at 10 rows/s

// minInterval is the floor on the row interval; rows can hit the disk at
// most 20 times a second.
const minInterval = 50 * time.Millisecond

var csvHeader = []string{
	"timestamp", "seq",
	"ch1", "ch2", "ch3", "ch4", "ch5", "ch6", "ch7", "ch8",
	"flag1", "flag2",
}

// New creates a new Recorder.
func New(cfg Config, log zerolog.Logger) *Recorder {
	if cfg.Path == "" {
		cfg.Path = "/var/log/boltdash"
	}
	interval := time.Duration(cfg.IntervalMs) * time.Millisecond
	switch {
	case interval <= 0:
		interval = 100 * time.Millisecond
	case interval < minInterval:
		log.Warn().Int("interval_ms", cfg.IntervalMs).Dur("clamped_to", minInterval).Msg("log interval below floor")
		interval = minInterval
	}
	return &Recorder{
		dir:     cfg.Path,
		gate:    frame.NewGovernor(interval),
		enabled: cfg.Enabled,
		log:     log,
	}
}

// SetEnabled toggles recording at runtime.
func (r *Recorder) SetEnabled(on bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.enabled = on
	if !on {
		r.closeFile()
	}
}

// Record writes one decoded record if the minimum interval has elapsed.
func (r *Recorder) Record(rec frame.Record) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.enabled {
		return
	}
	now := time.Now()
	if !r.gate.Allow(now) {
		return
	}

	if r.writer == nil || r.rows >= maxRowsPerFile {
		if err := r.rotateFile(now); err != nil {
			r.log.Warn().Err(err).Msg("csv rotate failed")
			return
		}
	}

	if err := r.writer.Write(buildRow(now, rec)); err != nil {
		r.log.Warn().Err(err).Msg("csv write failed")
		return
	}
	r.writer.Flush()
	r.rows++
}

// Close flushes and closes the current log file.
func (r *Recorder) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closeFile()
}

func (r *Recorder) rotateFile(now time.Time) error {
	r.closeFile()

	if err := os.MkdirAll(r.dir, 0755); err != nil {
		return fmt.Errorf("mkdir %s: %w", r.dir, err)
	}

	path := filepath.Join(r.dir, fmt.Sprintf("boltdash_%s.csv", now.Format("2006-01-02_150405")))
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}

	r.file = f
	r.writer = csv.NewWriter(f)
	r.rows = 0

	if err := r.writer.Write(csvHeader); err != nil {
		return err
	}
	r.writer.Flush()

	r.log.Info().Str("path", path).Msg("csv log opened")
	return nil
}

func (r *Recorder) closeFile() {
	if r.writer != nil {
		r.writer.Flush()
		r.writer = nil
	}
	if r.file != nil {
		r.file.Close()
		r.file = nil
	}
}

func buildRow(ts time.Time, rec frame.Record) []string {
	row := make([]string, 0, len(csvHeader))
	row = append(row, ts.Format(time.RFC3339Nano), strconv.FormatUint(rec.Seq, 10))
	for _, c := range rec.Channels {
		v := float64(c)
		if math.IsNaN(v) {
			row = append(row, "")
		} else {
			row = append(row, strconv.FormatFloat(v, 'g', -1, 32))
		}
	}
	row = append(row, fmt.Sprintf("%d", rec.Flag1), fmt.Sprintf("%d", rec.Flag2))
	return row
}
