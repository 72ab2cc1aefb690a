package frame

import (
	"fmt"
	"strconv"
	"strings"
)

// LineParser extracts one numeric column from delimiter-separated text lines,
// for tools that stream readings as text instead of binary frames. An empty
// Delimiter means each line is a single bare number.
type LineParser struct {
	Delimiter string
	Column    int
}

// Parse returns the configured column of line as a float. Errors are
// per-line: the caller logs and moves on, they never stop the stream.
func (p LineParser) Parse(line string) (float64, error) {
	line = strings.TrimSpace(line)
	if p.Delimiter == "" {
		v, err := strconv.ParseFloat(line, 64)
		if err != nil {
			return 0, fmt.Errorf("frame: %q is not a number: %w", line, err)
		}
		return v, nil
	}
	if !strings.Contains(line, p.Delimiter) {
		return 0, fmt.Errorf("frame: delimiter %q not found in %q", p.Delimiter, line)
	}
	fields := strings.Split(line, p.Delimiter)
	if p.Column < 0 || p.Column >= len(fields) {
		return 0, fmt.Errorf("frame: column %d out of range (line has %d fields)", p.Column, len(fields))
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(fields[p.Column]), 64)
	if err != nil {
		return 0, fmt.Errorf("frame: column %d of %q is not a number: %w", p.Column, line, err)
	}
	return v, nil
}
