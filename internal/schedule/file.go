package schedule

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// ReadFile loads an external schedule: one time per line in the given unit.
// Blank lines and lines starting with # are skipped.
func ReadFile(path string, unit float64) (*External, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open schedule: %w", err)
	}
	defer f.Close()
	return Read(f, unit)
}

func Read(r io.Reader, unit float64) (*External, error) {
	var times []float64
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		s := strings.TrimSpace(sc.Text())
		if s == "" || strings.HasPrefix(s, "#") {
			continue
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, &InvalidScheduleError{Index: len(times), Reason: fmt.Sprintf("line %d: %v", line, err)}
		}
		times = append(times, v)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read schedule: %w", err)
	}
	return NewExternal(times, unit)
}
