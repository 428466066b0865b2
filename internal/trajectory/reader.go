package trajectory

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
)

// Reader decodes binary records.
type Reader struct {
	r   *bufio.Reader
	dim int
	buf []byte
}

func NewReader(r io.Reader, dim int) *Reader {
	return &Reader{r: bufio.NewReader(r), dim: dim, buf: make([]byte, RecordSize(dim))}
}

// Next returns io.EOF after the last complete record and
// io.ErrUnexpectedEOF for a truncated one.
func (rd *Reader) Next() (Record, error) {
	if _, err := io.ReadFull(rd.r, rd.buf); err != nil {
		return Record{}, err
	}
	word := func(i int) float64 {
		return math.Float64frombits(binary.LittleEndian.Uint64(rd.buf[8*i:]))
	}
	rec := Record{
		System: int(word(0)),
		Time:   word(1),
		Y:      make([]float64, rd.dim),
	}
	for i := range rec.Y {
		rec.Y[i] = word(i + 2)
	}
	return rec, nil
}

func ReadAll(r io.Reader, dim int) ([]Record, error) {
	rd := NewReader(r, dim)
	var recs []Record
	for {
		rec, err := rd.Next()
		if errors.Is(err, io.EOF) {
			return recs, nil
		}
		if err != nil {
			return recs, fmt.Errorf("trajectory: record %d: %w", len(recs), err)
		}
		recs = append(recs, rec)
	}
}

func ReadFile(path string, dim int) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadAll(f, dim)
}

// Series extracts the time series of one value of one system. Records that
// belong to other systems are skipped.
func Series(recs []Record, system, index int) (times, values []float64) {
	for _, r := range recs {
		if r.System != system || index < 0 || index >= len(r.Y) {
			continue
		}
		times = append(times, r.Time)
		values = append(values, r.Y[index])
	}
	return times, values
}

// Systems lists the distinct system indices in order of first appearance.
func Systems(recs []Record) []int {
	seen := map[int]bool{}
	var out []int
	for _, r := range recs {
		if !seen[r.System] {
			seen[r.System] = true
			out = append(out, r.System)
		}
	}
	return out
}
