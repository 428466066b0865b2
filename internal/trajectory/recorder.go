package trajectory

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"time"
)

// Record is one system at one output time.
type Record struct {
	System int
	Time   float64
	Y      []float64
}

// RecordSize is the byte length of one binary record.
func RecordSize(dim int) int { return 8 * (dim + 2) }

// Recorder appends records to a binary and a text stream. Either stream may
// be nil.
type Recorder struct {
	bin  *bufio.Writer
	txt  *bufio.Writer
	dim  int
	n    int
	buf  []byte
	line []byte
}

func NewRecorder(bin, txt io.Writer, dim int) *Recorder {
	r := &Recorder{dim: dim, buf: make([]byte, RecordSize(dim))}
	if bin != nil {
		r.bin = bufio.NewWriter(bin)
	}
	if txt != nil {
		r.txt = bufio.NewWriter(txt)
	}
	return r
}

func (r *Recorder) Dim() int { return r.dim }

// Count reports the records written so far.
func (r *Recorder) Count() int { return r.n }

// Record appends one record. Both renditions are assembled before anything
// is written.
func (r *Recorder) Record(system int, t float64, y []float64) error {
	if len(y) != r.dim {
		return fmt.Errorf("trajectory: record has %d values, want %d", len(y), r.dim)
	}

	binary.LittleEndian.PutUint64(r.buf[0:], math.Float64bits(float64(system)))
	binary.LittleEndian.PutUint64(r.buf[8:], math.Float64bits(t))
	for i, v := range y {
		binary.LittleEndian.PutUint64(r.buf[16+8*i:], math.Float64bits(v))
	}

	r.line = r.line[:0]
	r.line = fmt.Appendf(r.line, "%13.7e ", float64(system))
	r.line = fmt.Appendf(r.line, "%13.7e ", t)
	for _, v := range y {
		r.line = fmt.Appendf(r.line, "%13.7e ", v)
	}
	r.line = append(r.line, '\n')

	if r.bin != nil {
		if _, err := r.bin.Write(r.buf); err != nil {
			return fmt.Errorf("trajectory: write binary record: %w", err)
		}
	}
	if r.txt != nil {
		if _, err := r.txt.Write(r.line); err != nil {
			return fmt.Errorf("trajectory: write text record: %w", err)
		}
	}
	r.n++
	return nil
}

func (r *Recorder) Flush() error {
	var errs []error
	if r.bin != nil {
		errs = append(errs, r.bin.Flush())
	}
	if r.txt != nil {
		errs = append(errs, r.txt.Flush())
	}
	return errors.Join(errs...)
}

// TimingLog records the wall time of every interval.
type TimingLog struct {
	w *bufio.Writer
}

func NewTimingLog(w io.Writer) *TimingLog {
	return &TimingLog{w: bufio.NewWriter(w)}
}

func (l *TimingLog) Write(elapsed time.Duration) error {
	_, err := fmt.Fprintf(l.w, "%8.5e \n", elapsed.Seconds())
	return err
}

func (l *TimingLog) Flush() error { return l.w.Flush() }

// Files are the three output files of one run.
type Files struct {
	Dir      string
	Tag      string
	Recorder *Recorder
	Timing   *TimingLog

	bin, txt, tim *os.File
}

func BinaryName(tag string) string { return "evolution_" + tag + ".bin" }
func TextName(tag string) string   { return "evolution_" + tag + ".txt" }
func TimingName(tag string) string { return "time_" + tag + ".txt" }

type fileOptions struct {
	noText bool
}

type FileOption func(*fileOptions)

// WithoutText skips the text rendition of the trajectory.
func WithoutText() FileOption {
	return func(o *fileOptions) { o.noText = true }
}

// Open creates evolution_<tag>.bin, evolution_<tag>.txt and time_<tag>.txt in
// dir, truncating existing files.
func Open(dir, tag string, dim int, opts ...FileOption) (*Files, error) {
	var o fileOptions
	for _, opt := range opts {
		opt(&o)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	f := &Files{Dir: dir, Tag: tag}
	var err error
	if f.bin, err = os.Create(filepath.Join(dir, BinaryName(tag))); err != nil {
		return nil, err
	}
	if !o.noText {
		if f.txt, err = os.Create(filepath.Join(dir, TextName(tag))); err != nil {
			f.bin.Close()
			return nil, err
		}
	}
	if f.tim, err = os.Create(filepath.Join(dir, TimingName(tag))); err != nil {
		f.bin.Close()
		if f.txt != nil {
			f.txt.Close()
		}
		return nil, err
	}
	var txt io.Writer
	if f.txt != nil {
		txt = f.txt
	}
	f.Recorder = NewRecorder(f.bin, txt, dim)
	f.Timing = NewTimingLog(f.tim)
	return f, nil
}

// Close flushes every stream and closes the files. It is safe to call more
// than once.
func (f *Files) Close() error {
	if f.bin == nil {
		return nil
	}
	errs := []error{f.Recorder.Flush(), f.Timing.Flush(), f.bin.Close(), f.tim.Close()}
	if f.txt != nil {
		errs = append(errs, f.txt.Close())
	}
	err := errors.Join(errs...)
	f.bin, f.txt, f.tim = nil, nil, nil
	return err
}
