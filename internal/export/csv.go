// Package export writes simulation results as CSV, optionally compressed
// with the snappy framing format.
package export

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/golang/snappy"

	"github.com/signalsfoundry/leaf-simulator/internal/power"
)

// CompressedExt is appended to compressed result files.
const CompressedExt = ".sz"

// Header returns the CSV header for the given meters:
// time, taxis, then a static and a dynamic column per meter.
func Header(meters []string) []string {
	h := make([]string, 0, 2+2*len(meters))
	h = append(h, "time", "taxis")
	for _, m := range meters {
		h = append(h, m+" static", m+" dynamic")
	}
	return h
}

// Writer streams result rows. It is not safe for concurrent use.
type Writer struct {
	csv    *csv.Writer
	closer io.Closer
	meters []string
	rows   int
}

// NewWriter writes the header for meters to w.
func NewWriter(w io.Writer, meters []string) (*Writer, error) {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header(meters)); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}
	return &Writer{csv: cw, meters: meters}, nil
}

// Create opens path for writing results, wrapping it in a snappy stream
// when compress is set. Parent directories are created.
func Create(path string, compress bool, meters []string) (*Writer, error) {
	if compress && !strings.HasSuffix(path, CompressedExt) {
		path += CompressedExt
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create results directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create results file: %w", err)
	}
	var (
		out    io.Writer = f
		closer io.Closer = f
	)
	if compress {
		sw := snappy.NewBufferedWriter(f)
		out = sw
		closer = multiCloser{sw, f}
	}
	w, err := NewWriter(out, meters)
	if err != nil {
		closer.Close()
		return nil, err
	}
	w.closer = closer
	return w, nil
}

// WriteRow writes one sampling round. samples must be in meter order.
func (w *Writer) WriteRow(now time.Duration, taxis int, samples []power.Sample) error {
	if len(samples) != len(w.meters) {
		return fmt.Errorf("row at %s: %d samples for %d meters", now, len(samples), len(w.meters))
	}
	rec := make([]string, 0, 2+2*len(samples))
	rec = append(rec, formatFloat(now.Seconds()), strconv.Itoa(taxis))
	for _, s := range samples {
		rec = append(rec, formatFloat(s.Static), formatFloat(s.Dynamic))
	}
	if err := w.csv.Write(rec); err != nil {
		return err
	}
	w.rows++
	return nil
}

// Rows returns the number of data rows written.
func (w *Writer) Rows() int { return w.rows }

// Flush writes buffered rows to the underlying writer.
func (w *Writer) Flush() error {
	w.csv.Flush()
	return w.csv.Error()
}

// Close flushes and closes the underlying file, if any.
func (w *Writer) Close() error {
	err := w.Flush()
	if w.closer != nil {
		err = errors.Join(err, w.closer.Close())
		w.closer = nil
	}
	return err
}

// Write exports recorded meters in one go. taxis holds the taxi count per
// sampling round; rounds without a count are written as zero.
func Write(w io.Writer, taxis []int, meters []*power.Meter) error {
	names := make([]string, len(meters))
	series := make([][]power.Sample, len(meters))
	rounds := -1
	for i, m := range meters {
		names[i] = m.Name()
		series[i] = m.Samples()
		if rounds < 0 || len(series[i]) < rounds {
			rounds = len(series[i])
		}
	}
	cw, err := NewWriter(w, names)
	if err != nil {
		return err
	}
	row := make([]power.Sample, len(meters))
	for r := 0; r < rounds; r++ {
		for i := range series {
			row[i] = series[i][r]
		}
		count := 0
		if r < len(taxis) {
			count = taxis[r]
		}
		if err := cw.WriteRow(row[0].Time, count, row); err != nil {
			return err
		}
	}
	return cw.Flush()
}

// Open returns a reader over a results file, decompressing .sz files.
func Open(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	if !strings.HasSuffix(path, CompressedExt) {
		return f, nil
	}
	return struct {
		io.Reader
		io.Closer
	}{snappy.NewReader(f), f}, nil
}

func formatFloat(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }

type multiCloser []io.Closer

func (m multiCloser) Close() error {
	var err error
	for _, c := range m {
		err = errors.Join(err, c.Close())
	}
	return err
}
