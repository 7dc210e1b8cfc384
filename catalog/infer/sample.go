// Package infer reads a bounded prefix of a delimited text stream and infers a
// type for each column.
package infer

import (
	"encoding/csv"
	"io"
	"strings"

	"github.com/teranos/datacat/errors"
)

// Sampling bounds used when Options leaves them zero.
const (
	DefaultMaxLines = 1000
	DefaultMaxBytes = 8 << 20
)

// ErrNoHeader is returned when the stream has no readable first row.
var ErrNoHeader = errors.New("could not read header row")

// Options bounds how much of a stream is sampled.
type Options struct {
	MaxLines int   // Records read including the header
	MaxBytes int64 // Bytes read from the stream
	Comma    rune  // Field delimiter (default ',')
}

func (o Options) withDefaults() Options {
	if o.MaxLines <= 0 {
		o.MaxLines = DefaultMaxLines
	}
	if o.MaxBytes <= 0 {
		o.MaxBytes = DefaultMaxBytes
	}
	if o.Comma == 0 {
		o.Comma = ','
	}
	return o
}

// Sample is the header and leading rows of a delimited stream.
type Sample struct {
	Header []string
	Rows   [][]string
	// Truncated is set when sampling stopped on a bound rather than end of stream
	Truncated bool
}

// byteCounter tracks how much of the limited stream has been consumed.
type byteCounter struct {
	r io.Reader
	n int64
}

func (c *byteCounter) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// ReadSample reads at most opts.MaxLines records and opts.MaxBytes bytes from r.
// The first record is the header. A record cut by the byte bound is discarded,
// as is anything after a malformed record.
func ReadSample(r io.Reader, opts Options) (*Sample, error) {
	opts = opts.withDefaults()

	counter := &byteCounter{r: io.LimitReader(r, opts.MaxBytes)}
	reader := csv.NewReader(counter)
	reader.Comma = opts.Comma
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1
	reader.ReuseRecord = false

	header, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return nil, ErrNoHeader
		}
		return nil, errors.Mark(errors.Wrap(err, "could not read header row"), ErrNoHeader)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	sample := &Sample{Header: header}
	exhausted := false
	for line := 1; line < opts.MaxLines; line++ {
		record, err := reader.Read()
		if err == io.EOF {
			exhausted = true
			break
		}
		if err != nil {
			exhausted = true
			sample.Truncated = true
			break
		}
		sample.Rows = append(sample.Rows, record)
	}

	switch {
	case !exhausted:
		sample.Truncated = true
	case counter.n >= opts.MaxBytes:
		// The last record may have been cut mid-line by the byte bound
		sample.Truncated = true
		if len(sample.Rows) > 0 {
			sample.Rows = sample.Rows[:len(sample.Rows)-1]
		}
	}

	return sample, nil
}

// Cells returns column col of every sampled row. Rows too short to reach col yield "".
func (s *Sample) Cells(col int) []string {
	cells := make([]string, len(s.Rows))
	for i, row := range s.Rows {
		if col < len(row) {
			cells[i] = row[col]
		}
	}
	return cells
}
