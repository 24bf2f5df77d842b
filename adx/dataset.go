package adx

import (
	"fmt"
	"io"
)

// -----------------------------------------------------------------------------
// Data set
// -----------------------------------------------------------------------------

// Dataset is the progressive view over one framed query response. Tables
// are surfaced in wire order; at most one primary table is in flight at a
// time, and it must be drained before the next table is requested.
type Dataset struct {
	dec        *frameDecoder
	closer     io.Closer
	header     *DataSetHeader
	completion *DataSetCompletion

	current  *StreamingTable
	tables   []ResultTable
	finished bool

	skipIncomplete bool
}

// DatasetOption configures a Dataset.
type DatasetOption func(*Dataset)

// WithSkipIncompleteTables makes Next silently drain an unfinished
// primary table instead of failing with a UsageError.
func WithSkipIncompleteTables() DatasetOption {
	return func(d *Dataset) { d.skipIncomplete = true }
}

// withCloser ties the lifetime of the underlying transport (typically a
// response body) to the data set.
func withCloser(c io.Closer) DatasetOption {
	return func(d *Dataset) { d.closer = c }
}

// NewDataset starts decoding a framed response. The header frame is read
// eagerly, so unsupported wire variants are rejected up front.
func NewDataset(r io.Reader, opts ...DatasetOption) (*Dataset, error) {
	d := &Dataset{dec: newFrameDecoder(r)}
	for _, opt := range opts {
		opt(d)
	}

	f, err := d.dec.next()
	if err != nil {
		if err == io.EOF {
			return nil, parseErrorf("response carried no frames")
		}
		return nil, err
	}
	h, ok := f.(*DataSetHeader)
	if !ok {
		return nil, parseErrorf("first frame is %s, expected %s", f.frameType(), frameDataSetHeader)
	}
	d.header = h
	return d, nil
}

// Header returns the data set header frame.
func (d *Dataset) Header() *DataSetHeader { return d.header }

// Completion returns the completion frame, or nil while the data set is
// still being consumed.
func (d *Dataset) Completion() *DataSetCompletion { return d.completion }

// Tables returns every table yielded so far in wire order, streamed
// primary tables included. A streamed entry only carries rows for its
// original consumer; here it serves as the record that the table existed.
func (d *Dataset) Tables() []ResultTable { return d.tables }

// Next returns the next result table, or io.EOF once the completion frame
// has been consumed. Requesting the next table while a primary table is
// still in flight is a UsageError unless WithSkipIncompleteTables was set.
func (d *Dataset) Next() (ResultTable, error) {
	if d.finished {
		return nil, io.EOF
	}
	if d.current != nil && !d.current.Finished() {
		if !d.skipIncomplete {
			return nil, &UsageError{Msg: fmt.Sprintf("table %q is not fully consumed; drain it or enable skipping incomplete tables", d.current.Name())}
		}
		if err := d.current.skipToEnd(); err != nil {
			return nil, err
		}
	}
	d.current = nil

	f, err := d.dec.next()
	if err != nil {
		if err == io.EOF {
			d.finished = true
			return nil, parseErrorf("stream ended without a %s frame", frameDataSetCompletion)
		}
		return nil, err
	}

	switch fr := f.(type) {
	case *dataTable:
		if fr.rows != nil {
			st := &StreamingTable{tableHeader: fr.header, it: fr.rows}
			d.current = st
			d.tables = append(d.tables, st)
			return st, nil
		}
		t, err := newTable(fr.header, fr.buffered)
		if err != nil {
			return nil, err
		}
		d.tables = append(d.tables, t)
		return t, nil
	case *DataSetCompletion:
		d.completion = fr
		d.finished = true
		return nil, io.EOF
	default:
		return nil, parseErrorf("unexpected %s frame mid-stream", f.frameType())
	}
}

// NextPrimary advances to the next primary result table, materializing and
// recording any metadata tables passed over on the way. It returns io.EOF
// once the data set is exhausted.
func (d *Dataset) NextPrimary() (*StreamingTable, error) {
	for {
		t, err := d.Next()
		if err != nil {
			return nil, err
		}
		if st, ok := t.(*StreamingTable); ok {
			return st, nil
		}
	}
}

// Close drains the remaining frames and releases the underlying transport.
func (d *Dataset) Close() error {
	for !d.finished {
		if d.current != nil && !d.current.Finished() {
			if err := d.current.skipToEnd(); err != nil {
				d.finished = true
				break
			}
		}
		_, err := d.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			d.finished = true
			break
		}
	}
	if d.closer != nil {
		return d.closer.Close()
	}
	return nil
}

// -----------------------------------------------------------------------------
// Completion diagnostics
// -----------------------------------------------------------------------------

// statusTable locates the QueryCompletionInformation table. Only available
// once the data set has been fully consumed.
func (d *Dataset) statusTable() (*Table, error) {
	if !d.finished {
		return nil, &UsageError{Msg: "status information is only available after the data set is fully consumed"}
	}
	for _, rt := range d.tables {
		if t, ok := rt.(*Table); ok && t.Kind() == QueryCompletionInformation {
			return t, nil
		}
	}
	return nil, nil
}

// ErrorsCount reports how many entries of the most severe below-threshold
// level the completion information carries.
func (d *Dataset) ErrorsCount() (int, error) {
	t, err := d.statusTable()
	if err != nil || t == nil {
		return 0, err
	}
	levelIdx := t.columnIndex(levelColumn)
	if levelIdx < 0 {
		return 0, nil
	}

	minLevel := int64(infoSeverityThreshold)
	errs := 0
	for _, row := range t.Rows() {
		level, ok := row[levelIdx].(int64)
		if !ok || level >= infoSeverityThreshold {
			continue
		}
		if level < minLevel {
			minLevel = level
			errs = 1
		} else if level == minLevel {
			errs++
		}
	}
	return errs, nil
}

// Exceptions returns one diagnostic string per below-threshold completion
// entry, suitable for attaching to a support request.
func (d *Dataset) Exceptions() ([]string, error) {
	t, err := d.statusTable()
	if err != nil || t == nil {
		return nil, err
	}
	levelIdx := t.columnIndex(levelColumn)
	cridIdx := t.columnIndex(cridColumn)
	payloadIdx := t.columnIndex(payloadColumn)
	if levelIdx < 0 || cridIdx < 0 || payloadIdx < 0 {
		return nil, nil
	}

	var out []string
	for _, row := range t.Rows() {
		level, ok := row[levelIdx].(int64)
		if !ok || level >= infoSeverityThreshold {
			continue
		}
		out = append(out, fmt.Sprintf(
			"Please provide the following data to the service: CRID='%v' Description:'%v'",
			row[cridIdx], row[payloadIdx]))
	}
	return out, nil
}
