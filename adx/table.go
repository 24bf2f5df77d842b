package adx

import "io"

// -----------------------------------------------------------------------------
// Materialized tables
// -----------------------------------------------------------------------------

// Table is a fully materialized result table. Metadata tables (everything
// except PrimaryResult) are always delivered in this form, as are
// management command results.
type Table struct {
	tableHeader
	rows []Row
}

// Rows returns all rows of the table.
func (t *Table) Rows() []Row { return t.rows }

// newTable converts a drained data table into its public form.
func newTable(header tableHeader, raw [][]any) (*Table, error) {
	rows := make([]Row, 0, len(raw))
	for _, r := range raw {
		row, err := convertRow(header.columns, r)
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return &Table{tableHeader: header, rows: rows}, nil
}

// -----------------------------------------------------------------------------
// Streaming tables
// -----------------------------------------------------------------------------

// StreamingTable is a PrimaryResult table whose rows are read from the
// wire on demand. The caller must drain it (Next until io.EOF) before
// asking the data set for the next table.
type StreamingTable struct {
	tableHeader
	it       *rowIterator
	finished bool
}

// Next returns the next row, io.EOF at the end of the table, or a
// *ServiceError if the service reported a failure in row position. Any
// non-nil error ends the table.
func (t *StreamingTable) Next() (Row, error) {
	if t.finished {
		return nil, io.EOF
	}
	raw, err := t.it.next()
	if err != nil {
		t.finished = true
		return nil, err
	}
	row, err := convertRow(t.columns, raw)
	if err != nil {
		t.finished = true
		return nil, err
	}
	return row, nil
}

// Finished reports whether the table has been fully consumed, either by
// draining it or by an error ending it.
func (t *StreamingTable) Finished() bool { return t.finished }

// skipToEnd drains and discards the remaining rows.
func (t *StreamingTable) skipToEnd() error {
	for {
		_, err := t.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}
