package adx

import "io"

// rowIterator produces the rows of one DataTable frame lazily. It reads
// tokens on demand, so a row only costs memory while the caller holds it.
type rowIterator struct {
	d       *frameDecoder
	started bool
	done    bool
}

// next returns the next raw row, io.EOF at the end of the Rows array, or a
// *ServiceError when the service delivered an error object in row position.
func (it *rowIterator) next() ([]any, error) {
	if it.done {
		return nil, io.EOF
	}
	if !it.started {
		if _, err := it.d.r.expect(tokenStartArray); err != nil {
			return nil, err
		}
		it.started = true
	}

	tok, err := it.d.r.expect(tokenStartArray, tokenStartMap, tokenEndArray)
	if err != nil {
		return nil, err
	}
	switch tok.kind {
	case tokenEndArray:
		it.done = true
		return nil, io.EOF
	case tokenStartMap:
		// An object in row position is the service reporting a failure
		// mid-stream. The stream is still well formed past it, but the
		// table is over.
		obj, err := it.d.parseObject(true)
		if err != nil {
			return nil, err
		}
		it.done = true
		return nil, &ServiceError{Errors: []*OneApiError{oneApiErrorFromMap(errorBody(obj))}}
	default:
		return it.d.parseArray(true)
	}
}

// drain consumes the remaining rows into memory. Used for metadata tables,
// which are surfaced fully materialized.
func (it *rowIterator) drain() ([][]any, error) {
	var rows [][]any
	for {
		row, err := it.next()
		if err == io.EOF {
			return rows, nil
		}
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
}
