package adx

import (
	"encoding/json"
	"io"
)

// -----------------------------------------------------------------------------
// Frame model
// -----------------------------------------------------------------------------

// frameType is the wire value of the FrameType field.
type frameType string

const (
	frameDataSetHeader     frameType = "DataSetHeader"
	frameTableHeader       frameType = "TableHeader"
	frameTableFragment     frameType = "TableFragment"
	frameTableCompletion   frameType = "TableCompletion"
	frameTableProgress     frameType = "TableProgress"
	frameDataTable         frameType = "DataTable"
	frameDataSetCompletion frameType = "DataSetCompletion"
)

// progressiveFrames are only produced by the progressive wire variant,
// which this client rejects outright.
var progressiveFrames = map[frameType]bool{
	frameTableHeader:     true,
	frameTableFragment:   true,
	frameTableCompletion: true,
	frameTableProgress:   true,
}

// frame is one element of the response's top-level array.
type frame interface {
	frameType() frameType
}

// DataSetHeader is the first frame of every response.
type DataSetHeader struct {
	IsProgressive bool
	Version       string
}

func (*DataSetHeader) frameType() frameType { return frameDataSetHeader }

// DataSetCompletion is the last frame of every response.
type DataSetCompletion struct {
	HasErrors    bool
	Cancelled    bool
	OneApiErrors []*OneApiError
}

func (*DataSetCompletion) frameType() frameType { return frameDataSetCompletion }

// dataTable is one DataTable frame. For PrimaryResult tables rows holds a
// live iterator and buffered is nil; for every other kind the rows are
// drained into buffered before the frame is surfaced.
type dataTable struct {
	header   tableHeader
	rows     *rowIterator
	buffered [][]any
}

func (*dataTable) frameType() frameType { return frameDataTable }

// -----------------------------------------------------------------------------
// Frame decoder
// -----------------------------------------------------------------------------

// frameDecoder drives the frame reader to produce a lazy frame sequence
// from a response body.
type frameDecoder struct {
	r       *frameReader
	started bool
	done    bool
}

func newFrameDecoder(r io.Reader) *frameDecoder {
	return &frameDecoder{r: &frameReader{tokens: newTokenReader(r)}}
}

// next returns the next frame, or io.EOF once the outer array closes.
func (d *frameDecoder) next() (frame, error) {
	if d.done {
		return nil, io.EOF
	}
	if !d.started {
		if _, err := d.r.expect(tokenStartArray); err != nil {
			return nil, err
		}
		d.started = true
	}

	tok, err := d.r.skipUntil(
		tokenMatch{kind: tokenStartMap, path: "item"},
		tokenMatch{kind: tokenEndArray, path: ""},
	)
	if err != nil {
		return nil, err
	}
	if tok.kind == tokenEndArray {
		d.done = true
		return nil, io.EOF
	}

	ft, err := d.readFrameType()
	if err != nil {
		return nil, err
	}
	return d.parseFrame(ft)
}

func (d *frameDecoder) readFrameType() (frameType, error) {
	if _, err := d.r.skipUntilKey("FrameType"); err != nil {
		return "", err
	}
	tok, err := d.r.expect(tokenString)
	if err != nil {
		return "", err
	}
	return frameType(tok.value.(string)), nil
}

func (d *frameDecoder) parseFrame(ft frameType) (frame, error) {
	switch {
	case ft == frameDataSetHeader:
		return d.parseHeader()
	case progressiveFrames[ft]:
		return nil, errProgressiveUnsupported()
	case ft == frameDataTable:
		return d.parseDataTable()
	case ft == frameDataSetCompletion:
		return d.parseCompletion()
	default:
		return nil, parseErrorf("unknown frame type %q", string(ft))
	}
}

func (d *frameDecoder) parseHeader() (frame, error) {
	props, err := d.extractProps(
		fieldSpec{name: "IsProgressive", kind: tokenBool},
		fieldSpec{name: "Version", kind: tokenString},
	)
	if err != nil {
		return nil, err
	}
	h := &DataSetHeader{
		IsProgressive: props["IsProgressive"].(bool),
		Version:       props["Version"].(string),
	}
	if h.IsProgressive {
		return nil, errProgressiveUnsupported()
	}
	return h, nil
}

func (d *frameDecoder) parseDataTable() (frame, error) {
	props, err := d.extractProps(
		fieldSpec{name: "TableId", kind: tokenNumber},
		fieldSpec{name: "TableKind", kind: tokenString},
		fieldSpec{name: "TableName", kind: tokenString},
		fieldSpec{name: "Columns", kind: tokenStartArray},
	)
	if err != nil {
		return nil, err
	}

	id, err := toInt(props["TableId"])
	if err != nil {
		return nil, parseErrorf("TableId is not an integer: %v", props["TableId"])
	}
	columns, err := parseColumns(props["Columns"].([]any))
	if err != nil {
		return nil, err
	}

	t := &dataTable{
		header: tableHeader{
			id:      id,
			kind:    TableKind(props["TableKind"].(string)),
			name:    props["TableName"].(string),
			columns: columns,
		},
	}

	if _, err := d.r.skipUntilKey("Rows"); err != nil {
		return nil, err
	}
	rows := &rowIterator{d: d}
	if t.header.kind == PrimaryResult {
		t.rows = rows
		return t, nil
	}

	// Metadata tables are always table-of-contents sized; drain eagerly
	// so the frame is complete when surfaced.
	t.buffered, err = rows.drain()
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (d *frameDecoder) parseCompletion() (frame, error) {
	props, err := d.extractProps(
		fieldSpec{name: "HasErrors", kind: tokenBool},
		fieldSpec{name: "Cancelled", kind: tokenBool},
	)
	if err != nil {
		return nil, err
	}
	c := &DataSetCompletion{
		HasErrors: props["HasErrors"].(bool),
		Cancelled: props["Cancelled"].(bool),
	}

	tok, err := d.r.skipUntilKeyOrEndObject("OneApiErrors")
	if err != nil {
		return nil, err
	}
	if tok.kind == tokenMapKey {
		raw, err := d.parseArray(false)
		if err != nil {
			return nil, err
		}
		for _, e := range raw {
			if m, ok := e.(map[string]any); ok {
				c.OneApiErrors = append(c.OneApiErrors, oneApiErrorFromMap(errorBody(m)))
			}
		}
	}
	return c, nil
}

// -----------------------------------------------------------------------------
// Declarative field extraction
// -----------------------------------------------------------------------------

// fieldSpec names one required frame field and the token kind it must
// decode to. StartArray fields are parsed generically into []any.
type fieldSpec struct {
	name string
	kind tokenKind
}

// extractProps repeatedly scans for the next still-needed field, skipping
// irrelevant members, until all required fields are collected. Wire field
// order is therefore irrelevant.
func (d *frameDecoder) extractProps(specs ...fieldSpec) (map[string]any, error) {
	props := make(map[string]any, len(specs))
	remaining := make(map[string]tokenKind, len(specs))
	for _, s := range specs {
		remaining[s.name] = s.kind
	}

	for len(remaining) > 0 {
		names := make([]string, 0, len(remaining))
		for n := range remaining {
			names = append(names, n)
		}
		tok, err := d.r.skipUntilAnyKey(names...)
		if err != nil {
			return nil, err
		}
		name := tok.value.(string)

		if remaining[name] == tokenStartArray {
			arr, err := d.parseArray(false)
			if err != nil {
				return nil, err
			}
			props[name] = arr
		} else {
			val, err := d.r.expect(remaining[name])
			if err != nil {
				return nil, err
			}
			props[name] = val.value
		}
		delete(remaining, name)
	}
	return props, nil
}

// parseArray materializes a whole array, including nested containers.
func (d *frameDecoder) parseArray(skipStart bool) ([]any, error) {
	if !skipStart {
		if _, err := d.r.expect(tokenStartArray); err != nil {
			return nil, err
		}
	}
	arr := []any{}
	for {
		tok, err := d.r.expect(tokenNull, tokenBool, tokenNumber, tokenString, tokenStartMap, tokenStartArray, tokenEndArray)
		if err != nil {
			return nil, err
		}
		switch tok.kind {
		case tokenEndArray:
			return arr, nil
		case tokenStartMap:
			obj, err := d.parseObject(true)
			if err != nil {
				return nil, err
			}
			arr = append(arr, obj)
		case tokenStartArray:
			nested, err := d.parseArray(true)
			if err != nil {
				return nil, err
			}
			arr = append(arr, nested)
		default:
			arr = append(arr, tok.value)
		}
	}
}

// parseObject materializes a whole object, including nested containers.
func (d *frameDecoder) parseObject(skipStart bool) (map[string]any, error) {
	if !skipStart {
		if _, err := d.r.expect(tokenStartMap); err != nil {
			return nil, err
		}
	}
	obj := map[string]any{}
	for {
		keyTok, err := d.r.expect(tokenMapKey, tokenEndMap)
		if err != nil {
			return nil, err
		}
		if keyTok.kind == tokenEndMap {
			return obj, nil
		}
		key := keyTok.value.(string)

		tok, err := d.r.expect(tokenNull, tokenBool, tokenNumber, tokenString, tokenStartMap, tokenStartArray)
		if err != nil {
			return nil, err
		}
		switch tok.kind {
		case tokenStartMap:
			nested, err := d.parseObject(true)
			if err != nil {
				return nil, err
			}
			obj[key] = nested
		case tokenStartArray:
			nested, err := d.parseArray(true)
			if err != nil {
				return nil, err
			}
			obj[key] = nested
		default:
			obj[key] = tok.value
		}
	}
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func parseColumns(raw []any) ([]Column, error) {
	columns := make([]Column, 0, len(raw))
	for i, e := range raw {
		m, ok := e.(map[string]any)
		if !ok {
			return nil, parseErrorf("column %d is not an object", i)
		}
		name, ok := m["ColumnName"].(string)
		if !ok {
			return nil, parseErrorf("column %d has no ColumnName", i)
		}
		typ, _ := m["ColumnType"].(string)
		columns = append(columns, Column{Name: name, Type: typ})
	}
	return columns, nil
}

// errorBody unwraps the conventional {"error": {...}} envelope when
// present; otherwise the object itself is treated as the error body.
func errorBody(m map[string]any) map[string]any {
	if inner, ok := m["error"].(map[string]any); ok {
		return inner
	}
	return m
}

func toInt(v any) (int, error) {
	n, ok := v.(json.Number)
	if !ok {
		return 0, parseErrorf("expected number, got %T", v)
	}
	i, err := n.Int64()
	if err != nil {
		return 0, err
	}
	return int(i), nil
}
