// Package adx provides a client for Azure-Data-Explorer-compatible query
// and ingestion endpoints.
//
// The package focuses on the v2 framed response format: a query response is
// a single JSON array of frames (header, data tables, completion) that is
// decoded progressively, so primary result rows can be consumed one at a
// time without buffering the whole response. Ingestion lives in the ingest
// subpackage.
package adx

// -----------------------------------------------------------------------------
// Core types
// -----------------------------------------------------------------------------

// TableKind identifies the well-known role of a result table within a
// response data set.
type TableKind string

// Well-known table kinds carried by the TableKind frame field.
const (
	PrimaryResult              TableKind = "PrimaryResult"
	QueryProperties            TableKind = "QueryProperties"
	QueryCompletionInformation TableKind = "QueryCompletionInformation"
	TableOfContents            TableKind = "TableOfContents"
)

// Column describes a single result column. Ordinal position is the
// position within the table's column list.
type Column struct {
	// Name is the column name as returned by the service.
	Name string

	// Type is the scalar type declared by the service (e.g. "string",
	// "datetime", "long"). It drives cell value conversion.
	Type string
}

// Row is one result row. Cells are aligned with the table's columns and
// hold converted Go values (see value.go for the conversion rules).
type Row []any

// ResultTable is the common surface of materialized and streaming tables.
type ResultTable interface {
	// ID is the zero-based ordinal of the table within the data set.
	ID() int

	// Kind is the well-known role of the table.
	Kind() TableKind

	// Name is the table name as returned by the service.
	Name() string

	// Columns returns the ordered column list.
	Columns() []Column
}

// tableHeader carries the metadata shared by all table flavors.
type tableHeader struct {
	id      int
	kind    TableKind
	name    string
	columns []Column
}

func (h *tableHeader) ID() int           { return h.id }
func (h *tableHeader) Kind() TableKind   { return h.kind }
func (h *tableHeader) Name() string      { return h.name }
func (h *tableHeader) Columns() []Column { return h.columns }

// columnIndex returns the ordinal of the named column, or -1.
func (h *tableHeader) columnIndex(name string) int {
	for i, c := range h.columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// Well-known columns of the QueryCompletionInformation table (v2 responses).
const (
	levelColumn   = "Level"
	cridColumn    = "ClientRequestId"
	payloadColumn = "Payload"
)

// infoSeverityThreshold is the severity level at and above which a
// QueryCompletionInformation entry is informational rather than an error.
const infoSeverityThreshold = 4
