// Package ingest implements the ingestion side of the client: direct
// streaming ingestion, durable queued ingestion via blob staging, and a
// managed client that routes between the two with retry and fallback.
package ingest

// DataFormat names a payload format accepted by the ingestion endpoints.
type DataFormat string

const (
	CSV        DataFormat = "csv"
	TSV        DataFormat = "tsv"
	SCSV       DataFormat = "scsv"
	SOHSV      DataFormat = "sohsv"
	PSV        DataFormat = "psv"
	TXT        DataFormat = "txt"
	RAW        DataFormat = "raw"
	JSON       DataFormat = "json"
	MultiJSON  DataFormat = "multijson"
	Avro       DataFormat = "avro"
	ApacheAvro DataFormat = "apacheavro"
	Parquet    DataFormat = "parquet"
	ORC        DataFormat = "orc"
	W3CLogFile DataFormat = "w3clogfile"
)

// binaryFormats are container formats with internal compression; their
// payloads are never gzip-wrapped before upload.
var binaryFormats = map[DataFormat]bool{
	Avro:       true,
	ApacheAvro: true,
	Parquet:    true,
	ORC:        true,
}

// Compressible reports whether payloads of this format benefit from gzip
// compression in transit.
func (f DataFormat) Compressible() bool { return !binaryFormats[f] }

// ReportLevel selects which ingestion outcomes get status reports.
type ReportLevel int

const (
	FailuresOnly ReportLevel = iota
	DoNotReport
	FailuresAndSuccesses
)

// ReportMethod selects where ingestion status reports are written.
type ReportMethod int

const (
	ReportToQueue ReportMethod = iota
	ReportToTable
	ReportToQueueAndTable
)

// Properties describes one ingestion: the destination and the knobs that
// shape how the service loads the payload.
type Properties struct {
	// Database and Table name the destination.
	Database string
	Table    string

	// Format declares the payload format. Defaults to CSV when empty.
	Format DataFormat

	// MappingReference names a pre-created ingestion mapping on the table.
	MappingReference string

	// Mapping is an inline ingestion mapping as raw JSON. Mutually
	// exclusive with MappingReference.
	Mapping string

	// Tags are attached to the ingested extent.
	Tags []string

	// IngestIfNotExists drops the ingestion when an extent already
	// carries one of these tags.
	IngestIfNotExists []string

	// FlushImmediately asks the service to skip aggregation batching.
	FlushImmediately bool

	// ReportLevel and ReportMethod control ingestion status reporting for
	// queued ingestion.
	ReportLevel  ReportLevel
	ReportMethod ReportMethod
}

// format returns the effective payload format.
func (p *Properties) format() DataFormat {
	if p.Format == "" {
		return CSV
	}
	return p.Format
}
