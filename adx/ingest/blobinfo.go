package ingest

import (
	"encoding/base64"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// blobInfo is the queued-ingestion message body. Field names and shapes
// follow the wire contract exactly; the message is serialized to JSON and
// base64-encoded before being posted to a ready queue.
type blobInfo struct {
	ID                        string            `json:"Id"`
	BlobPath                  string            `json:"BlobPath"`
	RawDataSize               int64             `json:"RawDataSize,omitempty"`
	DatabaseName              string            `json:"DatabaseName"`
	TableName                 string            `json:"TableName"`
	RetainBlobOnSuccess       bool              `json:"RetainBlobOnSuccess"`
	FlushImmediately          bool              `json:"FlushImmediately"`
	IgnoreSizeLimit           bool              `json:"IgnoreSizeLimit"`
	ReportLevel               int               `json:"ReportLevel"`
	ReportMethod              int               `json:"ReportMethod"`
	SourceMessageCreationTime string            `json:"SourceMessageCreationTime"`
	AdditionalProperties      map[string]string `json:"AdditionalProperties"`
}

// newBlobInfo assembles the message for one staged blob.
func newBlobInfo(blob *BlobSource, props *Properties, authContext string, now time.Time) (*blobInfo, error) {
	extra := map[string]string{
		"authorizationContext": authContext,
		"format":               string(props.format()),
	}
	if len(props.Tags) > 0 {
		tags, err := jsonAPI.MarshalToString(props.Tags)
		if err != nil {
			return nil, err
		}
		extra["tags"] = tags
	}
	if len(props.IngestIfNotExists) > 0 {
		ine, err := jsonAPI.MarshalToString(props.IngestIfNotExists)
		if err != nil {
			return nil, err
		}
		extra["ingestIfNotExists"] = ine
	}
	if props.Mapping != "" {
		extra["ingestionMapping"] = props.Mapping
	}
	if props.MappingReference != "" {
		extra["ingestionMappingReference"] = props.MappingReference
	}

	return &blobInfo{
		ID:                        blob.SourceID.String(),
		BlobPath:                  blob.Path,
		RawDataSize:               blob.Size,
		DatabaseName:              props.Database,
		TableName:                 props.Table,
		RetainBlobOnSuccess:       true,
		FlushImmediately:          props.FlushImmediately,
		ReportLevel:               int(props.ReportLevel),
		ReportMethod:              int(props.ReportMethod),
		SourceMessageCreationTime: now.UTC().Format(time.RFC3339Nano),
		AdditionalProperties:      extra,
	}, nil
}

// encode serializes the message in the transport form the ready queues
// expect: base64 over compact JSON.
func (b *blobInfo) encode() (string, error) {
	raw, err := jsonAPI.Marshal(b)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}
