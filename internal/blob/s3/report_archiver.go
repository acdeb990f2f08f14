package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"time"

	"github.com/alexander-t-ho/prediction-market-sub001/internal/domain"
)

// multipartThreshold is the report size above which uploads go multipart.
const multipartThreshold = 8 * 1024 * 1024

// ReportArchiver writes every committed resolution as a JSON document under
// {prefix}/{yyyy}/{mm}/{dd}/{marketID}.json, dated by the resolution time.
type ReportArchiver struct {
	writer domain.BlobWriter
	prefix string
}

// NewReportArchiver creates a ReportArchiver. An empty prefix uses
// "resolutions".
func NewReportArchiver(writer domain.BlobWriter, prefix string) *ReportArchiver {
	if prefix == "" {
		prefix = "resolutions"
	}
	return &ReportArchiver{writer: writer, prefix: prefix}
}

// report is the archived document.
type report struct {
	SchemaVersion int                     `json:"schema_version"`
	ArchivedAt    time.Time               `json:"archived_at"`
	Result        domain.ResolutionResult `json:"result"`
}

// ArchiveResolution uploads result and returns the object key.
func (a *ReportArchiver) ArchiveResolution(ctx context.Context, result domain.ResolutionResult) (string, error) {
	at := time.Now().UTC()
	if result.ResolvedAt != nil {
		at = result.ResolvedAt.UTC()
	}
	key := path.Join(a.prefix, at.Format("2006/01/02"), result.MarketID+".json")

	body, err := json.Marshal(report{SchemaVersion: 1, ArchivedAt: time.Now().UTC(), Result: result})
	if err != nil {
		return "", fmt.Errorf("s3blob: marshal report %s: %w", result.MarketID, err)
	}

	if len(body) > multipartThreshold {
		err = a.writer.PutMultipart(ctx, key, bytes.NewReader(body), minPartSize)
	} else {
		err = a.writer.Put(ctx, key, bytes.NewReader(body), "application/json")
	}
	if err != nil {
		return "", fmt.Errorf("s3blob: archive report %s: %w", result.MarketID, err)
	}
	return key, nil
}

var _ domain.ReportArchiver = (*ReportArchiver)(nil)
