package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/venuearb/internal/domain"
)

// multipartThreshold is the payload size above which archives are uploaded
// with the multipart manager.
const multipartThreshold = 8 * 1024 * 1024

// Archiver implements domain.Archiver. Each call writes one JSONL object
// holding the expired registry entries, one entry per line.
type Archiver struct {
	writer domain.BlobWriter
	audit  domain.AuditStore
	prefix string
	now    func() time.Time
}

var _ domain.Archiver = (*Archiver)(nil)

// NewArchiver creates an Archiver. audit may be nil. prefix defaults to
// "archive/opportunities".
func NewArchiver(writer domain.BlobWriter, audit domain.AuditStore, prefix string) *Archiver {
	if prefix == "" {
		prefix = "archive/opportunities"
	}
	return &Archiver{writer: writer, audit: audit, prefix: prefix, now: time.Now}
}

// ArchiveOpportunities uploads opps and returns the object key. An empty
// batch uploads nothing and returns "".
func (a *Archiver) ArchiveOpportunities(ctx context.Context, opps []domain.ExecutableOpportunity) (string, error) {
	if len(opps) == 0 {
		return "", nil
	}

	buf, err := marshalJSONL(opps)
	if err != nil {
		return "", fmt.Errorf("s3blob: archive opportunities marshal: %w", err)
	}

	path := archivePath(a.prefix, a.now())
	if len(buf) > multipartThreshold {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), 0)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson")
	}
	if err != nil {
		return "", fmt.Errorf("s3blob: archive opportunities upload: %w", err)
	}

	if a.audit != nil {
		if err := a.audit.Log(ctx, "archive.opportunities", map[string]any{
			"path":  path,
			"count": len(opps),
		}); err != nil {
			return path, fmt.Errorf("s3blob: archive opportunities audit log: %w", err)
		}
	}
	return path, nil
}

// archivePath partitions archives by UTC day:
//
//	archive/opportunities/2026-06-01/1780300800000000000.jsonl
func archivePath(prefix string, at time.Time) string {
	at = at.UTC()
	return fmt.Sprintf("%s/%s/%d.jsonl", prefix, at.Format("2006-01-02"), at.UnixNano())
}

// marshalJSONL encodes each record as one compact JSON line.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
