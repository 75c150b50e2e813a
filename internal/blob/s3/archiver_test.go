package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/venuearb/internal/domain"
)

type memWriter struct {
	objects     map[string][]byte
	contentType map[string]string
	multipart   int
}

func newMemWriter() *memWriter {
	return &memWriter{objects: map[string][]byte{}, contentType: map[string]string{}}
}

func (m *memWriter) Put(_ context.Context, path string, data io.Reader, contentType string) error {
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	m.objects[path] = b
	m.contentType[path] = contentType
	return nil
}

func (m *memWriter) PutMultipart(_ context.Context, path string, data io.Reader, _ int64) error {
	m.multipart++
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	m.objects[path] = b
	return nil
}

type memAudit struct {
	events []string
	detail []map[string]any
}

func (m *memAudit) Log(_ context.Context, event string, detail map[string]any) error {
	m.events = append(m.events, event)
	m.detail = append(m.detail, detail)
	return nil
}

func (m *memAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

func TestArchiver_WritesJSONL(t *testing.T) {
	w := newMemWriter()
	audit := &memAudit{}
	a := NewArchiver(w, audit, "")
	a.now = func() time.Time { return time.Date(2026, 6, 1, 9, 30, 0, 0, time.UTC) }

	opps := []domain.ExecutableOpportunity{
		{Opportunity: domain.Opportunity{ID: "a", Instrument: "BTC-USD"}, Status: domain.StatusPending},
		{Opportunity: domain.Opportunity{ID: "b", Instrument: "ETH-USD"}, Status: domain.StatusFailed},
	}
	path, err := a.ArchiveOpportunities(t.Context(), opps)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(path, "archive/opportunities/2026-06-01/"))
	assert.True(t, strings.HasSuffix(path, ".jsonl"))
	assert.Equal(t, "application/x-ndjson", w.contentType[path])

	lines := bytes.Split(bytes.TrimSpace(w.objects[path]), []byte("\n"))
	require.Len(t, lines, 2)
	var first domain.ExecutableOpportunity
	require.NoError(t, json.Unmarshal(lines[0], &first))
	assert.Equal(t, "a", first.ID)

	require.Equal(t, []string{"archive.opportunities"}, audit.events)
	assert.Equal(t, 2, audit.detail[0]["count"])
}

func TestArchiver_EmptyBatch(t *testing.T) {
	w := newMemWriter()
	a := NewArchiver(w, nil, "cold")
	path, err := a.ArchiveOpportunities(t.Context(), nil)
	require.NoError(t, err)
	assert.Empty(t, path)
	assert.Empty(t, w.objects)
}

func TestArchiver_LargeBatchUsesMultipart(t *testing.T) {
	w := newMemWriter()
	a := NewArchiver(w, nil, "cold")

	reason := strings.Repeat("x", 1024)
	opps := make([]domain.ExecutableOpportunity, 9000)
	for i := range opps {
		opps[i] = domain.ExecutableOpportunity{Status: domain.StatusFailed, ErrorReason: reason}
	}
	path, err := a.ArchiveOpportunities(t.Context(), opps)
	require.NoError(t, err)
	assert.Equal(t, 1, w.multipart)
	assert.True(t, strings.HasPrefix(path, "cold/"))
}

func TestNormaliseEndpoint(t *testing.T) {
	assert.Equal(t, "https://storage.example.com", normaliseEndpoint("storage.example.com", true))
	assert.Equal(t, "http://storage.example.com", normaliseEndpoint("storage.example.com", false))
	assert.Equal(t, "http://already", normaliseEndpoint("http://already", true))
}
