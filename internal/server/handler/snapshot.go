package handler

import (
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/venuearb/internal/domain"
)

// SnapshotSource exposes the aggregator's last published snapshot.
type SnapshotSource interface {
	Snapshot() domain.Snapshot
}

// SnapshotHandler serves the latest market snapshot.
type SnapshotHandler struct {
	src SnapshotSource
}

// NewSnapshotHandler creates a SnapshotHandler.
func NewSnapshotHandler(src SnapshotSource) *SnapshotHandler {
	return &SnapshotHandler{src: src}
}

// GetSnapshot returns the snapshot, restricted to ?instrument= when given.
// GET /api/snapshot
func (h *SnapshotHandler) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	snap := h.src.Snapshot()
	if inst := r.URL.Query().Get("instrument"); inst != "" {
		qs, ok := snap.Quotes[inst]
		if !ok {
			writeError(w, http.StatusNotFound, "instrument not quoted: "+inst)
			return
		}
		snap.Quotes = map[string][]domain.Quote{inst: qs}
	}
	writeJSON(w, http.StatusOK, snap)
}

// ArchiveHandler lists archived opportunity batches in object storage.
type ArchiveHandler struct {
	reader domain.BlobReader
	prefix string
	logger *slog.Logger
}

// NewArchiveHandler creates an ArchiveHandler rooted at prefix.
func NewArchiveHandler(reader domain.BlobReader, prefix string, logger *slog.Logger) *ArchiveHandler {
	return &ArchiveHandler{reader: reader, prefix: prefix, logger: logHandler(logger, "archives")}
}

// ListArchives lists objects under the archive prefix, narrowed by ?day=
// (YYYY-MM-DD).
// GET /api/archives
func (h *ArchiveHandler) ListArchives(w http.ResponseWriter, r *http.Request) {
	prefix := h.prefix
	if day := r.URL.Query().Get("day"); day != "" {
		prefix += "/" + day
	}
	items, err := h.reader.List(r.Context(), prefix)
	if err != nil {
		writeLookupError(w, r, h.logger, err)
		return
	}
	if items == nil {
		items = []domain.BlobInfo{}
	}
	writeJSON(w, http.StatusOK, items)
}
