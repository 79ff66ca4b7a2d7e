package handler

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/dfs-io/dfsd/pkg/store"
)

func (h *Handler) download(w http.ResponseWriter, r *http.Request) {
	principal := principalFrom(r.Context())
	uploadID := chi.URLParam(r, "id")

	upload, err := h.loadOwnedUpload(r.Context(), uploadID, principal.UserID)
	if err != nil {
		h.writeError(w, r, err, uploadID)
		return
	}
	if upload.Status != store.UploadCompleted {
		h.writeError(w, r, ErrConflict.WithDetail("upload is not completed"), uploadID)
		return
	}

	chunks, err := h.store.ListChunks(r.Context(), uploadID)
	if err != nil {
		h.writeError(w, r, err, uploadID)
		return
	}
	if len(chunks) != upload.TotalChunks {
		h.writeError(w, r, ErrInternal.WithDetail("upload metadata is inconsistent"), uploadID)
		return
	}

	rangeHeader := r.Header.Get("Range")
	rangeRequested := rangeHeader != ""

	start, end := int64(0), upload.FileSize-1
	if rangeRequested {
		start, end, err = parseRange(rangeHeader, upload.FileSize)
		if err != nil {
			h.writeError(w, r, ErrRangeInvalid.WithDetail(err.Error()).
				WithHeader("Content-Range", fmt.Sprintf("bytes */%d", upload.FileSize)), uploadID)
			return
		}
	}

	h.audit.Info().
		Str("event", "download").
		Str("upload_id", uploadID).
		Str("owner_id", principal.UserID).
		Bool("range_requested", rangeRequested).
		Msg("audit")

	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", upload.FileName))
	w.Header().Set("Content-Length", strconv.FormatInt(end-start+1, 10))
	if rangeRequested {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, upload.FileSize))
		w.WriteHeader(http.StatusPartialContent)
	} else {
		w.WriteHeader(http.StatusOK)
	}

	if err := h.streamRange(r, w, upload, chunks, start, end); err != nil {
		// Headers are gone; all we can do is log and drop the connection.
		h.logger.Error().Err(err).Str("upload_id", uploadID).Msg("download stream failed")
	}
}

// streamRange writes bytes [start, end] of the assembled file, reading only
// the chunks that intersect the range. Chunks arrive in ascending index
// order; the file is never buffered whole.
func (h *Handler) streamRange(r *http.Request, w io.Writer, upload *store.Upload, chunks []store.Chunk, start, end int64) error {
	for _, chunk := range chunks {
		chunkStart := int64(chunk.ChunkIndex) * upload.ChunkSize
		chunkEnd := chunkStart + chunk.SizeBytes - 1
		if chunkEnd < start {
			continue
		}
		if chunkStart > end {
			break
		}

		localStart := int64(0)
		if start > chunkStart {
			localStart = start - chunkStart
		}
		localEnd := chunk.SizeBytes - 1
		if end < chunkEnd {
			localEnd = end - chunkStart
		}

		if err := h.copyChunkSlice(r, w, chunk.StorageKey, localStart, localEnd); err != nil {
			return fmt.Errorf("chunk %d: %w", chunk.ChunkIndex, err)
		}
	}
	return nil
}

func (h *Handler) copyChunkSlice(r *http.Request, w io.Writer, key string, localStart, localEnd int64) error {
	reader, err := h.objects.ReadChunk(r.Context(), key)
	if err != nil {
		return err
	}
	defer reader.Close()

	if localStart > 0 {
		if _, err := io.CopyN(io.Discard, reader, localStart); err != nil {
			return err
		}
	}
	_, err = io.CopyN(w, reader, localEnd-localStart+1)
	return err
}

// parseRange parses "bytes=<start>-<end>". Missing bounds default to the
// start and end of the file. Malformed or out-of-bounds ranges error.
func parseRange(header string, fileSize int64) (int64, int64, error) {
	spec, ok := strings.CutPrefix(header, "bytes=")
	if !ok {
		return 0, 0, fmt.Errorf("unsupported range unit in %q", header)
	}
	startStr, endStr, ok := strings.Cut(spec, "-")
	if !ok {
		return 0, 0, fmt.Errorf("malformed range %q", header)
	}

	start := int64(0)
	end := fileSize - 1
	var err error
	if startStr != "" {
		if start, err = strconv.ParseInt(startStr, 10, 64); err != nil {
			return 0, 0, fmt.Errorf("malformed range start %q", startStr)
		}
	}
	if endStr != "" {
		if end, err = strconv.ParseInt(endStr, 10, 64); err != nil {
			return 0, 0, fmt.Errorf("malformed range end %q", endStr)
		}
	}
	if start < 0 || end < start || end >= fileSize {
		return 0, 0, fmt.Errorf("range %d-%d outside file of %d bytes", start, end, fileSize)
	}
	return start, end, nil
}
