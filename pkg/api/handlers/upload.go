package handlers

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/modalgate/modalgate/internal/logger"
	"github.com/modalgate/modalgate/pkg/config"
	"github.com/modalgate/modalgate/pkg/ingest"
	"github.com/modalgate/modalgate/pkg/metrics"
	"github.com/modalgate/modalgate/pkg/shm"
)

// UploadHandler is the ingestion router: it classifies each upload
// request into the normal, chunked, streamed, or shared-memory path,
// acquires the bytes accordingly, and invokes the matching handler.
type UploadHandler struct {
	cfg      config.UploadConfig
	registry *ingest.Registry
	sessions *ingest.SessionStore
	exchange *shm.Exchange
	metrics  *metrics.IngestMetrics
}

// NewUploadHandler wires the ingestion router. metrics may be nil.
func NewUploadHandler(
	cfg config.UploadConfig,
	registry *ingest.Registry,
	sessions *ingest.SessionStore,
	exchange *shm.Exchange,
	m *metrics.IngestMetrics,
) *UploadHandler {
	return &UploadHandler{
		cfg:      cfg,
		registry: registry,
		sessions: sessions,
		exchange: exchange,
		metrics:  m,
	}
}

// Upload handles POST /upload.
//
// Classification, in order:
//   - ?type=shm                          -> shared-memory exchange
//   - ?mode=chunked or X-Upload-ID set   -> chunk reassembler
//   - otherwise                          -> normal buffered path
func (h *UploadHandler) Upload(w http.ResponseWriter, r *http.Request) {
	if h.rejectOversized(w, r) {
		return
	}

	query := r.URL.Query()
	kind := query.Get("type")
	if kind == "" {
		kind = "binary"
	}

	if kind == "shm" {
		h.handleShm(w, r)
		return
	}

	if query.Get("mode") == "chunked" || r.Header.Get("X-Upload-ID") != "" {
		h.handleChunked(w, r, kind)
		return
	}

	h.handleNormal(w, r, kind)
}

// rejectOversized enforces the configured body cap with chunked-mode
// guidance. Returns true when the request was rejected.
func (h *UploadHandler) rejectOversized(w http.ResponseWriter, r *http.Request) bool {
	if r.ContentLength > 0 && uint64(r.ContentLength) > h.cfg.MaxContentLength.Bytes() {
		h.metrics.ObserveUploadError("overflow")
		writeJSON(w, http.StatusRequestEntityTooLarge, map[string]any{
			"status":   "error",
			"message":  fmt.Sprintf("request body of %d bytes exceeds the configured maximum", r.ContentLength),
			"max_size": h.cfg.MaxContentLength.Bytes(),
			"solution": "Add ?mode=chunked to split large uploads into chunks",
		})
		return true
	}
	return false
}

// handleNormal acquires the whole body and dispatches it. Bodies whose
// declared length exceeds the stream threshold are read incrementally
// so the HTTP layer never materializes them in one framework buffer.
func (h *UploadHandler) handleNormal(w http.ResponseWriter, r *http.Request, kind string) {
	data, err := h.readBody(r)
	if err != nil {
		h.metrics.ObserveUploadError("io")
		writeError(w, http.StatusBadRequest, fmt.Sprintf("failed to read request body: %v", err))
		return
	}

	meta := ingest.Metadata{
		Kind:        kind,
		Mode:        "normal",
		Filename:    r.Header.Get("X-Filename"),
		ContentType: r.Header.Get("Content-Type"),
		Params:      flattenQuery(r),
	}

	result, err := h.registry.Dispatch(kind, data, meta)
	if err != nil {
		h.metrics.ObserveUploadError("handler")
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result["upload_mode"] = "normal"
	h.metrics.ObserveUpload(kind, "normal", len(data))

	logger.Info("upload complete",
		logger.KeyDataKind, kind,
		logger.KeyUploadMode, "normal",
		logger.KeySize, len(data),
	)
	writeJSON(w, http.StatusOK, result)
}

// handleChunked feeds one chunk into the reassembler and dispatches
// the assembled payload once the final chunk lands.
func (h *UploadHandler) handleChunked(w http.ResponseWriter, r *http.Request, kind string) {
	uploadID := r.Header.Get("X-Upload-ID")
	indexStr := r.Header.Get("X-Chunk-Index")
	totalStr := r.Header.Get("X-Total-Chunks")

	if uploadID == "" || indexStr == "" || totalStr == "" {
		writeError(w, http.StatusBadRequest,
			"chunked uploads require X-Upload-ID, X-Chunk-Index, and X-Total-Chunks headers")
		return
	}

	index, err := strconv.Atoi(indexStr)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid X-Chunk-Index %q", indexStr))
		return
	}
	total, err := strconv.Atoi(totalStr)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid X-Total-Chunks %q", totalStr))
		return
	}

	data, err := io.ReadAll(r.Body)
	if err != nil {
		h.metrics.ObserveUploadError("io")
		writeError(w, http.StatusBadRequest, fmt.Sprintf("failed to read chunk body: %v", err))
		return
	}

	progress, assembled, err := h.sessions.AddChunk(uploadID, index, total, kind, r.Header.Get("X-Filename"), data)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.metrics.SetActiveSessions(h.sessions.Len())

	if assembled == nil {
		logger.Debug("chunk received",
			logger.KeyUploadID, uploadID,
			logger.KeyChunkIndex, index,
			logger.KeyTotalChunks, total,
		)
		writeJSON(w, http.StatusOK, map[string]any{
			"status":    "chunk_received",
			"upload_id": uploadID,
			"received":  progress.Received,
			"total":     progress.Total,
		})
		return
	}

	meta := ingest.Metadata{
		Kind:     progress.Kind,
		Mode:     "chunked",
		Filename: r.Header.Get("X-Filename"),
		UploadID: uploadID,
		Params:   flattenQuery(r),
	}

	result, err := h.registry.Dispatch(progress.Kind, assembled, meta)
	if err != nil {
		h.metrics.ObserveUploadError("handler")
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result["upload_mode"] = "chunked"
	result["total_chunks"] = progress.Total
	h.metrics.ObserveUpload(progress.Kind, "chunked", len(assembled))

	logger.Info("chunked upload complete",
		logger.KeyUploadID, uploadID,
		logger.KeyTotalChunks, progress.Total,
		logger.KeySize, len(assembled),
	)
	writeJSON(w, http.StatusOK, result)
}

// handleShm routes the request into the exchange orchestrator.
func (h *UploadHandler) handleShm(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	name := query.Get("shm_name")
	if name == "" {
		name = r.Header.Get("X-Shm-Name")
	}
	if name == "" {
		writeError(w, http.StatusBadRequest, "shm uploads require shm_name")
		return
	}

	op := query.Get("operation")
	if op == "" {
		op = shm.OpRead
	}

	var data []byte
	if op == shm.OpWrite {
		var err error
		if data, err = h.readBody(r); err != nil {
			h.metrics.ObserveUploadError("io")
			writeError(w, http.StatusBadRequest, fmt.Sprintf("failed to read request body: %v", err))
			return
		}
	}

	start := time.Now()
	result, err := h.exchange.Run(op, name, data, flattenQuery(r))
	if err != nil {
		h.metrics.ObserveShmOperation(op, "error", time.Since(start))
		status := http.StatusBadRequest
		switch {
		case errors.Is(err, shm.ErrRegionNotFound):
			status = http.StatusNotFound
		case strings.Contains(err.Error(), "timeout"):
			status = http.StatusRequestTimeout
		}
		writeError(w, status, err.Error())
		return
	}
	h.metrics.ObserveShmOperation(op, "success", time.Since(start))

	logger.Info("shm exchange complete",
		logger.KeyRegion, name,
		logger.KeyOperation, op,
		logger.KeyDurationMs, logger.Duration(start),
	)
	writeJSON(w, http.StatusOK, result)
}

// UploadStream handles POST /upload/stream: the body is teed through
// an MD5 hash while spooling to a temporary file in fixed-size chunks,
// then read back and dispatched. The spool file is removed on every
// exit path.
func (h *UploadHandler) UploadStream(w http.ResponseWriter, r *http.Request) {
	if h.rejectOversized(w, r) {
		return
	}

	kind := r.URL.Query().Get("type")
	if kind == "" {
		kind = "binary"
	}

	spoolDir := h.cfg.SpoolDirectory
	if spoolDir != "" {
		if err := os.MkdirAll(spoolDir, 0755); err != nil {
			h.metrics.ObserveUploadError("io")
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to create spool directory: %v", err))
			return
		}
	}

	spool, err := os.CreateTemp(spoolDir, "modalgate-spool-"+uuid.NewString()+"-*")
	if err != nil {
		h.metrics.ObserveUploadError("io")
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to create spool file: %v", err))
		return
	}
	spoolPath := spool.Name()
	defer func() {
		_ = spool.Close()
		_ = os.Remove(spoolPath)
	}()

	hasher := md5.New()
	total, err := io.CopyBuffer(spool, io.TeeReader(r.Body, hasher), make([]byte, h.cfg.IOChunkSize.Bytes()))
	if err != nil {
		h.metrics.ObserveUploadError("io")
		writeError(w, http.StatusBadRequest, fmt.Sprintf("failed to spool request body: %v", err))
		return
	}
	if uint64(total) > h.cfg.MaxContentLength.Bytes() {
		h.metrics.ObserveUploadError("overflow")
		writeJSON(w, http.StatusRequestEntityTooLarge, map[string]any{
			"status":   "error",
			"message":  fmt.Sprintf("request body of %d bytes exceeds the configured maximum", total),
			"max_size": h.cfg.MaxContentLength.Bytes(),
			"solution": "Add ?mode=chunked to split large uploads into chunks",
		})
		return
	}

	data, err := os.ReadFile(spoolPath)
	if err != nil {
		h.metrics.ObserveUploadError("io")
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to read spool file: %v", err))
		return
	}

	meta := ingest.Metadata{
		Kind:        kind,
		Mode:        "stream",
		Filename:    r.Header.Get("X-Filename"),
		ContentType: r.Header.Get("Content-Type"),
		Params:      flattenQuery(r),
	}

	result, err := h.registry.Dispatch(kind, data, meta)
	if err != nil {
		h.metrics.ObserveUploadError("handler")
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result["upload_mode"] = "stream"
	result["total_size"] = total
	result["md5"] = hex.EncodeToString(hasher.Sum(nil))
	h.metrics.ObserveUpload(kind, "stream", int(total))

	logger.Info("streamed upload complete",
		logger.KeyDataKind, kind,
		logger.KeySize, total,
		logger.KeyFilename, meta.Filename,
	)
	writeJSON(w, http.StatusOK, result)
}

// Status handles GET /status/{upload_id} for in-flight chunked uploads.
func (h *UploadHandler) Status(w http.ResponseWriter, r *http.Request) {
	uploadID := chi.URLParam(r, "upload_id")

	progress, _, ok := h.sessions.Get(uploadID)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("no upload in progress with id %q", uploadID))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"upload_id":       uploadID,
		"received_chunks": progress.Received,
		"total_chunks":    progress.Total,
		"missing_chunks":  progress.Missing,
		"type":            progress.Kind,
	})
}

// readBody acquires the request body. Declared lengths above the
// stream threshold are read in IOChunkSize steps to keep the transport
// from buffering the body whole.
func (h *UploadHandler) readBody(r *http.Request) ([]byte, error) {
	if r.ContentLength > 0 && uint64(r.ContentLength) > h.cfg.StreamThreshold.Bytes() {
		var buf bytes.Buffer
		buf.Grow(int(h.cfg.StreamThreshold.Bytes()))

		chunk := make([]byte, h.cfg.IOChunkSize.Bytes())
		for {
			n, err := r.Body.Read(chunk)
			if n > 0 {
				buf.Write(chunk[:n])
			}
			if err == io.EOF {
				break
			}
			if err != nil {
				return nil, err
			}
		}
		return buf.Bytes(), nil
	}
	return io.ReadAll(r.Body)
}

// flattenQuery reduces the query parameters to first values for
// handler metadata.
func flattenQuery(r *http.Request) map[string]string {
	params := make(map[string]string)
	for k, vs := range r.URL.Query() {
		if len(vs) > 0 {
			params[k] = vs[0]
		}
	}
	return params
}
