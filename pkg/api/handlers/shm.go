package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/modalgate/modalgate/internal/logger"
	"github.com/modalgate/modalgate/pkg/shm"
)

// ShmHandler exposes region lifecycle management over HTTP: a client
// asks the server to allocate a region, polls its state, and tells the
// server when it may read what the server deposited.
type ShmHandler struct {
	registry    *shm.Registry
	defaultSize uint32
}

// NewShmHandler wires the region endpoints.
func NewShmHandler(registry *shm.Registry, defaultSize uint32) *ShmHandler {
	return &ShmHandler{registry: registry, defaultSize: defaultSize}
}

// createRequest is the body of POST /shm/create.
type createRequest struct {
	Name string `json:"name"`
	Size uint32 `json:"size"`
}

// Create handles POST /shm/create: allocate a region for a
// server-to-client transfer and leave it in SERVER_WRITING.
func (h *ShmHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON body: %v", err))
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	size := req.Size
	if size == 0 {
		size = h.defaultSize
	}

	region, err := h.registry.Create(req.Name, size, false)
	if err != nil {
		if errors.Is(err, shm.ErrRegionExists) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	region.SetStatus(shm.StatusServerWriting)

	logger.Info("region created",
		logger.KeyRegion, req.Name,
		logger.KeySize, size,
		logger.KeyState, shm.StatusServerWriting.String(),
	)
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "success",
		"shm_name":   req.Name,
		"size":       size,
		"total_size": region.TotalSize(),
		"state":      shm.StatusServerWriting.String(),
	})
}

// RegionStatus handles GET /shm/status/{name}.
func (h *ShmHandler) RegionStatus(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	region, ok := h.registry.Get(name)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("no region named %q", name))
		return
	}

	hdr := region.Header()
	writeJSON(w, http.StatusOK, map[string]any{
		"shm_name":    name,
		"state":       hdr.Status.String(),
		"data_size":   hdr.DataSize,
		"buffer_size": hdr.BufferSize,
		"data_type":   hdr.DataType.String(),
		"timestamp":   hdr.Timestamp,
	})
}

// Write handles POST /shm/write/{name}: deposit the request body at
// offset 0 of the region's payload area.
func (h *ShmHandler) Write(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	region, ok := h.registry.Get(name)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("no region named %q", name))
		return
	}

	data, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("failed to read request body: %v", err))
		return
	}

	if err := region.WriteData(0, data); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	logger.Debug("region write",
		logger.KeyRegion, name,
		logger.KeyBytesWritten, len(data),
	)
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "success",
		"bytes_written": len(data),
	})
}

// Ready handles POST /shm/ready/{name}: mark the deposited payload
// valid and available to the waiting peer.
func (h *ShmHandler) Ready(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	region, ok := h.registry.Get(name)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("no region named %q", name))
		return
	}

	region.SetStatus(shm.StatusReady)

	writeJSON(w, http.StatusOK, map[string]any{
		"status": "success",
		"state":  shm.StatusReady.String(),
	})
}

// Close handles POST /shm/close/{name}: detach and unlink.
func (h *ShmHandler) Close(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	if err := h.registry.Close(name); err != nil {
		if errors.Is(err, shm.ErrRegionNotFound) {
			writeError(w, http.StatusNotFound, fmt.Sprintf("no region named %q", name))
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	logger.Info("region closed", logger.KeyRegion, name)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "success",
	})
}

// List handles GET /shm/list: every tracked region with header fields
// and registry metadata.
func (h *ShmHandler) List(w http.ResponseWriter, r *http.Request) {
	infos := h.registry.List()

	regions := make(map[string]shm.RegionInfo, len(infos))
	for _, info := range infos {
		regions[info.Name] = info
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"count":   len(regions),
		"regions": regions,
	})
}
