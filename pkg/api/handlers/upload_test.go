package handlers_test

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUploadText(t *testing.T) {
	h := newHarness(t)

	req := httptest.NewRequest(http.MethodPost, "/upload?type=text", strings.NewReader("hello"))
	code, body := h.do(t, req)

	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "success", body["status"])
	assert.Equal(t, "text", body["type"])
	assert.Equal(t, float64(5), body["size"])
	assert.Equal(t, "normal", body["upload_mode"])
}

func TestUploadBinary(t *testing.T) {
	h := newHarness(t)

	req := httptest.NewRequest(http.MethodPost, "/upload?type=binary", strings.NewReader("\x00\x01\x02"))
	code, body := h.do(t, req)

	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "success", body["status"])
	assert.Equal(t, "binary", body["type"])
	assert.Equal(t, float64(3), body["size"])
	assert.Equal(t, "b95f67f61ebb03619622d798f45fc2d3", body["md5"])
	assert.Equal(t, "normal", body["upload_mode"])
}

func TestUploadDefaultsToBinary(t *testing.T) {
	h := newHarness(t)

	req := httptest.NewRequest(http.MethodPost, "/upload", strings.NewReader("data"))
	code, body := h.do(t, req)

	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "binary", body["type"])
}

func TestUploadUnknownType(t *testing.T) {
	h := newHarness(t)

	req := httptest.NewRequest(http.MethodPost, "/upload?type=video", strings.NewReader("x"))
	code, body := h.do(t, req)

	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "error", body["status"])
	assert.Contains(t, body["message"], "unknown payload type")
}

func TestUploadChunkedOutOfOrder(t *testing.T) {
	h := newHarness(t)

	sendChunk := func(index int, data string) (int, map[string]any) {
		req := httptest.NewRequest(http.MethodPost, "/upload?mode=chunked&type=file", strings.NewReader(data))
		req.Header.Set("X-Upload-ID", "u1")
		req.Header.Set("X-Chunk-Index", fmt.Sprintf("%d", index))
		req.Header.Set("X-Total-Chunks", "3")
		req.Header.Set("X-Filename", "v.bin")
		return h.do(t, req)
	}

	code, body := sendChunk(2, "c")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "chunk_received", body["status"])
	assert.Equal(t, float64(1), body["received"])
	assert.Equal(t, float64(3), body["total"])

	code, body = sendChunk(0, "a")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "chunk_received", body["status"])
	assert.Equal(t, float64(2), body["received"])

	code, body = sendChunk(1, "b")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "success", body["status"])
	assert.Equal(t, "chunked", body["upload_mode"])
	assert.Equal(t, float64(3), body["total_chunks"])

	// Reassembled in index order and written by the file handler.
	written, err := os.ReadFile(filepath.Join(h.uploadDir, "v.bin"))
	require.NoError(t, err)
	assert.Equal(t, "abc", string(written))
}

func TestUploadChunkedMissingHeaders(t *testing.T) {
	h := newHarness(t)

	req := httptest.NewRequest(http.MethodPost, "/upload?mode=chunked&type=binary", strings.NewReader("x"))
	req.Header.Set("X-Upload-ID", "u2")
	// X-Chunk-Index and X-Total-Chunks missing.
	code, body := h.do(t, req)

	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "error", body["status"])

	// No session was created by the bad request.
	statusReq := httptest.NewRequest(http.MethodGet, "/status/u2", nil)
	code, _ = h.do(t, statusReq)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestUploadChunkedImplicitMode(t *testing.T) {
	h := newHarness(t)

	// X-Upload-ID alone routes to the chunked path without ?mode=.
	req := httptest.NewRequest(http.MethodPost, "/upload?type=binary", strings.NewReader("z"))
	req.Header.Set("X-Upload-ID", "implicit")
	req.Header.Set("X-Chunk-Index", "0")
	req.Header.Set("X-Total-Chunks", "2")
	code, body := h.do(t, req)

	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "chunk_received", body["status"])
}

func TestUploadRejectsOversizedBody(t *testing.T) {
	h := newHarness(t)

	req := httptest.NewRequest(http.MethodPost, "/upload?type=binary", strings.NewReader("tiny"))
	req.ContentLength = 17 * 1024 * 1024 * 1024 // 17 GiB declared
	code, body := h.do(t, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, code)
	assert.Equal(t, "error", body["status"])
	assert.Equal(t, float64(17179869184), body["max_size"])
	assert.Contains(t, body["solution"], "?mode=chunked")
}

func TestUploadStream(t *testing.T) {
	h := newHarness(t)

	req := httptest.NewRequest(http.MethodPost, "/upload/stream?type=file", strings.NewReader("streamed body"))
	req.Header.Set("X-Filename", "spooled.dat")
	code, body := h.do(t, req)

	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "success", body["status"])
	assert.Equal(t, "stream", body["upload_mode"])
	assert.Equal(t, float64(len("streamed body")), body["total_size"])
	// md5 of "streamed body"
	assert.Equal(t, "869ad6b33f6d2719693bfdffbc0c9234", body["md5"])

	written, err := os.ReadFile(filepath.Join(h.uploadDir, "spooled.dat"))
	require.NoError(t, err)
	assert.Equal(t, "streamed body", string(written))
}

func TestUploadStatusProgress(t *testing.T) {
	h := newHarness(t)

	req := httptest.NewRequest(http.MethodPost, "/upload?mode=chunked&type=binary", strings.NewReader("c2"))
	req.Header.Set("X-Upload-ID", "tracked")
	req.Header.Set("X-Chunk-Index", "2")
	req.Header.Set("X-Total-Chunks", "4")
	code, _ := h.do(t, req)
	require.Equal(t, http.StatusOK, code)

	statusReq := httptest.NewRequest(http.MethodGet, "/status/tracked", nil)
	code, body := h.do(t, statusReq)

	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(1), body["received_chunks"])
	assert.Equal(t, float64(4), body["total_chunks"])
	assert.Equal(t, []any{float64(0), float64(1), float64(3)}, body["missing_chunks"])
	assert.Equal(t, "binary", body["type"])
}

func TestUploadStatusUnknown(t *testing.T) {
	h := newHarness(t)

	req := httptest.NewRequest(http.MethodGet, "/status/nope", nil)
	code, body := h.do(t, req)

	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "error", body["status"])
}

func TestUploadShmMissingName(t *testing.T) {
	h := newHarness(t)

	req := httptest.NewRequest(http.MethodPost, "/upload?type=shm", nil)
	code, body := h.do(t, req)

	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, body["message"], "shm_name")
}

func TestUploadShmBidirectional(t *testing.T) {
	h := newHarness(t)

	// Play the client: create the region, deposit "Q", hand it over.
	region, err := h.regions.Create("r2", 4096, false)
	require.NoError(t, err)
	require.NoError(t, region.WriteData(0, []byte("Q")))
	region.SetStatus(1) // CLIENT_WRITING

	req := httptest.NewRequest(http.MethodPost, "/upload?type=shm&shm_name=r2&operation=bidirectional", nil)
	code, body := h.do(t, req)

	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "bidirectional", body["shm_operation"])
	assert.Equal(t, float64(1), body["input_size"])
	outputSize, ok := body["output_size"].(float64)
	require.True(t, ok)
	assert.Greater(t, outputSize, float64(0))
	assert.NotContains(t, body, "output_shm", "4 KiB buffer should hold the summary")
}

func TestUploadShmReadTimeout(t *testing.T) {
	h := newHarness(t)

	_, err := h.regions.Create("quiet", 256, false)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/upload?type=shm&shm_name=quiet&operation=read", nil)
	code, body := h.do(t, req)

	assert.Equal(t, http.StatusRequestTimeout, code)
	assert.Contains(t, body["message"], "timeout")
}

func TestUploadShmUnknownRegion(t *testing.T) {
	h := newHarness(t)

	req := httptest.NewRequest(http.MethodPost, "/upload?type=shm&shm_name=ghost&operation=read", nil)
	code, _ := h.do(t, req)

	assert.Equal(t, http.StatusNotFound, code)
}
