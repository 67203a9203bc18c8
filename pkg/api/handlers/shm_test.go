package handlers_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShmLifecycle(t *testing.T) {
	h := newHarness(t)

	// Create: region comes up in SERVER_WRITING.
	req := httptest.NewRequest(http.MethodPost, "/shm/create", strings.NewReader(`{"name":"r1","size":1024}`))
	code, body := h.do(t, req)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "success", body["status"])
	assert.Equal(t, "r1", body["shm_name"])
	assert.Equal(t, float64(1024), body["size"])
	assert.Equal(t, float64(1088), body["total_size"])
	assert.Equal(t, "SERVER_WRITING", body["state"])

	// Write: deposit three bytes.
	req = httptest.NewRequest(http.MethodPost, "/shm/write/r1", strings.NewReader("XYZ"))
	code, body = h.do(t, req)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(3), body["bytes_written"])

	// Ready: hand the payload to the client.
	req = httptest.NewRequest(http.MethodPost, "/shm/ready/r1", nil)
	code, body = h.do(t, req)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "READY", body["state"])

	// Status reflects the handoff.
	req = httptest.NewRequest(http.MethodGet, "/shm/status/r1", nil)
	code, body = h.do(t, req)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "READY", body["state"])
	assert.Equal(t, float64(3), body["data_size"])
	assert.Equal(t, float64(1024), body["buffer_size"])
	assert.NotZero(t, body["timestamp"])

	// Close unlinks; status turns 404.
	req = httptest.NewRequest(http.MethodPost, "/shm/close/r1", nil)
	code, _ = h.do(t, req)
	require.Equal(t, http.StatusOK, code)

	req = httptest.NewRequest(http.MethodGet, "/shm/status/r1", nil)
	code, _ = h.do(t, req)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestShmCreateDefaultSize(t *testing.T) {
	h := newHarness(t)

	req := httptest.NewRequest(http.MethodPost, "/shm/create", strings.NewReader(`{"name":"defsize"}`))
	code, body := h.do(t, req)

	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(1024*1024), body["size"])
	assert.Equal(t, float64(1024*1024+64), body["total_size"])
}

func TestShmCreateValidation(t *testing.T) {
	h := newHarness(t)

	req := httptest.NewRequest(http.MethodPost, "/shm/create", strings.NewReader(`{}`))
	code, body := h.do(t, req)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, body["message"], "name is required")

	req = httptest.NewRequest(http.MethodPost, "/shm/create", strings.NewReader(`not json`))
	code, _ = h.do(t, req)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestShmCreateConflict(t *testing.T) {
	h := newHarness(t)

	req := httptest.NewRequest(http.MethodPost, "/shm/create", strings.NewReader(`{"name":"taken","size":64}`))
	code, _ := h.do(t, req)
	require.Equal(t, http.StatusOK, code)

	req = httptest.NewRequest(http.MethodPost, "/shm/create", strings.NewReader(`{"name":"taken","size":64}`))
	code, body := h.do(t, req)
	assert.Equal(t, http.StatusConflict, code)
	assert.Contains(t, body["message"], "already exists")
}

func TestShmWriteOverflow(t *testing.T) {
	h := newHarness(t)

	req := httptest.NewRequest(http.MethodPost, "/shm/create", strings.NewReader(`{"name":"tiny","size":4}`))
	code, _ := h.do(t, req)
	require.Equal(t, http.StatusOK, code)

	req = httptest.NewRequest(http.MethodPost, "/shm/write/tiny", strings.NewReader("way too long"))
	code, body := h.do(t, req)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, body["message"], "beyond region")
}

func TestShmEndpointsUnknownRegion(t *testing.T) {
	h := newHarness(t)

	for _, tc := range []struct {
		method, path string
	}{
		{http.MethodGet, "/shm/status/ghost"},
		{http.MethodPost, "/shm/write/ghost"},
		{http.MethodPost, "/shm/ready/ghost"},
		{http.MethodPost, "/shm/close/ghost"},
	} {
		req := httptest.NewRequest(tc.method, tc.path, strings.NewReader("x"))
		code, body := h.do(t, req)
		assert.Equal(t, http.StatusNotFound, code, "%s %s", tc.method, tc.path)
		assert.Equal(t, "error", body["status"])
	}
}

func TestShmList(t *testing.T) {
	h := newHarness(t)

	for _, name := range []string{"one", "two"} {
		req := httptest.NewRequest(http.MethodPost, "/shm/create",
			strings.NewReader(`{"name":"`+name+`","size":128}`))
		code, _ := h.do(t, req)
		require.Equal(t, http.StatusOK, code)
	}

	req := httptest.NewRequest(http.MethodGet, "/shm/list", nil)
	code, body := h.do(t, req)

	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(2), body["count"])

	regions, ok := body["regions"].(map[string]any)
	require.True(t, ok)

	one, ok := regions["one"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "SERVER_WRITING", one["state"])
	assert.Equal(t, float64(128), one["buffer_size"])

	meta, ok := one["metadata"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "server", meta["owner"])
	assert.NotEmpty(t, meta["created_at"])
}

func TestHealth(t *testing.T) {
	h := newHarness(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	code, body := h.do(t, req)

	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "healthy", body["status"])
}
