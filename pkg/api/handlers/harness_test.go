package handlers_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/modalgate/modalgate/internal/bytesize"
	"github.com/modalgate/modalgate/pkg/api"
	"github.com/modalgate/modalgate/pkg/api/handlers"
	"github.com/modalgate/modalgate/pkg/config"
	"github.com/modalgate/modalgate/pkg/ingest"
	"github.com/modalgate/modalgate/pkg/shm"
)

// harness wires a full router over temp directories, the way the
// start command assembles the server.
type harness struct {
	router    http.Handler
	uploadDir string
	regions   *shm.Registry
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	uploadDir := t.TempDir()
	regions := shm.NewRegistry(t.TempDir())
	t.Cleanup(regions.CloseAll)

	handlerRegistry := ingest.NewRegistry(uploadDir)
	sessions := ingest.NewSessionStore()

	dispatch := func(kind string, data []byte, meta map[string]string) (map[string]any, error) {
		result, err := handlerRegistry.Dispatch(kind, data, ingest.Metadata{
			Kind:   kind,
			Mode:   "shm",
			Params: meta,
		})
		return map[string]any(result), err
	}

	exchange := shm.NewExchange(regions, dispatch, nil, shm.ExchangeConfig{
		ReadTimeout:     300 * time.Millisecond,
		ExchangeTimeout: 300 * time.Millisecond,
		PollInterval:    time.Millisecond,
	})

	uploadCfg := config.UploadConfig{
		Directory:        uploadDir,
		MaxContentLength: 16 * bytesize.GiB,
		StreamThreshold:  10 * bytesize.MiB,
		IOChunkSize:      8 * bytesize.KiB,
	}

	upload := handlers.NewUploadHandler(uploadCfg, handlerRegistry, sessions, exchange, nil)
	shmHandler := handlers.NewShmHandler(regions, 1024*1024)

	return &harness{
		router:    api.NewRouter(upload, shmHandler),
		uploadDir: uploadDir,
		regions:   regions,
	}
}

// do runs one request through the router and decodes the JSON body.
func (h *harness) do(t *testing.T, req *http.Request) (int, map[string]any) {
	t.Helper()

	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body),
		"response body is not JSON: %s", rec.Body.String())
	return rec.Code, body
}
