package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/modalgate/modalgate/internal/logger"
	"github.com/modalgate/modalgate/pkg/api/handlers"
)

// NewRouter wires the chi router with the middleware stack and all
// ingestion and shared-memory routes.
//
// Routes:
//   - GET  /health              - liveness probe
//   - POST /upload              - normal / chunked / shm-routed uploads
//   - POST /upload/stream       - disk-spooled streaming upload
//   - GET  /status/{upload_id}  - chunked upload progress
//   - POST /shm/create          - allocate a region for server->client transfer
//   - GET  /shm/status/{name}   - region header snapshot
//   - POST /shm/write/{name}    - deposit bytes into a region
//   - POST /shm/ready/{name}    - mark a region READY
//   - POST /shm/close/{name}    - detach and unlink a region
//   - GET  /shm/list            - all tracked regions
func NewRouter(upload *handlers.UploadHandler, shm *handlers.ShmHandler) http.Handler {
	r := chi.NewRouter()

	// Middleware stack - order matters. No request timeout here:
	// multi-gigabyte upload bodies outlive any sane deadline.
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", handlers.Health)

	r.Post("/upload", upload.Upload)
	r.Post("/upload/stream", upload.UploadStream)
	r.Get("/status/{upload_id}", upload.Status)

	r.Route("/shm", func(r chi.Router) {
		r.Post("/create", shm.Create)
		r.Get("/status/{name}", shm.RegionStatus)
		r.Post("/write/{name}", shm.Write)
		r.Post("/ready/{name}", shm.Ready)
		r.Post("/close/{name}", shm.Close)
		r.Get("/list", shm.List)
	})

	return r
}

// requestLogger logs one line per request through the structured logger.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		logger.Debug("http request",
			logger.KeyMethod, r.Method,
			logger.KeyPath, r.URL.Path,
			logger.KeyStatus, ww.Status(),
			logger.KeyClientIP, r.RemoteAddr,
			logger.KeyRequestID, middleware.GetReqID(r.Context()),
			logger.KeyDurationMs, logger.Duration(start),
		)
	})
}
