// Package ingest implements the payload handler registry and the
// chunked-upload session store. Handlers are opaque analyzers: they
// turn bytes plus request metadata into a structured result, selected
// by the declared payload kind.
package ingest

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sort"
	"unicode/utf8"

	// Register the stdlib decoders the image analyzer can sniff.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/google/uuid"

	"github.com/modalgate/modalgate/internal/logger"
)

// Result is the structured outcome of one handler invocation. The
// router augments it with transport-level keys (upload_mode, ...)
// before it becomes the HTTP response body.
type Result map[string]any

// Metadata carries request context into a handler.
type Metadata struct {
	Kind        string // declared payload kind (?type=)
	Mode        string // normal, chunked, stream, shm
	Filename    string // X-Filename, when present
	ContentType string // request Content-Type
	UploadID    string // X-Upload-ID, chunked path only

	// Params holds the remaining query parameters verbatim.
	Params map[string]string
}

// Handler transforms (bytes, metadata) into a structured result.
type Handler func(data []byte, meta Metadata) (Result, error)

// Registry is the closed dispatch table from payload kind to handler.
// The kind set {text, image, binary, json, file, shm} is fixed; the
// shm kind is routed to the exchange orchestrator before dispatch and
// rejects direct invocation.
type Registry struct {
	uploadDir string
	handlers  map[string]Handler
}

// NewRegistry builds the registry with the built-in analyzers.
// uploadDir is where the file handler lands its payloads; it is
// created on first use.
func NewRegistry(uploadDir string) *Registry {
	r := &Registry{uploadDir: uploadDir}
	r.handlers = map[string]Handler{
		"text":   handleText,
		"json":   handleJSON,
		"image":  handleImage,
		"binary": handleBinary,
		"file":   r.handleFile,
		"shm":    handleShmDirect,
	}
	return r
}

// Kinds returns the supported payload kinds, sorted.
func (r *Registry) Kinds() []string {
	kinds := make([]string, 0, len(r.handlers))
	for k := range r.handlers {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// Dispatch invokes the handler registered for kind. Unknown kinds
// return an error naming the supported set.
func (r *Registry) Dispatch(kind string, data []byte, meta Metadata) (Result, error) {
	h, ok := r.handlers[kind]
	if !ok {
		return nil, fmt.Errorf("unknown payload type %q (supported: %v)", kind, r.Kinds())
	}
	return h(data, meta)
}

func handleText(data []byte, meta Metadata) (Result, error) {
	res := Result{
		"status": "success",
		"type":   "text",
		"size":   len(data),
	}
	if utf8.Valid(data) {
		res["encoding"] = "utf-8"
		if len(data) <= 256 {
			res["preview"] = string(data)
		}
	}
	return res, nil
}

func handleJSON(data []byte, meta Metadata) (Result, error) {
	var parsed any
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("invalid JSON payload: %w", err)
	}

	res := Result{
		"status": "success",
		"type":   "json",
		"size":   len(data),
	}
	switch v := parsed.(type) {
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		res["keys"] = keys
	case []any:
		res["length"] = len(v)
	}
	return res, nil
}

func handleImage(data []byte, meta Metadata) (Result, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	return Result{
		"status": "success",
		"type":   "image",
		"size":   len(data),
		"width":  cfg.Width,
		"height": cfg.Height,
		"format": format,
	}, nil
}

func handleBinary(data []byte, meta Metadata) (Result, error) {
	sum := md5.Sum(data)
	return Result{
		"status": "success",
		"type":   "binary",
		"size":   len(data),
		"md5":    hex.EncodeToString(sum[:]),
	}, nil
}

// handleFile persists the payload under the upload directory. The
// filename comes from X-Filename; a missing name gets a generated one.
// Only the base name is honored so a client cannot escape the
// directory.
func (r *Registry) handleFile(data []byte, meta Metadata) (Result, error) {
	name := filepath.Base(meta.Filename)
	if name == "" || name == "." || name == string(os.PathSeparator) {
		name = "upload-" + uuid.NewString()
	}

	if err := os.MkdirAll(r.uploadDir, 0755); err != nil {
		return nil, fmt.Errorf("create upload directory: %w", err)
	}

	path := filepath.Join(r.uploadDir, name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return nil, fmt.Errorf("write %q: %w", path, err)
	}

	logger.Info("file payload stored", logger.KeyFilename, name, logger.KeySize, len(data))

	return Result{
		"status":   "success",
		"type":     "file",
		"size":     len(data),
		"filename": name,
		"path":     path,
	}, nil
}

func handleShmDirect(data []byte, meta Metadata) (Result, error) {
	return nil, fmt.Errorf("shm payloads require a shared-memory exchange (set shm_name and operation)")
}
