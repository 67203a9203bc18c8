package shm

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/modalgate/modalgate/internal/logger"
)

// DispatchFunc routes a payload snapshot to a type-specific handler.
// The kind is the handler-registry key derived from the region header
// ("binary", "text", "image", "json"). The returned map becomes the
// body of the HTTP response after the orchestrator augments it.
type DispatchFunc func(kind string, data []byte, meta map[string]string) (map[string]any, error)

// TransformFunc computes the response payload of a bidirectional
// exchange from the client's input. The orchestrator treats it as an
// opaque transform.
type TransformFunc func(data []byte, hdr Header) ([]byte, error)

// ExchangeConfig carries the orchestrator's tunables.
type ExchangeConfig struct {
	// ReadTimeout bounds the wait for CLIENT_WRITING on the read path.
	ReadTimeout time.Duration

	// ExchangeTimeout bounds the wait for CLIENT_WRITING on the
	// bidirectional path.
	ExchangeTimeout time.Duration

	// PollInterval is the status poll period.
	PollInterval time.Duration

	// DefaultRegionSize is used by the write path when neither the
	// request metadata nor the payload determines a size.
	DefaultRegionSize uint32
}

func (c *ExchangeConfig) applyDefaults() {
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 5 * time.Second
	}
	if c.ExchangeTimeout == 0 {
		c.ExchangeTimeout = 10 * time.Second
	}
	if c.PollInterval == 0 {
		c.PollInterval = time.Millisecond
	}
	if c.DefaultRegionSize == 0 {
		c.DefaultRegionSize = 1024 * 1024
	}
}

// Exchange composes the registry and the status protocol into the
// three high-level IPC operations: read-from-client, write-to-client,
// and bidirectional request/response. Handler dispatch is injected so
// the orchestrator stays independent of payload semantics.
type Exchange struct {
	registry  *Registry
	dispatch  DispatchFunc
	transform TransformFunc
	config    ExchangeConfig
}

// NewExchange creates an orchestrator over the given registry.
// A nil transform installs the default JSON input summary.
func NewExchange(registry *Registry, dispatch DispatchFunc, transform TransformFunc, config ExchangeConfig) *Exchange {
	config.applyDefaults()
	if transform == nil {
		transform = summaryTransform
	}
	return &Exchange{
		registry:  registry,
		dispatch:  dispatch,
		transform: transform,
		config:    config,
	}
}

// Operation names accepted by Run.
const (
	OpRead          = "read"
	OpWrite         = "write"
	OpBidirectional = "bidirectional"
)

// Run executes the named operation. data carries optional inbound
// bytes (write path only); meta is the request metadata forwarded to
// handlers.
func (e *Exchange) Run(op, name string, data []byte, meta map[string]string) (map[string]any, error) {
	switch op {
	case OpRead:
		return e.Read(name, meta)
	case OpWrite:
		return e.Write(name, data, meta)
	case OpBidirectional:
		return e.Bidirectional(name, meta)
	default:
		return nil, fmt.Errorf("unknown shm operation %q (supported: read, write, bidirectional)", op)
	}
}

// Read consumes a client-deposited payload: wait for CLIENT_WRITING,
// snapshot header and payload under SERVER_READING, dispatch to the
// handler selected by the header's data type, then return the region
// to IDLE. Timeout leaves the region in its last observed state so a
// slow client may still complete.
func (e *Exchange) Read(name string, meta map[string]string) (map[string]any, error) {
	region, err := e.registry.Open(name)
	if err != nil {
		return nil, err
	}

	if !region.WaitForStatus(StatusClientWriting, e.config.ReadTimeout, e.config.PollInterval) {
		return nil, fmt.Errorf("timeout waiting for client data in region %q (state %s)",
			name, region.Status())
	}

	region.SetStatus(StatusServerReading)

	hdr := region.Header()
	if !hdr.Valid() {
		region.SetStatus(StatusError)
		return nil, fmt.Errorf("region %q has invalid header", name)
	}

	data, err := region.ReadData(0, hdr.DataSize)
	if err != nil {
		region.SetStatus(StatusError)
		return nil, fmt.Errorf("read region %q: %w", name, err)
	}

	kind := hdr.DataType.String()
	result, err := e.dispatch(kind, data, meta)
	if err != nil {
		region.SetStatus(StatusError)
		return nil, fmt.Errorf("handle %s payload from region %q: %w", kind, name, err)
	}

	result["shm_operation"] = "read"
	result["shm_name"] = name
	result["data_type"] = kind

	region.SetStatus(StatusIdle)
	return result, nil
}

// Write deposits bytes for the client: create a region, write the
// payload, mark it READY. The size comes from meta["size"], then the
// payload length, then the configured default. Write never waits for
// the peer.
func (e *Exchange) Write(name string, data []byte, meta map[string]string) (map[string]any, error) {
	size := e.config.DefaultRegionSize
	if s, ok := meta["size"]; ok && s != "" {
		n, err := strconv.ParseUint(s, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid size %q: %w", s, err)
		}
		size = uint32(n)
	} else if len(data) > 0 {
		size = uint32(len(data))
	}

	region, err := e.registry.Create(name, size, true)
	if err != nil {
		return nil, err
	}

	if len(data) > 0 {
		if err := region.WriteData(0, data); err != nil {
			e.poison(region)
			return nil, fmt.Errorf("write region %q: %w", name, err)
		}
	}

	region.SetStatus(StatusReady)

	return map[string]any{
		"status":        "success",
		"shm_operation": "write",
		"shm_name":      name,
		"size":          size,
	}, nil
}

// Bidirectional runs a full request/response exchange: consume the
// client's payload, compute a response, and deposit it either in place
// (when it fits the buffer) or in a freshly created companion region
// named "{name}_result" sized at twice the response. Relocation
// poisons the input region to ERROR to signal the move; the HTTP
// result carries output_shm so clients can tell relocation from
// failure. Any failure after the wait poisons the input region; a wait
// timeout leaves it in its last observed state.
func (e *Exchange) Bidirectional(name string, meta map[string]string) (map[string]any, error) {
	region, err := e.registry.Open(name)
	if err != nil {
		return nil, err
	}

	if !region.WaitForStatus(StatusClientWriting, e.config.ExchangeTimeout, e.config.PollInterval) {
		return nil, fmt.Errorf("timeout waiting for client data in region %q (state %s)",
			name, region.Status())
	}

	region.SetStatus(StatusServerReading)

	hdr := region.Header()
	if !hdr.Valid() {
		region.SetStatus(StatusError)
		return nil, fmt.Errorf("region %q has invalid header", name)
	}

	input, err := region.ReadData(0, hdr.DataSize)
	if err != nil {
		region.SetStatus(StatusError)
		return nil, fmt.Errorf("read region %q: %w", name, err)
	}

	region.SetStatus(StatusProcessing)

	response, err := e.transform(input, hdr)
	if err != nil {
		region.SetStatus(StatusError)
		return nil, fmt.Errorf("transform payload from region %q: %w", name, err)
	}

	result := map[string]any{
		"status":        "success",
		"shm_operation": "bidirectional",
		"shm_name":      name,
		"input_size":    len(input),
		"output_size":   len(response),
	}

	if uint64(len(response)) <= uint64(hdr.BufferSize) {
		if err := region.WriteData(0, response); err != nil {
			region.SetStatus(StatusError)
			return nil, fmt.Errorf("write response to region %q: %w", name, err)
		}
		region.SetDataSize(uint32(len(response)))
		region.SetStatus(StatusReady)
		return result, nil
	}

	// Response outgrew the client's buffer: relocate into a companion
	// region and poison the input to signal the move.
	outName := name + "_result"
	out, err := e.registry.Create(outName, uint32(2*len(response)), true)
	if err != nil {
		region.SetStatus(StatusError)
		return nil, fmt.Errorf("create result region %q: %w", outName, err)
	}
	if err := out.WriteData(0, response); err != nil {
		e.poison(out)
		region.SetStatus(StatusError)
		return nil, fmt.Errorf("write result region %q: %w", outName, err)
	}
	out.SetStatus(StatusReady)
	region.SetStatus(StatusError)

	logger.Info("bidirectional response relocated",
		"shm_name", name, "output_shm", outName, "output_size", len(response))

	result["output_shm"] = outName
	return result, nil
}

func (e *Exchange) poison(r *Region) {
	r.SetStatus(StatusError)
}

// summaryTransform is the default bidirectional transform: a JSON
// summary of the client's input.
func summaryTransform(data []byte, hdr Header) ([]byte, error) {
	sum := md5.Sum(data)
	return json.Marshal(map[string]any{
		"status":       "processed",
		"input_size":   len(data),
		"input_md5":    hex.EncodeToString(sum[:]),
		"data_type":    hdr.DataType.String(),
		"processed_at": now(),
	})
}
