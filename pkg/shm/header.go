// Package shm implements the shared-memory exchange subsystem: named,
// header-framed regions backed by POSIX shared memory, a polled status
// protocol that sequences producer and consumer, and the orchestration
// of the high-level read/write/bidirectional exchanges.
//
// Region Format:
// Every region starts with a fixed 64-byte control header, followed by
// the payload area:
//
//	Header (64 bytes, little-endian):
//	  - Magic: 0x53484D45 (4 bytes)
//	  - Version: uint32 (4 bytes)
//	  - Status: uint32 (4 bytes)
//	  - Data size: uint32 (4 bytes) - bytes of valid payload
//	  - Buffer size: uint32 (4 bytes) - payload capacity, excludes header
//	  - Data type: uint32 (4 bytes) - 0=binary, 1=text, 2=image, 3=json
//	  - Checksum: uint32 (4 bytes) - reserved, written as 0
//	  - Timestamp: float64 (8 bytes) - seconds since epoch of last header write
//	  - Flags: uint64 (8 bytes) - reserved
//	  - Padding: zero fill to 64 bytes
//
// A header is valid iff magic and version both match.
package shm

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

const (
	// Magic identifies a region header ("SHME" little-endian).
	Magic = uint32(0x53484D45)

	// FormatVersion is the current header format version.
	FormatVersion = uint32(1)

	// HeaderSize is the fixed size of the control header in bytes.
	HeaderSize = 64
)

// DataType declares the kind of payload stored in a region.
type DataType uint32

const (
	DataBinary DataType = 0
	DataText   DataType = 1
	DataImage  DataType = 2
	DataJSON   DataType = 3
)

// String returns the handler-registry kind for the data type.
// Unknown codes map to "binary", matching the dispatch fallback.
func (d DataType) String() string {
	switch d {
	case DataText:
		return "text"
	case DataImage:
		return "image"
	case DataJSON:
		return "json"
	default:
		return "binary"
	}
}

// ParseDataType maps a declared kind to its wire code.
// Unknown kinds map to DataBinary.
func ParseDataType(kind string) DataType {
	switch kind {
	case "text":
		return DataText
	case "image":
		return DataImage
	case "json":
		return DataJSON
	default:
		return DataBinary
	}
}

// Header is the decoded form of a region's 64-byte control frame.
type Header struct {
	Magic      uint32
	Version    uint32
	Status     Status
	DataSize   uint32
	BufferSize uint32
	DataType   DataType
	Checksum   uint32
	Timestamp  float64
	Flags      uint64
}

// NewHeader returns an initialized header for a freshly created region.
func NewHeader(bufferSize uint32) Header {
	return Header{
		Magic:      Magic,
		Version:    FormatVersion,
		Status:     StatusIdle,
		BufferSize: bufferSize,
		Timestamp:  now(),
	}
}

// Valid reports whether the header carries the expected magic and version.
func (h *Header) Valid() bool {
	return h.Magic == Magic && h.Version == FormatVersion
}

// Touch refreshes the header timestamp to the current time.
func (h *Header) Touch() {
	h.Timestamp = now()
}

// Pack encodes the header into a 64-byte little-endian frame.
// Pack performs no validation; it is a pure encoding step.
func (h *Header) Pack() []byte {
	frame := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint32(frame[0:4], h.Magic)
	binary.LittleEndian.PutUint32(frame[4:8], h.Version)
	binary.LittleEndian.PutUint32(frame[8:12], uint32(h.Status))
	binary.LittleEndian.PutUint32(frame[12:16], h.DataSize)
	binary.LittleEndian.PutUint32(frame[16:20], h.BufferSize)
	binary.LittleEndian.PutUint32(frame[20:24], uint32(h.DataType))
	binary.LittleEndian.PutUint32(frame[24:28], h.Checksum)
	binary.LittleEndian.PutUint64(frame[28:36], math.Float64bits(h.Timestamp))
	binary.LittleEndian.PutUint64(frame[36:44], h.Flags)
	return frame
}

// UnpackHeader decodes a header from the first 64 bytes of frame.
// It fails only when the frame is too short; callers check Valid().
func UnpackHeader(frame []byte) (Header, error) {
	if len(frame) < HeaderSize {
		return Header{}, fmt.Errorf("header frame too short: %d bytes, need %d", len(frame), HeaderSize)
	}
	return Header{
		Magic:      binary.LittleEndian.Uint32(frame[0:4]),
		Version:    binary.LittleEndian.Uint32(frame[4:8]),
		Status:     Status(binary.LittleEndian.Uint32(frame[8:12])),
		DataSize:   binary.LittleEndian.Uint32(frame[12:16]),
		BufferSize: binary.LittleEndian.Uint32(frame[16:20]),
		DataType:   DataType(binary.LittleEndian.Uint32(frame[20:24])),
		Checksum:   binary.LittleEndian.Uint32(frame[24:28]),
		Timestamp:  math.Float64frombits(binary.LittleEndian.Uint64(frame[28:36])),
		Flags:      binary.LittleEndian.Uint64(frame[36:44]),
	}, nil
}

// now returns the current time as float seconds since the epoch,
// the representation clients write into the header.
func now() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Second)
}
