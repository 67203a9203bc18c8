package shm

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// Region is a named, host-local shared byte buffer with a 64-byte
// control header prepended. The backing object is a file in the shm
// directory (/dev/shm on Linux), memory-mapped read/write so that both
// processes observe each other's writes without copying.
//
// The mutex serializes header read-modify-write cycles within this
// process. Cross-process coordination happens exclusively through the
// status protocol; the region does not attempt cross-process locking.
type Region struct {
	name string
	path string
	file *os.File

	mu   sync.Mutex
	data []byte // full mapping: header + payload
}

// createRegion allocates a new OS-named region of HeaderSize+payloadSize
// bytes and initializes its header. The name must be unused in the OS
// namespace; a collision surfaces as os.ErrExist.
func createRegion(dir, name string, payloadSize uint32) (*Region, error) {
	path := filepath.Join(dir, name)

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return nil, err
	}

	total := int(HeaderSize + payloadSize)
	if err := f.Truncate(int64(total)); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return nil, fmt.Errorf("truncate region %q: %w", name, err)
	}

	data, err := unix.Mmap(int(f.Fd()), 0, total, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return nil, fmt.Errorf("mmap region %q: %w", name, err)
	}

	r := &Region{name: name, path: path, file: f, data: data}

	hdr := NewHeader(payloadSize)
	copy(r.data[:HeaderSize], hdr.Pack())

	return r, nil
}

// openRegion attaches to an existing OS region by name. It fails only
// when the OS object is absent or too small to carry a header.
func openRegion(dir, name string) (*Region, error) {
	path := filepath.Join(dir, name)

	f, err := os.OpenFile(path, os.O_RDWR, 0600)
	if err != nil {
		return nil, err
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("stat region %q: %w", name, err)
	}
	if info.Size() < HeaderSize {
		_ = f.Close()
		return nil, fmt.Errorf("region %q too small for header: %d bytes", name, info.Size())
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(info.Size()), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("mmap region %q: %w", name, err)
	}

	return &Region{name: name, path: path, file: f, data: data}, nil
}

// Name returns the region's OS name.
func (r *Region) Name() string {
	return r.name
}

// Header returns a snapshot of the region's control header.
func (r *Region) Header() Header {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.headerLocked()
}

func (r *Region) headerLocked() Header {
	hdr, _ := UnpackHeader(r.data[:HeaderSize])
	return hdr
}

func (r *Region) writeHeaderLocked(hdr Header) {
	copy(r.data[:HeaderSize], hdr.Pack())
}

// BufferSize returns the payload capacity in bytes.
func (r *Region) BufferSize() uint32 {
	return r.Header().BufferSize
}

// TotalSize returns the full mapped size, header included.
func (r *Region) TotalSize() int {
	return len(r.data)
}

// SetStatus writes a new status into the header and refreshes the
// timestamp. Status changes are how each side signals the other.
func (r *Region) SetStatus(s Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	hdr := r.headerLocked()
	hdr.Status = s
	hdr.Touch()
	r.writeHeaderLocked(hdr)
}

// SetDataType records the declared payload kind in the header.
func (r *Region) SetDataType(dt DataType) {
	r.mu.Lock()
	defer r.mu.Unlock()
	hdr := r.headerLocked()
	hdr.DataType = dt
	hdr.Touch()
	r.writeHeaderLocked(hdr)
}

// SetDataSize sets the valid-payload length to an exact value, unlike
// WriteData which only ever grows it. Used when a response overwrites
// a longer previous payload.
func (r *Region) SetDataSize(n uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	hdr := r.headerLocked()
	hdr.DataSize = n
	hdr.Touch()
	r.writeHeaderLocked(hdr)
}

// Status returns the current status without taking the region mutex.
// The read races with the peer process; that is inherent to the
// polled protocol.
func (r *Region) Status() Status {
	hdr, _ := UnpackHeader(r.data[:HeaderSize])
	return hdr.Status
}

// WaitForStatus polls the header until the target status is observed
// or the timeout expires. It returns true on first observation of the
// target. The poll interval keeps latency low without a kernel
// primitive shared with the untrusted peer.
func (r *Region) WaitForStatus(target Status, timeout, poll time.Duration) bool {
	if poll <= 0 {
		poll = time.Millisecond
	}
	deadline := time.Now().Add(timeout)
	for {
		if r.Status() == target {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(poll)
	}
}

// ReadData copies size bytes of payload starting at offset.
func (r *Region) ReadData(offset, size uint32) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	hdr := r.headerLocked()
	if uint64(offset)+uint64(size) > uint64(hdr.BufferSize) {
		return nil, fmt.Errorf("read beyond region %q: offset %d + size %d > buffer %d",
			r.name, offset, size, hdr.BufferSize)
	}

	out := make([]byte, size)
	copy(out, r.data[HeaderSize+offset:HeaderSize+offset+size])
	return out, nil
}

// WriteData copies p into the payload area at offset, grows data_size
// to cover the written range, and refreshes the timestamp. Writes that
// would extend beyond the buffer capacity are refused and leave both
// the payload and the header unchanged.
func (r *Region) WriteData(offset uint32, p []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	hdr := r.headerLocked()
	end := uint64(offset) + uint64(len(p))
	if end > uint64(hdr.BufferSize) {
		return fmt.Errorf("write beyond region %q: offset %d + %d bytes > buffer %d",
			r.name, offset, len(p), hdr.BufferSize)
	}

	copy(r.data[HeaderSize+offset:], p)

	if uint32(end) > hdr.DataSize {
		hdr.DataSize = uint32(end)
	}
	hdr.Touch()
	r.writeHeaderLocked(hdr)
	return nil
}

// Sync flushes dirty pages to the backing object asynchronously.
func (r *Region) Sync() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.data == nil {
		return nil
	}
	if err := unix.Msync(r.data, unix.MS_ASYNC); err != nil {
		return fmt.Errorf("msync region %q: %w", r.name, err)
	}
	return nil
}

// close detaches the local mapping. The OS name is unlinked separately
// by the registry so that adopt-on-collision can skip it.
func (r *Region) close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.data != nil {
		_ = unix.Msync(r.data, unix.MS_SYNC)
		if err := unix.Munmap(r.data); err != nil {
			return fmt.Errorf("munmap region %q: %w", r.name, err)
		}
		r.data = nil
	}
	if r.file != nil {
		_ = r.file.Close()
		r.file = nil
	}
	return nil
}
