package shm

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/modalgate/modalgate/internal/logger"
)

var (
	// ErrRegionExists is returned by Create when the name is already
	// taken and exist_ok was not requested.
	ErrRegionExists = errors.New("shared memory region already exists")

	// ErrRegionNotFound is returned when a name resolves to no live
	// region, locally or in the OS namespace.
	ErrRegionNotFound = errors.New("shared memory region not found")
)

// Owner records which side of the protocol created a region.
type Owner string

const (
	OwnerServer Owner = "server"
	OwnerClient Owner = "client"
)

// Metadata is the registry's bookkeeping for a region.
type Metadata struct {
	CreatedAt   time.Time `json:"created_at"`
	AccessCount uint64    `json:"access_count"`
	Owner       Owner     `json:"owner"`
}

// RegionInfo is the listing view of one registry entry.
type RegionInfo struct {
	Name     string   `json:"name"`
	Status   string   `json:"state"`
	DataSize uint32   `json:"data_size"`
	Capacity uint32   `json:"buffer_size"`
	DataType string   `json:"data_type"`
	Updated  float64  `json:"timestamp"`
	Metadata Metadata `json:"metadata"`
}

type entry struct {
	region *Region
	meta   Metadata
}

// Registry is the process-wide mapping from region name to live region
// handle and metadata. Structural mutations (insert, remove) are
// serialized by a single mutex; payload I/O on distinct regions is not
// globally serialized because regions are independent.
type Registry struct {
	dir string

	mu      sync.Mutex
	regions map[string]*entry
}

// NewRegistry creates a registry whose regions live as OS objects
// under dir (typically /dev/shm).
func NewRegistry(dir string) *Registry {
	return &Registry{
		dir:     dir,
		regions: make(map[string]*entry),
	}
}

// Dir returns the shm directory backing this registry.
func (g *Registry) Dir() string {
	return g.dir
}

// validName rejects names that would escape the shm directory.
// The OS namespace is flat; cooperative naming is assumed beyond this.
func validName(name string) error {
	if name == "" {
		return fmt.Errorf("region name must not be empty")
	}
	if strings.ContainsAny(name, "/\x00") || name == "." || name == ".." {
		return fmt.Errorf("invalid region name %q", name)
	}
	return nil
}

// Create allocates a new named region of HeaderSize+payloadSize bytes,
// initializes its header, and inserts a registry entry owned by the
// server.
//
// If the name is already known locally: with existOK the old region is
// closed and unlinked first, otherwise Create fails with
// ErrRegionExists. If only the OS namespace collides and existOK is
// set, the existing object is adopted without reinitializing its
// header (a client may already have deposited data in it).
//
// Create either fully succeeds (entry present, header initialized) or
// rolls back to no entry.
func (g *Registry) Create(name string, payloadSize uint32, existOK bool) (*Region, error) {
	if err := validName(name); err != nil {
		return nil, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if old, known := g.regions[name]; known {
		if !existOK {
			return nil, fmt.Errorf("%w: %q", ErrRegionExists, name)
		}
		g.removeLocked(name, old)
	}

	region, err := createRegion(g.dir, name, payloadSize)
	if err != nil {
		if os.IsExist(err) {
			if !existOK {
				return nil, fmt.Errorf("%w: %q", ErrRegionExists, name)
			}
			// Adopt the OS object as-is; the peer owns its header.
			region, err = openRegion(g.dir, name)
			if err != nil {
				return nil, fmt.Errorf("adopt region %q: %w", name, err)
			}
		} else {
			return nil, fmt.Errorf("create region %q: %w", name, err)
		}
	}

	g.regions[name] = &entry{
		region: region,
		meta:   Metadata{CreatedAt: time.Now(), Owner: OwnerServer},
	}
	return region, nil
}

// Open attaches to an existing OS region by name. A registry entry
// with owner=client is created when none existed; repeated opens
// return the already-attached handle and bump its access count.
// Open fails only when the OS object is absent.
func (g *Registry) Open(name string) (*Region, error) {
	if err := validName(name); err != nil {
		return nil, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if e, ok := g.regions[name]; ok {
		e.meta.AccessCount++
		return e.region, nil
	}

	region, err := openRegion(g.dir, name)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %q", ErrRegionNotFound, name)
		}
		return nil, fmt.Errorf("open region %q: %w", name, err)
	}

	g.regions[name] = &entry{
		region: region,
		meta:   Metadata{CreatedAt: time.Now(), Owner: OwnerClient, AccessCount: 1},
	}
	return region, nil
}

// Get returns a known region without touching the OS namespace.
func (g *Registry) Get(name string) (*Region, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	e, ok := g.regions[name]
	if !ok {
		return nil, false
	}
	e.meta.AccessCount++
	return e.region, true
}

// Close detaches the local mapping and unlinks the OS name. Unlink
// failures are logged and otherwise suppressed so that Close stays
// idempotent for callers. Closing an unknown name that has no backing
// OS object returns ErrRegionNotFound.
func (g *Registry) Close(name string) error {
	if err := validName(name); err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if e, ok := g.regions[name]; ok {
		g.removeLocked(name, e)
		return nil
	}

	// Not tracked locally; the object may still exist in the OS
	// namespace from a previous process.
	path := filepath.Join(g.dir, name)
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("%w: %q", ErrRegionNotFound, name)
	}
	if err := os.Remove(path); err != nil {
		logger.Warn("failed to unlink shared memory region", "shm_name", name, "error", err)
	}
	return nil
}

// removeLocked detaches and unlinks a tracked region. Caller holds g.mu.
func (g *Registry) removeLocked(name string, e *entry) {
	if err := e.region.close(); err != nil {
		logger.Warn("failed to detach shared memory region", "shm_name", name, "error", err)
	}
	if err := os.Remove(e.region.path); err != nil && !os.IsNotExist(err) {
		logger.Warn("failed to unlink shared memory region", "shm_name", name, "error", err)
	}
	delete(g.regions, name)
}

// List returns a snapshot of all tracked regions, sorted by name.
func (g *Registry) List() []RegionInfo {
	g.mu.Lock()
	defer g.mu.Unlock()

	infos := make([]RegionInfo, 0, len(g.regions))
	for name, e := range g.regions {
		hdr := e.region.Header()
		infos = append(infos, RegionInfo{
			Name:     name,
			Status:   hdr.Status.String(),
			DataSize: hdr.DataSize,
			Capacity: hdr.BufferSize,
			DataType: hdr.DataType.String(),
			Updated:  hdr.Timestamp,
			Metadata: e.meta,
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// CloseAll detaches and unlinks every tracked region. Called on server
// shutdown; regions are not durable across restarts.
func (g *Registry) CloseAll() {
	g.mu.Lock()
	defer g.mu.Unlock()

	for name, e := range g.regions {
		g.removeLocked(name, e)
	}
}
