// Package shm implements nvmeqd's shared-memory region manager (spec
// §4.1): named regions backed by /dev/shm, reserved by a primary process
// and looked up by secondary processes. Generalizes a per-queue-pair,
// process-private mmap'd region scheme into named, cross-process regions.
package shm

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/nvmeqd/nvmeqd/internal/logging"
)

// Role identifies whether this process may create/destroy regions.
type Role int

const (
	// RolePrimary may Reserve and Free regions.
	RolePrimary Role = iota
	// RoleSecondary may only Lookup regions created by a primary.
	RoleSecondary
)

// Flag modifies Reserve behavior.
type Flag uint32

const (
	// FlagIOVANonContig requests a region that need not be physically
	// contiguous / IOVA-mapped. Accepted and stored but otherwise a
	// no-op: the oracle and cmdlog tables are host-side only (spec §4.1).
	FlagIOVANonContig Flag = 1 << 0
)

// Region is a named mmap'd shared-memory handle.
type Region struct {
	Name  string
	Bytes []byte
	flags Flag
	path  string
}

// Manager reserves, looks up and frees named shared-memory regions for
// one process. Prefix namespaces the backing files under /dev/shm so
// multiple driver instances on one host don't collide.
type Manager struct {
	prefix string
	role   Role
	logger *logging.Logger

	mu      sync.Mutex
	regions map[string]*Region
}

// New creates a region manager for the given role. prefix is used to
// namespace backing files under /dev/shm (e.g. "nvmeqd" -> /dev/shm/nvmeqd.<name>).
func New(role Role, prefix string, logger *logging.Logger) *Manager {
	if logger == nil {
		logger = logging.Default()
	}
	return &Manager{
		prefix:  prefix,
		role:    role,
		logger:  logger,
		regions: make(map[string]*Region),
	}
}

func (m *Manager) backingPath(name string) string {
	return filepath.Join("/dev/shm", fmt.Sprintf("%s.%s", m.prefix, name))
}

// Reserve creates (or truncates) a named region of size bytes. Only a
// primary may call this; a secondary always gets an error.
func (m *Manager) Reserve(name string, size int, flags Flag) (*Region, error) {
	if m.role != RolePrimary {
		return nil, fmt.Errorf("shm: reserve %q: not primary", name)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if r, ok := m.regions[name]; ok {
		return r, nil
	}

	path := m.backingPath(name)
	fd, err := unix.Open(path, unix.O_CREAT|unix.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("shm: open %s: %w", path, err)
	}
	defer unix.Close(fd)

	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		return nil, fmt.Errorf("shm: ftruncate %s to %d: %w", path, size, err)
	}

	data, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("shm: mmap %s: %w", path, err)
	}

	r := &Region{Name: name, Bytes: data, flags: flags, path: path}
	m.regions[name] = r
	m.logger.Debugf("shm: reserved region %q size=%d path=%s", name, size, path)
	return r, nil
}

// Lookup attaches to a region created by the primary. A secondary's
// failure to find a required region is fatal to that process (the
// caller decides that, per spec §4.1); this just returns the error.
func (m *Manager) Lookup(name string) (*Region, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if r, ok := m.regions[name]; ok {
		return r, nil
	}

	path := m.backingPath(name)
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("shm: lookup %q: %w", name, err)
	}

	fd, err := unix.Open(path, unix.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("shm: open %s: %w", path, err)
	}
	defer unix.Close(fd)

	size := int(info.Size())
	data, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("shm: mmap %s: %w", path, err)
	}

	r := &Region{Name: name, Bytes: data, path: path}
	m.regions[name] = r
	m.logger.Debugf("shm: attached region %q size=%d path=%s", name, size, path)
	return r, nil
}

// Free unmaps and unlinks a region. Only a primary may call this.
func (m *Manager) Free(name string) error {
	if m.role != RolePrimary {
		return fmt.Errorf("shm: free %q: not primary", name)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.regions[name]
	if !ok {
		return nil
	}
	delete(m.regions, name)

	if err := unix.Munmap(r.Bytes); err != nil {
		return fmt.Errorf("shm: munmap %q: %w", name, err)
	}
	if err := unix.Unlink(r.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("shm: unlink %q: %w", name, err)
	}
	return nil
}

// Detach unmaps a region this process only looked up, without removing
// the backing file (used by secondaries on shutdown).
func (m *Manager) Detach(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.regions[name]
	if !ok {
		return nil
	}
	delete(m.regions, name)
	return unix.Munmap(r.Bytes)
}
