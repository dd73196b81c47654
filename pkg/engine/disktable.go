package engine

import (
	"fmt"
	"sync"

	"github.com/elee1766/gorebal/pkg/array"
)

// DiskTable is the engine's in-memory view of disk usage. It is the only
// shared mutable state besides the journal; a single mutex guards it and it
// is mutated only when a move completes.
type DiskTable struct {
	mu    sync.Mutex
	disks map[string]*array.Disk
}

// NewDiskTable copies the discovery snapshot into a table the engine owns.
func NewDiskTable(disks []*array.Disk) *DiskTable {
	t := &DiskTable{disks: make(map[string]*array.Disk, len(disks))}
	for _, d := range disks {
		c := *d
		t.disks[d.Name] = &c
	}
	return t
}

// Get returns a copy of one disk's current accounting.
func (t *DiskTable) Get(name string) (array.Disk, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	d, ok := t.disks[name]
	if !ok {
		return array.Disk{}, false
	}
	return *d, true
}

// FreeBytes returns the tracked free bytes on a disk.
func (t *DiskTable) FreeBytes(name string) (int64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	d, ok := t.disks[name]
	if !ok {
		return 0, fmt.Errorf("unknown disk %s", name)
	}
	return d.FreeBytes, nil
}

// Apply records a completed move of size bytes from src to dest.
func (t *DiskTable) Apply(src, dest string, size int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.disks[src]
	if !ok {
		return fmt.Errorf("unknown disk %s", src)
	}
	d, ok := t.disks[dest]
	if !ok {
		return fmt.Errorf("unknown disk %s", dest)
	}
	s.UsedBytes -= size
	s.FreeBytes += size
	d.UsedBytes += size
	d.FreeBytes -= size
	return nil
}

// Snapshot returns a copy of every disk, sorted by name on the caller's
// side if needed.
func (t *DiskTable) Snapshot() []array.Disk {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]array.Disk, 0, len(t.disks))
	for _, d := range t.disks {
		out = append(out, *d)
	}
	return out
}

// Len returns the number of tracked disks.
func (t *DiskTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.disks)
}
