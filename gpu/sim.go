package gpu

import "sync"

// SimDevice is an in-memory Device for tests and development machines
// without an accelerator. Alloc and Free move the allocation counter;
// ReleaseCache drops the reservation down to what is allocated.
type SimDevice struct {
	mu        sync.Mutex
	total     uint64
	allocated uint64
	reserved  uint64
	releases  int
	syncs     int
}

// NewSimDevice creates a simulated device with the given total memory.
func NewSimDevice(total uint64) *SimDevice {
	return &SimDevice{total: total}
}

// Alloc simulates allocating n bytes on the device.
func (d *SimDevice) Alloc(n uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.allocated += n
	if d.allocated > d.reserved {
		d.reserved = d.allocated
	}
}

// Free simulates freeing n bytes. The reservation is kept, mirroring a
// caching allocator.
func (d *SimDevice) Free(n uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if n > d.allocated {
		n = d.allocated
	}
	d.allocated -= n
}

// Releases returns how many times ReleaseCache has been called.
func (d *SimDevice) Releases() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.releases
}

// Available always reports true.
func (d *SimDevice) Available() bool { return true }

// MemoryAllocated returns the simulated allocation counter.
func (d *SimDevice) MemoryAllocated() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.allocated
}

// MemoryReserved returns the simulated reservation counter.
func (d *SimDevice) MemoryReserved() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.reserved
}

// MemoryTotal returns the simulated device capacity.
func (d *SimDevice) MemoryTotal() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.total
}

// ReleaseCache drops the reservation to the allocated amount.
func (d *SimDevice) ReleaseCache() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reserved = d.allocated
	d.releases++
}

// Synchronize is a no-op for the simulated device.
func (d *SimDevice) Synchronize() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.syncs++
}
