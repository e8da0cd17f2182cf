package memory

import (
	"errors"
	"sync"
	"sync/atomic"
)

var errUnmapped = errors.New("address not mapped")

// heapBase is where Image starts handing out allocations.
const heapBase uintptr = 0x7000_0000

type region struct {
	base uintptr
	data []byte
	heap bool
}

func (r *region) contains(addr uintptr, size int) bool {
	return addr >= r.base && addr+uintptr(size) <= r.base+uintptr(len(r.data))
}

// Image is a sparse synthetic address space. Offline tools load executables
// into it and tests use it in place of a live client.
type Image struct {
	mu      sync.RWMutex
	regions []*region
	next    uintptr
	reads   atomic.Int64
}

func NewImage() *Image {
	return &Image{next: heapBase}
}

// Map copies data into a new region at base. Later mappings shadow older
// ones where they overlap.
func (m *Image) Map(base uintptr, data []byte) {
	buf := make([]byte, len(data))
	copy(buf, data)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.regions = append(m.regions, &region{base: base, data: buf})
}

// MapU32 maps a single dword; handy for pointer chains.
func (m *Image) MapU32(addr uintptr, val uint32) {
	m.Map(addr, []byte{byte(val), byte(val >> 8), byte(val >> 16), byte(val >> 24)})
}

func (m *Image) find(addr uintptr, size int) *region {
	for i := len(m.regions) - 1; i >= 0; i-- {
		if m.regions[i].contains(addr, size) {
			return m.regions[i]
		}
	}
	return nil
}

func (m *Image) Read(addr uintptr, buf []byte) error {
	m.reads.Add(1)

	m.mu.RLock()
	defer m.mu.RUnlock()
	r := m.find(addr, len(buf))
	if r == nil {
		return &AccessError{Op: "read", Address: addr, Size: len(buf), Err: errUnmapped}
	}
	copy(buf, r.data[addr-r.base:])
	return nil
}

func (m *Image) Write(addr uintptr, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.find(addr, len(data))
	if r == nil {
		return &AccessError{Op: "write", Address: addr, Size: len(data), Err: errUnmapped}
	}
	copy(r.data[addr-r.base:], data)
	return nil
}

func (m *Image) Alloc(size int) (uintptr, error) {
	if size <= 0 {
		return 0, &AccessError{Op: "alloc", Size: size, Err: errors.New("invalid size")}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	base := m.next
	m.next += (uintptr(size) + 15) &^ 15
	m.regions = append(m.regions, &region{base: base, data: make([]byte, size), heap: true})
	return base, nil
}

func (m *Image) Free(addr uintptr) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, r := range m.regions {
		if r.heap && r.base == addr {
			m.regions = append(m.regions[:i], m.regions[i+1:]...)
			return nil
		}
	}
	return &AccessError{Op: "free", Address: addr, Err: errUnmapped}
}

// Reads returns how many Read calls were issued, failed ones included.
func (m *Image) Reads() int64 { return m.reads.Load() }

// Allocations returns the number of live allocations.
func (m *Image) Allocations() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, r := range m.regions {
		if r.heap {
			n++
		}
	}
	return n
}
