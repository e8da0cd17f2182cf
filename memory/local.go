package memory

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
	"unsafe"
)

type localBlock struct {
	buf    []byte
	pinner runtime.Pinner
}

// Local accesses the memory of the current process directly. It is what an
// injected module uses; faults are turned into *AccessError instead of
// crashing the host.
type Local struct {
	mu     sync.Mutex
	blocks map[uintptr]*localBlock
}

func NewLocal() *Local {
	return &Local{blocks: make(map[uintptr]*localBlock)}
}

func guardFault(op string, addr uintptr, size int, err *error) {
	if r := recover(); r != nil {
		*err = &AccessError{Op: op, Address: addr, Size: size, Err: fmt.Errorf("%v", r)}
	}
}

func (l *Local) Read(addr uintptr, buf []byte) (err error) {
	if len(buf) == 0 {
		return nil
	}
	defer debug.SetPanicOnFault(debug.SetPanicOnFault(true))
	defer guardFault("read", addr, len(buf), &err)

	copy(buf, unsafe.Slice((*byte)(unsafe.Pointer(addr)), len(buf)))
	return nil
}

func (l *Local) Write(addr uintptr, data []byte) (err error) {
	if len(data) == 0 {
		return nil
	}
	defer debug.SetPanicOnFault(debug.SetPanicOnFault(true))
	defer guardFault("write", addr, len(data), &err)

	copy(unsafe.Slice((*byte)(unsafe.Pointer(addr)), len(data)), data)
	return nil
}

// Alloc returns pinned Go memory that stays put until Free.
func (l *Local) Alloc(size int) (uintptr, error) {
	if size <= 0 {
		return 0, &AccessError{Op: "alloc", Size: size, Err: fmt.Errorf("invalid size")}
	}
	b := &localBlock{buf: make([]byte, size)}
	b.pinner.Pin(&b.buf[0])
	addr := uintptr(unsafe.Pointer(&b.buf[0]))

	l.mu.Lock()
	l.blocks[addr] = b
	l.mu.Unlock()
	return addr, nil
}

func (l *Local) Free(addr uintptr) error {
	l.mu.Lock()
	b, ok := l.blocks[addr]
	delete(l.blocks, addr)
	l.mu.Unlock()

	if !ok {
		return &AccessError{Op: "free", Address: addr, Err: fmt.Errorf("not allocated here")}
	}
	b.pinner.Unpin()
	return nil
}
