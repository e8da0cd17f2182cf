//go:build windows

package memory

import (
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	kernel32                  = windows.NewLazySystemDLL("kernel32.dll")
	procVirtualAllocEx        = kernel32.NewProc("VirtualAllocEx")
	procVirtualFreeEx         = kernel32.NewProc("VirtualFreeEx")
	procVirtualProtectEx      = kernel32.NewProc("VirtualProtectEx")
	procFlushInstructionCache = kernel32.NewProc("FlushInstructionCache")
)

const (
	memCommit            = 0x1000
	memReserve           = 0x2000
	memRelease           = 0x8000
	pageReadWrite        = 0x04
	pageExecuteReadWrite = 0x40
)

// External accesses another process through an open handle. Used by the
// offline tools that attach to a running client instead of living inside it.
type External struct {
	Handle windows.Handle
}

func (e External) Read(addr uintptr, buf []byte) error {
	if len(buf) == 0 {
		return nil
	}
	var read uintptr
	err := windows.ReadProcessMemory(e.Handle, addr, &buf[0], uintptr(len(buf)), &read)
	if err == nil && read != uintptr(len(buf)) {
		err = windows.ERROR_PARTIAL_COPY
	}
	if err != nil {
		return &AccessError{Op: "read", Address: addr, Size: len(buf), Err: err}
	}
	return nil
}

// Write lifts page protection for the duration of the write so code can be
// patched as well as data.
func (e External) Write(addr uintptr, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	size := uintptr(len(data))

	var oldProtect uint32
	procVirtualProtectEx.Call(uintptr(e.Handle), addr, size, pageExecuteReadWrite, uintptr(unsafe.Pointer(&oldProtect)))

	var written uintptr
	err := windows.WriteProcessMemory(e.Handle, addr, &data[0], size, &written)

	procVirtualProtectEx.Call(uintptr(e.Handle), addr, size, uintptr(oldProtect), uintptr(unsafe.Pointer(&oldProtect)))
	procFlushInstructionCache.Call(uintptr(e.Handle), addr, size)

	if err != nil {
		return &AccessError{Op: "write", Address: addr, Size: len(data), Err: err}
	}
	return nil
}

func (e External) Alloc(size int) (uintptr, error) {
	addr, _, err := procVirtualAllocEx.Call(uintptr(e.Handle), 0, uintptr(size), memCommit|memReserve, pageReadWrite)
	if addr == 0 {
		return 0, &AccessError{Op: "alloc", Size: size, Err: err}
	}
	return addr, nil
}

func (e External) Free(addr uintptr) error {
	ret, _, err := procVirtualFreeEx.Call(uintptr(e.Handle), addr, 0, memRelease)
	if ret == 0 {
		return &AccessError{Op: "free", Address: addr, Err: err}
	}
	return nil
}
