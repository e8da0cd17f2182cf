//go:build windows && 386

package hook

import (
	"fmt"
	"syscall"
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	kernel32                  = windows.NewLazySystemDLL("kernel32.dll")
	procFlushInstructionCache = kernel32.NewProc("FlushInstructionCache")
)

// caveSize holds the trampoline, the caller stub and the gateway.
const caveSize = 512

// maxPrologue bounds how far the stolen bytes analysis reads.
const maxPrologue = 32

type nativeBackend struct{}

// NewNativeBackend splices code of the current process. It must run inside
// the client, on the same 32-bit architecture.
func NewNativeBackend() Backend {
	return nativeBackend{}
}

type nativeSplice struct {
	target   uintptr
	stolen   []byte
	patch    []byte
	cave     uintptr
	original NativeFunc
}

func code(addr uintptr, n int) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), n)
}

func align16(n int) uintptr { return uintptr((n + 15) &^ 15) }

func (nativeBackend) Splice(target uintptr, conv Convention, entry Entry) (Splice, error) {
	prologue := append([]byte(nil), code(target, maxPrologue)...)
	n, err := StolenLength(prologue, JumpSize)
	if err != nil {
		return nil, err
	}
	stolen := prologue[:n]

	var callback uintptr
	if entry.Predicate != nil {
		p := entry.Predicate
		callback, err = newCallback(conv.Arity(), func(args []uintptr) uintptr {
			if p(args) {
				return 1
			}
			return 0
		})
	} else {
		callback, err = newCallback(conv.Arity(), entry.Detour)
	}
	if err != nil {
		return nil, err
	}

	cave, err := windows.VirtualAlloc(0, caveSize, windows.MEM_COMMIT|windows.MEM_RESERVE, windows.PAGE_EXECUTE_READWRITE)
	if err != nil {
		return nil, fmt.Errorf("allocate code cave: %w", err)
	}

	resume := target + uintptr(n)
	tramp := Trampoline(cave, stolen, resume)
	stub := cave + align16(len(tramp))
	stubCode := CallerStub(stub, conv, cave)
	gate := stub + align16(len(stubCode))
	var gateCode []byte
	if entry.Predicate != nil {
		gateCode = CancelableGateway(gate, conv, callback, stolen, resume)
	} else {
		gateCode = DetourGateway(conv, callback)
	}
	if gate+uintptr(len(gateCode)) > cave+caveSize {
		windows.VirtualFree(cave, 0, windows.MEM_RELEASE)
		return nil, fmt.Errorf("code cave too small for %d bytes of gateway", len(gateCode))
	}

	copy(code(cave, len(tramp)), tramp)
	copy(code(stub, len(stubCode)), stubCode)
	copy(code(gate, len(gateCode)), gateCode)
	flush(cave, caveSize)

	return &nativeSplice{
		target: target,
		stolen: stolen,
		patch:  Patch(target, gate, n),
		cave:   cave,
		original: func(args ...uintptr) uintptr {
			r, _, _ := syscall.SyscallN(stub, args...)
			return r
		},
	}, nil
}

func flush(addr uintptr, size int) {
	procFlushInstructionCache.Call(uintptr(windows.CurrentProcess()), addr, uintptr(size))
}

func writeCode(addr uintptr, data []byte) error {
	var old uint32
	if err := windows.VirtualProtect(addr, uintptr(len(data)), windows.PAGE_EXECUTE_READWRITE, &old); err != nil {
		return fmt.Errorf("unprotect 0x%X: %w", addr, err)
	}
	copy(code(addr, len(data)), data)
	if err := windows.VirtualProtect(addr, uintptr(len(data)), old, &old); err != nil {
		return fmt.Errorf("reprotect 0x%X: %w", addr, err)
	}
	flush(addr, len(data))
	return nil
}

func (s *nativeSplice) Activate() error      { return writeCode(s.target, s.patch) }
func (s *nativeSplice) Deactivate() error    { return writeCode(s.target, s.stolen) }
func (s *nativeSplice) Original() NativeFunc { return s.original }

// Release frees the cave. The Go callback slot stays allocated; the runtime
// never gives those back.
func (s *nativeSplice) Release() error {
	return windows.VirtualFree(s.cave, 0, windows.MEM_RELEASE)
}

func newCallback(arity int, fn func([]uintptr) uintptr) (uintptr, error) {
	switch arity {
	case 0:
		return windows.NewCallback(func() uintptr { return fn(nil) }), nil
	case 1:
		return windows.NewCallback(func(a uintptr) uintptr { return fn([]uintptr{a}) }), nil
	case 2:
		return windows.NewCallback(func(a, b uintptr) uintptr { return fn([]uintptr{a, b}) }), nil
	case 3:
		return windows.NewCallback(func(a, b, c uintptr) uintptr { return fn([]uintptr{a, b, c}) }), nil
	case 4:
		return windows.NewCallback(func(a, b, c, d uintptr) uintptr { return fn([]uintptr{a, b, c, d}) }), nil
	case 5:
		return windows.NewCallback(func(a, b, c, d, e uintptr) uintptr { return fn([]uintptr{a, b, c, d, e}) }), nil
	case 6:
		return windows.NewCallback(func(a, b, c, d, e, f uintptr) uintptr { return fn([]uintptr{a, b, c, d, e, f}) }), nil
	}
	return 0, fmt.Errorf("no callback shape for %d arguments", arity)
}
