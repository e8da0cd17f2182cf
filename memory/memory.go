// Package memory reads and writes the target client's address space.
//
// The client is a 32-bit process, so every pointer stored in its memory is
// four bytes wide regardless of the architecture this module runs on.
package memory

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// PointerSize is the width of a pointer inside the target process.
const PointerSize = 4

// Reader copies len(buf) bytes starting at addr into buf.
type Reader interface {
	Read(addr uintptr, buf []byte) error
}

// Writer copies data into the target starting at addr.
type Writer interface {
	Write(addr uintptr, data []byte) error
}

// Allocator hands out scratch memory owned by the target process.
type Allocator interface {
	Alloc(size int) (uintptr, error)
	Free(addr uintptr) error
}

// Accessor is the full memory surface used by bindings.
type Accessor interface {
	Reader
	Writer
	Allocator
}

// ErrInvalidPointer is returned instead of dereferencing a null or out of
// range pointer.
var ErrInvalidPointer = errors.New("invalid pointer")

// AccessError reports a failed read, write or allocation.
type AccessError struct {
	Op      string
	Address uintptr
	Size    int
	Err     error
}

func (e *AccessError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("memory %s of %d bytes at 0x%X: %v", e.Op, e.Size, e.Address, e.Err)
	}
	return fmt.Sprintf("memory %s of %d bytes at 0x%X failed", e.Op, e.Size, e.Address)
}

func (e *AccessError) Unwrap() error { return e.Err }

// ReadBytes reads size bytes at addr.
func ReadBytes(r Reader, addr uintptr, size int) ([]byte, error) {
	buf := make([]byte, size)
	if err := r.Read(addr, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func ReadU8(r Reader, addr uintptr) (uint8, error) {
	var b [1]byte
	if err := r.Read(addr, b[:]); err != nil {
		return 0, err
	}
	return b[0], nil
}

func ReadU16(r Reader, addr uintptr) (uint16, error) {
	var b [2]byte
	if err := r.Read(addr, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b[:]), nil
}

func ReadI16(r Reader, addr uintptr) (int16, error) {
	v, err := ReadU16(r, addr)
	return int16(v), err
}

func ReadU32(r Reader, addr uintptr) (uint32, error) {
	var b [4]byte
	if err := r.Read(addr, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

func ReadI32(r Reader, addr uintptr) (int32, error) {
	v, err := ReadU32(r, addr)
	return int32(v), err
}

// ReadPtr reads a target pointer at addr.
func ReadPtr(r Reader, addr uintptr) (uintptr, error) {
	v, err := ReadU32(r, addr)
	return uintptr(v), err
}

// ReadString reads a NUL terminated string of at most maxLen bytes.
func ReadString(r Reader, addr uintptr, maxLen int) (string, error) {
	buf, err := ReadBytes(r, addr, maxLen)
	if err != nil {
		return "", err
	}
	for i, b := range buf {
		if b == 0 {
			return string(buf[:i]), nil
		}
	}
	return string(buf), nil
}

// WriteU32 writes a little endian dword at addr.
func WriteU32(w Writer, addr uintptr, val uint32) error {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], val)
	return w.Write(addr, b[:])
}

// IsValidPtr rejects null and obviously out of range target pointers.
func IsValidPtr(ptr uintptr) bool {
	return ptr > 0x10000 && ptr < 0x7FFFFFFF
}

// CheckPtr is IsValidPtr as an error.
func CheckPtr(ptr uintptr) error {
	if !IsValidPtr(ptr) {
		return fmt.Errorf("%w: 0x%X", ErrInvalidPointer, ptr)
	}
	return nil
}
