package memory

import (
	"encoding/binary"
	"fmt"
	"sync"
)

// Delphi AnsiString header: refcount and length precede the characters.
const nativeStringHeader = 8

// NativeString is a scratch AnsiString allocated in the target. A refcount of
// -1 marks it as a literal so the client never tries to free it.
type NativeString struct {
	alloc Allocator
	base  uintptr
	once  sync.Once
}

// NewNativeString allocates s in the target's string representation.
func NewNativeString(a Accessor, s string) (*NativeString, error) {
	size := nativeStringHeader + len(s) + 1
	base, err := a.Alloc(size)
	if err != nil {
		return nil, fmt.Errorf("allocate native string: %w", err)
	}

	buf := make([]byte, size)
	binary.LittleEndian.PutUint32(buf[0:], 0xFFFFFFFF)
	binary.LittleEndian.PutUint32(buf[4:], uint32(len(s)))
	copy(buf[nativeStringHeader:], s)
	if err := a.Write(base, buf); err != nil {
		_ = a.Free(base)
		return nil, fmt.Errorf("write native string: %w", err)
	}
	return &NativeString{alloc: a, base: base}, nil
}

// Ptr points at the first character, which is what native code expects.
func (s *NativeString) Ptr() uintptr { return s.base + nativeStringHeader }

// Release frees the buffer. Only the first call has an effect.
func (s *NativeString) Release() error {
	var err error
	s.once.Do(func() { err = s.alloc.Free(s.base) })
	return err
}

// WithNativeString runs fn with a scratch string that is released on every
// exit path.
func WithNativeString(a Accessor, s string, fn func(ptr uintptr) error) (err error) {
	ns, err := NewNativeString(a, s)
	if err != nil {
		return err
	}
	defer func() {
		if rerr := ns.Release(); rerr != nil && err == nil {
			err = rerr
		}
	}()
	return fn(ns.Ptr())
}

// ReadNativeString reads the AnsiString whose characters start at ptr. The
// length prefix is trusted up to maxLen; a NUL ends the string earlier.
func ReadNativeString(r Reader, ptr uintptr, maxLen int) (string, error) {
	n, err := ReadI32(r, ptr-4)
	if err != nil {
		return "", err
	}
	if n <= 0 {
		return "", nil
	}
	if int(n) > maxLen {
		n = int32(maxLen)
	}
	return ReadString(r, ptr, int(n))
}
