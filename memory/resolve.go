package memory

import "fmt"

// FollowStaticAddressOffsets walks a pointer chain.
//
// Starting at static, every offset is added to the current address and the
// pointer stored there becomes the next address. last is added to the final
// address without dereferencing it. The walk stops at the first failed read.
func FollowStaticAddressOffsets(r Reader, static uintptr, offsets []int, last int) (uintptr, error) {
	addr := static
	for i, off := range offsets {
		next, err := ReadPtr(r, addr+uintptr(off))
		if err != nil {
			return 0, fmt.Errorf("pointer chain link %d (0x%X%+d): %w", i, addr, off, err)
		}
		addr = next
	}
	return addr + uintptr(last), nil
}
