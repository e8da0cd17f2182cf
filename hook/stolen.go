package hook

import (
	"fmt"

	"golang.org/x/arch/x86/x86asm"
)

// JumpSize is the length of the `jmp rel32` written over a target.
const JumpSize = 5

// StolenLength returns how many bytes at the start of code must be moved to
// make room for min bytes without splitting an instruction. Instructions
// with relative operands cannot be moved verbatim and are refused.
func StolenLength(code []byte, min int) (int, error) {
	n := 0
	for n < min {
		if n >= len(code) {
			return 0, fmt.Errorf("need %d bytes, function prologue has %d", min, n)
		}
		inst, err := x86asm.Decode(code[n:], 32)
		if err != nil {
			return 0, fmt.Errorf("decode at +%d: %w", n, err)
		}
		for _, a := range inst.Args {
			if a == nil {
				break
			}
			if _, ok := a.(x86asm.Rel); ok {
				return 0, fmt.Errorf("%v at +%d: %w", inst, n, ErrRelativeInstruction)
			}
		}
		if inst.Op == x86asm.RET && n+inst.Len < min {
			return 0, fmt.Errorf("function returns after %d bytes, need %d", n+inst.Len, min)
		}
		n += inst.Len
	}
	return n, nil
}
