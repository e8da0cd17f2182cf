package hook

import "encoding/binary"

// asm accumulates x86 machine code that will be placed at a known address,
// so relative jumps can be encoded directly.
type asm struct {
	at  uintptr
	buf []byte
}

func (a *asm) pc() uintptr { return a.at + uintptr(len(a.buf)) }

func (a *asm) emit(b ...byte) { a.buf = append(a.buf, b...) }

func (a *asm) imm32(v uint32) { a.buf = binary.LittleEndian.AppendUint32(a.buf, v) }

func (a *asm) rel32(op byte, to uintptr) {
	a.emit(op)
	a.imm32(uint32(to - (a.pc() + 4)))
}

func (a *asm) pushReg(r Register) { a.emit(0x50 + byte(r)) }
func (a *asm) popReg(r Register)  { a.emit(0x58 + byte(r)) }

// pushStack pushes the dword at [esp+disp].
func (a *asm) pushStack(disp int) {
	if disp < 0x80 {
		a.emit(0xFF, 0x74, 0x24, byte(disp))
		return
	}
	a.emit(0xFF, 0xB4, 0x24)
	a.imm32(uint32(disp))
}

// loadStack moves the dword at [esp+disp] into r.
func (a *asm) loadStack(r Register, disp int) {
	if disp < 0x80 {
		a.emit(0x8B, 0x44|byte(r)<<3, 0x24, byte(disp))
		return
	}
	a.emit(0x8B, 0x84|byte(r)<<3, 0x24)
	a.imm32(uint32(disp))
}

// callAbs calls an absolute address through eax.
func (a *asm) callAbs(to uintptr) {
	a.emit(0xB8)
	a.imm32(uint32(to))
	a.emit(0xFF, 0xD0)
}

func (a *asm) ret(cleanup int) {
	if cleanup == 0 {
		a.emit(0xC3)
		return
	}
	a.emit(0xC2, byte(cleanup), byte(cleanup>>8))
}

// pushArgs pushes the arguments of conv as a stdcall callback expects them.
// disp is the distance from esp to the first stack argument of the target.
func (a *asm) pushArgs(conv Convention, disp int) {
	pushed := 0
	for i := conv.StackArgs - 1; i >= 0; i-- {
		a.pushStack(disp + 4*i + 4*pushed)
		pushed++
	}
	for i := len(conv.Registers) - 1; i >= 0; i-- {
		a.pushReg(conv.Registers[i])
	}
}

// Jump encodes `jmp to` placed at from.
func Jump(from, to uintptr) []byte {
	a := asm{at: from}
	a.rel32(0xE9, to)
	return a.buf
}

// Patch is what gets written over the target: a jump to the gateway padded
// with nops up to the stolen length.
func Patch(from, to uintptr, length int) []byte {
	b := Jump(from, to)
	for len(b) < length {
		b = append(b, 0x90)
	}
	return b
}

// Trampoline runs the stolen instructions and continues in the target at
// resume. Calling it is calling the unhooked function.
func Trampoline(at uintptr, stolen []byte, resume uintptr) []byte {
	a := asm{at: at}
	a.emit(stolen...)
	a.rel32(0xE9, resume)
	return a.buf
}

// CancelableGateway saves all registers and flags, asks predicate (a stdcall
// callback taking the target's arguments) whether to proceed and either
// returns to the caller right away or restores state and runs the target.
//
//	pushad; pushfd; push args; call predicate
//	test eax, eax; jnz proceed
//	popfd; popad; ret N
//	proceed: popfd; popad; <stolen>; jmp resume
func CancelableGateway(at uintptr, conv Convention, predicate uintptr, stolen []byte, resume uintptr) []byte {
	a := asm{at: at}
	a.emit(0x60, 0x9C)
	// 32 bytes of pushad, 4 of pushfd, 4 of return address.
	a.pushArgs(conv, 40)
	a.callAbs(predicate)
	a.emit(0x85, 0xC0)

	blocked := asm{}
	blocked.emit(0x9D, 0x61)
	blocked.ret(conv.CleanupBytes())
	a.emit(0x75, byte(len(blocked.buf)))
	a.emit(blocked.buf...)

	a.emit(0x9D, 0x61)
	a.emit(stolen...)
	a.rel32(0xE9, resume)
	return a.buf
}

// DetourGateway forwards the target's arguments to callback, a stdcall
// function, and returns its eax to the caller.
func DetourGateway(conv Convention, callback uintptr) []byte {
	a := asm{}
	a.pushArgs(conv, 4)
	a.callAbs(callback)
	a.ret(conv.CleanupBytes())
	return a.buf
}

// CallerStub adapts a cdecl call with every argument on the stack to conv
// and calls trampoline. Callee saved registers are preserved.
func CallerStub(at uintptr, conv Convention, trampoline uintptr) []byte {
	saved := []Register{EBX, ESI, EDI, EBP}

	a := asm{at: at}
	for _, r := range saved {
		a.pushReg(r)
	}
	// return address plus the saved registers
	base := 4 + 4*len(saved)
	nreg := len(conv.Registers)

	pushed := 0
	for i := conv.StackArgs - 1; i >= 0; i-- {
		a.pushStack(base + 4*(nreg+i) + 4*pushed)
		pushed++
	}
	for j, r := range conv.Registers {
		a.loadStack(r, base+4*j+4*pushed)
	}
	a.rel32(0xE8, trampoline)
	if !conv.CalleeCleanup && conv.StackArgs > 0 {
		a.emit(0x83, 0xC4, byte(4*conv.StackArgs))
	}
	for i := len(saved) - 1; i >= 0; i-- {
		a.popReg(saved[i])
	}
	a.ret(0)
	return a.buf
}
