// Package hook splices detours into native functions of the client.
//
// Everything that depends on the machine lives behind Backend. The rest of
// the module only sees argument slices and typed callbacks; the calling
// convention of each target is described by a Convention value.
package hook

import (
	"errors"
	"fmt"
)

var (
	// ErrDoubleHook is returned when a target address already carries a hook.
	ErrDoubleHook = errors.New("double hook")
	// ErrReleased is returned by handles whose splice has been removed.
	ErrReleased = errors.New("hook released")
	// ErrInvalidEntry means an Entry sets both or neither callback.
	ErrInvalidEntry = errors.New("entry needs exactly one of detour or predicate")
	// ErrRelativeInstruction means the bytes to be moved contain a relative
	// branch or call that would break once relocated.
	ErrRelativeInstruction = errors.New("relative address in instruction")
)

// Register is an x86 general purpose register, numbered as in ModRM.
type Register uint8

const (
	EAX Register = iota
	ECX
	EDX
	EBX
	ESP
	EBP
	ESI
	EDI
)

var registerNames = [...]string{"eax", "ecx", "edx", "ebx", "esp", "ebp", "esi", "edi"}

func (r Register) String() string {
	if int(r) < len(registerNames) {
		return registerNames[r]
	}
	return fmt.Sprintf("reg(%d)", uint8(r))
}

// Convention describes how a native function receives its arguments.
// Register arguments come first, then StackArgs dwords pushed right to left.
type Convention struct {
	Registers     []Register
	StackArgs     int
	CalleeCleanup bool
}

// delphiRegisters is the order Delphi's register convention fills.
var delphiRegisters = []Register{EAX, EDX, ECX}

// RegisterCall is Delphi's register convention: up to three arguments in
// eax, edx and ecx, the rest on the stack, callee cleans up.
func RegisterCall(registers, stack int) Convention {
	if registers < 0 || registers > len(delphiRegisters) {
		panic(fmt.Sprintf("hook: register convention takes at most %d register arguments", len(delphiRegisters)))
	}
	return Convention{
		Registers:     delphiRegisters[:registers:registers],
		StackArgs:     stack,
		CalleeCleanup: true,
	}
}

// NoArgs fits functions without parameters, such as the game tick.
var NoArgs = Convention{CalleeCleanup: true}

// Arity is the total number of arguments.
func (c Convention) Arity() int { return len(c.Registers) + c.StackArgs }

// CleanupBytes is the immediate of the callee's ret instruction.
func (c Convention) CleanupBytes() int {
	if !c.CalleeCleanup {
		return 0
	}
	return 4 * c.StackArgs
}

func (c Convention) String() string {
	return fmt.Sprintf("%v+%d stack", c.Registers, c.StackArgs)
}

// NativeFunc invokes a native function with one value per argument.
type NativeFunc func(args ...uintptr) uintptr

// Detour replaces the target; it returns what the caller sees in eax.
type Detour func(args []uintptr) uintptr

// Predicate runs before the target body; false returns to the caller
// without executing it.
type Predicate func(args []uintptr) bool

// Entry is what a splice redirects to. Exactly one field is set.
type Entry struct {
	Detour    Detour
	Predicate Predicate
}

// Cancelable reports whether the entry is an early-return predicate.
func (e Entry) Cancelable() bool { return e.Predicate != nil }

func (e Entry) validate() error {
	if (e.Detour == nil) == (e.Predicate == nil) {
		return ErrInvalidEntry
	}
	return nil
}

// Splice is an installed, but not necessarily active, redirection.
type Splice interface {
	Activate() error
	Deactivate() error
	// Original calls the target as if it had never been spliced.
	Original() NativeFunc
	Release() error
}

// Backend builds splices for one architecture.
type Backend interface {
	Splice(target uintptr, conv Convention, entry Entry) (Splice, error)
}

// NativeCallError wraps a panic raised by native or handler code so that it
// never unwinds into the client.
type NativeCallError struct {
	Name      string
	Recovered any
}

func (e *NativeCallError) Error() string {
	return fmt.Sprintf("native call %s panicked: %v", e.Name, e.Recovered)
}

func (e *NativeCallError) Unwrap() error {
	err, _ := e.Recovered.(error)
	return err
}
