// Package hooks owns one hook object per intercepted client function and the
// manager that creates them all in one pass.
//
// Every hook raises a typed event when the client calls its function. Handlers
// run in subscription order and the first one returning false vetoes the
// call. Each hook also offers a call-through that runs the original function
// without raising the event.
package hooks

import (
	"errors"
	"fmt"

	"nosbind/config"
	"nosbind/hook"
	"nosbind/memory"
)

const (
	PacketSendName     = "NetworkManager.PacketSend"
	PacketReceiveName  = "NetworkManager.PacketReceive"
	PlayerWalkName     = "CharacterManager.Walk"
	PetWalkName        = "PetManager.Walk"
	EntityFollowName   = "CharacterManager.EntityFollow"
	EntityUnfollowName = "CharacterManager.EntityUnfollow"
	EntityFocusName    = "UnitManager.EntityFocus"
	PeriodicName       = "Periodic"
)

// maxPacketLength bounds how much of a native string a detour reads.
const maxPacketLength = 1 << 16

var (
	ErrUnknownHook = errors.New("unknown hook")
	// ErrMissingModule means a browser module the hook reads from did not
	// resolve.
	ErrMissingModule = errors.New("browser module missing")
)

// Hook is the part every hook object shares.
type Hook interface {
	Name() string
	Enable() error
	Disable() error
	Enabled() bool
}

// Factory installs hooks on functions found by pattern. binding.Manager is
// the production implementation.
type Factory interface {
	CreateHookFromPattern(name string, conv hook.Convention, detour hook.Detour, opts config.HookOptions) (*hook.Handle, error)
	CreateCancelableHookFromPattern(name string, conv hook.Convention, predicate hook.Predicate, opts config.HookOptions) (*hook.Handle, error)
	Memory() memory.Accessor
}

// ModuleInitializationError is one hook that could not be created.
type ModuleInitializationError struct {
	Hook string
	Err  error
}

func (e *ModuleInitializationError) Error() string {
	return fmt.Sprintf("initialize hook %s: %v", e.Hook, e.Err)
}

func (e *ModuleInitializationError) Unwrap() error { return e.Err }
