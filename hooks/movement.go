package hooks

import (
	"fmt"

	"nosbind/browser"
	"nosbind/config"
	"nosbind/hook"
	"nosbind/memory"
)

// walkConvention covers both walk functions: manager in eax, packed position
// in edx, two flags in ecx and on the stack.
var walkConvention = hook.RegisterCall(3, 1)

// WalkEvent is a character walk request, in map cells.
type WalkEvent struct {
	X, Y uint16
}

type PlayerWalkHook struct {
	base
	calls  event[WalkEvent]
	player *browser.PlayerManager
}

func newPlayerWalk(e *env) (Hook, error) {
	if !e.browser.Has("PlayerManager") {
		return nil, fmt.Errorf("%w: PlayerManager", ErrMissingModule)
	}
	h := &PlayerWalkHook{player: e.browser.PlayerManager()}
	h.base.name, h.base.log = PlayerWalkName, e.log
	h.calls.name, h.calls.log = PlayerWalkName, e.log

	err := h.install(func(o config.HookOptions) (*hook.Handle, error) {
		return e.factory.CreateHookFromPattern(h.name, walkConvention, h.detour, o)
	}, e.opts.PlayerWalk)
	if err != nil {
		return nil, err
	}
	return h, nil
}

// The client packs the player's target as y<<16 | x.
func (h *PlayerWalkHook) detour(args []uintptr) uintptr {
	if h.fromUs() {
		return h.passThrough(args)
	}
	ev := WalkEvent{X: uint16(args[1]), Y: uint16(args[1] >> 16)}
	if !h.calls.raise(ev) {
		return 0
	}
	return h.passThrough(args)
}

func (h *PlayerWalkHook) Subscribe(fn func(WalkEvent) bool) (unsubscribe func()) {
	return h.calls.subscribe(fn)
}

// Walk moves the character to x, y. The result is what the client returns,
// false when the cell cannot be walked to.
func (h *PlayerWalkHook) Walk(x, y uint16) (bool, error) {
	mgr, err := h.player.Address()
	if err != nil {
		return false, fmt.Errorf("walk: player manager: %w", err)
	}
	ret, err := h.callThrough(mgr, uintptr(y)<<16|uintptr(x), 0, 1)
	return ret&0xFF != 0, err
}

// PetWalkEvent is a walk request for one pet or partner.
type PetWalkEvent struct {
	PetManager browser.PetManager
	X, Y       uint16
}

type PetWalkHook struct {
	base
	calls event[PetWalkEvent]
	mem   memory.Reader
}

func newPetWalk(e *env) (Hook, error) {
	h := &PetWalkHook{mem: e.factory.Memory()}
	h.base.name, h.base.log = PetWalkName, e.log
	h.calls.name, h.calls.log = PetWalkName, e.log

	err := h.install(func(o config.HookOptions) (*hook.Handle, error) {
		return e.factory.CreateHookFromPattern(h.name, walkConvention, h.detour, o)
	}, e.opts.PetWalk)
	if err != nil {
		return nil, err
	}
	return h, nil
}

// Unlike the player walk, pet positions are packed as x<<16 | y.
func (h *PetWalkHook) detour(args []uintptr) uintptr {
	if h.fromUs() {
		return h.passThrough(args)
	}
	ev := PetWalkEvent{
		PetManager: browser.NewPetManager(h.mem, args[0]),
		X:          uint16(args[1] >> 16),
		Y:          uint16(args[1]),
	}
	if !h.calls.raise(ev) {
		return 0
	}
	return h.passThrough(args)
}

func (h *PetWalkHook) Subscribe(fn func(PetWalkEvent) bool) (unsubscribe func()) {
	return h.calls.subscribe(fn)
}

// Walk moves the pet controlled by pet to x, y.
func (h *PetWalkHook) Walk(pet browser.PetManager, x, y uint16) (bool, error) {
	ret, err := h.callThrough(pet.Address, uintptr(x)<<16|uintptr(y), 0, 1)
	return ret&0xFF != 0, err
}
