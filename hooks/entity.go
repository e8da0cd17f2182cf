package hooks

import (
	"fmt"

	"nosbind/browser"
	"nosbind/config"
	"nosbind/hook"
	"nosbind/memory"
)

var (
	followConvention   = hook.RegisterCall(3, 1)
	unfollowConvention = hook.RegisterCall(2, 0)
	focusConvention    = hook.RegisterCall(2, 0)
)

// EntityEvent carries the entity a follow or focus call is about. Entity is
// nil for unfollow.
type EntityEvent struct {
	Entity browser.MapObject
}

// entityHook is the common shape of the follow, unfollow and focus hooks:
// manager in eax, entity in edx.
type entityHook struct {
	base
	calls   event[EntityEvent]
	mem     memory.Reader
	manager func() (uintptr, error)
}

func newEntityHook(e *env, name string, manager func() (uintptr, error)) *entityHook {
	h := &entityHook{mem: e.factory.Memory(), manager: manager}
	h.base.name, h.base.log = name, e.log
	h.calls.name, h.calls.log = name, e.log
	return h
}

func (h *entityHook) create(e *env, conv hook.Convention, opts config.HookOptions) error {
	return h.install(func(o config.HookOptions) (*hook.Handle, error) {
		return e.factory.CreateHookFromPattern(h.name, conv, h.detour, o)
	}, opts)
}

func (h *entityHook) detour(args []uintptr) uintptr {
	if h.fromUs() {
		return h.passThrough(args)
	}
	var ev EntityEvent
	if h.name != EntityUnfollowName {
		ev.Entity = browser.NewMapObject(h.mem, args[1])
	}
	if !h.calls.raise(ev) {
		return 0
	}
	return h.passThrough(args)
}

func (h *entityHook) Subscribe(fn func(EntityEvent) bool) (unsubscribe func()) {
	return h.calls.subscribe(fn)
}

func (h *entityHook) call(args ...uintptr) (uintptr, error) {
	mgr, err := h.manager()
	if err != nil {
		return 0, fmt.Errorf("%s: manager: %w", h.name, err)
	}
	return h.callThrough(append([]uintptr{mgr}, args...)...)
}

type EntityFollowHook struct{ *entityHook }

// Follow makes the character follow entity.
func (h EntityFollowHook) Follow(entity browser.MapObject) (bool, error) {
	ret, err := h.call(entity.Address, 0, 1)
	return ret&0xFF != 0, err
}

func newEntityFollow(e *env) (Hook, error) {
	if !e.browser.Has("PlayerManager") {
		return nil, fmt.Errorf("%w: PlayerManager", ErrMissingModule)
	}
	h := EntityFollowHook{newEntityHook(e, EntityFollowName, e.browser.PlayerManager().Address)}
	if err := h.create(e, followConvention, e.opts.EntityFollow); err != nil {
		return nil, err
	}
	return h, nil
}

type EntityUnfollowHook struct{ *entityHook }

// Unfollow stops following whatever the character follows.
func (h EntityUnfollowHook) Unfollow() error {
	_, err := h.call(0)
	return err
}

func newEntityUnfollow(e *env) (Hook, error) {
	if !e.browser.Has("PlayerManager") {
		return nil, fmt.Errorf("%w: PlayerManager", ErrMissingModule)
	}
	h := EntityUnfollowHook{newEntityHook(e, EntityUnfollowName, e.browser.PlayerManager().Address)}
	if err := h.create(e, unfollowConvention, e.opts.EntityUnfollow); err != nil {
		return nil, err
	}
	return h, nil
}

type EntityFocusHook struct{ *entityHook }

// Focus targets entity. A nil entity clears the target.
func (h EntityFocusHook) Focus(entity browser.MapObject) error {
	_, err := h.call(entity.Address)
	return err
}

func newEntityFocus(e *env) (Hook, error) {
	if !e.browser.Has("UnitManager") {
		return nil, fmt.Errorf("%w: UnitManager", ErrMissingModule)
	}
	h := EntityFocusHook{newEntityHook(e, EntityFocusName, e.browser.UnitManager().Address)}
	if err := h.create(e, focusConvention, e.opts.EntityFocus); err != nil {
		return nil, err
	}
	return h, nil
}
