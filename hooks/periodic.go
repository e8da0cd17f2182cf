package hooks

import (
	"nosbind/config"
	"nosbind/hook"
)

// PeriodicHook sits on a function the client calls once per frame from its
// main thread. Handlers cannot veto the tick.
type PeriodicHook struct {
	base
	ticks event[struct{}]
}

func newPeriodic(e *env) (Hook, error) {
	h := &PeriodicHook{}
	h.base.name, h.base.log = PeriodicName, e.log
	h.ticks.name, h.ticks.log = PeriodicName, e.log

	err := h.install(func(o config.HookOptions) (*hook.Handle, error) {
		return e.factory.CreateHookFromPattern(h.name, hook.NoArgs, h.detour, o)
	}, e.opts.Periodic)
	if err != nil {
		return nil, err
	}
	return h, nil
}

func (h *PeriodicHook) detour(args []uintptr) uintptr {
	h.ticks.raise(struct{}{})
	return h.passThrough(args)
}

// Subscribe runs fn on the game thread on every tick.
func (h *PeriodicHook) Subscribe(fn func()) (unsubscribe func()) {
	return h.ticks.subscribe(func(struct{}) bool {
		fn()
		return true
	})
}
