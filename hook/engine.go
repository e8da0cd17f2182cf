package hook

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"go.uber.org/multierr"
)

// Engine installs hooks through a Backend and refuses to hook one address
// twice.
type Engine struct {
	backend Backend
	log     zerolog.Logger

	mu    sync.Mutex
	hooks map[uintptr]*Handle
}

func NewEngine(backend Backend, log zerolog.Logger) *Engine {
	return &Engine{
		backend: backend,
		log:     log,
		hooks:   make(map[uintptr]*Handle),
	}
}

// Install splices entry into target. The hook starts disabled.
//
// Panics in the entry are recovered and logged: a predicate that panics lets
// the call proceed, a detour that panics is replaced by a call to the
// original function.
func (e *Engine) Install(name string, target uintptr, conv Convention, entry Entry) (*Handle, error) {
	if err := entry.validate(); err != nil {
		return nil, fmt.Errorf("install %s: %w", name, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if prev, ok := e.hooks[target]; ok {
		return nil, fmt.Errorf("install %s at 0x%X (taken by %s): %w", name, target, prev.name, ErrDoubleHook)
	}

	h := &Handle{name: name, target: target, conv: conv, engine: e}
	splice, err := e.backend.Splice(target, conv, e.guard(h, entry))
	if err != nil {
		return nil, fmt.Errorf("install %s at 0x%X: %w", name, target, err)
	}
	h.splice = splice
	e.hooks[target] = h

	e.log.Debug().Str("hook", name).Str("address", fmt.Sprintf("0x%X", target)).
		Bool("cancelable", entry.Cancelable()).Msg("[HOOK] installed")
	return h, nil
}

func (e *Engine) guard(h *Handle, entry Entry) Entry {
	if p := entry.Predicate; p != nil {
		return Entry{Predicate: func(args []uintptr) (proceed bool) {
			defer func() {
				if r := recover(); r != nil {
					e.log.Error().Err(&NativeCallError{Name: h.name, Recovered: r}).
						Str("hook", h.name).Msg("[HOOK] predicate panicked, letting the call through")
					proceed = true
				}
			}()
			return p(args)
		}}
	}

	d := entry.Detour
	return Entry{Detour: func(args []uintptr) (ret uintptr) {
		defer func() {
			if r := recover(); r != nil {
				e.log.Error().Err(&NativeCallError{Name: h.name, Recovered: r}).
					Str("hook", h.name).Msg("[HOOK] detour panicked, calling original")
				var err error
				if ret, err = h.CallOriginal(args...); err != nil {
					e.log.Error().Err(err).Str("hook", h.name).Msg("[HOOK] original failed after detour panic")
				}
			}
		}()
		return d(args)
	}}
}

// Hooked reports whether target carries a hook.
func (e *Engine) Hooked(target uintptr) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.hooks[target]
	return ok
}

func (e *Engine) forget(h *Handle) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.hooks[h.target] == h {
		delete(e.hooks, h.target)
	}
}

// Close releases every hook, restoring the original code.
func (e *Engine) Close() error {
	e.mu.Lock()
	handles := make([]*Handle, 0, len(e.hooks))
	for _, h := range e.hooks {
		handles = append(handles, h)
	}
	e.mu.Unlock()

	var err error
	for _, h := range handles {
		err = multierr.Append(err, h.Release())
	}
	return err
}

// Handle owns one installed hook.
type Handle struct {
	name   string
	target uintptr
	conv   Convention
	engine *Engine
	splice Splice

	mu       sync.Mutex
	enabled  bool
	released bool
}

func (h *Handle) Name() string           { return h.name }
func (h *Handle) Address() uintptr       { return h.target }
func (h *Handle) Convention() Convention { return h.conv }

func (h *Handle) Enabled() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.enabled
}

// Enable splices the jump in. Enabling an enabled hook does nothing.
func (h *Handle) Enable() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return fmt.Errorf("enable %s: %w", h.name, ErrReleased)
	}
	if h.enabled {
		return nil
	}
	if err := h.splice.Activate(); err != nil {
		return fmt.Errorf("enable %s: %w", h.name, err)
	}
	h.enabled = true
	h.engine.log.Info().Str("hook", h.name).Str("address", fmt.Sprintf("0x%X", h.target)).Msg("[HOOK] enabled")
	return nil
}

// Disable restores the original bytes. The hook can be enabled again.
func (h *Handle) Disable() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released || !h.enabled {
		return nil
	}
	if err := h.splice.Deactivate(); err != nil {
		return fmt.Errorf("disable %s: %w", h.name, err)
	}
	h.enabled = false
	h.engine.log.Info().Str("hook", h.name).Msg("[HOOK] disabled")
	return nil
}

// CallOriginal runs the target without the detour. A panic on the way is
// returned as *NativeCallError.
func (h *Handle) CallOriginal(args ...uintptr) (ret uintptr, err error) {
	if len(args) != h.conv.Arity() {
		return 0, fmt.Errorf("call %s: want %d arguments, got %d", h.name, h.conv.Arity(), len(args))
	}
	h.mu.Lock()
	released := h.released
	h.mu.Unlock()
	if released {
		return 0, fmt.Errorf("call %s: %w", h.name, ErrReleased)
	}

	defer func() {
		if r := recover(); r != nil {
			err = &NativeCallError{Name: h.name, Recovered: r}
		}
	}()
	return h.splice.Original()(args...), nil
}

// Release removes the hook for good and frees its code.
func (h *Handle) Release() error {
	h.mu.Lock()
	if h.released {
		h.mu.Unlock()
		return nil
	}
	var err error
	if h.enabled {
		err = h.splice.Deactivate()
		h.enabled = false
	}
	err = multierr.Append(err, h.splice.Release())
	h.released = true
	h.mu.Unlock()

	h.engine.forget(h)
	if err != nil {
		return fmt.Errorf("release %s: %w", h.name, err)
	}
	return nil
}
