package hooks

import (
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"nosbind/config"
	"nosbind/hook"
)

// event is an ordered list of veto handlers.
type event[T any] struct {
	name string
	log  zerolog.Logger

	mu       sync.RWMutex
	nextID   int
	handlers []subscription[T]
}

type subscription[T any] struct {
	id int
	fn func(T) bool
}

// subscribe appends fn. The returned func removes it again.
func (e *event[T]) subscribe(fn func(T) bool) (unsubscribe func()) {
	e.mu.Lock()
	id := e.nextID
	e.nextID++
	e.handlers = append(e.handlers, subscription[T]{id: id, fn: fn})
	e.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Lock()
			defer e.mu.Unlock()
			for i, s := range e.handlers {
				if s.id == id {
					e.handlers = append(e.handlers[:i:i], e.handlers[i+1:]...)
					return
				}
			}
		})
	}
}

// raise runs handlers in order until one vetoes. No handlers means proceed.
func (e *event[T]) raise(args T) bool {
	e.mu.RLock()
	handlers := e.handlers
	e.mu.RUnlock()

	for _, s := range handlers {
		if !e.call(s.fn, args) {
			return false
		}
	}
	return true
}

// call treats a panicking handler as one that lets the call proceed.
func (e *event[T]) call(fn func(T) bool, args T) (proceed bool) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error().Err(&hook.NativeCallError{Name: e.name, Recovered: r}).
				Str("hook", e.name).Msg("[HOOK] handler panicked")
			proceed = true
		}
	}()
	return fn(args)
}

// base carries the handle and the calling-from-us marker.
type base struct {
	name string
	log  zerolog.Logger

	handle        *hook.Handle
	callingFromUs atomic.Int32
}

func (b *base) Name() string   { return b.name }
func (b *base) Enable() error  { return b.handle.Enable() }
func (b *base) Disable() error { return b.handle.Disable() }
func (b *base) Enabled() bool  { return b.handle.Enabled() }

// Handle exposes the underlying hook, mostly for reference counting.
func (b *base) Handle() *hook.Handle { return b.handle }

// fromUs reports whether the current call was issued by a call-through.
func (b *base) fromUs() bool { return b.callingFromUs.Load() > 0 }

// callThrough runs the original function with the marker set.
func (b *base) callThrough(args ...uintptr) (uintptr, error) {
	b.callingFromUs.Add(1)
	defer b.callingFromUs.Add(-1)
	return b.handle.CallOriginal(args...)
}

// passThrough runs the original function from inside a detour.
func (b *base) passThrough(args []uintptr) uintptr {
	ret, err := b.handle.CallOriginal(args...)
	if err != nil {
		b.log.Error().Err(err).Str("hook", b.name).Msg("[HOOK] original function failed")
		return 0
	}
	return ret
}

// install creates the hook disabled, stores the handle and only then applies
// opts.Enabled, so a detour never runs without its handle.
func (b *base) install(create func(opts config.HookOptions) (*hook.Handle, error), opts config.HookOptions) error {
	enabled := opts.Enabled
	opts.Enabled = false
	h, err := create(opts)
	if err != nil {
		return err
	}
	b.handle = h
	if enabled {
		if err := h.Enable(); err != nil {
			_ = h.Release()
			return err
		}
	}
	return nil
}
