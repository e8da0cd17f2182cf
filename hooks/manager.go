package hooks

import (
	"fmt"

	"github.com/rs/zerolog"
	"go.uber.org/multierr"

	"nosbind/browser"
	"nosbind/config"
	"nosbind/hook"
)

// env is what a constructor needs to build its hook.
type env struct {
	factory Factory
	browser *browser.Manager
	opts    config.Hooks
	log     zerolog.Logger
}

// constructors is the fixed set of hooks, in creation order.
var constructors = []struct {
	name   string
	create func(*env) (Hook, error)
	slot   func(*config.Hooks) *config.HookOptions
}{
	{PacketSendName, newPacketSend, func(h *config.Hooks) *config.HookOptions { return &h.PacketSend }},
	{PacketReceiveName, newPacketReceive, func(h *config.Hooks) *config.HookOptions { return &h.PacketReceive }},
	{PlayerWalkName, newPlayerWalk, func(h *config.Hooks) *config.HookOptions { return &h.PlayerWalk }},
	{PetWalkName, newPetWalk, func(h *config.Hooks) *config.HookOptions { return &h.PetWalk }},
	{EntityFollowName, newEntityFollow, func(h *config.Hooks) *config.HookOptions { return &h.EntityFollow }},
	{EntityUnfollowName, newEntityUnfollow, func(h *config.Hooks) *config.HookOptions { return &h.EntityUnfollow }},
	{EntityFocusName, newEntityFocus, func(h *config.Hooks) *config.HookOptions { return &h.EntityFocus }},
	{PeriodicName, newPeriodic, func(h *config.Hooks) *config.HookOptions { return &h.Periodic }},
}

// Slot returns the options of the named hook inside cfg, or nil for an
// unknown name.
func Slot(cfg *config.Hooks, name string) *config.HookOptions {
	for _, c := range constructors {
		if c.name == name {
			return c.slot(cfg)
		}
	}
	return nil
}

// Names lists every hook the manager knows, in creation order.
func Names() []string {
	names := make([]string, len(constructors))
	for i, c := range constructors {
		names[i] = c.name
	}
	return names
}

// Manager is the registry of created hooks. Membership is fixed by
// Initialize; enabling and disabling must not race for the same name.
type Manager struct {
	opts config.Hooks
	log  zerolog.Logger

	hooks map[string]Hook
	order []string
}

func NewManager(opts config.Hooks, log zerolog.Logger) *Manager {
	return &Manager{opts: opts, log: log, hooks: make(map[string]Hook)}
}

// Initialize creates every hook not created yet. A failing hook does not
// stop the others; one failure is returned as is, several are combined.
func (m *Manager) Initialize(factory Factory, b *browser.Manager) error {
	e := &env{factory: factory, browser: b, opts: m.opts, log: m.log}

	var errs []error
	for _, c := range constructors {
		if _, ok := m.hooks[c.name]; ok {
			continue
		}
		h, err := safeCreate(c.name, c.create, e)
		if err != nil {
			m.log.Error().Err(err).Str("hook", c.name).Msg("[HOOK] could not initialize")
			errs = append(errs, &ModuleInitializationError{Hook: c.name, Err: err})
			continue
		}
		m.hooks[c.name] = h
		m.order = append(m.order, c.name)
	}
	return multierr.Combine(errs...)
}

// safeCreate turns a constructor panic into an error so the remaining hooks
// are still created.
func safeCreate(name string, create func(*env) (Hook, error), e *env) (h Hook, err error) {
	defer func() {
		if r := recover(); r != nil {
			h, err = nil, &hook.NativeCallError{Name: name, Recovered: r}
		}
	}()
	return create(e)
}

// Lookup returns the hook registered under name.
func (m *Manager) Lookup(name string) (Hook, bool) {
	h, ok := m.hooks[name]
	return h, ok
}

// Hooks returns the registered hooks in creation order.
func (m *Manager) Hooks() []Hook {
	out := make([]Hook, 0, len(m.order))
	for _, name := range m.order {
		out = append(out, m.hooks[name])
	}
	return out
}

// Enable enables the named hooks. Unknown names are reported, the rest are
// still enabled.
func (m *Manager) Enable(names ...string) error {
	return m.each(names, Hook.Enable)
}

func (m *Manager) Disable(names ...string) error {
	return m.each(names, Hook.Disable)
}

func (m *Manager) EnableAll() error  { return m.each(m.order, Hook.Enable) }
func (m *Manager) DisableAll() error { return m.each(m.order, Hook.Disable) }

func (m *Manager) each(names []string, fn func(Hook) error) error {
	var err error
	for _, name := range names {
		h, ok := m.hooks[name]
		if !ok {
			err = multierr.Append(err, fmt.Errorf("%w: %s", ErrUnknownHook, name))
			continue
		}
		err = multierr.Append(err, fn(h))
	}
	return err
}

// mustGet is the typed lookup behind the accessors. A missing or mistyped
// hook means Initialize was skipped or failed for it.
func mustGet[T Hook](m *Manager, name string) T {
	h, ok := m.hooks[name]
	if !ok {
		panic(fmt.Sprintf("hooks: %s is not available, did you forget to call hooks.Manager.Initialize?", name))
	}
	t, ok := h.(T)
	if !ok {
		panic(fmt.Sprintf("hooks: %s is a %T, not the requested type", name, h))
	}
	return t
}

func (m *Manager) PacketSend() PacketSendHook { return mustGet[PacketSendHook](m, PacketSendName) }
func (m *Manager) PacketReceive() PacketReceiveHook {
	return mustGet[PacketReceiveHook](m, PacketReceiveName)
}
func (m *Manager) PlayerWalk() *PlayerWalkHook { return mustGet[*PlayerWalkHook](m, PlayerWalkName) }
func (m *Manager) PetWalk() *PetWalkHook       { return mustGet[*PetWalkHook](m, PetWalkName) }
func (m *Manager) EntityFollow() EntityFollowHook {
	return mustGet[EntityFollowHook](m, EntityFollowName)
}
func (m *Manager) EntityUnfollow() EntityUnfollowHook {
	return mustGet[EntityUnfollowHook](m, EntityUnfollowName)
}
func (m *Manager) EntityFocus() EntityFocusHook { return mustGet[EntityFocusHook](m, EntityFocusName) }
func (m *Manager) Periodic() *PeriodicHook      { return mustGet[*PeriodicHook](m, PeriodicName) }
