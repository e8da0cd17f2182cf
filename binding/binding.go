// Package binding ties the scanner, the hook engine, the browser and the
// hook registry together for one client process, and exposes one facade per
// client subsystem on top of them.
package binding

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"go.uber.org/multierr"

	"nosbind/browser"
	"nosbind/config"
	"nosbind/hook"
	"nosbind/hooks"
	"nosbind/memory"
	"nosbind/scanner"
)

// BindingNotFoundError means a configured pattern matches nothing in the
// running client build.
type BindingNotFoundError struct {
	Name    string
	Pattern string
}

func (e *BindingNotFoundError) Error() string {
	return fmt.Sprintf("could not find %s, pattern %q matched nothing", e.Name, e.Pattern)
}

type Options struct {
	Memory  memory.Accessor
	Backend hook.Backend
	// Module is the client executable as loaded in memory.
	Module     scanner.Module
	Fs         afero.Fs
	Executable string
	Config     config.Config
	Logger     zerolog.Logger
}

type Manager struct {
	opts Options
	log  zerolog.Logger

	scanner *scanner.Scanner
	engine  *hook.Engine
	browser *browser.Manager
	hooks   *hooks.Manager

	network  *Network
	player   *PlayerManager
	unit     *UnitManager
	pets     *PetManager
	periodic *Periodic
}

var _ hooks.Factory = (*Manager)(nil)

func New(opts Options) *Manager {
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}
	sc := scanner.New(opts.Memory, opts.Module)
	return &Manager{
		opts:    opts,
		log:     opts.Logger,
		scanner: sc,
		engine:  hook.NewEngine(opts.Backend, opts.Logger),
		browser: browser.New(browser.Options{
			Memory:     opts.Memory,
			Scanner:    sc,
			Fs:         opts.Fs,
			Executable: opts.Executable,
			Objects:    opts.Config.Browser,
			Logger:     opts.Logger,
		}),
		hooks: hooks.NewManager(opts.Config.Hooks, opts.Logger),
	}
}

func (m *Manager) Memory() memory.Accessor   { return m.opts.Memory }
func (m *Manager) Scanner() *scanner.Scanner { return m.scanner }
func (m *Manager) Browser() *browser.Manager { return m.browser }
func (m *Manager) Hooks() *hooks.Manager     { return m.hooks }
func (m *Manager) Config() config.Config     { return m.opts.Config }

// Initialize resolves the client objects and creates the hooks. Partial
// failures are returned but leave the working parts usable. A process that
// is not a NosTale client stops everything right away.
func (m *Manager) Initialize() error {
	err := m.browser.Initialize()
	var notTarget *browser.NotTargetProcessError
	if errors.As(err, &notTarget) {
		m.log.Error().Err(err).Msg("[BINDING] refusing to attach")
		return err
	}

	err = multierr.Append(err, m.hooks.Initialize(m, m.browser))

	if m.network == nil {
		m.network = &Network{m: m}
		m.player = &PlayerManager{m: m}
		m.unit = &UnitManager{m: m}
		m.pets = &PetManager{m: m}
		m.periodic = &Periodic{m: m}
	}
	m.network.attachLatch()

	if err != nil {
		m.log.Warn().Int("failures", len(multierr.Errors(err))).Msg("[BINDING] initialized with failures")
	} else {
		m.log.Info().Msg("[BINDING] initialized")
	}
	return err
}

// CreateHookFromPattern installs detour on the function matched by
// opts.Pattern. The hook is enabled only if opts.Enabled is set.
func (m *Manager) CreateHookFromPattern(name string, conv hook.Convention, detour hook.Detour, opts config.HookOptions) (*hook.Handle, error) {
	return m.createFromPattern(name, conv, hook.Entry{Detour: detour}, opts)
}

// CreateCancelableHookFromPattern installs predicate in front of the body of
// the function matched by opts.Pattern.
func (m *Manager) CreateCancelableHookFromPattern(name string, conv hook.Convention, predicate hook.Predicate, opts config.HookOptions) (*hook.Handle, error) {
	return m.createFromPattern(name, conv, hook.Entry{Predicate: predicate}, opts)
}

func (m *Manager) createFromPattern(name string, conv hook.Convention, entry hook.Entry, opts config.HookOptions) (*hook.Handle, error) {
	res, err := m.scanner.FindPattern(opts.Pattern)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	if !res.Found {
		return nil, &BindingNotFoundError{Name: name, Pattern: opts.Pattern}
	}

	addr := res.Address(m.scanner.Module(), opts.Offset)
	h, err := m.engine.Install(name, addr, conv, entry)
	if err != nil {
		return nil, err
	}
	if opts.Enabled {
		if err := h.Enable(); err != nil {
			_ = h.Release()
			return nil, err
		}
	}
	return h, nil
}

// IsHookPresent reports whether the named hook was created.
func (m *Manager) IsHookPresent(name string) bool {
	_, ok := m.hooks.Lookup(name)
	return ok
}

// Close disables every hook and restores the client code.
func (m *Manager) Close() error {
	return multierr.Append(m.hooks.DisableAll(), m.engine.Close())
}

func notInitialized(what string) string {
	return fmt.Sprintf("binding: %s is not available, did you forget to call binding.Manager.Initialize?", what)
}

func (m *Manager) Network() *Network {
	if m.network == nil {
		panic(notInitialized("network"))
	}
	return m.network
}

func (m *Manager) PlayerManager() *PlayerManager {
	if m.player == nil {
		panic(notInitialized("player manager"))
	}
	return m.player
}

func (m *Manager) UnitManager() *UnitManager {
	if m.unit == nil {
		panic(notInitialized("unit manager"))
	}
	return m.unit
}

func (m *Manager) PetManager() *PetManager {
	if m.pets == nil {
		panic(notInitialized("pet manager"))
	}
	return m.pets
}

func (m *Manager) Periodic() *Periodic {
	if m.periodic == nil {
		panic(notInitialized("periodic"))
	}
	return m.periodic
}
