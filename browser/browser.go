// Package browser resolves the client's manager objects.
package browser

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"go.uber.org/multierr"

	"nosbind/config"
	"nosbind/memory"
	"nosbind/process"
	"nosbind/scanner"
)

var ErrObjectNotFound = errors.New("object pattern not found")

// NotTargetProcessError means the process is not a NosTale client. Nothing
// else is attempted once it is returned.
type NotTargetProcessError struct {
	Executable string
}

func (e *NotTargetProcessError) Error() string {
	return fmt.Sprintf("%s is not a NosTale client (no %s directory)", e.Executable, process.DataDirectory)
}

// ModuleInitializationError is one manager that could not be resolved.
type ModuleInitializationError struct {
	Module string
	Err    error
}

func (e *ModuleInitializationError) Error() string {
	return fmt.Sprintf("initialize %s: %v", e.Module, e.Err)
}

func (e *ModuleInitializationError) Unwrap() error { return e.Err }

type Options struct {
	Memory     memory.Reader
	Scanner    *scanner.Scanner
	Fs         afero.Fs
	Executable string
	Objects    config.Browser
	Logger     zerolog.Logger
}

type Manager struct {
	opts Options
	log  zerolog.Logger

	network *NetworkManager
	unit    *UnitManager
	player  *PlayerManager
	pets    *PetManagerList
}

func New(opts Options) *Manager {
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}
	return &Manager{opts: opts, log: opts.Logger}
}

func (m *Manager) Memory() memory.Reader     { return m.opts.Memory }
func (m *Manager) Scanner() *scanner.Scanner { return m.opts.Scanner }

// IsNostaleProcess checks the attach precondition.
func (m *Manager) IsNostaleProcess() bool {
	return process.IsNostaleProcess(m.opts.Fs, m.opts.Executable)
}

// Initialize resolves every manager that is not resolved yet. Each one is
// attempted even if others fail; a single failure is returned as is,
// several are combined.
func (m *Manager) Initialize() error {
	if !m.IsNostaleProcess() {
		return &NotTargetProcessError{Executable: m.opts.Executable}
	}

	var errs []error
	resolve := func(name string, opts config.ObjectOptions, done bool, set func(object)) {
		if done {
			return
		}
		obj, err := m.locate(opts)
		if err != nil {
			m.log.Error().Err(err).Str("module", name).Str("pattern", opts.Pattern).Msg("[BROWSER] module not found")
			errs = append(errs, &ModuleInitializationError{Module: name, Err: err})
			return
		}
		m.log.Debug().Str("module", name).Str("address", fmt.Sprintf("0x%X", obj.static)).Msg("[BROWSER] module located")
		set(obj)
	}

	objects := m.opts.Objects
	resolve("NetworkManager", objects.NetworkManager, m.network != nil, func(o object) { m.network = &NetworkManager{o} })
	resolve("UnitManager", objects.UnitManager, m.unit != nil, func(o object) { m.unit = &UnitManager{o} })
	resolve("PlayerManager", objects.PlayerManager, m.player != nil, func(o object) { m.player = &PlayerManager{o} })
	resolve("PetManagerList", objects.PetManagerList, m.pets != nil, func(o object) { m.pets = &PetManagerList{o} })

	return multierr.Combine(errs...)
}

func (m *Manager) locate(opts config.ObjectOptions) (object, error) {
	res, err := m.opts.Scanner.FindPattern(opts.Pattern)
	if err != nil {
		return object{}, err
	}
	if !res.Found {
		return object{}, ErrObjectNotFound
	}
	return object{
		mem:     m.opts.Memory,
		static:  res.Address(m.opts.Scanner.Module(), 0),
		offsets: opts.Offsets,
	}, nil
}

func notInitialized(what string) string {
	return fmt.Sprintf("browser: %s is not available, did you forget to call browser.Manager.Initialize?", what)
}

func (m *Manager) NetworkManager() *NetworkManager {
	if m.network == nil {
		panic(notInitialized("network manager"))
	}
	return m.network
}

func (m *Manager) UnitManager() *UnitManager {
	if m.unit == nil {
		panic(notInitialized("unit manager"))
	}
	return m.unit
}

func (m *Manager) PlayerManager() *PlayerManager {
	if m.player == nil {
		panic(notInitialized("player manager"))
	}
	return m.player
}

func (m *Manager) PetManagerList() *PetManagerList {
	if m.pets == nil {
		panic(notInitialized("pet manager list"))
	}
	return m.pets
}

// Has reports whether a module resolved, without panicking.
func (m *Manager) Has(module string) bool {
	switch module {
	case "NetworkManager":
		return m.network != nil
	case "UnitManager":
		return m.unit != nil
	case "PlayerManager":
		return m.player != nil
	case "PetManagerList":
		return m.pets != nil
	}
	return false
}

// IsInGame reports whether a character is loaded.
func (m *Manager) IsInGame() bool {
	player, err := m.PlayerManager().Player()
	return err == nil && !player.IsNil()
}
