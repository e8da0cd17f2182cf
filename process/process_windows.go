//go:build windows

package process

import (
	"fmt"
	"strings"
	"unsafe"

	"golang.org/x/sys/windows"

	"nosbind/scanner"
)

const processAllAccess = 0x1F0FFF

// FindProcess returns the pid of the first process named name.
func FindProcess(name string) (uint32, error) {
	snap, err := windows.CreateToolhelp32Snapshot(windows.TH32CS_SNAPPROCESS, 0)
	if err != nil {
		return 0, fmt.Errorf("process snapshot: %w", err)
	}
	defer windows.CloseHandle(snap)

	var pe windows.ProcessEntry32
	pe.Size = uint32(unsafe.Sizeof(pe))
	for err = windows.Process32First(snap, &pe); err == nil; err = windows.Process32Next(snap, &pe) {
		if strings.EqualFold(windows.UTF16ToString(pe.ExeFile[:]), name) {
			return pe.ProcessID, nil
		}
	}
	return 0, fmt.Errorf("process %s not found", name)
}

// modules walks the module list of pid; the first entry is the executable.
func modules(pid uint32, visit func(*windows.ModuleEntry32) bool) error {
	snap, err := windows.CreateToolhelp32Snapshot(windows.TH32CS_SNAPMODULE|windows.TH32CS_SNAPMODULE32, pid)
	if err != nil {
		return fmt.Errorf("module snapshot of %d: %w", pid, err)
	}
	defer windows.CloseHandle(snap)

	var me windows.ModuleEntry32
	me.Size = uint32(unsafe.Sizeof(me))
	for err = windows.Module32First(snap, &me); err == nil; err = windows.Module32Next(snap, &me) {
		if !visit(&me) {
			return nil
		}
	}
	return nil
}

func toModule(me *windows.ModuleEntry32) scanner.Module {
	return scanner.Module{
		Name: windows.UTF16ToString(me.Module[:]),
		Base: me.ModBaseAddr,
		Size: int(me.ModBaseSize),
	}
}

// GetModuleBase finds a loaded module of pid by name.
func GetModuleBase(pid uint32, name string) (scanner.Module, error) {
	var found *scanner.Module
	err := modules(pid, func(me *windows.ModuleEntry32) bool {
		if strings.EqualFold(windows.UTF16ToString(me.Module[:]), name) {
			m := toModule(me)
			found = &m
			return false
		}
		return true
	})
	if err != nil {
		return scanner.Module{}, err
	}
	if found == nil {
		return scanner.Module{}, fmt.Errorf("module %s not found in %d", name, pid)
	}
	return *found, nil
}

// MainModule is the executable image of pid, the one every pattern targets.
func MainModule(pid uint32) (scanner.Module, error) {
	var found *scanner.Module
	err := modules(pid, func(me *windows.ModuleEntry32) bool {
		m := toModule(me)
		found = &m
		return false
	})
	if err != nil {
		return scanner.Module{}, err
	}
	if found == nil {
		return scanner.Module{}, fmt.Errorf("no modules in %d", pid)
	}
	return *found, nil
}

func OpenProcess(pid uint32) (windows.Handle, error) {
	return windows.OpenProcess(processAllAccess, false, pid)
}
