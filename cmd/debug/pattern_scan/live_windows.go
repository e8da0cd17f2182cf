//go:build windows

package main

import (
	"fmt"

	"golang.org/x/sys/windows"

	"nosbind/memory"
	"nosbind/process"
	"nosbind/scanner"
)

// attach opens a running client for reading. name wins over pid when both
// are given.
func attach(pid uint32, name string) (memory.Reader, scanner.Module, func(), error) {
	var (
		module scanner.Module
		err    error
	)
	if name != "" {
		if pid, err = process.FindProcess(name); err != nil {
			return nil, scanner.Module{}, nil, err
		}
		module, err = process.GetModuleBase(pid, name)
	} else {
		module, err = process.MainModule(pid)
	}
	if err != nil {
		return nil, scanner.Module{}, nil, err
	}

	handle, err := process.OpenProcess(pid)
	if err != nil {
		return nil, scanner.Module{}, nil, fmt.Errorf("open process %d: %w", pid, err)
	}
	detach := func() { _ = windows.CloseHandle(handle) }
	return memory.External{Handle: handle}, module, detach, nil
}
