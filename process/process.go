// Package process identifies NosTale client processes.
package process

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/shirou/gopsutil/v3/process"
	"github.com/spf13/afero"
)

// DataDirectory sits next to every client executable.
const DataDirectory = "NostaleData"

type Info struct {
	PID        int32
	Name       string
	Executable string
}

// IsNostaleProcess reports whether executable looks like a NosTale client,
// i.e. whether the data directory exists beside it.
func IsNostaleProcess(fs afero.Fs, executable string) bool {
	if executable == "" {
		return false
	}
	ok, err := afero.DirExists(fs, filepath.Join(filepath.Dir(executable), DataDirectory))
	return err == nil && ok
}

// Current describes the process this code runs in.
func Current() (Info, error) {
	return FromPID(int32(os.Getpid()))
}

func FromPID(pid int32) (Info, error) {
	p, err := process.NewProcess(pid)
	if err != nil {
		return Info{}, fmt.Errorf("open process %d: %w", pid, err)
	}
	return describe(p)
}

func describe(p *process.Process) (Info, error) {
	exe, err := p.Exe()
	if err != nil {
		return Info{}, fmt.Errorf("executable of %d: %w", p.Pid, err)
	}
	name, _ := p.Name()
	return Info{PID: p.Pid, Name: name, Executable: exe}, nil
}

// FindNostaleProcesses lists every running client. Processes whose
// executable cannot be read are skipped.
func FindNostaleProcesses(fs afero.Fs) ([]Info, error) {
	procs, err := process.Processes()
	if err != nil {
		return nil, fmt.Errorf("list processes: %w", err)
	}

	var found []Info
	for _, p := range procs {
		info, err := describe(p)
		if err != nil {
			continue
		}
		if IsNostaleProcess(fs, info.Executable) {
			found = append(found, info)
		}
	}
	return found, nil
}
