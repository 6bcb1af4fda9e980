//go:build linux

package linux

import (
	"fmt"

	"github.com/cvuchener/libdfs/process"
)

// LinuxProcessHelper implements the process.ProcessHelper interface.
type LinuxProcessHelper struct {
	Finder process.ProcessFinder
}

// NewHelper creates a new LinuxProcessHelper.
func NewHelper() process.ProcessHelper {
	return &LinuxProcessHelper{
		Finder: NewProcessFinder(),
	}
}

// New creates an unopened Process instance.
func (h *LinuxProcessHelper) New() process.Process {
	return New()
}

// NewWithPID creates a Process attached to pid.
func (h *LinuxProcessHelper) NewWithPID(pid process.ProcessID) (process.Process, error) {
	return NewWithPID(pid)
}

// OpenProcessByName opens the first process whose short name matches
// exactly.
func (h *LinuxProcessHelper) OpenProcessByName(name string) (process.Process, error) {
	processes, err := h.Finder.FindProcessByName(name)
	if err != nil {
		return nil, err
	}
	if len(processes) == 0 {
		return nil, fmt.Errorf("no process found with name '%s'", name)
	}
	return NewWithPID(processes[0].PID)
}

// OpenProcessByPattern opens the first process whose short name matches the
// regular expression pattern.
func (h *LinuxProcessHelper) OpenProcessByPattern(pattern string) (process.Process, error) {
	processes, err := h.Finder.FindProcessByNamePattern(pattern)
	if err != nil {
		return nil, err
	}
	if len(processes) == 0 {
		return nil, fmt.Errorf("no process found matching pattern '%s'", pattern)
	}
	return NewWithPID(processes[0].PID)
}

// OpenProcessByBuildID opens the first process whose main executable's
// identity equals id. This is the attach path for a caller that starts
// from a symbol table rather than a process name.
func (h *LinuxProcessHelper) OpenProcessByBuildID(id []byte) (process.Process, error) {
	finder, ok := h.Finder.(*LinuxProcessFinder)
	if !ok {
		return nil, fmt.Errorf("finder does not support build-id lookup")
	}
	processes, err := finder.FindByBuildID(id)
	if err != nil {
		return nil, err
	}
	if len(processes) == 0 {
		return nil, fmt.Errorf("no process found with build id %x", id)
	}
	return NewWithPID(processes[0].PID)
}
