//go:build linux

package linux

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/cvuchener/libdfs/process"
)

// LinuxProcessFinder implements process.ProcessFinder over /proc.
type LinuxProcessFinder struct{}

// NewProcessFinder creates a LinuxProcessFinder.
func NewProcessFinder() process.ProcessFinder {
	return &LinuxProcessFinder{}
}

func (f *LinuxProcessFinder) FindProcessByPID(pid process.ProcessID) (*process.ProcessInfo, error) {
	if _, err := os.Stat(fmt.Sprintf("/proc/%d", pid)); os.IsNotExist(err) {
		return nil, fmt.Errorf("process with PID %d does not exist", pid)
	}
	return procInfo(pid)
}

func (f *LinuxProcessFinder) FindProcessByName(name string) ([]process.ProcessInfo, error) {
	return findMatching(func(info *process.ProcessInfo) bool { return info.Name == name })
}

func (f *LinuxProcessFinder) FindProcessByNamePattern(pattern string) ([]process.ProcessInfo, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern: %w", err)
	}
	return findMatching(func(info *process.ProcessInfo) bool { return re.MatchString(info.Name) })
}

func (f *LinuxProcessFinder) FindAllProcesses() ([]process.ProcessInfo, error) {
	return findMatching(func(*process.ProcessInfo) bool { return true })
}

// FindByBuildID returns every running process whose main executable's
// identity (whole-file MD5 digest for an ELF image, the PE header timestamp
// for a Wine-hosted image) equals id. This locates a target when all that
// is known about it is its symbol-table entry.
func (f *LinuxProcessFinder) FindByBuildID(id []byte) ([]process.ProcessInfo, error) {
	return findMatching(func(info *process.ProcessInfo) bool {
		if info.Exe == "" {
			return false
		}
		got, err := identityOfExe(fmt.Sprintf("/proc/%d/exe", info.PID))
		if err != nil {
			return false
		}
		return bytes.Equal(got, id)
	})
}

// findMatching walks the numeric entries of /proc, keeping every process
// accept returns true for. Processes that vanish mid-walk are skipped.
func findMatching(accept func(*process.ProcessInfo) bool) ([]process.ProcessInfo, error) {
	entries, err := os.ReadDir("/proc")
	if err != nil {
		return nil, fmt.Errorf("failed to read /proc: %w", err)
	}
	var results []process.ProcessInfo
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		pid, err := strconv.Atoi(entry.Name())
		if err != nil {
			continue
		}
		info, err := procInfo(process.ProcessID(pid))
		if err != nil {
			continue
		}
		if accept(info) {
			results = append(results, *info)
		}
	}
	return results, nil
}

// procInfo reads one process's discovery summary from /proc/<pid>.
func procInfo(pid process.ProcessID) (*process.ProcessInfo, error) {
	procPath := fmt.Sprintf("/proc/%d", pid)

	nameBytes, err := os.ReadFile(filepath.Join(procPath, "comm"))
	if err != nil {
		return nil, fmt.Errorf("failed to read process name: %w", err)
	}

	// Kernel threads have no exe link; they are still listed, just never
	// matchable by build id.
	exe, err := os.Readlink(filepath.Join(procPath, "exe"))
	if err != nil {
		exe = ""
	}

	cmdlineBytes, err := os.ReadFile(filepath.Join(procPath, "cmdline"))
	if err != nil {
		return nil, fmt.Errorf("failed to read process cmdline: %w", err)
	}
	var cmdline []string
	if len(cmdlineBytes) > 0 {
		cmdlineBytes = bytes.TrimSuffix(cmdlineBytes, []byte{0})
		for _, arg := range bytes.Split(cmdlineBytes, []byte{0}) {
			cmdline = append(cmdline, string(arg))
		}
	}

	info := &process.ProcessInfo{
		PID:     pid,
		Name:    strings.TrimSpace(string(nameBytes)),
		Exe:     exe,
		Cmdline: cmdline,
	}

	if statusBytes, err := os.ReadFile(filepath.Join(procPath, "status")); err == nil {
		for _, line := range strings.Split(string(statusBytes), "\n") {
			key, value, found := strings.Cut(line, ":")
			if !found {
				continue
			}
			value = strings.TrimSpace(value)
			switch strings.TrimSpace(key) {
			case "PPid":
				if ppid, err := strconv.Atoi(value); err == nil {
					info.PPID = process.ProcessID(ppid)
				}
			case "State":
				if len(value) > 0 {
					info.State = process.ProcessState(value[:1])
				}
			}
		}
	}
	return info, nil
}
