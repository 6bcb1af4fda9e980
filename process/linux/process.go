//go:build linux

// Package linux is the native Linux backend for process.Process:
// process_vm_readv reads, signal-based stop/cont, and /proc/<pid>/maps-driven
// identity and base-offset computation.
package linux

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"
	"syscall"

	"github.com/cvuchener/libdfs/internal/diag"
	"github.com/cvuchener/libdfs/process"
	"github.com/cvuchener/libdfs/process/memory_map"

	"github.com/Moonlight-Companies/gologger/logger"
)

// LinuxProcess implements process.Process over a live target PID.
type LinuxProcess struct {
	pid process.ProcessID
	log *logger.Logger

	mu sync.Mutex
	mm []memory_map.MemoryMapItem

	baseOffsetOnce sync.Once
	baseOffset     int64
	baseOffsetErr  error
}

// New creates an unopened LinuxProcess.
func New() process.Process {
	return &LinuxProcess{
		log: diag.NewLogger("process-not-open"),
	}
}

// NewWithPID creates a LinuxProcess and attaches it to pid.
func NewWithPID(pid process.ProcessID) (process.Process, error) {
	p := &LinuxProcess{pid: pid}
	p.log = diag.NewLogger(fmt.Sprintf("process-%d", pid))
	if _, err := os.Stat(fmt.Sprintf("/proc/%d", pid)); os.IsNotExist(err) {
		return nil, fmt.Errorf("process with PID %d does not exist", pid)
	}
	if err := p.updateMemoryMap(); err != nil {
		return nil, fmt.Errorf("failed to read initial memory map: %w", err)
	}
	return p, nil
}

func (p *LinuxProcess) updateMemoryMap() error {
	mm, err := memory_map.NewLinuxMemoryMap().ReadMemoryMap(int(p.pid))
	if err != nil {
		return err
	}
	sort.Slice(mm, func(i, j int) bool { return mm[i].Address < mm[j].Address })
	p.mu.Lock()
	p.mm = mm
	p.mu.Unlock()
	return nil
}

// ID computes the target's version identifier: the MD5 digest of its main
// executable for a native Linux image, or the PE timestamp for a Wine
// image.
func (p *LinuxProcess) ID(ctx context.Context) ([]byte, error) {
	return identityOfExe(fmt.Sprintf("/proc/%d/exe", p.pid))
}

// BaseOffset is zero for a natively compiled Linux image; for a Wine target
// it's the difference between the module's mapped load address and the PE
// header's declared image base, computed once and cached.
func (p *LinuxProcess) BaseOffset(ctx context.Context) (int64, error) {
	p.baseOffsetOnce.Do(func() {
		exe := fmt.Sprintf("/proc/%d/exe", p.pid)
		if !isPEImage(exe) {
			p.baseOffset = 0
			return
		}
		p.mu.Lock()
		mm := p.mm
		p.mu.Unlock()
		loadAddr, ok := moduleLoadAddress(exe, mm)
		if !ok {
			p.baseOffsetErr = fmt.Errorf("linuxproc: could not find mapped base of %s", exe)
			return
		}
		imageBase, err := peImageBase(exe)
		if err != nil {
			p.baseOffsetErr = fmt.Errorf("linuxproc: PE image base: %w", err)
			return
		}
		p.baseOffset = int64(loadAddr) - int64(imageBase)
	})
	return p.baseOffset, p.baseOffsetErr
}

// Stop pauses every thread of the target by sending SIGSTOP. There is no
// ptrace attach: a tracer-free stop is enough to keep memory from moving
// under a read, which is all this layer promises.
func (p *LinuxProcess) Stop(ctx context.Context) error {
	if err := syscall.Kill(int(p.pid), syscall.SIGSTOP); err != nil {
		return fmt.Errorf("linuxproc: SIGSTOP: %w", err)
	}
	p.log.Debugln("stopped")
	return nil
}

// Cont resumes every thread of the target with SIGCONT.
func (p *LinuxProcess) Cont(ctx context.Context) error {
	if err := syscall.Kill(int(p.pid), syscall.SIGCONT); err != nil {
		return fmt.Errorf("linuxproc: SIGCONT: %w", err)
	}
	p.log.Debugln("resumed")
	return nil
}

// Sync just runs task: there is no decorator-level scheduling at this layer,
// ReadV already does real OS-level scatter reads, so nothing needs batching
// underneath it.
func (p *LinuxProcess) Sync(ctx context.Context, task process.Task) error {
	return task(ctx)
}

func (p *LinuxProcess) ReadV(ctx context.Context, bufs []process.MemoryBuffer) error {
	return processVMReadV(p.pid, bufs)
}

func (p *LinuxProcess) Read(ctx context.Context, buf process.MemoryBuffer) error {
	return processVMReadV(p.pid, []process.MemoryBuffer{buf})
}
