//go:build windows

// Package windows is the native Windows backend for process.Process:
// ReadProcessMemory reads, NtSuspendProcess/NtResumeProcess stop/cont, and
// PE-header identity and base-offset computation on the target's main
// module.
package windows

import (
	"context"
	"fmt"
	"sync"
	"syscall"
	"unsafe"

	"github.com/cvuchener/libdfs/internal/diag"
	"github.com/cvuchener/libdfs/process"

	"github.com/Moonlight-Companies/gologger/logger"
)

var (
	modkernel32 = syscall.NewLazyDLL("kernel32.dll")
	modntdll    = syscall.NewLazyDLL("ntdll.dll")
	modpsapi    = syscall.NewLazyDLL("psapi.dll")

	procOpenProcess                = modkernel32.NewProc("OpenProcess")
	procCloseHandle                = modkernel32.NewProc("CloseHandle")
	procReadProcessMemory          = modkernel32.NewProc("ReadProcessMemory")
	procQueryFullProcessImageNameW = modkernel32.NewProc("QueryFullProcessImageNameW")
	procNtSuspendProcess           = modntdll.NewProc("NtSuspendProcess")
	procNtResumeProcess            = modntdll.NewProc("NtResumeProcess")
	procEnumProcessModules         = modpsapi.NewProc("EnumProcessModules")
	procGetModuleInformation       = modpsapi.NewProc("GetModuleInformation")
)

const (
	processVMRead           = 0x0010
	processQueryInformation = 0x0400
	processSuspendResume    = 0x0800
)

// WindowsProcess implements process.Process over a live target PID.
type WindowsProcess struct {
	pid    process.ProcessID
	handle syscall.Handle
	log    *logger.Logger

	mu sync.Mutex

	baseOffsetOnce sync.Once
	baseOffset     int64
	baseOffsetErr  error
}

// New creates an unopened WindowsProcess.
func New() process.Process {
	return &WindowsProcess{
		log: diag.NewLogger("process-not-open"),
	}
}

// NewWithPID opens pid with the access rights the read/stop/cont contract
// needs and nothing more.
func NewWithPID(pid process.ProcessID) (process.Process, error) {
	handle, _, err := procOpenProcess.Call(
		uintptr(processVMRead|processQueryInformation|processSuspendResume),
		0,
		uintptr(pid),
	)
	if handle == 0 {
		return nil, fmt.Errorf("winproc: OpenProcess(%d): %v", pid, err)
	}
	p := &WindowsProcess{
		pid:    pid,
		handle: syscall.Handle(handle),
	}
	p.log = diag.NewLogger(fmt.Sprintf("process-%d", pid))
	return p, nil
}

// Close releases the process handle.
func (p *WindowsProcess) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.handle == 0 {
		return nil
	}
	ret, _, err := procCloseHandle.Call(uintptr(p.handle))
	if ret == 0 {
		return fmt.Errorf("winproc: CloseHandle: %v", err)
	}
	p.handle = 0
	return nil
}

// ID computes the target's version identifier: the 4-byte PE header
// timestamp of its main module, in the same big-endian byte order the
// symbol table's binary-timestamp values decode to.
func (p *WindowsProcess) ID(ctx context.Context) ([]byte, error) {
	path, err := p.imagePath()
	if err != nil {
		return nil, err
	}
	ts, err := peTimestamp(path)
	if err != nil {
		return nil, fmt.Errorf("winproc: PE identity: %w", err)
	}
	return []byte{byte(ts >> 24), byte(ts >> 16), byte(ts >> 8), byte(ts)}, nil
}

// BaseOffset is the difference between the main module's mapped load
// address and the PE optional header's declared image base, computed once
// and cached.
func (p *WindowsProcess) BaseOffset(ctx context.Context) (int64, error) {
	p.baseOffsetOnce.Do(func() {
		loadAddr, err := p.moduleBase()
		if err != nil {
			p.baseOffsetErr = err
			return
		}
		path, err := p.imagePath()
		if err != nil {
			p.baseOffsetErr = err
			return
		}
		imageBase, err := peImageBase(path)
		if err != nil {
			p.baseOffsetErr = fmt.Errorf("winproc: PE image base: %w", err)
			return
		}
		p.baseOffset = int64(loadAddr) - int64(imageBase)
	})
	return p.baseOffset, p.baseOffsetErr
}

// Stop suspends every thread of the target.
func (p *WindowsProcess) Stop(ctx context.Context) error {
	status, _, _ := procNtSuspendProcess.Call(uintptr(p.handle))
	if status != 0 {
		return fmt.Errorf("winproc: NtSuspendProcess: status %#x", status)
	}
	p.log.Debugln("stopped")
	return nil
}

// Cont resumes every thread of the target.
func (p *WindowsProcess) Cont(ctx context.Context) error {
	status, _, _ := procNtResumeProcess.Call(uintptr(p.handle))
	if status != 0 {
		return fmt.Errorf("winproc: NtResumeProcess: status %#x", status)
	}
	p.log.Debugln("resumed")
	return nil
}

// Sync just runs task: there is no decorator-level scheduling at this
// layer.
func (p *WindowsProcess) Sync(ctx context.Context, task process.Task) error {
	return task(ctx)
}

// Read fills buf.Data via ReadProcessMemory, fully or not at all.
func (p *WindowsProcess) Read(ctx context.Context, buf process.MemoryBuffer) error {
	if len(buf.Data) == 0 {
		return nil
	}
	p.mu.Lock()
	handle := p.handle
	p.mu.Unlock()
	if handle == 0 {
		return process.ErrProcessNotOpen
	}

	var bytesRead uintptr
	ret, _, err := procReadProcessMemory.Call(
		uintptr(handle),
		uintptr(buf.Address),
		uintptr(unsafe.Pointer(&buf.Data[0])),
		uintptr(len(buf.Data)),
		uintptr(unsafe.Pointer(&bytesRead)),
	)
	if ret == 0 {
		return fmt.Errorf("winproc: ReadProcessMemory(%#x, %d): %v", uint64(buf.Address), len(buf.Data), err)
	}
	if bytesRead != uintptr(len(buf.Data)) {
		return fmt.Errorf("winproc: %w: got %d of %d bytes", process.ErrPartialRead, bytesRead, len(buf.Data))
	}
	return nil
}

// ReadV fans out to Read: ReadProcessMemory has no scatter form.
func (p *WindowsProcess) ReadV(ctx context.Context, bufs []process.MemoryBuffer) error {
	return process.ReadVFanOut(ctx, p, bufs)
}

var _ process.Process = (*WindowsProcess)(nil)
