//go:build linux

package linux

import (
	"fmt"
	"unsafe"

	"github.com/cvuchener/libdfs/process"

	"golang.org/x/sys/unix"
)

// ioMax is the platform's IOV limit for a single process_vm_readv call
// (UIO_MAXIOV on Linux); batches larger than this are split into multiple
// syscalls.
const ioMax = 1024

// processVMReadV fills every buf.Data via the process_vm_readv syscall,
// coalescing up to ioMax buffers into each underlying scatter read.
func processVMReadV(pid process.ProcessID, bufs []process.MemoryBuffer) error {
	for start := 0; start < len(bufs); start += ioMax {
		end := start + ioMax
		if end > len(bufs) {
			end = len(bufs)
		}
		if err := processVMReadVChunk(pid, bufs[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func processVMReadVChunk(pid process.ProcessID, bufs []process.MemoryBuffer) error {
	local := make([]unix.Iovec, 0, len(bufs))
	remote := make([]unix.RemoteIovec, 0, len(bufs))
	total := 0
	for _, b := range bufs {
		if len(b.Data) == 0 {
			continue
		}
		local = append(local, unix.Iovec{Base: &b.Data[0], Len: uint64(len(b.Data))})
		remote = append(remote, unix.RemoteIovec{Base: uintptr(b.Address), Len: len(b.Data)})
		total += len(b.Data)
	}
	if len(local) == 0 {
		return nil
	}

	n, _, errno := unix.Syscall6(
		unix.SYS_PROCESS_VM_READV,
		uintptr(pid),
		uintptr(unsafe.Pointer(&local[0])),
		uintptr(len(local)),
		uintptr(unsafe.Pointer(&remote[0])),
		uintptr(len(remote)),
		uintptr(0),
	)
	if errno != 0 {
		if errno == unix.ESRCH {
			return process.ErrProcessNotOpen
		}
		return fmt.Errorf("linuxproc: process_vm_readv: %w", errno)
	}
	if int(n) != total {
		return fmt.Errorf("linuxproc: %w: got %d of %d bytes", process.ErrPartialRead, n, total)
	}
	return nil
}
