package process

import (
	"context"
	"sync"
)

// MemoryBuffer is one read request: fill Data fully from the target's memory
// starting at Address, or fail. A partial read is always an error, never a
// silent short read.
type MemoryBuffer struct {
	Address ProcessMemoryAddress
	Data    []byte
}

// Task is the unit of work a ReadSession submits to a Process driver: a
// closure that issues Read/ReadV calls (possibly many, possibly concurrently
// via goroutines of its own) and returns when every read it needed has
// completed.
type Task func(ctx context.Context) error

// Process is the target-process contract every backend (native Linux, a
// synthetic in-memory image for tests, ...) and every decorator (ProcessCache,
// ProcessVectorizer) implements. Scheduling is cooperative: the only
// suspension points a backend needs to honor are Read and ReadV; Sync is the
// driver that actually runs a session's task graph to completion.
type Process interface {
	// ID returns the bytes used to pick this target's VersionInfo: an
	// executable digest on native Linux, a PE timestamp on a Windows image.
	ID(ctx context.Context) ([]byte, error)

	// BaseOffset returns the difference between the in-memory image base and
	// the symbol table's addresses. Zero for natively compiled Linux images;
	// non-zero for a relocated PE image (Wine, or native Windows with ASLR).
	BaseOffset(ctx context.Context) (int64, error)

	// Stop pauses every thread of the target. Idempotent.
	Stop(ctx context.Context) error

	// Cont resumes every thread of the target. Idempotent.
	Cont(ctx context.Context) error

	// Read fills buf.Data from the target's memory at buf.Address.
	Read(ctx context.Context, buf MemoryBuffer) error

	// ReadV is the vector form of Read. The default embeddable
	// implementation (ReadVFanOut) fans out to Read concurrently and
	// returns the first error, if any; a native backend may override it to
	// perform a real OS-level scatter read.
	ReadV(ctx context.Context, bufs []MemoryBuffer) error

	// Sync blocks the caller until task completes, running it with whatever
	// concurrency strategy this driver (or the decorator chain wrapping it)
	// provides.
	Sync(ctx context.Context, task Task) error
}

// ReadVFanOut is the default readv: issue every buffer's Read concurrently
// and return the first error encountered, if any. Backends and decorators
// that have nothing better to offer can implement ReadV by calling this.
func ReadVFanOut(ctx context.Context, p Process, bufs []MemoryBuffer) error {
	if len(bufs) == 0 {
		return nil
	}
	if len(bufs) == 1 {
		return p.Read(ctx, bufs[0])
	}
	errs := make([]error, len(bufs))
	var wg sync.WaitGroup
	wg.Add(len(bufs))
	for i := range bufs {
		i := i
		go func() {
			defer wg.Done()
			errs[i] = p.Read(ctx, bufs[i])
		}()
	}
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
