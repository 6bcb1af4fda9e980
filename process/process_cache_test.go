package process

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
)

// countingProcess wraps a Process, counting each Read/ReadV call so tests can
// assert on how many underlying fetches a decorator actually issued.
type countingProcess struct {
	Process
	reads  int32
	readVs int32
}

func (c *countingProcess) Read(ctx context.Context, buf MemoryBuffer) error {
	atomic.AddInt32(&c.reads, 1)
	return c.Process.Read(ctx, buf)
}

func (c *countingProcess) ReadV(ctx context.Context, bufs []MemoryBuffer) error {
	atomic.AddInt32(&c.readVs, 1)
	return c.Process.ReadV(ctx, bufs)
}

// fakeProcess is a minimal in-package Process backed by one flat byte image,
// used instead of process/memview to avoid an import cycle (memview imports
// this package).
type fakeProcess struct {
	base uint64
	data []byte
}

func (p *fakeProcess) ID(ctx context.Context) ([]byte, error)        { return []byte("fake"), nil }
func (p *fakeProcess) BaseOffset(ctx context.Context) (int64, error) { return 0, nil }
func (p *fakeProcess) Stop(ctx context.Context) error                { return nil }
func (p *fakeProcess) Cont(ctx context.Context) error                { return nil }
func (p *fakeProcess) Sync(ctx context.Context, task Task) error     { return task(ctx) }

func (p *fakeProcess) ReadV(ctx context.Context, bufs []MemoryBuffer) error {
	return ReadVFanOut(ctx, p, bufs)
}

func (p *fakeProcess) Read(ctx context.Context, buf MemoryBuffer) error {
	off := uint64(buf.Address) - p.base
	if off+uint64(len(buf.Data)) > uint64(len(p.data)) {
		return ErrAddressNotMapped
	}
	copy(buf.Data, p.data[off:off+uint64(len(buf.Data))])
	return nil
}

func newFakeProcess(size int) *fakeProcess {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i)
	}
	return &fakeProcess{base: 0x10000, data: data}
}

func TestProcessCacheRereadHitsCache(t *testing.T) {
	underlying := &countingProcess{Process: newFakeProcess(pageSize)}
	cache := NewProcessCache(underlying)
	ctx := context.Background()

	buf := make([]byte, 16)
	if err := cache.Read(ctx, MemoryBuffer{Address: 0x10000, Data: buf}); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if err := cache.Read(ctx, MemoryBuffer{Address: 0x10000, Data: buf}); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got := atomic.LoadInt32(&underlying.reads); got != 1 {
		t.Fatalf("underlying reads = %d, want 1", got)
	}
}

func TestProcessCacheContiguousPagesOneFetch(t *testing.T) {
	underlying := &countingProcess{Process: newFakeProcess(3 * pageSize)}
	cache := NewProcessCache(underlying)
	ctx := context.Background()

	buf := make([]byte, 2*pageSize)
	if err := cache.Read(ctx, MemoryBuffer{Address: 0x10000, Data: buf}); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got := atomic.LoadInt32(&underlying.reads); got != 1 {
		t.Fatalf("underlying reads = %d, want 1 (one run covering both pages)", got)
	}
}

func TestProcessCacheStopInvalidatesCache(t *testing.T) {
	underlying := &countingProcess{Process: newFakeProcess(pageSize)}
	cache := NewProcessCache(underlying)
	ctx := context.Background()

	buf := make([]byte, 16)
	if err := cache.Read(ctx, MemoryBuffer{Address: 0x10000, Data: buf}); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if err := cache.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := cache.Read(ctx, MemoryBuffer{Address: 0x10000, Data: buf}); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got := atomic.LoadInt32(&underlying.reads); got != 2 {
		t.Fatalf("underlying reads = %d, want 2 (cache must be dropped by Stop)", got)
	}
}

func TestProcessCacheConcurrentReadersDedupFetch(t *testing.T) {
	underlying := &countingProcess{Process: newFakeProcess(pageSize)}
	cache := NewProcessCache(underlying)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := 0; i < 8; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			buf := make([]byte, 4)
			errs[i] = cache.Read(ctx, MemoryBuffer{Address: 0x10000, Data: buf})
		}()
	}
	wg.Wait()
	for i, err := range errs {
		if err != nil {
			t.Fatalf("goroutine %d: %v", i, err)
		}
	}
	if got := atomic.LoadInt32(&underlying.reads); got != 1 {
		t.Fatalf("underlying reads = %d, want 1 (concurrent readers of the same page must dedup)", got)
	}
}

func TestProcessCacheReturnsCorrectBytes(t *testing.T) {
	underlying := newFakeProcess(pageSize)
	cache := NewProcessCache(underlying)
	ctx := context.Background()

	buf := make([]byte, 8)
	if err := cache.Read(ctx, MemoryBuffer{Address: 0x10000 + 10, Data: buf}); err != nil {
		t.Fatalf("Read: %v", err)
	}
	for i, b := range buf {
		if want := byte(10 + i); b != want {
			t.Fatalf("buf[%d] = %d, want %d", i, b, want)
		}
	}
}
