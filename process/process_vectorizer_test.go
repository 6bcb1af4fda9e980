package process

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
)

// TestProcessVectorizerCoalescesConcurrentReads pins the ceiling to exactly
// the combined size of four concurrent reads, so the synchronous
// "overCeiling" flush path (not the best-effort idle-drain notify, whose
// exact batching is scheduler-dependent) is what necessarily fires: whichever
// goroutine's enqueue tips the running total to the ceiling flushes the
// whole pending batch, including the three others already waiting.
func TestProcessVectorizerCoalescesConcurrentReads(t *testing.T) {
	underlying := &countingProcess{Process: newFakeProcess(64)}
	v := NewProcessVectorizer(underlying, 64)
	ctx := context.Background()

	results := make([][]byte, 4)
	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := 0; i < 4; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			buf := make([]byte, 16)
			errs[i] = v.Read(ctx, MemoryBuffer{Address: ProcessMemoryAddress(0x10000 + i*16), Data: buf})
			results[i] = buf
		}()
	}
	wg.Wait()
	for i, e := range errs {
		if e != nil {
			t.Fatalf("goroutine %d: %v", i, e)
		}
	}
	if got := atomic.LoadInt32(&underlying.readVs); got != 1 {
		t.Fatalf("underlying ReadV calls = %d, want 1 (all four reads coalesced into one batch)", got)
	}
	if got := atomic.LoadInt32(&underlying.reads); got != 0 {
		t.Fatalf("underlying Read calls = %d, want 0 (batched reads must go through ReadV)", got)
	}
	for i, buf := range results {
		if buf[0] != byte(i*16) {
			t.Fatalf("results[%d][0] = %d, want %d", i, buf[0], i*16)
		}
	}
}

func TestProcessVectorizerCeilingTriggersEarlyFlush(t *testing.T) {
	underlying := &countingProcess{Process: newFakeProcess(4096)}
	v := NewProcessVectorizer(underlying, 32) // small ceiling: two 16-byte reads fill it
	ctx := context.Background()

	err := v.Sync(ctx, func(ctx context.Context) error {
		var wg sync.WaitGroup
		errs := make([]error, 2)
		for i := 0; i < 2; i++ {
			i := i
			wg.Add(1)
			go func() {
				defer wg.Done()
				buf := make([]byte, 16)
				errs[i] = v.Read(ctx, MemoryBuffer{Address: ProcessMemoryAddress(0x10000 + i*16), Data: buf})
			}()
		}
		wg.Wait()
		for _, e := range errs {
			if e != nil {
				return e
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if got := atomic.LoadInt32(&underlying.readVs); got < 1 {
		t.Fatalf("underlying ReadV calls = %d, want at least 1", got)
	}
}

func TestProcessVectorizerOversizedReadBypassesBatching(t *testing.T) {
	underlying := &countingProcess{Process: newFakeProcess(4096)}
	v := NewProcessVectorizer(underlying, 16)
	ctx := context.Background()

	buf := make([]byte, 64) // larger than the 16-byte ceiling
	if err := v.Read(ctx, MemoryBuffer{Address: 0x10000, Data: buf}); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got := atomic.LoadInt32(&underlying.reads); got != 1 {
		t.Fatalf("underlying Read calls = %d, want 1 (oversized request must bypass batching)", got)
	}
	if got := atomic.LoadInt32(&underlying.readVs); got != 0 {
		t.Fatalf("underlying ReadV calls = %d, want 0", got)
	}
}

func TestProcessVectorizerDecoratorPassthrough(t *testing.T) {
	underlying := newFakeProcess(16)
	v := NewProcessVectorizer(underlying, DefaultVectorizerCeiling)
	ctx := context.Background()

	id, err := v.ID(ctx)
	if err != nil || string(id) != "fake" {
		t.Fatalf("ID() = %q, %v", id, err)
	}
	if off, err := v.BaseOffset(ctx); err != nil || off != 0 {
		t.Fatalf("BaseOffset() = %d, %v", off, err)
	}
	if err := v.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := v.Cont(ctx); err != nil {
		t.Fatalf("Cont: %v", err)
	}
}
