package process

import (
	"context"
	"sync"
)

// pageSize is the granularity ProcessCache memoizes reads at.
const pageSize = 4096

// cachePage holds one page-aligned region: either its bytes (fetch done) or
// a pending fetch other readers can wait on.
type cachePage struct {
	data []byte
	err  error
	done chan struct{}
}

// ProcessCache decorates a Process with a page-granular read cache. Each
// incoming request is split into page-sized regions; a region already cached
// or already being fetched is awaited rather than re-read, and only the
// regions genuinely missing are fetched, grouped into maximal contiguous
// runs so one underlying Read covers an entire run. The cache is cleared by
// Stop and Cont, since the target's memory may have changed underneath it.
type ProcessCache struct {
	underlying Process

	mu    sync.Mutex
	pages map[uint64]*cachePage
}

// NewProcessCache wraps p with a page cache.
func NewProcessCache(p Process) *ProcessCache {
	return &ProcessCache{underlying: p, pages: map[uint64]*cachePage{}}
}

func pageAlignDown(addr uint64) uint64 { return addr &^ uint64(pageSize-1) }

func (c *ProcessCache) ID(ctx context.Context) ([]byte, error)        { return c.underlying.ID(ctx) }
func (c *ProcessCache) BaseOffset(ctx context.Context) (int64, error) { return c.underlying.BaseOffset(ctx) }
func (c *ProcessCache) Sync(ctx context.Context, task Task) error     { return c.underlying.Sync(ctx, task) }

func (c *ProcessCache) Stop(ctx context.Context) error {
	if err := c.underlying.Stop(ctx); err != nil {
		return err
	}
	c.reset()
	return nil
}

func (c *ProcessCache) Cont(ctx context.Context) error {
	c.reset()
	return c.underlying.Cont(ctx)
}

func (c *ProcessCache) reset() {
	c.mu.Lock()
	c.pages = map[uint64]*cachePage{}
	c.mu.Unlock()
}

func (c *ProcessCache) ReadV(ctx context.Context, bufs []MemoryBuffer) error {
	return ReadVFanOut(ctx, c, bufs)
}

// Read fills buf from the page cache, fetching only the pages not already
// resident or in flight.
func (c *ProcessCache) Read(ctx context.Context, buf MemoryBuffer) error {
	if len(buf.Data) == 0 {
		return nil
	}
	lo := uint64(buf.Address)
	hi := lo + uint64(len(buf.Data))
	start := pageAlignDown(lo)
	end := pageAlignDown(hi-1) + pageSize

	var toFetch []uint64
	var wait []*cachePage

	c.mu.Lock()
	for a := start; a < end; a += pageSize {
		pg, ok := c.pages[a]
		if !ok {
			pg = &cachePage{done: make(chan struct{})}
			c.pages[a] = pg
			toFetch = append(toFetch, a)
		}
		wait = append(wait, pg)
	}
	c.mu.Unlock()

	if len(toFetch) > 0 {
		c.fetchRuns(ctx, toFetch)
	}

	for _, pg := range wait {
		select {
		case <-pg.done:
		case <-ctx.Done():
			return ctx.Err()
		}
		if pg.err != nil {
			return pg.err
		}
	}

	for a := start; a < end; a += pageSize {
		pg := c.pages[a]
		copyLo, copyHi := max64(lo, a), min64(hi, a+pageSize)
		if copyLo < copyHi {
			copy(buf.Data[copyLo-lo:copyHi-lo], pg.data[copyLo-a:copyHi-a])
		}
	}
	return nil
}

// fetchRuns groups addrs (already page-aligned and ascending) into maximal
// contiguous runs and issues one underlying Read per run.
func (c *ProcessCache) fetchRuns(ctx context.Context, addrs []uint64) {
	for i := 0; i < len(addrs); {
		j := i + 1
		for j < len(addrs) && addrs[j] == addrs[j-1]+pageSize {
			j++
		}
		c.fetchRun(ctx, addrs[i:j])
		i = j
	}
}

func (c *ProcessCache) fetchRun(ctx context.Context, run []uint64) {
	size := len(run) * pageSize
	data := make([]byte, size)
	err := c.underlying.Read(ctx, MemoryBuffer{Address: ProcessMemoryAddress(run[0]), Data: data})

	c.mu.Lock()
	for idx, a := range run {
		pg := c.pages[a]
		if err != nil {
			pg.err = err
		} else {
			pg.data = data[idx*pageSize : (idx+1)*pageSize]
		}
	}
	c.mu.Unlock()

	for _, a := range run {
		close(c.pages[a].done)
	}
}

func max64(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}

func min64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}
