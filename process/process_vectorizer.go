package process

import (
	"context"
	"sync"
)

// DefaultVectorizerCeiling is the soft byte budget ProcessVectorizer flushes
// its coalesced batch at when the caller doesn't configure one explicitly.
const DefaultVectorizerCeiling = 256 * 1024

type pendingRead struct {
	buf  MemoryBuffer
	done chan error
}

// ProcessVectorizer decorates a Process, coalescing many small single-buffer
// Read calls issued during one Sync's task graph into batched ReadV
// calls. A request larger than the ceiling bypasses batching and is passed
// straight through, since the ceiling is a soft limit.
type ProcessVectorizer struct {
	underlying Process
	ceiling    int

	mu      sync.Mutex
	pending []pendingRead
	bytes   int
	notify  chan struct{}
}

// NewProcessVectorizer wraps p, flushing coalesced reads once their total
// size reaches ceilingBytes.
func NewProcessVectorizer(p Process, ceilingBytes int) *ProcessVectorizer {
	if ceilingBytes <= 0 {
		ceilingBytes = DefaultVectorizerCeiling
	}
	return &ProcessVectorizer{underlying: p, ceiling: ceilingBytes, notify: make(chan struct{}, 1)}
}

func (v *ProcessVectorizer) ID(ctx context.Context) ([]byte, error)        { return v.underlying.ID(ctx) }
func (v *ProcessVectorizer) BaseOffset(ctx context.Context) (int64, error) { return v.underlying.BaseOffset(ctx) }
func (v *ProcessVectorizer) Stop(ctx context.Context) error                { return v.underlying.Stop(ctx) }
func (v *ProcessVectorizer) Cont(ctx context.Context) error                { return v.underlying.Cont(ctx) }

// ReadV bypasses batching: the caller already built its own batch.
func (v *ProcessVectorizer) ReadV(ctx context.Context, bufs []MemoryBuffer) error {
	return v.underlying.ReadV(ctx, bufs)
}

func (v *ProcessVectorizer) wake() {
	select {
	case v.notify <- struct{}{}:
	default:
	}
}

// Read enqueues buf and blocks until a flush (triggered by the ceiling, or
// by the Sync driver's idle-drain loop) fills it.
func (v *ProcessVectorizer) Read(ctx context.Context, buf MemoryBuffer) error {
	if len(buf.Data) > v.ceiling {
		return v.underlying.Read(ctx, buf)
	}

	done := make(chan error, 1)
	v.mu.Lock()
	v.pending = append(v.pending, pendingRead{buf: buf, done: done})
	v.bytes += len(buf.Data)
	overCeiling := v.bytes >= v.ceiling
	v.mu.Unlock()

	if overCeiling {
		v.flush(ctx)
	} else {
		v.wake()
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (v *ProcessVectorizer) flush(ctx context.Context) {
	v.mu.Lock()
	batch := v.pending
	v.pending = nil
	v.bytes = 0
	v.mu.Unlock()

	if len(batch) == 0 {
		return
	}
	bufs := make([]MemoryBuffer, len(batch))
	for i, p := range batch {
		bufs[i] = p.buf
	}
	err := v.underlying.ReadV(ctx, bufs)
	for _, p := range batch {
		p.done <- err
	}
}

// Sync runs task concurrently with a flushing loop that drains the pending
// queue whenever it becomes non-empty or task has finished, so a Read the
// task goroutines are blocked on is never left waiting on a queue nobody
// will ever flush again.
func (v *ProcessVectorizer) Sync(ctx context.Context, task Task) error {
	done := make(chan error, 1)
	go func() { done <- task(ctx) }()
	for {
		select {
		case err := <-done:
			v.flush(ctx)
			return err
		case <-v.notify:
			v.flush(ctx)
		}
	}
}
