// Package reader turns a schema plus a computed MemoryLayout into live Go
// values: item readers for every supported destination-type/schema-type
// combination, compound readers built from Go struct tags, a polymorphic
// dispatcher, and the session that drives reads against a stopped target
// process.
package reader

import (
	"context"
	"fmt"
	"sync"

	"github.com/cvuchener/libdfs/abi"
	"github.com/cvuchener/libdfs/layout"
	"github.com/cvuchener/libdfs/process"
	"github.com/cvuchener/libdfs/schema"
)

// sharedKey identifies a shared-pointer destination for deduplication:
// the source address plus the base Go type it was read as.
type sharedKey struct {
	address uint64
	base    string
}

// Session is a scoped interval during which the target is stopped and
// reads may be issued. It owns the read-task graph's only mutable state,
// the shared-object cache; no mutable state crosses sessions.
type Session struct {
	ctx        context.Context
	proc       process.Process
	ml         *layout.MemoryLayout
	version    *schema.VersionInfo
	baseOffset int64

	mu     sync.Mutex
	shared map[sharedKey]any
}

// NewSession stops proc for the session's duration and returns a Session
// bound to ml and version. Close must be called to resume the target,
// typically via defer.
func NewSession(ctx context.Context, proc process.Process, ml *layout.MemoryLayout, version *schema.VersionInfo) (*Session, error) {
	if err := proc.Stop(ctx); err != nil {
		return nil, fmt.Errorf("reader: stopping target: %w", err)
	}
	baseOffset, err := proc.BaseOffset(ctx)
	if err != nil {
		_ = proc.Cont(ctx)
		return nil, fmt.Errorf("reader: reading base offset: %w", err)
	}
	return &Session{
		ctx:        ctx,
		proc:       proc,
		ml:         ml,
		version:    version,
		baseOffset: baseOffset,
		shared:     map[sharedKey]any{},
	}, nil
}

// NewSessionMatching looks the target's build identifier up in s's version
// table and opens a session under the matched VersionInfo. When the
// identifier is unknown the target is never stopped and no read is
// attempted; the returned error is schema's *VersionMismatchError, which
// lists every known version.
func NewSessionMatching(ctx context.Context, proc process.Process, s *schema.Structures, ml *layout.MemoryLayout) (*Session, error) {
	id, err := proc.ID(ctx)
	if err != nil {
		return nil, fmt.Errorf("reader: reading target identifier: %w", err)
	}
	version, err := s.MatchVersion(id)
	if err != nil {
		return nil, err
	}
	return NewSession(ctx, proc, ml, version)
}

// Close resumes the target process, ending the session.
func (s *Session) Close() error {
	return s.proc.Cont(s.ctx)
}

// ABI returns the ABI the session's layout was computed under.
func (s *Session) ABI() *abi.ABI { return s.ml.ABI() }

// Layout returns the session's MemoryLayout.
func (s *Session) Layout() *layout.MemoryLayout { return s.ml }

// Version returns the matched VersionInfo driving global/vtable address lookups.
func (s *Session) Version() *schema.VersionInfo { return s.version }

// BaseOffset is the difference between the in-memory image base and the
// VersionInfo's recorded symbol addresses.
func (s *Session) BaseOffset() int64 { return s.baseOffset }

// GlobalAddress returns the in-memory address of a named global object for
// this session's version, corrected for the image base offset.
func (s *Session) GlobalAddress(name string) (uint64, bool) {
	if s.version == nil {
		return 0, false
	}
	addr, ok := s.version.GlobalAddrs[name]
	if !ok {
		return 0, false
	}
	return addr + uint64(s.baseOffset), true
}

// Read fetches size bytes at addr, running the read through proc.Sync so a
// ProcessVectorizer decorator (if present) can coalesce it with sibling
// reads issued concurrently within the same Run call.
func (s *Session) Read(addr uint64, size int) ([]byte, error) {
	data := make([]byte, size)
	var readErr error
	err := s.proc.Sync(s.ctx, func(ctx context.Context) error {
		readErr = s.proc.Read(ctx, process.MemoryBuffer{Address: process.ProcessMemoryAddress(addr), Data: data})
		return readErr
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

// ReadBytes implements abi.ByteSource so the session can be handed directly
// to ABI string/vector decoders that need out-of-line payload bytes.
func (s *Session) ReadBytes(addr uint64, size int) ([]byte, error) { return s.Read(addr, size) }

// View fetches a MemoryView covering size bytes at addr.
func (s *Session) View(addr uint64, size int) (MemoryView, error) {
	data, err := s.Read(addr, size)
	if err != nil {
		return MemoryView{}, err
	}
	return MemoryView{Address: addr, Data: data}, nil
}

// Run executes fn inside the process's cooperative driver, so any
// I/O fn performs through s.Read while fn runs is eligible for vectorizer
// coalescing or cache batching.
func (s *Session) Run(fn func() error) error {
	var inner error
	err := s.proc.Sync(s.ctx, func(ctx context.Context) error {
		inner = fn()
		return inner
	})
	if err != nil {
		return err
	}
	return inner
}

// runConcurrent runs every fn in its own goroutine and returns the first
// error, if any, grounded on process.ReadVFanOut's sync.WaitGroup fan-out
// idiom.
func runConcurrent(fns []func() error) error {
	var wg sync.WaitGroup
	errs := make([]error, len(fns))
	for i, fn := range fns {
		wg.Add(1)
		go func(i int, fn func() error) {
			defer wg.Done()
			errs[i] = fn()
		}(i, fn)
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// sharedObject returns the previously stored object for key, if any.
func (s *Session) sharedObject(key sharedKey) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.shared[key]
	return v, ok
}

// storeSharedObject records obj under key, unless another goroutine beat us
// to it (the earlier value wins, keeping identity stable).
func (s *Session) storeSharedObject(key sharedKey, obj any) any {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.shared[key]; ok {
		return v
	}
	s.shared[key] = obj
	return obj
}
