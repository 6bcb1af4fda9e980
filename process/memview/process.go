// Package memview implements process.Process over an in-memory byte image
// instead of a live target: a synthetic process for tests, and the replay
// vehicle for dump.Load.
package memview

import (
	"context"
	"fmt"
	"sort"

	"github.com/cvuchener/libdfs/process"
	"github.com/cvuchener/libdfs/process/memory_map"
)

// region is one contiguous mapped byte range.
type region struct {
	address uint64
	data    []byte
}

// Process is a read-only synthetic process.Process backed by a fixed set of
// address ranges. Stop/Cont are no-ops (there is no live target to pause);
// ID and BaseOffset return whatever the builder configured, so tests can
// exercise version-matching and Wine-style base-offset logic without a real
// executable.
type Process struct {
	id         []byte
	baseOffset int64
	regions    []region
}

// New builds a Process with no mapped memory; use AddRegion to populate it.
func New(id []byte, baseOffset int64) *Process {
	return &Process{id: id, baseOffset: baseOffset}
}

// AddRegion maps data at address. Regions must not overlap; AddRegion keeps
// the internal region list sorted by address so Read can binary-search it.
func (p *Process) AddRegion(address uint64, data []byte) {
	p.regions = append(p.regions, region{address: address, data: data})
	sort.Slice(p.regions, func(i, j int) bool { return p.regions[i].address < p.regions[j].address })
}

// MemoryMap reports the mapped regions in the shape memory_map.MemoryMapItem
// uses, for callers (aob.Scan, identity probes) that expect that shape.
func (p *Process) MemoryMap() []memory_map.MemoryMapItem {
	items := make([]memory_map.MemoryMapItem, len(p.regions))
	for i, r := range p.regions {
		items[i] = memory_map.MemoryMapItem{Address: r.address, Size: uint(len(r.data)), Perms: "r--p"}
	}
	return items
}

func (p *Process) findRegion(addr uint64) (region, bool) {
	i := sort.Search(len(p.regions), func(i int) bool {
		return p.regions[i].address+uint64(len(p.regions[i].data)) > addr
	})
	if i < len(p.regions) && p.regions[i].address <= addr {
		return p.regions[i], true
	}
	return region{}, false
}

func (p *Process) ID(ctx context.Context) ([]byte, error) { return p.id, nil }

func (p *Process) BaseOffset(ctx context.Context) (int64, error) { return p.baseOffset, nil }

func (p *Process) Stop(ctx context.Context) error { return nil }

func (p *Process) Cont(ctx context.Context) error { return nil }

func (p *Process) Sync(ctx context.Context, task process.Task) error { return task(ctx) }

func (p *Process) ReadV(ctx context.Context, bufs []process.MemoryBuffer) error {
	for _, buf := range bufs {
		if err := p.Read(ctx, buf); err != nil {
			return err
		}
	}
	return nil
}

// Read fills buf.Data from whichever mapped region covers
// [buf.Address, buf.Address+len(buf.Data)); the whole span must lie within a
// single region, matching the "fully fill or error, never partial" contract.
func (p *Process) Read(ctx context.Context, buf process.MemoryBuffer) error {
	if len(buf.Data) == 0 {
		return nil
	}
	addr := uint64(buf.Address)
	r, ok := p.findRegion(addr)
	if !ok {
		return process.ErrAddressNotMapped
	}
	off := addr - r.address
	if off+uint64(len(buf.Data)) > uint64(len(r.data)) {
		return fmt.Errorf("memview: %w: region at 0x%x has %d bytes, read wants %d at offset %d", process.ErrPartialRead, r.address, len(r.data), len(buf.Data), off)
	}
	copy(buf.Data, r.data[off:off+uint64(len(buf.Data))])
	return nil
}

var _ process.Process = (*Process)(nil)
