// Package dump saves a target's identity, memory map and readable memory
// regions to disk, and loads a prior dump back as a process.Process (via
// process/memview) for offline analysis. On-disk layout: a metadata.json,
// a process_memory_map.json, and one blob_0x<addr>_<size>.bin per saved
// region.
package dump

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/cvuchener/libdfs/hexdump"
	"github.com/cvuchener/libdfs/process"
	"github.com/cvuchener/libdfs/process/memory_map"
	"github.com/cvuchener/libdfs/process/memview"
)

const metadataFile = "metadata.json"
const memoryMapFile = "process_memory_map.json"

// Metadata is the saved identity information a dump carries, independent
// of the memory map and region blobs.
type Metadata struct {
	ID         []byte `json:"id"`
	BaseOffset int64  `json:"base_offset"`
}

// MaxRegionSize bounds how large a single mapped region can be before Save
// skips its contents (the region is still recorded in the memory map, just
// without a corresponding blob file), guarding against pathological regions
// like the kernel's vsyscall page aliasing or an oversized heap mapping.
const MaxRegionSize = 512 * 1024 * 1024

// Save reads every readable region of mm through p and writes dirname's
// three-part layout. Regions that aren't readable or that exceed
// MaxRegionSize are recorded in the memory map but have no blob file.
func Save(ctx context.Context, p process.Process, mm []memory_map.MemoryMapItem, dirname string) error {
	if err := os.MkdirAll(dirname, 0o755); err != nil {
		return fmt.Errorf("dump: creating %s: %w", dirname, err)
	}

	id, err := p.ID(ctx)
	if err != nil {
		return fmt.Errorf("dump: reading process id: %w", err)
	}
	baseOffset, err := p.BaseOffset(ctx)
	if err != nil {
		return fmt.Errorf("dump: reading base offset: %w", err)
	}
	metadata := Metadata{ID: id, BaseOffset: baseOffset}
	metadataBytes, err := json.MarshalIndent(metadata, "", "  ")
	if err != nil {
		return fmt.Errorf("dump: marshaling metadata: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dirname, metadataFile), metadataBytes, 0o644); err != nil {
		return fmt.Errorf("dump: writing metadata: %w", err)
	}

	mmBytes, err := json.MarshalIndent(mm, "", "  ")
	if err != nil {
		return fmt.Errorf("dump: marshaling memory map: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dirname, memoryMapFile), mmBytes, 0o644); err != nil {
		return fmt.Errorf("dump: writing memory map: %w", err)
	}

	for _, region := range mm {
		if !region.IsReadable() {
			continue
		}
		if region.Size == 0 || region.Size > MaxRegionSize {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		data := make([]byte, region.Size)
		if err := p.Read(ctx, process.MemoryBuffer{Address: process.ProcessMemoryAddress(region.Address), Data: data}); err != nil {
			// Unreadable regions (e.g. guard pages misreported as
			// readable) are skipped rather than failing the whole dump.
			continue
		}

		blobName := fmt.Sprintf("blob_0x%x_%d.bin", region.Address, region.Size)
		if err := os.WriteFile(filepath.Join(dirname, blobName), data, 0o644); err != nil {
			return fmt.Errorf("dump: writing %s: %w", blobName, err)
		}
	}

	return nil
}

// Load reconstructs a memview.Process from a directory written by Save.
// Regions with no blob file (skipped by Save) are recorded in the memory
// map but unreadable in the returned process.
func Load(dirname string) (*memview.Process, error) {
	metadataBytes, err := os.ReadFile(filepath.Join(dirname, metadataFile))
	if err != nil {
		return nil, fmt.Errorf("dump: reading metadata: %w", err)
	}
	var metadata Metadata
	if err := json.Unmarshal(metadataBytes, &metadata); err != nil {
		return nil, fmt.Errorf("dump: unmarshaling metadata: %w", err)
	}

	mmBytes, err := os.ReadFile(filepath.Join(dirname, memoryMapFile))
	if err != nil {
		return nil, fmt.Errorf("dump: reading memory map: %w", err)
	}
	var mm []memory_map.MemoryMapItem
	if err := json.Unmarshal(mmBytes, &mm); err != nil {
		return nil, fmt.Errorf("dump: unmarshaling memory map: %w", err)
	}
	sort.Slice(mm, func(i, j int) bool { return mm[i].Address < mm[j].Address })

	p := memview.New(metadata.ID, metadata.BaseOffset)
	for _, region := range mm {
		blobName := fmt.Sprintf("blob_0x%x_%d.bin", region.Address, region.Size)
		data, err := os.ReadFile(filepath.Join(dirname, blobName))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("dump: reading %s: %w", blobName, err)
		}
		p.AddRegion(region.Address, data)
	}
	return p, nil
}

// PreviewRegion renders a colorized hex dump of the blob saved for the
// region starting at address, annotated with the dump's own memory map so
// values that look like pointers into other saved regions are called out.
// Intended for inspecting a dump on a terminal, not for parsing.
func PreviewRegion(dirname string, address uint64) (string, error) {
	mmBytes, err := os.ReadFile(filepath.Join(dirname, memoryMapFile))
	if err != nil {
		return "", fmt.Errorf("dump: reading memory map: %w", err)
	}
	var mm []memory_map.MemoryMapItem
	if err := json.Unmarshal(mmBytes, &mm); err != nil {
		return "", fmt.Errorf("dump: unmarshaling memory map: %w", err)
	}

	var region *memory_map.MemoryMapItem
	for i := range mm {
		if mm[i].Address == address {
			region = &mm[i]
			break
		}
	}
	if region == nil {
		return "", fmt.Errorf("dump: no region recorded at %#x", address)
	}

	blobName := fmt.Sprintf("blob_0x%x_%d.bin", region.Address, region.Size)
	data, err := os.ReadFile(filepath.Join(dirname, blobName))
	if err != nil {
		return "", fmt.Errorf("dump: reading %s: %w", blobName, err)
	}

	options := hexdump.DefaultOptions()
	options.StartOffset = address
	options.ShowPointers = true
	options.MemoryMap = mm
	return hexdump.Dump(data, options), nil
}
