// Package aob scans a target's memory regions for a byte pattern, with an
// optional wildcard mask. It is how a session discovers the signature bytes
// used for version matching when a target's executable identity alone isn't
// enough.
package aob

import (
	"bytes"
	"context"
	"fmt"
	"runtime"
	"sync"

	"github.com/cvuchener/libdfs/process"
	"github.com/cvuchener/libdfs/process/memory_map"
)

// normalizeMask fills in an all-0xFF (exact-match) mask when the caller
// didn't supply one, and validates lengths otherwise.
func normalizeMask(pat process.AOB) (process.AOB, error) {
	if len(pat.Pattern) == 0 {
		return process.AOB{}, fmt.Errorf("aob: empty pattern")
	}
	if len(pat.Mask) == 0 {
		pat.Mask = bytes.Repeat([]byte{0xFF}, len(pat.Pattern))
		return pat, nil
	}
	if len(pat.Mask) != len(pat.Pattern) {
		return process.AOB{}, fmt.Errorf("aob: mask length (%d) doesn't match pattern length (%d)", len(pat.Mask), len(pat.Pattern))
	}
	return pat, nil
}

// matches returns every offset in data where pattern/mask line up.
func matches(data, pattern, mask []byte) []uint {
	var out []uint
	for i := 0; i+len(pattern) <= len(data); i++ {
		ok := true
		for j := range pattern {
			if mask[j] != 0 && (data[i+j]&mask[j]) != (pattern[j]&mask[j]) {
				ok = false
				break
			}
		}
		if ok {
			out = append(out, uint(i))
		}
	}
	return out
}

func readableRegions(mm []memory_map.MemoryMapItem) []memory_map.MemoryMapItem {
	var out []memory_map.MemoryMapItem
	for _, r := range mm {
		if r.IsReadable() {
			out = append(out, r)
		}
	}
	return out
}

// Scan reads every readable region in mm through p and returns every address
// where pattern matches, in ascending region order.
func Scan(ctx context.Context, p process.Process, mm []memory_map.MemoryMapItem, pattern process.AOB) ([]process.ProcessMemoryAddress, error) {
	pattern, err := normalizeMask(pattern)
	if err != nil {
		return nil, err
	}
	var results []process.ProcessMemoryAddress
	for _, region := range readableRegions(mm) {
		data := make([]byte, region.Size)
		if err := p.Read(ctx, process.MemoryBuffer{Address: process.ProcessMemoryAddress(region.Address), Data: data}); err != nil {
			continue
		}
		for _, off := range matches(data, pattern.Pattern, pattern.Mask) {
			results = append(results, process.ProcessMemoryAddress(region.Address+uint64(off)))
		}
	}
	return results, nil
}

// ScanParallel is Scan with up to maxdop regions read concurrently: a
// buffered channel of size maxdop caps in-flight goroutines, and a mutex
// guards the shared results slice.
func ScanParallel(ctx context.Context, p process.Process, mm []memory_map.MemoryMapItem, pattern process.AOB, maxdop uint) ([]process.ProcessMemoryAddress, error) {
	if maxdop <= 1 {
		return Scan(ctx, p, mm, pattern)
	}
	pattern, err := normalizeMask(pattern)
	if err != nil {
		return nil, err
	}
	if cpu := uint(runtime.NumCPU()); maxdop > cpu {
		maxdop = cpu
	}

	regions := readableRegions(mm)
	sem := make(chan struct{}, maxdop)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var results []process.ProcessMemoryAddress

	for _, region := range regions {
		region := region
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer func() { <-sem; wg.Done() }()
			data := make([]byte, region.Size)
			if err := p.Read(ctx, process.MemoryBuffer{Address: process.ProcessMemoryAddress(region.Address), Data: data}); err != nil {
				return
			}
			offs := matches(data, pattern.Pattern, pattern.Mask)
			if len(offs) == 0 {
				return
			}
			mu.Lock()
			for _, off := range offs {
				results = append(results, process.ProcessMemoryAddress(region.Address+uint64(off)))
			}
			mu.Unlock()
		}()
	}
	wg.Wait()
	return results, nil
}

// ScanFirst returns the first match, or an error if the pattern is absent.
func ScanFirst(ctx context.Context, p process.Process, mm []memory_map.MemoryMapItem, pattern process.AOB) (process.ProcessMemoryAddress, error) {
	results, err := Scan(ctx, p, mm, pattern)
	if err != nil {
		return 0, err
	}
	if len(results) == 0 {
		return 0, fmt.Errorf("aob: pattern not found")
	}
	return results[0], nil
}
