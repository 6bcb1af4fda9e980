package aob

import (
	"context"
	"testing"

	"github.com/cvuchener/libdfs/process"
	"github.com/cvuchener/libdfs/process/memory_map"
	"github.com/cvuchener/libdfs/process/memview"
)

func buildTarget() (*memview.Process, []memory_map.MemoryMapItem) {
	region := make([]byte, 64)
	copy(region[10:], []byte{0xDE, 0xAD, 0xBE, 0xEF})
	copy(region[40:], []byte{0xDE, 0xAD, 0xBE, 0xEF})

	p := memview.New(nil, 0)
	p.AddRegion(0x1000, region)

	mm := []memory_map.MemoryMapItem{
		{Address: 0x1000, Size: uint(len(region)), Perms: "r-xp"},
		{Address: 0x2000, Size: 16, Perms: "---p"}, // unreadable, must be skipped
	}
	return p, mm
}

func TestScanExactMatch(t *testing.T) {
	p, mm := buildTarget()
	pattern, _ := process.NewAOB([]byte{0xDE, 0xAD, 0xBE, 0xEF}, []byte{0xFF, 0xFF, 0xFF, 0xFF})

	results, err := Scan(context.Background(), p, mm, pattern)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	want := []process.ProcessMemoryAddress{0x100A, 0x1028}
	if len(results) != len(want) {
		t.Fatalf("got %d results, want %d: %v", len(results), len(want), results)
	}
	for i := range want {
		if results[i] != want[i] {
			t.Fatalf("result %d: got %v want %v", i, results[i], want[i])
		}
	}
}

func TestScanWildcardMask(t *testing.T) {
	p, mm := buildTarget()
	pattern := process.AOB{
		Pattern: []byte{0xDE, 0x00, 0xBE, 0xEF},
		Mask:    []byte{0xFF, 0x00, 0xFF, 0xFF},
	}

	results, err := Scan(context.Background(), p, mm, pattern)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2: %v", len(results), results)
	}
}

func TestScanNoMaskDefaultsExact(t *testing.T) {
	p, mm := buildTarget()
	pattern := process.AOB{Pattern: []byte{0xDE, 0xAD, 0xBE, 0xEF}}

	results, err := Scan(context.Background(), p, mm, pattern)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
}

func TestScanParallelMatchesScan(t *testing.T) {
	p, mm := buildTarget()
	pattern, _ := process.NewAOB([]byte{0xDE, 0xAD, 0xBE, 0xEF}, []byte{0xFF, 0xFF, 0xFF, 0xFF})

	sequential, err := Scan(context.Background(), p, mm, pattern)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	parallel, err := ScanParallel(context.Background(), p, mm, pattern, 4)
	if err != nil {
		t.Fatalf("ScanParallel: %v", err)
	}
	if len(parallel) != len(sequential) {
		t.Fatalf("ScanParallel found %d, Scan found %d", len(parallel), len(sequential))
	}
}

func TestScanFirstNotFound(t *testing.T) {
	p, mm := buildTarget()
	pattern, _ := process.NewAOB([]byte{0x90, 0x90, 0x90}, []byte{0xFF, 0xFF, 0xFF})

	if _, err := ScanFirst(context.Background(), p, mm, pattern); err == nil {
		t.Fatalf("expected error when pattern is absent")
	}
}

func TestScanEmptyPattern(t *testing.T) {
	p, mm := buildTarget()
	if _, err := Scan(context.Background(), p, mm, process.AOB{}); err == nil {
		t.Fatalf("expected error for empty pattern")
	}
}
