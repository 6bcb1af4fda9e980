package dump

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/cvuchener/libdfs/process"
	"github.com/cvuchener/libdfs/process/memory_map"
	"github.com/cvuchener/libdfs/process/memview"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	src := memview.New([]byte{0xde, 0xad, 0xbe, 0xef}, 0x1000)
	page := make([]byte, 4096)
	for i := range page {
		page[i] = byte(i)
	}
	src.AddRegion(0x400000, page)

	mm := []memory_map.MemoryMapItem{
		{Address: 0x400000, Size: uint(len(page)), Perms: "r-xp"},
		{Address: 0x500000, Size: 4096, Perms: "---p"}, // unreadable, no blob expected
	}

	dir := t.TempDir()
	if err := Save(context.Background(), src, mm, dir); err != nil {
		t.Fatalf("Save: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 3 { // metadata, memory map, one blob
		t.Fatalf("expected 3 files, got %d", len(entries))
	}

	loaded, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	id, err := loaded.ID(context.Background())
	if err != nil || string(id) != string([]byte{0xde, 0xad, 0xbe, 0xef}) {
		t.Fatalf("ID mismatch: %v %v", id, err)
	}
	base, err := loaded.BaseOffset(context.Background())
	if err != nil || base != 0x1000 {
		t.Fatalf("BaseOffset mismatch: %v %v", base, err)
	}

	got := make([]byte, 16)
	if err := loaded.Read(context.Background(), process.MemoryBuffer{Address: 0x400000, Data: got}); err != nil {
		t.Fatalf("Read: %v", err)
	}
	for i, b := range got {
		if b != byte(i) {
			t.Fatalf("byte %d: got %d want %d", i, b, i)
		}
	}

	if err := loaded.Read(context.Background(), process.MemoryBuffer{Address: 0x500000, Data: make([]byte, 1)}); err == nil {
		t.Fatalf("expected error reading unsaved region")
	}
}

func TestPreviewRegion(t *testing.T) {
	src := memview.New([]byte{0xde, 0xad, 0xbe, 0xef}, 0x1000)
	page := make([]byte, 32)
	for i := range page {
		page[i] = byte(i)
	}
	src.AddRegion(0x400000, page)

	mm := []memory_map.MemoryMapItem{{Address: 0x400000, Size: uint(len(page)), Perms: "r-xp"}}
	dir := t.TempDir()
	if err := Save(context.Background(), src, mm, dir); err != nil {
		t.Fatalf("Save: %v", err)
	}

	out, err := PreviewRegion(dir, 0x400000)
	if err != nil {
		t.Fatalf("PreviewRegion: %v", err)
	}
	if !strings.Contains(out, "00") || !strings.Contains(out, "1f") {
		t.Fatalf("preview missing expected byte values: %q", out)
	}

	if _, err := PreviewRegion(dir, 0x999999); err == nil {
		t.Fatalf("expected error for unrecorded address")
	}
}
