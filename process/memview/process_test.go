package memview

import (
	"context"
	"testing"

	"github.com/cvuchener/libdfs/process"
)

func TestReadWithinRegion(t *testing.T) {
	p := New([]byte("id"), 0)
	p.AddRegion(0x1000, []byte{1, 2, 3, 4, 5, 6, 7, 8})

	buf := make([]byte, 4)
	if err := p.Read(context.Background(), process.MemoryBuffer{Address: 0x1002, Data: buf}); err != nil {
		t.Fatalf("Read: %v", err)
	}
	want := []byte{3, 4, 5, 6}
	for i := range want {
		if buf[i] != want[i] {
			t.Fatalf("byte %d: got %d want %d", i, buf[i], want[i])
		}
	}
}

func TestReadUnmapped(t *testing.T) {
	p := New(nil, 0)
	p.AddRegion(0x1000, make([]byte, 16))
	err := p.Read(context.Background(), process.MemoryBuffer{Address: 0x2000, Data: make([]byte, 1)})
	if err != process.ErrAddressNotMapped {
		t.Fatalf("got %v, want ErrAddressNotMapped", err)
	}
}

func TestReadSpanningPastRegionEnd(t *testing.T) {
	p := New(nil, 0)
	p.AddRegion(0x1000, make([]byte, 16))
	err := p.Read(context.Background(), process.MemoryBuffer{Address: 0x1008, Data: make([]byte, 16)})
	if err == nil {
		t.Fatalf("expected error for read spanning past region end")
	}
}

func TestReadVSequential(t *testing.T) {
	p := New(nil, 0)
	p.AddRegion(0x1000, []byte{0xaa, 0xbb})
	p.AddRegion(0x2000, []byte{0xcc, 0xdd})

	b1 := make([]byte, 1)
	b2 := make([]byte, 1)
	bufs := []process.MemoryBuffer{
		{Address: 0x1000, Data: b1},
		{Address: 0x2001, Data: b2},
	}
	if err := p.ReadV(context.Background(), bufs); err != nil {
		t.Fatalf("ReadV: %v", err)
	}
	if b1[0] != 0xaa || b2[0] != 0xdd {
		t.Fatalf("got %x %x", b1, b2)
	}
}

func TestSyncRunsTaskInline(t *testing.T) {
	p := New(nil, 0)
	ran := false
	err := p.Sync(context.Background(), func(ctx context.Context) error {
		ran = true
		return nil
	})
	if err != nil || !ran {
		t.Fatalf("Sync did not run task: ran=%v err=%v", ran, err)
	}
}
