package diag

import (
	"errors"
	"testing"
)

func TestCollectorJoinsAndSorts(t *testing.T) {
	c := NewCollector(NewLogger("diag-test"))
	c.Add(errors.New("zeta problem"))
	c.Add(nil)
	c.Add(errors.New("alpha problem"))

	if c.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", c.Len())
	}
	err := c.Err()
	if err == nil {
		t.Fatalf("Err() = nil, want a joined error")
	}
	want := "alpha problem\nzeta problem"
	if err.Error() != want {
		t.Fatalf("Err() = %q, want %q", err.Error(), want)
	}
}

func TestCollectorEmpty(t *testing.T) {
	c := NewCollector(nil)
	if err := c.Err(); err != nil {
		t.Fatalf("Err() = %v, want nil", err)
	}
}
