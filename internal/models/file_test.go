package models

import "testing"

func TestPartArithmetic(t *testing.T) {
	tests := []struct {
		size    int64
		count   int
		lastLen int64
	}{
		{0, 0, 0},
		{1, 1, 1},
		{100, 1, 100},
		{PartSize - 1, 1, PartSize - 1},
		{PartSize, 1, PartSize},
		{PartSize + 1, 2, 1},
		{25 << 20, 3, 5 << 20},
		{3 * PartSize, 3, PartSize},
	}
	for _, tt := range tests {
		e := NewFileEntry("f", tt.size)
		if got := e.PartsCount(); got != tt.count {
			t.Errorf("size %d: PartsCount() = %d, want %d", tt.size, got, tt.count)
			continue
		}
		var sum int64
		for i := 0; i < e.PartsCount(); i++ {
			n := e.PartLength(i)
			if i < e.PartsCount()-1 && n != PartSize {
				t.Errorf("size %d: part %d length %d, want %d", tt.size, i, n, PartSize)
			}
			sum += n
		}
		if sum != tt.size {
			t.Errorf("size %d: parts sum to %d", tt.size, sum)
		}
		if tt.count > 0 {
			if got := e.PartLength(tt.count - 1); got != tt.lastLen {
				t.Errorf("size %d: last part %d, want %d", tt.size, got, tt.lastLen)
			}
		}
		if e.PartLength(tt.count) != 0 || e.PartLength(-1) != 0 {
			t.Errorf("size %d: out-of-range part has non-zero length", tt.size)
		}
	}
}

func TestTwentyFiveMiB(t *testing.T) {
	e := NewFileEntry("big.bin", 25<<20)
	want := []int64{10 << 20, 10 << 20, 5 << 20}
	if e.PartsCount() != len(want) {
		t.Fatalf("PartsCount() = %d", e.PartsCount())
	}
	for i, w := range want {
		if e.PartLength(i) != w {
			t.Fatalf("part %d = %d, want %d", i, e.PartLength(i), w)
		}
		if e.PartOffset(i) != int64(i)*(10<<20) {
			t.Fatalf("offset %d = %d", i, e.PartOffset(i))
		}
	}
}

func TestEntryEquality(t *testing.T) {
	a := NewFileEntry("a.txt", 100).WithID(0)
	b := NewFileEntry("a.txt", 100).WithID(0)
	if a != b {
		t.Fatal("structurally equal entries differ")
	}
	if a == NewFileEntry("a.txt", 100) {
		t.Fatal("entry with id equals entry without id")
	}
	if a == b.WithID(1) {
		t.Fatal("different ids compare equal")
	}
}
