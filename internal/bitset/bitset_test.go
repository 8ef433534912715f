package bitset

import "testing"

func TestBytesFor(t *testing.T) {
	cases := map[uint64]uint64{0: 0, 1: 1, 7: 1, 8: 1, 9: 2, 64: 8, 65: 9}
	for n, want := range cases {
		if got := BytesFor(n); got != want {
			t.Fatalf("BytesFor(%d) = %d, want %d", n, got, want)
		}
	}
}

func TestSetAndTest(t *testing.T) {
	b := New(100)
	if b.Test(42) {
		t.Fatalf("expected bit 42 unset initially")
	}
	b.Set(42)
	if !b.Test(42) {
		t.Fatalf("expected bit 42 set")
	}
	for _, i := range []uint64{0, 1, 41, 43, 99} {
		if b.Test(i) {
			t.Fatalf("expected bit %d to remain unset", i)
		}
	}
}

func TestResetAll(t *testing.T) {
	b := New(64)
	b.Set(0)
	b.Set(63)
	b.ResetAll()
	if b.PopCount() != 0 {
		t.Fatalf("expected zero bits set after ResetAll, got %d", b.PopCount())
	}
}

func TestPopCount(t *testing.T) {
	b := New(16)
	b.Set(0)
	b.Set(1)
	b.Set(15)
	if got := b.PopCount(); got != 3 {
		t.Fatalf("expected popcount 3, got %d", got)
	}
}

func TestViewSharesBackingArray(t *testing.T) {
	buf := make([]byte, BytesFor(32))
	b := View(buf, 32)
	b.Set(5)
	if buf[0]&(1<<5) == 0 {
		t.Fatalf("expected Set to mutate the underlying buffer")
	}
}

func TestViewPanicsOnUndersizedBuffer(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic for undersized buffer")
		}
	}()
	View(make([]byte, 1), 100)
}
