package persistence

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/Voskan/marker-cache/internal/bloom"
	"github.com/Voskan/marker-cache/internal/hashcore"
	"github.com/Voskan/marker-cache/internal/ring"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	m, k := bloom.Params(0.01, 100)
	f := bloom.New(m, k)
	f.Insert(hashcore.Sum128([]byte("archived-marker")))
	rng := ring.TimeRange{Lo: 100, Hi: 159}

	if err := Save(dir, rng, f); err != nil {
		t.Fatalf("save: %v", err)
	}

	gotRng, gotFilter, err := Load(filepath.Join(dir, "100.filter"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if gotRng != rng {
		t.Fatalf("range mismatch: got %+v want %+v", gotRng, rng)
	}
	if !gotFilter.Lookup(hashcore.Sum128([]byte("archived-marker"))) {
		t.Fatalf("expected loaded filter to still contain the marker")
	}
}

func TestListSortsByLo(t *testing.T) {
	dir := t.TempDir()
	m, k := bloom.Params(0.01, 10)
	for _, lo := range []int64{300, 100, 200} {
		f := bloom.New(m, k)
		if err := Save(dir, ring.TimeRange{Lo: lo, Hi: lo + 59}, f); err != nil {
			t.Fatalf("save: %v", err)
		}
	}
	entries, err := List(dir)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	for i, want := range []int64{100, 200, 300} {
		if entries[i].Lo != want {
			t.Fatalf("entries not sorted: got %+v", entries)
		}
	}
}

func TestListSkipsUnparseableFiles(t *testing.T) {
	dir := t.TempDir()
	m, k := bloom.Params(0.01, 10)
	if err := Save(dir, ring.TimeRange{Lo: 5, Hi: 64}, bloom.New(m, k)); err != nil {
		t.Fatalf("save: %v", err)
	}
	// A stray file that doesn't match {lo}.filter should be ignored.
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("hello"), 0o644); err != nil {
		t.Fatalf("write junk file: %v", err)
	}

	entries, err := List(dir)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d: %+v", len(entries), entries)
	}
}

func TestDeleteIsNoopWhenAbsent(t *testing.T) {
	dir := t.TempDir()
	if err := Delete(dir, 12345); err != nil {
		t.Fatalf("expected delete of absent file to succeed, got %v", err)
	}
}

func TestListOnMissingDir(t *testing.T) {
	entries, err := List(filepath.Join(t.TempDir(), "does-not-exist"))
	if err != nil {
		t.Fatalf("expected nil error for missing dir, got %v", err)
	}
	if entries != nil {
		t.Fatalf("expected nil entries, got %+v", entries)
	}
}
