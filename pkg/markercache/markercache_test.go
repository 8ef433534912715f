package markercache

import (
	"fmt"
	"math/rand"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Voskan/marker-cache/internal/ring"
)

var testArenaSeq atomic.Uint64

func newTestCache(t *testing.T, opts ...Option) *Cache {
	t.Helper()
	dir := t.TempDir()
	name := fmt.Sprintf("test-%d", testArenaSeq.Add(1))
	base := []Option{
		WithArenaName(name),
		WithArenaDir(dir),
		WithArchiveDir(dir + "/archive"),
		WithDuration(time.Minute),
		WithLifespan(4 * time.Minute),
		WithFalsePositiveRate(0.01),
		WithTotalCapacity(1000),
	}
	c, err := CreateFresh(append(base, opts...)...)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestInsertLookupRoundTrip(t *testing.T) {
	c := newTestCache(t)
	marker := []byte("call-trail-marker-1")
	c.Insert(marker)

	now := time.Now()
	if !c.Lookup(now.Add(-time.Minute), now.Add(time.Minute), marker) {
		t.Fatalf("expected hit for just-inserted marker")
	}
}

func TestLookupAuthoritativeNegative(t *testing.T) {
	c := newTestCache(t)
	now := time.Now()
	if c.Lookup(now.Add(-time.Minute), now.Add(time.Minute), []byte("never-inserted")) {
		t.Fatalf("unexpected positive for a marker that was never inserted")
	}
}

func TestAgingEvictsOldSlots(t *testing.T) {
	var clock atomic.Int64
	clock.Store(1000)
	now := func() int64 { return clock.Load() }

	c := newTestCache(t, WithClock(now))
	c.Insert([]byte("will-be-evicted"))

	// Advance the clock past the full retention window and force-age once
	// per slot so every synthetic window gets rotated out.
	for i := 0; i < 5; i++ {
		clock.Add(60)
		if err := c.MaybeAge(true); err != nil {
			t.Fatalf("age: %v", err)
		}
	}

	// Every slot has been reset once since the insert, so a query spanning
	// the whole ring must miss.
	hit := c.Lookup(time.Unix(0, 0), time.Unix(clock.Load()+3600, 0), []byte("will-be-evicted"))
	if hit {
		t.Fatalf("expected marker to be gone from every slot after the ring rotated fully")
	}
}

func TestLookupRejectsOutOfRangeQuery(t *testing.T) {
	c := newTestCache(t)
	c.Insert([]byte("inside-current-window"))
	horizon := c.RetentionHorizon()
	if c.Lookup(time.Unix(horizon-10_000, 0), time.Unix(horizon-1, 0), []byte("inside-current-window")) {
		t.Fatalf("expected no hit for a query range entirely before the retention horizon")
	}
}

func TestSaveWritesArchiveWithoutAging(t *testing.T) {
	dir := t.TempDir()
	archiveDir := dir + "/archive"
	c, err := CreateFresh(
		WithArenaName(fmt.Sprintf("save-test-%d", testArenaSeq.Add(1))),
		WithArenaDir(dir),
		WithArchiveDir(archiveDir),
		WithDuration(time.Minute),
		WithLifespan(4*time.Minute),
		WithFalsePositiveRate(0.01),
		WithTotalCapacity(1000),
	)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer c.Close()

	before := c.Ranges()
	if err := c.Save(); err != nil {
		t.Fatalf("save: %v", err)
	}
	files, err := os.ReadDir(archiveDir)
	if err != nil {
		t.Fatalf("read archive dir: %v", err)
	}
	if len(files) != len(before)-1 {
		t.Fatalf("expected one archive file per non-current slot (%d), got %d", len(before)-1, len(files))
	}
	// Save must not rotate the ring: the back slot stays current and open.
	back := c.Ranges()[len(c.Ranges())-1]
	if back.Lo == 0 {
		t.Fatalf("expected a real back range after Save, got zero value")
	}
	if back != before[len(before)-1] || back.Hi != ring.PosInf {
		t.Fatalf("expected Save to leave the open back slot %+v unchanged, got %+v", before[len(before)-1], back)
	}
}

func TestCreateFreshRejectsExistingArena(t *testing.T) {
	dir := t.TempDir()
	name := fmt.Sprintf("dup-%d", testArenaSeq.Add(1))
	c1, err := CreateFresh(
		WithArenaName(name),
		WithArenaDir(dir),
		WithArchiveDir(dir+"/archive"),
		WithDuration(time.Minute),
		WithLifespan(4*time.Minute),
		WithFalsePositiveRate(0.01),
		WithTotalCapacity(1000),
	)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer c1.Close()

	_, err = CreateFresh(
		WithArenaName(name),
		WithArenaDir(dir),
		WithArchiveDir(dir+"/archive"),
		WithDuration(time.Minute),
		WithLifespan(4*time.Minute),
		WithFalsePositiveRate(0.01),
		WithTotalCapacity(1000),
	)
	if err != ErrArenaExists {
		t.Fatalf("expected ErrArenaExists, got %v", err)
	}
}

func TestOpenReadOnlyMissingArena(t *testing.T) {
	_, err := OpenReadOnly(
		WithArenaName(fmt.Sprintf("missing-%d", testArenaSeq.Add(1))),
		WithArenaDir(t.TempDir()),
	)
	if err != ErrArenaMissing {
		t.Fatalf("expected ErrArenaMissing, got %v", err)
	}
}

func TestOpenReadOnlySeesProducerInserts(t *testing.T) {
	dir := t.TempDir()
	name := fmt.Sprintf("shared-%d", testArenaSeq.Add(1))
	producer, err := CreateFresh(
		WithArenaName(name),
		WithArenaDir(dir),
		WithArchiveDir(dir+"/archive"),
		WithDuration(time.Minute),
		WithLifespan(4*time.Minute),
		WithFalsePositiveRate(0.01),
		WithTotalCapacity(1000),
	)
	if err != nil {
		t.Fatalf("create producer: %v", err)
	}
	defer producer.Close()

	marker := []byte("cross-process-visible-marker")
	producer.Insert(marker)

	consumer, err := OpenReadOnly(WithArenaName(name), WithArenaDir(dir))
	if err != nil {
		t.Fatalf("open consumer: %v", err)
	}
	defer consumer.Close()

	now := time.Now()
	if !consumer.Lookup(now.Add(-time.Minute), now.Add(time.Minute), marker) {
		t.Fatalf("expected consumer to observe producer's insert through shared memory")
	}
}

func TestCrashRecoveryPersistsAgedSlots(t *testing.T) {
	dir := t.TempDir()
	name := fmt.Sprintf("crash-%d", testArenaSeq.Add(1))
	archiveDir := dir + "/archive"

	var clock atomic.Int64
	clock.Store(10_000)
	now := func() int64 { return clock.Load() }

	opts := []Option{
		WithArenaName(name),
		WithArenaDir(dir),
		WithArchiveDir(archiveDir),
		WithDuration(time.Second),
		WithLifespan(3 * time.Second),
		WithFalsePositiveRate(0.01),
		WithTotalCapacity(1000),
		WithClock(now),
	}

	producer, err := CreateFresh(opts...)
	if err != nil {
		t.Fatalf("create producer: %v", err)
	}
	markerTime := clock.Load()
	marker := []byte("survives-an-unclean-exit")
	producer.Insert(marker)

	// Force exactly one age cycle: this closes the slot the marker landed in
	// (spec §4.6 "on age... write {lo}.filter") and turns it into a
	// non-current, still-in-ring slot. The marker's data is not yet evicted,
	// but its only durable copy now lives in the archive file Age just wrote.
	clock.Add(1)
	if err := producer.MaybeAge(true); err != nil {
		t.Fatalf("age: %v", err)
	}

	// Simulate an unclean exit: no Save, just drop the process and its arena.
	if err := producer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	restarted, err := Create(append(opts, WithClock(func() int64 { return clock.Load() + 1 }))...)
	if err != nil {
		t.Fatalf("recreate producer: %v", err)
	}
	defer restarted.Close()

	found := restarted.Lookup(time.Unix(markerTime-1, 0), time.Unix(markerTime+1, 0), marker)
	if !found {
		t.Fatalf("expected marker persisted by Age to survive an unclean exit and be restored on recovery")
	}
}

func TestInvalidConfigRejected(t *testing.T) {
	_, err := CreateFresh(WithArenaDir(t.TempDir()), WithTotalCapacity(0))
	if err != ErrInvalidParams {
		t.Fatalf("expected ErrInvalidParams for zero capacity, got %v", err)
	}
}

func TestFalsePositiveRateBound(t *testing.T) {
	// Each slot is sized for TotalCapacity/numSlots insertions (5 slots
	// here), so a capacity of 2500 gives the current slot room for the 500
	// inserts below at the configured rate.
	c := newTestCache(t, WithFalsePositiveRate(0.01), WithTotalCapacity(2500))
	rnd := rand.New(rand.NewSource(7))
	inserted := make([][]byte, 500)
	for i := range inserted {
		b := make([]byte, 24)
		rnd.Read(b)
		inserted[i] = b
		c.Insert(b)
	}

	now := time.Now()
	falsePositives := 0
	trials := 5000
	for i := 0; i < trials; i++ {
		b := make([]byte, 24)
		rnd.Read(b)
		if c.Lookup(now.Add(-time.Minute), now.Add(time.Minute), b) {
			falsePositives++
		}
	}
	// Loose bound: true fp rate is configured at 1%; allow generous slack
	// for a single-slot sample so the test isn't flaky.
	if rate := float64(falsePositives) / float64(trials); rate > 0.05 {
		t.Fatalf("false positive rate too high: %.4f (%d/%d)", rate, falsePositives, trials)
	}
}
