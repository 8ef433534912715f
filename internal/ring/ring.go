// Package ring implements the bounded deque of time-windowed Bloom filters
// described in spec §4.4: a fixed-length ring whose back slot is "current"
// (open-ended, hi = +∞) and whose front slot holds the retention horizon.
//
// The ring is laid out as a fixed array of physical slots inside an
// arena.Arena's mapped bytes, plus a small header recording which physical
// slot is logically "front" right now. Aging never moves bytes: it just
// advances the header's head index and rewrites the (now-reused) front
// slot's time range and bits, turning it into the new back — exactly the
// O(1) pop-front/push-back the spec calls for, without any arena
// allocation after construction.
//
// All multi-byte header and per-slot fields use explicit little-endian
// encoding (encoding/binary) rather than an unsafe struct overlay, because
// the mapped region may be read from processes with differing struct
// alignment and this is the one place spec §6 insists byte order and
// layout be identical across hosts.
//
// © 2025 arena-cache authors. MIT License.
package ring

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/Voskan/marker-cache/internal/arena"
	"github.com/Voskan/marker-cache/internal/bloom"
	"github.com/Voskan/marker-cache/internal/hashcore"
)

// PosInf represents an open-ended "+∞" upper time bound (spec §3: "the
// current slot has hi = +∞, represented by the maximum value of the time
// domain").
const PosInf int64 = math.MaxInt64

const (
	magic      = "MKRARENA"
	headerSize = 40 // magic(8) version(4) numSlots(4) k(4) head(4) perSlotM(8) reserved(8)
	version    = 1

	offMagic    = 0
	offVersion  = 8
	offNumSlots = 12
	offK        = 16
	offHead     = 20
	offPerSlotM = 24

	slotTableOffset = headerSize
	slotEntrySize   = 16 // lo int64 + hi int64
)

// TimeRange is a closed [Lo, Hi] interval of wall-clock seconds. Hi == PosInf
// marks the current, still-open slot.
type TimeRange struct {
	Lo int64
	Hi int64
}

// Overlaps reports whether r overlaps the closed interval [start, end].
func (r TimeRange) Overlaps(start, end int64) bool {
	return r.Lo <= end && start <= r.Hi
}

// Layout describes the fixed geometry of a ring once NumSlots, PerSlotM and
// K are known. ByteSize reports the total arena size required.
type Layout struct {
	NumSlots uint32
	PerSlotM uint64
	K        uint32
}

func (l Layout) bitsOffset() int64 {
	return int64(slotTableOffset) + int64(l.NumSlots)*slotEntrySize
}

func (l Layout) perSlotBytes() int64 {
	return int64(bloom.ByteSize(l.PerSlotM))
}

// ByteSize returns the number of bytes an arena must be to hold a ring of
// this layout.
func (l Layout) ByteSize() int64 {
	return l.bitsOffset() + int64(l.NumSlots)*l.perSlotBytes()
}

// Ring is the live, arena-backed deque of Bloom filter slots.
type Ring struct {
	a       *arena.Arena
	layout  Layout
	filters []*bloom.Filter // filters[i] is the view for physical slot i
}

// Format initialises a brand-new ring inside a freshly created arena: writes
// the header, then back-fills NumSlots empty filters whose time ranges are
// back-dated from now so that front.Lo = now - duration*(numSlots-1) and
// back.Lo = now, back.Hi = +∞ (spec §4.4 "Back-fill").
func Format(a *arena.Arena, numSlots uint32, perSlotM uint64, k uint32, duration int64, now int64) (*Ring, error) {
	layout := Layout{NumSlots: numSlots, PerSlotM: perSlotM, K: k}
	if a.Size() < layout.ByteSize() {
		return nil, fmt.Errorf("ring: arena too small: have %d need %d", a.Size(), layout.ByteSize())
	}
	buf := a.Bytes()
	copy(buf[offMagic:offMagic+8], magic)
	binary.LittleEndian.PutUint32(buf[offVersion:], version)
	binary.LittleEndian.PutUint32(buf[offNumSlots:], numSlots)
	binary.LittleEndian.PutUint32(buf[offK:], k)
	binary.LittleEndian.PutUint32(buf[offHead:], 0)
	binary.LittleEndian.PutUint64(buf[offPerSlotM:], perSlotM)

	r := &Ring{a: a, layout: layout, filters: make([]*bloom.Filter, numSlots)}
	for i := uint32(0); i < numSlots; i++ {
		r.filters[i] = bloom.ViewIn(r.slotBits(i), perSlotM, k)
		r.filters[i].Reset()
	}
	// Back-fill so that front.Lo = now - duration*(numSlots-1) and
	// back = [now, +inf); every slot in between is duration seconds wide
	// and contiguous (spec §4.4 "Back-fill").
	for i := uint32(0); i < numSlots-1; i++ {
		lo := now - duration*int64(numSlots-1-i)
		hi := lo + duration - 1
		r.setRange(i, TimeRange{Lo: lo, Hi: hi})
	}
	r.setRange(numSlots-1, TimeRange{Lo: now, Hi: PosInf})
	return r, nil
}

// NewEmpty initialises a ring's header and zeroes every filter without
// assigning any time ranges (all slots start at TimeRange{0,0}). Used by
// internal/recovery, which assigns precise ranges itself via InitSlot and
// SetSlot rather than the "back-dated from now" placement Format performs.
func NewEmpty(a *arena.Arena, layout Layout) (*Ring, error) {
	if a.Size() < layout.ByteSize() {
		return nil, fmt.Errorf("ring: arena too small: have %d need %d", a.Size(), layout.ByteSize())
	}
	buf := a.Bytes()
	copy(buf[offMagic:offMagic+8], magic)
	binary.LittleEndian.PutUint32(buf[offVersion:], version)
	binary.LittleEndian.PutUint32(buf[offNumSlots:], layout.NumSlots)
	binary.LittleEndian.PutUint32(buf[offK:], layout.K)
	binary.LittleEndian.PutUint32(buf[offHead:], 0)
	binary.LittleEndian.PutUint64(buf[offPerSlotM:], layout.PerSlotM)

	r := &Ring{a: a, layout: layout, filters: make([]*bloom.Filter, layout.NumSlots)}
	for i := uint32(0); i < layout.NumSlots; i++ {
		r.filters[i] = bloom.ViewIn(r.slotBits(i), layout.PerSlotM, layout.K)
		r.filters[i].Reset()
		r.setRange(i, TimeRange{})
	}
	return r, nil
}

// InitSlot assigns a time range to a logical slot without touching its
// (already-reset) bits, used to place synthetic back-fill slots during
// recovery.
func (r *Ring) InitSlot(logical uint32, rng TimeRange) {
	r.setRange(r.physical(logical), rng)
}

// Open attaches to an already-initialised ring inside a. Used both by the
// producer reopening its own arena and by read-only consumers.
func Open(a *arena.Arena) (*Ring, error) {
	buf := a.Bytes()
	if int64(len(buf)) < headerSize {
		return nil, fmt.Errorf("ring: arena too small for header")
	}
	if string(buf[offMagic:offMagic+8]) != magic {
		return nil, fmt.Errorf("ring: bad magic")
	}
	v := binary.LittleEndian.Uint32(buf[offVersion:])
	if v != version {
		return nil, fmt.Errorf("ring: unsupported version %d", v)
	}
	numSlots := binary.LittleEndian.Uint32(buf[offNumSlots:])
	k := binary.LittleEndian.Uint32(buf[offK:])
	perSlotM := binary.LittleEndian.Uint64(buf[offPerSlotM:])

	layout := Layout{NumSlots: numSlots, PerSlotM: perSlotM, K: k}
	if int64(len(buf)) < layout.ByteSize() {
		return nil, fmt.Errorf("ring: arena truncated")
	}
	r := &Ring{a: a, layout: layout, filters: make([]*bloom.Filter, numSlots)}
	for i := uint32(0); i < numSlots; i++ {
		r.filters[i] = bloom.ViewIn(r.slotBits(i), perSlotM, k)
	}
	return r, nil
}

// NumSlots returns the fixed ring cardinality.
func (r *Ring) NumSlots() uint32 { return r.layout.NumSlots }

// K returns the shared hash depth.
func (r *Ring) K() uint32 { return r.layout.K }

// PerSlotM returns the per-slot bit width.
func (r *Ring) PerSlotM() uint64 { return r.layout.PerSlotM }

func (r *Ring) head() uint32 {
	return binary.LittleEndian.Uint32(r.a.Bytes()[offHead:])
}

func (r *Ring) setHead(h uint32) {
	binary.LittleEndian.PutUint32(r.a.Bytes()[offHead:], h)
}

// physical maps a logical slot index (0 = front/oldest, NumSlots-1 =
// back/current) to its fixed physical slot in the arena.
func (r *Ring) physical(logical uint32) uint32 {
	return (r.head() + logical) % r.layout.NumSlots
}

func (r *Ring) backPhysical() uint32 {
	return r.physical(r.layout.NumSlots - 1)
}

func (r *Ring) frontPhysical() uint32 {
	return r.head()
}

func (r *Ring) slotRangeOffset(physical uint32) int64 {
	return int64(slotTableOffset) + int64(physical)*slotEntrySize
}

func (r *Ring) rangeOf(physical uint32) TimeRange {
	off := r.slotRangeOffset(physical)
	buf := r.a.Bytes()
	lo := int64(binary.LittleEndian.Uint64(buf[off:]))
	hi := int64(binary.LittleEndian.Uint64(buf[off+8:]))
	return TimeRange{Lo: lo, Hi: hi}
}

func (r *Ring) setRange(physical uint32, rng TimeRange) {
	off := r.slotRangeOffset(physical)
	buf := r.a.Bytes()
	binary.LittleEndian.PutUint64(buf[off:], uint64(rng.Lo))
	binary.LittleEndian.PutUint64(buf[off+8:], uint64(rng.Hi))
}

func (r *Ring) slotBits(physical uint32) []byte {
	start := r.layout.bitsOffset() + int64(physical)*r.layout.perSlotBytes()
	end := start + r.layout.perSlotBytes()
	return r.a.Bytes()[start:end]
}

// FrontRange returns the time range of the oldest slot (the retention
// horizon boundary).
func (r *Ring) FrontRange() TimeRange {
	return r.rangeOf(r.frontPhysical())
}

// BackRange returns the time range of the current slot.
func (r *Ring) BackRange() TimeRange {
	return r.rangeOf(r.backPhysical())
}

// Ranges returns the time range of every logical slot, front to back, for
// diagnostics (cmd/marker-cache-inspect) and tests.
func (r *Ring) Ranges() []TimeRange {
	out := make([]TimeRange, r.layout.NumSlots)
	for i := uint32(0); i < r.layout.NumSlots; i++ {
		out[i] = r.rangeOf(r.physical(i))
	}
	return out
}

// FillRatios returns the fraction of bits set per logical slot, front to
// back, for diagnostics.
func (r *Ring) FillRatios() []float64 {
	out := make([]float64, r.layout.NumSlots)
	for i := uint32(0); i < r.layout.NumSlots; i++ {
		out[i] = r.filters[r.physical(i)].FillRatio()
	}
	return out
}

// Insert hashes data once and sets its bits in the current (back) slot.
// Never blocks on the arena's shared lock (spec §5: "insert never blocks").
func (r *Ring) Insert(data []byte) {
	d := hashcore.Sum128(data)
	r.filters[r.backPhysical()].Insert(d)
}

// Lookup implements spec §4.4's scan: a fast, lock-free rejection for
// out-of-range queries, then a locked scan from newest to oldest slot,
// stopping at the first positive or the first non-overlapping slot reached
// after overlap has begun.
func (r *Ring) Lookup(start, end int64, data []byte) (bool, error) {
	if start > end {
		return false, nil
	}
	// Fast, unlocked rejection hint: if it misses (stale read during a
	// concurrent Age), the locked scan below still computes the correct
	// answer, so this is safe without synchronization.
	if end < r.FrontRange().Lo {
		return false, nil
	}

	if err := r.a.RLock(); err != nil {
		return false, err
	}
	defer r.a.RUnlock()

	d := hashcore.Sum128(data)

	n := r.layout.NumSlots
	enteredOverlap := false
	for i := int32(n) - 1; i >= 0; i-- {
		physical := r.physical(uint32(i))
		rng := r.rangeOf(physical)
		if rng.Overlaps(start, end) {
			enteredOverlap = true
			if r.filters[physical].Lookup(d) {
				return true, nil
			}
			continue
		}
		if enteredOverlap {
			break
		}
	}
	return false, nil
}

// MaybeAge ages the ring if force is set or the current window has expired
// (spec §4.4: "if force or back.lo + duration <= now").
func (r *Ring) MaybeAge(force bool, duration, now int64, persist PersistFunc, deleteFront DeleteFunc) (bool, error) {
	back := r.BackRange()
	if !force && back.Lo+duration > now {
		return false, nil
	}
	return true, r.Age(now, persist, deleteFront)
}

// PersistFunc is invoked with the evicted slot's closed time range and its
// filter, while the exclusive lock is still held, so the caller can
// serialize it to disk before the underlying bits are reset and reused
// (spec §4.6 "On age / on demand save").
type PersistFunc func(rng TimeRange, f *bloom.Filter) error

// DeleteFunc removes the on-disk archive file for the slot whose Lo is
// about to fall out of the ring (spec §4.4 step 4).
type DeleteFunc func(lo int64) error

// Age performs the aging algorithm of spec §4.4 verbatim:
//  1. acquire exclusive lock
//  2. close the current window: back.hi = max(now, back.lo)
//  3. persist the slot that just transitioned out of "current" (the
//     now-closed back slot) so it survives a crash before it is ever
//     reused
//  4. delete the on-disk archive for the slot about to fall out of the
//     ring entirely (the front slot, whose retention window has expired)
//  5. reuse the front slot's bits, after reset, as the new back
//  6. push it to the back with range [closedHi+1, +inf)
//  7. release the lock
//
// Steps 3 and 4 never touch the same slot when NumSlots > 1: the
// closed-back and evicted-front slots are then distinct, so this is never a
// write-then-delete no-op on the same archive file. Format and NewEmpty do
// not check NumSlots.
//
// The tie-break for step 2 follows the first variant noted in spec §9:
// back.hi = max(now, back.lo), never back.lo+1.
func (r *Ring) Age(now int64, persist PersistFunc, deleteFront DeleteFunc) error {
	if err := r.a.Lock(); err != nil {
		return err
	}
	defer r.a.Unlock()

	backPhys := r.backPhysical()
	back := r.rangeOf(backPhys)
	closedHi := back.Lo
	if now > closedHi {
		closedHi = now
	}
	back.Hi = closedHi
	r.setRange(backPhys, back)

	if persist != nil {
		if err := persist(back, r.filters[backPhys]); err != nil {
			return fmt.Errorf("ring: persist closed slot: %w", err)
		}
	}

	frontPhys := r.frontPhysical()
	frontRange := r.rangeOf(frontPhys)
	if deleteFront != nil {
		if err := deleteFront(frontRange.Lo); err != nil {
			return fmt.Errorf("ring: delete stale archive: %w", err)
		}
	}

	r.filters[frontPhys].Reset()
	// Advance the head before rewriting the reused slot's range, so an
	// unlocked FrontRange read in Lookup never sees the new back's range.
	r.setHead((r.head() + 1) % r.layout.NumSlots)
	newBackRange := TimeRange{Lo: closedHi + 1, Hi: PosInf}
	r.setRange(frontPhys, newBackRange)
	return nil
}

// FilterAt returns the filter view for the given logical slot index (0 =
// front), used by Cache.Save in pkg/markercache to read slot contents for
// archiving.
func (r *Ring) FilterAt(logical uint32) *bloom.Filter {
	return r.filters[r.physical(logical)]
}

// RangeAt returns the time range for the given logical slot index.
func (r *Ring) RangeAt(logical uint32) TimeRange {
	return r.rangeOf(r.physical(logical))
}

// SetSlot overwrites logical slot index's time range and bit contents from
// a decoded archive filter, used during recovery back-fill (spec §4.6). The
// provided filter's (m, k) must match the ring's per-slot parameters.
func (r *Ring) SetSlot(logical uint32, rng TimeRange, f *bloom.Filter) error {
	physical := r.physical(logical)
	if f.M() != r.layout.PerSlotM || f.K() != r.layout.K {
		return fmt.Errorf("ring: slot parameter mismatch: have m=%d k=%d want m=%d k=%d", f.M(), f.K(), r.layout.PerSlotM, r.layout.K)
	}
	dst := r.filters[physical]
	dst.Reset()
	copy(dst.BitsBytes(), f.BitsBytes())
	r.setRange(physical, rng)
	return nil
}
