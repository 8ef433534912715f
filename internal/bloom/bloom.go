// Package bloom implements the double-hashed Bloom filter slot described in
// spec §4.3: a fixed-shape (m, k, bits) record supporting insert, lookup and
// reset, with insert monotonic (0→1 only) and lookup never mutating.
//
// © 2025 arena-cache authors. MIT License.
package bloom

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/Voskan/marker-cache/internal/bitset"
	"github.com/Voskan/marker-cache/internal/hashcore"
)

// Filter is one Bloom filter slot: m bits, k hash positions per operation.
// The zero value is not usable; construct via New or ViewIn.
type Filter struct {
	m    uint64
	k    uint32
	bits bitset.Bitset
}

// Params derives (m, k) for a filter sized to hold capacity items at target
// false-positive rate fp, per spec §3:
//
//	m = ceil(-capacity*ln(fp) / ln(2)^2)
//	k = ceil((m/capacity) * ln(2))
func Params(fp float64, capacity uint64) (m uint64, k uint32) {
	if fp <= 0 || fp >= 1 {
		panic("bloom: fp must be in (0, 1)")
	}
	if capacity == 0 {
		panic("bloom: capacity must be > 0")
	}
	ln2 := math.Ln2
	mf := math.Ceil(-(float64(capacity) * math.Log(fp)) / (ln2 * ln2))
	if mf < 1 {
		mf = 1
	}
	m = uint64(mf)
	frac := float64(m) / float64(capacity)
	kf := math.Ceil(frac * ln2)
	if kf < 1 {
		kf = 1
	}
	k = uint32(kf)
	return m, k
}

// New allocates a zero-initialised heap-backed filter of width m and depth
// k. m must be >= k >= 1.
func New(m uint64, k uint32) *Filter {
	if k == 0 || m < uint64(k) {
		panic("bloom: invariant m >= k >= 1 violated")
	}
	return &Filter{m: m, k: k, bits: bitset.New(m)}
}

// ViewIn constructs a filter of width m, depth k backed by an existing byte
// slice (e.g. a window into a shared-memory arena). The slice is not
// cleared; callers that need a fresh filter must call Reset.
func ViewIn(buf []byte, m uint64, k uint32) *Filter {
	if k == 0 || m < uint64(k) {
		panic("bloom: invariant m >= k >= 1 violated")
	}
	return &Filter{m: m, k: k, bits: bitset.View(buf, m)}
}

// M returns the filter width in bits.
func (f *Filter) M() uint64 { return f.m }

// K returns the number of hash positions probed per operation.
func (f *Filter) K() uint32 { return f.k }

// Insert sets the k bit positions derived from d. Idempotent.
func (f *Filter) Insert(d hashcore.Digest) {
	var buf [16]uint64
	positions := hashcore.Positions(d, f.m, f.k, buf[:0])
	for _, p := range positions {
		f.bits.Set(p)
	}
}

// Lookup returns true iff every bit position derived from d is set. Never
// mutates the filter.
func (f *Filter) Lookup(d hashcore.Digest) bool {
	var buf [16]uint64
	positions := hashcore.Positions(d, f.m, f.k, buf[:0])
	for _, p := range positions {
		if !f.bits.Test(p) {
			return false
		}
	}
	return true
}

// Reset clears every bit back to zero, leaving m and k unchanged.
func (f *Filter) Reset() {
	f.bits.ResetAll()
}

// BitsBytes exposes the packed backing storage directly, for copying slot
// contents during recovery back-fill (internal/ring.SetSlot) without going
// through the wire encoding.
func (f *Filter) BitsBytes() []byte { return f.bits.Bytes() }

// FillRatio returns the fraction of bits currently set, for diagnostics.
func (f *Filter) FillRatio() float64 {
	if f.m == 0 {
		return 0
	}
	return float64(f.bits.PopCount()) / float64(f.m)
}

// ByteSize returns how many bytes of backing storage this filter occupies
// (ceil(m/8)), used when carving windows out of an arena.
func ByteSize(m uint64) uint64 {
	return bitset.BytesFor(m)
}

// WireSize returns the serialized size in bytes of the filter body (the k,m
// header plus the packed bitset) per the on-disk layout in spec §6.
func (f *Filter) WireSize() int64 {
	return 4 + 8 + int64(bitset.BytesFor(f.m))
}

// EncodeTo writes k (32-bit LE), m (64-bit LE), then ceil(m/8) bytes of
// LSB-first packed bits — the filter body of the {lo}.filter wire format.
func (f *Filter) EncodeTo(w io.Writer) error {
	var hdr [12]byte
	binary.LittleEndian.PutUint32(hdr[0:4], f.k)
	binary.LittleEndian.PutUint64(hdr[4:12], f.m)
	if _, err := w.Write(hdr[:]); err != nil {
		return fmt.Errorf("bloom: write header: %w", err)
	}
	if _, err := w.Write(f.bits.Bytes()); err != nil {
		return fmt.Errorf("bloom: write bits: %w", err)
	}
	return nil
}

// Decode reads a filter body written by EncodeTo. The result is
// heap-backed; callers that need the data placed in an arena should copy it
// via ViewIn afterwards.
func Decode(r io.Reader) (*Filter, error) {
	var hdr [12]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, fmt.Errorf("bloom: read header: %w", err)
	}
	k := binary.LittleEndian.Uint32(hdr[0:4])
	m := binary.LittleEndian.Uint64(hdr[4:12])
	if k == 0 || m < uint64(k) {
		return nil, fmt.Errorf("bloom: corrupt header m=%d k=%d", m, k)
	}
	f := New(m, k)
	if _, err := io.ReadFull(r, f.bits.Bytes()); err != nil {
		return nil, fmt.Errorf("bloom: read bits: %w", err)
	}
	return f, nil
}
