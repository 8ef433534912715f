// Package bitset implements a packed, byte-granular bit vector. The vector
// never owns its backing storage: callers hand it a []byte view, which may
// be a plain heap slice in tests or a window into an mmap'd arena in
// production. This keeps the type usable both inside and outside shared
// memory without duplicating the bit-twiddling logic.
//
// © 2025 arena-cache authors. MIT License.
package bitset

// Bitset is a fixed-length bit vector of Len() bits, one bit per cell,
// packed 8 bits per byte in LSB-first order (bit i lives in byte i/8, bit
// position i%8 counting from the least-significant bit). LSB-first order is
// chosen to match the on-disk file format mandated for archived filters.
type Bitset struct {
	bits []byte
	n    uint64
}

// BytesFor returns the number of bytes needed to pack n bits.
func BytesFor(n uint64) uint64 {
	return (n + 7) / 8
}

// View wraps an existing byte slice as a Bitset of n bits. The slice must be
// at least BytesFor(n) bytes long; View does not allocate or clear it.
func View(buf []byte, n uint64) Bitset {
	need := BytesFor(n)
	if uint64(len(buf)) < need {
		panic("bitset: backing slice too small")
	}
	return Bitset{bits: buf[:need], n: n}
}

// New allocates a fresh, zero-initialised Bitset of n bits on the heap. Used
// where no arena is available (tests, the legacy single-filter shim).
func New(n uint64) Bitset {
	return Bitset{bits: make([]byte, BytesFor(n)), n: n}
}

// Len returns the number of addressable bits.
func (b Bitset) Len() uint64 { return b.n }

// Bytes exposes the packed backing storage, e.g. for serialization.
func (b Bitset) Bytes() []byte { return b.bits }

// Set marks bit i as set. Idempotent: setting an already-set bit is a
// no-op in effect (same bit pattern results).
func (b Bitset) Set(i uint64) {
	b.bits[i>>3] |= 1 << (i & 7)
}

// Test reports whether bit i is set.
func (b Bitset) Test(i uint64) bool {
	return b.bits[i>>3]&(1<<(i&7)) != 0
}

// ResetAll clears every bit to zero.
func (b Bitset) ResetAll() {
	clear(b.bits)
}

// PopCount returns the number of set bits, used for diagnostics (fill
// ratio reporting in cmd/marker-cache-inspect).
func (b Bitset) PopCount() uint64 {
	var n uint64
	for _, word := range b.bits {
		n += uint64(popcount8(word))
	}
	return n
}

func popcount8(b byte) int {
	n := 0
	for b != 0 {
		b &= b - 1
		n++
	}
	return n
}
