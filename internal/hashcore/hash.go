// Package hashcore computes the fixed 128-bit fingerprint that backs every
// Bloom filter probe in the marker cache. One Sum128 call (two xxhash64
// passes over the data) produces two 64-bit half-digests which double
// hashing then turns into k bit positions — see bloom.Filter.
//
// Both passes use fixed constants (seed zero for the first, secondSeed fed
// in ahead of the data for the second) so that a producer process and any
// number of consumer processes, each hashing the same marker bytes
// independently, always agree on bit positions without negotiating a
// shared seed at runtime.
//
// © 2025 arena-cache authors. MIT License.
package hashcore

import "github.com/cespare/xxhash/v2"

// secondSeed decorrelates the second half-digest from the first. The value
// is the 64-bit golden-ratio constant commonly used to scramble hash state;
// any fixed, non-zero constant works, it only needs to be identical across
// processes.
const secondSeed uint64 = 0x9E3779B97F4A7C15

// Digest is the 128-bit fingerprint of a byte slice, split into two
// independent 64-bit halves used by double hashing.
type Digest struct {
	H1 uint64
	H2 uint64
}

// Sum128 hashes data into a 128-bit digest. It is deterministic and
// bit-stable across processes: the same bytes always yield the same
// (H1, H2) pair regardless of host or process.
func Sum128(data []byte) Digest {
	d1 := xxhash.New()
	d1.Write(data) //nolint:errcheck // hash.Hash.Write never errors
	h1 := d1.Sum64()

	d2 := xxhash.New()
	writeSeed(d2, secondSeed)
	d2.Write(data) //nolint:errcheck
	h2 := d2.Sum64()

	return Digest{H1: h1, H2: h2}
}

// writeSeed folds a seed constant into the running hash before the payload,
// giving the second pass an independent starting state without needing a
// second hash algorithm.
func writeSeed(d *xxhash.Digest, seed uint64) {
	var buf [8]byte
	for i := 0; i < 8; i++ {
		buf[i] = byte(seed >> (8 * i))
	}
	d.Write(buf[:]) //nolint:errcheck
}

// Positions derives the k bit indices for a filter of width m from a single
// digest via double hashing: p_i = (h1 + i*h2) mod m, i in [0, k). Hashing
// happens once per operation in the caller; Positions only does the cheap
// per-slot arithmetic.
func Positions(d Digest, m uint64, k uint32, dst []uint64) []uint64 {
	if cap(dst) < int(k) {
		dst = make([]uint64, k)
	}
	dst = dst[:k]
	h1, h2 := d.H1, d.H2
	for i := uint32(0); i < k; i++ {
		dst[i] = (h1 + uint64(i)*h2) % m
	}
	return dst
}
