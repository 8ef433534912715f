// Package legacy is a minimal read-compatibility shim for the superseded
// id-keyed Bloom filter variant (original_source/marker_cache.h's
// marker_cache::exists/lookup_from/remove). It is not a second production
// code path: it exists so an operator can open a single archived
// {lo}.filter slot in isolation without reconstructing the whole ring
// (cmd/marker-cache-inspect does not use it). No insert or create path is
// exposed.
//
// © 2025 arena-cache authors. MIT License.
package legacy

import (
	"fmt"

	"github.com/Voskan/marker-cache/internal/bloom"
	"github.com/Voskan/marker-cache/internal/hashcore"
	"github.com/Voskan/marker-cache/internal/persistence"
	"github.com/Voskan/marker-cache/internal/ring"
)

// Filter is a single, non-windowed Bloom filter slot loaded from an
// archived {lo}.filter file. Read-only: there is no Insert.
type Filter struct {
	rng ring.TimeRange
	f   *bloom.Filter
}

// Open loads the archive file at path, the same wire format produced by
// internal/persistence.Save, and exposes it for read-only inspection.
func Open(path string) (*Filter, error) {
	rng, f, err := persistence.Load(path)
	if err != nil {
		return nil, fmt.Errorf("legacy: open %s: %w", path, err)
	}
	return &Filter{rng: rng, f: f}, nil
}

// Range returns the time window this archived slot covered while live.
func (f *Filter) Range() ring.TimeRange { return f.rng }

// Exists reports whether data may have been inserted into this slot while
// it was live, mirroring marker_cache::exists from the id-keyed C++
// variant. A false result is authoritative; a true result is advisory.
func (f *Filter) Exists(data []byte) bool {
	return f.f.Lookup(hashcore.Sum128(data))
}

// FillRatio reports the fraction of bits set, for diagnostic display.
func (f *Filter) FillRatio() float64 { return f.f.FillRatio() }
