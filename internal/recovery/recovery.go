// Package recovery implements spec §4.6's startup procedure: enumerate the
// on-disk archive, drop anything older than the retention window, load the
// most recent files into the ring, and fabricate "rebuild" windows to carry
// the ring forward from the last persisted slot to "now".
//
// © 2025 arena-cache authors. MIT License.
package recovery

import (
	"context"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/Voskan/marker-cache/internal/arena"
	"github.com/Voskan/marker-cache/internal/bloom"
	"github.com/Voskan/marker-cache/internal/persistence"
	"github.com/Voskan/marker-cache/internal/ring"
)

// Result is the outcome of Recover: a ring ready for use, and the list of
// time ranges that were fabricated rather than loaded from disk — windows
// the marker source is expected to re-populate via Insert by replaying the
// backing database over each range (spec §4.6 step 4; the database query
// itself is out of scope, per spec §1).
type Result struct {
	Ring            *ring.Ring
	RebuildRanges   []ring.TimeRange
	ArchivesLoaded  int
	ArchivesDropped int
}

type decoded struct {
	rng ring.TimeRange
	f   *bloom.Filter
}

// Recover formats a into a ring of the given shape, populated from dir's
// archive per spec §4.6, and returns the windows that had no archive data
// and therefore need re-populating from the backing database.
func Recover(a *arena.Arena, numSlots uint32, perSlotM uint64, k uint32, duration, now int64, dir string) (*Result, error) {
	entries, err := persistence.List(dir)
	if err != nil {
		return nil, fmt.Errorf("recovery: list %s: %w", dir, err)
	}

	horizon := now - duration*int64(numSlots)
	var candidates []persistence.Entry
	dropped := 0
	for _, e := range entries {
		if e.Lo < horizon {
			if err := persistence.Delete(dir, e.Lo); err != nil {
				return nil, err
			}
			dropped++
			continue
		}
		candidates = append(candidates, e)
	}

	results := make([]*decoded, len(candidates))
	g, _ := errgroup.WithContext(context.Background())
	for i, e := range candidates {
		i, e := i, e
		g.Go(func() error {
			rng, f, err := persistence.Load(e.Path)
			if err != nil || f.M() != perSlotM || f.K() != k {
				// Integrity violation (spec §7): unparseable, truncated, or
				// parameter-mismatched archives are deleted and treated as
				// absent.
				_ = persistence.Delete(dir, e.Lo)
				dropped++
				return nil
			}
			results[i] = &decoded{rng: rng, f: f}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("recovery: decode archive: %w", err)
	}

	var valid []*decoded
	for _, d := range results {
		if d != nil {
			valid = append(valid, d)
		}
	}
	sort.Slice(valid, func(i, j int) bool { return valid[i].rng.Lo < valid[j].rng.Lo })

	reserve := int(numSlots) - 1
	if len(valid) > reserve {
		dropped += len(valid) - reserve
		valid = valid[len(valid)-reserve:]
	}

	layout := ring.Layout{NumSlots: numSlots, PerSlotM: perSlotM, K: k}
	if a.Size() < layout.ByteSize() {
		return nil, fmt.Errorf("recovery: arena too small: have %d need %d", a.Size(), layout.ByteSize())
	}
	r, err := ring.NewEmpty(a, layout)
	if err != nil {
		return nil, err
	}

	numLoaded := len(valid)
	numBackfill := reserve - numLoaded

	var initialBackLo int64
	if numLoaded > 0 {
		initialBackLo = valid[numLoaded-1].rng.Hi + 1
	} else {
		initialBackLo = now
	}
	anchor := initialBackLo
	if numLoaded > 0 {
		anchor = valid[0].rng.Lo
	}
	for i := 0; i < numBackfill; i++ {
		lo := anchor - duration*int64(numBackfill-i)
		hi := lo + duration - 1
		r.InitSlot(uint32(i), ring.TimeRange{Lo: lo, Hi: hi})
	}
	for i, d := range valid {
		logical := uint32(numBackfill + i)
		if err := r.SetSlot(logical, d.rng, d.f); err != nil {
			return nil, fmt.Errorf("recovery: restore slot: %w", err)
		}
	}
	r.InitSlot(numSlots-1, ring.TimeRange{Lo: initialBackLo, Hi: ring.PosInf})

	persist := func(rng ring.TimeRange, f *bloom.Filter) error { return persistence.Save(dir, rng, f) }
	deleteFn := func(lo int64) error { return persistence.Delete(dir, lo) }

	var rebuilt []ring.TimeRange
	stepNow := initialBackLo
	for stepNow+duration <= now {
		closing := r.BackRange()
		stepNow += duration
		aged, err := r.MaybeAge(true, duration, stepNow, persist, deleteFn)
		if err != nil {
			return nil, fmt.Errorf("recovery: rebuild step: %w", err)
		}
		if aged {
			rebuilt = append(rebuilt, ring.TimeRange{Lo: closing.Lo, Hi: stepNow})
		}
	}

	return &Result{
		Ring:            r,
		RebuildRanges:   rebuilt,
		ArchivesLoaded:  numLoaded,
		ArchivesDropped: dropped,
	}, nil
}
