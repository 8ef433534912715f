// cache.go wires internal/arena, internal/ring, internal/recovery,
// internal/persistence and internal/metrics together behind the public
// Cache type, following the same producer/consumer split as the teacher's
// pkg/cache.go: one constructor per role (Create for the single writer,
// OpenReadOnly for every reader), thin exported methods, heavy lifting left
// to the internal packages.
//
// © 2025 arena-cache authors. MIT License.
package markercache

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Voskan/marker-cache/internal/arena"
	"github.com/Voskan/marker-cache/internal/bloom"
	"github.com/Voskan/marker-cache/internal/persistence"
	"github.com/Voskan/marker-cache/internal/recovery"
	"github.com/Voskan/marker-cache/internal/ring"
)

// Cache is a handle on a live marker cache: either the sole producer
// (constructed via Create) or one of any number of read-only consumers
// (constructed via OpenReadOnly). Safe for concurrent use by multiple
// goroutines within a process; cross-process safety is provided by the
// arena's flock-based lock.
type Cache struct {
	cfg Config
	a   *arena.Arena
	r   *ring.Ring
}

// Create formats a brand-new arena and ring for the given Config and
// becomes its sole producer (spec §4.1 "Constructor — producer role"). If a
// stale arena file is left over from an unclean prior exit, it is removed
// and recreated, matching spec §3's producer-restart lifecycle. Returns
// ErrArenaExists if another live producer already holds the name.
func Create(opts ...Option) (*Cache, error) {
	cfg := defaultConfig()
	cfg.applyOptions(opts)
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	m, k := bloom.Params(cfg.FP, cfg.TotalCapacity)
	numSlots := cfg.numSlots()
	perSlotM := (m + uint64(numSlots) - 1) / uint64(numSlots)
	if perSlotM < uint64(k) {
		return nil, ErrInsufficientMemory
	}
	layout := ring.Layout{NumSlots: numSlots, PerSlotM: perSlotM, K: k}

	path := cfg.arenaPath()
	if arena.Exists(path) {
		if locked, err := ownerAliveAt(path); err != nil {
			return nil, err
		} else if locked {
			return nil, ErrArenaExists
		}
		cfg.logger.Warn("removing stale arena from unclean prior exit", zap.String("path", path))
		if err := arena.RemoveStale(path); err != nil {
			return nil, err
		}
	}

	a, err := arena.CreateExclusive(path, layout.ByteSize())
	if err != nil {
		return nil, fmt.Errorf("markercache: create arena: %w", err)
	}

	now := cfg.nowFunc()
	result, err := recovery.Recover(a, numSlots, perSlotM, k, cfg.durationSeconds(), now, cfg.ArchiveDir)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("markercache: recover: %w", err)
	}
	cfg.logger.Info("marker cache recovered",
		zap.Int("archives_loaded", result.ArchivesLoaded),
		zap.Int("archives_dropped", result.ArchivesDropped),
		zap.Int("rebuild_windows", len(result.RebuildRanges)),
	)
	for _, rr := range result.RebuildRanges {
		cfg.logger.Info("rebuild window requires re-population from the marker source",
			zap.Int64("lo", rr.Lo), zap.Int64("hi", rr.Hi))
	}

	cfg.metrics.SetRetentionHorizon(result.Ring.FrontRange().Lo)

	return &Cache{cfg: cfg, a: a, r: result.Ring}, nil
}

// CreateFresh formats a new arena ignoring any on-disk archive, for tests
// and for first-ever startup where no backing database replay is needed.
func CreateFresh(opts ...Option) (*Cache, error) {
	cfg := defaultConfig()
	cfg.applyOptions(opts)
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	m, k := bloom.Params(cfg.FP, cfg.TotalCapacity)
	numSlots := cfg.numSlots()
	perSlotM := (m + uint64(numSlots) - 1) / uint64(numSlots)
	if perSlotM < uint64(k) {
		return nil, ErrInsufficientMemory
	}
	layout := ring.Layout{NumSlots: numSlots, PerSlotM: perSlotM, K: k}

	path := cfg.arenaPath()
	if arena.Exists(path) {
		return nil, ErrArenaExists
	}
	a, err := arena.CreateExclusive(path, layout.ByteSize())
	if err != nil {
		return nil, fmt.Errorf("markercache: create arena: %w", err)
	}
	r, err := ring.Format(a, numSlots, perSlotM, k, cfg.durationSeconds(), cfg.nowFunc())
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("markercache: format ring: %w", err)
	}
	cfg.metrics.SetRetentionHorizon(r.FrontRange().Lo)
	return &Cache{cfg: cfg, a: a, r: r}, nil
}

// OpenReadOnly attaches to an already-running producer's arena as a
// read-only consumer (spec §4.1 "Constructor — consumer role"). Returns
// ErrArenaMissing if no producer is currently running under this name.
func OpenReadOnly(opts ...Option) (*Cache, error) {
	cfg := defaultConfig()
	cfg.applyOptions(opts)
	if cfg.ArenaName == "" {
		return nil, ErrInvalidParams
	}

	path := cfg.arenaPath()
	if !arena.Exists(path) {
		return nil, ErrArenaMissing
	}
	a, err := arena.OpenReadOnly(path)
	if err != nil {
		return nil, fmt.Errorf("markercache: open arena: %w", err)
	}
	r, err := ring.Open(a)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("markercache: open ring: %w", err)
	}
	return &Cache{cfg: cfg, a: a, r: r}, nil
}

// ownerAliveAt probes whether a producer currently holds the arena's
// exclusive lock, distinguishing a live producer (fail fast with
// ErrArenaExists) from a stale file left by an unclean exit (safe to
// remove and recreate). The probe never blocks: a failed non-blocking
// trylock means "someone holds it".
func ownerAliveAt(path string) (bool, error) {
	a, err := arena.OpenReadOnly(path)
	if err != nil {
		return false, fmt.Errorf("markercache: probe stale arena: %w", err)
	}
	defer a.Close()
	return a.TryRLockHeld()
}

// Insert records data as present in the current time window. Never blocks
// and is safe to call concurrently with Lookup (spec §5: "insert never
// blocks"). Only the producer may call Insert; a consumer opened via
// OpenReadOnly maps the arena PROT_READ, so writing through it faults the
// process instead of silently corrupting shared state.
func (c *Cache) Insert(data []byte) {
	c.r.Insert(data)
	c.cfg.metrics.IncInsert()
}

// Lookup reports whether data may have been inserted during [start, end]
// (spec §4.2): false means "definitely absent", true means "possibly
// present" at the configured false-positive rate. Safe for any number of
// concurrent callers, in either role.
func (c *Cache) Lookup(start, end time.Time, data []byte) bool {
	hit, err := c.r.Lookup(start.Unix(), end.Unix(), data)
	if err != nil {
		c.cfg.logger.Error("lookup failed, treating as possible match", zap.Error(err))
		return true
	}
	c.cfg.metrics.IncLookup(hit)
	return hit
}

// MaybeAge rotates the ring forward if the current window has expired, or
// unconditionally if force is true (spec §4.4). Only meaningful for the
// producer; a read-only consumer sees the rotation performed by the
// producer on its next Lookup because the arena is shared memory.
func (c *Cache) MaybeAge(force bool) error {
	start := time.Now()
	aged, err := c.r.MaybeAge(force, c.cfg.durationSeconds(), c.cfg.nowFunc(), c.persist, c.deleteArchive)
	if err != nil {
		return fmt.Errorf("markercache: age: %w", err)
	}
	if aged {
		c.cfg.metrics.IncAge()
		c.cfg.metrics.ObserveAgeDuration(time.Since(start).Seconds())
		c.cfg.metrics.SetRetentionHorizon(c.r.FrontRange().Lo)
	}
	return nil
}

// Save persists every non-current slot to the archive directory on demand,
// without aging the ring (spec §4.6 "on demand save" — e.g. before a
// graceful producer shutdown). A slot whose write fails is logged and
// counted, and Save goes on with the remaining slots.
func (c *Cache) Save() error {
	for i := uint32(0); i < c.r.NumSlots()-1; i++ {
		rng := c.r.RangeAt(i)
		if err := c.persist(rng, c.r.FilterAt(i)); err != nil {
			return err
		}
	}
	return nil
}

// persist and deleteArchive log, count and swallow persistence errors so a
// failing disk never stops aging or ingestion.
func (c *Cache) persist(rng ring.TimeRange, f *bloom.Filter) error {
	if err := persistence.Save(c.cfg.ArchiveDir, rng, f); err != nil {
		c.cfg.metrics.IncArchiveError()
		c.cfg.logger.Warn("archive write failed", zap.Int64("lo", rng.Lo), zap.Error(err))
	}
	return nil
}

func (c *Cache) deleteArchive(lo int64) error {
	if err := persistence.Delete(c.cfg.ArchiveDir, lo); err != nil {
		c.cfg.metrics.IncArchiveError()
		c.cfg.logger.Warn("archive delete failed", zap.Int64("lo", lo), zap.Error(err))
	}
	return nil
}

// Ranges exposes every slot's time range, front to back, for diagnostics
// (cmd/marker-cache-inspect).
func (c *Cache) Ranges() []ring.TimeRange { return c.r.Ranges() }

// FillRatios exposes every slot's bit occupancy, front to back, for
// diagnostics.
func (c *Cache) FillRatios() []float64 { return c.r.FillRatios() }

// RetentionHorizon returns the earliest Unix time the cache can currently
// answer Lookup for (the front slot's Lo).
func (c *Cache) RetentionHorizon() int64 { return c.r.FrontRange().Lo }

// Close unmaps the arena. For the producer this also removes the backing
// file (spec §3: "destroyed on producer shutdown"); callers that want
// slots persisted first should call Save before Close.
func (c *Cache) Close() error {
	return c.a.Close()
}
