// Package markercache is the public surface of the marker cache: a
// time-windowed, shared-memory, multi-process Bloom-filter ring used to
// short-circuit negative membership lookups against a call-trail marker
// database (spec §1).
//
// config.go defines Config and the functional Option pattern layered on
// top of it, following the same shape as the teacher's pkg/config.go:
// sensible defaults in defaultConfig(), one option per Config field plus
// the external collaborators (logger, registry, clock), and a single
// validate() pass that returns descriptive sentinel errors.
//
// © 2025 arena-cache authors. MIT License.
package markercache

import (
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/Voskan/marker-cache/internal/metrics"
)

// Config bundles every knob recognized at construction time (spec §6
// "Configuration"). All fields are immutable once a Cache is built.
type Config struct {
	// Duration is the width of each time window (spec "duration_min").
	Duration time.Duration
	// Lifespan is the total retained history across all slots (spec
	// "lifespan_min"). NumSlots is derived as ceil(Lifespan/Duration)+1.
	Lifespan time.Duration
	// FP is the target false-positive rate in (0, 1).
	FP float64
	// TotalCapacity is the expected number of insertions across the full
	// Lifespan, used to size the filters (spec "total_capacity").
	TotalCapacity uint64
	// ArchiveDir is where evicted slots are persisted as {lo}.filter files.
	// Created if missing.
	ArchiveDir string
	// ArenaName is the rendezvous identifier for the shared-memory arena
	// (spec "CacheSharedMemory" example). Exactly one producer per host may
	// use a given name.
	ArenaName string
	// ArenaDir overrides where the arena's backing file lives. Defaults to
	// the OS temp directory, matching a typical /dev/shm or /tmp rendezvous
	// point for named shared memory.
	ArenaDir string

	logger   *zap.Logger
	metrics  metrics.Sink
	registry *prometheus.Registry
	nowFunc  func() int64
}

// Option mutates a Config at construction time.
type Option func(*Config)

// WithLogger plugs an external zap.Logger. Insert never logs, and Lookup
// logs only when taking the arena lock fails; Create (recovery), MaybeAge
// and Save emit the other log lines.
func WithLogger(l *zap.Logger) Option {
	return func(c *Config) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMetrics enables Prometheus metrics collection. Passing nil disables
// metrics (the default): a no-op sink absorbs every observation.
func WithMetrics(reg *prometheus.Registry) Option {
	return func(c *Config) {
		c.registry = reg
	}
}

// WithDuration overrides the width of each time window. Defaults to 30m.
func WithDuration(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.Duration = d
		}
	}
}

// WithLifespan overrides the total retained history across all slots.
// Defaults to 90m.
func WithLifespan(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.Lifespan = d
		}
	}
}

// WithFalsePositiveRate overrides the target false-positive rate used to
// size every slot's filter. Defaults to 0.001.
func WithFalsePositiveRate(fp float64) Option {
	return func(c *Config) {
		if fp > 0 && fp < 1 {
			c.FP = fp
		}
	}
}

// WithTotalCapacity overrides the expected number of insertions across the
// full Lifespan, used to size the filters.
func WithTotalCapacity(n uint64) Option {
	return func(c *Config) {
		if n > 0 {
			c.TotalCapacity = n
		}
	}
}

// WithArchiveDir overrides where evicted slots are persisted as {lo}.filter
// files. Defaults to "./marker-cache-archive".
func WithArchiveDir(dir string) Option {
	return func(c *Config) {
		if dir != "" {
			c.ArchiveDir = dir
		}
	}
}

// WithArenaName overrides the rendezvous identifier consumers and the
// producer must agree on. Defaults to "CacheSharedMemory".
func WithArenaName(name string) Option {
	return func(c *Config) {
		if name != "" {
			c.ArenaName = name
		}
	}
}

// WithArenaDir overrides the directory the arena's backing file is created
// in. Defaults to os.TempDir().
func WithArenaDir(dir string) Option {
	return func(c *Config) {
		if dir != "" {
			c.ArenaDir = dir
		}
	}
}

// WithClock overrides the wall-clock source used for aging decisions and
// time-range construction. Intended for deterministic tests exercising the
// aging protocol without sleeping; production callers should never need it.
func WithClock(now func() int64) Option {
	return func(c *Config) {
		if now != nil {
			c.nowFunc = now
		}
	}
}

func defaultConfig() Config {
	return Config{
		Duration:  30 * time.Minute,
		Lifespan:  90 * time.Minute,
		FP:        0.001,
		ArchiveDir: "./marker-cache-archive",
		ArenaName: "CacheSharedMemory",
		ArenaDir:  os.TempDir(),
		logger:    zap.NewNop(),
		metrics:   metrics.Noop(),
		nowFunc:   func() int64 { return time.Now().Unix() },
	}
}

func (c *Config) applyOptions(opts []Option) {
	for _, opt := range opts {
		opt(c)
	}
	if c.registry != nil {
		c.metrics = metrics.NewProm(c.registry)
	}
}

func (c *Config) validate() error {
	if c.Duration <= 0 {
		return ErrInvalidParams
	}
	if c.Lifespan <= 0 {
		return ErrInvalidParams
	}
	if c.FP <= 0 || c.FP >= 1 {
		return ErrInvalidParams
	}
	if c.TotalCapacity == 0 {
		return ErrInvalidParams
	}
	if c.ArenaName == "" {
		return ErrInvalidParams
	}
	return nil
}

func (c *Config) numSlots() uint32 {
	d := int64(c.Duration / time.Second)
	l := int64(c.Lifespan / time.Second)
	n := (l + d - 1) / d
	return uint32(n + 1)
}

func (c *Config) durationSeconds() int64 {
	return int64(c.Duration / time.Second)
}

func (c *Config) arenaPath() string {
	return filepath.Join(c.ArenaDir, c.ArenaName+".arena")
}

// Sentinel construction errors (spec §7 "Construction errors").
var (
	ErrArenaExists         = errors.New("markercache: arena already exists")
	ErrArenaMissing        = errors.New("markercache: arena does not exist")
	ErrInvalidParams       = errors.New("markercache: invalid configuration parameters")
	ErrInsufficientMemory  = errors.New("markercache: insufficient memory for requested capacity")
)
