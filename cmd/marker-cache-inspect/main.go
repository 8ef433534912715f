package main

// main.go implements the marker-cache-inspect CLI: it opens a local arena
// file read-only and prints ring slot boundaries, per-slot fill ratio, and
// the retention horizon. Unlike the teacher's arena-cache-inspect (which
// fetched a JSON snapshot over HTTP from a running process), there is no
// debug endpoint here — the arena is shared memory any process on the same
// host can map directly, so the CLI talks to it the same way a consumer
// process would (pkg/markercache.OpenReadOnly).
//
// Build-time flag: `-ldflags "-X main.version=vX.Y.Z"` is set by GoReleaser.
// ---------------------------------------------------------------
// © 2025 arena-cache authors. MIT License.

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Voskan/marker-cache/internal/ring"
	"github.com/Voskan/marker-cache/pkg/markercache"
)

var version = "dev"

type options struct {
	arenaName string
	arenaDir  string
	watch     bool
	interval  time.Duration
	asJSON    bool
	showVersion bool
}

func parseFlags() *options {
	opts := &options{}
	flag.StringVar(&opts.arenaName, "name", "CacheSharedMemory", "arena rendezvous name")
	flag.StringVar(&opts.arenaDir, "dir", os.TempDir(), "directory holding the arena backing file")
	flag.BoolVar(&opts.watch, "watch", false, "repeat the dump on -interval until interrupted")
	flag.DurationVar(&opts.interval, "interval", 2*time.Second, "dump interval when -watch is set")
	flag.BoolVar(&opts.asJSON, "json", false, "emit JSON instead of a text table")
	flag.BoolVar(&opts.showVersion, "version", false, "print version and exit")
	flag.Parse()
	return opts
}

func main() {
	opts := parseFlags()

	if opts.showVersion {
		fmt.Println(version)
		return
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	if opts.watch {
		ticker := time.NewTicker(opts.interval)
		defer ticker.Stop()
		for {
			if err := dumpOnce(opts); err != nil {
				fmt.Fprintln(os.Stderr, "error:", err)
			}
			select {
			case <-ticker.C:
				continue
			case <-sig:
				return
			}
		}
	}

	// one-shot
	if err := dumpOnce(opts); err != nil {
		fatal(err)
	}
}

/* -------------------------------------------------------------------------
   Helpers
   ------------------------------------------------------------------------- */

type snapshot struct {
	ArenaName         string    `json:"arena_name"`
	RetentionHorizon  int64     `json:"retention_horizon"`
	SlotLo            []int64   `json:"slot_lo"`
	SlotHi            []int64   `json:"slot_hi"`
	SlotFillRatio     []float64 `json:"slot_fill_ratio"`
}

func dumpOnce(opts *options) error {
	c, err := markercache.OpenReadOnly(
		markercache.WithArenaName(opts.arenaName),
		markercache.WithArenaDir(opts.arenaDir),
	)
	if err != nil {
		return fmt.Errorf("open arena %q in %s: %w", opts.arenaName, opts.arenaDir, err)
	}
	defer c.Close()

	ranges := c.Ranges()
	fills := c.FillRatios()
	snap := snapshot{
		ArenaName:        opts.arenaName,
		RetentionHorizon: c.RetentionHorizon(),
		SlotLo:           make([]int64, len(ranges)),
		SlotHi:           make([]int64, len(ranges)),
		SlotFillRatio:    fills,
	}
	for i, r := range ranges {
		snap.SlotLo[i] = r.Lo
		snap.SlotHi[i] = r.Hi
	}

	if opts.asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	}
	return prettyPrint(snap)
}

func prettyPrint(s snapshot) error {
	fmt.Printf("Arena:             %s\n", s.ArenaName)
	fmt.Printf("Retention horizon: %s\n", time.Unix(s.RetentionHorizon, 0).UTC())
	fmt.Println("Slot  Lo                   Hi                   Fill ratio")
	for i := range s.SlotLo {
		hi := "+inf"
		if s.SlotHi[i] != ring.PosInf {
			hi = time.Unix(s.SlotHi[i], 0).UTC().String()
		}
		fmt.Printf("%-5d %-20s %-20s %.4f\n", i, time.Unix(s.SlotLo[i], 0).UTC(), hi, s.SlotFillRatio[i])
	}
	return nil
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "marker-cache-inspect:", err)
	os.Exit(1)
}
