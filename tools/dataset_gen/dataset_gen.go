package main

// dataset_gen.go is a tiny helper utility to generate deterministic marker
// datasets for standalone benchmarking of marker-cache (outside `go test`).
// It emits newline-separated hex-encoded byte blobs, 50-250 bytes each,
// standing in for the opaque call-trail markers the cache indexes.
//
// Usage:
//   go run ./tools/dataset_gen -n 1000000 -dist=zipf -seed=42 -out markers.txt
//
// Flags:
//   -n       number of markers to generate (default 1e6)
//   -dist    distribution: "uniform" or "zipf" (default uniform). "zipf"
//            samples with repetition from a fixed-size pool, simulating the
//            same marker recurring across many call trails.
//   -poolsize  distinct markers in the zipf pool (default 10000, ignored for
//              uniform)
//   -zipfs   Zipf s parameter (>1)  (default 1.2)
//   -zipfv   Zipf v parameter (>=1) (default 1.0)
//   -seed    RNG seed (default current time)
//   -out     output file (default stdout)
//
// The program is *embarassingly simple* but placed under version control so
// that any contributor can regenerate the exact dataset used in performance
// regressions hunting.
//
// © 2025 arena-cache authors. MIT License.

import (
	"bufio"
	"encoding/hex"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"time"
)

func main() {
    var (
        n        = flag.Int("n", 1_000_000, "number of markers to generate")
        dist     = flag.String("dist", "uniform", "distribution: uniform or zipf")
        poolSize = flag.Uint64("poolsize", 10_000, "distinct markers in the zipf pool")
        zipfS    = flag.Float64("zipfs", 1.2, "zipf s parameter (>1)")
        zipfV    = flag.Float64("zipfv", 1.0, "zipf v parameter (>=1)")
        seedVal  = flag.Int64("seed", time.Now().UnixNano(), "PRNG seed")
        outPath  = flag.String("out", "", "output file (default stdout)")
    )
    flag.Parse()

    rnd := rand.New(rand.NewSource(*seedVal))

    var gen func() []byte
    switch *dist {
    case "uniform":
        gen = func() []byte { return randomMarker(rnd) }
    case "zipf":
        if *zipfS <= 1.0 || *zipfV < 1 {
            fmt.Fprintln(os.Stderr, "zipfs must be >1 and zipfv >=1")
            os.Exit(1)
        }
        pool := make([][]byte, *poolSize)
        for i := range pool {
            pool[i] = randomMarker(rnd)
        }
        z := rand.NewZipf(rnd, *zipfS, *zipfV, *poolSize-1)
        gen = func() []byte { return pool[z.Uint64()] }
    default:
        fmt.Fprintln(os.Stderr, "unknown dist:", *dist)
        os.Exit(1)
    }

    var out *os.File
    var err error
    if *outPath == "" {
        out = os.Stdout
    } else {
        out, err = os.Create(*outPath)
        if err != nil {
            fmt.Fprintln(os.Stderr, "cannot create file:", err)
            os.Exit(1)
        }
        defer out.Close()
    }

    w := bufio.NewWriterSize(out, 1<<20)
    defer w.Flush()

    for i := 0; i < *n; i++ {
        fmt.Fprintln(w, hex.EncodeToString(gen()))
    }
}

func randomMarker(rnd *rand.Rand) []byte {
    size := 50 + rnd.Intn(201) // [50, 250]
    b := make([]byte, size)
    rnd.Read(b)
    return b
}
