// Package persistence implements the on-disk {lo}.filter archive format of
// spec §4.6 and §6: a directory of files, one per evicted (non-current)
// ring slot, named after the slot's Lo time bound, each holding a
// serialized (time-range, filter) pair.
//
// Writes use write-then-rename (github.com/natefinch/atomic) so a crash
// mid-write can never leave a torn, half-written archive file behind —
// spec §4.6's "Atomicity" note ("Disk files are the sole durable state")
// only holds if individual file writes are themselves atomic.
//
// © 2025 arena-cache authors. MIT License.
package persistence

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/natefinch/atomic"

	"github.com/Voskan/marker-cache/internal/bloom"
	"github.com/Voskan/marker-cache/internal/ring"
)

const fileSuffix = ".filter"

// Entry pairs a parsed archive filename with its directory path, without
// reading the file body. Returned by List.
type Entry struct {
	Lo   int64
	Path string
}

// Save atomically writes rng and f to dir/{rng.Lo}.filter using
// write-then-rename, per spec §4.6 "On age / on demand save".
func Save(dir string, rng ring.TimeRange, f *bloom.Filter) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("persistence: mkdir %s: %w", dir, err)
	}
	var buf bytes.Buffer
	var hdr [16]byte
	binary.LittleEndian.PutUint64(hdr[0:8], uint64(rng.Lo))
	binary.LittleEndian.PutUint64(hdr[8:16], uint64(rng.Hi))
	buf.Write(hdr[:])
	if err := f.EncodeTo(&buf); err != nil {
		return fmt.Errorf("persistence: encode: %w", err)
	}
	path := pathFor(dir, rng.Lo)
	if err := atomic.WriteFile(path, bytes.NewReader(buf.Bytes())); err != nil {
		return fmt.Errorf("persistence: write %s: %w", path, err)
	}
	return nil
}

// Load reads and decodes an archive file written by Save.
func Load(path string) (ring.TimeRange, *bloom.Filter, error) {
	f, err := os.Open(path)
	if err != nil {
		return ring.TimeRange{}, nil, fmt.Errorf("persistence: open %s: %w", path, err)
	}
	defer f.Close()
	return decode(f, path)
}

func decode(r io.Reader, path string) (ring.TimeRange, *bloom.Filter, error) {
	var hdr [16]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return ring.TimeRange{}, nil, fmt.Errorf("persistence: truncated header in %s: %w", path, err)
	}
	rng := ring.TimeRange{
		Lo: int64(binary.LittleEndian.Uint64(hdr[0:8])),
		Hi: int64(binary.LittleEndian.Uint64(hdr[8:16])),
	}
	filter, err := bloom.Decode(r)
	if err != nil {
		return ring.TimeRange{}, nil, fmt.Errorf("persistence: corrupt body in %s: %w", path, err)
	}
	return rng, filter, nil
}

// Delete removes the archive file for the given Lo, if present. It is a
// no-op if absent (spec §4.4 step 4 may race with a prior unclean exit that
// already deleted it).
func Delete(dir string, lo int64) error {
	err := os.Remove(pathFor(dir, lo))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("persistence: delete %s: %w", pathFor(dir, lo), err)
	}
	return nil
}

// List enumerates archive_dir/*.filter and parses each Lo from its
// filename, without reading file bodies. Files whose names do not parse as
// {int64}.filter are skipped and left on disk. Listed files whose bodies
// fail to decode are deleted by the caller (internal/recovery), which has
// the policy context to decide when deletion is warranted.
func List(dir string) ([]Entry, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("persistence: readdir %s: %w", dir, err)
	}
	out := make([]Entry, 0, len(entries))
	for _, de := range entries {
		if de.IsDir() {
			continue
		}
		name := de.Name()
		if !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		loStr := strings.TrimSuffix(name, fileSuffix)
		lo, err := strconv.ParseInt(loStr, 10, 64)
		if err != nil {
			continue
		}
		out = append(out, Entry{Lo: lo, Path: filepath.Join(dir, name)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Lo < out[j].Lo })
	return out, nil
}

func pathFor(dir string, lo int64) string {
	return filepath.Join(dir, strconv.FormatInt(lo, 10)+fileSuffix)
}
