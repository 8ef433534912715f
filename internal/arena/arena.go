// Package arena owns the named, process-wide shared-memory region that the
// marker cache's ring lives in (spec §3 "Arena", §9 "Replacing the
// shared-memory arena with ownership").
//
// Go has no portable equivalent of boost::interprocess::managed_shared_memory:
// there is no allocator-aware container runtime and no POSIX shm_open in the
// standard library. The idiomatic substitute used here is a backing file
// memory-mapped MAP_SHARED via golang.org/x/sys/unix — exactly one process
// creates the file (O_CREATE|O_EXCL), every other opener maps it read-only.
// All internal references into the region are arena-relative byte offsets,
// never raw pointers, because the mapping may land at different virtual
// addresses in different processes.
//
// The region also carries the sharable (readers/writer) lock mandated by
// spec §4.5: rather than hand-roll a futex, this implementation uses the
// backing file descriptor's flock(2) lock, which is natively shared across
// processes, auto-releases if a process dies mid-hold (the crash-robustness
// requirement of §4.5), and needs no bytes of arena storage at all.
//
// © 2025 arena-cache authors. MIT License.
package arena

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// Arena is a memory-mapped, named shared-memory region plus its
// cross-process readers/writer lock. The zero value is not usable.
type Arena struct {
	file   *os.File
	data   []byte
	owner  bool // true for the exclusive creator (producer)
	path   string
	closed bool
}

// CreateExclusive creates a new arena backing file at path, sized to size
// bytes, and maps it read-write. Fails with an error wrapping os.ErrExist
// if the file is already present — the Go analogue of
// boost::interprocess create_only semantics ("arena-exists" in spec §7).
func CreateExclusive(path string, size int64) (*Arena, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("arena: create %s: %w", path, err)
	}
	if err := f.Truncate(size); err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("arena: truncate %s: %w", path, err)
	}
	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("arena: mmap %s: %w", path, err)
	}
	return &Arena{file: f, data: data, owner: true, path: path}, nil
}

// OpenReadOnly maps an existing arena file read-only. Fails if the file does
// not exist ("arena-missing" in spec §7) — the consumer side of the
// producer/consumer split.
func OpenReadOnly(path string) (*Arena, error) {
	f, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("arena: open %s: %w", path, err)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("arena: stat %s: %w", path, err)
	}
	data, err := unix.Mmap(int(f.Fd()), 0, int(fi.Size()), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("arena: mmap %s: %w", path, err)
	}
	return &Arena{file: f, data: data, owner: false, path: path}, nil
}

// Bytes exposes the full mapped region. Offsets into it are stable for the
// lifetime of the Arena; callers must never retain a []byte slice across a
// Close.
func (a *Arena) Bytes() []byte { return a.data }

// Size returns the length of the mapped region in bytes.
func (a *Arena) Size() int64 { return int64(len(a.data)) }

// Owner reports whether this process created the arena (the producer).
func (a *Arena) Owner() bool { return a.owner }

// RLock acquires the shared lock held by readers during Lookup (spec §4.5).
// It blocks until available.
func (a *Arena) RLock() error {
	return flock(a.file, unix.LOCK_SH)
}

// RUnlock releases a shared lock acquired by RLock.
func (a *Arena) RUnlock() error {
	return flock(a.file, unix.LOCK_UN)
}

// Lock acquires the exclusive lock held by the producer during Age (spec
// §4.5). It blocks until available.
func (a *Arena) Lock() error {
	return flock(a.file, unix.LOCK_EX)
}

// Unlock releases an exclusive lock acquired by Lock.
func (a *Arena) Unlock() error {
	return flock(a.file, unix.LOCK_UN)
}

func flock(f *os.File, how int) error {
	if err := unix.Flock(int(f.Fd()), how); err != nil {
		return fmt.Errorf("arena: flock: %w", err)
	}
	return nil
}

// TryRLockHeld reports whether some other process currently holds the
// arena's exclusive lock, without blocking. Used by Create to distinguish a
// live producer (the lock is held) from a stale file left by an unclean
// exit (the lock is free) before deciding whether it is safe to remove and
// recreate the backing file.
func (a *Arena) TryRLockHeld() (bool, error) {
	err := unix.Flock(int(a.file.Fd()), unix.LOCK_EX|unix.LOCK_NB)
	if err == nil {
		_ = unix.Flock(int(a.file.Fd()), unix.LOCK_UN)
		return false, nil
	}
	if err == unix.EWOULDBLOCK {
		return true, nil
	}
	return false, fmt.Errorf("arena: flock trylock: %w", err)
}

// Sync flushes in-memory modifications back to the backing file. Cheap
// insurance for long-running producers that might be killed uncleanly;
// consumers never call it (their mapping is read-only).
func (a *Arena) Sync() error {
	if !a.owner {
		return nil
	}
	if err := unix.Msync(a.data, unix.MS_ASYNC); err != nil {
		return fmt.Errorf("arena: msync: %w", err)
	}
	return nil
}

// Close unmaps the region and closes the backing file descriptor. If this
// process owns the arena (the producer), the backing file is also removed,
// matching spec §3's "destroyed on producer shutdown" lifecycle.
func (a *Arena) Close() error {
	if a.closed {
		return nil
	}
	a.closed = true
	var firstErr error
	if a.data != nil {
		if err := unix.Munmap(a.data); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("arena: munmap: %w", err)
		}
		a.data = nil
	}
	if err := a.file.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("arena: close: %w", err)
	}
	if a.owner {
		if err := os.Remove(a.path); err != nil && !os.IsNotExist(err) && firstErr == nil {
			firstErr = fmt.Errorf("arena: remove: %w", err)
		}
	}
	return firstErr
}

// Exists reports whether an arena backing file is present at path, used by
// the producer to decide whether a stale file from an unclean exit must be
// removed before re-creating (spec §3: "On unclean producer exit the region
// persists; producer restart removes and recreates it").
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// RemoveStale deletes a leftover arena backing file from a prior unclean
// producer exit. It is a no-op if the file is absent.
func RemoveStale(path string) error {
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("arena: remove stale %s: %w", path, err)
	}
	return nil
}
