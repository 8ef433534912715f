package arena

import (
	"os"
	"path/filepath"
	"testing"
)

func TestCreateExclusiveFailsIfPresent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.arena")
	a, err := CreateExclusive(path, 4096)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer a.Close()

	if _, err := CreateExclusive(path, 4096); err == nil {
		t.Fatalf("expected second CreateExclusive on the same path to fail")
	}
}

func TestOpenReadOnlyMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.arena")
	if _, err := OpenReadOnly(path); err == nil {
		t.Fatalf("expected OpenReadOnly of a missing file to fail")
	}
}

func TestWritesVisibleAcrossMappings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shared.arena")
	writer, err := CreateExclusive(path, 4096)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer writer.Close()
	writer.Bytes()[10] = 0xAB

	reader, err := OpenReadOnly(path)
	if err != nil {
		t.Fatalf("open read-only: %v", err)
	}
	defer reader.Close()

	if reader.Bytes()[10] != 0xAB {
		t.Fatalf("expected write through one mapping to be visible through another (MAP_SHARED)")
	}
}

func TestCloseRemovesOwnedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "owned.arena")
	a, err := CreateExclusive(path, 4096)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected owner's Close to remove the backing file")
	}
}

func TestCloseNonOwnerKeepsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kept.arena")
	writer, err := CreateExclusive(path, 4096)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer writer.Close()

	reader, err := OpenReadOnly(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := reader.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected non-owner Close to leave the backing file in place, stat err: %v", err)
	}
}

func TestLockUnlockRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "locked.arena")
	a, err := CreateExclusive(path, 4096)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer a.Close()

	if err := a.Lock(); err != nil {
		t.Fatalf("lock: %v", err)
	}
	if err := a.Unlock(); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if err := a.RLock(); err != nil {
		t.Fatalf("rlock: %v", err)
	}
	if err := a.RUnlock(); err != nil {
		t.Fatalf("runlock: %v", err)
	}
}

func TestTryRLockHeldDetectsFreeLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "free.arena")
	a, err := CreateExclusive(path, 4096)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer a.Close()

	held, err := a.TryRLockHeld()
	if err != nil {
		t.Fatalf("try-lock: %v", err)
	}
	if held {
		t.Fatalf("expected the lock to be free with no concurrent holder")
	}
}

func TestExistsAndRemoveStale(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stale.arena")
	if Exists(path) {
		t.Fatalf("expected Exists to be false before creation")
	}
	a, err := CreateExclusive(path, 4096)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	a.file.Close() // simulate an unclean exit: skip Close's remove-on-owner path
	if !Exists(path) {
		t.Fatalf("expected Exists to be true for a leftover file")
	}
	if err := RemoveStale(path); err != nil {
		t.Fatalf("remove stale: %v", err)
	}
	if Exists(path) {
		t.Fatalf("expected file to be gone after RemoveStale")
	}
}
