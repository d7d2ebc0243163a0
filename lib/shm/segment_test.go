// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package shm

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bureau-foundation/exchange/lib/testutil"
)

func TestObjectPath(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"plain", "/bureau-exchange", "/shm/bureau-exchange", false},
		{"missing slash", "bureau-exchange", "", true},
		{"bare slash", "/", "", true},
		{"nested", "/a/b", "", true},
		{"too long", "/" + string(make([]byte, 256)), "", true},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			got, err := objectPath(test.input, "/shm")
			if test.wantErr {
				if err == nil {
					t.Fatalf("objectPath(%q) = %q, want error", test.input, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("objectPath(%q): %v", test.input, err)
			}
			if got != test.want {
				t.Errorf("objectPath(%q) = %q, want %q", test.input, got, test.want)
			}
		})
	}
}

func TestCreateSizesAndInitializes(t *testing.T) {
	t.Parallel()
	directory := t.TempDir()
	options := Options{LockTimeout: time.Second, Directory: directory}

	segment, err := Create("/create-test", options)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer segment.Close()

	info, err := os.Stat(filepath.Join(directory, "create-test"))
	if err != nil {
		t.Fatalf("stat backing object: %v", err)
	}
	if info.Size() != SegmentSize {
		t.Errorf("backing object is %d bytes, want %d", info.Size(), SegmentSize)
	}
	if segment.Path() != filepath.Join(directory, "create-test") {
		t.Errorf("Path = %q", segment.Path())
	}

	stats, err := segment.Stats()
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Input != 0 || stats.Output != 0 || stats.HolderPID != 0 {
		t.Errorf("fresh segment stats = %+v", stats)
	}
	if stats.Size != SegmentSize || stats.Capacity != Capacity || stats.LayoutVersion != LayoutVersion {
		t.Errorf("stats geometry = %+v", stats)
	}
}

func TestCreateIsIdempotentAndResets(t *testing.T) {
	t.Parallel()
	options := Options{LockTimeout: time.Second, Directory: t.TempDir()}

	first, err := Create("/idempotent", options)
	if err != nil {
		t.Fatalf("first Create: %v", err)
	}
	defer first.Close()
	if err := first.Append(Input, "left-over", "x"); err != nil {
		t.Fatalf("Append: %v", err)
	}

	second, err := Create("/idempotent", options)
	if err != nil {
		t.Fatalf("second Create: %v", err)
	}
	defer second.Close()

	// Both handles name the same kernel object, which is now empty.
	requireEmpty(t, first, Input)
	if err := second.Append(Output, "shared", "y"); err != nil {
		t.Fatalf("Append via second handle: %v", err)
	}
	record, err := first.PeekFirst(Output)
	if err != nil {
		t.Fatalf("PeekFirst via first handle: %v", err)
	}
	if record.ID != "shared" {
		t.Errorf("PeekFirst id = %q", record.ID)
	}
}

func TestCreateResetsUnderLock(t *testing.T) {
	t.Parallel()
	options := Options{LockTimeout: 50 * time.Millisecond, Directory: t.TempDir()}

	first, err := Create("/reset-locked", options)
	if err != nil {
		t.Fatalf("first Create: %v", err)
	}
	defer first.Close()
	if err := first.Append(Input, "in-flight", "x"); err != nil {
		t.Fatalf("Append: %v", err)
	}

	// Another attached process is inside its critical section.
	holdLock(t, first, uint32(os.Getpid()))

	_, err = Create("/reset-locked", options)
	if !errors.Is(err, ErrLock) || !errors.Is(err, ErrInit) {
		t.Fatalf("Create while locked = %v, want ErrLock and ErrInit", err)
	}
	if word := lockWord(t, first); word == lockFree {
		t.Fatal("Create released a lock it did not hold")
	}

	releaseLock(t, first)
	record, err := first.PeekFirst(Input)
	if err != nil {
		t.Fatalf("PeekFirst after failed Create: %v", err)
	}
	if record.ID != "in-flight" {
		t.Errorf("PeekFirst id = %q, want in-flight", record.ID)
	}

	// With a longer bound, Create waits for the holder and then clears.
	holdLock(t, first, uint32(os.Getpid()))
	created := make(chan error, 1)
	go func() {
		options := options
		options.LockTimeout = 10 * time.Second
		second, err := Create("/reset-locked", options)
		if err == nil {
			second.Close()
		}
		created <- err
	}()

	time.Sleep(50 * time.Millisecond)
	select {
	case err := <-created:
		t.Fatalf("Create returned while the lock was held: %v", err)
	default:
	}
	releaseLock(t, first)

	if err := testutil.RequireReceive(t, created, 10*time.Second, "waiting for Create"); err != nil {
		t.Fatalf("second Create: %v", err)
	}
	requireEmpty(t, first, Input)
}

func TestLockTakenOverFromExitedHolder(t *testing.T) {
	t.Parallel()
	options := Options{LockTimeout: 5 * time.Second, Directory: t.TempDir()}
	segment, err := Create("/exited-holder", options)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer segment.Close()

	// A process that has run to completion and been reaped.
	child := exec.Command(os.Args[0], "-test.run=^$")
	if err := child.Run(); err != nil {
		t.Fatalf("running child: %v", err)
	}
	holdLock(t, segment, uint32(child.Process.Pid))

	if err := segment.Append(Input, "after-crash", "x"); err != nil {
		t.Fatalf("Append with exited holder = %v, want takeover", err)
	}
	stats, err := segment.Stats()
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Input != 1 || stats.HolderPID != 0 {
		t.Errorf("stats after takeover = %+v", stats)
	}
}

// holdLock takes the segment lock and leaves it held, attributed to
// holder.
func holdLock(t *testing.T, segment *Segment, holder uint32) {
	t.Helper()
	err := segment.mapped("test", func(mem []byte) error {
		g := newGuard(mem)
		if err := g.lock(0); err != nil {
			return err
		}
		atomic.StoreUint32(g.holder, holder)
		return nil
	})
	if err != nil {
		t.Fatalf("taking lock: %v", err)
	}
}

func releaseLock(t *testing.T, segment *Segment) {
	t.Helper()
	err := segment.mapped("test", func(mem []byte) error {
		newGuard(mem).unlock()
		return nil
	})
	if err != nil {
		t.Fatalf("releasing lock: %v", err)
	}
}

func lockWord(t *testing.T, segment *Segment) uint32 {
	t.Helper()
	var word uint32
	err := segment.mapped("test", func(mem []byte) error {
		word = atomic.LoadUint32(newGuard(mem).word)
		return nil
	})
	if err != nil {
		t.Fatalf("reading lock word: %v", err)
	}
	return word
}

func TestOpenValidates(t *testing.T) {
	t.Parallel()
	directory := t.TempDir()
	options := Options{LockTimeout: time.Second, Directory: directory}

	t.Run("missing", func(t *testing.T) {
		_, err := Open("/does-not-exist", options)
		var initErr *InitError
		if !errors.As(err, &initErr) {
			t.Fatalf("Open = %v, want *InitError", err)
		}
		if !errors.Is(err, ErrInit) || !errors.Is(err, fs.ErrNotExist) {
			t.Errorf("Open error %v should match ErrInit and fs.ErrNotExist", err)
		}
	})

	t.Run("wrong size", func(t *testing.T) {
		if err := os.WriteFile(filepath.Join(directory, "short"), make([]byte, 100), 0o600); err != nil {
			t.Fatal(err)
		}
		if _, err := Open("/short", options); !errors.Is(err, ErrInit) {
			t.Fatalf("Open = %v, want ErrInit", err)
		}
	})

	t.Run("bad magic", func(t *testing.T) {
		if err := os.WriteFile(filepath.Join(directory, "garbage"), make([]byte, SegmentSize), 0o600); err != nil {
			t.Fatal(err)
		}
		if _, err := Open("/garbage", options); !errors.Is(err, ErrInit) {
			t.Fatalf("Open = %v, want ErrInit", err)
		}
	})

	t.Run("valid", func(t *testing.T) {
		created, err := Create("/valid", options)
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		defer created.Close()
		if err := created.Append(Input, "u1", "body"); err != nil {
			t.Fatalf("Append: %v", err)
		}

		opened, err := Open("/valid", options)
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		defer opened.Close()
		record, err := opened.PeekFirst(Input)
		if err != nil {
			t.Fatalf("PeekFirst: %v", err)
		}
		if record.Payload != "body" {
			t.Errorf("payload = %q", record.Payload)
		}
	})
}

func TestDestroyKeepsExistingHandles(t *testing.T) {
	t.Parallel()
	options := Options{LockTimeout: time.Second, Directory: t.TempDir()}

	segment, err := Create("/destroy-test", options)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer segment.Close()

	if err := segment.Destroy(); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	if _, err := Open("/destroy-test", options); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("Open after Destroy = %v, want not-exist", err)
	}

	// The open descriptor still reaches the storage.
	if err := segment.Append(Input, "still", "here"); err != nil {
		t.Fatalf("Append after Destroy: %v", err)
	}
	if err := Destroy("/destroy-test", options); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("second Destroy = %v, want not-exist", err)
	}
}

func TestClosedHandle(t *testing.T) {
	t.Parallel()
	segment := newTestSegment(t)
	if err := segment.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := segment.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if err := segment.Append(Input, "x", "y"); !errors.Is(err, ErrInit) {
		t.Fatalf("Append on closed handle = %v, want ErrInit", err)
	}
}

func TestLockTimeoutReportsHolder(t *testing.T) {
	t.Parallel()
	options := Options{LockTimeout: 50 * time.Millisecond, Directory: t.TempDir()}
	segment, err := Create("/stuck", options)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer segment.Close()

	// Attribute the lock to a process that is alive but never releases
	// it: the test binary's parent.
	stuckHolder := uint32(os.Getppid())
	holdLock(t, segment, stuckHolder)

	err = segment.Append(Input, "blocked", "x")
	var lockErr *LockError
	if !errors.As(err, &lockErr) {
		t.Fatalf("Append = %v, want *LockError", err)
	}
	if lockErr.Holder != stuckHolder {
		t.Errorf("LockError.Holder = %d, want %d", lockErr.Holder, stuckHolder)
	}
	if !errors.Is(err, ErrLock) {
		t.Error("LockError does not match ErrLock")
	}

	stats, err := segment.Stats()
	if !errors.Is(err, ErrLock) {
		t.Fatalf("Stats = %v, want ErrLock", err)
	}
	if stats.HolderPID != stuckHolder {
		t.Errorf("Stats.HolderPID = %d", stats.HolderPID)
	}
}

func TestGuardExcludesGoroutines(t *testing.T) {
	t.Parallel()
	segment := newTestSegment(t)

	// Increment a counter kept in the reserved header area with a
	// non-atomic read-modify-write. Only mutual exclusion keeps the
	// count exact.
	const goroutines = 8
	const iterations = 200
	counterOffset := holderOffset + 8

	var wg sync.WaitGroup
	for range goroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range iterations {
				err := segment.locked("count", func(mem []byte) error {
					value := int(mem[counterOffset]) | int(mem[counterOffset+1])<<8
					value++
					mem[counterOffset] = byte(value)
					mem[counterOffset+1] = byte(value >> 8)
					return nil
				})
				if err != nil {
					t.Errorf("locked: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	var final int
	err := segment.mapped("read", func(mem []byte) error {
		final = int(mem[counterOffset]) | int(mem[counterOffset+1])<<8
		return nil
	})
	if err != nil {
		t.Fatalf("mapped: %v", err)
	}
	if final != goroutines*iterations {
		t.Errorf("counter = %d, want %d", final, goroutines*iterations)
	}
}

// Environment variables passed to the helper process.
const (
	helperDirectoryEnv = "EXCHANGE_SHM_HELPER_DIRECTORY"
	helperNameEnv      = "EXCHANGE_SHM_HELPER_NAME"
)

// TestHelperProcessAppend runs only inside the child spawned by
// TestCrossProcessAppend.
func TestHelperProcessAppend(t *testing.T) {
	directory := os.Getenv(helperDirectoryEnv)
	if directory == "" {
		t.Skip("helper process only")
	}
	segment, err := Open(os.Getenv(helperNameEnv), Options{LockTimeout: 5 * time.Second, Directory: directory})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer segment.Close()
	for i := range Capacity / 2 {
		id := fmt.Sprintf("child-%d", i)
		if err := segment.Append(Input, id, payloadFor(id)); err != nil {
			t.Fatalf("Append(%s): %v", id, err)
		}
	}
}

func TestCrossProcessAppend(t *testing.T) {
	if testing.Short() {
		t.Skip("spawns a child process")
	}
	directory := t.TempDir()
	name := "/" + testutil.UniqueID("cross-process")
	segment, err := Create(name, Options{LockTimeout: 5 * time.Second, Directory: directory})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer segment.Close()

	child := exec.Command(os.Args[0], "-test.run=^TestHelperProcessAppend$")
	child.Env = append(os.Environ(), helperDirectoryEnv+"="+directory, helperNameEnv+"="+name)
	output := make(chan error, 1)
	go func() {
		combined, err := child.CombinedOutput()
		if err != nil {
			err = fmt.Errorf("%w: %s", err, combined)
		}
		output <- err
	}()

	for i := range Capacity / 2 {
		id := fmt.Sprintf("parent-%d", i)
		if err := segment.Append(Input, id, payloadFor(id)); err != nil {
			t.Fatalf("Append(%s): %v", id, err)
		}
	}
	if err := testutil.RequireReceive(t, output, 30*time.Second, "waiting for helper process"); err != nil {
		t.Fatalf("helper process: %v", err)
	}

	snapshot, err := segment.Snapshot(Input)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if len(snapshot.Slots) != Capacity {
		t.Fatalf("occupied slots = %d, want %d", len(snapshot.Slots), Capacity)
	}
	for _, s := range snapshot.Slots {
		if s.Payload != payloadFor(s.ID) {
			t.Errorf("slot %d: torn record %q", s.Index, s.ID)
		}
	}
	if err := segment.Append(Input, "one-more", "x"); !errors.Is(err, ErrQueueFull) {
		t.Errorf("Append to full queue = %v, want ErrQueueFull", err)
	}
}
