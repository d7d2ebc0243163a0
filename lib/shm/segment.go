// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package shm

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// DefaultLockTimeout is the lock acquisition bound a deployment uses
// unless configured otherwise.
const DefaultLockTimeout = 5 * time.Second

// maxNameLength matches NAME_MAX for the /dev/shm filesystem.
const maxNameLength = 255

var errClosed = errors.New("segment handle is closed")

// Options configures a Segment handle.
type Options struct {
	// LockTimeout bounds how long an operation waits for the segment
	// lock. Zero waits forever.
	LockTimeout time.Duration

	// Directory holds the backing object. Empty means /dev/shm when it
	// exists, otherwise os.TempDir(). Every process sharing a segment
	// must agree on it.
	Directory string
}

// Segment is a handle to a named shared-memory segment. It holds an
// open descriptor on the backing object but no mapping: each operation
// maps the segment for its own duration. A Segment is safe for
// concurrent use.
type Segment struct {
	name    string
	path    string
	options Options

	// mu guards fd against Close while operations are mapping it.
	mu sync.RWMutex
	fd int
}

// Create creates the named segment, or opens it if it already exists,
// sizes it to exactly SegmentSize, and zeroes every slot in both
// queues. Any records present in an existing segment are discarded.
//
// A new or unrecognized object gets a fresh header and lock. An
// existing segment keeps both: its queues are cleared under the lock,
// so processes already attached are never interrupted mid-operation.
// A lock held past LockTimeout fails Create with an error matching
// ErrLock.
//
// Names follow shm_open(3): a leading slash and no other slashes.
func Create(name string, options Options) (*Segment, error) {
	path, err := objectPath(name, options.Directory)
	if err != nil {
		return nil, &InitError{Op: "create", Name: name, Err: err}
	}

	fd, err := unix.Open(path, unix.O_CREAT|unix.O_RDWR|unix.O_CLOEXEC, 0o600)
	if err != nil {
		return nil, &InitError{Op: "create", Name: name, Err: fmt.Errorf("opening %s: %w", path, err)}
	}

	if err := unix.Ftruncate(fd, SegmentSize); err != nil {
		unix.Close(fd)
		return nil, &InitError{Op: "create", Name: name, Err: fmt.Errorf("sizing to %d bytes: %w", SegmentSize, err)}
	}

	mem, err := unix.Mmap(fd, 0, SegmentSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return nil, &InitError{Op: "create", Name: name, Err: fmt.Errorf("mapping: %w", err)}
	}

	if err := reset(mem, options.LockTimeout); err != nil {
		unix.Munmap(mem)
		unix.Close(fd)
		return nil, &InitError{Op: "create", Name: name, Err: err}
	}

	if err := unix.Munmap(mem); err != nil {
		unix.Close(fd)
		return nil, &InitError{Op: "create", Name: name, Err: fmt.Errorf("unmapping: %w", err)}
	}

	return &Segment{name: name, path: path, options: options, fd: fd}, nil
}

// Open attaches to an existing segment created by Create, in this or
// any other process. The backing object must have the exact size,
// magic, and layout version this package writes.
func Open(name string, options Options) (*Segment, error) {
	path, err := objectPath(name, options.Directory)
	if err != nil {
		return nil, &InitError{Op: "open", Name: name, Err: err}
	}

	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, &InitError{Op: "open", Name: name, Err: fmt.Errorf("opening %s: %w", path, err)}
	}

	var stat unix.Stat_t
	if err := unix.Fstat(fd, &stat); err != nil {
		unix.Close(fd)
		return nil, &InitError{Op: "open", Name: name, Err: fmt.Errorf("stat: %w", err)}
	}
	if stat.Size != SegmentSize {
		unix.Close(fd)
		return nil, &InitError{Op: "open", Name: name,
			Err: fmt.Errorf("backing object is %d bytes, expected %d", stat.Size, SegmentSize)}
	}

	segment := &Segment{name: name, path: path, options: options, fd: fd}
	if err := segment.mapped("open", validateHeader); err != nil {
		unix.Close(fd)
		var initErr *InitError
		if errors.As(err, &initErr) {
			return nil, err
		}
		return nil, &InitError{Op: "open", Name: name, Err: err}
	}
	return segment, nil
}

// Destroy removes the named segment from the system namespace. Handles
// and mappings that already exist stay valid; the kernel frees the
// storage once the last of them is closed.
func Destroy(name string, options Options) error {
	path, err := objectPath(name, options.Directory)
	if err != nil {
		return fmt.Errorf("destroying segment %s: %w", name, err)
	}
	if err := unix.Unlink(path); err != nil {
		return fmt.Errorf("destroying segment %s: %w", name, err)
	}
	return nil
}

// Name returns the segment's system-wide name.
func (s *Segment) Name() string { return s.name }

// Path returns the filesystem path of the backing object.
func (s *Segment) Path() string { return s.path }

// Destroy unlinks this segment's name. The handle stays usable until
// Close.
func (s *Segment) Destroy() error {
	return Destroy(s.name, s.options)
}

// Close releases the handle's descriptor. Operations started before
// Close finish first; later ones fail with InitError.
func (s *Segment) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fd < 0 {
		return nil
	}
	err := unix.Close(s.fd)
	s.fd = -1
	return err
}

// mapped maps the whole segment, runs fn, and unmaps.
func (s *Segment) mapped(op string, fn func(mem []byte) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.fd < 0 {
		return &InitError{Op: op, Name: s.name, Err: errClosed}
	}

	mem, err := unix.Mmap(s.fd, 0, SegmentSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return &InitError{Op: op, Name: s.name, Err: fmt.Errorf("mapping: %w", err)}
	}
	defer unix.Munmap(mem)

	return fn(mem)
}

// locked maps the segment and runs fn with the segment lock held.
func (s *Segment) locked(op string, fn func(mem []byte) error) error {
	return s.mapped(op, func(mem []byte) error {
		g := newGuard(mem)
		if err := g.lock(s.options.LockTimeout); err != nil {
			return err
		}
		defer g.unlock()
		return fn(mem)
	})
}

// reset empties both queues of a freshly mapped segment.
func reset(mem []byte, lockTimeout time.Duration) error {
	if validateHeader(mem) != nil {
		clear(mem)
		copy(mem[magicOffset:magicOffset+len(segmentMagic)], segmentMagic[:])
		binary.NativeEndian.PutUint32(mem[versionOffset:], LayoutVersion)
		newGuard(mem).init()
		return nil
	}

	g := newGuard(mem)
	if err := g.lock(lockTimeout); err != nil {
		return err
	}
	defer g.unlock()
	clear(mem[HeaderSize:])
	return nil
}

func validateHeader(mem []byte) error {
	var magic [8]byte
	copy(magic[:], mem[magicOffset:])
	if magic != segmentMagic {
		return fmt.Errorf("bad magic %q", magic[:])
	}
	if version := binary.NativeEndian.Uint32(mem[versionOffset:]); version != LayoutVersion {
		return fmt.Errorf("layout version %d, expected %d", version, LayoutVersion)
	}
	return nil
}

// objectPath maps a POSIX shared-memory name to its backing file.
func objectPath(name, directory string) (string, error) {
	if !strings.HasPrefix(name, "/") {
		return "", fmt.Errorf("segment name %q must start with '/'", name)
	}
	base := name[1:]
	if base == "" || strings.Contains(base, "/") {
		return "", fmt.Errorf("segment name %q must be '/' followed by a non-empty name without slashes", name)
	}
	if len(base) > maxNameLength {
		return "", fmt.Errorf("segment name %q exceeds %d bytes", name, maxNameLength)
	}
	if directory == "" {
		directory = defaultDirectory()
	}
	return filepath.Join(directory, base), nil
}

func defaultDirectory() string {
	if info, err := os.Stat("/dev/shm"); err == nil && info.IsDir() {
		return "/dev/shm"
	}
	return os.TempDir()
}

// slotAt returns the index'th slot of the queue starting at base.
func slotAt(mem []byte, base, index int) slot {
	start := base + index*RecordSize
	return slot(mem[start : start+RecordSize : start+RecordSize])
}
