// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package shm

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bureau-foundation/exchange/lib/testutil"
)

// newTestSegment creates a segment under a per-test directory so tests
// can run in parallel without touching /dev/shm.
func newTestSegment(t *testing.T) *Segment {
	t.Helper()
	options := Options{LockTimeout: 5 * time.Second, Directory: t.TempDir()}
	segment, err := Create("/"+testutil.UniqueID("queue-test"), options)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	t.Cleanup(func() {
		segment.Close()
		segment.Destroy()
	})
	return segment
}

func requireEmpty(t *testing.T, segment *Segment, queue Queue) {
	t.Helper()
	_, err := segment.PeekFirst(queue)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("PeekFirst(%s) = %v, want ErrNotFound", queue, err)
	}
}

func TestAppendPeekRoundtrip(t *testing.T) {
	t.Parallel()
	segment := newTestSegment(t)

	payloads := []string{
		"",
		`{"function":"add","uuid":"u1","args":{"a":1,"b":2}}`,
		strings.Repeat("p", PayloadCapacity),
		"ünïcödé ✓",
	}
	for _, payload := range payloads {
		if err := segment.Append(Input, "id-1", payload); err != nil {
			t.Fatalf("Append(%q): %v", payload, err)
		}
		record, err := segment.PeekFirst(Input)
		if err != nil {
			t.Fatalf("PeekFirst: %v", err)
		}
		if record.ID != "id-1" || record.Payload != payload {
			t.Errorf("PeekFirst = %+v, want id-1/%q", record, payload)
		}
		if err := segment.Remove(Input, "id-1", MatchExact); err != nil {
			t.Fatalf("Remove: %v", err)
		}
	}
}

func TestPeekDoesNotRemove(t *testing.T) {
	t.Parallel()
	segment := newTestSegment(t)

	if err := segment.Append(Output, "keep", "body"); err != nil {
		t.Fatalf("Append: %v", err)
	}
	for range 3 {
		record, err := segment.PeekFirst(Output)
		if err != nil {
			t.Fatalf("PeekFirst: %v", err)
		}
		if record.ID != "keep" {
			t.Fatalf("PeekFirst id = %q", record.ID)
		}
	}
	requireEmpty(t, segment, Input)
}

func TestAppendOversizeNeverTruncates(t *testing.T) {
	t.Parallel()
	segment := newTestSegment(t)

	tests := []struct {
		name    string
		id      string
		payload string
		field   string
	}{
		{"id of 37 bytes", strings.Repeat("i", 37), "x", "id"},
		{"payload of 257 bytes", "ok", strings.Repeat("p", 257), "payload"},
		{"both oversize", strings.Repeat("i", 80), strings.Repeat("p", 1000), "id"},
	}
	for _, test := range tests {
		err := segment.Append(Input, test.id, test.payload)
		var oversize *OversizeError
		if !errors.As(err, &oversize) {
			t.Fatalf("%s: Append = %v, want *OversizeError", test.name, err)
		}
		if oversize.Field != test.field {
			t.Errorf("%s: oversize field = %q, want %q", test.name, oversize.Field, test.field)
		}
	}
	requireEmpty(t, segment, Input)
}

func TestRemoveThenPeekNotFound(t *testing.T) {
	t.Parallel()
	segment := newTestSegment(t)

	if err := segment.Append(Input, "u1", "X"); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := segment.Remove(Input, "u1", MatchExact); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	requireEmpty(t, segment, Input)

	err := segment.Remove(Input, "u1", MatchExact)
	var notFound *NotFoundError
	if !errors.As(err, &notFound) || notFound.ID != "u1" || notFound.Queue != Input {
		t.Fatalf("second Remove = %v, want NotFoundError for u1", err)
	}
}

func TestCapacityExhaustion(t *testing.T) {
	t.Parallel()
	segment := newTestSegment(t)

	for i := range Capacity {
		if err := segment.Append(Input, fmt.Sprintf("id-%03d", i), "payload"); err != nil {
			t.Fatalf("Append #%d: %v", i, err)
		}
	}

	err := segment.Append(Input, "id-100", "payload")
	var full *QueueFullError
	if !errors.As(err, &full) {
		t.Fatalf("101st Append = %v, want *QueueFullError", err)
	}
	if full.Queue != Input {
		t.Errorf("QueueFullError.Queue = %v", full.Queue)
	}

	// The output queue is independent.
	if err := segment.Append(Output, "id-100", "payload"); err != nil {
		t.Fatalf("Append to output while input is full: %v", err)
	}

	// The rejected id must not have replaced anything.
	snapshot, err := segment.Snapshot(Input)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	for _, s := range snapshot.Slots {
		if s.ID == "id-100" {
			t.Fatal("rejected id found in input queue")
		}
	}
}

func TestAppendFillsLowestHole(t *testing.T) {
	t.Parallel()
	segment := newTestSegment(t)

	for _, id := range []string{"a", "b", "c"} {
		if err := segment.Append(Input, id, id); err != nil {
			t.Fatalf("Append(%s): %v", id, err)
		}
	}
	if err := segment.Remove(Input, "a", MatchExact); err != nil {
		t.Fatalf("Remove(a): %v", err)
	}
	if err := segment.Append(Input, "d", "d"); err != nil {
		t.Fatalf("Append(d): %v", err)
	}

	// d reuses slot 0, ahead of b and c.
	record, err := segment.PeekFirst(Input)
	if err != nil {
		t.Fatalf("PeekFirst: %v", err)
	}
	if record.ID != "d" {
		t.Errorf("PeekFirst id = %q, want d", record.ID)
	}

	snapshot, err := segment.Snapshot(Input)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	var order []string
	for _, s := range snapshot.Slots {
		order = append(order, fmt.Sprintf("%d:%s", s.Index, s.ID))
	}
	if got := strings.Join(order, ","); got != "0:d,1:b,2:c" {
		t.Errorf("slot order = %s", got)
	}
}

func TestRemoveMatchModes(t *testing.T) {
	t.Parallel()

	t.Run("prefix removes longer id", func(t *testing.T) {
		segment := newTestSegment(t)
		if err := segment.Append(Input, "abcdef-123", "x"); err != nil {
			t.Fatalf("Append: %v", err)
		}
		if err := segment.Remove(Input, "abcdef", MatchPrefix); err != nil {
			t.Fatalf("Remove prefix: %v", err)
		}
		requireEmpty(t, segment, Input)
	})

	t.Run("exact ignores longer id", func(t *testing.T) {
		segment := newTestSegment(t)
		if err := segment.Append(Input, "abcdef-123", "x"); err != nil {
			t.Fatalf("Append: %v", err)
		}
		if err := segment.Remove(Input, "abcdef", MatchExact); !errors.Is(err, ErrNotFound) {
			t.Fatalf("Remove exact = %v, want ErrNotFound", err)
		}
		if err := segment.Remove(Input, "abcdef-123", MatchExact); err != nil {
			t.Fatalf("Remove exact full id: %v", err)
		}
	})

	t.Run("exact skips prefix sibling", func(t *testing.T) {
		segment := newTestSegment(t)
		for _, id := range []string{"job-10", "job-1"} {
			if err := segment.Append(Input, id, id); err != nil {
				t.Fatalf("Append(%s): %v", id, err)
			}
		}
		if err := segment.Remove(Input, "job-1", MatchExact); err != nil {
			t.Fatalf("Remove: %v", err)
		}
		record, err := segment.PeekFirst(Input)
		if err != nil {
			t.Fatalf("PeekFirst: %v", err)
		}
		if record.ID != "job-10" {
			t.Errorf("remaining id = %q, want job-10", record.ID)
		}
	})

	t.Run("empty id rejected", func(t *testing.T) {
		segment := newTestSegment(t)
		if err := segment.Append(Input, "anything", "x"); err != nil {
			t.Fatalf("Append: %v", err)
		}
		if err := segment.Remove(Input, "", MatchPrefix); !errors.Is(err, ErrInvalidRecord) {
			t.Fatalf("Remove(\"\") = %v, want ErrInvalidRecord", err)
		}
	})
}

func TestClearEmptiesBothQueues(t *testing.T) {
	t.Parallel()
	segment := newTestSegment(t)

	for i := range 10 {
		id := fmt.Sprintf("c-%d", i)
		if err := segment.Append(Input, id, "in"); err != nil {
			t.Fatalf("Append input: %v", err)
		}
		if err := segment.Append(Output, id, "out"); err != nil {
			t.Fatalf("Append output: %v", err)
		}
	}
	if err := segment.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	requireEmpty(t, segment, Input)
	requireEmpty(t, segment, Output)

	stats, err := segment.Stats()
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Input != 0 || stats.Output != 0 {
		t.Errorf("stats after clear = %+v", stats)
	}

	// The lock must still work after Clear zeroed the queues.
	if err := segment.Append(Input, "after", "clear"); err != nil {
		t.Fatalf("Append after Clear: %v", err)
	}
}

// payloadFor derives a full-capacity payload from an id so a torn
// write (id of one record, payload of another or partial payload) is
// detectable.
func payloadFor(id string) string {
	return strings.Repeat(id+";", PayloadCapacity)[:PayloadCapacity]
}

func TestConcurrentAppendAtomicity(t *testing.T) {
	t.Parallel()
	segment := newTestSegment(t)

	const writers = 10
	const perWriter = Capacity / writers

	var wg sync.WaitGroup
	errs := make(chan error, writers*perWriter+8)
	for w := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range perWriter {
				id := fmt.Sprintf("w%d-%d", w, i)
				if err := segment.Append(Input, id, payloadFor(id)); err != nil {
					errs <- fmt.Errorf("Append(%s): %w", id, err)
				}
			}
		}()
	}

	// Readers race the writers; every record they observe must be whole.
	stop := make(chan struct{})
	var readers sync.WaitGroup
	for range 4 {
		readers.Add(1)
		go func() {
			defer readers.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				snapshot, err := segment.Snapshot(Input)
				if err != nil {
					errs <- fmt.Errorf("Snapshot: %w", err)
					return
				}
				for _, s := range snapshot.Slots {
					if s.Payload != payloadFor(s.ID) {
						errs <- fmt.Errorf("slot %d: torn record id=%q", s.Index, s.ID)
						return
					}
				}
			}
		}()
	}

	wg.Wait()
	close(stop)
	readers.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}

	snapshot, err := segment.Snapshot(Input)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if len(snapshot.Slots) != Capacity {
		t.Fatalf("occupied slots = %d, want %d", len(snapshot.Slots), Capacity)
	}
	seen := make(map[string]bool)
	for _, s := range snapshot.Slots {
		if seen[s.ID] {
			t.Errorf("id %q stored twice", s.ID)
		}
		seen[s.ID] = true
		if s.Payload != payloadFor(s.ID) {
			t.Errorf("slot %d: payload does not belong to id %q", s.Index, s.ID)
		}
	}
}

func TestSnapshotDigestTracksContent(t *testing.T) {
	t.Parallel()
	segment := newTestSegment(t)

	empty, err := segment.Snapshot(Output)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if len(empty.Slots) != 0 || empty.Queue != "output" {
		t.Fatalf("empty snapshot = %+v", empty)
	}
	if len(empty.Digest) != 64 {
		t.Fatalf("digest %q is not 32 hex-encoded bytes", empty.Digest)
	}

	if err := segment.Append(Output, "r1", "result"); err != nil {
		t.Fatalf("Append: %v", err)
	}
	filled, err := segment.Snapshot(Output)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if filled.Digest == empty.Digest {
		t.Error("digest unchanged after append")
	}

	again, err := segment.Snapshot(Output)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if again.Digest != filled.Digest {
		t.Error("digest changed without a mutation")
	}

	if err := segment.Remove(Output, "r1", MatchExact); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	cleared, err := segment.Snapshot(Output)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if cleared.Digest != empty.Digest {
		t.Error("digest after remove differs from the empty queue's digest")
	}
}
