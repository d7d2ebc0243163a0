// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package shm

import (
	"bytes"
	"fmt"
)

// MatchMode selects how Remove compares ids.
type MatchMode int

const (
	// MatchExact removes the first slot whose id equals the given id.
	MatchExact MatchMode = iota

	// MatchPrefix removes the first slot whose stored id starts with
	// the given id. Two ids sharing a prefix can cause the wrong record
	// to be removed; it exists for peers that rely on the older
	// prefix semantics.
	MatchPrefix
)

func (m MatchMode) String() string {
	switch m {
	case MatchExact:
		return "exact"
	case MatchPrefix:
		return "prefix"
	default:
		return fmt.Sprintf("match(%d)", int(m))
	}
}

func (m MatchMode) matches(stored []byte, id string) bool {
	switch m {
	case MatchPrefix:
		return bytes.HasPrefix(stored, []byte(id))
	default:
		return string(stored) == id
	}
}

// Append stores (id, payload) in the lowest-indexed empty slot of
// queue. Values that do not fit fail with OversizeError before the lock
// is taken; a queue with no empty slot fails with QueueFullError.
func (s *Segment) Append(queue Queue, id, payload string) error {
	record := Record{ID: id, Payload: payload}
	if err := record.Validate(); err != nil {
		return err
	}
	base, err := queue.offset()
	if err != nil {
		return err
	}

	return s.locked("append", func(mem []byte) error {
		for index := range Capacity {
			target := slotAt(mem, base, index)
			if target.empty() {
				target.write(record)
				return nil
			}
		}
		return &QueueFullError{Queue: queue}
	})
}

// PeekFirst returns a copy of the lowest-indexed occupied slot of
// queue without removing it, or NotFoundError if the queue is empty.
func (s *Segment) PeekFirst(queue Queue) (Record, error) {
	base, err := queue.offset()
	if err != nil {
		return Record{}, err
	}

	var found Record
	err = s.locked("peek", func(mem []byte) error {
		for index := range Capacity {
			current := slotAt(mem, base, index)
			if !current.empty() {
				found = current.record()
				return nil
			}
		}
		return &NotFoundError{Queue: queue}
	})
	return found, err
}

// Remove empties the first slot of queue whose id matches id under
// mode, or fails with NotFoundError.
func (s *Segment) Remove(queue Queue, id string, mode MatchMode) error {
	if id == "" {
		return fmt.Errorf("%w: id is empty", ErrInvalidRecord)
	}
	base, err := queue.offset()
	if err != nil {
		return err
	}

	return s.locked("remove", func(mem []byte) error {
		for index := range Capacity {
			current := slotAt(mem, base, index)
			if !current.empty() && mode.matches(current.id(), id) {
				current.reset()
				return nil
			}
		}
		return &NotFoundError{Queue: queue, ID: id}
	})
}

// Clear empties every slot in both queues.
func (s *Segment) Clear() error {
	return s.locked("clear", func(mem []byte) error {
		clear(mem[HeaderSize:SegmentSize])
		return nil
	})
}
