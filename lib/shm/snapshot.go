// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package shm

import (
	"encoding/hex"

	"github.com/zeebo/blake3"
)

// Slot is an occupied slot and its position in the queue.
type Slot struct {
	Index   int    `json:"index"`
	ID      string `json:"id"`
	Payload string `json:"payload"`
}

// Snapshot is a consistent copy of one queue taken under the lock.
type Snapshot struct {
	Queue string `json:"queue"`
	Slots []Slot `json:"slots"`

	// Digest is the hex BLAKE3 hash of the queue's raw bytes. Readers
	// polling the output queue compare digests to skip unchanged
	// snapshots.
	Digest string `json:"digest"`
}

// Stats summarizes a segment for status reporting.
type Stats struct {
	Name          string `json:"name"`
	Path          string `json:"path"`
	Size          int    `json:"size"`
	LayoutVersion uint32 `json:"layout_version"`
	Capacity      int    `json:"capacity"`
	Input         int    `json:"input"`
	Output        int    `json:"output"`

	// HolderPID is the pid holding the lock at the moment the stats
	// call began waiting for it, zero if it was free.
	HolderPID uint32 `json:"holder_pid"`
}

// Snapshot copies every occupied slot of queue in index order.
func (s *Segment) Snapshot(queue Queue) (Snapshot, error) {
	base, err := queue.offset()
	if err != nil {
		return Snapshot{}, err
	}

	snapshot := Snapshot{Queue: queue.String(), Slots: []Slot{}}
	err = s.locked("snapshot", func(mem []byte) error {
		for index := range Capacity {
			current := slotAt(mem, base, index)
			if current.empty() {
				continue
			}
			record := current.record()
			snapshot.Slots = append(snapshot.Slots, Slot{Index: index, ID: record.ID, Payload: record.Payload})
		}
		digest := blake3.Sum256(mem[base : base+queueSize])
		snapshot.Digest = hex.EncodeToString(digest[:])
		return nil
	})
	return snapshot, err
}

// Stats reports occupancy of both queues.
func (s *Segment) Stats() (Stats, error) {
	stats := Stats{
		Name:          s.name,
		Path:          s.path,
		Size:          SegmentSize,
		LayoutVersion: LayoutVersion,
		Capacity:      Capacity,
	}
	err := s.mapped("stats", func(mem []byte) error {
		g := newGuard(mem)
		stats.HolderPID = g.holderPID()
		if err := g.lock(s.options.LockTimeout); err != nil {
			return err
		}
		defer g.unlock()

		stats.Input = occupied(mem, HeaderSize)
		stats.Output = occupied(mem, HeaderSize+queueSize)
		return nil
	})
	return stats, err
}

func occupied(mem []byte, base int) int {
	count := 0
	for index := range Capacity {
		if !slotAt(mem, base, index).empty() {
			count++
		}
	}
	return count
}
