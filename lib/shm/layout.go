// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package shm

import (
	"bytes"
	"fmt"
	"unicode/utf8"
)

const (
	// Capacity is the number of slots in each queue.
	Capacity = 100

	// IDCapacity is the maximum length of a record id in bytes.
	IDCapacity = 36

	// PayloadCapacity is the maximum length of a record payload in bytes.
	PayloadCapacity = 256

	idFieldSize      = IDCapacity + 1
	payloadFieldSize = PayloadCapacity + 1

	// RecordSize is the size of one slot: id field then payload field,
	// each with a reserved terminator byte.
	RecordSize = idFieldSize + payloadFieldSize

	// HeaderSize is the size of the segment header that precedes the
	// queues.
	HeaderSize = 64

	queueSize = Capacity * RecordSize

	// SegmentSize is the exact size of the backing object.
	SegmentSize = HeaderSize + 2*queueSize

	// LayoutVersion is bumped whenever any offset or size changes.
	LayoutVersion = uint32(1)
)

// Header field offsets.
const (
	magicOffset   = 0x00
	versionOffset = 0x08
	lockOffset    = 0x0C
	holderOffset  = 0x10
)

var segmentMagic = [8]byte{'B', 'X', 'C', 'H', 'G', 0, 0, 0}

// Queue selects one of the two queues in a segment.
type Queue int

const (
	// Input holds calls accepted by the gateway and not yet completed.
	Input Queue = iota
	// Output holds serialized responses for external readers.
	Output
)

// Queues lists both queues in layout order.
var Queues = []Queue{Input, Output}

func (q Queue) String() string {
	switch q {
	case Input:
		return "input"
	case Output:
		return "output"
	default:
		return fmt.Sprintf("queue(%d)", int(q))
	}
}

// ParseQueue converts "input" or "output" to a Queue.
func ParseQueue(name string) (Queue, error) {
	switch name {
	case "input":
		return Input, nil
	case "output":
		return Output, nil
	default:
		return 0, fmt.Errorf("unknown queue %q (expected \"input\" or \"output\")", name)
	}
}

// offset returns the byte offset of the queue's first slot.
func (q Queue) offset() (int, error) {
	switch q {
	case Input:
		return HeaderSize, nil
	case Output:
		return HeaderSize + queueSize, nil
	default:
		return 0, fmt.Errorf("invalid queue %d", int(q))
	}
}

// Record is one (id, payload) pair as stored in a slot.
type Record struct {
	ID      string `json:"id"`
	Payload string `json:"payload"`
}

// Validate checks that the record fits its slot. Ids must be non-empty
// because an empty id is indistinguishable from an empty slot, and
// neither field may contain NUL since NUL terminates the stored text.
func (r Record) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("%w: id is empty", ErrInvalidRecord)
	}
	if len(r.ID) > IDCapacity {
		return &OversizeError{Field: "id", Length: len(r.ID), Capacity: IDCapacity}
	}
	if len(r.Payload) > PayloadCapacity {
		return &OversizeError{Field: "payload", Length: len(r.Payload), Capacity: PayloadCapacity}
	}
	if i := bytes.IndexByte([]byte(r.ID), 0); i >= 0 {
		return fmt.Errorf("%w: id contains NUL at byte %d", ErrInvalidRecord, i)
	}
	if i := bytes.IndexByte([]byte(r.Payload), 0); i >= 0 {
		return fmt.Errorf("%w: payload contains NUL at byte %d", ErrInvalidRecord, i)
	}
	if !utf8.ValidString(r.ID) {
		return fmt.Errorf("%w: id is not valid UTF-8", ErrInvalidRecord)
	}
	if !utf8.ValidString(r.Payload) {
		return fmt.Errorf("%w: payload is not valid UTF-8", ErrInvalidRecord)
	}
	return nil
}

// slot is a RecordSize-byte window into a mapped queue.
type slot []byte

func (s slot) empty() bool {
	return s[0] == 0
}

// id returns the stored id without its terminator. The read is bounded
// by the field capacity so a corrupt slot missing its terminator cannot
// run into the payload.
func (s slot) id() []byte {
	return terminated(s[:IDCapacity])
}

func (s slot) payload() []byte {
	return terminated(s[idFieldSize : idFieldSize+PayloadCapacity])
}

func (s slot) record() Record {
	return Record{ID: string(s.id()), Payload: string(s.payload())}
}

// write stores r. The payload is written before the id so that the slot
// only reads as occupied once it is complete.
func (s slot) write(r Record) {
	clear(s)
	copy(s[idFieldSize:idFieldSize+PayloadCapacity], r.Payload)
	copy(s[:IDCapacity], r.ID)
}

func (s slot) reset() {
	clear(s)
}

func terminated(field []byte) []byte {
	if i := bytes.IndexByte(field, 0); i >= 0 {
		return field[:i]
	}
	return field
}
