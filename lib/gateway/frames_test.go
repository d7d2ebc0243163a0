// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/bureau-foundation/exchange/lib/shm"
)

func TestDecodeCall(t *testing.T) {
	call, err := decodeCall([]byte(`{"function":"sum","uuid":"u1","args":[1, 2],"command":"python3","location":"/srv/sum.py","extra":true}`))
	if err != nil {
		t.Fatalf("decodeCall: %v", err)
	}
	if call.Function != "sum" || call.UUID != "u1" || call.Command != "python3" || call.Location != "/srv/sum.py" {
		t.Errorf("call = %+v", call)
	}
	if string(call.Args) != "[1, 2]" {
		t.Errorf("args = %s, want the original bytes", call.Args)
	}

	call, err = decodeCall([]byte(`{"function":"f","uuid":"u2"}`))
	if err != nil {
		t.Fatalf("decodeCall without args: %v", err)
	}
	if call.Args != nil || call.Command != "" {
		t.Errorf("optional fields = %+v", call)
	}
}

func TestEncodeRecordIsCompact(t *testing.T) {
	record, err := encodeRecord(FunctionCall{
		Function: "f",
		UUID:     "u1",
		Args:     json.RawMessage("{ \"html\" : \"<a & b>\" }"),
	})
	if err != nil {
		t.Fatalf("encodeRecord: %v", err)
	}
	want := `{"function":"f","uuid":"u1","args":{"html":"<a & b>"},"command":"","location":""}`
	if record != want {
		t.Errorf("record = %s\nwant     %s", record, want)
	}
}

func TestErrorKind(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{&shm.QueueFullError{Queue: shm.Input}, "queue_full"},
		{fmt.Errorf("wrapped: %w", &shm.OversizeError{Field: "payload"}), "oversize"},
		{&shm.LockError{Holder: 7}, "lock"},
		{&FrameError{Reason: "invalid JSON"}, "decode"},
		{fmt.Errorf("record: %w", shm.ErrInvalidRecord), "invalid_record"},
		{fmt.Errorf("invoking: %w", context.Canceled), "cancelled"},
		{errors.New("boom"), "internal"},
	}
	for _, test := range tests {
		if got := errorKind(test.err); got != test.want {
			t.Errorf("errorKind(%v) = %q, want %q", test.err, got, test.want)
		}
	}
}
