// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/bureau-foundation/exchange/lib/service"
	"github.com/bureau-foundation/exchange/lib/shm"
	"github.com/bureau-foundation/exchange/lib/testutil"
)

// startAdmin serves gateway's admin actions on a temporary socket and
// returns a client for it.
func startAdmin(t *testing.T, gateway *Gateway) *service.Client {
	t.Helper()
	server := service.NewSocketServer(filepath.Join(testutil.SocketDir(t), "admin.sock"), testLogger())
	gateway.RegisterAdmin(server)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- server.Serve(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		if err := testutil.RequireReceive(t, done, 5*time.Second, "admin server did not stop"); err != nil {
			t.Errorf("Serve: %v", err)
		}
	})
	testutil.RequireClosed(t, server.Ready(), 5*time.Second, "admin server ready")
	return service.NewClient(server.SocketPath())
}

func adminCall(t *testing.T, client *service.Client, action string, fields map[string]any, result any) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return client.Call(ctx, action, fields, result)
}

func requireServiceKind(t *testing.T, err error, kind string) {
	t.Helper()
	var serviceErr *service.ServiceError
	if !errors.As(err, &serviceErr) {
		t.Fatalf("error = %v, want *service.ServiceError", err)
	}
	if serviceErr.Kind() != kind {
		t.Fatalf("error kind = %q (%s), want %q", serviceErr.Kind(), serviceErr.Message, kind)
	}
}

func TestAdminStatus(t *testing.T) {
	segment := newSegment(t)
	gateway := startGateway(t, segment, echoArgs(), DefaultOptions())
	admin := startAdmin(t, gateway.Gateway)

	client := dial(t, gateway.url)
	call(t, client, FunctionCall{Function: "f", UUID: "s1"})
	send(t, client, `not json`)

	var status Status
	if err := adminCall(t, admin, ActionStatus, nil, &status); err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.SegmentError != "" {
		t.Errorf("segment error = %q", status.SegmentError)
	}
	if status.Segment.Capacity != shm.Capacity || status.Segment.Output != 1 {
		t.Errorf("segment stats = %+v", status.Segment)
	}
	if status.Gateway.Connections != 1 || status.Gateway.Requests != 2 {
		t.Errorf("gateway stats = %+v", status.Gateway)
	}
	if status.Gateway.Failures["decode"] != 1 {
		t.Errorf("failures = %v", status.Gateway.Failures)
	}
}

func TestAdminQueueActions(t *testing.T) {
	segment := newSegment(t)
	gateway := startGateway(t, segment, echoArgs(), DefaultOptions())
	admin := startAdmin(t, gateway.Gateway)

	for _, id := range []string{"job-1", "job-2", "other"} {
		if err := segment.Append(shm.Output, id, `{"id":"`+id+`"}`); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	var snapshot shm.Snapshot
	if err := adminCall(t, admin, ActionList, map[string]any{"queue": "output"}, &snapshot); err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(snapshot.Slots) != 3 || snapshot.Slots[2].ID != "other" || snapshot.Digest == "" {
		t.Fatalf("snapshot = %+v", snapshot)
	}

	var first shm.Record
	if err := adminCall(t, admin, ActionPeek, map[string]any{"queue": "output"}, &first); err != nil {
		t.Fatalf("peek: %v", err)
	}
	if first.ID != "job-1" {
		t.Errorf("peek = %+v", first)
	}

	// Exact removal does not treat "job" as a prefix.
	err := adminCall(t, admin, ActionRemove, map[string]any{"queue": "output", "id": "job"}, nil)
	requireServiceKind(t, err, "not_found")

	if err := adminCall(t, admin, ActionRemove, map[string]any{"queue": "output", "id": "job", "prefix": true}, nil); err != nil {
		t.Fatalf("prefix remove: %v", err)
	}
	if err := adminCall(t, admin, ActionPeek, map[string]any{"queue": "output"}, &first); err != nil {
		t.Fatalf("peek after remove: %v", err)
	}
	if first.ID != "job-2" {
		t.Errorf("peek after prefix remove = %+v, want job-2", first)
	}

	if err := adminCall(t, admin, ActionClear, nil, nil); err != nil {
		t.Fatalf("clear: %v", err)
	}
	err = adminCall(t, admin, ActionPeek, map[string]any{"queue": "output"}, &first)
	requireServiceKind(t, err, "not_found")
}

func TestAdminRejectsUnknownQueue(t *testing.T) {
	segment := newSegment(t)
	gateway := startGateway(t, segment, echoArgs(), DefaultOptions())
	admin := startAdmin(t, gateway.Gateway)

	err := adminCall(t, admin, ActionList, map[string]any{"queue": "sideways"}, nil)
	requireServiceKind(t, err, "invalid_request")
}
