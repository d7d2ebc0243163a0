// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"maps"
	"sync"
	"sync/atomic"
)

// Stats are the gateway's counters since start.
type Stats struct {
	Connections       uint64            `json:"connections"`
	ActiveConnections int64             `json:"active_connections"`
	Requests          uint64            `json:"requests"`
	Completed         uint64            `json:"completed"`
	Failures          map[string]uint64 `json:"failures"`
	AuditDrops        uint64            `json:"audit_drops"`
}

type counters struct {
	connections atomic.Uint64
	active      atomic.Int64
	requests    atomic.Uint64
	completed   atomic.Uint64
	auditDrops  atomic.Uint64

	mu       sync.Mutex
	failures map[string]uint64
}

func (c *counters) connectionOpened() {
	c.connections.Add(1)
	c.active.Add(1)
}

func (c *counters) connectionClosed() { c.active.Add(-1) }
func (c *counters) requestReceived()  { c.requests.Add(1) }
func (c *counters) requestCompleted() { c.completed.Add(1) }
func (c *counters) auditDropped()     { c.auditDrops.Add(1) }

func (c *counters) requestFailed(kind string) {
	c.mu.Lock()
	if c.failures == nil {
		c.failures = make(map[string]uint64)
	}
	c.failures[kind]++
	c.mu.Unlock()
}

func (c *counters) snapshot() Stats {
	c.mu.Lock()
	failures := maps.Clone(c.failures)
	c.mu.Unlock()
	if failures == nil {
		failures = map[string]uint64{}
	}
	return Stats{
		Connections:       c.connections.Load(),
		ActiveConnections: c.active.Load(),
		Requests:          c.requests.Load(),
		Completed:         c.completed.Load(),
		Failures:          failures,
		AuditDrops:        c.auditDrops.Load(),
	}
}
