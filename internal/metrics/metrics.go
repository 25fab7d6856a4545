// Package metrics owns the connection registries and the byte counters:
// the connection table, per-connection metrics and limiter tables, and the
// process-wide totals. A connection id is present in all three tables or in
// none; removing the metrics entry is the commit point that decrements the
// active count.
package metrics

import (
	"context"
	"net"
	"sync"
	"sync/atomic"

	"github.com/riftgate/riftgate/internal/ratelimit"
)

// ConnMetrics holds the per-connection byte counters. The client→backend
// direction counts as bytes sent.
type ConnMetrics struct {
	BytesSent atomic.Uint64
	BytesRecv atomic.Uint64
}

// ConnHandle lets the control surface abort a running engine task: Cancel
// stops rendezvous waits, closing Conn unblocks any network read.
type ConnHandle struct {
	Cancel context.CancelFunc
	Conn   net.Conn
}

// Abort signals the engine task to stop.
func (h *ConnHandle) Abort() {
	if h.Cancel != nil {
		h.Cancel()
	}
	if h.Conn != nil {
		_ = h.Conn.Close()
	}
}

// Collector aggregates the global counters and the per-connection tables.
type Collector struct {
	TotalConn      atomic.Uint64
	ActiveConn     atomic.Int64
	TotalBytesSent atomic.Uint64
	TotalBytesRecv atomic.Uint64

	connID atomic.Uint64

	mu       sync.Mutex
	conns    map[uint64]*ConnMetrics
	handles  map[uint64]*ConnHandle
	limiters map[uint64]*ratelimit.Pair
}

// NewCollector returns an empty collector.
func NewCollector() *Collector {
	return &Collector{
		conns:    make(map[uint64]*ConnMetrics),
		handles:  make(map[uint64]*ConnHandle),
		limiters: make(map[uint64]*ratelimit.Pair),
	}
}

// NextConnID allocates a fresh connection id. Ids start at 1 and are never
// reused.
func (c *Collector) NextConnID() uint64 {
	return c.connID.Add(1)
}

// RegisterConn creates the metrics entry, an unlimited limiter pair, and the
// task handle for a newly accepted connection.
func (c *Collector) RegisterConn(id uint64, h *ConnHandle) {
	c.mu.Lock()
	c.conns[id] = &ConnMetrics{}
	c.limiters[id] = ratelimit.NewUnlimitedPair()
	c.handles[id] = h
	c.mu.Unlock()
	c.TotalConn.Add(1)
	c.ActiveConn.Add(1)
}

// CleanupConn removes every table entry for the id. It reports whether the
// metrics entry was present, which happens exactly once per connection.
func (c *Collector) CleanupConn(id uint64) bool {
	c.mu.Lock()
	delete(c.handles, id)
	delete(c.limiters, id)
	_, had := c.conns[id]
	delete(c.conns, id)
	c.mu.Unlock()
	if had {
		c.ActiveConn.Add(-1)
	}
	return had
}

// AbortConn signals the engine task for id without touching the tables.
func (c *Collector) AbortConn(id uint64) bool {
	c.mu.Lock()
	h, ok := c.handles[id]
	c.mu.Unlock()
	if ok {
		h.Abort()
	}
	return ok
}

// KickAll aborts and cleans up every connection, returning the ids that
// were kicked.
func (c *Collector) KickAll() []uint64 {
	c.mu.Lock()
	ids := make([]uint64, 0, len(c.handles))
	handles := make([]*ConnHandle, 0, len(c.handles))
	for id, h := range c.handles {
		ids = append(ids, id)
		handles = append(handles, h)
	}
	c.mu.Unlock()

	kicked := make([]uint64, 0, len(ids))
	for i, id := range ids {
		// Remove the entries before aborting so this cleanup is the one that
		// counts; the aborted task's own cleanup then finds nothing to do.
		if c.CleanupConn(id) {
			kicked = append(kicked, id)
		}
		handles[i].Abort()
	}
	return kicked
}

// ConnMetricsOf returns the metrics entry for id.
func (c *Collector) ConnMetricsOf(id uint64) (*ConnMetrics, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.conns[id]
	return m, ok
}

// PairOf returns the limiter pair for id.
func (c *Collector) PairOf(id uint64) (*ratelimit.Pair, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.limiters[id]
	return p, ok
}

// SetRateLimit replaces both buckets for id.
func (c *Collector) SetRateLimit(id uint64, sendAvg, sendBurst, recvAvg, recvBurst uint64) bool {
	p, ok := c.PairOf(id)
	if !ok {
		return false
	}
	p.Set(sendAvg, sendBurst, recvAvg, recvBurst)
	return true
}

// ConnIDs lists every registered connection id.
func (c *Collector) ConnIDs() []uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]uint64, 0, len(c.conns))
	for id := range c.conns {
		ids = append(ids, id)
	}
	return ids
}

// TableSizes reports the three table sizes; invariant tests use it.
func (c *Collector) TableSizes() (conns, handles, limiters int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.conns), len(c.handles), len(c.limiters)
}

// Reset zeroes the global counters.
func (c *Collector) Reset() {
	c.TotalConn.Store(0)
	c.ActiveConn.Store(0)
	c.TotalBytesSent.Store(0)
	c.TotalBytesRecv.Store(0)
}

// ConnSnapshot is a point-in-time copy of one connection's counters.
type ConnSnapshot struct {
	BytesSent uint64 `json:"bytes_sent"`
	BytesRecv uint64 `json:"bytes_recv"`
}

// Snapshot is a point-in-time copy of the globals plus every connection
// pair. Counters are sequentially consistent individually; the snapshot is
// not atomic across fields.
type Snapshot struct {
	TotalConn      uint64                  `json:"total_conn"`
	ActiveConn     uint64                  `json:"active_conn"`
	TotalBytesSent uint64                  `json:"total_bytes_sent"`
	TotalBytesRecv uint64                  `json:"total_bytes_recv"`
	Connections    map[uint64]ConnSnapshot `json:"connections"`
}

// SnapshotAll copies the globals and every per-connection pair.
func (c *Collector) SnapshotAll() Snapshot {
	snap := Snapshot{
		TotalConn:      c.TotalConn.Load(),
		TotalBytesSent: c.TotalBytesSent.Load(),
		TotalBytesRecv: c.TotalBytesRecv.Load(),
		Connections:    make(map[uint64]ConnSnapshot),
	}
	if active := c.ActiveConn.Load(); active > 0 {
		snap.ActiveConn = uint64(active)
	}
	c.mu.Lock()
	for id, m := range c.conns {
		snap.Connections[id] = ConnSnapshot{
			BytesSent: m.BytesSent.Load(),
			BytesRecv: m.BytesRecv.Load(),
		}
	}
	c.mu.Unlock()
	return snap
}

// SnapshotConn copies one connection's counters.
func (c *Collector) SnapshotConn(id uint64) (ConnSnapshot, bool) {
	m, ok := c.ConnMetricsOf(id)
	if !ok {
		return ConnSnapshot{}, false
	}
	return ConnSnapshot{
		BytesSent: m.BytesSent.Load(),
		BytesRecv: m.BytesRecv.Load(),
	}, true
}
