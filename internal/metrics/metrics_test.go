package metrics

import (
	"context"
	"testing"
)

func TestNextConnIDMonotonic(t *testing.T) {
	c := NewCollector()
	prev := uint64(0)
	for i := 0; i < 100; i++ {
		id := c.NextConnID()
		if id <= prev {
			t.Fatalf("id %d not greater than %d", id, prev)
		}
		prev = id
	}
}

func TestRegisterCleanupInvariant(t *testing.T) {
	c := NewCollector()
	id := c.NextConnID()
	c.RegisterConn(id, &ConnHandle{})

	conns, handles, limiters := c.TableSizes()
	if conns != 1 || handles != 1 || limiters != 1 {
		t.Fatalf("tables = %d/%d/%d, want 1/1/1", conns, handles, limiters)
	}
	if c.ActiveConn.Load() != 1 || c.TotalConn.Load() != 1 {
		t.Fatalf("active=%d total=%d", c.ActiveConn.Load(), c.TotalConn.Load())
	}

	if !c.CleanupConn(id) {
		t.Fatal("first cleanup should report removal")
	}
	conns, handles, limiters = c.TableSizes()
	if conns != 0 || handles != 0 || limiters != 0 {
		t.Fatalf("tables after cleanup = %d/%d/%d", conns, handles, limiters)
	}
	if c.ActiveConn.Load() != 0 {
		t.Fatalf("active = %d after cleanup", c.ActiveConn.Load())
	}
}

func TestCleanupDecrementsOnce(t *testing.T) {
	c := NewCollector()
	id := c.NextConnID()
	c.RegisterConn(id, &ConnHandle{})

	if !c.CleanupConn(id) {
		t.Fatal("first cleanup should succeed")
	}
	if c.CleanupConn(id) {
		t.Fatal("second cleanup must be a no-op")
	}
	if got := c.ActiveConn.Load(); got != 0 {
		t.Errorf("active = %d, want 0 (single decrement)", got)
	}
}

func TestSetRateLimit(t *testing.T) {
	c := NewCollector()
	id := c.NextConnID()
	c.RegisterConn(id, &ConnHandle{})

	if !c.SetRateLimit(id, 100, 200, 300, 400) {
		t.Fatal("SetRateLimit on live connection should succeed")
	}
	p, ok := c.PairOf(id)
	if !ok {
		t.Fatal("limiter pair missing")
	}
	if p.Send().Burst() != 200 || p.Recv().Burst() != 400 {
		t.Errorf("bursts = %d/%d", p.Send().Burst(), p.Recv().Burst())
	}
	if c.SetRateLimit(999, 1, 1, 1, 1) {
		t.Error("SetRateLimit on unknown id should fail")
	}
}

func TestKickAll(t *testing.T) {
	c := NewCollector()
	for i := 0; i < 3; i++ {
		id := c.NextConnID()
		_, cancel := context.WithCancel(context.Background())
		c.RegisterConn(id, &ConnHandle{Cancel: cancel})
	}
	if kicked := c.KickAll(); len(kicked) != 3 {
		t.Errorf("kicked = %d, want 3", len(kicked))
	}
	if c.ActiveConn.Load() != 0 {
		t.Errorf("active = %d after kick", c.ActiveConn.Load())
	}
	if kicked := c.KickAll(); len(kicked) != 0 {
		t.Errorf("second kick = %d, want 0", len(kicked))
	}
}

func TestSnapshots(t *testing.T) {
	c := NewCollector()
	id := c.NextConnID()
	c.RegisterConn(id, &ConnHandle{})

	m, _ := c.ConnMetricsOf(id)
	m.BytesSent.Add(1000)
	m.BytesRecv.Add(500)
	c.TotalBytesSent.Add(1000)
	c.TotalBytesRecv.Add(500)

	snap := c.SnapshotAll()
	if snap.TotalBytesSent != 1000 || snap.TotalBytesRecv != 500 {
		t.Errorf("globals = %d/%d", snap.TotalBytesSent, snap.TotalBytesRecv)
	}
	cs, ok := snap.Connections[id]
	if !ok || cs.BytesSent != 1000 || cs.BytesRecv != 500 {
		t.Errorf("conn snapshot = %+v ok=%v", cs, ok)
	}

	one, ok := c.SnapshotConn(id)
	if !ok || one.BytesSent != 1000 {
		t.Errorf("SnapshotConn = %+v ok=%v", one, ok)
	}
	if _, ok := c.SnapshotConn(424242); ok {
		t.Error("SnapshotConn on unknown id should miss")
	}
}

func TestReset(t *testing.T) {
	c := NewCollector()
	c.TotalConn.Add(5)
	c.TotalBytesSent.Add(7)
	c.Reset()
	if c.TotalConn.Load() != 0 || c.TotalBytesSent.Load() != 0 {
		t.Error("Reset left counters non-zero")
	}
}
