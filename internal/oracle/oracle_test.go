package oracle

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestSubmitCompletesRequest(t *testing.T) {
	o := New()
	req := RouteRequest{ConnID: 7, PeerIP: "1.2.3.4", Port: 25565, Protocol: 765, Host: "a.example", Username: "alice"}

	done := make(chan RouteDecision, 1)
	go func() {
		dec, err := o.RequestRoute(context.Background(), req)
		if err != nil {
			t.Errorf("RequestRoute: %v", err)
		}
		done <- dec
	}()

	// Drain the queue the way an embedder would.
	var polled RouteRequest
	for {
		var ok bool
		if polled, ok = o.PollRoute(); ok {
			break
		}
		time.Sleep(time.Millisecond)
	}
	if polled != req {
		t.Errorf("polled %+v, want %+v", polled, req)
	}

	if err := o.SubmitRoute(7, RouteDecision{RemoteHost: "10.0.0.1", RemotePort: 25565}); err != nil {
		t.Fatalf("SubmitRoute: %v", err)
	}
	dec := <-done
	if dec.RemoteHost != "10.0.0.1" || dec.RemotePort != 25565 {
		t.Errorf("decision = %+v", dec)
	}
	if o.PendingRoutes() != 0 {
		t.Errorf("slot leaked: %d pending", o.PendingRoutes())
	}
}

func TestTimeoutRemovesSlot(t *testing.T) {
	o := New()
	o.Timeout = 50 * time.Millisecond

	_, err := o.RequestRoute(context.Background(), RouteRequest{ConnID: 1})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
	if o.PendingRoutes() != 0 {
		t.Errorf("slot leaked after timeout: %d", o.PendingRoutes())
	}
	// A late submission after timeout finds no slot.
	if err := o.SubmitRoute(1, RouteDecision{}); !errors.Is(err, ErrNoPending) {
		t.Errorf("late submit err = %v, want ErrNoPending", err)
	}
}

func TestSubmitUnknownConnection(t *testing.T) {
	o := New()
	if err := o.SubmitRoute(99, RouteDecision{}); !errors.Is(err, ErrNoPending) {
		t.Errorf("err = %v, want ErrNoPending", err)
	}
	if err := o.SubmitMotd(99, MotdDecision{}); !errors.Is(err, ErrNoPending) {
		t.Errorf("err = %v, want ErrNoPending", err)
	}
}

func TestPollOrderFIFO(t *testing.T) {
	o := New()
	o.Timeout = 200 * time.Millisecond

	for i := uint64(1); i <= 3; i++ {
		go o.RequestMotd(context.Background(), MotdRequest{ConnID: i})
		// Wait for each enqueue so the queue order is 1, 2, 3.
		for o.PendingMotds() < int(i) {
			time.Sleep(time.Millisecond)
		}
	}
	var got []uint64
	deadline := time.Now().Add(time.Second)
	for len(got) < 3 && time.Now().Before(deadline) {
		if req, ok := o.PollMotd(); ok {
			got = append(got, req.ConnID)
			if err := o.SubmitMotd(req.ConnID, MotdDecision{}); err != nil {
				t.Fatalf("SubmitMotd(%d): %v", req.ConnID, err)
			}
		} else {
			time.Sleep(time.Millisecond)
		}
	}
	if len(got) != 3 {
		t.Fatalf("drained %d requests, want 3", len(got))
	}
	// Each poll pops the oldest request, so ids come back in enqueue order
	// and every id appears exactly once.
	for i, id := range got {
		if id != uint64(i+1) {
			t.Errorf("poll %d returned conn %d, want %d", i, id, i+1)
		}
	}
	seen := map[uint64]bool{}
	for _, id := range got {
		if seen[id] {
			t.Errorf("duplicate request for conn %d", id)
		}
		seen[id] = true
	}
}

func TestRouteAndMotdIndependent(t *testing.T) {
	o := New()
	o.Timeout = 500 * time.Millisecond

	routeDone := make(chan error, 1)
	motdDone := make(chan error, 1)
	go func() {
		_, err := o.RequestRoute(context.Background(), RouteRequest{ConnID: 5})
		routeDone <- err
	}()
	go func() {
		_, err := o.RequestMotd(context.Background(), MotdRequest{ConnID: 5})
		motdDone <- err
	}()

	waitPending := func(f func() int) {
		for f() == 0 {
			time.Sleep(time.Millisecond)
		}
	}
	waitPending(o.PendingRoutes)
	waitPending(o.PendingMotds)

	// Completing the MOTD slot must not touch the route slot.
	if err := o.SubmitMotd(5, MotdDecision{}); err != nil {
		t.Fatalf("SubmitMotd: %v", err)
	}
	if err := <-motdDone; err != nil {
		t.Fatalf("motd err: %v", err)
	}
	if o.PendingRoutes() != 1 {
		t.Fatalf("route slot disturbed")
	}
	if err := o.SubmitRoute(5, RouteDecision{}); err != nil {
		t.Fatalf("SubmitRoute: %v", err)
	}
	if err := <-routeDone; err != nil {
		t.Fatalf("route err: %v", err)
	}
}

func TestContextCancelReleasesSlot(t *testing.T) {
	o := New()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := o.RequestRoute(ctx, RouteRequest{ConnID: 2})
		done <- err
	}()
	for o.PendingRoutes() == 0 {
		time.Sleep(time.Millisecond)
	}
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if o.PendingRoutes() != 0 {
		t.Errorf("slot leaked after cancel")
	}
}

func TestDisconnectionEvents(t *testing.T) {
	o := New()
	o.PushDisconnection(1, "client EOF")
	o.PushDisconnection(2, "kicked")

	ev, ok := o.PollDisconnection()
	if !ok || ev.ConnID != 1 || ev.Reason != "client EOF" {
		t.Errorf("first event = %+v ok=%v", ev, ok)
	}
	ev, ok = o.PollDisconnection()
	if !ok || ev.ConnID != 2 {
		t.Errorf("second event = %+v ok=%v", ev, ok)
	}
	if _, ok := o.PollDisconnection(); ok {
		t.Error("expected empty event queue")
	}
}
