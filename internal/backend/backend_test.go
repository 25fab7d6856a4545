package backend

import (
	"context"
	"net"
	"testing"
	"time"
)

func TestDialDirect(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	go func() {
		c, err := ln.Accept()
		if err == nil {
			c.Close()
		}
	}()

	addr := ln.Addr().(*net.TCPAddr)
	conn, err := Dial(context.Background(), "127.0.0.1", uint16(addr.Port), "")
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	conn.Close()
}

func TestDialRefused(t *testing.T) {
	// Grab a port and close it so nothing is listening.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := uint16(ln.Addr().(*net.TCPAddr).Port)
	ln.Close()

	if _, err := Dial(context.Background(), "127.0.0.1", port, ""); err == nil {
		t.Error("expected dial error on closed port")
	}
}

func TestDialBadProxyScheme(t *testing.T) {
	if _, err := Dial(context.Background(), "10.0.0.1", 25565, "http://127.0.0.1:8080"); err == nil {
		t.Error("expected error for non-socks5 scheme")
	}
}

func TestDialBadProxyURL(t *testing.T) {
	if _, err := Dial(context.Background(), "10.0.0.1", 25565, "socks5://%zz"); err == nil {
		t.Error("expected error for malformed proxy url")
	}
}

func TestBackoffBounds(t *testing.T) {
	min := 100 * time.Millisecond
	max := 800 * time.Millisecond
	for i := 0; i < 50; i++ {
		d := Backoff(min, max)
		if d < min {
			t.Fatalf("backoff %v below min %v", d, min)
		}
		if d > max+250*time.Millisecond {
			t.Fatalf("backoff %v above max+jitter", d)
		}
	}
	if d := Backoff(max, min); d != max {
		t.Errorf("inverted bounds should return min argument, got %v", d)
	}
}
