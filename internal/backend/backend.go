// Package backend establishes outbound connections to route targets,
// directly or through a SOCKS5 upstream.
package backend

import (
	"context"
	"fmt"
	"math/rand"
	"net"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/net/proxy"
)

// dialTimeout bounds a single backend dial attempt.
const dialTimeout = 10 * time.Second

// Dial connects to host:port. When proxyURL is non-empty it must parse as
// socks5://[user[:pass]@]host:port; the connection is then tunneled through
// that upstream with optional username/password auth.
func Dial(ctx context.Context, host string, port uint16, proxyURL string) (net.Conn, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(int(port)))
	if proxyURL == "" {
		d := &net.Dialer{Timeout: dialTimeout}
		return d.DialContext(ctx, "tcp", addr)
	}

	u, err := url.Parse(proxyURL)
	if err != nil {
		return nil, fmt.Errorf("parsing proxy url: %w", err)
	}
	if u.Scheme != "socks5" {
		return nil, fmt.Errorf("unsupported proxy scheme: %s (must be 'socks5')", u.Scheme)
	}
	if u.Port() == "" {
		u.Host = net.JoinHostPort(u.Hostname(), "1080")
	}

	dialer, err := proxy.FromURL(u, &net.Dialer{Timeout: dialTimeout})
	if err != nil {
		return nil, fmt.Errorf("creating SOCKS dialer: %w", err)
	}
	return dialContext(ctx, dialer, "tcp", addr)
}

// dialContext uses the dialer's context form when available and falls back
// to a goroutine otherwise.
func dialContext(ctx context.Context, d proxy.Dialer, network, addr string) (net.Conn, error) {
	if cd, ok := d.(proxy.ContextDialer); ok {
		return cd.DialContext(ctx, network, addr)
	}

	done := make(chan struct{})
	var conn net.Conn
	var err error
	go func() {
		conn, err = d.Dial(network, addr)
		close(done)
	}()
	select {
	case <-done:
		return conn, err
	case <-ctx.Done():
		go func() {
			<-done
			if conn != nil {
				_ = conn.Close()
			}
		}()
		return nil, ctx.Err()
	}
}

// Backoff calculates a jittered retry delay: min multiplied by a random 1, 2,
// 4 or 8, capped at max, plus up to 250ms of jitter. When max <= min it
// returns min without jitter.
func Backoff(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	mul := 1 << rand.Intn(4) // 1,2,4,8
	d := time.Duration(int(min) * mul)
	if d > max {
		d = max
	}
	return d + time.Duration(rand.Intn(250))*time.Millisecond
}
