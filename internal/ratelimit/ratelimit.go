// Package ratelimit implements per-connection byte shaping with paired
// send/receive token buckets. One token permits one byte.
package ratelimit

import (
	"math"
	"sync"

	"golang.org/x/time/rate"
)

// Unlimited is the average and burst applied to fresh connections.
const Unlimited = math.MaxUint32

// Pair holds the send and receive buckets for one connection. Updates swap
// both limiters atomically; forwarding code re-fetches a bucket at each
// acquisition, so in-flight waits keep driving the old limiter.
type Pair struct {
	mu   sync.RWMutex
	send *rate.Limiter
	recv *rate.Limiter
}

// NewUnlimitedPair returns a pair that never throttles in practice.
func NewUnlimitedPair() *Pair {
	return &Pair{
		send: newLimiter(Unlimited, Unlimited),
		recv: newLimiter(Unlimited, Unlimited),
	}
}

// newLimiter builds a bucket with the given average rate and burst, mapping
// zero to Unlimited the way the control surface contracts it.
func newLimiter(avg, burst uint64) *rate.Limiter {
	if avg == 0 {
		avg = Unlimited
	}
	if burst == 0 {
		burst = avg
	}
	if avg > Unlimited {
		avg = Unlimited
	}
	if burst > Unlimited {
		burst = Unlimited
	}
	return rate.NewLimiter(rate.Limit(avg), int(burst))
}

// Set replaces both buckets.
func (p *Pair) Set(sendAvg, sendBurst, recvAvg, recvBurst uint64) {
	send := newLimiter(sendAvg, sendBurst)
	recv := newLimiter(recvAvg, recvBurst)
	p.mu.Lock()
	p.send = send
	p.recv = recv
	p.mu.Unlock()
}

// Send returns the current send bucket.
func (p *Pair) Send() *rate.Limiter {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.send
}

// Recv returns the current receive bucket.
func (p *Pair) Recv() *rate.Limiter {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.recv
}
