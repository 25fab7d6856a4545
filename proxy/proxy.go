// Package proxy is the embedding surface of the riftgate connection engine:
// listener lifecycle, oracle queues, decision submission, rate limits, and
// metrics snapshots.
package proxy

import (
	"encoding/json"
	"net"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/riftgate/riftgate/internal/cache"
	"github.com/riftgate/riftgate/internal/engine"
	"github.com/riftgate/riftgate/internal/listener"
	"github.com/riftgate/riftgate/internal/metrics"
	"github.com/riftgate/riftgate/internal/oracle"
	"github.com/riftgate/riftgate/internal/proxyproto"
	"github.com/riftgate/riftgate/pkg/logger"
)

// Options is the set_options JSON shape.
type Options struct {
	ProxyProtocolIn string `json:"proxyProtocolIn"`
}

// Proxy aggregates the engine state for one embedding.
type Proxy struct {
	col *metrics.Collector
	dc  *cache.Cache
	orc *oracle.Oracle
	eng *engine.Engine

	opts atomic.Value // engine.Options

	mu         sync.Mutex
	listeners  map[uint64]*listener.Listener
	listenerID atomic.Uint64
}

// New returns a ready Proxy with no listeners and default options.
func New() *Proxy {
	p := &Proxy{
		col:       metrics.NewCollector(),
		dc:        cache.New(),
		orc:       oracle.New(),
		listeners: make(map[uint64]*listener.Listener),
	}
	p.opts.Store(engine.Options{ProxyProtocolIn: proxyproto.ModeNone})
	p.eng = &engine.Engine{
		Metrics: p.col,
		Cache:   p.dc,
		Oracle:  p.orc,
		Options: func() engine.Options { return p.opts.Load().(engine.Options) },
	}
	return p
}

// Oracle exposes the rendezvous for in-process embedders and tests.
func (p *Proxy) Oracle() *oracle.Oracle { return p.orc }

// SetOptions applies the JSON options document.
func (p *Proxy) SetOptions(optionsJSON string) Code {
	var o Options
	if err := json.Unmarshal([]byte(optionsJSON), &o); err != nil {
		return ErrBadParam
	}
	mode := proxyproto.ModeNone
	if o.ProxyProtocolIn != "" {
		var err error
		mode, err = proxyproto.ParseMode(o.ProxyProtocolIn)
		if err != nil {
			return ErrBadParam
		}
	}
	p.opts.Store(engine.Options{ProxyProtocolIn: mode})
	return OK
}

// InitLogging configures the global logger once.
func (p *Proxy) InitLogging(level string) Code {
	if err := logger.Init(level); err != nil {
		return ErrBadParam
	}
	return OK
}

// SetLogLevel changes the level at runtime; internal error before
// InitLogging.
func (p *Proxy) SetLogLevel(level string) Code {
	err := logger.SetLevel(level)
	switch {
	case err == nil:
		return OK
	case err == logger.ErrNotInitialized:
		return ErrInternal
	default:
		return ErrBadParam
	}
}

// StartListener binds addr:port and starts accepting.
func (p *Proxy) StartListener(addr string, port uint16) (uint64, Code) {
	if addr == "" {
		return 0, ErrBadParam
	}
	id := p.listenerID.Add(1)
	l, err := listener.Start(id, addr, port, p.eng)
	if err != nil {
		logrus.Errorf("Failed to bind listener on %s:%d: %v", addr, port, err)
		return 0, ErrBadParam
	}
	p.mu.Lock()
	p.listeners[id] = l
	p.mu.Unlock()
	return id, OK
}

// ListenerPort reports the bound port of a listener, for embedders that
// requested port 0.
func (p *Proxy) ListenerPort(id uint64) (int, Code) {
	p.mu.Lock()
	l, ok := p.listeners[id]
	p.mu.Unlock()
	if !ok {
		return 0, ErrNotFound
	}
	if a, ok := l.Addr().(*net.TCPAddr); ok {
		return a.Port, OK
	}
	return 0, ErrInternal
}

// StopListener aborts a listener's accept loop; existing connections keep
// running.
func (p *Proxy) StopListener(id uint64) Code {
	p.mu.Lock()
	l, ok := p.listeners[id]
	if ok {
		delete(p.listeners, id)
	}
	p.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	l.Stop()
	return OK
}

// Disconnect aborts one connection and removes its registry entries.
func (p *Proxy) Disconnect(id uint64) Code {
	if !p.col.AbortConn(id) {
		return ErrNotFound
	}
	if p.col.CleanupConn(id) {
		p.orc.PushDisconnection(id, "disconnected")
	}
	return OK
}

// KickAll aborts every connection and returns how many were kicked.
func (p *Proxy) KickAll() uint32 {
	kicked := p.col.KickAll()
	for _, id := range kicked {
		p.orc.PushDisconnection(id, "kicked")
	}
	return uint32(len(kicked))
}

// Shutdown aborts every listener and connection and clears the tables.
func (p *Proxy) Shutdown() Code {
	p.mu.Lock()
	listeners := make([]*listener.Listener, 0, len(p.listeners))
	for _, l := range p.listeners {
		listeners = append(listeners, l)
	}
	p.listeners = make(map[uint64]*listener.Listener)
	p.mu.Unlock()

	for _, l := range listeners {
		l.Stop()
	}
	p.KickAll()
	return OK
}

// SetRateLimit replaces the send/receive buckets of one connection.
// Averages are bytes per second and bursts are bytes; a zero average means
// unlimited and a zero burst takes the average's value.
func (p *Proxy) SetRateLimit(id uint64, sendAvg, sendBurst, recvAvg, recvBurst uint64) Code {
	if !p.col.SetRateLimit(id, sendAvg, sendBurst, recvAvg, recvBurst) {
		return ErrNotFound
	}
	logrus.WithField("conn", id).Infof("Updated rate limits send=%d/%d recv=%d/%d",
		sendAvg, sendBurst, recvAvg, recvBurst)
	return OK
}

// GetMetrics serializes a snapshot of the globals and every connection.
func (p *Proxy) GetMetrics() (string, Code) {
	data, err := json.Marshal(p.col.SnapshotAll())
	if err != nil {
		return "", ErrInternal
	}
	return string(data), OK
}

// GetConnectionMetrics serializes one connection's counters.
func (p *Proxy) GetConnectionMetrics(id uint64) (string, Code) {
	snap, ok := p.col.SnapshotConn(id)
	if !ok {
		return "", ErrNotFound
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return "", ErrInternal
	}
	return string(data), OK
}

// ResetMetrics zeroes the global counters.
func (p *Proxy) ResetMetrics() Code {
	p.col.Reset()
	return OK
}

// PollRouteRequest pops the oldest pending route request as JSON.
func (p *Proxy) PollRouteRequest() (string, bool) {
	req, ok := p.orc.PollRoute()
	if !ok {
		return "", false
	}
	data, err := json.Marshal(req)
	if err != nil {
		return "", false
	}
	return string(data), true
}

// PollMotdRequest pops the oldest pending MOTD request as JSON.
func (p *Proxy) PollMotdRequest() (string, bool) {
	req, ok := p.orc.PollMotd()
	if !ok {
		return "", false
	}
	data, err := json.Marshal(req)
	if err != nil {
		return "", false
	}
	return string(data), true
}

// PollDisconnectionEvent pops the oldest lifecycle-end event as JSON.
func (p *Proxy) PollDisconnectionEvent() (string, bool) {
	ev, ok := p.orc.PollDisconnection()
	if !ok {
		return "", false
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return "", false
	}
	return string(data), true
}

// SubmitRoutingDecision completes a pending route request.
func (p *Proxy) SubmitRoutingDecision(id uint64, decisionJSON string) Code {
	var dec oracle.RouteDecision
	if err := json.Unmarshal([]byte(decisionJSON), &dec); err != nil {
		return ErrBadParam
	}
	if err := p.orc.SubmitRoute(id, dec); err != nil {
		return ErrNotFound
	}
	return OK
}

// SubmitMotdDecision completes a pending MOTD request.
func (p *Proxy) SubmitMotdDecision(id uint64, decisionJSON string) Code {
	var dec oracle.MotdDecision
	if err := json.Unmarshal([]byte(decisionJSON), &dec); err != nil {
		return ErrBadParam
	}
	if err := p.orc.SubmitMotd(id, dec); err != nil {
		return ErrNotFound
	}
	return OK
}

// CacheStats serializes decision-cache occupancy.
func (p *Proxy) CacheStats() string {
	data, _ := json.Marshal(p.dc.Stats())
	return string(data)
}

// CacheCleanupExpired evicts expired decision-cache entries.
func (p *Proxy) CacheCleanupExpired() {
	p.dc.CleanupExpired()
}

// Collector exposes the registry for the embedding daemon's HTTP surface.
func (p *Proxy) Collector() *metrics.Collector { return p.col }
