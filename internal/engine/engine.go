// Package engine drives the per-connection state machine: PROXY header
// sniffing, handshake parsing, the status and login paths, backend dialing,
// and the metered forwarding loop.
package engine

import (
	"bufio"
	"context"
	"encoding/json"
	"net"

	"github.com/sirupsen/logrus"

	"github.com/riftgate/riftgate/internal/backend"
	"github.com/riftgate/riftgate/internal/cache"
	"github.com/riftgate/riftgate/internal/metrics"
	"github.com/riftgate/riftgate/internal/oracle"
	"github.com/riftgate/riftgate/internal/protocol"
	"github.com/riftgate/riftgate/internal/proxyproto"
)

// Disconnect reasons sent to clients on internal failures.
const (
	msgRoutingError = "Internal routing error."
	msgDialError    = "Could not connect to the destination server."
	msgRejected     = "Connection rejected"
)

// Options is the subset of proxy options the engine consults per
// connection.
type Options struct {
	ProxyProtocolIn proxyproto.Mode
}

// Engine wires the shared collaborators into connection tasks.
type Engine struct {
	Metrics *metrics.Collector
	Cache   *cache.Cache
	Oracle  *oracle.Oracle
	// Options returns the current option snapshot.
	Options func() Options
}

// Handle runs one accepted connection to completion and cleans up its
// registry entries exactly once.
func (e *Engine) Handle(ctx context.Context, id uint64, inbound net.Conn) {
	reason := "closed"
	defer func() {
		_ = inbound.Close()
		if e.Metrics.CleanupConn(id) {
			e.Oracle.PushDisconnection(id, reason)
		}
	}()

	log := logrus.WithField("conn", id)
	br := bufio.NewReaderSize(inbound, proxyproto.SniffLen)

	peer := inbound.RemoteAddr()
	if mode := e.Options().ProxyProtocolIn; mode != proxyproto.ModeNone {
		override, err := proxyproto.ReadHeader(br, mode)
		if err != nil {
			// Strict mode: close without a response.
			log.Errorf("PROXY header: %v", err)
			reason = "PROXY protocol failure"
			return
		}
		if override != nil {
			log.Debugf("PROXY header overrides peer %v -> %v", peer, override)
			peer = override
		}
	}

	hs, err := protocol.ParseHandshake(br)
	if err != nil {
		log.Errorf("Handshake failed: %v", err)
		reason = "handshake error"
		return
	}

	switch hs.NextState {
	case protocol.NextStateStatus:
		reason = e.serveStatus(ctx, id, br, inbound, hs, ipOf(peer))
	case protocol.NextStateLogin:
		reason = e.serveLogin(ctx, id, br, inbound, hs, ipOf(peer), peer)
	default:
		log.Errorf("Invalid next state %d", hs.NextState)
		reason = "invalid next state"
	}
}

// serveLogin runs the login path: username, route decision, backend dial,
// frame replay, and forwarding. It returns the lifecycle-end reason.
func (e *Engine) serveLogin(ctx context.Context, id uint64, br *bufio.Reader, inbound net.Conn, hs *protocol.Handshake, peerIP string, peer net.Addr) string {
	log := logrus.WithField("conn", id)

	username, err := protocol.ParseLoginStart(br)
	if err != nil {
		log.Errorf("Login start failed: %v", err)
		return "login error"
	}

	dec, cached, hit := e.lookupRoute(peerIP, hs.Host)
	if hit && cached != nil && cached.IsRejection {
		msg := cached.RejectReason
		if msg == "" {
			msg = msgRejected
		}
		disconnect(inbound, msg)
		return "rejected"
	}
	if !hit {
		req := oracle.RouteRequest{
			ConnID:   id,
			PeerIP:   peerIP,
			Port:     hs.Port,
			Protocol: hs.ProtocolVersion,
			Host:     hs.Host,
			Username: username,
		}
		dec, err = e.Oracle.RequestRoute(ctx, req)
		if err != nil {
			log.Errorf("Route decision unavailable: %v", err)
			disconnect(inbound, msgRoutingError)
			return "routing error"
		}
		if dec.Cache != nil {
			if data, merr := json.Marshal(dec); merr == nil {
				e.Cache.Set(peerIP, hs.Host, data, *dec.Cache)
			}
		}
	}

	if dec.Disconnect != nil {
		disconnect(inbound, *dec.Disconnect)
		return "policy disconnect"
	}

	// Host rewrite re-serializes a clone; the original stays usable for
	// logging.
	fwd := *hs
	if dec.RewriteHost != "" {
		log.Infof("Rewriting host %s -> %s", hs.Host, dec.RewriteHost)
		fwd.Host = dec.RewriteHost
	}

	outbound, err := backend.Dial(ctx, dec.RemoteHost, dec.RemotePort, dec.Proxy)
	if err != nil {
		log.Errorf("Failed to connect to backend %s:%d: %v", dec.RemoteHost, dec.RemotePort, err)
		disconnect(inbound, msgDialError)
		return "dial failure"
	}
	defer outbound.Close()

	if dec.ProxyProtocol != 0 {
		if err := proxyproto.WriteHeader(outbound, dec.ProxyProtocol, peer, inbound.LocalAddr()); err != nil {
			log.Errorf("Failed to write PROXY header: %v", err)
			return "PROXY emit failure"
		}
	}

	// Replay the frames consumed during parsing.
	if _, err := outbound.Write(fwd.Encode()); err != nil {
		log.Errorf("Failed to replay handshake: %v", err)
		return "replay failure"
	}
	if _, err := outbound.Write(protocol.EncodeLoginStart(username)); err != nil {
		log.Errorf("Failed to replay login start: %v", err)
		return "replay failure"
	}

	log.Infof("Proxying %s@%s to %s:%d proxy=%q", username, hs.Host, dec.RemoteHost, dec.RemotePort, dec.Proxy)
	if err := e.forward(ctx, id, br, inbound, outbound); err != nil {
		log.Errorf("Connection proxy failed: %v", err)
		return "forward error"
	}
	log.Info("Connection closed")
	return "closed"
}

// lookupRoute consults the cache at ip+host then ip granularity.
func (e *Engine) lookupRoute(peerIP, host string) (oracle.RouteDecision, *cache.Entry, bool) {
	var dec oracle.RouteDecision
	entry := e.Cache.Get(peerIP, host, cache.GranularityIPHost)
	if entry == nil {
		entry = e.Cache.Get(peerIP, "", cache.GranularityIP)
	}
	if entry == nil {
		return dec, nil, false
	}
	if entry.IsRejection {
		return dec, entry, true
	}
	if err := json.Unmarshal(entry.Data, &dec); err != nil {
		return oracle.RouteDecision{}, nil, false
	}
	return dec, entry, true
}

// disconnect sends the Login Disconnect frame and half-closes the write
// direction.
func disconnect(conn net.Conn, msg string) {
	_ = protocol.WriteDisconnect(conn, msg)
	closeWrite(conn)
}

// closeWrite half-closes the write direction when the transport supports
// it; otherwise the connection is closed outright.
func closeWrite(conn net.Conn) {
	if cw, ok := conn.(interface{ CloseWrite() error }); ok {
		_ = cw.CloseWrite()
		return
	}
	_ = conn.Close()
}

// ipOf extracts the bare IP from a network address.
func ipOf(addr net.Addr) string {
	switch a := addr.(type) {
	case *net.TCPAddr:
		return a.IP.String()
	default:
		host, _, err := net.SplitHostPort(addr.String())
		if err != nil {
			return addr.String()
		}
		return host
	}
}
