package engine

import (
	"bufio"
	"context"
	"encoding/json"
	"net"

	"github.com/sirupsen/logrus"

	"github.com/riftgate/riftgate/internal/cache"
	"github.com/riftgate/riftgate/internal/oracle"
	"github.com/riftgate/riftgate/internal/protocol"
)

// statusDocument is the JSON body of a Status Response packet.
type statusDocument struct {
	Version     oracle.MotdVersion `json:"version"`
	Players     oracle.MotdPlayers `json:"players"`
	Description json.RawMessage    `json:"description"`
	Favicon     string             `json:"favicon,omitempty"`
}

// serveStatus runs the status path: status request, MOTD decision, response,
// optional ping/pong. It returns the lifecycle-end reason.
func (e *Engine) serveStatus(ctx context.Context, id uint64, br *bufio.Reader, inbound net.Conn, hs *protocol.Handshake, peerIP string) string {
	log := logrus.WithField("conn", id)

	if err := protocol.ReadStatusRequest(br); err != nil {
		log.Errorf("Status request failed: %v", err)
		return "status error"
	}

	dec, cached, hit := e.lookupMotd(peerIP, hs.Host)
	if hit && cached != nil && cached.IsRejection {
		// No disconnect frame exists in the Status state; close silently.
		log.Debugf("Status rejected for %s: %s", peerIP, cached.RejectReason)
		return "rejected"
	}
	if !hit {
		req := oracle.MotdRequest{
			ConnID:   id,
			PeerIP:   peerIP,
			Port:     hs.Port,
			Protocol: hs.ProtocolVersion,
			Host:     hs.Host,
		}
		var err error
		dec, err = e.Oracle.RequestMotd(ctx, req)
		if err != nil {
			log.Errorf("MOTD decision unavailable: %v", err)
			return "routing error"
		}
		if dec.Cache != nil {
			if data, merr := json.Marshal(dec); merr == nil {
				e.Cache.Set(peerIP, hs.Host, data, *dec.Cache)
			}
		}
	}

	if dec.Disconnect != nil {
		log.Debugf("Status disconnect for %s", peerIP)
		return "policy disconnect"
	}

	doc := buildStatus(dec, hs)
	body, err := json.Marshal(doc)
	if err != nil {
		log.Errorf("Encoding status document: %v", err)
		return "status error"
	}
	if err := protocol.WriteStatusResponse(inbound, body); err != nil {
		log.Errorf("Writing status response: %v", err)
		return "status error"
	}

	// The client may follow up with a ping; echo it, or finish on EOF.
	echo, err := protocol.ReadPing(br)
	if err == nil {
		_ = protocol.WritePong(inbound, echo)
	}
	return "status served"
}

// lookupMotd consults the cache at ip+host then ip granularity.
func (e *Engine) lookupMotd(peerIP, host string) (oracle.MotdDecision, *cache.Entry, bool) {
	var dec oracle.MotdDecision
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
		return oracle.MotdDecision{}, nil, false
	}
	return dec, entry, true
}

// buildStatus fills the decision's gaps with serviceable defaults.
func buildStatus(dec oracle.MotdDecision, hs *protocol.Handshake) statusDocument {
	doc := statusDocument{
		Version:     oracle.MotdVersion{Name: "riftgate", Protocol: hs.ProtocolVersion},
		Description: json.RawMessage(`{"text":""}`),
		Favicon:     dec.Favicon,
	}
	if dec.Version != nil {
		doc.Version = *dec.Version
	}
	if dec.Players != nil {
		doc.Players = *dec.Players
	}
	if len(dec.Description) > 0 {
		doc.Description = dec.Description
	}
	return doc
}
