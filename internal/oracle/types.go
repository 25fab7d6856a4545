// Package oracle bridges engine tasks to the external policy oracle through
// pull-based request queues and one-shot reply slots.
package oracle

import (
	"encoding/json"

	"github.com/riftgate/riftgate/internal/cache"
)

// RouteRequest asks the embedder where a login connection should go.
type RouteRequest struct {
	ConnID   uint64 `json:"connectionId"`
	PeerIP   string `json:"peerIp"`
	Port     uint16 `json:"port"`
	Protocol int32  `json:"protocol"`
	Host     string `json:"host"`
	Username string `json:"username"`
}

// MotdRequest asks the embedder for a status response.
type MotdRequest struct {
	ConnID   uint64 `json:"connectionId"`
	PeerIP   string `json:"peerIp"`
	Port     uint16 `json:"port"`
	Protocol int32  `json:"protocol"`
	Host     string `json:"host"`
}

// DisconnectionEvent reports a connection lifecycle end to the embedder.
type DisconnectionEvent struct {
	ConnID uint64 `json:"connectionId"`
	Reason string `json:"reason,omitempty"`
}

// RouteDecision is the embedder's answer to a RouteRequest. A non-nil
// Disconnect overrides everything else.
type RouteDecision struct {
	RemoteHost    string        `json:"remoteHost,omitempty"`
	RemotePort    uint16        `json:"remotePort,omitempty"`
	Proxy         string        `json:"proxy,omitempty"`
	ProxyProtocol byte          `json:"proxyProtocol,omitempty"`
	Disconnect    *string       `json:"disconnect,omitempty"`
	RewriteHost   string        `json:"rewriteHost,omitempty"`
	Cache         *cache.Config `json:"cache,omitempty"`
}

// MotdVersion names the advertised server version.
type MotdVersion struct {
	Name     string `json:"name"`
	Protocol int32  `json:"protocol"`
}

// MotdPlayers carries the advertised player counts. Sample entries may be
// plain names or {name, id} objects; they are passed through verbatim.
type MotdPlayers struct {
	Max    int               `json:"max"`
	Online int               `json:"online"`
	Sample []json.RawMessage `json:"sample,omitempty"`
}

// MotdDecision is the embedder's answer to a MotdRequest.
type MotdDecision struct {
	Version     *MotdVersion    `json:"version,omitempty"`
	Players     *MotdPlayers    `json:"players,omitempty"`
	Description json.RawMessage `json:"description,omitempty"`
	Favicon     string          `json:"favicon,omitempty"`
	Disconnect  *string         `json:"disconnect,omitempty"`
	Cache       *cache.Config   `json:"cache,omitempty"`
}
