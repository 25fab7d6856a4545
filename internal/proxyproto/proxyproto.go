// Package proxyproto detects and consumes inbound HAProxy PROXY headers to
// recover the real client address, and emits v1/v2 headers on outbound
// backend connections.
package proxyproto

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/pires/go-proxyproto"
)

// Mode selects inbound PROXY header handling.
type Mode int

const (
	// ModeNone performs no peer sniffing.
	ModeNone Mode = iota
	// ModeOptional consumes a header when present and proceeds otherwise.
	ModeOptional
	// ModeStrict requires a well-formed header on every connection.
	ModeStrict
)

// SniffLen is how many bytes the inbound reader must be able to buffer for
// header detection without consuming.
const SniffLen = 536

var (
	// ErrHeaderRequired signals a strict-mode connection without a header.
	ErrHeaderRequired = errors.New("proxyproto: PROXY header required")
	// ErrHeaderIncomplete signals a strict-mode connection that closed
	// mid-header.
	ErrHeaderIncomplete = errors.New("proxyproto: incomplete PROXY header")
)

// v2Signature opens every PROXY protocol v2 header.
var v2Signature = []byte{0x0D, 0x0A, 0x0D, 0x0A, 0x00, 0x0D, 0x0A, 0x51, 0x55, 0x49, 0x54, 0x0A}

// v1Prefix opens every PROXY protocol v1 header.
var v1Prefix = []byte("PROXY ")

// ParseMode maps the set_options spelling to a Mode.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "none":
		return ModeNone, nil
	case "optional":
		return ModeOptional, nil
	case "strict":
		return ModeStrict, nil
	}
	return ModeNone, fmt.Errorf("proxyproto: unknown mode %q", s)
}

// ReadHeader sniffs br for a PROXY header per the mode. It returns the
// overriding source address when a well-formed v1/v2 header with an IP
// family was consumed, or nil when the apparent peer address stands.
// Non-IP v2 families are consumed and acknowledged without an override.
func ReadHeader(br *bufio.Reader, mode Mode) (net.Addr, error) {
	if mode == ModeNone {
		return nil, nil
	}

	peeked, err := br.Peek(len(v2Signature))
	if err != nil {
		// The client closed or stalled out before a full signature.
		if mode == ModeStrict {
			return nil, ErrHeaderIncomplete
		}
		return nil, nil
	}

	isV2 := bytes.Equal(peeked, v2Signature)
	isV1 := bytes.HasPrefix(peeked, v1Prefix)
	if !isV2 && !isV1 {
		if mode == ModeStrict {
			return nil, ErrHeaderRequired
		}
		return nil, nil
	}

	h, err := proxyproto.Read(br)
	if err != nil {
		if mode == ModeStrict {
			return nil, fmt.Errorf("proxyproto: parsing header: %w", err)
		}
		// Optional mode proceeds; the consumed bytes were not a usable
		// header so the following handshake parse reports the damage.
		return nil, nil
	}
	if h.Command.IsLocal() {
		return nil, nil
	}
	src, ok := h.SourceAddr.(*net.TCPAddr)
	if !ok || src == nil {
		// Acknowledged non-IP family; no override.
		return nil, nil
	}
	return src, nil
}

// WriteHeader emits a PROXY header of the requested version (1 or 2) with
// the given source (real client) and destination (proxy local) addresses.
func WriteHeader(w io.Writer, version byte, src, dst net.Addr) error {
	if version != 1 && version != 2 {
		return fmt.Errorf("proxyproto: unsupported version %d", version)
	}
	srcTCP, ok := src.(*net.TCPAddr)
	if !ok {
		return fmt.Errorf("proxyproto: source %v is not TCP", src)
	}
	transport := proxyproto.TCPv6
	if srcTCP.IP.To4() != nil {
		transport = proxyproto.TCPv4
	}
	h := &proxyproto.Header{
		Version:           version,
		Command:           proxyproto.PROXY,
		TransportProtocol: transport,
		SourceAddr:        src,
		DestinationAddr:   dst,
	}
	_, err := h.WriteTo(w)
	return err
}
