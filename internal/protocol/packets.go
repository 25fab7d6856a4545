package protocol

import (
	"encoding/json"
	"io"
)

// Next-state values carried by the handshake.
const (
	NextStateStatus int32 = 1
	NextStateLogin  int32 = 2
)

// Handshake is the first framed packet from the client, immutable once
// parsed. Host rewriting clones the record and re-serializes it.
type Handshake struct {
	ProtocolVersion int32
	Host            string
	Port            uint16
	NextState       int32
}

// ParseHandshake reads the initial handshake packet (id 0).
func ParseHandshake(r io.Reader) (*Handshake, error) {
	if _, err := ReadVarint(r); err != nil { // packet length
		return nil, err
	}
	id, err := ReadVarint(r)
	if err != nil {
		return nil, err
	}
	if id != 0 {
		return nil, badPacketID("handshake", id)
	}
	pv, err := ReadVarint(r)
	if err != nil {
		return nil, err
	}
	host, err := ReadString(r)
	if err != nil {
		return nil, err
	}
	port, err := readUint16(r)
	if err != nil {
		return nil, err
	}
	next, err := ReadVarint(r)
	if err != nil {
		return nil, err
	}
	return &Handshake{
		ProtocolVersion: pv,
		Host:            host,
		Port:            port,
		NextState:       next,
	}, nil
}

// Encode re-serializes the handshake as a framed packet.
func (h *Handshake) Encode() []byte {
	payload := AppendVarint(nil, 0) // packet id
	payload = AppendVarint(payload, h.ProtocolVersion)
	payload = AppendString(payload, h.Host)
	payload = append(payload, byte(h.Port>>8), byte(h.Port))
	payload = AppendVarint(payload, h.NextState)
	return AppendPacket(nil, payload)
}

// ParseLoginStart reads the Login Start packet (id 0) and returns the
// username.
func ParseLoginStart(r io.Reader) (string, error) {
	if _, err := ReadVarint(r); err != nil {
		return "", err
	}
	id, err := ReadVarint(r)
	if err != nil {
		return "", err
	}
	if id != 0 {
		return "", badPacketID("login start", id)
	}
	return ReadString(r)
}

// EncodeLoginStart re-serializes a Login Start packet for replay to the
// backend.
func EncodeLoginStart(username string) []byte {
	payload := AppendVarint(nil, 0)
	payload = AppendString(payload, username)
	return AppendPacket(nil, payload)
}

// ReadStatusRequest reads the Status Request packet (id 0, empty payload).
func ReadStatusRequest(r io.Reader) error {
	if _, err := ReadVarint(r); err != nil {
		return err
	}
	id, err := ReadVarint(r)
	if err != nil {
		return err
	}
	if id != 0 {
		return badPacketID("status request", id)
	}
	return nil
}

// WriteStatusResponse writes the Status Response packet (id 0) carrying the
// JSON status document.
func WriteStatusResponse(w io.Writer, status []byte) error {
	payload := AppendVarint(nil, 0)
	payload = AppendString(payload, string(status))
	_, err := w.Write(AppendPacket(nil, payload))
	return err
}

// ReadPing reads the Ping packet (id 1) and returns its eight-byte payload.
func ReadPing(r io.Reader) ([8]byte, error) {
	var echo [8]byte
	if _, err := ReadVarint(r); err != nil {
		return echo, err
	}
	id, err := ReadVarint(r)
	if err != nil {
		return echo, err
	}
	if id != 1 {
		return echo, badPacketID("ping", id)
	}
	_, err = io.ReadFull(r, echo[:])
	return echo, err
}

// WritePong echoes the ping payload back as a Pong packet (id 1).
func WritePong(w io.Writer, echo [8]byte) error {
	payload := AppendVarint(nil, 1)
	payload = append(payload, echo[:]...)
	_, err := w.Write(AppendPacket(nil, payload))
	return err
}

// disconnectText is the JSON chat component wrapping a disconnect reason.
type disconnectText struct {
	Text string `json:"text"`
}

// WriteDisconnect sends a Login Disconnect packet (id 0) whose payload is
// the JSON chat component {"text": msg}. The caller half-closes the write
// direction afterwards.
func WriteDisconnect(w io.Writer, msg string) error {
	body, err := json.Marshal(disconnectText{Text: msg})
	if err != nil {
		return err
	}
	payload := AppendVarint(nil, 0)
	payload = AppendString(payload, string(body))
	_, err = w.Write(AppendPacket(nil, payload))
	return err
}
