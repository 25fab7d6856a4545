// Package protocol implements the Minecraft wire primitives used during the
// pre-play phase: variable-length integers, length-prefixed strings, and
// packet framing.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"
)

// MaxStringLen bounds a single length-prefixed string. 256 KiB is generous
// for any handshake field and caps memory per read.
const MaxStringLen = 262144

var (
	// ErrVarintTooBig signals a varint with more than five bytes.
	ErrVarintTooBig = errors.New("protocol: varint too big")
	// ErrStringTooLong signals a string length above MaxStringLen.
	ErrStringTooLong = errors.New("protocol: string length exceeds limit")
	// ErrInvalidUTF8 signals string payload bytes that are not valid UTF-8.
	ErrInvalidUTF8 = errors.New("protocol: string is not valid UTF-8")
)

// ReadVarint reads a VarInt (max 5 bytes, 7 bits per byte, little-endian
// groups, high bit continuation) from r.
func ReadVarint(r io.Reader) (int32, error) {
	var result int32
	var numRead uint
	var b [1]byte
	for {
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return 0, err
		}
		result |= int32(b[0]&0x7F) << (7 * numRead)
		numRead++
		if numRead > 5 {
			return 0, ErrVarintTooBig
		}
		if b[0]&0x80 == 0 {
			return result, nil
		}
	}
}

// AppendVarint appends the minimal VarInt encoding of v to buf.
func AppendVarint(buf []byte, v int32) []byte {
	u := uint32(v)
	for {
		if u&^0x7F == 0 {
			return append(buf, byte(u))
		}
		buf = append(buf, byte(u&0x7F)|0x80)
		u >>= 7
	}
}

// VarintLen returns the encoded size of v in bytes.
func VarintLen(v int32) int {
	u := uint32(v)
	n := 1
	for u&^0x7F != 0 {
		u >>= 7
		n++
	}
	return n
}

// ReadString reads a VarInt-prefixed UTF-8 string from r, rejecting lengths
// above MaxStringLen and invalid UTF-8 payloads.
func ReadString(r io.Reader) (string, error) {
	n, err := ReadVarint(r)
	if err != nil {
		return "", err
	}
	if n < 0 || n > MaxStringLen {
		return "", ErrStringTooLong
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	if !utf8.Valid(buf) {
		return "", ErrInvalidUTF8
	}
	return string(buf), nil
}

// AppendString appends the VarInt length prefix and the bytes of s to buf.
func AppendString(buf []byte, s string) []byte {
	buf = AppendVarint(buf, int32(len(s)))
	return append(buf, s...)
}

// AppendPacket frames payload with its VarInt length prefix.
func AppendPacket(buf, payload []byte) []byte {
	buf = AppendVarint(buf, int32(len(payload)))
	return append(buf, payload...)
}

// readUint16 reads a big-endian unsigned 16-bit value.
func readUint16(r io.Reader) (uint16, error) {
	var b [2]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b[:]), nil
}

// badPacketID builds the framing error for an unexpected packet id.
func badPacketID(what string, id int32) error {
	return fmt.Errorf("protocol: invalid %s packet id %d", what, id)
}
