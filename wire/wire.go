// Package wire implements RFC 4271 §4.1 BGP-4 message header framing: the
// 16-byte marker, 2-byte length and 1-byte type fields that every BGP
// message begins with. It deliberately stops at the header boundary —
// OPEN/UPDATE/NOTIFICATION body content is out of scope for the connection
// core and is the FSM's responsibility.
package wire

import "encoding/binary"

// Type is the BGP message type carried in the header's 1-byte type field.
type Type uint8

// BGP message types, RFC 4271 §4.1 and RFC 2918 (ROUTE-REFRESH).
const (
	INVALID   Type = 0
	OPEN      Type = 1
	UPDATE    Type = 2
	NOTIFY    Type = 3
	KEEPALIVE Type = 4
	REFRESH   Type = 5
)

// String returns the human-readable message type name.
func (t Type) String() string {
	switch t {
	case OPEN:
		return "OPEN"
	case UPDATE:
		return "UPDATE"
	case NOTIFY:
		return "NOTIFICATION"
	case KEEPALIVE:
		return "KEEPALIVE"
	case REFRESH:
		return "ROUTE-REFRESH"
	default:
		return "INVALID"
	}
}

const (
	// HeadLen is the BGP message header length: marker(16) + length(2) + type(1).
	HeadLen = 19

	// MaxLen is the maximum BGP message length, RFC 4271 §4.1.
	MaxLen = 4096

	// markerLen is the length of the all-ones marker field.
	markerLen = 16

	// lenOff/typeOff are the byte offsets of the length and type fields
	// within a header.
	lenOff  = markerLen
	typeOff = markerLen + 2
)

// Marker is the mandatory 16-byte all-ones BGP header marker.
var Marker = [markerLen]byte{
	0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
	0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
}

// RefreshSupported controls whether CheckHeader accepts type REFRESH (5).
// The connection core treats this as a fixed capability of the running
// speaker rather than something negotiated per-connection (route-refresh
// negotiation itself is the FSM's business); a speaker that never
// advertises the capability should leave this false.
var RefreshSupported = true

// Header is a decoded BGP message header.
type Header struct {
	Length uint16 // total message length, header included
	Type   Type
}

// BodyLen returns the number of bytes following the header for this message.
func (h Header) BodyLen() int {
	return int(h.Length) - HeadLen
}

// PutHeader encodes a header for a message with the given body length and
// type into dst[:HeadLen]. dst must be at least HeadLen bytes.
func PutHeader(dst []byte, bodyLen int, typ Type) {
	copy(dst[:markerLen], Marker[:])
	binary.BigEndian.PutUint16(dst[lenOff:lenOff+2], uint16(HeadLen+bodyLen))
	dst[typeOff] = byte(typ)
}

// CheckHeader validates a complete HeadLen-byte header per RFC 4271 §4.1 and
// spec §6: the marker must be all-ones, the length must be in
// [HeadLen, MaxLen], and the type must be one of the types this speaker
// accepts. buf must be exactly HeadLen bytes.
func CheckHeader(buf []byte) (Header, error) {
	if len(buf) != HeadLen {
		return Header{}, ErrShort
	}
	if !markerOK(buf[:markerLen]) {
		return Header{}, ErrMarker
	}

	length := binary.BigEndian.Uint16(buf[lenOff : lenOff+2])
	if length < HeadLen || length > MaxLen {
		return Header{}, ErrLength
	}

	typ := Type(buf[typeOff])
	if !typeOK(typ) {
		return Header{}, ErrType
	}

	return Header{Length: length, Type: typ}, nil
}

func typeOK(t Type) bool {
	switch t {
	case OPEN, UPDATE, NOTIFY, KEEPALIVE:
		return true
	case REFRESH:
		return RefreshSupported
	default:
		return false
	}
}

func markerOK(b []byte) bool {
	for _, c := range b {
		if c != 0xff {
			return false
		}
	}
	return true
}

// MessageLen reads the 2-byte length field of a whole framed BGP message
// starting at buf[0], without otherwise validating the header. It is used
// to walk whole messages already known-good inside wbuff (see
// conn.Connection.PartClose), mirroring bgp_msg_get_mlen in the original
// implementation.
func MessageLen(buf []byte) uint16 {
	return binary.BigEndian.Uint16(buf[lenOff : lenOff+2])
}
