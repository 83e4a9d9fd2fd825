package wire

import "errors"

// Header validation errors, RFC 4271 §4.1 / §6.2 (Message Header Error).
var (
	ErrShort  = errors.New("wire: buffer too short for header")
	ErrMarker = errors.New("wire: marker not all ones")
	ErrLength = errors.New("wire: length out of bounds")
	ErrType   = errors.New("wire: unsupported message type")
)
