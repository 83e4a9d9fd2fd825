package wire

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// makeHeader builds a HeadLen-byte header buffer for the given total length
// and type.
func makeHeader(totalLen uint16, typ Type) []byte {
	buf := make([]byte, HeadLen)
	copy(buf, Marker[:])
	buf[16] = byte(totalLen >> 8)
	buf[17] = byte(totalLen)
	buf[18] = byte(typ)
	return buf
}

func TestCheckHeader_Valid(t *testing.T) {
	for _, typ := range []Type{OPEN, UPDATE, NOTIFY, KEEPALIVE, REFRESH} {
		buf := makeHeader(HeadLen, typ)
		h, err := CheckHeader(buf)
		require.NoError(t, err)
		require.Equal(t, Header{Length: HeadLen, Type: typ}, h)
		require.Equal(t, 0, h.BodyLen())
	}
}

func TestCheckHeader_MaxLen(t *testing.T) {
	buf := makeHeader(MaxLen, UPDATE)
	h, err := CheckHeader(buf)
	require.NoError(t, err)
	require.Equal(t, MaxLen-HeadLen, h.BodyLen())
}

func TestCheckHeader_RejectsShort(t *testing.T) {
	_, err := CheckHeader(make([]byte, HeadLen-1))
	require.ErrorIs(t, err, ErrShort)
}

func TestCheckHeader_RejectsBadMarker(t *testing.T) {
	buf := makeHeader(HeadLen, KEEPALIVE)
	buf[0] = 0x00
	_, err := CheckHeader(buf)
	require.ErrorIs(t, err, ErrMarker)
}

func TestCheckHeader_RejectsShortLength(t *testing.T) {
	buf := makeHeader(HeadLen-1, KEEPALIVE)
	_, err := CheckHeader(buf)
	require.ErrorIs(t, err, ErrLength)
}

func TestCheckHeader_RejectsLongLength(t *testing.T) {
	// S4: feed a header with length=0xFFFF.
	buf := makeHeader(0xffff, UPDATE)
	_, err := CheckHeader(buf)
	require.ErrorIs(t, err, ErrLength)
}

func TestCheckHeader_RejectsBadType(t *testing.T) {
	buf := makeHeader(HeadLen, Type(200))
	_, err := CheckHeader(buf)
	require.ErrorIs(t, err, ErrType)
}

func TestCheckHeader_RefreshGatedByCapability(t *testing.T) {
	old := RefreshSupported
	defer func() { RefreshSupported = old }()

	RefreshSupported = false
	buf := makeHeader(HeadLen, REFRESH)
	_, err := CheckHeader(buf)
	require.ErrorIs(t, err, ErrType)

	RefreshSupported = true
	_, err = CheckHeader(buf)
	require.NoError(t, err)
}

func TestPutHeaderRoundTrip(t *testing.T) {
	buf := make([]byte, HeadLen)
	PutHeader(buf, 42, UPDATE)
	h, err := CheckHeader(buf)
	require.NoError(t, err)
	require.Equal(t, uint16(HeadLen+42), h.Length)
	require.Equal(t, UPDATE, h.Type)
}

func TestMessageLen(t *testing.T) {
	buf := makeHeader(123, OPEN)
	require.Equal(t, uint16(123), MessageLen(buf))
}

func TestTypeString(t *testing.T) {
	require.Equal(t, "OPEN", OPEN.String())
	require.Equal(t, "UPDATE", UPDATE.String())
	require.Equal(t, "NOTIFICATION", NOTIFY.String())
	require.Equal(t, "KEEPALIVE", KEEPALIVE.String())
	require.Equal(t, "ROUTE-REFRESH", REFRESH.String())
	require.Equal(t, "INVALID", Type(99).String())
}
