// Package session implements the mutex-guarded Session type shared between
// the control engine and the I/O engine: the handful of fields spec.md §3
// protects under the session mutex, and nothing else. A Session owns the
// slots a Connection lives in; it never owns a Connection's buffers, timers
// or queues, which stay private to the I/O engine.
package session

import (
	"net"
	"sync"

	"github.com/rs/zerolog"
)

// Ordinal identifies a connection's role during collision resolution.
type Ordinal int

const (
	Primary Ordinal = iota
	Secondary
)

func (o Ordinal) String() string {
	if o == Primary {
		return "primary"
	}
	return "secondary"
}

// Sibling returns the other ordinal: primary^1==secondary and vice versa.
func (o Ordinal) Sibling() Ordinal {
	return o ^ 1
}

// ConnSlot is the subset of *conn.Connection the session package needs to
// reference without importing conn (which imports session), breaking the
// dependency cycle the back-reference would otherwise create.
type ConnSlot interface {
	Ordinal() Ordinal
}

// OpenMessage is the opaque OPEN payload transferred from a Connection to
// the Session on promotion. The connection core treats it as owned bytes;
// decoding it is the FSM's business (spec.md §1 Out of scope).
type OpenMessage struct {
	Raw []byte
}

// Session is shared between the control engine and the I/O engine. Every
// field below is guarded by Mu; callers outside this package must hold Mu
// for the duration of any access, exactly as spec.md §5 requires ("Any
// I/O-engine function that touches the session acquires it").
type Session struct {
	Mu sync.Mutex

	// Connections holds up to two connection slots, indexed by Ordinal.
	// After promotion, Connections[Secondary] is always nil.
	Connections [2]ConnSlot

	// Host is the peer's display name, without any "(primary)"/"(secondary)"
	// tag — those are added per-connection by conn.Connection.host.
	Host string

	HoldTimerInterval      uint16 // seconds, negotiated defaults
	KeepaliveTimerInterval uint16

	SuLocal  net.Addr
	SuRemote net.Addr

	// OpenRecv is the OPEN message received from the surviving connection,
	// populated only after MakePrimary-equivalent promotion.
	OpenRecv *OpenMessage

	// Accept reports whether further inbound connections for this peer
	// should be accepted. Connection.Open sets this to false when opening a
	// secondary connection.
	Accept bool

	Log *zerolog.Logger
}

// New returns a freshly initialised Session for host, with inbound accept
// enabled and no connections attached.
func New(host string, log *zerolog.Logger) *Session {
	if log == nil {
		nop := zerolog.Nop()
		log = &nop
	}
	return &Session{
		Host:   host,
		Accept: true,
		Log:    log,
	}
}

// Logger returns the session's logger, defaulting to a no-op logger if one
// was never attached. Mirrors the teacher's "embed *zerolog.Logger, fall
// back to zerolog.Nop()" idiom.
func (s *Session) Logger() *zerolog.Logger {
	if s.Log == nil {
		nop := zerolog.Nop()
		return &nop
	}
	return s.Log
}
