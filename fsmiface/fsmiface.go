// Package fsmiface defines the seam between the BGP connection core and the
// BGP finite state machine that sits above it. Spec.md §6 calls this the
// "FSM interface surfaced": the core calls into the FSM on events, and the
// FSM calls back into the core via a handful of lifecycle operations. No
// FSM behaviour lives here — see fsmiface/refimpl for a minimal, explicitly
// non-conformant reference implementation used by the demo binary to
// exercise the whole stack end to end.
package fsmiface

import (
	"github.com/bgpfix/bgpconn/conn"
	"github.com/bgpfix/bgpconn/session"
)

// FSM is the full event surface a BGP finite state machine implements. It
// is a type alias for conn.FSM (the five callbacks the connection core
// itself calls) and adds nothing else: the connection core has no
// additional event types. The alias lets callers spell the type through
// fsmiface rather than reaching into conn directly.
type FSM = conn.FSM

// Connection is the subset of *conn.Connection the FSM is allowed to call
// back into, per spec.md §6: "The FSM calls back into the connection via
// write, open, close, part_close, make_primary." Sibling and state
// bookkeeping are included because a conformant FSM needs them to drive
// collision resolution and its own transition table.
type Connection interface {
	Write(msg []byte) (conn.WriteResult, error)
	SendNotification(msg []byte) (conn.WriteResult, error)
	Open(sock conn.Socket) error
	Close()
	PartClose() error
	MakePrimary()
	Sibling() *conn.Connection

	State() conn.State
	SetState(conn.State)
	Stop(cause conn.StopCause)
	Stopped() conn.StopCause
	Full() bool
	Host() string
	Ordinal() session.Ordinal
}
