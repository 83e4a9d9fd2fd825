// Package refimpl is a minimal reference BGP FSM used to exercise the
// connection core end to end in the cmd/bgpconnd demo binary. It
// implements just enough of RFC 4271's Idle/Connect/Active/OpenSent
// /OpenConfirm/Established/Stopping shape to prove out collision handling
// and NOTIFICATION teardown. It is explicitly not a conformant BGP FSM: no
// capability negotiation, no path attribute handling, no timers jittered
// per RFC 4271 §10.
package refimpl

import (
	"github.com/rs/zerolog"

	"github.com/bgpfix/bgpconn/conn"
	"github.com/bgpfix/bgpconn/wire"
)

// Notification error codes this reference FSM can send, RFC 4271 §4.5.
const (
	NotifyHeaderError      = 1
	NotifyHoldTimerExpired = 4
	NotifyCease            = 6
)

// Metrics is the optional observability hook this reference FSM reports
// resolved collisions through. A nil Metrics (the default) disables
// reporting.
type Metrics interface {
	// CollisionResolved fires once per call to resolveCollision, regardless
	// of which side survives.
	CollisionResolved()
}

// FSM is a single reference finite state machine shared by every connection
// it drives. FSM state itself lives on *conn.Connection; apart from logging
// and metrics, the only per-connection state kept here is the small
// notifyCause sidecar map below.
type FSM struct {
	log     *zerolog.Logger
	metrics Metrics

	// notifyCause records, per connection, the error code of the
	// NOTIFICATION most recently sent; SentNotification (which may fire
	// after the triggering event has returned) drops the entry.
	notifyCause map[*conn.Connection]byte
}

// New returns a reference FSM. A nil logger falls back to zerolog.Nop(),
// matching the teacher's speaker.Speaker idiom. metrics may be nil to
// disable collision-resolution reporting.
func New(log *zerolog.Logger, metrics Metrics) *FSM {
	if log == nil {
		nop := zerolog.Nop()
		log = &nop
	}
	return &FSM{log: log, metrics: metrics, notifyCause: make(map[*conn.Connection]byte)}
}

var _ conn.FSM = (*FSM)(nil)

// Dispatch implements conn.FSM.
func (f *FSM) Dispatch(c *conn.Connection, msg []byte) {
	typ := wire.Type(msg[18])
	logger := f.log.With().Str("conn", c.Host()).Logger()

	switch typ {
	case wire.OPEN:
		f.handleOpen(c, msg)
	case wire.KEEPALIVE:
		if c.State() == conn.OpenSent {
			c.SetState(conn.OpenConfirm)
		}
		if c.State() == conn.OpenConfirm {
			c.SetState(conn.Established)
			logger.Info().Msg("session established")
		}
		c.PostEvent(conn.Event{Kind: "keepalive_received"})
	case wire.UPDATE:
		if c.State() != conn.Established {
			f.notify(c, NotifyCease)
			return
		}
		c.PostEvent(conn.Event{Kind: "update_received", Data: append([]byte(nil), msg...)})
	case wire.NOTIFY:
		logger.Warn().Msg("peer sent NOTIFICATION")
		c.Stop(conn.StoppedFSM)
	case wire.REFRESH:
		c.PostEvent(conn.Event{Kind: "refresh_received"})
	default:
		f.notify(c, NotifyHeaderError)
	}
}

func (f *FSM) handleOpen(c *conn.Connection, msg []byte) {
	switch c.State() {
	case conn.Connect, conn.Active, conn.OpenSent:
		if sib := c.Sibling(); sib != nil && sib.State() == conn.OpenSent {
			f.resolveCollision(c, sib)
			if c.State() == conn.Stopping {
				return
			}
		}
		var keepalive [wire.HeadLen]byte
		wire.PutHeader(keepalive[:], 0, wire.KEEPALIVE)
		if _, err := c.Write(keepalive[:]); err != nil {
			return
		}
		c.SetState(conn.OpenConfirm)
	default:
		f.notify(c, NotifyCease)
	}
}

// resolveCollision implements the FSM side of spec.md §4.6: it decides a
// survivor and drives MakePrimary/Stop accordingly. c and sib are siblings
// on the same session.
func (f *FSM) resolveCollision(c, sib *conn.Connection) {
	logger := f.log.With().Str("host", c.Host()).Logger()
	if c.Ordinal() == sib.Ordinal() {
		return // defensive: Sibling() already guarantees this can't happen
	}

	// Simplified deterministic tie-break: primary always survives. A
	// conformant FSM instead compares BGP identifiers from the two OPEN
	// messages (RFC 4271 §6.8); that comparison is out of this core's
	// scope (spec.md §1).
	survivor, loser := c, sib
	if sib.Ordinal() < c.Ordinal() {
		survivor, loser = sib, c
	}

	logger.Info().Str("loser", loser.Host()).Msg("resolving connection collision")
	if f.metrics != nil {
		f.metrics.CollisionResolved()
	}
	survivor.MakePrimary()
	loser.Stop(conn.StoppedCollision)
}

// HandleEvent implements conn.FSM.
func (f *FSM) HandleEvent(c *conn.Connection, ev conn.Event) {
	switch ev.Kind {
	case "hold_timer_expired":
		f.notify(c, NotifyHoldTimerExpired)
	case "keepalive_timer_expired":
		var ka [wire.HeadLen]byte
		wire.PutHeader(ka[:], 0, wire.KEEPALIVE)
		_, _ = c.Write(ka[:])
	default:
		// update_received/refresh_received/keepalive_received: out of
		// scope for this reference FSM (no RIB, no capability state).
	}
}

// IOError implements conn.FSM.
func (f *FSM) IOError(c *conn.Connection, err error) {
	f.log.Warn().Str("conn", c.Host()).Err(err).Msg("io error")
	c.Stop(conn.StoppedIOError)
}

// HeaderError implements conn.FSM.
func (f *FSM) HeaderError(c *conn.Connection, err error) {
	f.log.Warn().Str("conn", c.Host()).Err(err).Msg("header validation failed")
	f.notify(c, NotifyHeaderError)
}

// SentNotification implements conn.FSM.
func (f *FSM) SentNotification(c *conn.Connection) {
	delete(f.notifyCause, c)
	c.Stop(conn.StoppedFSM)
}

func (f *FSM) notify(c *conn.Connection, code byte) {
	f.notifyCause[c] = code
	if err := c.PartClose(); err != nil {
		c.Stop(conn.StoppedIOError)
		return
	}
	body := []byte{code, 0}
	var buf [wire.HeadLen + 2]byte
	wire.PutHeader(buf[:], len(body), wire.NOTIFY)
	copy(buf[wire.HeadLen:], body)
	if _, err := c.SendNotification(buf[:]); err != nil {
		c.Stop(conn.StoppedHeaderError)
	}
}
