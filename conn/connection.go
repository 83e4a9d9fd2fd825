// Package conn implements the BGP connection core: the connection object
// with its paired buffers and write staging ring, the non-blocking read
// framer, the two-stage write pipeline, the ready-queue scheduler and the
// collision-resolution hand-off. It sits beneath a BGP FSM (supplied via the
// FSM interface) and above a non-blocking TCP stream socket.
package conn

import (
	"errors"
	"fmt"
	"net"

	"github.com/rs/zerolog"

	"github.com/bgpfix/bgpconn/ioselect"
	"github.com/bgpfix/bgpconn/qtimer"
	"github.com/bgpfix/bgpconn/session"
	"github.com/bgpfix/bgpconn/wire"
)

// State mirrors the BGP FSM states the connection core is aware of. The
// core never drives a transition other than into Stopping; every other
// transition belongs to the FSM.
type State int

const (
	Initial State = iota
	Connect
	Active
	OpenSent
	OpenConfirm
	Established
	Stopping
)

func (s State) String() string {
	switch s {
	case Initial:
		return "Initial"
	case Connect:
		return "Connect"
	case Active:
		return "Active"
	case OpenSent:
		return "OpenSent"
	case OpenConfirm:
		return "OpenConfirm"
	case Established:
		return "Established"
	case Stopping:
		return "Stopping"
	default:
		return "Unknown"
	}
}

// StopCause records why a connection transitioned to Stopping.
type StopCause int

const (
	NotStopped StopCause = iota
	StoppedIOError
	StoppedHeaderError
	StoppedFSM
	StoppedCollision
)

// Tag strings appended to session.Host to build a per-connection host
// string, taken from the original source's bgp_connection_tags array.
const (
	TagPrimary   = "(primary)"
	TagSecondary = "(secondary)"
)

const (
	maxMsg     = wire.MaxLen  // BGP_MAX_MSG_L
	headLen    = wire.HeadLen // BGP_MH_HEAD_L
	wbuffSize  = 10 * maxMsg
)

var (
	ErrAlreadyOpen   = errors.New("conn: already open")
	ErrSlotOccupied  = errors.New("conn: session slot already occupied")
	ErrNotStopping   = errors.New("conn: free requires Stopping state")
	ErrStillQueued   = errors.New("conn: free requires connection not on ready queue")
	ErrNotDetached   = errors.New("conn: free requires detachment from session")
	ErrBufferFull    = errors.New("conn: write buffer full")
	ErrMsgTooLong    = errors.New("conn: message exceeds maximum length")
)

// WriteResult is the outcome of Connection.Write: spec.md §4.2's
// done/buffered/failed trichotomy.
type WriteResult int

const (
	WriteDone WriteResult = iota
	WriteBuffered
	WriteFailed
)

func (r WriteResult) String() string {
	switch r {
	case WriteDone:
		return "done"
	case WriteBuffered:
		return "buffered"
	default:
		return "failed"
	}
}

// Event is a pending FSM input queued for dispatch after the current action
// completes (spec.md §3 `post`), or carried in a connection's pending queue
// (OPEN data, timer expiries, etc.). It is opaque to the connection core.
type Event struct {
	Kind string
	Data any
}

// Metrics is the optional observability hook the connection core reports
// write-buffer backpressure and open/close lifecycle events through. A nil
// Metrics (the default) disables reporting entirely; engine.NewConnection
// wires one in from engine.WithMetrics when configured.
type Metrics interface {
	// BackpressureEvent fires when a connection's write buffer transitions
	// from not-full to full.
	BackpressureEvent()
	// ConnectionOpened fires once Open succeeds.
	ConnectionOpened()
	// ConnectionClosed fires once Close actually tears down an open socket
	// (idempotent re-closes of an already-closed connection do not fire it).
	ConnectionClosed()
}

// FSM is the minimal callback surface the connection core drives (spec.md §6
// "FSM interface surfaced"). fsmiface.FSM is an alias for this type; the
// core only ever calls these five methods.
type FSM interface {
	// Dispatch delivers a fully framed, header-validated message. The FSM
	// must consume msg before Dispatch returns; the core reuses its backing
	// array for the next message.
	Dispatch(c *Connection, msg []byte)
	// HandleEvent delivers a pending-queue input (timer expiry, posted
	// event) drained by the ready queue.
	HandleEvent(c *Connection, ev Event)
	// IOError reports a read/write syscall failure. err wraps io.EOF for a
	// clean peer close (spec.md's io_error(0)).
	IOError(c *Connection, err error)
	// HeaderError reports a framing validation failure.
	HeaderError(c *Connection, err error)
	// SentNotification reports that a queued NOTIFICATION finished writing.
	SentNotification(c *Connection)
}

type wbuffer struct {
	base  []byte
	limit int
	pIn   int
	pOut  int
	full  bool
}

// Connection is private to the I/O engine: none of its fields require
// locking during ordinary operation (spec.md §3, §5). Only the handful of
// operations that reach into the shared Session (Open, Close, PartClose,
// MakePrimary, Sibling) acquire the session mutex.
type Connection struct {
	log *zerolog.Logger

	sess     *session.Session
	ordinal  session.Ordinal
	accepted bool

	state     State
	post      *Event
	fsmActive bool
	stopped   StopCause

	fsm     FSM
	sock    Socket
	open    bool
	metrics Metrics

	qfile ioselect.File
	sel   *ioselect.Selector
	rq    *ReadyQueue

	pile                   *qtimer.Pile
	holdTimer              qtimer.Timer
	keepaliveTimer         qtimer.Timer
	holdTimerInterval      uint16
	keepaliveTimerInterval uint16

	ibuf        []byte
	ibufLen     int
	readPending int
	readHeader  bool

	obuf    []byte
	obufLen int

	wbuff *wbuffer

	notification        []byte
	notificationPending bool

	openRecv          *session.OpenMessage
	suLocal, suRemote net.Addr

	host string
	err  error

	pendingQueue *pendingQueue

	// ready-queue intrusive links; both nil iff not queued (invariant 1).
	next, prev *Connection
}

func tagFor(o session.Ordinal) string {
	if o == session.Primary {
		return TagPrimary
	}
	return TagSecondary
}

// New creates a connection attached to sess at ordinal, implementing
// spec.md §4.1's init_new. Requires sess.Connections[ordinal] == nil; the
// session mutex is acquired for the duration.
func New(sess *session.Session, ordinal session.Ordinal, fsm FSM, sel *ioselect.Selector, pile *qtimer.Pile, rq *ReadyQueue, log *zerolog.Logger) (*Connection, error) {
	sess.Mu.Lock()
	defer sess.Mu.Unlock()

	if sess.Connections[ordinal] != nil {
		return nil, ErrSlotOccupied
	}
	if log == nil {
		log = sess.Logger()
	}

	c := &Connection{
		log:          log,
		sess:         sess,
		ordinal:      ordinal,
		accepted:     ordinal == session.Secondary,
		state:        Initial,
		stopped:      NotStopped,
		fsm:          fsm,
		sel:          sel,
		rq:           rq,
		pile:         pile,
		ibuf:         make([]byte, maxMsg),
		obuf:         make([]byte, maxMsg),
		pendingQueue: newPendingQueue(),
		host:         sess.Host + tagFor(ordinal),
	}
	c.holdTimer.InitNew(pile, c.onHoldExpire, c)
	c.keepaliveTimer.InitNew(pile, c.onKeepaliveExpire, c)
	sess.Connections[ordinal] = c
	return c, nil
}

// Ordinal reports whether c is currently the primary or secondary
// connection for its session. Satisfies session.ConnSlot.
func (c *Connection) Ordinal() session.Ordinal { return c.ordinal }

// Host returns the per-connection display string (session host + ordinal
// tag, or the bare session host once promoted).
func (c *Connection) Host() string { return c.host }

// State returns the connection's current FSM state as tracked by the core.
func (c *Connection) State() State { return c.state }

// SetState is called by the FSM to record its own transitions; the core
// only inspects Stopping.
func (c *Connection) SetState(s State) { c.state = s }

// Stopped returns the recorded stop cause (NotStopped if still running).
func (c *Connection) Stopped() StopCause { return c.stopped }

// Stop marks the connection Stopping with the given cause so the ready
// queue reaps it on its next pass.
func (c *Connection) Stop(cause StopCause) {
	c.state = Stopping
	c.stopped = cause
	if c.rq != nil {
		c.rq.Add(c)
	}
}

// Err returns the last I/O error recorded against the connection.
func (c *Connection) Err() error { return c.err }

// Accepted reports whether this connection resulted from an inbound accept.
func (c *Connection) Accepted() bool { return c.accepted }

// IsOpen reports whether the connection currently has a live socket
// registered with the selector (spec.md invariant 6's "Open..Established"
// substate, tracked here as a plain boolean independent of FSM state since
// close() preserves FSM state but unregisters the fd).
func (c *Connection) IsOpen() bool { return c.open }

// SetMetrics attaches m as the connection's observability hook. Passing nil
// disables reporting again.
func (c *Connection) SetMetrics(m Metrics) { c.metrics = m }

// Logger returns c's logger, with the connection's host attached as a field
// so log lines continue to identify it even after the session is gone
// (spec.md §9 "host string lifetime").
func (c *Connection) Logger() zerolog.Logger {
	return c.log.With().Str("conn", c.host).Logger()
}

// Open installs sock into the connection, implementing spec.md §4.1's
// open(fd). Requires the connection to be freshly initialised or closed.
func (c *Connection) Open(sock Socket) error {
	c.sess.Mu.Lock()
	defer c.sess.Mu.Unlock()

	if c.open {
		return ErrAlreadyOpen
	}

	fd, err := rawFD(sock)
	if err != nil {
		return fmt.Errorf("conn: open: %w", err)
	}
	if err := c.sel.AddFile(&c.qfile, fd, c); err != nil {
		return fmt.Errorf("conn: open: register selector: %w", err)
	}
	if err := c.sel.EnableMode(&c.qfile, ioselect.Read, func(*ioselect.File, ioselect.Mode) {
		c.readAction()
	}); err != nil {
		_ = c.sel.RemoveFile(&c.qfile)
		return fmt.Errorf("conn: open: enable read: %w", err)
	}

	c.sock = sock
	c.open = true
	c.post = nil
	c.err = nil
	c.stopped = NotStopped
	c.openRecv = nil
	c.notification = nil
	c.notificationPending = false
	c.holdTimerInterval = c.sess.HoldTimerInterval
	c.keepaliveTimerInterval = c.sess.KeepaliveTimerInterval

	if c.ordinal == session.Secondary {
		c.sess.Accept = false
	}
	if c.metrics != nil {
		c.metrics.ConnectionOpened()
	}
	return nil
}

// Close idempotently tears down the socket side of the connection,
// implementing spec.md §4.1's close(). FSM state, session linkage, timer
// allocation, buffer storage, host/log, openRecv, notification and stopped
// cause are all preserved.
func (c *Connection) Close() {
	c.sess.Mu.Lock()
	defer c.sess.Mu.Unlock()
	c.closeLocked()
}

func (c *Connection) closeLocked() {
	if !c.open {
		return
	}
	_ = c.sel.RemoveFile(&c.qfile)
	if c.sock != nil {
		_ = c.sock.Close()
		c.sock = nil
	}
	c.holdTimer.Unset()
	c.keepaliveTimer.Unset()

	c.ibufLen = 0
	c.readPending = 0
	c.readHeader = false
	c.obufLen = 0
	if c.wbuff != nil {
		c.wbuff.pIn, c.wbuff.pOut = 0, 0
		c.wbuff.full = false
	}
	c.pendingQueue.Clear()
	c.suLocal, c.suRemote = nil, nil
	c.open = false
	if c.metrics != nil {
		c.metrics.ConnectionClosed()
	}
}

// PartClose half-closes the read side while preserving a bounded write
// window for a final NOTIFICATION, implementing spec.md §4.1's part_close.
func (c *Connection) PartClose() error {
	c.sess.Mu.Lock()
	defer c.sess.Mu.Unlock()

	if !c.open || c.sock == nil {
		return nil
	}
	if err := c.sock.CloseRead(); err != nil {
		return fmt.Errorf("conn: part_close: %w", err)
	}
	if err := c.sel.DisableModes(&c.qfile, ioselect.Read); err != nil {
		return fmt.Errorf("conn: part_close: %w", err)
	}

	c.ibufLen = 0
	c.readPending = 0
	c.readHeader = false
	c.obufLen = 0

	if c.wbuff != nil {
		c.purgeToBoundary()
	}
	c.pendingQueue.Clear()
	return nil
}

// purgeToBoundary implements spec.md §4.1's part_close write-buffer purge:
// walk whole-message lengths from the buffer's start until the message
// straddling p_out is found, keeping only that partial message at the
// front of the buffer. Grounded on the original's bgp_msg_get_mlen walk.
func (c *Connection) purgeToBoundary() {
	w := c.wbuff
	p := 0
	for p < w.pOut {
		mlen := int(wire.MessageLen(w.base[p:]))
		if mlen == 0 || p+mlen > w.pOut {
			break
		}
		p += mlen
	}
	if p == w.pOut {
		w.pIn, w.pOut = 0, 0
	} else {
		mlen := int(wire.MessageLen(w.base[p:]))
		n := transfer(w.base, 0, w.base[p:p+mlen])
		w.pOut = w.pOut - p
		w.pIn = n
	}
	w.full = false
}

// Free releases all owned memory, implementing spec.md §9's fully-designed
// replacement for the original's bgp_connection_free stub. Requires
// state==Stopping and that the connection has already been detached from
// its session and is not on the ready queue.
func (c *Connection) Free() error {
	if c.state != Stopping {
		return ErrNotStopping
	}
	if c.sess != nil {
		return ErrNotDetached
	}
	if c.next != nil || c.prev != nil {
		return ErrStillQueued
	}
	c.holdTimer.Unset()
	c.keepaliveTimer.Unset()
	c.ibuf = nil
	c.obuf = nil
	if c.wbuff != nil {
		c.wbuff.base = nil
		c.wbuff = nil
	}
	c.host = ""
	c.openRecv = nil
	c.notification = nil
	c.pendingQueue = nil
	return nil
}

// Detach clears the back-reference to the session, satisfying Free's
// precondition. Call after removing the connection from
// session.Connections (normally done by MakePrimary for the loser, or by
// the control engine when tearing a session down).
func (c *Connection) Detach() { c.sess = nil }

// MakePrimary promotes c to primary after the FSM resolves a collision in
// its favour, implementing spec.md §4.1's make_primary.
func (c *Connection) MakePrimary() {
	c.sess.Mu.Lock()
	defer c.sess.Mu.Unlock()

	if c.ordinal != session.Primary {
		c.ordinal = session.Primary
		c.sess.Connections[session.Primary] = c
	}
	c.sess.Connections[session.Secondary] = nil

	c.sess.OpenRecv = c.openRecv
	c.openRecv = nil
	c.sess.SuLocal = c.suLocal
	c.sess.SuRemote = c.suRemote
	c.suLocal, c.suRemote = nil, nil

	c.sess.HoldTimerInterval = c.holdTimerInterval
	// Corrected from the original's self-assignment bug: copy from the
	// connection, symmetric with HoldTimerInterval above.
	c.sess.KeepaliveTimerInterval = c.keepaliveTimerInterval

	c.host = c.sess.Host
}

// Sibling returns the connection's counterpart on the same session
// (ordinal^1), or nil if none, implementing spec.md §4.1's get_sibling.
func (c *Connection) Sibling() *Connection {
	c.sess.Mu.Lock()
	defer c.sess.Mu.Unlock()

	slot := c.sess.Connections[c.ordinal.Sibling()]
	if slot == nil {
		return nil
	}
	return slot.(*Connection)
}

func (c *Connection) onHoldExpire(*qtimer.Timer, any) {
	c.PostEvent(Event{Kind: "hold_timer_expired"})
}

func (c *Connection) onKeepaliveExpire(*qtimer.Timer, any) {
	c.PostEvent(Event{Kind: "keepalive_timer_expired"})
}

// PostEvent appends ev to the connection's pending queue and schedules it
// on the ready queue for drain.
func (c *Connection) PostEvent(ev Event) {
	c.pendingQueue.Push(ev)
	if c.rq != nil {
		c.rq.Add(c)
	}
}

// reset tears the connection down for reaping by the ready queue (the
// C original's reset(head)): closes the socket and disarms timers but does
// not free memory or detach from the session — that remains the control
// engine's call via Detach+Free.
func (c *Connection) reset() {
	c.Close()
}
