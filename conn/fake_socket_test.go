package conn

import (
	"net"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bgpfix/bgpconn/ioselect"
	"github.com/bgpfix/bgpconn/qtimer"
	"github.com/bgpfix/bgpconn/session"
)

// fakeTimeoutErr implements net.Error with Timeout()==true, the signal
// tryRead/tryWrite map to errAgain.
type fakeTimeoutErr struct{}

func (fakeTimeoutErr) Error() string   { return "fake: i/o timeout" }
func (fakeTimeoutErr) Timeout() bool   { return true }
func (fakeTimeoutErr) Temporary() bool { return true }

type fakeAddr struct{}

func (fakeAddr) Network() string { return "fake" }
func (fakeAddr) String() string  { return "fake" }

// fakeSocket is a scriptable conn.Socket test double: reads and writes are
// served from in-memory queues instead of a real fd, so tests can drive the
// exact byte chunking and backpressure scenarios spec.md §8 describes
// without depending on OS socket-buffer timing.
type fakeSocket struct {
	readChunks [][]byte

	writeAccept int // bytes a single Write call accepts; -1 = unlimited
	written     []byte

	closed bool
}

func (f *fakeSocket) Read(b []byte) (int, error) {
	if len(f.readChunks) == 0 {
		return 0, fakeTimeoutErr{}
	}
	chunk := f.readChunks[0]
	n := copy(b, chunk)
	if n < len(chunk) {
		f.readChunks[0] = chunk[n:]
	} else {
		f.readChunks = f.readChunks[1:]
	}
	return n, nil
}

func (f *fakeSocket) Write(b []byte) (int, error) {
	n := len(b)
	if f.writeAccept >= 0 && f.writeAccept < n {
		n = f.writeAccept
	}
	f.written = append(f.written, b[:n]...)
	if f.writeAccept >= 0 {
		f.writeAccept -= n
	}
	return n, nil
}

func (f *fakeSocket) Close() error                     { f.closed = true; return nil }
func (f *fakeSocket) CloseRead() error                 { return nil }
func (f *fakeSocket) CloseWrite() error                { return nil }
func (f *fakeSocket) LocalAddr() net.Addr              { return fakeAddr{} }
func (f *fakeSocket) RemoteAddr() net.Addr             { return fakeAddr{} }
func (f *fakeSocket) SetDeadline(time.Time) error      { return nil }
func (f *fakeSocket) SetReadDeadline(time.Time) error  { return nil }
func (f *fakeSocket) SetWriteDeadline(time.Time) error { return nil }

// fakeFSM records every callback invocation for assertions.
type fakeFSM struct {
	dispatched  [][]byte
	events      []Event
	ioErrors    []error
	headerErrs  []error
	notifySent  int
}

func (f *fakeFSM) Dispatch(_ *Connection, msg []byte) {
	f.dispatched = append(f.dispatched, append([]byte(nil), msg...))
}
func (f *fakeFSM) HandleEvent(_ *Connection, ev Event) { f.events = append(f.events, ev) }
func (f *fakeFSM) IOError(_ *Connection, err error)    { f.ioErrors = append(f.ioErrors, err) }
func (f *fakeFSM) HeaderError(_ *Connection, err error) {
	f.headerErrs = append(f.headerErrs, err)
}
func (f *fakeFSM) SentNotification(_ *Connection) { f.notifySent++ }

var _ FSM = (*fakeFSM)(nil)

// newBareConnection builds a Connection wired to a real Selector (backed by
// an os.Pipe fd purely for epoll registration bookkeeping) and timer pile,
// but with a scriptable fakeSocket standing in for the network, bypassing
// New/Open so tests can drive write/read internals directly.
func newBareConnection(t *testing.T, fsm FSM) (*Connection, *fakeSocket, func()) {
	t.Helper()

	sess := session.New("peer", nil)
	sel, err := ioselect.New()
	require.NoError(t, err)
	pile := qtimer.NewPile()
	rq := &ReadyQueue{}

	r, w, err := os.Pipe()
	require.NoError(t, err)

	sock := &fakeSocket{writeAccept: -1}
	c := &Connection{
		log:          sess.Logger(),
		sess:         sess,
		ordinal:      session.Primary,
		state:        Initial,
		fsm:          fsm,
		sock:         sock,
		sel:          sel,
		rq:           rq,
		pile:         pile,
		open:         true,
		ibuf:         make([]byte, maxMsg),
		obuf:         make([]byte, maxMsg),
		pendingQueue: newPendingQueue(),
		host:         "peer" + TagPrimary,
	}
	c.holdTimer.InitNew(pile, c.onHoldExpire, c)
	c.keepaliveTimer.InitNew(pile, c.onKeepaliveExpire, c)
	require.NoError(t, sel.AddFile(&c.qfile, int(r.Fd()), c))
	sess.Connections[session.Primary] = c

	cleanup := func() {
		_ = sel.Close()
		_ = r.Close()
		_ = w.Close()
	}
	return c, sock, cleanup
}
