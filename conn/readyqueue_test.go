package conn

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func bareConnForQueue(t *testing.T) *Connection {
	t.Helper()
	c, _, cleanup := newBareConnection(t, &fakeFSM{})
	t.Cleanup(cleanup)
	return c
}

// Property 1: queue-membership duality. next==nil iff prev==nil iff the
// connection is not on the ready queue.
func TestReadyQueue_MembershipDuality(t *testing.T) {
	q := &ReadyQueue{}
	c := bareConnForQueue(t)

	require.Nil(t, c.next)
	require.Nil(t, c.prev)

	q.Add(c)
	require.NotNil(t, c.next)
	require.NotNil(t, c.prev)

	q.Remove(c)
	require.Nil(t, c.next)
	require.Nil(t, c.prev)
}

func TestReadyQueue_AddIdempotent(t *testing.T) {
	q := &ReadyQueue{}
	c := bareConnForQueue(t)

	q.Add(c)
	next, prev := c.next, c.prev
	q.Add(c) // already queued: no-op
	require.Same(t, next, c.next)
	require.Same(t, prev, c.prev)
	require.Equal(t, 1, q.Len())
}

func TestReadyQueue_RemoveNotQueuedIsNoop(t *testing.T) {
	q := &ReadyQueue{}
	c := bareConnForQueue(t)
	q.Remove(c) // never added
	require.Nil(t, c.next)
	require.Equal(t, 0, q.Len())
}

// Property 2: ready-queue closure. Starting from head and following next
// exactly N times (N = number of queued connections) returns to head.
func TestReadyQueue_RingClosure(t *testing.T) {
	q := &ReadyQueue{}
	conns := make([]*Connection, 4)
	for i := range conns {
		conns[i] = bareConnForQueue(t)
		q.Add(conns[i])
	}
	require.Equal(t, 4, q.Len())

	cur := q.Head()
	for i := 0; i < 4; i++ {
		cur = cur.next
	}
	require.Same(t, q.Head(), cur)

	// Removing one element preserves closure over the remainder.
	q.Remove(conns[2])
	require.Equal(t, 3, q.Len())
	cur = q.Head()
	for i := 0; i < 3; i++ {
		cur = cur.next
	}
	require.Same(t, q.Head(), cur)
}

func TestReadyQueue_ProcessReapsStoppedConnections(t *testing.T) {
	q := &ReadyQueue{}
	c := bareConnForQueue(t)
	c.rq = q
	c.Stop(StoppedFSM)
	require.Equal(t, 1, q.Len())

	q.Process()
	require.Equal(t, 0, q.Len())
	require.False(t, c.IsOpen())
}

func TestReadyQueue_ProcessDrainsPendingQueue(t *testing.T) {
	fsm := &fakeFSM{}
	q := &ReadyQueue{}
	c, _, cleanup := newBareConnection(t, fsm)
	defer cleanup()
	c.rq = q
	c.state = Established

	c.PostEvent(Event{Kind: "keepalive_timer_expired"})
	c.PostEvent(Event{Kind: "hold_timer_expired"})
	require.Equal(t, 1, q.Len()) // PostEvent only Adds once per already-queued conn

	q.Process()
	require.Equal(t, 0, q.Len())
	require.Len(t, fsm.events, 2)
	require.Equal(t, "keepalive_timer_expired", fsm.events[0].Kind)
	require.Equal(t, "hold_timer_expired", fsm.events[1].Kind)
}

func TestReadyQueue_ProcessLeavesFullConnectionQueued(t *testing.T) {
	fsm := &fakeFSM{}
	q := &ReadyQueue{}
	c, sock, cleanup := newBareConnection(t, fsm)
	defer cleanup()
	c.rq = q
	c.state = Established

	sock.writeAccept = 0
	for i := 0; i < 10; i++ {
		_, err := c.Write(updateMsg(maxMsg - headLen))
		require.NoError(t, err)
	}
	require.True(t, c.Full())

	c.PostEvent(Event{Kind: "keepalive_timer_expired"})
	q.Process()

	// drainPending bails out as soon as Full() is true, before popping.
	require.Equal(t, 1, q.Len())
	require.Empty(t, fsm.events)
}

// dispatchEvent's fsm_active reentrancy guard: an event posted while the
// FSM callback for another event is still running is queued in c.post and
// delivered immediately after the running callback returns, rather than
// being dropped or reordered ahead of events already queued.
func TestDispatchEvent_ReentrancyGuard(t *testing.T) {
	c := bareConnForQueue(t)
	var order []string
	reentrant := &reentrantFSM{
		onEvent: func(c *Connection, ev Event) {
			order = append(order, "start:"+ev.Kind)
			if ev.Kind == "a" {
				c.dispatchEvent(Event{Kind: "nested"})
			}
			order = append(order, "end:"+ev.Kind)
		},
	}
	c.fsm = reentrant

	c.dispatchEvent(Event{Kind: "a"})
	require.Equal(t, []string{"start:a", "end:a", "start:nested", "end:nested"}, order)
	require.False(t, c.fsmActive)
	require.Nil(t, c.post)
}

type reentrantFSM struct {
	onEvent func(c *Connection, ev Event)
}

func (f *reentrantFSM) Dispatch(*Connection, []byte)        {}
func (f *reentrantFSM) HandleEvent(c *Connection, ev Event) { f.onEvent(c, ev) }
func (f *reentrantFSM) IOError(*Connection, error)          {}
func (f *reentrantFSM) HeaderError(*Connection, error)      {}
func (f *reentrantFSM) SentNotification(*Connection)        {}

var _ FSM = (*reentrantFSM)(nil)
