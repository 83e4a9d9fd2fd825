// Package engine implements the single-threaded I/O engine: the event loop
// that owns the fd selector, the timer pile and the ready queue, and drives
// conn.Connection callbacks (spec.md §2, §5). The control engine (session
// creation, routing policy) is out of this core's scope; Engine exposes
// just enough (NewSession/Session/RemoveSession/NewConnection) for a
// surrounding daemon to register peers.
package engine

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/bgpfix/bgpconn/conn"
	"github.com/bgpfix/bgpconn/internal/metrics"
	"github.com/bgpfix/bgpconn/ioselect"
	"github.com/bgpfix/bgpconn/qtimer"
	"github.com/bgpfix/bgpconn/session"
)

// ReadyQueue is the I/O engine's ready-queue type. It must live in package
// conn (it manipulates Connection's unexported next/prev links); this
// alias lets callers spell it engine.ReadyQueue as the package layout
// describes, without a second implementation.
type ReadyQueue = conn.ReadyQueue

// maxPoll bounds how long a single selector wait can run when no timer is
// armed, so the loop still notices ctx cancellation promptly.
const maxPoll = time.Second

// Engine is a single-threaded BGP I/O engine: exactly one goroutine may
// call Run, and Run is the only goroutine that may touch the selector,
// timer pile or ready queue.
type Engine struct {
	log *zerolog.Logger

	sel  *ioselect.Selector
	pile *qtimer.Pile
	rq   *ReadyQueue
	fsm  conn.FSM

	sessions *xsync.MapOf[string, *session.Session]

	// acceptLimiter rate-limits inbound (secondary, colliding) connection
	// attempts. One limiter is shared by every host; attempts are not
	// limited per peer.
	acceptLimiter *rate.Limiter

	metrics *metrics.Collectors
}

// Option configures an Engine at construction time, the teacher's
// functional-options idiom (speaker.Options).
type Option func(*Engine)

// WithLogger attaches a logger; a nil logger (the default) falls back to
// zerolog.Nop(), matching speaker.NewSpeaker's idiom.
func WithLogger(log *zerolog.Logger) Option {
	return func(e *Engine) { e.log = log }
}

// WithAcceptRate overrides the default inbound-collision accept rate limit.
func WithAcceptRate(r rate.Limit, burst int) Option {
	return func(e *Engine) { e.acceptLimiter = rate.NewLimiter(r, burst) }
}

// WithMetrics attaches a metrics collector set; nil (the default) disables
// metrics entirely.
func WithMetrics(m *metrics.Collectors) Option {
	return func(e *Engine) { e.metrics = m }
}

// New constructs an Engine driving fsm. The selector backend is chosen per
// platform by ioselect.New (epoll on Linux, poll(2) elsewhere).
func New(fsm conn.FSM, opts ...Option) (*Engine, error) {
	sel, err := ioselect.New()
	if err != nil {
		return nil, fmt.Errorf("engine: new: %w", err)
	}

	e := &Engine{
		sel:           sel,
		pile:          qtimer.NewPile(),
		rq:            &ReadyQueue{},
		fsm:           fsm,
		sessions:      xsync.NewMapOf[string, *session.Session](),
		acceptLimiter: rate.NewLimiter(rate.Limit(5), 10),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.log == nil {
		nop := zerolog.Nop()
		e.log = &nop
	}
	return e, nil
}

// Selector returns the engine's fd-readiness selector, for conn.New's
// selector argument.
func (e *Engine) Selector() *ioselect.Selector { return e.sel }

// Pile returns the engine's timer pile, for conn.New's pile argument.
func (e *Engine) Pile() *qtimer.Pile { return e.pile }

// ReadyQueue returns the engine's ready queue, for conn.New's rq argument.
func (e *Engine) ReadyQueue() *ReadyQueue { return e.rq }

// NewSession creates and registers a Session for host, returning the
// existing one if host is already registered.
func (e *Engine) NewSession(host string) *session.Session {
	sess, _ := e.sessions.LoadOrCompute(host, func() *session.Session {
		return session.New(host, e.log)
	})
	return sess
}

// Session looks up a previously registered session by host.
func (e *Engine) Session(host string) (*session.Session, bool) {
	return e.sessions.Load(host)
}

// RemoveSession drops host's session from the registry. Callers must have
// already torn down (Close/Detach/Free) any connections on it.
func (e *Engine) RemoveSession(host string) {
	e.sessions.Delete(host)
}

// AcceptInbound is called by the surrounding daemon's accept() loop for an
// inbound TCP connection from host. It enforces the rate limit described in
// the DOMAIN STACK section (golang.org/x/time/rate): a flapping peer cannot
// trigger an unbounded number of colliding secondary connections per
// second. It returns ok=false if the attempt should be dropped.
func (e *Engine) AcceptInbound(host string) bool {
	if !e.acceptLimiter.Allow() {
		e.log.Warn().Str("host", host).Msg("inbound connection rate-limited")
		if e.metrics != nil {
			e.metrics.CollisionsRateLimited.Inc()
		}
		return false
	}
	sess, ok := e.sessions.Load(host)
	if ok {
		sess.Mu.Lock()
		accept := sess.Accept
		sess.Mu.Unlock()
		if !accept {
			return false
		}
	}
	return true
}

// NewConnection creates a connection on sess at ordinal wired to this
// engine's selector, timer pile and ready queue, implementing conn.New
// with the engine's own resources filled in. If the engine was built with
// WithMetrics, the new connection reports through the same collector set.
func (e *Engine) NewConnection(sess *session.Session, ordinal session.Ordinal) (*conn.Connection, error) {
	c, err := conn.New(sess, ordinal, e.fsm, e.sel, e.pile, e.rq, e.log)
	if err != nil {
		return nil, err
	}
	if e.metrics != nil {
		c.SetMetrics(e.metrics)
	}
	return c, nil
}

// DumpStatusJSON returns a JSON array holding one DumpJSON snapshot per
// connection across every registered session, for the demo binary's
// /status diagnostics handler.
func (e *Engine) DumpStatusJSON() []byte {
	dst := []byte{'['}
	first := true
	e.sessions.Range(func(_ string, sess *session.Session) bool {
		sess.Mu.Lock()
		defer sess.Mu.Unlock()
		for _, slot := range sess.Connections {
			c, ok := slot.(*conn.Connection)
			if !ok {
				continue
			}
			if !first {
				dst = append(dst, ',')
			}
			first = false
			dst = c.DumpJSON(dst)
		}
		return true
	})
	dst = append(dst, ']')
	return dst
}

// Run drives the engine's event loop until ctx is cancelled: the ready
// queue is serviced at the highest priority (spec.md §4.4 — "before
// polling for new I/O, existing ready connections are fully serviced"),
// then the selector is polled (bounded by the next timer deadline, if any),
// then any expired timers fire.
func (e *Engine) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		e.rq.Process()
		if e.metrics != nil {
			e.metrics.ReadyQueueDepth.Set(float64(e.rq.Len()))
		}

		timeout := e.pollTimeout()
		if err := e.sel.PollTimeout(timeout); err != nil {
			return fmt.Errorf("engine: poll: %w", err)
		}
		e.pile.Poll(time.Now())
	}
}

func (e *Engine) pollTimeout() time.Duration {
	deadline, ok := e.pile.NextDeadline()
	if !ok {
		return maxPoll
	}
	d := time.Until(deadline)
	if d < 0 {
		return 0
	}
	if d > maxPoll {
		return maxPoll
	}
	return d
}

// DialTCP is a small convenience wrapper used by the demo binary to obtain
// a conn.Socket from an outbound TCP dial; production callers may instead
// hand a socket obtained elsewhere (e.g. from accept()) straight to
// Connection.Open, since conn.Socket is satisfied by any *net.TCPConn.
func DialTCP(ctx context.Context, addr string) (conn.Socket, error) {
	var d net.Dialer
	c, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	tc, ok := c.(*net.TCPConn)
	if !ok {
		_ = c.Close()
		return nil, fmt.Errorf("engine: dial: unexpected conn type %T", c)
	}
	return tc, nil
}
