package conn

import (
	"errors"
	"net"
	"syscall"
	"time"
)

// Socket is the stream-socket contract spec.md §6 requires: a TCP
// connection already placed in non-blocking mode by the caller, supporting
// a read-side half-close. *net.TCPConn satisfies it natively; tests supply
// an in-memory fake or a loopback TCP connection.
type Socket interface {
	net.Conn
	CloseRead() error
	CloseWrite() error
}

type syscallConner interface {
	SyscallConn() (syscall.RawConn, error)
}

var errNoSyscallConn = errors.New("conn: socket does not expose a raw file descriptor")

// rawFD extracts the file descriptor underlying s for registration with an
// ioselect.Selector. Called once, from Connection.Open.
func rawFD(s Socket) (int, error) {
	sc, ok := s.(syscallConner)
	if !ok {
		return -1, errNoSyscallConn
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return -1, err
	}
	var fd int
	if cerr := raw.Control(func(p uintptr) { fd = int(p) }); cerr != nil {
		return -1, cerr
	}
	return fd, nil
}

// errAgain is the sentinel tryRead/tryWrite return in place of a deadline
// timeout, so the rest of the package can test for it with errors.Is
// regardless of which net.Error implementation produced the timeout.
var errAgain = errors.New("conn: would block")

func wouldBlock(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// tryRead attempts a single non-blocking read: it arms an already-elapsed
// read deadline so Read returns immediately instead of parking a goroutine,
// then maps a resulting timeout to errAgain (the EAGAIN/EWOULDBLOCK
// equivalent spec.md §4.3 expects the framer to back off on).
func tryRead(s Socket, b []byte) (int, error) {
	if err := s.SetReadDeadline(time.Now()); err != nil {
		return 0, err
	}
	n, err := s.Read(b)
	if err != nil && wouldBlock(err) {
		return n, errAgain
	}
	return n, err
}

// tryWrite is tryRead's write-side counterpart, backing spec.md §4.2's
// direct-flush and write_action paths.
func tryWrite(s Socket, b []byte) (int, error) {
	if err := s.SetWriteDeadline(time.Now()); err != nil {
		return 0, err
	}
	n, err := s.Write(b)
	if err != nil && wouldBlock(err) {
		return n, errAgain
	}
	return n, err
}
