// Package ioselect implements the non-blocking fd-readiness selector the
// connection core consumes: add_file/remove_file/enable_mode/disable_modes
// /file_fd/unset_fd (spec §6 "Selector interface consumed"). A single
// Selector is a single-threaded resource of one I/O engine; it must only be
// driven from that engine's goroutine.
package ioselect

import (
	"errors"
	"fmt"
	"time"
)

// Mode is a readiness bit mask.
type Mode uint8

const (
	// Read is file-readable readiness.
	Read Mode = 1 << iota
	// Write is file-writable readiness.
	Write
)

func (m Mode) String() string {
	switch m {
	case 0:
		return "none"
	case Read:
		return "read"
	case Write:
		return "write"
	case Read | Write:
		return "read|write"
	default:
		return fmt.Sprintf("mode(%d)", uint8(m))
	}
}

// Callback is invoked by Selector.Poll when a registered mode becomes ready.
type Callback func(f *File, mode Mode)

// ErrNoFD is returned by operations that require a registered fd when the
// File has none.
var ErrNoFD = errors.New("ioselect: file has no fd")

// ErrClosed is returned by operations on a closed Selector.
var ErrClosed = errors.New("ioselect: selector closed")

// File is the qfile handle registered with a Selector: it carries the fd and
// the read/write enable bits, exactly as spec §3 describes. The zero File is
// a valid, unregistered qfile.
type File struct {
	fd      int
	enabled Mode
	onRead  Callback
	onWrite Callback
	userptr any // opaque context, e.g. the owning *conn.Connection

	// sel is the owning Selector's backend, nil while unregistered; only
	// that Selector touches it. Backends locate Files through their own
	// fd-keyed maps, and idx is not read by any backend.
	sel backend
	idx int
}

// Fd returns the file's current fd, or -1 if unset.
func (f *File) Fd() int {
	if f.sel == nil {
		return -1
	}
	return f.fd
}

// Registered reports whether the file is currently registered with a Selector.
func (f *File) Registered() bool {
	return f.sel != nil
}

// Userptr returns the opaque context passed to Selector.AddFile.
func (f *File) Userptr() any {
	return f.userptr
}

// backend is the platform-specific poller. Selector wraps it with the
// bookkeeping (enabled bits, callbacks) that is common to every platform.
// timeoutMs<0 blocks indefinitely; 0 polls without blocking.
type backend interface {
	add(fd int, f *File) error
	modify(fd int, f *File, want Mode) error
	remove(fd int) error
	wait(timeoutMs int, cb func(f *File, mode Mode)) error
	close() error
}

// Selector multiplexes read/write readiness across many registered Files.
// It is not safe for concurrent use: exactly one goroutine (the owning I/O
// engine) may call its methods.
type Selector struct {
	b      backend
	closed bool
}

// New returns a new Selector using the best backend available on this platform.
func New() (*Selector, error) {
	b, err := newBackend()
	if err != nil {
		return nil, err
	}
	return &Selector{b: b}, nil
}

// AddFile registers fd with the selector and attaches userptr as opaque
// context retrievable via File.Userptr. The file starts with no readiness
// modes enabled. Mirrors add_file(selector, qfile, fd, ctx).
func (s *Selector) AddFile(f *File, fd int, userptr any) error {
	if s.closed {
		return ErrClosed
	}
	*f = File{fd: fd, userptr: userptr, sel: s.b}
	return s.b.add(fd, f)
}

// RemoveFile unregisters f from the selector. Mirrors remove_file.
func (s *Selector) RemoveFile(f *File) error {
	if !f.Registered() {
		return nil
	}
	err := s.b.remove(f.fd)
	f.sel = nil
	f.enabled = 0
	f.onRead, f.onWrite = nil, nil
	return err
}

// EnableMode enables the given readiness mode(s) on f, installing cb as the
// callback Poll invokes when that mode fires. Mirrors
// enable_mode(qfile, READ|WRITE, callback).
func (s *Selector) EnableMode(f *File, mode Mode, cb Callback) error {
	if !f.Registered() {
		return ErrNoFD
	}
	if mode&Read != 0 {
		f.onRead = cb
	}
	if mode&Write != 0 {
		f.onWrite = cb
	}
	want := f.enabled | mode
	if want == f.enabled {
		return nil
	}
	f.enabled = want
	return s.b.modify(f.fd, f, f.enabled)
}

// DisableModes clears the given readiness mode(s) on f. Mirrors
// disable_modes(qfile, mask).
func (s *Selector) DisableModes(f *File, mask Mode) error {
	if !f.Registered() {
		return ErrNoFD
	}
	want := f.enabled &^ mask
	if want == f.enabled {
		return nil
	}
	f.enabled = want
	return s.b.modify(f.fd, f, f.enabled)
}

// FileFD returns f's fd, or -1 if unset. Mirrors file_fd(qfile).
func (s *Selector) FileFD(f *File) int {
	return f.Fd()
}

// UnsetFD unregisters f from the selector exactly as RemoveFile does and
// returns the previous fd, or -1 if there was none. The fd itself is not
// closed; the caller is responsible for shutting it down. Mirrors
// unset_fd(qfile).
func (s *Selector) UnsetFD(f *File) int {
	if !f.Registered() {
		return -1
	}
	old := f.fd
	_ = s.RemoveFile(f)
	return old
}

// Poll blocks until at least one registered File becomes ready and invokes
// the enabled callbacks for each ready File/mode pair. It is the engine's
// job to call Poll in a loop.
func (s *Selector) Poll() error {
	return s.PollTimeout(-1)
}

// PollTimeout behaves like Poll but returns after timeout if nothing became
// ready, so the engine can still service expiring timers when no fd is
// readable. timeout<0 blocks indefinitely; timeout==0 polls without
// blocking.
func (s *Selector) PollTimeout(timeout time.Duration) error {
	if s.closed {
		return ErrClosed
	}
	ms := -1
	if timeout >= 0 {
		ms = int(timeout / time.Millisecond)
	}
	return s.b.wait(ms, func(f *File, mode Mode) {
		if mode&Read != 0 && f.enabled&Read != 0 && f.onRead != nil {
			f.onRead(f, Read)
		}
		if mode&Write != 0 && f.enabled&Write != 0 && f.onWrite != nil {
			f.onWrite(f, Write)
		}
	})
}

// Close releases the selector's OS resources.
func (s *Selector) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.b.close()
}
