//go:build !linux

package ioselect

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// pollBackend is a poll(2)-based fallback for platforms without epoll. It
// rebuilds the pollfd slice on every wait, which is fine for
// the connection counts a single BGP I/O engine realistically manages.
type pollBackend struct {
	files map[int]*File
}

func newBackend() (backend, error) {
	return &pollBackend{files: make(map[int]*File)}, nil
}

func (b *pollBackend) add(fd int, f *File) error {
	b.files[fd] = f
	return nil
}

func (b *pollBackend) modify(fd int, f *File, want Mode) error {
	return nil // want is read off File.enabled directly in wait()
}

func (b *pollBackend) remove(fd int) error {
	delete(b.files, fd)
	return nil
}

func (b *pollBackend) wait(timeoutMs int, deliver func(f *File, mode Mode)) error {
	if len(b.files) == 0 {
		return nil
	}

	fds := make([]unix.PollFd, 0, len(b.files))
	order := make([]*File, 0, len(b.files))
	for fd, f := range b.files {
		var events int16
		if f.enabled&Read != 0 {
			events |= unix.POLLIN
		}
		if f.enabled&Write != 0 {
			events |= unix.POLLOUT
		}
		fds = append(fds, unix.PollFd{Fd: int32(fd), Events: events})
		order = append(order, f)
	}

	for {
		_, err := unix.Poll(fds, timeoutMs)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return fmt.Errorf("ioselect: poll: %w", err)
		}
		break
	}

	for i, pfd := range fds {
		f := order[i]
		var mode Mode
		if pfd.Revents&(unix.POLLIN|unix.POLLHUP|unix.POLLERR) != 0 {
			mode |= Read
		}
		if pfd.Revents&(unix.POLLOUT|unix.POLLERR) != 0 {
			mode |= Write
		}
		if mode != 0 {
			deliver(f, mode)
		}
	}
	return nil
}

func (b *pollBackend) close() error {
	return nil
}
