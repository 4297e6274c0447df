//go:build linux

package port

import (
	"errors"
	"fmt"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// fdSetSize is the number of descriptors an FdSet holds (FD_SETSIZE).
const fdSetSize = int(unsafe.Sizeof(unix.FdSet{})) * 8

// fdEngine waits on a file descriptor with select(2). A pipe is part of every
// select so CancelWait can wake up a blocked wait.
type fdEngine struct {
	core         *Base
	fd           int
	wakeR, wakeW int
	readTimeout  time.Duration
	writeTimeout time.Duration
}

func newFdEngine(core *Base) fdEngine {
	return fdEngine{core: core, fd: -1, wakeR: -1, wakeW: -1}
}

func (e *fdEngine) isOpen() bool { return e.fd >= 0 }

// open opens path non blocking and creates the wake pipe.
func (e *fdEngine) open(path string) error {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_NOCTTY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return fmt.Errorf("port: open %s: %w", path, err)
	}

	var pipe [2]int
	if err := unix.Pipe2(pipe[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		_ = unix.Close(fd)
		return fmt.Errorf("port: create wake pipe: %w", err)
	}

	e.fd = fd
	e.wakeR, e.wakeW = pipe[0], pipe[1]

	return nil
}

func (e *fdEngine) close() error {
	var err error
	if e.fd >= 0 {
		err = unix.Close(e.fd)
		e.fd = -1
	}
	for _, fd := range []*int{&e.wakeR, &e.wakeW} {
		if *fd >= 0 {
			_ = unix.Close(*fd)
			*fd = -1
		}
	}

	return err
}

func (e *fdEngine) cancelWait() {
	if e.wakeW >= 0 {
		_, _ = unix.Write(e.wakeW, []byte{1})
	}
}

func (e *fdEngine) drainWake() {
	var buf [16]byte
	for {
		n, err := unix.Read(e.wakeR, buf[:])
		if n <= 0 || err != nil {
			return
		}
	}
}

// wait blocks in select until fd is ready for the given direction, the wake
// pipe is written or timeout elapses. The backend lock is released during
// select. It returns ready=false on timeout.
func (e *fdEngine) wait(write bool, timeout time.Duration) (bool, error) {
	if e.fd < 0 {
		return false, ErrNotOpen
	}

	fd, wakeR := e.fd, e.wakeR
	nfd := max(fd, wakeR) + 1
	if nfd > fdSetSize {
		return false, fmt.Errorf("port: descriptor %d beyond the select limit of %d", nfd-1, fdSetSize)
	}

	e.core.Unlock()
	defer e.core.Lock()

	deadline := time.Now().Add(timeout)
	for {
		var rset, wset unix.FdSet
		rset.Set(wakeR)
		if write {
			wset.Set(fd)
		} else {
			rset.Set(fd)
		}

		remaining := time.Until(deadline)
		if remaining < 0 {
			remaining = 0
		}
		tv := unix.NsecToTimeval(remaining.Nanoseconds())

		n, err := unix.Select(nfd, &rset, &wset, nil, &tv)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if errors.Is(err, unix.EBADF) {
			return false, ErrDisconnected
		}
		if err != nil {
			return false, fmt.Errorf("port: select: %w", err)
		}
		if n == 0 {
			return false, nil
		}
		if rset.IsSet(wakeR) {
			e.drainWake()
			return false, ErrWaitCanceled
		}

		return true, nil
	}
}

func (e *fdEngine) waitForReadable() error {
	e.core.SetReadTimeoutOccurred(false)

	ready, err := e.wait(false, e.readTimeout)
	if err != nil {
		return err
	}
	if !ready {
		e.core.SetReadTimeoutOccurred(true)
	}

	return nil
}

func (e *fdEngine) waitForWritable() error {
	e.core.SetWriteTimeoutOccurred(false)

	ready, err := e.wait(true, e.writeTimeout)
	if err != nil {
		return err
	}
	if !ready {
		e.core.SetWriteTimeoutOccurred(true)
	}

	return nil
}

// isGone reports errors meaning the device disappeared.
func isGone(err error) bool {
	return errors.Is(err, unix.EIO) || errors.Is(err, unix.ENODEV) ||
		errors.Is(err, unix.ENXIO) || errors.Is(err, unix.EBADF)
}

// read reads available bytes. select reported the descriptor readable, so a
// zero length read means the other end hung up.
func (e *fdEngine) read(buf []byte) (int, error) {
	if e.fd < 0 {
		return 0, ErrNotOpen
	}

	n, err := unix.Read(e.fd, buf)
	switch {
	case errors.Is(err, unix.EAGAIN), errors.Is(err, unix.EINTR):
		return 0, nil
	case err != nil && isGone(err):
		return 0, fmt.Errorf("%w: %w", ErrDisconnected, err)
	case err != nil:
		return 0, fmt.Errorf("port: read: %w", err)
	case n == 0:
		return 0, ErrDisconnected
	}

	return n, nil
}

func (e *fdEngine) write(buf []byte) (int, error) {
	if e.fd < 0 {
		return 0, ErrNotOpen
	}

	n, err := unix.Write(e.fd, buf)
	switch {
	case errors.Is(err, unix.EAGAIN), errors.Is(err, unix.EINTR):
		return 0, nil
	case err != nil && isGone(err):
		return 0, fmt.Errorf("%w: %w", ErrDisconnected, err)
	case err != nil:
		return 0, fmt.Errorf("port: write: %w", err)
	}

	return max(n, 0), nil
}
