//go:build linux

package ws

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"
)

const (
	minEpollEvents = 128
	maxEpollEvents = 4096

	// waitTimeoutMs bounds each epoll_wait so the event loop notices
	// shutdown.
	waitTimeoutMs = 200
)

var errNoFD = errors.New("ws: connection has no file descriptor")

// Epoll is a level-triggered readiness poller over the players' sockets. An
// idle player between picks costs a registered descriptor, not a goroutine.
type Epoll struct {
	fd     int
	mu     sync.RWMutex
	byFD   map[int]net.Conn
	events []unix.EpollEvent
}

// NewEpoll creates the epoll instance.
func NewEpoll() (*Epoll, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("ws: epoll create: %w", err)
	}
	return &Epoll{
		fd:     fd,
		byFD:   make(map[int]net.Conn),
		events: make([]unix.EpollEvent, minEpollEvents),
	}, nil
}

// Add watches conn for input and for the peer hanging up.
func (e *Epoll) Add(conn net.Conn) error {
	fd, err := socketFD(conn)
	if err != nil {
		return err
	}
	ev := unix.EpollEvent{
		Events: unix.EPOLLIN | unix.EPOLLRDHUP | unix.EPOLLHUP,
		Fd:     int32(fd),
	}
	if err := unix.EpollCtl(e.fd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return fmt.Errorf("ws: epoll add fd %d: %w", fd, err)
	}

	e.mu.Lock()
	e.byFD[fd] = conn
	e.mu.Unlock()
	return nil
}

// Remove stops watching conn. The map entry is dropped even when the kernel
// already forgot a closed descriptor.
func (e *Epoll) Remove(conn net.Conn) error {
	fd, err := socketFD(conn)
	if err != nil {
		return err
	}

	e.mu.Lock()
	delete(e.byFD, fd)
	e.mu.Unlock()

	if err := unix.EpollCtl(e.fd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
		return fmt.Errorf("ws: epoll del fd %d: %w", fd, err)
	}
	return nil
}

// Wait blocks until some connections are readable, or waitTimeoutMs passes,
// and returns the ready ones. A full event buffer is doubled for the next
// call, up to maxEpollEvents.
func (e *Epoll) Wait() ([]net.Conn, error) {
	n, err := unix.EpollWait(e.fd, e.events, waitTimeoutMs)
	if err != nil {
		return nil, fmt.Errorf("ws: epoll wait: %w", err)
	}

	e.mu.RLock()
	ready := make([]net.Conn, 0, n)
	for _, ev := range e.events[:n] {
		if conn, ok := e.byFD[int(ev.Fd)]; ok {
			ready = append(ready, conn)
		}
	}
	e.mu.RUnlock()

	if n == len(e.events) && n < maxEpollEvents {
		e.events = make([]unix.EpollEvent, 2*n)
	}
	return ready, nil
}

// Resume does nothing on Linux; level-triggered registration stays armed.
func (e *Epoll) Resume(net.Conn) {}

// Close releases the epoll descriptor. A Wait in progress returns within
// waitTimeoutMs.
func (e *Epoll) Close() error {
	e.mu.Lock()
	e.byFD = map[int]net.Conn{}
	e.mu.Unlock()
	return unix.Close(e.fd)
}

// socketFD reads the descriptor through SyscallConn so it is not duplicated.
func socketFD(conn net.Conn) (int, error) {
	sc, ok := conn.(syscall.Conn)
	if !ok {
		return -1, errNoFD
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return -1, fmt.Errorf("ws: syscall conn: %w", err)
	}

	fd := -1
	if err := raw.Control(func(s uintptr) { fd = int(s) }); err != nil {
		return -1, fmt.Errorf("ws: read fd: %w", err)
	}
	return fd, nil
}

func isEINTR(err error) bool {
	return errors.Is(err, unix.EINTR)
}
