//go:build !linux

package ws

import (
	"net"
	"sync"
	"syscall"
)

// Epoll is the goroutine-per-connection fallback for platforms without
// epoll. Each connection gets a monitor goroutine that waits for readability
// without consuming bytes, reports the connection through Wait, and then
// parks until the server calls Resume.
type Epoll struct {
	mu      sync.Mutex
	conns   map[net.Conn]chan struct{} // conn -> resume signal
	readyCh chan net.Conn
	done    chan struct{}
	once    sync.Once
}

// NewEpoll creates a fallback poller.
func NewEpoll() (*Epoll, error) {
	return &Epoll{
		conns:   make(map[net.Conn]chan struct{}),
		readyCh: make(chan net.Conn, 128),
		done:    make(chan struct{}),
	}, nil
}

// Add starts monitoring conn.
func (e *Epoll) Add(conn net.Conn) error {
	resume := make(chan struct{}, 1)

	e.mu.Lock()
	e.conns[conn] = resume
	e.mu.Unlock()

	go e.monitor(conn, resume)
	return nil
}

func (e *Epoll) monitor(conn net.Conn, resume chan struct{}) {
	for {
		err := waitReadable(conn)

		select {
		case e.readyCh <- conn:
		case <-e.done:
			return
		}
		if err != nil {
			// The server's read will see the same error and remove conn.
			return
		}

		select {
		case _, ok := <-resume:
			if !ok {
				return
			}
		case <-e.done:
			return
		}
	}
}

// Resume lets conn's monitor wait for the next frame.
func (e *Epoll) Resume(conn net.Conn) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if resume, ok := e.conns[conn]; ok {
		select {
		case resume <- struct{}{}:
		default:
		}
	}
}

// Remove stops monitoring conn.
func (e *Epoll) Remove(conn net.Conn) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if resume, ok := e.conns[conn]; ok {
		delete(e.conns, conn)
		close(resume)
	}
	return nil
}

// Wait blocks until at least one connection is ready and returns every
// connection ready at that moment.
func (e *Epoll) Wait() ([]net.Conn, error) {
	var first net.Conn
	select {
	case first = <-e.readyCh:
	case <-e.done:
		return nil, net.ErrClosed
	}

	conns := []net.Conn{first}
	for {
		select {
		case conn := <-e.readyCh:
			conns = append(conns, conn)
		default:
			return conns, nil
		}
	}
}

// Close stops every monitor.
func (e *Epoll) Close() error {
	e.once.Do(func() { close(e.done) })
	e.mu.Lock()
	e.conns = make(map[net.Conn]chan struct{})
	e.mu.Unlock()
	return nil
}

// waitReadable blocks until conn has data or fails. The raw read callback
// declines the first wakeup so the runtime poller waits for readability
// without the callback ever reading.
func waitReadable(conn net.Conn) error {
	sc, ok := conn.(syscall.Conn)
	if !ok {
		return nil
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return err
	}
	first := true
	return raw.Read(func(uintptr) bool {
		if first {
			first = false
			return false
		}
		return true
	})
}

func isEINTR(error) bool { return false }
