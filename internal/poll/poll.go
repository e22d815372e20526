//go:build linux

// Package poll runs the single event loop that waits on every device
// descriptor of a registry.
//
// The loop goroutine owns the descriptor set. Other goroutines change it by
// sending typed commands; a self-pipe interrupts the blocking poll so the
// commands are picked up promptly.
package poll

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/smazurov/camhw/internal/hwerr"
	"github.com/smazurov/camhw/internal/logging"
)

// Handler is invoked on the loop goroutine when fd becomes readable.
type Handler func(fd int)

type opcode int

const (
	opAdd opcode = iota
	opRemove
	opExit
)

func (o opcode) String() string {
	switch o {
	case opAdd:
		return "add"
	case opRemove:
		return "remove"
	default:
		return "exit"
	}
}

type command struct {
	op   opcode
	fd   int
	done chan struct{}
}

const commandQueue = 64

// Loop multiplexes device descriptors onto one goroutine.
type Loop struct {
	logger  *slog.Logger
	handler Handler

	pollLock sync.Mutex // serialises command sends and wake-ups
	cmds     chan command
	wakeR    int
	wakeW    int
	started  bool
	stopping bool

	exited chan struct{}
	fds    map[int]struct{} // owned by the loop goroutine
}

// New creates a stopped loop that calls handler for readable descriptors.
func New(handler Handler) (*Loop, error) {
	if handler == nil {
		return nil, hwerr.New(hwerr.InvalidArgument, "poll handler is nil")
	}
	var p [2]int
	if err := unix.Pipe2(p[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		return nil, hwerr.Wrap(hwerr.Failed, "create wake pipe", err)
	}
	return &Loop{
		logger:  logging.GetLogger("poll"),
		handler: handler,
		cmds:    make(chan command, commandQueue),
		wakeR:   p[0],
		wakeW:   p[1],
		exited:  make(chan struct{}),
		fds:     make(map[int]struct{}),
	}, nil
}

// Start launches the loop goroutine.
func (l *Loop) Start() {
	l.pollLock.Lock()
	defer l.pollLock.Unlock()
	if l.started {
		return
	}
	l.started = true
	go l.run()
}

// Add starts watching fd.
func (l *Loop) Add(fd int) error {
	if fd < 0 {
		return hwerr.Newf(hwerr.InvalidArgument, "invalid fd %d", fd)
	}
	return l.send(command{op: opAdd, fd: fd}, false)
}

// Remove stops watching fd. It returns once the loop no longer polls fd,
// so the caller may close it.
func (l *Loop) Remove(fd int) error {
	return l.send(command{op: opRemove, fd: fd, done: make(chan struct{})}, true)
}

func (l *Loop) send(cmd command, wait bool) error {
	l.pollLock.Lock()
	if l.stopping {
		l.pollLock.Unlock()
		return hwerr.New(hwerr.InvalidState, "poll loop is stopping")
	}
	l.cmds <- cmd
	err := l.wake()
	running := l.started
	l.pollLock.Unlock()

	if err != nil {
		return err
	}
	if !wait || !running {
		return nil
	}
	select {
	case <-cmd.done:
	case <-l.exited:
	}
	return nil
}

func (l *Loop) wake() error {
	_, err := unix.Write(l.wakeW, []byte{1})
	if err != nil && !errors.Is(err, unix.EAGAIN) {
		return hwerr.Wrap(hwerr.Failed, "wake poll loop", err)
	}
	return nil
}

// Stop asks the loop to exit and waits up to timeout. On timeout it logs
// and returns a Timeout error; the loop is left to finish on its own.
func (l *Loop) Stop(timeout time.Duration) error {
	l.pollLock.Lock()
	if l.stopping {
		l.pollLock.Unlock()
		return nil
	}
	l.stopping = true
	started := l.started
	if started {
		l.cmds <- command{op: opExit}
		_ = l.wake()
	}
	l.pollLock.Unlock()

	if !started {
		l.closePipe()
		return nil
	}

	select {
	case <-l.exited:
		l.closePipe()
		return nil
	case <-time.After(timeout):
		l.logger.Warn("Poll loop did not exit in time", "timeout", timeout)
		return hwerr.Newf(hwerr.Timeout, "poll loop did not exit within %s", timeout)
	}
}

func (l *Loop) closePipe() {
	_ = unix.Close(l.wakeR)
	_ = unix.Close(l.wakeW)
}

func (l *Loop) run() {
	defer close(l.exited)
	l.logger.Debug("Poll loop started")

	pfds := make([]unix.PollFd, 0, 8)
	for {
		pfds = pfds[:0]
		pfds = append(pfds, unix.PollFd{Fd: int32(l.wakeR), Events: unix.POLLIN})
		for fd := range l.fds {
			pfds = append(pfds, unix.PollFd{Fd: int32(fd), Events: unix.POLLIN | unix.POLLPRI})
		}

		if _, err := unix.Poll(pfds, -1); err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			l.logger.Error("Poll failed", "error", err)
			return
		}

		if pfds[0].Revents&unix.POLLIN != 0 {
			l.drainWake()
			if !l.applyCommands() {
				l.logger.Debug("Poll loop exiting")
				return
			}
		}

		for _, p := range pfds[1:] {
			fd := int(p.Fd)
			if _, ok := l.fds[fd]; !ok {
				continue
			}
			switch {
			case p.Revents&(unix.POLLIN|unix.POLLPRI) != 0:
				l.handler(fd)
			case p.Revents&(unix.POLLERR|unix.POLLHUP|unix.POLLNVAL) != 0:
				l.logger.Warn("Dropping descriptor after poll error", "fd", fd, "revents", p.Revents)
				delete(l.fds, fd)
			}
		}
	}
}

func (l *Loop) drainWake() {
	var buf [64]byte
	for {
		n, err := unix.Read(l.wakeR, buf[:])
		if n <= 0 || err != nil {
			return
		}
	}
}

// applyCommands processes every queued command. It returns false on exit.
func (l *Loop) applyCommands() bool {
	for {
		select {
		case cmd := <-l.cmds:
			l.logger.Debug("Poll command", "op", cmd.op.String(), "fd", cmd.fd)
			switch cmd.op {
			case opAdd:
				l.fds[cmd.fd] = struct{}{}
			case opRemove:
				delete(l.fds, cmd.fd)
				close(cmd.done)
			case opExit:
				return false
			}
		default:
			return true
		}
	}
}
