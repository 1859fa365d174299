package reactor

import (
	"golang.org/x/sys/unix"
)

// EpollNotifier implements Notifier with epoll(7), the default backend
// mirroring original_source/code/server/epoller.h's Epoller wrapper
// around epoll_create/epoll_ctl/epoll_wait.
type EpollNotifier struct {
	epfd   int
	events []unix.EpollEvent
}

// NewEpollNotifier creates an epoll instance sized for maxEvents
// simultaneous readiness notifications per Wait call.
func NewEpollNotifier(maxEvents int) (*EpollNotifier, error) {
	if maxEvents <= 0 {
		maxEvents = 1024
	}
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &EpollNotifier{epfd: epfd, events: make([]unix.EpollEvent, maxEvents)}, nil
}

func toEpollEvents(events EventMask, edgeTriggered, oneshot bool) uint32 {
	var e uint32
	if events&EventRead != 0 {
		e |= unix.EPOLLIN
	}
	if events&EventWrite != 0 {
		e |= unix.EPOLLOUT
	}
	if events&EventPeerClosed != 0 {
		e |= unix.EPOLLRDHUP
	}
	if edgeTriggered {
		e |= unix.EPOLLET
	}
	if oneshot {
		e |= unix.EPOLLONESHOT
	}
	return e
}

func fromEpollEvents(e uint32) EventMask {
	var m EventMask
	if e&unix.EPOLLIN != 0 {
		m |= EventRead
	}
	if e&unix.EPOLLOUT != 0 {
		m |= EventWrite
	}
	if e&unix.EPOLLRDHUP != 0 {
		m |= EventPeerClosed
	}
	if e&unix.EPOLLHUP != 0 {
		m |= EventHangup
	}
	if e&unix.EPOLLERR != 0 {
		m |= EventError
	}
	return m
}

func (n *EpollNotifier) Add(fd int, events EventMask, edgeTriggered, oneshot bool) error {
	ev := unix.EpollEvent{Events: toEpollEvents(events, edgeTriggered, oneshot), Fd: int32(fd)}
	return unix.EpollCtl(n.epfd, unix.EPOLL_CTL_ADD, fd, &ev)
}

func (n *EpollNotifier) Mod(fd int, events EventMask, edgeTriggered, oneshot bool) error {
	ev := unix.EpollEvent{Events: toEpollEvents(events, edgeTriggered, oneshot), Fd: int32(fd)}
	return unix.EpollCtl(n.epfd, unix.EPOLL_CTL_MOD, fd, &ev)
}

func (n *EpollNotifier) Del(fd int) error {
	return unix.EpollCtl(n.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

func (n *EpollNotifier) Wait(timeoutMs int) ([]Event, error) {
	count, err := unix.EpollWait(n.epfd, n.events, timeoutMs)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, err
	}
	out := make([]Event, 0, count)
	for i := 0; i < count; i++ {
		out = append(out, Event{
			Fd:     int(n.events[i].Fd),
			Events: fromEpollEvents(n.events[i].Events),
		})
	}
	return out, nil
}

func (n *EpollNotifier) Close() error {
	return unix.Close(n.epfd)
}
