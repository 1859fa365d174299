//go:build giouring
// +build giouring

// Notifier backed by io_uring multishot poll, built only with
// -tags giouring. The default build uses EpollNotifier; this variant
// exists to let the reactor's dispatch loop move to io_uring-based
// readiness without changing Notifier's callers, the same experimental
// slot the teacher reserved for its own giouring build tag.
package reactor

import (
	"fmt"
	"sync"

	"github.com/pawelgaczynski/giouring"
)

// UringNotifier implements Notifier on top of an io_uring instance
// using IORING_OP_POLL_ADD in multishot mode: one submission per fd
// keeps reporting readiness until the fd is removed, so Wait only
// needs to harvest completions rather than re-arm every call.
type UringNotifier struct {
	mu      sync.Mutex
	ring    *giouring.Ring
	pending map[int]uint64 // fd -> user_data of its multishot poll SQE
	nextID  uint64
}

// NewUringNotifier creates an io_uring instance with capacity entries
// in its submission/completion queues.
func NewUringNotifier(entries uint32) (Notifier, error) {
	ring, err := giouring.CreateRing(entries)
	if err != nil {
		return nil, fmt.Errorf("reactor: create io_uring: %w", err)
	}
	return &UringNotifier{ring: ring, pending: make(map[int]uint64)}, nil
}

func toPollMask(events EventMask) uint32 {
	var mask uint32
	if events&EventRead != 0 {
		mask |= unixPollIn
	}
	if events&EventWrite != 0 {
		mask |= unixPollOut
	}
	if events&EventPeerClosed != 0 {
		mask |= unixPollRdHup
	}
	return mask
}

const (
	unixPollIn    = 0x001
	unixPollOut   = 0x004
	unixPollRdHup = 0x2000
)

func (n *UringNotifier) Add(fd int, events EventMask, edgeTriggered, oneshot bool) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	sqe := n.ring.GetSQE()
	if sqe == nil {
		return fmt.Errorf("reactor: submission queue full")
	}
	n.nextID++
	userData := n.nextID
	if oneshot {
		sqe.PrepPollAdd(uint64(fd), toPollMask(events))
	} else {
		sqe.PrepPollMultishot(uint64(fd), toPollMask(events))
	}
	sqe.UserData = userData
	n.pending[fd] = userData
	_, err := n.ring.Submit()
	return err
}

func (n *UringNotifier) Mod(fd int, events EventMask, edgeTriggered, oneshot bool) error {
	if err := n.Del(fd); err != nil {
		return err
	}
	return n.Add(fd, events, edgeTriggered, oneshot)
}

func (n *UringNotifier) Del(fd int) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	userData, ok := n.pending[fd]
	if !ok {
		return nil
	}
	sqe := n.ring.GetSQE()
	if sqe != nil {
		sqe.PrepPollRemove(userData)
		_, _ = n.ring.Submit()
	}
	delete(n.pending, fd)
	return nil
}

// Wait blocks until one completion arrives and returns just that event.
// timeoutMs is ignored: this backend has no bounded wait.
func (n *UringNotifier) Wait(timeoutMs int) ([]Event, error) {
	cqe, err := n.ring.WaitCQE()
	if err != nil {
		return nil, err
	}
	events := []Event{{Fd: n.fdForUserData(cqe.UserData), Events: fromPollMask(uint32(cqe.Res))}}
	n.ring.CQESeen(cqe)
	return events, nil
}

func (n *UringNotifier) fdForUserData(userData uint64) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	for fd, id := range n.pending {
		if id == userData {
			return fd
		}
	}
	return -1
}

func fromPollMask(mask uint32) EventMask {
	var m EventMask
	if mask&unixPollIn != 0 {
		m |= EventRead
	}
	if mask&unixPollOut != 0 {
		m |= EventWrite
	}
	if mask&unixPollRdHup != 0 {
		m |= EventPeerClosed
	}
	return m
}

func (n *UringNotifier) Close() error {
	n.ring.QueueExit()
	return nil
}
