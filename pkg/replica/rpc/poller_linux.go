package rpc

import (
	"encoding/binary"

	"github.com/cockroachdb/errors"
	"go.uber.org/multierr"
	"golang.org/x/sys/unix"
)

const maxEvents = 16

// Poller is an edge-triggered epoll set with a built-in eventfd that other
// goroutines use to interrupt Wait.
type Poller struct {
	epfd   int
	wakefd int
	events []unix.EpollEvent
}

func NewPoller() (_ *Poller, err error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create epoll instance")
	}
	p := &Poller{
		epfd:   epfd,
		wakefd: -1,
		events: make([]unix.EpollEvent, maxEvents),
	}
	defer func() {
		if err != nil {
			p.Close()
		}
	}()

	p.wakefd, err = unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create wakeup eventfd")
	}
	if err := p.Add(p.wakefd); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Poller) Add(fd int) error {
	event := unix.EpollEvent{
		Events: unix.EPOLLIN | unix.EPOLLET,
		Fd:     int32(fd),
	}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &event); err != nil {
		return errors.Wrapf(err, "failed to register fd %d", fd)
	}
	return nil
}

// Remove deregisters fd. Descriptors that were never registered or are
// already closed are ignored.
func (p *Poller) Remove(fd int) error {
	err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	if err == nil || errors.Is(err, unix.ENOENT) || errors.Is(err, unix.EBADF) {
		return nil
	}
	return errors.Wrapf(err, "failed to deregister fd %d", fd)
}

// Wait blocks until at least one registered descriptor is ready. The
// returned slice is reused by the next call.
func (p *Poller) Wait() ([]unix.EpollEvent, error) {
	for {
		n, err := unix.EpollWait(p.epfd, p.events, -1)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return nil, errors.Wrap(err, "failed to wait for events")
		}
		return p.events[:n], nil
	}
}

func (p *Poller) IsWakeup(fd int) bool {
	return fd == p.wakefd
}

// Wake makes the current or next Wait return with a wakeup event.
func (p *Poller) Wake() error {
	var buf [8]byte
	binary.NativeEndian.PutUint64(buf[:], 1)
	_, err := unix.Write(p.wakefd, buf[:])
	if err != nil && err != unix.EAGAIN {
		return errors.Wrap(err, "failed to signal wakeup")
	}
	return nil
}

func (p *Poller) drainWakeup() {
	var buf [8]byte
	unix.Read(p.wakefd, buf[:])
}

func (p *Poller) Close() error {
	var err error
	if p.wakefd >= 0 {
		err = multierr.Append(err, unix.Close(p.wakefd))
		p.wakefd = -1
	}
	if p.epfd >= 0 {
		err = multierr.Append(err, unix.Close(p.epfd))
		p.epfd = -1
	}
	return err
}
