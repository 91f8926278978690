//go:build linux

package poller

import (
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/JCOutMan/raptor/internal/taskqueue"
	"github.com/JCOutMan/raptor/log"
)

var (
	wakeInt64 = int64(1)
	wakeBytes = (*(*[8]byte)(unsafe.Pointer(&wakeInt64)))[:]
)

// epollPoller is one readiness-based shard: one epoll instance, one
// eventfd for cross-goroutine wake, one loop goroutine.
type epollPoller struct {
	handler Handler

	epfd   int
	wakeFd int
	wfdBuf []byte
	tasks  *taskqueue.Queue

	closing bool
}

// New returns the Linux readiness-based Poller. h must not be nil.
func New(h Handler) (Poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	wakeFd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		unix.Close(epfd)
		return nil, err
	}

	p := &epollPoller{
		handler: h,
		epfd:    epfd,
		wakeFd:  wakeFd,
		wfdBuf:  make([]byte, 8),
		tasks:   taskqueue.New(),
	}
	if err := p.epollAdd(wakeFd, unix.EPOLLET|unix.EPOLLIN); err != nil {
		unix.Close(wakeFd)
		unix.Close(epfd)
		return nil, err
	}
	return p, nil
}

func (p *epollPoller) epollAdd(fd int, events uint32) error {
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &unix.EpollEvent{Fd: int32(fd), Events: events})
}

func (p *epollPoller) epollMod(fd int, events uint32) error {
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, &unix.EpollEvent{Fd: int32(fd), Events: events})
}

func (p *epollPoller) AddRead(fd int) error {
	return p.epollAdd(fd, unix.EPOLLET|unix.EPOLLIN)
}

func (p *epollPoller) AddReadWrite(fd int) error {
	return p.epollAdd(fd, unix.EPOLLET|unix.EPOLLIN|unix.EPOLLOUT)
}

func (p *epollPoller) ModRead(fd int) error {
	return p.epollMod(fd, unix.EPOLLIN)
}

func (p *epollPoller) ModReadWrite(fd int) error {
	return p.epollMod(fd, unix.EPOLLIN|unix.EPOLLOUT)
}

func (p *epollPoller) Remove(fd int) error {
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, &unix.EpollEvent{Fd: int32(fd), Events: unix.EPOLLIN | unix.EPOLLOUT})
}

func (p *epollPoller) Wake(task func()) bool {
	if p.closing {
		return false
	}
	p.tasks.PushOnly(task)
	for {
		_, err := unix.Write(p.wakeFd, wakeBytes)
		if err == nil {
			return true
		}
		if err == unix.EINTR || err == unix.EAGAIN {
			continue
		}
		log.Warn("poller wake write error: %v", err)
		return false
	}
}

func (p *epollPoller) Run() {
	events := make([]unix.EpollEvent, 1024)
	for {
		n, err := unix.EpollWait(p.epfd, events, 100)
		if err != nil && err != unix.EINTR {
			log.Error("epoll wait error: %v", err)
			return
		}

		for i := 0; i < n; i++ {
			fd := int(events[i].Fd)
			ev := events[i].Events

			if fd == p.wakeFd {
				unix.Read(fd, p.wfdBuf)
				p.drainWake()
				continue
			}
			if ev&unix.EPOLLERR > 0 || ev&unix.EPOLLHUP > 0 {
				p.handler.OnErrorEvent(fd)
				continue
			}
			if int(ev)&^int(unix.EPOLLIN)&^int(unix.EPOLLOUT) > 0 {
				p.handler.OnErrorEvent(fd)
				continue
			}
			if ev&unix.EPOLLIN > 0 {
				p.handler.OnRecvEvent(fd)
			}
			if ev&unix.EPOLLOUT > 0 {
				p.handler.OnSendEvent(fd)
			}
		}

		p.handler.OnCheckingEvent()

		if p.closing {
			return
		}
	}
}

func (p *epollPoller) drainWake() {
	for {
		t, ok := p.tasks.TryPop()
		if !ok {
			return
		}
		t()
	}
}

func (p *epollPoller) Close() error {
	p.closing = true
	p.tasks.Close()
	unix.Close(p.wakeFd)
	return unix.Close(p.epfd)
}
