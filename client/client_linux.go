//go:build linux

package client

import (
	"net"
	"time"

	"golang.org/x/sys/unix"

	"github.com/JCOutMan/raptor/poller"
)

// clientPlatformLinux drives one raw socket through poller.New's
// epollPoller, exactly the mechanism server_linux.go uses per accepted
// connection: connect(2) returning EINPROGRESS is treated as
// success-pending, and the first writable event after that is taken as
// "connected".
type clientPlatformLinux struct {
	c  *Client
	fd int
	p  poller.Poller

	doneCh chan struct{}
}

func (c *Client) newPlatform() platform {
	return &clientPlatformLinux{c: c, doneCh: make(chan struct{})}
}

func (p *clientPlatformLinux) connect(c *Client, addr string, timeout time.Duration) {
	tcpAddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		c.failConnect()
		return
	}

	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		c.failConnect()
		return
	}
	p.fd = fd

	sa := &unix.SockaddrInet4{Port: tcpAddr.Port}
	if ip4 := tcpAddr.IP.To4(); ip4 != nil {
		copy(sa.Addr[:], ip4)
	}
	err = unix.Connect(fd, sa)
	if err != nil && err != unix.EINPROGRESS && err != unix.EWOULDBLOCK {
		unix.Close(fd)
		c.failConnect()
		return
	}

	pl, err := poller.New(p)
	if err != nil {
		unix.Close(fd)
		c.failConnect()
		return
	}
	p.p = pl
	if err := pl.AddReadWrite(fd); err != nil {
		pl.Close()
		unix.Close(fd)
		c.failConnect()
		return
	}

	go p.watchTimeout(timeout)
	pl.Run()
}

func (p *clientPlatformLinux) watchTimeout(timeout time.Duration) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-timer.C:
		if p.c.failConnect() {
			p.p.Wake(func() { p.p.Close() })
			unix.Close(p.fd)
		}
	case <-p.doneCh:
	}
}

func (p *clientPlatformLinux) OnRecvEvent(fd int) {
	for {
		n, err := unix.Read(fd, p.c.scratch)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EINTR {
				break
			}
			p.fail()
			return
		}
		if n <= 0 {
			p.fail()
			return
		}
		p.c.recv.Append(append([]byte(nil), p.c.scratch[:n]...))
		if n < len(p.c.scratch) {
			break
		}
	}
	if err := p.c.drainFrames(); err != nil {
		p.fail()
	}
}

func (p *clientPlatformLinux) OnSendEvent(fd int) {
	if connState(p.c.state.Load()) == stateConnecting {
		if p.c.markConnected() {
			p.c.notifyConnectResult(true)
			p.p.Wake(func() { p.p.ModRead(fd) })
		}
		return
	}
	for {
		chunk, ok := p.c.pullSendChunk()
		if !ok {
			p.p.Wake(func() { p.p.ModRead(fd) })
			return
		}
		n, err := unix.Write(fd, chunk)
		if n > 0 {
			p.c.ackSend(n)
		}
		if err != nil {
			if err == unix.EAGAIN || err == unix.EINTR {
				return
			}
			p.fail()
			return
		}
		if n < len(chunk) {
			return
		}
	}
}

func (p *clientPlatformLinux) OnErrorEvent(fd int) {
	if connState(p.c.state.Load()) == stateConnecting {
		if p.c.failConnect() {
			close(p.doneCh)
			unix.Close(fd)
			p.p.Wake(func() { p.p.Close() })
		}
		return
	}
	p.fail()
}

func (p *clientPlatformLinux) OnCheckingEvent() {}

func (p *clientPlatformLinux) fail() {
	if p.c.markClosed() {
		close(p.doneCh)
		unix.Close(p.fd)
		p.c.notifyClosed()
		p.p.Wake(func() { p.p.Close() })
	}
}

func (p *clientPlatformLinux) notifySend() {
	if p.p != nil {
		p.p.Wake(func() { p.p.ModReadWrite(p.fd) })
	}
}

func (p *clientPlatformLinux) close() {
	if p.c.markClosed() {
		close(p.doneCh)
		unix.Close(p.fd)
		p.c.notifyClosed()
		if p.p != nil {
			p.p.Wake(func() { p.p.Close() })
		}
	}
}
