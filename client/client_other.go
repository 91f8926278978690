//go:build !linux

package client

import (
	"errors"
	"net"
	"os"
	"sync"
	"time"
)

// clientPlatformOther dials with the stdlib and drives one read
// goroutine plus one write goroutine, the single-connection analogue
// of server_other.go's poller.CompletionPoller registration.
type clientPlatformOther struct {
	c    *Client
	conn net.Conn

	writeOn atomicFlag
	stopCh  chan struct{}
	once    sync.Once
}

type atomicFlag struct {
	mu sync.RWMutex
	v  bool
}

func (a *atomicFlag) set(v bool) { a.mu.Lock(); a.v = v; a.mu.Unlock() }
func (a *atomicFlag) get() bool  { a.mu.RLock(); defer a.mu.RUnlock(); return a.v }

func (c *Client) newPlatform() platform {
	return &clientPlatformOther{c: c, stopCh: make(chan struct{})}
}

func (p *clientPlatformOther) connect(c *Client, addr string, timeout time.Duration) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		c.failConnect()
		return
	}
	p.conn = conn

	if !c.markConnected() {
		conn.Close()
		return
	}
	c.notifyConnectResult(true)

	go p.readLoop()
	go p.writeLoop()
}

func (p *clientPlatformOther) readLoop() {
	scratch := make([]byte, 64*1024)
	for {
		select {
		case <-p.stopCh:
			return
		default:
		}
		p.conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
		n, err := p.conn.Read(scratch)
		if n > 0 {
			p.c.recv.Append(append([]byte(nil), scratch[:n]...))
			if drainErr := p.c.drainFrames(); drainErr != nil {
				p.fail()
				return
			}
		}
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				continue
			}
			p.fail()
			return
		}
	}
}

func (p *clientPlatformOther) writeLoop() {
	for {
		select {
		case <-p.stopCh:
			return
		case <-time.After(10 * time.Millisecond):
		}
		if !p.writeOn.get() {
			continue
		}
		chunk, ok := p.c.pullSendChunk()
		if !ok {
			p.writeOn.set(false)
			continue
		}

		p.conn.SetWriteDeadline(time.Now().Add(100 * time.Millisecond))
		n, err := p.conn.Write(chunk)
		if n > 0 {
			p.c.ackSend(n)
			if !p.c.hasPendingSend() {
				p.writeOn.set(false)
			}
		}
		if err != nil && !errors.Is(err, os.ErrDeadlineExceeded) {
			p.fail()
			return
		}
	}
}

func (p *clientPlatformOther) fail() {
	if p.c.markClosed() {
		p.once.Do(func() { close(p.stopCh) })
		p.conn.Close()
		p.c.notifyClosed()
	}
}

func (p *clientPlatformOther) notifySend() {
	p.writeOn.set(true)
}

func (p *clientPlatformOther) close() {
	if p.c.markClosed() {
		p.once.Do(func() { close(p.stopCh) })
		if p.conn != nil {
			p.conn.Close()
		}
		p.c.notifyClosed()
	}
}
