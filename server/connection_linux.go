//go:build linux

package server

import (
	"golang.org/x/sys/unix"
)

// DoRecvEvent performs the actual socket read on an EPOLLIN
// notification: read until EAGAIN or until a read returns less than a
// full scratch buffer, appending everything read to recv, then drain as
// many complete
// frames as are now available. Returns false on unrecoverable I/O or
// framing error.
func (c *Connection) DoRecvEvent() bool {
	for {
		n, err := unix.Read(c.fd, c.scratch)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EINTR {
				break
			}
			return false
		}
		if n <= 0 {
			return false // peer EOF
		}
		c.recv.Append(append([]byte(nil), c.scratch[:n]...))
		if n < len(c.scratch) {
			break
		}
	}

	if err := c.drainFrames(c.onFrame); err != nil {
		return false
	}
	return true
}

// DoSendEvent drains the send buffer until the socket would block or
// the buffer empties, adapted from loopWrite's writev-style draining.
func (c *Connection) DoSendEvent() bool {
	for {
		chunk, ok := c.pullSendChunk()
		if !ok {
			return true
		}
		n, err := unix.Write(c.fd, chunk)
		if n > 0 {
			c.ackSend(n)
		}
		if err != nil {
			if err == unix.EAGAIN || err == unix.EINTR {
				return true
			}
			return false
		}
		if n < len(chunk) {
			return true
		}
	}
}

func (c *Connection) closeSocket() {
	unix.Close(c.fd)
}
