package server

import (
	"errors"
	"net"
	"sync"

	"go.uber.org/atomic"

	"github.com/JCOutMan/raptor/buffer"
	"github.com/JCOutMan/raptor/connid"
	"github.com/JCOutMan/raptor/protocol"
)

// connState is the Connection lifecycle: New->Open is the only forward
// transition before the terminal Closed state.
type connState int32

const (
	connStateNew connState = iota
	connStateOpen
	connStateClosed
)

const scratchBufferSize = 8 * 1024

var errConnectionClosed = errors.New("connection closed")

// Connection is the per-session state machine: socket, peer address,
// frozen Protocol, inbound/outbound SliceBuffers, user-data store, and
// a 64-bit extend-info tag.
type Connection struct {
	id       connid.ID
	conn     net.Conn
	fd       int // valid on the readiness (Linux) build only
	peerAddr string

	proto protocol.Protocol

	recv *buffer.SliceBuffer

	sendMu sync.Mutex
	send   *buffer.SliceBuffer

	state     atomic.Int32
	extend    atomic.Uint64
	attrMap   sync.Map
	scratch   []byte

	onMessage func(connid.ID, []byte)

	// notifySend is wired by the accepting platform code at
	// construction time: on the readiness build it wakes the owning
	// epollPoller shard into ModReadWrite; on the completion build it
	// flips the registration's writeOn flag. Nil is safe to call.
	notifySend func()
}

func newConnection(id connid.ID, conn net.Conn, fd int, peerAddr string, proto protocol.Protocol, onMessage func(connid.ID, []byte)) *Connection {
	c := &Connection{
		id:        id,
		conn:      conn,
		fd:        fd,
		peerAddr:  peerAddr,
		proto:     proto,
		recv:      buffer.NewSliceBuffer(),
		send:      buffer.NewSliceBuffer(),
		scratch:   make([]byte, scratchBufferSize),
		onMessage: onMessage,
	}
	c.state.Store(int32(connStateNew))
	return c
}

func (c *Connection) onFrame(payload []byte) {
	c.onMessage(c.id, payload)
}

func (c *Connection) ID() connid.ID     { return c.id }
func (c *Connection) PeerAddr() string  { return c.peerAddr }
func (c *Connection) FD() int           { return c.fd }
func (c *Connection) isClosed() bool    { return connState(c.state.Load()) == connStateClosed }
func (c *Connection) markOpen()         { c.state.CompareAndSwap(int32(connStateNew), int32(connStateOpen)) }

// markClosed transitions to Closed exactly once; returns false if the
// connection was already closed, so callers only run close-side-effects
// the first time.
func (c *Connection) markClosed() bool {
	return c.state.CompareAndSwap(int32(connStateOpen), int32(connStateClosed)) ||
		c.state.CompareAndSwap(int32(connStateNew), int32(connStateClosed))
}

// Send appends the protocol-built header followed by payload to the
// send buffer. Safe to call from arbitrary threads.
func (c *Connection) Send(payload []byte) bool {
	if c.isClosed() {
		return false
	}
	header := c.proto.BuildPackageHeader(len(payload))
	c.sendMu.Lock()
	c.send.Append(header)
	c.send.Append(payload)
	c.sendMu.Unlock()
	return true
}

// SendWithHeader bypasses Protocol.BuildPackageHeader, using a
// caller-supplied header for zero-framing passthrough.
func (c *Connection) SendWithHeader(header, payload []byte) bool {
	if c.isClosed() {
		return false
	}
	c.sendMu.Lock()
	c.send.Append(header)
	c.send.Append(payload)
	c.sendMu.Unlock()
	return true
}

// requestSendFlush asks the owning poller shard to watch/flush this
// connection's send buffer; called after Send/SendWithHeader queue new
// bytes, since the poller itself cannot know the buffer went from
// empty to non-empty without being told.
func (c *Connection) requestSendFlush() {
	if c.notifySend != nil {
		c.notifySend()
	}
}

func (c *Connection) hasPendingSend() bool {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	return !c.send.IsEmpty()
}

// drainFrames extracts every complete frame now sitting in recv,
// delivering each to deliver: peek the header window, ask the protocol
// for the total package length, and either wait for more bytes (0),
// fail (negative), or slice off one package, hand its payload (header
// stripped) to deliver, and repeat.
func (c *Connection) drainFrames(deliver func([]byte)) error {
	for {
		headerWindow, ok := c.recv.PeekN(c.proto.MaxHeaderSize())
		if !ok {
			headerWindow, ok = c.recv.PeekN(c.recv.Len())
			if !ok || len(headerWindow) == 0 {
				return nil
			}
		}
		n := c.proto.CheckPackageLength(headerWindow)
		if n < 0 {
			return errors.New("framing error: invalid package length")
		}
		if n == 0 {
			return nil
		}
		if c.recv.Len() < n {
			return nil
		}
		packet, ok := c.recv.PeekN(n)
		if !ok {
			return nil
		}
		// The header length is the h for which a header built for an
		// (n-h)-byte payload is exactly h bytes long.
		hdrLen := 0
		for h := 1; h <= c.proto.MaxHeaderSize() && h <= n; h++ {
			if len(c.proto.BuildPackageHeader(n-h)) == h {
				hdrLen = h
				break
			}
		}
		payload := make([]byte, n-hdrLen)
		copy(payload, packet[hdrLen:])
		c.recv.Advance(n)
		deliver(payload)
	}
}

// pullSendChunk returns the head slice of the send buffer, or ok=false
// if nothing is queued; the caller reports how many of its bytes were
// actually written with ackSend. Used by the readiness build's
// DoSendEvent; the completion build's poller reads the send buffer
// directly.
func (c *Connection) pullSendChunk() (chunk []byte, ok bool) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	top, ok := c.send.Top()
	if !ok {
		return nil, false
	}
	return []byte(top), true
}

func (c *Connection) ackSend(n int) {
	c.sendMu.Lock()
	c.send.Advance(n)
	c.sendMu.Unlock()
}

func (c *Connection) SetUserData(key, value interface{}) { c.attrMap.Store(key, value) }

func (c *Connection) GetUserData(key interface{}) (interface{}, bool) { return c.attrMap.Load(key) }

func (c *Connection) SetExtendInfo(v uint64) { c.extend.Store(v) }

func (c *Connection) GetExtendInfo() uint64 { return c.extend.Load() }
