// Package client implements the single-connection variant of the core.
// connect(2) is issued non-blocking and the first writable event is
// taken as connection success, exactly as the server's accepted
// connections are driven, but against one socket instead of a table of
// them.
package client

import (
	"errors"
	"net"
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/JCOutMan/raptor/buffer"
	"github.com/JCOutMan/raptor/log"
	"github.com/JCOutMan/raptor/protocol"
)

type connState int32

const (
	stateIdle connState = iota
	stateConnecting
	stateConnected
	stateClosed
)

const scratchBufferSize = 8 * 1024

var (
	errAlreadyConnecting = errors.New("client already connecting or connected")
	errNoProtocol        = errors.New("client has no Protocol configured")
)

// platform is implemented once per build (clientPlatformLinux in
// client_linux.go, clientPlatformOther in client_other.go), matching
// server.platform's split so Client itself never branches on GOOS.
type platform interface {
	connect(c *Client, addr string, timeout time.Duration)
	notifySend()
	close()
}

// Client drives one outbound connection through the same
// Connect/Connected/Closed states and framing algorithm as a server
// Connection.
type Client struct {
	opts *Options

	state atomic.Int32

	recv *buffer.SliceBuffer

	sendMu  sync.Mutex
	send    *buffer.SliceBuffer
	scratch []byte

	platform platform
}

// New constructs a Client. WithProtocol is mandatory: Connect fails
// immediately if no Protocol was configured.
func New(opts ...Option) *Client {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	c := &Client{
		opts:    o,
		recv:    buffer.NewSliceBuffer(),
		send:    buffer.NewSliceBuffer(),
		scratch: make([]byte, scratchBufferSize),
	}
	c.state.Store(int32(stateIdle))
	return c
}

// Connect resolves addr synchronously (first address only), returning
// any resolution error, then hands off to the platform's non-blocking
// connect on its own worker goroutine.
// OnConnectResult(false) is delivered asynchronously if the connect
// fails; a nil return here only means the attempt was accepted.
func (c *Client) Connect(addr string, timeout time.Duration) error {
	if c.opts.proto == nil {
		return errNoProtocol
	}
	if _, err := net.ResolveTCPAddr("tcp", addr); err != nil {
		return err
	}
	if !c.state.CompareAndSwap(int32(stateIdle), int32(stateConnecting)) {
		return errAlreadyConnecting
	}
	c.platform = c.newPlatform()
	go c.platform.connect(c, addr, timeout)
	return nil
}

// Send frames payload with the configured Protocol and queues it,
// returning false if the client is not currently connected.
func (c *Client) Send(payload []byte) bool {
	if connState(c.state.Load()) != stateConnected {
		return false
	}
	header := c.opts.proto.BuildPackageHeader(len(payload))
	c.sendMu.Lock()
	c.send.Append(header)
	c.send.Append(payload)
	c.sendMu.Unlock()
	c.platform.notifySend()
	return true
}

// SendWithHeader bypasses Protocol.BuildPackageHeader for zero-framing
// passthrough, exposed uniformly on both platform builds since they
// share the same SliceBuffer send path.
func (c *Client) SendWithHeader(header, payload []byte) bool {
	if connState(c.state.Load()) != stateConnected {
		return false
	}
	c.sendMu.Lock()
	c.send.Append(header)
	c.send.Append(payload)
	c.sendMu.Unlock()
	c.platform.notifySend()
	return true
}

// Close tears down the connection, if any, invoking OnClosed exactly
// once. Safe to call multiple times or before Connect.
func (c *Client) Close() {
	if c.platform != nil {
		c.platform.close()
	}
}

func (c *Client) markConnected() bool {
	return c.state.CompareAndSwap(int32(stateConnecting), int32(stateConnected))
}

// markClosed transitions to Closed exactly once from either
// Connecting or Connected, mirroring server.Connection.markClosed.
func (c *Client) markClosed() bool {
	return c.state.CompareAndSwap(int32(stateConnected), int32(stateClosed)) ||
		c.state.CompareAndSwap(int32(stateConnecting), int32(stateClosed))
}

func (c *Client) protocol() protocol.Protocol {
	return c.opts.proto
}

// drainFrames extracts every complete frame now sitting in recv,
// delivering each to the Service, identical in algorithm to
// server.Connection.drainFrames.
func (c *Client) drainFrames() error {
	proto := c.protocol()
	for {
		headerWindow, ok := c.recv.PeekN(proto.MaxHeaderSize())
		if !ok {
			headerWindow, ok = c.recv.PeekN(c.recv.Len())
			if !ok || len(headerWindow) == 0 {
				return nil
			}
		}
		n := proto.CheckPackageLength(headerWindow)
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
		for h := 1; h <= proto.MaxHeaderSize() && h <= n; h++ {
			if len(proto.BuildPackageHeader(n-h)) == h {
				hdrLen = h
				break
			}
		}
		payload := make([]byte, n-hdrLen)
		copy(payload, packet[hdrLen:])
		c.recv.Advance(n)
		c.onMessage(payload)
	}
}

func (c *Client) pullSendChunk() (chunk []byte, ok bool) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	top, ok := c.send.Top()
	if !ok {
		return nil, false
	}
	return []byte(top), true
}

func (c *Client) ackSend(n int) {
	c.sendMu.Lock()
	c.send.Advance(n)
	c.sendMu.Unlock()
}

func (c *Client) hasPendingSend() bool {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	return !c.send.IsEmpty()
}

func (c *Client) onMessage(payload []byte) {
	svc := c.opts.service
	if svc == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Error("panic in client OnMessageReceived recovered: %v", r)
		}
	}()
	svc.OnMessageReceived(payload)
}

func (c *Client) notifyConnectResult(success bool) {
	svc := c.opts.service
	if svc == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Error("panic in client OnConnectResult recovered: %v", r)
		}
	}()
	svc.OnConnectResult(success)
}

func (c *Client) notifyClosed() {
	svc := c.opts.service
	if svc == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Error("panic in client OnClosed recovered: %v", r)
		}
	}()
	svc.OnClosed()
}

// failConnect marks a pre-connect failure and notifies with
// OnConnectResult(false). Reports whether this call won the
// transition, so callers know whether to also release their socket.
func (c *Client) failConnect() bool {
	if c.state.CompareAndSwap(int32(stateConnecting), int32(stateClosed)) {
		c.notifyConnectResult(false)
		return true
	}
	return false
}
