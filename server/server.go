// Package server implements the connection registry, idle-timeout
// sweeper, event-to-connection dispatch, and the MPSC feed to user
// callbacks. Two platform builds (server_linux.go, server_other.go)
// supply the listener/poller shards and wire accepted sockets into the
// table and dispatch logic here.
package server

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"

	"github.com/JCOutMan/raptor/connid"
	"github.com/JCOutMan/raptor/log"
	"github.com/JCOutMan/raptor/protocol"
	"github.com/JCOutMan/raptor/queue"
)

var (
	errNotInitialized = errors.New("server not initialized: call AddListening before Start")
	errAlreadyStarted = errors.New("server already started")
)

// Server owns the connection table, the platform-specific listener and
// poller shard(s), and the single message-queue thread that serializes
// every user-visible callback. The zero value is not usable; construct
// with New.
type Server struct {
	opts *Options

	protoMu sync.RWMutex
	proto   protocol.Protocol

	mu      sync.Mutex
	started bool

	table *table
	mq    *queue.MPSC
	mqWG  sync.WaitGroup
	done  chan struct{}

	listenerAddr string

	// platform supplies listen/run/stop, set by AddListening via
	// server_linux.go/server_other.go's newPlatform.
	platform platform
}

// platform is implemented once per build (platformLinux in
// server_linux.go, platformOther in server_other.go) so Server itself
// never branches on GOOS.
type platform interface {
	// listen binds addr and creates numLoops poller shards; run starts
	// their goroutines and the accept loop. Returns the bound port for
	// the port field of connid.ID.
	listen(s *Server, addr string) (port uint16, err error)
	// run blocks the calling goroutine driving every shard until stop.
	run()
	// stop tears down the listener and every poller shard, closing
	// every live connection through s.closeConnection(c, false) first.
	stop()
}

// New constructs a Server from options; call AddListening then Start to
// bring it up.
func New(opts ...Option) *Server {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	s := &Server{opts: o, proto: o.proto, mq: queue.New(), done: make(chan struct{})}
	return s
}

// SetProtocol swaps the framing Protocol used for connections accepted
// from this point on; already-open connections keep the Protocol they
// were accepted with.
func (s *Server) SetProtocol(p protocol.Protocol) {
	s.protoMu.Lock()
	s.proto = p
	s.protoMu.Unlock()
}

func (s *Server) currentProtocol() protocol.Protocol {
	s.protoMu.RLock()
	defer s.protoMu.RUnlock()
	return s.proto
}

// AddListening binds addr and prepares the accept path; Start must
// still be called to begin serving. Only one listening address is
// supported per Server.
func (s *Server) AddListening(addr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errAlreadyStarted
	}
	port, err := s.newPlatform().listen(s, addr)
	if err != nil {
		return err
	}
	s.table = newTable(port, s.opts.maxConnections, s.opts.reservedCapacity, s.opts.connectionTimeout)

	host, _, splitErr := net.SplitHostPort(addr)
	if splitErr != nil {
		host = addr
	}
	s.listenerAddr = net.JoinHostPort(host, strconv.Itoa(int(port)))
	return nil
}

// Start spawns the message-queue thread and blocks running every poller
// shard's loop until Shutdown is called from another goroutine.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.platform == nil || s.table == nil {
		s.mu.Unlock()
		return errNotInitialized
	}
	if s.started {
		s.mu.Unlock()
		return errAlreadyStarted
	}
	s.started = true
	s.mu.Unlock()

	s.mqWG.Add(1)
	go s.runDispatch()

	s.platform.run()
	return nil
}

// Shutdown stops accepting new connections, force-closes every live
// connection (without the usual OnClosed notification storm racing
// shutdown), stops every poller shard, then drains and stops the
// message-queue thread, freeing any remaining MPSC nodes without
// dispatching them.
func (s *Server) Shutdown() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	platform := s.platform
	s.mu.Unlock()

	if platform != nil {
		platform.stop()
	}
	close(s.done)
	s.mqWG.Wait()
}

// resolve looks up cid to a live connection, or nil. Every call path
// nil-checks the result before dereferencing it.
func (s *Server) resolve(cid connid.ID) *Connection {
	s.table.mu.Lock()
	defer s.table.mu.Unlock()
	idx, ok := s.table.checkConnectionID(cid)
	if !ok {
		return nil
	}
	conn := s.table.get(idx)
	if conn == nil || conn.ID() != cid {
		return nil
	}
	return conn
}

// Send frames payload with the configured Protocol and appends it to
// cid's send buffer, then asks the owning poller shard to flush it.
func (s *Server) Send(cid connid.ID, payload []byte) bool {
	conn := s.resolve(cid)
	if conn == nil {
		return false
	}
	ok := conn.Send(payload)
	if ok {
		conn.requestSendFlush()
	}
	return ok
}

// SendWithHeader bypasses Protocol.BuildPackageHeader for zero-framing
// passthrough.
func (s *Server) SendWithHeader(cid connid.ID, header, payload []byte) bool {
	conn := s.resolve(cid)
	if conn == nil {
		return false
	}
	ok := conn.SendWithHeader(header, payload)
	if ok {
		conn.requestSendFlush()
	}
	return ok
}

func (s *Server) CloseConnection(cid connid.ID) bool {
	conn := s.resolve(cid)
	if conn == nil {
		return false
	}
	s.closeConnection(conn, true)
	return true
}

func (s *Server) SetUserData(cid connid.ID, key, value interface{}) bool {
	conn := s.resolve(cid)
	if conn == nil {
		return false
	}
	conn.SetUserData(key, value)
	return true
}

func (s *Server) GetUserData(cid connid.ID, key interface{}) (interface{}, bool) {
	conn := s.resolve(cid)
	if conn == nil {
		return nil, false
	}
	return conn.GetUserData(key)
}

func (s *Server) SetExtendInfo(cid connid.ID, v uint64) bool {
	conn := s.resolve(cid)
	if conn == nil {
		return false
	}
	conn.SetExtendInfo(v)
	return true
}

func (s *Server) GetExtendInfo(cid connid.ID) (uint64, bool) {
	conn := s.resolve(cid)
	if conn == nil {
		return 0, false
	}
	return conn.GetExtendInfo(), true
}

// acceptConnection is the accept path shared by both platform builds:
// reserve a slot, build the Connection with build (platform-supplied,
// knows whether to wire an fd or a net.Conn), bind it into the table,
// and schedule OnConnected. ok is false when the table is at capacity,
// in which case the caller must close the raw socket itself.
func (s *Server) acceptConnection(build func(id connid.ID) *Connection) (*Connection, bool) {
	s.table.mu.Lock()
	idx, ok := s.table.acquire()
	if !ok {
		s.table.mu.Unlock()
		return nil, false
	}
	id := connid.Build(s.table.magic, s.table.port, idx)
	conn := build(id)
	s.table.bind(idx, conn)
	s.table.mu.Unlock()

	conn.markOpen()
	s.pushDispatch(&queue.Message{Kind: queue.KindNewConnection, Conn: id})
	return conn, true
}

// onDataReceived is invoked by a Connection's onMessage callback with a
// fully framed payload, pushing it onto the MPSC for the message-queue
// thread to deliver as OnMessageReceived.
func (s *Server) onDataReceived(id connid.ID, payload []byte) {
	s.pushDispatch(&queue.Message{Kind: queue.KindMessageReceived, Conn: id, Data: payload})
}

func (s *Server) pushDispatch(msg *queue.Message) {
	s.mq.Push(msg)
}

// closeConnection destroys the connection, clears its slot, and (if
// notify) schedules OnClosed via the MPSC.
func (s *Server) closeConnection(conn *Connection, notify bool) {
	if !conn.markClosed() {
		return
	}
	conn.closeSocket()

	s.table.mu.Lock()
	idx, ok := s.table.checkConnectionID(conn.ID())
	if ok && s.table.get(idx) == conn {
		s.table.release(idx)
	}
	s.table.mu.Unlock()

	if notify {
		s.pushDispatch(&queue.Message{Kind: queue.KindConnectionClosed, Conn: conn.ID()})
	}
}

// runDispatch is the sole message-queue thread: it pops one message at
// a time and delivers it to the user's Service, recovering any panic so
// one bad handler cannot take the dispatch thread down.
func (s *Server) runDispatch() {
	defer s.mqWG.Done()
	for {
		msg, ok := s.mq.Pop()
		if !ok {
			select {
			case <-s.done:
				s.mq.Drain()
				return
			default:
			}
			continue
		}
		s.dispatchOne(msg)
	}
}

func (s *Server) dispatchOne(msg *queue.Message) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("panic in service callback recovered: %v", r)
		}
	}()
	svc := s.opts.service
	if svc == nil {
		return
	}
	switch msg.Kind {
	case queue.KindNewConnection:
		svc.OnConnected(msg.Conn)
	case queue.KindMessageReceived:
		svc.OnMessageReceived(msg.Conn, msg.Data)
	case queue.KindConnectionClosed:
		svc.OnClosed(msg.Conn)
	}
}

// onCheckingTick is the idle-timeout sweeper, called once per loop tick
// by each poller shard's Handler.OnCheckingEvent.
func (s *Server) onCheckingTick(nowUnix int64) {
	s.table.mu.Lock()
	expired := s.table.sweepExpired(nowUnix)
	conns := make([]*Connection, 0, len(expired))
	for _, idx := range expired {
		if c := s.table.get(idx); c != nil {
			conns = append(conns, c)
		}
	}
	s.table.mu.Unlock()

	for _, c := range conns {
		s.closeConnection(c, true)
	}
}

// onEventSuccess refreshes idx's timeout deadline after a successful
// recv or send event; called by the Handler implementations in
// server_linux.go/server_other.go.
func (s *Server) onEventSuccess(idx uint32) {
	s.table.mu.Lock()
	s.table.refresh(idx)
	s.table.mu.Unlock()
}

func (s *Server) String() string {
	return fmt.Sprintf("raptor.Server{addr=%s}", s.listenerAddr)
}
