//go:build !linux

package server

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/JCOutMan/raptor/buffer"
	"github.com/JCOutMan/raptor/connid"
	"github.com/JCOutMan/raptor/poller"
)

// platformOther is the completion-build accept path: a plain
// net.Listener feeding opts.numLoops CompletionPoller shards, spreading
// accepted connections' goroutine pairs across a small pool of "loops"
// for load balancing rather than any OS-level completion port
// grouping.
type platformOther struct {
	srv      *Server
	listener net.Listener
	shards   []*completionShard

	nextID   int32 // atomic, poller ids are process-local ints
	acceptWG sync.WaitGroup
	stopCh   chan struct{}
	stopOnce sync.Once
}

type completionShard struct {
	srv *Server
	p   *poller.CompletionPoller

	mu     sync.Mutex
	byID   map[int]uint32
	loopWG sync.WaitGroup
}

func (s *Server) newPlatform() platform {
	pl := &platformOther{srv: s, stopCh: make(chan struct{})}
	s.platform = pl
	return pl
}

func (pl *platformOther) listen(s *Server, addr string) (uint16, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return 0, err
	}
	pl.listener = ln

	var port uint16
	if tcpAddr, ok := ln.Addr().(*net.TCPAddr); ok {
		port = uint16(tcpAddr.Port)
	}

	numLoops := s.opts.numLoops
	if numLoops < 1 {
		numLoops = 1
	}
	pl.shards = make([]*completionShard, numLoops)
	for i := range pl.shards {
		shard := &completionShard{srv: s, byID: make(map[int]uint32)}
		shard.p = poller.NewCompletionPoller(shard)
		pl.shards[i] = shard
	}

	return port, nil
}

func (pl *platformOther) run() {
	for _, shard := range pl.shards {
		pl.acceptWG.Add(1)
		go func(sh *completionShard) {
			defer pl.acceptWG.Done()
			sh.p.Run()
		}(shard)
	}
	pl.acceptLoop()
	pl.acceptWG.Wait()
}

func (pl *platformOther) acceptLoop() {
	for {
		c, err := pl.listener.Accept()
		if err != nil {
			select {
			case <-pl.stopCh:
				return
			default:
			}
			continue
		}

		peer := c.RemoteAddr().String()
		shardIdx := pl.srv.opts.balancer.Pick(peer, len(pl.shards))
		shard := pl.shards[shardIdx]
		id := int(atomic.AddInt32(&pl.nextID, 1))

		recv := buffer.NewSliceBuffer()
		send := buffer.NewSliceBuffer()

		conn, ok := pl.srv.acceptConnection(func(cid connid.ID) *Connection {
			cn := newConnection(cid, c, id, peer, pl.srv.currentProtocol(), pl.srv.onDataReceived)
			cn.recv = recv
			cn.send = send
			cn.notifySend = func() { shard.p.ModReadWrite(id) }
			return cn
		})
		if !ok {
			c.Close()
			continue
		}

		shard.mu.Lock()
		shard.byID[id] = conn.ID().Index()
		shard.mu.Unlock()

		shard.p.Register(id, c, recv, send, &conn.sendMu, false)
	}
}

func (pl *platformOther) stop() {
	pl.stopOnce.Do(func() { close(pl.stopCh) })
	pl.listener.Close()

	for _, shard := range pl.shards {
		shard.mu.Lock()
		indices := make([]uint32, 0, len(shard.byID))
		for _, idx := range shard.byID {
			indices = append(indices, idx)
		}
		shard.mu.Unlock()

		for _, idx := range indices {
			if c := pl.srv.table.get(idx); c != nil {
				pl.srv.closeConnection(c, false)
			}
		}
		shard.p.Close()
	}
}

func (sh *completionShard) lookup(id int) (uint32, bool) {
	sh.mu.Lock()
	defer sh.mu.Unlock()
	idx, ok := sh.byID[id]
	return idx, ok
}

func (sh *completionShard) forget(id int) {
	sh.mu.Lock()
	delete(sh.byID, id)
	sh.mu.Unlock()
}

func (sh *completionShard) OnRecvEvent(id int) {
	idx, ok := sh.lookup(id)
	if !ok {
		return
	}
	conn := sh.srv.table.get(idx)
	if conn == nil {
		return
	}
	if !conn.DoRecvEvent() {
		sh.teardown(id, conn)
		return
	}
	sh.srv.onEventSuccess(idx)
}

func (sh *completionShard) OnSendEvent(id int) {
	idx, ok := sh.lookup(id)
	if !ok {
		return
	}
	conn := sh.srv.table.get(idx)
	if conn == nil {
		return
	}
	sh.srv.onEventSuccess(idx)
}

func (sh *completionShard) OnErrorEvent(id int) {
	idx, ok := sh.lookup(id)
	if !ok {
		return
	}
	conn := sh.srv.table.get(idx)
	if conn == nil {
		return
	}
	sh.teardown(id, conn)
}

func (sh *completionShard) OnCheckingEvent() {
	sh.srv.onCheckingTick(time.Now().Unix())
}

func (sh *completionShard) teardown(id int, conn *Connection) {
	sh.p.Remove(id)
	sh.forget(id)
	sh.srv.closeConnection(conn, true)
}
