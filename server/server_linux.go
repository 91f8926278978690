//go:build linux

package server

import (
	"net"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/JCOutMan/raptor/connid"
	"github.com/JCOutMan/raptor/poller"
)

// platformLinux is the readiness-build accept path: one raw listening
// socket plus opts.numLoops epollPoller shards, connections
// load-balanced across shards by opts.balancer.
type platformLinux struct {
	srv      *Server
	listenFD int
	shards   []*epollShard

	acceptWG sync.WaitGroup
	stopCh   chan struct{}
	stopOnce sync.Once
}

// epollShard pairs one epollPoller with the fd->table-index map its
// Handler methods need, since poller.Handler callbacks carry only a
// bare fd (the table itself is indexed by connid.ID's slot index, not
// by fd).
type epollShard struct {
	srv *Server
	p   poller.Poller

	mu   sync.Mutex
	byFD map[int]uint32
}

func (s *Server) newPlatform() platform {
	pl := &platformLinux{srv: s, stopCh: make(chan struct{})}
	s.platform = pl
	return pl
}

func (pl *platformLinux) listen(s *Server, addr string) (uint16, error) {
	tcpAddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return 0, err
	}

	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return 0, err
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return 0, err
	}

	sa := &unix.SockaddrInet4{Port: tcpAddr.Port}
	if ip4 := tcpAddr.IP.To4(); ip4 != nil {
		copy(sa.Addr[:], ip4)
	}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return 0, err
	}
	if err := unix.Listen(fd, 1024); err != nil {
		unix.Close(fd)
		return 0, err
	}

	port := uint16(sa.Port)
	if port == 0 {
		if bound, err := unix.Getsockname(fd); err == nil {
			if in4, ok := bound.(*unix.SockaddrInet4); ok {
				port = uint16(in4.Port)
			}
		}
	}

	pl.listenFD = fd

	numLoops := s.opts.numLoops
	if numLoops < 1 {
		numLoops = 1
	}
	pl.shards = make([]*epollShard, numLoops)
	for i := range pl.shards {
		shard := &epollShard{srv: s, byFD: make(map[int]uint32)}
		p, err := poller.New(shard)
		if err != nil {
			return 0, err
		}
		shard.p = p
		pl.shards[i] = shard
	}

	return port, nil
}

func (pl *platformLinux) run() {
	for _, shard := range pl.shards {
		pl.acceptWG.Add(1)
		go func(sh *epollShard) {
			defer pl.acceptWG.Done()
			sh.p.Run()
		}(shard)
	}
	pl.acceptLoop()
	pl.acceptWG.Wait()
}

// acceptLoop runs on the goroutine that called run, load-balancing each
// accepted fd across shards via the configured Balancer.
func (pl *platformLinux) acceptLoop() {
	for {
		nfd, sa, err := unix.Accept4(pl.listenFD, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if err != nil {
			select {
			case <-pl.stopCh:
				return
			default:
			}
			if err == unix.EAGAIN || err == unix.EINTR {
				continue
			}
			return
		}

		peer := peerAddrString(sa)
		shardIdx := pl.srv.opts.balancer.Pick(peer, len(pl.shards))
		shard := pl.shards[shardIdx]

		conn, ok := pl.srv.acceptConnection(func(id connid.ID) *Connection {
			c := newConnection(id, nil, nfd, peer, pl.srv.currentProtocol(), pl.srv.onDataReceived)
			c.notifySend = func() { shard.wake(nfd) }
			return c
		})
		if !ok {
			unix.Close(nfd)
			continue
		}

		shard.mu.Lock()
		shard.byFD[nfd] = conn.ID().Index()
		shard.mu.Unlock()

		shard.p.Wake(func() {
			shard.p.AddRead(nfd)
		})
	}
}

func peerAddrString(sa unix.Sockaddr) string {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		ip := net.IP(a.Addr[:])
		return net.JoinHostPort(ip.String(), strconv.Itoa(a.Port))
	case *unix.SockaddrInet6:
		ip := net.IP(a.Addr[:])
		return net.JoinHostPort(ip.String(), strconv.Itoa(a.Port))
	default:
		return "unknown"
	}
}

func (pl *platformLinux) stop() {
	pl.stopOnce.Do(func() { close(pl.stopCh) })
	unix.Close(pl.listenFD)

	for _, shard := range pl.shards {
		shard.mu.Lock()
		indices := make([]uint32, 0, len(shard.byFD))
		for _, idx := range shard.byFD {
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

// wake asks fd's shard to re-check its send interest after new bytes
// were queued: interest widens to EPOLLOUT only once there is
// something to write.
func (sh *epollShard) wake(fd int) {
	sh.p.Wake(func() {
		sh.p.ModReadWrite(fd)
	})
}

func (sh *epollShard) lookup(fd int) (uint32, bool) {
	sh.mu.Lock()
	defer sh.mu.Unlock()
	idx, ok := sh.byFD[fd]
	return idx, ok
}

func (sh *epollShard) forget(fd int) {
	sh.mu.Lock()
	delete(sh.byFD, fd)
	sh.mu.Unlock()
}

// OnRecvEvent implements poller.Handler: read+frame, refresh the
// connection's timeout on success, or tear it down on failure.
func (sh *epollShard) OnRecvEvent(fd int) {
	idx, ok := sh.lookup(fd)
	if !ok {
		return
	}
	conn := sh.srv.table.get(idx)
	if conn == nil {
		return
	}
	if !conn.DoRecvEvent() {
		sh.teardown(fd, conn)
		return
	}
	sh.srv.onEventSuccess(idx)
	if conn.hasPendingSend() {
		sh.p.Wake(func() { sh.p.ModReadWrite(fd) })
	}
}

func (sh *epollShard) OnSendEvent(fd int) {
	idx, ok := sh.lookup(fd)
	if !ok {
		return
	}
	conn := sh.srv.table.get(idx)
	if conn == nil {
		return
	}
	if !conn.DoSendEvent() {
		sh.teardown(fd, conn)
		return
	}
	sh.srv.onEventSuccess(idx)
	if !conn.hasPendingSend() {
		sh.p.Wake(func() { sh.p.ModRead(fd) })
	}
}

func (sh *epollShard) OnErrorEvent(fd int) {
	idx, ok := sh.lookup(fd)
	if !ok {
		return
	}
	conn := sh.srv.table.get(idx)
	if conn == nil {
		return
	}
	sh.teardown(fd, conn)
}

func (sh *epollShard) OnCheckingEvent() {
	sh.srv.onCheckingTick(time.Now().Unix())
}

func (sh *epollShard) teardown(fd int, conn *Connection) {
	sh.p.Remove(fd)
	sh.forget(fd)
	sh.srv.closeConnection(conn, true)
}
