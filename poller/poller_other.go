//go:build !linux

package poller

import (
	"errors"
	"net"
	"os"
	"sync"
	"time"

	"github.com/JCOutMan/raptor/buffer"
	"github.com/JCOutMan/raptor/internal/taskqueue"
)

// registration is one connection's completion-style state: the read
// goroutine owns recv exclusively (no lock needed, matching the
// readiness build's "recv buffer touched only by the poller"
// invariant); the write goroutine takes sendMu before touching send,
// since producers (Send callers) append to it from arbitrary
// goroutines, exactly as buffer.SliceBuffer's doc comment requires.
type registration struct {
	id     int
	conn   net.Conn
	recv   *buffer.SliceBuffer
	sendMu *sync.Mutex
	send   *buffer.SliceBuffer

	writeOn atomicBool
	stopCh  chan struct{}
	once    sync.Once
}

type atomicBool struct {
	mu sync.RWMutex
	v  bool
}

func (a *atomicBool) set(v bool) { a.mu.Lock(); a.v = v; a.mu.Unlock() }
func (a *atomicBool) get() bool  { a.mu.RLock(); defer a.mu.RUnlock(); return a.v }

// CompletionPoller emulates a completion port over plain net.Conn: a
// read goroutine and a write goroutine per registered connection, each
// polling its half of the socket with a short deadline. Unlike the
// readiness build, this poller performs the actual Read/Write itself (a
// blocking net.Conn offers no "readable" signal short of reading),
// appending straight into the connection's SliceBuffers before
// notifying Handler — the handler still does its
// own framing off those buffers exactly as the epoll build's handler
// does, so Handler's shape (no bytes in the callback signature) stays
// identical across both platform builds.
type CompletionPoller struct {
	handler Handler

	mu    sync.Mutex
	byID  map[int]*registration
	tasks *taskqueue.Queue

	closing chan struct{}
	closed  sync.Once
}

func NewCompletionPoller(h Handler) *CompletionPoller {
	return &CompletionPoller{
		handler: h,
		byID:    make(map[int]*registration),
		tasks:   taskqueue.New(),
		closing: make(chan struct{}),
	}
}

// Register starts watching conn, identified to Handler by id (the
// server assigns this; it is opaque to the poller). startWrite mirrors
// the readiness build's AddReadWrite, used while a connect is pending
// or a send is already queued.
func (p *CompletionPoller) Register(id int, conn net.Conn, recv, send *buffer.SliceBuffer, sendMu *sync.Mutex, startWrite bool) {
	r := &registration{id: id, conn: conn, recv: recv, send: send, sendMu: sendMu, stopCh: make(chan struct{})}
	r.writeOn.set(startWrite)

	p.mu.Lock()
	p.byID[id] = r
	p.mu.Unlock()

	go p.readLoop(r)
	go p.writeLoop(r)
}

func (p *CompletionPoller) ModReadWrite(id int) {
	if r := p.lookup(id); r != nil {
		r.writeOn.set(true)
	}
}

func (p *CompletionPoller) ModRead(id int) {
	if r := p.lookup(id); r != nil {
		r.writeOn.set(false)
	}
}

func (p *CompletionPoller) Remove(id int) {
	p.mu.Lock()
	r, ok := p.byID[id]
	delete(p.byID, id)
	p.mu.Unlock()
	if ok {
		r.once.Do(func() { close(r.stopCh) })
	}
}

func (p *CompletionPoller) lookup(id int) *registration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.byID[id]
}

func (p *CompletionPoller) Wake(task func()) bool {
	select {
	case <-p.closing:
		return false
	default:
	}
	p.tasks.PushOnly(task)
	return true
}

func (p *CompletionPoller) readLoop(r *registration) {
	scratch := make([]byte, 64*1024)
	for {
		select {
		case <-r.stopCh:
			return
		default:
		}
		r.conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
		n, err := r.conn.Read(scratch)
		if n > 0 {
			r.recv.Append(append([]byte(nil), scratch[:n]...))
			p.handler.OnRecvEvent(r.id)
		}
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				continue
			}
			p.handler.OnErrorEvent(r.id)
			return
		}
	}
}

func (p *CompletionPoller) writeLoop(r *registration) {
	for {
		select {
		case <-r.stopCh:
			return
		case <-time.After(10 * time.Millisecond):
		}
		if !r.writeOn.get() {
			continue
		}

		r.sendMu.Lock()
		chunk, ok := r.send.Top()
		r.sendMu.Unlock()
		if !ok {
			continue
		}

		r.conn.SetWriteDeadline(time.Now().Add(100 * time.Millisecond))
		n, err := r.conn.Write(chunk)
		if n > 0 {
			r.sendMu.Lock()
			r.send.Advance(n)
			empty := r.send.IsEmpty()
			r.sendMu.Unlock()
			if empty {
				r.writeOn.set(false)
			}
			p.handler.OnSendEvent(r.id)
		}
		if err != nil && !errors.Is(err, os.ErrDeadlineExceeded) {
			p.handler.OnErrorEvent(r.id)
			return
		}
	}
}

// Run ticks OnCheckingEvent and drains Wake-submitted tasks; unlike the
// readiness build there is no single blocking syscall to anchor a loop
// on, so this just alternates a short sleep with task draining.
func (p *CompletionPoller) Run() {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-p.closing:
			return
		case <-ticker.C:
			p.handler.OnCheckingEvent()
		default:
		}
		if t, ok := p.tasks.TryPop(); ok {
			t()
		} else {
			time.Sleep(time.Millisecond)
		}
	}
}

func (p *CompletionPoller) Close() error {
	p.closed.Do(func() { close(p.closing) })
	p.tasks.Close()
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, r := range p.byID {
		r.once.Do(func() { close(r.stopCh) })
		r.conn.Close()
		delete(p.byID, id)
	}
	return nil
}
