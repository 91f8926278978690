//go:build linux

package poller

import (
	"sync"
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

type recordingHandler struct {
	mu      sync.Mutex
	recv    []int
	send    []int
	errs    []int
	checked int
}

func (h *recordingHandler) OnRecvEvent(fd int) {
	h.mu.Lock()
	h.recv = append(h.recv, fd)
	h.mu.Unlock()
}
func (h *recordingHandler) OnSendEvent(fd int) {
	h.mu.Lock()
	h.send = append(h.send, fd)
	h.mu.Unlock()
}
func (h *recordingHandler) OnErrorEvent(fd int) {
	h.mu.Lock()
	h.errs = append(h.errs, fd)
	h.mu.Unlock()
}
func (h *recordingHandler) OnCheckingEvent() {
	h.mu.Lock()
	h.checked++
	h.mu.Unlock()
}

func TestEpollPollerWakeRunsTask(t *testing.T) {
	h := &recordingHandler{}
	p, err := New(h)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	go p.Run()
	defer p.Close()

	done := make(chan struct{})
	p.Wake(func() { close(done) })

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("wake task never ran")
	}
}

func TestEpollPollerDetectsSocketPairActivity(t *testing.T) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	defer unix.Close(fds[1])

	h := &recordingHandler{}
	p, err := New(h)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Close()

	ep := p.(*epollPoller)
	if err := ep.AddRead(fds[0]); err != nil {
		t.Fatalf("AddRead: %v", err)
	}
	go p.Run()

	unix.Write(fds[1], []byte("hello"))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		h.mu.Lock()
		got := len(h.recv) > 0
		h.mu.Unlock()
		if got {
			unix.Close(fds[0])
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	unix.Close(fds[0])
	t.Fatal("OnRecvEvent never fired for socketpair activity")
}
