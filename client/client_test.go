package client

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/JCOutMan/raptor/protocol/lengthprefix"
)

type recordingService struct {
	mu         sync.Mutex
	results    []bool
	messages   [][]byte
	closedHits int
	gotResult  chan struct{}
	once       sync.Once
}

func newRecordingService() *recordingService {
	return &recordingService{gotResult: make(chan struct{})}
}

func (s *recordingService) OnConnectResult(success bool) {
	s.mu.Lock()
	s.results = append(s.results, success)
	s.mu.Unlock()
	s.once.Do(func() { close(s.gotResult) })
}

func (s *recordingService) OnMessageReceived(data []byte) {
	s.mu.Lock()
	s.messages = append(s.messages, append([]byte(nil), data...))
	s.mu.Unlock()
}

func (s *recordingService) OnClosed() {
	s.mu.Lock()
	s.closedHits++
	s.mu.Unlock()
}

func (s *recordingService) messageCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

func (s *recordingService) closedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closedHits
}

func (s *recordingService) lastResult() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.results[len(s.results)-1]
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

// echoServer accepts one connection and echoes back whatever it reads,
// standing in for a peer the Client talks to.
func echoServer(t *testing.T) (addr string, stop func()) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		buf := make([]byte, 4096)
		for {
			n, err := conn.Read(buf)
			if n > 0 {
				conn.Write(buf[:n])
			}
			if err != nil {
				conn.Close()
				return
			}
		}
	}()
	return ln.Addr().String(), func() { ln.Close() }
}

func TestClientConnectAndEchoRoundTrip(t *testing.T) {
	addr, stop := echoServer(t)
	defer stop()

	proto := lengthprefix.New()
	svc := newRecordingService()
	c := New(WithProtocol(proto), WithService(svc))

	if err := c.Connect(addr, time.Second); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Close()

	<-svc.gotResult
	if !svc.lastResult() {
		t.Fatalf("expected OnConnectResult(true)")
	}

	if !c.Send([]byte("ping")) {
		t.Fatalf("Send should succeed once connected")
	}

	waitFor(t, time.Second, func() bool { return svc.messageCount() == 1 })
	svc.mu.Lock()
	got := string(svc.messages[0])
	svc.mu.Unlock()
	if got != "ping" {
		t.Fatalf("received %q, want %q", got, "ping")
	}
}

func TestClientConnectFailureReportsFalse(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close() // nothing listening now

	svc := newRecordingService()
	c := New(WithProtocol(lengthprefix.New()), WithService(svc))
	if err := c.Connect(addr, time.Second); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	<-svc.gotResult
	if svc.lastResult() {
		t.Fatalf("expected OnConnectResult(false) for a refused connect")
	}
}

func TestClientSendBeforeConnectFails(t *testing.T) {
	c := New(WithProtocol(lengthprefix.New()))
	if c.Send([]byte("x")) {
		t.Fatalf("Send should fail before Connect")
	}
}

func TestClientRequiresProtocol(t *testing.T) {
	c := New()
	if err := c.Connect("127.0.0.1:0", time.Second); err == nil {
		t.Fatalf("Connect should fail without a configured Protocol")
	}
}

func TestClientNotifiedOnPeerClose(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		time.Sleep(20 * time.Millisecond)
		conn.Close()
	}()

	svc := newRecordingService()
	c := New(WithProtocol(lengthprefix.New()), WithService(svc))
	if err := c.Connect(ln.Addr().String(), time.Second); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Close()

	<-svc.gotResult
	waitFor(t, 2*time.Second, func() bool { return svc.closedCount() == 1 })
}
