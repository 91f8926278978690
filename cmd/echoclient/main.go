// Command echoclient dials echoserver, sends one line from stdin per
// newline, and prints whatever comes back, exercising package client
// end to end.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/JCOutMan/raptor/client"
	"github.com/JCOutMan/raptor/log"
	"github.com/JCOutMan/raptor/protocol/lengthprefix"
)

type echoService struct {
	done chan struct{}
}

func (e *echoService) OnConnectResult(success bool) {
	if !success {
		log.Error("connect failed")
		close(e.done)
		return
	}
	log.Info("connected")
}

func (e *echoService) OnMessageReceived(data []byte) {
	fmt.Printf("echo: %s\n", data)
}

func (e *echoService) OnClosed() {
	log.Info("connection closed")
	close(e.done)
}

func main() {
	addr := flag.String("addr", "127.0.0.1:5000", "server address")
	flag.Parse()

	svc := &echoService{done: make(chan struct{})}
	c := client.New(
		client.WithProtocol(lengthprefix.New()),
		client.WithService(svc),
	)
	if err := c.Connect(*addr, 5*time.Second); err != nil {
		log.Fatal("Connect: %v", err)
		os.Exit(1)
	}
	defer c.Close()

	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			c.Send(append([]byte(nil), scanner.Bytes()...))
		}
	}()

	<-svc.done
}
