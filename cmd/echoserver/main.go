// Command echoserver is a minimal demonstration of package server: it
// listens with the identity length-prefix protocol and echoes every
// message back to its sender.
package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/JCOutMan/raptor/connid"
	"github.com/JCOutMan/raptor/log"
	"github.com/JCOutMan/raptor/protocol/lengthprefix"
	"github.com/JCOutMan/raptor/server"
)

type echoService struct {
	srv *server.Server
}

func (e *echoService) OnConnected(cid connid.ID) {
	log.Info("connected: %v", cid)
}

func (e *echoService) OnMessageReceived(cid connid.ID, data []byte) {
	log.Info("received %d bytes from %v", len(data), cid)
	e.srv.Send(cid, data)
}

func (e *echoService) OnClosed(cid connid.ID) {
	log.Info("closed: %v", cid)
}

func main() {
	addr := flag.String("addr", "127.0.0.1:5000", "listen address")
	numLoops := flag.Int("loops", 2, "number of readiness-poller shards")
	flag.Parse()

	logger := log.NewCommonLogger()
	logger.SetLogLevel(log.LogLevelInfo)
	logger.AddSink(log.NewFileLogSink("echoserver", "./log/", log.RotateByHour))
	logger.Start()
	log.SetLogger(logger)
	defer logger.Stop()

	svc := &echoService{}
	srv := server.New(
		server.WithProtocol(lengthprefix.New()),
		server.WithService(svc),
		server.WithNumLoops(*numLoops),
		server.WithMaxConnections(10000),
		server.WithConnectionTimeout(60),
	)
	svc.srv = srv

	if err := srv.AddListening(*addr); err != nil {
		log.Fatal("AddListening(%s): %v", *addr, err)
		os.Exit(1)
	}
	log.Info("echoserver listening on %s", *addr)

	go func() {
		if err := srv.Start(); err != nil {
			log.Fatal("Start: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info("shutting down")
	srv.Shutdown()
}
