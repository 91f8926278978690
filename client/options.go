package client

import (
	"github.com/JCOutMan/raptor/protocol"
)

// Service is the user callback surface for a Client. Implementations
// must not block: callbacks run on the client's own I/O goroutines,
// except that Close invokes OnClosed on the goroutine calling it.
type Service interface {
	OnConnectResult(success bool)
	OnMessageReceived(data []byte)
	OnClosed()
}

// Options configures a Client, mirroring server.Options' functional-
// option shape.
type Options struct {
	proto   protocol.Protocol
	service Service
}

type Option func(*Options)

func defaultOptions() *Options {
	return &Options{}
}

func WithProtocol(p protocol.Protocol) Option {
	return func(o *Options) { o.proto = p }
}

func WithService(s Service) Option {
	return func(o *Options) { o.service = s }
}
