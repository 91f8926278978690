package server

import (
	"github.com/JCOutMan/raptor/connid"
	"github.com/JCOutMan/raptor/loadbalance"
	"github.com/JCOutMan/raptor/protocol"
)

// Service is the user-supplied callback surface a Server drives from
// its single message-queue thread. Implementations must not block: a
// slow Service stalls delivery for every connection, since all
// callbacks share one dispatch goroutine by design.
type Service interface {
	OnConnected(cid connid.ID)
	OnMessageReceived(cid connid.ID, data []byte)
	OnClosed(cid connid.ID)
}

// Options configures a Server via a functional-option chain.
type Options struct {
	maxConnections    int
	connectionTimeout int // seconds
	reservedCapacity  int
	numLoops          int
	proto             protocol.Protocol
	service           Service
	balancer          loadbalance.Balancer
}

type Option func(*Options)

func defaultOptions() *Options {
	return &Options{
		maxConnections:    10000,
		connectionTimeout: 60,
		reservedCapacity:  100,
		numLoops:          1,
		balancer:          loadbalance.NewRoundRobin(),
	}
}

func WithMaxConnections(n int) Option {
	return func(o *Options) { o.maxConnections = n }
}

func WithConnectionTimeout(seconds int) Option {
	return func(o *Options) { o.connectionTimeout = seconds }
}

func WithReservedCapacity(n int) Option {
	return func(o *Options) { o.reservedCapacity = n }
}

// WithNumLoops sets the number of readiness-poller shards.
func WithNumLoops(n int) Option {
	return func(o *Options) { o.numLoops = n }
}

func WithProtocol(p protocol.Protocol) Option {
	return func(o *Options) { o.proto = p }
}

func WithService(s Service) Option {
	return func(o *Options) { o.service = s }
}

func WithBalancer(b loadbalance.Balancer) Option {
	return func(o *Options) { o.balancer = b }
}
