package redisstream

import (
	"github.com/trickstertwo/xbroker"
)

// NewBus builds a Bus on a Redis Streams transport.
func NewBus(cfg Config, opts ...xbroker.BusOption) (*xbroker.Bus, error) {
	tr, err := NewTransport(cfg)
	if err != nil {
		return nil, err
	}
	return xbroker.NewBusBuilder().
		WithTransportInstance(tr).
		Apply(opts...).
		Build()
}

// NewRouter returns a router for this backend.
func NewRouter(prefix string, routes ...xbroker.Route) (*xbroker.Router, error) {
	return xbroker.NewRouter(prefix, xbroker.WithRoutes(routes...))
}
