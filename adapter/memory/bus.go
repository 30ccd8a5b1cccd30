package memory

import (
	"github.com/trickstertwo/xbroker"
)

// NewBus builds a Bus on a fresh in-memory transport.
//
//	bus, err := memory.NewBus(memory.Config{BufferSize: 4096, Concurrency: 8, AssignIDs: true},
//	    xbroker.UseLogger(logger),
//	    xbroker.UseRouters(orders),
//	)
func NewBus(cfg Config, opts ...xbroker.BusOption) (*xbroker.Bus, error) {
	return xbroker.NewBusBuilder().
		WithTransportInstance(NewTransport(cfg)).
		Apply(opts...).
		Build()
}

// NewRouter returns a router for this backend.
func NewRouter(prefix string, routes ...xbroker.Route) (*xbroker.Router, error) {
	return xbroker.NewRouter(prefix, xbroker.WithDialect(xbroker.DefaultDialect), xbroker.WithRoutes(routes...))
}
