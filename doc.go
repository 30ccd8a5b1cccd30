// Package xbroker is a declarative framework for message-driven services.
//
// Handlers and publishers are declared on a Router. Routers compose under a
// prefix and are attached to a Bus, which drives one Transport (memory, Redis
// Streams, AMQP, NATS, Kafka) and hands every inbound message to its handler
// wrapped in an Envelope. An App owns the Bus and coordinates startup and
// shutdown hooks against OS signals.
//
//	tr := memory.NewTransport(memory.Defaults())
//	bus, _ := xbroker.NewBusBuilder().WithTransportInstance(tr).Build()
//
//	r, _ := xbroker.NewRouter("orders_")
//	out, _ := r.Publisher(xbroker.Destination{Name: "processed"})
//	_, _ = r.Subscriber(xbroker.Destination{Name: "created"}, out.Wrap(handle))
//	_ = bus.IncludeRouter(r)
//
//	app := xbroker.New(bus)
//	_ = app.Run(ctx)
package xbroker
