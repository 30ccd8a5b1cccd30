// Package amqp provides an AMQP 0-9-1 (RabbitMQ) transport for xbroker.
//
// A Destination maps onto AMQP as follows: Name is the queue for subscribers
// and the routing key for publishers, Exchange and ExchangeKind select the
// exchange. Subscribers with an Exchange declare it and bind their queue
// with the "routing_key" route option (default: the queue name).
//
// Publishers are keyed by exchange and routing key, so two routers publishing
// to the same routing key on different exchanges do not share a publisher.
//
//	r, _ := amqp.NewRouter("billing.")
//	r.Subscriber(xbroker.Destination{Name: "invoices", Exchange: "events", ExchangeKind: "topic"}, handle,
//		xbroker.Options{"routing_key": "invoice.*"})
//
//	bus, _ := amqp.NewBus(amqp.Defaults(), xbroker.UseRouters(r))
package amqp
