// Package redisstream provides a Redis Streams transport for xbroker.
//
// Transport name: "redis-streams"
//
// Config keys:
//   - addr: "host:port" (default "127.0.0.1:6379")
//   - group: consumer group used when a route names none (default "xbroker")
//   - consumer: consumer name (default "xbroker-<host>-<pid>")
//   - concurrency: handler workers per subscription (default 8; per-route "concurrency" overrides)
//   - batch_size: XREADGROUP COUNT (default 128)
//   - block: XREADGROUP BLOCK duration (default 5s)
//   - auto_create: create group/stream if missing (default true)
//   - start_id: first entry a new group reads, "$" or "0" (default "$")
//   - auto_delete_on_ack: XDEL after XACK (default false)
//   - dead_letter: stream receiving rejected messages (optional)
//   - claim_min_idle / claim_interval / claim_batch: XAUTOCLAIM recovery of stuck entries
//
// Nack leaves the entry pending so the group redelivers it (with claim
// recovery enabled). Reject copies it to the dead-letter stream, when
// configured, and acknowledges it.
//
//	bus, _ := xbroker.NewBusBuilder().
//	    WithTransport(redisstream.TransportName, xbroker.Options{
//	        "addr":        "localhost:6379",
//	        "group":       "payments",
//	        "concurrency": 16,
//	        "block":       "5s",
//	        "dead_letter": "payments-dlq",
//	    }).
//	    Build()
package redisstream
