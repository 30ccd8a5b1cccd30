// Package nats provides a core NATS transport for xbroker.
//
// Destination.Name is the subject (wildcards allowed for subscribers) and
// Destination.Group the queue group. Core NATS has no acknowledgments, so
// Ack, Nack and Reject only settle the delivery locally; redelivery is not
// available on this backend.
package nats
