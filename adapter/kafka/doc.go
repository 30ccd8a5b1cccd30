// Package kafka provides an Apache Kafka transport for xbroker built on
// segmentio/kafka-go.
//
// Destination.Name is the topic and Destination.Group the consumer group
// (default Config.GroupID). Each route runs "concurrency" group members, each
// processing its partitions in order.
//
// Ack and Reject commit the offset. Nack leaves it uncommitted, so the message
// is seen again after a rebalance or restart unless a later message of the
// same partition is committed first.
//
// The "kafka-key" message header, when set, becomes the record key.
package kafka
