// Package broker defines the interface for message brokers and provides
// implementations.
package broker

import "context"

// TopicProjectBuildsFinished carries one envelope per completed project
// build, for external consumers such as release dashboards.
const TopicProjectBuildsFinished = "capomastro.projectbuilds.finished"

// Broker abstracts message publishing and consumption.
type Broker interface {
	// Publish sends a message to a topic with an optional key for
	// partitioning.
	Publish(ctx context.Context, topic string, key string, value []byte) error

	// Subscribe returns a channel for consuming messages from a topic.
	// groupID is used for consumer group coordination.
	Subscribe(ctx context.Context, topic string, groupID string) (<-chan Message, error)

	// Close shuts down the broker connection gracefully.
	Close() error
}

// Message represents a consumed message from a broker.
type Message struct {
	Topic     string
	Key       string
	Value     []byte
	Offset    int64
	Partition int32
	Timestamp int64
}
