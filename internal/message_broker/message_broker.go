package message_broker

import "context"

// Delivery is one consumed message. The consumer acknowledges it only after
// the message has been durably handled; Nack with requeue hands it back.
type Delivery struct {
	Body []byte
	Ack  func() error
	Nack func(requeue bool) error
}

type MessageBroker interface {
	Publish(ctx context.Context, message []byte) error
	Consume(ctx context.Context) (<-chan Delivery, error)
	Close() error
}
