package domain

import "context"

// Replier delivers replies back to the sender through the messaging gateway.
type Replier interface {
	Send(ctx context.Context, msg OutboundMessage) error
	SendTypingIndicator(ctx context.Context, number string) error
}

// MediaStore saves media attached to inbound messages.
type MediaStore interface {
	Save(ctx context.Context, url string) (string, error)
}

// MessageBus queues inbound messages between the webhook endpoint and the relay.
type MessageBus interface {
	Publish(msg InboundMessage) bool
	Subscribe() <-chan InboundMessage
	Close()
}
