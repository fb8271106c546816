// Package bus queues inbound messages between the webhook endpoint and the
// relay workers.
package bus

import (
	"log/slog"
	"sync"
	"time"

	"textrelay/internal/domain"
	"textrelay/internal/metrics"
)

const defaultPublishTimeout = 2 * time.Second

// InMemoryBus is a Go-channel based inbound queue.
type InMemoryBus struct {
	inbound        chan domain.InboundMessage
	publishTimeout time.Duration
	mu             sync.RWMutex
	closed         bool
	logger         *slog.Logger
}

// New creates a new InMemoryBus with the given buffer size.
func New(bufferSize int, logger *slog.Logger) *InMemoryBus {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &InMemoryBus{
		inbound:        make(chan domain.InboundMessage, bufferSize),
		publishTimeout: defaultPublishTimeout,
		logger:         logger,
	}
}

// Publish enqueues msg. When the queue is full it waits up to the publish
// timeout, then drops the message and returns false.
func (b *InMemoryBus) Publish(msg domain.InboundMessage) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		b.logger.Warn("attempted to publish to closed bus", "request_id", msg.RequestID)
		return false
	}

	select {
	case b.inbound <- msg:
	default:
		b.logger.Warn("inbound bus full, waiting...", "request_id", msg.RequestID)
		timer := time.NewTimer(b.publishTimeout)
		defer timer.Stop()
		select {
		case b.inbound <- msg:
			b.logger.Info("message queued after wait", "request_id", msg.RequestID)
		case <-timer.C:
			b.logger.Error("message dropped: bus full", "request_id", msg.RequestID, "from", msg.FromNumber)
			return false
		}
	}
	metrics.QueueDepth.Set(float64(len(b.inbound)))
	return true
}

func (b *InMemoryBus) Subscribe() <-chan domain.InboundMessage {
	return b.inbound
}

// Len reports messages waiting in the queue.
func (b *InMemoryBus) Len() int {
	return len(b.inbound)
}

func (b *InMemoryBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.closed {
		b.closed = true
		close(b.inbound)
	}
}
