// Package messagequeue buffers EventSub notifications between the websocket
// reader and the consumers that act on them.
package messagequeue

import (
	"context"
	"fmt"
	"sync"

	"github.com/Soypete/clackbot/logging"
	"github.com/Soypete/clackbot/metrics"
	"github.com/Soypete/clackbot/twitch/eventsub"
)

// DefaultQueueSize is the number of notifications held before Publish blocks.
const DefaultQueueSize = 100

// Consumer is an interface for consuming notifications from the queue
type Consumer interface {
	ProcessNotification(ctx context.Context, n eventsub.Notification)
	Name() string
}

// Broker distributes notifications to every subscribed consumer
type Broker struct {
	consumers []Consumer
	queue     chan eventsub.Notification
	logger    *logging.Logger
	mu        sync.RWMutex
}

// NewBroker creates a new notification broker
func NewBroker(queueSize int, logger *logging.Logger) *Broker {
	if logger == nil {
		logger = logging.Default()
	}
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}

	return &Broker{
		consumers: make([]Consumer, 0),
		queue:     make(chan eventsub.Notification, queueSize),
		logger:    logger.WithComponent("broker"),
	}
}

// Subscribe adds a consumer to receive notifications
func (b *Broker) Subscribe(consumer Consumer) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consumers = append(b.consumers, consumer)
	b.logger.Info("consumer subscribed to notification broker", "consumer", consumer.Name())
}

// Publish enqueues n. When the queue is full it waits for room rather than
// dropping the notification, giving up only when ctx is done.
func (b *Broker) Publish(ctx context.Context, n eventsub.Notification) error {
	select {
	case b.queue <- n:
		metrics.BrokerQueueDepth.Set(float64(len(b.queue)))
		return nil
	default:
	}

	b.logger.Warn("notification queue full, waiting for consumers", "size", cap(b.queue))
	select {
	case b.queue <- n:
		metrics.BrokerQueueDepth.Set(float64(len(b.queue)))
		return nil
	case <-ctx.Done():
		return fmt.Errorf("notification not queued: %w", ctx.Err())
	}
}

// Start begins processing notifications and distributing to consumers
func (b *Broker) Start(ctx context.Context, wg *sync.WaitGroup) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		b.mu.RLock()
		b.logger.Info("notification broker started", "consumers", len(b.consumers))
		b.mu.RUnlock()

		for {
			select {
			case <-ctx.Done():
				b.logger.Info("notification broker shutting down", "pending", len(b.queue))
				return
			case n := <-b.queue:
				metrics.BrokerQueueDepth.Set(float64(len(b.queue)))
				b.fanout(ctx, n)
			}
		}
	}()
}

// fanout distributes a notification to all consumers in parallel
func (b *Broker) fanout(ctx context.Context, n eventsub.Notification) {
	b.mu.RLock()
	consumers := b.consumers
	b.mu.RUnlock()

	var wg sync.WaitGroup
	for _, consumer := range consumers {
		wg.Add(1)
		go func(c Consumer) {
			defer wg.Done()
			c.ProcessNotification(ctx, n)
		}(consumer)
	}
	wg.Wait()
}

// QueueLength returns the current queue depth
func (b *Broker) QueueLength() int {
	return len(b.queue)
}
