// Package broker implements the per-recipient delivery queues that feed live
// READ_MESSAGES streaming subscribers (orig spec.md §4.5). Unlike a
// broadcast event bus, delivery here is targeted: a committed message is
// only enqueued to subscriptions belonging to its recipient.
package broker

import (
	"sync"

	"github.com/cuemby/chatcluster/pkg/types"
)

// queueDepth is the subscriber channel buffer; a subscriber whose queue
// fills past this is disconnected (orig §5 "drop the slowest subscription
// ... default: disconnect subscriber").
const queueDepth = 64

// Subscription is a single open READ_MESSAGES stream. Messages arrive on C
// in commit order; Done is closed by the broker when the subscription is
// torn down due to backpressure, so the stream handler can stop reading.
type Subscription struct {
	recipient string
	C         chan *types.Message
	Done      chan struct{}

	broker *Broker
	once   sync.Once
}

// Close unsubscribes and releases the broker entry. Safe to call more than
// once and safe to call from the stream handler after a Done signal.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.broker.unsubscribe(s)
	})
}

// dropForBackpressure tears the subscription down when its queue is full.
// Both the Done close and the unsubscribe share s.once: two concurrent
// Publish calls can each see the buffer full and race into this branch for
// the same subscription, and only one may ever close(s.Done).
func (s *Subscription) dropForBackpressure() {
	s.once.Do(func() {
		close(s.Done)
		s.broker.unsubscribe(s)
	})
}

// Broker fans committed messages out to each recipient's active
// subscriptions. One entry per user with at least one open stream; entries
// are created lazily and removed once their last subscription closes.
type Broker struct {
	mu    sync.RWMutex
	users map[string]map[*Subscription]struct{}
}

// New creates an empty broker.
func New() *Broker {
	return &Broker{users: make(map[string]map[*Subscription]struct{})}
}

// Subscribe opens a new subscription for recipient. The caller must Close
// it when the stream ends (client cancellation or transport error).
func (b *Broker) Subscribe(recipient string) *Subscription {
	sub := &Subscription{
		recipient: recipient,
		C:         make(chan *types.Message, queueDepth),
		Done:      make(chan struct{}),
		broker:    b,
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	subs, ok := b.users[recipient]
	if !ok {
		subs = make(map[*Subscription]struct{})
		b.users[recipient] = subs
	}
	subs[sub] = struct{}{}

	return sub
}

func (b *Broker) unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.users[sub.recipient]
	if !ok {
		return
	}
	delete(subs, sub)
	if len(subs) == 0 {
		delete(b.users, sub.recipient)
	}
}

// Publish enqueues msg on every open subscription belonging to msg's
// recipient. Called from the Replication Manager's commit path (orig §4.5);
// a subscriber whose buffer is already full is disconnected rather than
// blocking the commit path or dropping silently for later delivery.
func (b *Broker) Publish(msg *types.Message) {
	b.mu.RLock()
	subs := b.users[msg.Recipient]
	targets := make([]*Subscription, 0, len(subs))
	for sub := range subs {
		targets = append(targets, sub)
	}
	b.mu.RUnlock()

	for _, sub := range targets {
		select {
		case sub.C <- msg:
		default:
			sub.dropForBackpressure()
		}
	}
}

// SubscriberCount returns the number of open subscriptions for recipient,
// used by tests.
func (b *Broker) SubscriberCount(recipient string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.users[recipient])
}

// TotalSubscribers returns the number of open subscriptions across every
// recipient, exported to the active_subscriptions gauge.
func (b *Broker) TotalSubscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	total := 0
	for _, subs := range b.users {
		total += len(subs)
	}
	return total
}
