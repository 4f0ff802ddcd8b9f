package eventlog

import "sync"

const subscriberBuffer = 16

// Broker fans out event entries to in-process subscribers. Delivery is
// best-effort and at-most-once: a subscriber whose buffer is full misses the
// entry, and late subscribers get no replay.
type Broker struct {
	mu   sync.RWMutex
	subs map[chan *Entry]struct{}
}

// NewBroker initializes an empty broker.
func NewBroker() *Broker {
	return &Broker{subs: make(map[chan *Entry]struct{})}
}

// Subscribe registers a new subscriber channel.
func (b *Broker) Subscribe() <-chan *Entry {
	ch := make(chan *Entry, subscriberBuffer)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes and closes a subscriber channel.
func (b *Broker) Unsubscribe(ch <-chan *Entry) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subs {
		if sub == ch {
			delete(b.subs, sub)
			close(sub)
			return
		}
	}
}

// Publish delivers e to every subscriber that has buffer space. It never
// blocks the caller.
func (b *Broker) Publish(e *Entry) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.subs {
		select {
		case sub <- e:
		default:
			// slow subscriber, drop
		}
	}
}

// SubscriberCount returns the number of active subscribers.
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
