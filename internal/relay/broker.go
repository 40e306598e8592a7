package relay

import (
	"sync"
	"sync/atomic"
)

const subscriberBufSize = 256

// Message is a single feed message sent via SSE.
type Message struct {
	Kind    string
	Payload string
}

// Broker fans out messages to all subscribed SSE clients.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[int64]chan Message
	nextID      atomic.Int64
	dropped     atomic.Int64
}

func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[int64]chan Message),
	}
}

// Subscribe registers a new client. The channel is buffered; slow consumers
// have messages dropped.
func (b *Broker) Subscribe() (int64, <-chan Message) {
	id := b.nextID.Add(1)
	ch := make(chan Message, subscriberBufSize)
	b.mu.Lock()
	b.subscribers[id] = ch
	b.mu.Unlock()
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Broker) Unsubscribe(id int64) {
	b.mu.Lock()
	ch, ok := b.subscribers[id]
	if ok {
		delete(b.subscribers, id)
		close(ch)
	}
	b.mu.Unlock()
}

// Publish never blocks.
func (b *Broker) Publish(msg Message) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subscribers {
		select {
		case ch <- msg:
		default:
			b.dropped.Add(1)
		}
	}
}

func (b *Broker) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Dropped returns how many messages were discarded for slow subscribers.
func (b *Broker) Dropped() int64 {
	return b.dropped.Load()
}
