package events

import (
	"sync"
	"time"

	"github.com/nskv/kvsd/pkg/blobref"
)

// Topic names one of the four KVS event kinds.
type Topic string

const (
	TopicSetroot           Topic = "kvs.setroot"
	TopicError             Topic = "kvs.error"
	TopicNamespaceCreated  Topic = "kvs.namespace-created"
	TopicNamespaceRemoved  Topic = "kvs.namespace-removed"
)

// Setroot carries a namespace's new committed root. Followers apply this
// to their local root record; the root manager also uses it to finalize
// the named transactions on their successful-completion path.
type Setroot struct {
	Namespace string
	RootSeq   uint64
	RootRef   blobref.Ref
	Names     []string
	Keys      []string
	Owner     string
}

// Error reports that the named transactions failed with errnum.
type Error struct {
	Namespace string
	Names     []string
	Errnum    error
}

// NamespaceCreated announces a new namespace.
type NamespaceCreated struct {
	Namespace string
	Owner     string
	Flags     uint32
}

// NamespaceRemoved announces that a namespace has begun removal.
type NamespaceRemoved struct {
	Namespace string
}

// Event is one published occurrence. Exactly one of the payload fields is
// non-nil, matching Topic.
type Event struct {
	Topic     Topic
	Timestamp time.Time

	Setroot          *Setroot
	Error            *Error
	NamespaceCreated *NamespaceCreated
	NamespaceRemoved *NamespaceRemoved
}

// Subscriber is a channel that receives events.
type Subscriber chan *Event

// Broker manages event subscriptions and distribution.
type Broker struct {
	subscribers map[Subscriber]bool
	mu          sync.RWMutex
	eventCh     chan *Event
	stopCh      chan struct{}
}

// NewBroker creates a new event broker.
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[Subscriber]bool),
		eventCh:     make(chan *Event, 100),
		stopCh:      make(chan struct{}),
	}
}

// Start begins the broker's event distribution loop.
func (b *Broker) Start() {
	go b.run()
}

// Stop stops the broker.
func (b *Broker) Stop() {
	close(b.stopCh)
}

// Subscribe creates a new subscription and returns a channel.
func (b *Broker) Subscribe() Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(Subscriber, 50)
	b.subscribers[sub] = true
	return sub
}

// Unsubscribe removes a subscription.
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subscribers[sub]; !ok {
		return
	}
	delete(b.subscribers, sub)
	close(sub)
}

// PublishSetroot publishes a setroot event.
func (b *Broker) PublishSetroot(s Setroot) {
	b.publish(&Event{Topic: TopicSetroot, Setroot: &s})
}

// PublishError publishes an error event.
func (b *Broker) PublishError(e Error) {
	b.publish(&Event{Topic: TopicError, Error: &e})
}

// PublishNamespaceCreated publishes a namespace-created event.
func (b *Broker) PublishNamespaceCreated(n NamespaceCreated) {
	b.publish(&Event{Topic: TopicNamespaceCreated, NamespaceCreated: &n})
}

// PublishNamespaceRemoved publishes a namespace-removed event.
func (b *Broker) PublishNamespaceRemoved(n NamespaceRemoved) {
	b.publish(&Event{Topic: TopicNamespaceRemoved, NamespaceRemoved: &n})
}

func (b *Broker) publish(event *Event) {
	event.Timestamp = time.Now()
	select {
	case b.eventCh <- event:
	case <-b.stopCh:
	}
}

func (b *Broker) run() {
	for {
		select {
		case event := <-b.eventCh:
			b.broadcast(event)
		case <-b.stopCh:
			return
		}
	}
}

func (b *Broker) broadcast(event *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers {
		select {
		case sub <- event:
		default:
		}
	}
}
